package node

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	canopen "github.com/samsamfire/gocanopen-sdo"
	can "github.com/samsamfire/gocanopen-sdo/pkg/can"
	"github.com/samsamfire/gocanopen-sdo/pkg/can/virtual"
	"github.com/samsamfire/gocanopen-sdo/pkg/config"
	"github.com/samsamfire/gocanopen-sdo/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameReceiver struct {
	frames chan can.Frame
}

func (r *frameReceiver) Handle(frame can.Frame) {
	r.frames <- frame
}

func (r *frameReceiver) wait(t *testing.T) can.Frame {
	t.Helper()
	select {
	case frame := <-r.frames:
		return frame
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
	}
	return can.Frame{}
}

type testSetup struct {
	node   *LocalNode
	client can.Bus
	rx     *frameReceiver
}

func newTestSetup(t *testing.T, cfg *config.Config) *testSetup {
	t.Helper()
	channel := t.Name()
	nodeBus, err := virtual.NewVirtualCanBus(channel)
	require.Nil(t, err)
	bm := canopen.NewBusManager(nodeBus)
	require.Nil(t, nodeBus.Subscribe(bm))
	require.Nil(t, nodeBus.Connect())

	node, err := New(bm, od.Default(uint8(cfg.NodeId)), cfg)
	require.Nil(t, err)

	client, err := virtual.NewVirtualCanBus(channel)
	require.Nil(t, err)
	rx := &frameReceiver{frames: make(chan can.Frame, 16)}
	require.Nil(t, client.Subscribe(rx))
	require.Nil(t, client.Connect())

	t.Cleanup(func() {
		node.Close()
		client.Disconnect()
		nodeBus.Disconnect()
	})
	return &testSetup{node: node, client: client, rx: rx}
}

func (s *testSetup) request(t *testing.T, data ...byte) can.Frame {
	t.Helper()
	frame := can.NewFrame(0x600+uint32(s.node.ID()), 0, 8)
	copy(frame.Data[:], data)
	require.Nil(t, s.client.Send(frame))
	return s.rx.wait(t)
}

func TestNodeServesUpload(t *testing.T) {
	s := newTestSetup(t, config.Default())
	assert.Len(t, s.node.Servers(), 2)

	resp := s.request(t, 0x40, 0x02, 0x20, 0x00)
	assert.EqualValues(t, 0x580+config.DefaultNodeId, resp.ID)
	assert.Equal(t, [8]byte{0x43, 0x02, 0x20, 0x00, 0x44, 0x33, 0x22, 0x11}, resp.Data)
}

func TestNodeReadWriteBytes(t *testing.T) {
	s := newTestSetup(t, config.Default())
	value := make([]byte, 4)
	binary.LittleEndian.PutUint32(value, 0xCAFEBABE)
	assert.Nil(t, s.node.WriteBytes(0x2002, 0, value))

	resp := s.request(t, 0x40, 0x02, 0x20, 0x00)
	assert.Equal(t, [8]byte{0x43, 0x02, 0x20, 0x00, 0xBE, 0xBA, 0xFE, 0xCA}, resp.Data)

	resp = s.request(t, 0x2B, 0x01, 0x20, 0x00, 0x34, 0x12)
	assert.EqualValues(t, 0x60, resp.Data[0])
	data, err := s.node.ReadBytes(0x2001, 0)
	assert.Nil(t, err)
	assert.Equal(t, []byte{0x34, 0x12}, data)

	assert.Equal(t, od.ErrDataLong, s.node.WriteBytes(0x2000, 0, []byte{1, 2}))
	assert.Equal(t, canopen.ErrIllegalArgument, s.node.WriteBytes(0x2000, 0, nil))
	_, err = s.node.ReadBytes(0x3000, 0)
	assert.Equal(t, od.ErrIdxNotExist, err)
}

func TestNodeLockTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.SDO.LockTimeoutMs = 10
	s := newTestSetup(t, cfg)
	require.Nil(t, s.node.OD().Acquire(0))
	defer s.node.OD().Release()

	assert.ErrorIs(t, s.node.WriteBytes(0x2000, 0, []byte{1}), canopen.ErrTimeout)
	resp := s.request(t, 0x2F, 0x00, 0x20, 0x00, 0x01)
	assert.Equal(t, [8]byte{0x80, 0x00, 0x20, 0x00, 0x20, 0x00, 0x00, 0x08}, resp.Data)
}

func TestNodeServerTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.SDO.ServerTimeoutMs = 50
	s := newTestSetup(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.Nil(t, s.node.Run(ctx))
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	resp := s.request(t, 0x21, 0x07, 0x20, 0x00, 10, 0, 0, 0)
	assert.EqualValues(t, 0x60, resp.Data[0])
	abort := s.rx.wait(t)
	assert.Equal(t, [8]byte{0x80, 0x07, 0x20, 0x00, 0x00, 0x00, 0x04, 0x05}, abort.Data)
	assert.False(t, s.node.Servers()[0].Busy())
}

func TestNewInvalid(t *testing.T) {
	bm := canopen.NewBusManager(nil)
	_, err := New(bm, nil, config.Default())
	assert.Equal(t, canopen.ErrIllegalArgument, err)

	cfg := config.Default()
	cfg.NodeId = 0
	_, err = New(bm, od.Default(1), cfg)
	assert.NotNil(t, err)

	_, err = New(bm, od.NewOD(), config.Default())
	assert.NotNil(t, err)
}
