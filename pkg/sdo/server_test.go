package sdo

import (
	"errors"
	"sync"
	"testing"
	"time"

	canopen "github.com/samsamfire/gocanopen-sdo"
	can "github.com/samsamfire/gocanopen-sdo/pkg/can"
	"github.com/samsamfire/gocanopen-sdo/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testNodeId = 0x10
	testRxId   = 0x610
	testTxId   = 0x590
)

type recordBus struct {
	mu     sync.Mutex
	sent   []can.Frame
	fail   error
	failOn int // fail once on the n-th send from now
}

func (b *recordBus) Connect(...any) error             { return nil }
func (b *recordBus) Disconnect() error                { return nil }
func (b *recordBus) Subscribe(can.FrameListener) error { return nil }
func (b *recordBus) Send(frame can.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	if b.failOn > 0 {
		b.failOn--
		if b.failOn == 0 {
			return errors.New("send failed")
		}
	}
	b.sent = append(b.sent, frame)
	return nil
}

// Frames sent since last call
func (b *recordBus) take() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	frames := b.sent
	b.sent = nil
	return frames
}

type testServer struct {
	*SDOServer
	bus   *recordBus
	odict *od.ObjectDictionary
}

func newTestServer(t *testing.T, config ServerConfig) *testServer {
	t.Helper()
	odict := od.Default(testNodeId)
	bus := &recordBus{}
	bm := canopen.NewBusManager(bus)
	bm.SetSendRetry(1, 0)
	server, err := NewSDOServer(bm, nil, NewDirectory(odict), odict, testNodeId, odict.Index(od.EntrySDOServerParameter), config)
	require.Nil(t, err)
	return &testServer{SDOServer: server, bus: bus, odict: odict}
}

// Send a request through the bus manager
func (s *testServer) request(data ...byte) {
	frame := can.NewFrame(testRxId, 0, 8)
	copy(frame.Data[:], data)
	s.bm.Handle(frame)
}

// Single response expected to the last request
func (s *testServer) response(t *testing.T) [8]byte {
	t.Helper()
	frames := s.bus.take()
	require.Len(t, frames, 1)
	assert.EqualValues(t, testTxId, frames[0].ID)
	assert.EqualValues(t, 8, frames[0].DLC)
	return frames[0].Data
}

func (s *testServer) noResponse(t *testing.T) {
	t.Helper()
	assert.Empty(t, s.bus.take())
}

func (s *testServer) value(t *testing.T, index uint16, subIndex uint8) []byte {
	t.Helper()
	v, err := s.odict.Index(index).SubIndex(subIndex)
	require.Nil(t, err)
	return v.Bytes()
}

func abortFrame(index uint16, subIndex uint8, code SDOAbortCode) [8]byte {
	var f frameData
	f.encodeAbort(index, subIndex, code)
	return f
}

func TestNewServerDefaultChannel(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	c2s, s2c := s.CobIds()
	assert.EqualValues(t, testRxId, c2s)
	assert.EqualValues(t, testTxId, s2c)
	assert.True(t, s.Valid())
	assert.False(t, s.Busy())
}

func TestNewServerInvalidArguments(t *testing.T) {
	odict := od.Default(testNodeId)
	bm := canopen.NewBusManager(&recordBus{})
	entry := odict.Index(od.EntrySDOServerParameter)
	_, err := NewSDOServer(bm, nil, NewDirectory(odict), odict, 0, entry, DefaultServerConfig())
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
	_, err = NewSDOServer(bm, nil, NewDirectory(odict), odict, 128, entry, DefaultServerConfig())
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
	config := DefaultServerConfig()
	config.MaxSegments = 0
	_, err = NewSDOServer(bm, nil, NewDirectory(odict), odict, testNodeId, entry, config)
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
	_, err = NewSDOServer(bm, nil, NewDirectory(odict), odict, testNodeId, odict.Index(0x2000), DefaultServerConfig())
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
}

func TestIgnoreWrongLength(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	frame := can.NewFrame(testRxId, 0, 4)
	frame.Data = [8]byte{0x40, 0x00, 0x20, 0x00}
	s.bm.Handle(frame)
	s.noResponse(t)
	assert.False(t, s.Busy())
}

func TestUnknownCommand(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	s.request(0xE0, 0x00, 0x20, 0x00)
	assert.Equal(t, abortFrame(0, 0, AbortCmd), s.response(t))

	// Segment without initiate
	s.request(0x00, 1, 2, 3, 4, 5, 6, 7)
	assert.Equal(t, abortFrame(0, 0, AbortCmd), s.response(t))
	assert.EqualValues(t, 2, s.Stats().Aborts)
}

func TestObjectErrors(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	s.request(0x40, 0x00, 0x30, 0x00)
	assert.Equal(t, abortFrame(0x3000, 0, AbortNotExist), s.response(t))
	s.request(0x40, 0x10, 0x20, 0x05)
	assert.Equal(t, abortFrame(0x2010, 5, AbortSubUnknown), s.response(t))
	s.request(0x40, 0x05, 0x20, 0x00)
	assert.Equal(t, abortFrame(0x2005, 0, AbortWriteOnly), s.response(t))
	s.request(0x23, 0x04, 0x20, 0x00, 1, 2, 3, 4)
	assert.Equal(t, abortFrame(0x2004, 0, AbortReadOnly), s.response(t))
	assert.False(t, s.Busy())
}

func TestAbortRequest(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	s.request(0x21, 0x07, 0x20, 0x00, 10, 0, 0, 0)
	s.response(t)
	assert.True(t, s.Busy())

	// Client abort is never answered
	abort := abortFrame(0x2007, 0, AbortGeneral)
	s.request(abort[:]...)
	s.noResponse(t)
	assert.False(t, s.Busy())

	s.request(0x00, 1, 2, 3, 4, 5, 6, 7)
	assert.Equal(t, abortFrame(0, 0, AbortCmd), s.response(t))
}

func TestAbortReqResetsState(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	s.request(0xC6, 0x07, 0x20, 0x00, 10, 0, 0, 0)
	s.response(t)
	s.request(0x01, 1, 2, 3, 4, 5, 6, 7)
	assert.Equal(t, blockDownload, s.blk.state)

	for i := 0; i < 2; i++ {
		s.AbortReq()
		assert.Nil(t, s.object)
		assert.Equal(t, transferNone, s.kind)
		assert.Equal(t, blockIdle, s.blk.state)
		assert.EqualValues(t, lastValidUnknown, s.blk.lastValid)
		assert.Zero(t, s.blk.segCnt)
		assert.Zero(t, s.index)
		assert.Zero(t, s.subIndex)
		assert.Zero(t, s.buf.remaining())
		assert.Empty(t, s.buf.bytes())
	}
	s.noResponse(t)
}

func TestNewInitiateRestartsTransfer(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	s.request(0x21, 0x07, 0x20, 0x00, 10, 0, 0, 0)
	s.response(t)
	s.request(0x40, 0x02, 0x20, 0x00)
	assert.Equal(t, [8]byte{0x43, 0x02, 0x20, 0x00, 0x44, 0x33, 0x22, 0x11}, s.response(t))
	assert.False(t, s.Busy())
}

func TestServerTimeout(t *testing.T) {
	config := DefaultServerConfig()
	config.Timeout = 100 * time.Millisecond
	s := newTestServer(t, config)
	start := time.Now()
	s.now = func() time.Time { return start }

	assert.False(t, s.CheckTimeout(start.Add(time.Second)))
	s.request(0x21, 0x07, 0x20, 0x00, 10, 0, 0, 0)
	s.response(t)
	assert.False(t, s.CheckTimeout(start.Add(50*time.Millisecond)))
	assert.True(t, s.CheckTimeout(start.Add(150*time.Millisecond)))
	assert.Equal(t, abortFrame(0x2007, 0, AbortTimeout), s.response(t))
	assert.False(t, s.Busy())
}

func TestLockTimeout(t *testing.T) {
	config := DefaultServerConfig()
	config.LockTimeout = 10 * time.Millisecond
	s := newTestServer(t, config)
	require.Nil(t, s.odict.Acquire(0))

	s.request(0x2F, 0x00, 0x20, 0x00, 0x42)
	assert.Equal(t, abortFrame(0x2000, 0, AbortDataTransfer), s.response(t))
	assert.EqualValues(t, 1, s.Stats().ObjWriteFail)

	// Read only objects are not locked
	s.request(0x40, 0x04, 0x20, 0x00)
	assert.Equal(t, [8]byte{0x41, 0x04, 0x20, 0x00, 8, 0, 0, 0}, s.response(t))
	s.request(0x60)
	assert.Equal(t, [8]byte{0x00, 0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02}, s.response(t))

	s.odict.Release()
	s.request(0x2F, 0x00, 0x20, 0x00, 0x42)
	assert.Equal(t, [8]byte{0x60, 0x00, 0x20, 0x00}, s.response(t))
	assert.Equal(t, []byte{0x42}, s.value(t, 0x2000, 0))
}

func TestSendFailureDoesNotPanic(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	s.bus.fail = errors.New("bus off")
	s.request(0x40, 0x02, 0x20, 0x00)
	s.noResponse(t)
	assert.EqualValues(t, 1, s.Stats().Transfers)
	assert.EqualValues(t, 1, s.bm.TxErrors())
}

func TestAdditionalChannel(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	entry := s.odict.Index(0x1201)
	second, err := NewSDOServer(s.bm, nil, NewDirectory(s.odict), s.odict, testNodeId, entry, DefaultServerConfig())
	require.Nil(t, err)
	assert.False(t, second.Valid())

	// Configure the second channel through the first one
	s.request(0x23, 0x01, 0x12, 0x02, 0xA0, 0x06, 0x00, 0x00)
	assert.Equal(t, [8]byte{0x60, 0x01, 0x12, 0x02}, s.response(t))
	assert.False(t, second.Valid())
	s.request(0x23, 0x01, 0x12, 0x01, 0x90, 0x06, 0x00, 0x00)
	assert.Equal(t, [8]byte{0x60, 0x01, 0x12, 0x01}, s.response(t))
	assert.True(t, second.Valid())
	c2s, s2c := second.CobIds()
	assert.EqualValues(t, 0x690, c2s)
	assert.EqualValues(t, 0x6A0, s2c)

	frame := can.NewFrame(0x690, 0, 8)
	frame.Data = [8]byte{0x40, 0x00, 0x20, 0x00}
	s.bm.Handle(frame)
	frames := s.bus.take()
	require.Len(t, frames, 1)
	assert.EqualValues(t, 0x6A0, frames[0].ID)
	assert.Equal(t, [8]byte{0x4F, 0x00, 0x20, 0x00, 0x10}, frames[0].Data)

	// Changing a valid COB-ID is refused
	s.request(0x23, 0x01, 0x12, 0x01, 0x91, 0x06, 0x00, 0x00)
	assert.Equal(t, abortFrame(0x1201, 1, AbortDataTransfer), s.response(t))
	// Restricted ids are refused
	s.request(0x23, 0x01, 0x12, 0x02, 0x01, 0x06, 0x00, 0x80)
	assert.Equal(t, [8]byte{0x60, 0x01, 0x12, 0x02}, s.response(t))
	assert.False(t, second.Valid())
	s.request(0x23, 0x01, 0x12, 0x02, 0x81, 0x05, 0x00, 0x00)
	assert.Equal(t, abortFrame(0x1201, 2, AbortDataTransfer), s.response(t))

	second.Close()
	s.bm.Handle(frame)
	assert.Empty(t, s.bus.take())
}
