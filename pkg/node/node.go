// Package node runs the SDO servers of a local CANopen node.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/maplock"
	canopen "github.com/samsamfire/gocanopen-sdo"
	can "github.com/samsamfire/gocanopen-sdo/pkg/can"
	"github.com/samsamfire/gocanopen-sdo/pkg/config"
	"github.com/samsamfire/gocanopen-sdo/pkg/od"
	"github.com/samsamfire/gocanopen-sdo/pkg/sdo"
	log "github.com/sirupsen/logrus"
)

// Period of the server timeout check
const TimeoutCheckPeriod = 10 * time.Millisecond

// A [LocalNode] answers SDO requests on every server channel
// (0x1200..0x127F) present in its object dictionary.
type LocalNode struct {
	logger      *log.Entry
	bm          *canopen.BusManager
	od          *od.ObjectDictionary
	id          uint8
	lockTimeout time.Duration
	locks       *maplock.Maplock
	channels    []*serverChannel
}

// Frames and timeout checks of one channel never run concurrently
type serverChannel struct {
	key    string
	locks  *maplock.Maplock
	server *sdo.SDOServer
}

func (c *serverChannel) Handle(frame can.Frame) {
	c.locks.Lock(c.key)
	defer c.locks.Unlock(c.key)
	c.server.Handle(frame)
}

func (c *serverChannel) checkTimeout(now time.Time) bool {
	c.locks.Lock(c.key)
	defer c.locks.Unlock(c.key)
	return c.server.CheckTimeout(now)
}

// Create a new local node with one SDO server per server parameter entry
func New(bm *canopen.BusManager, odict *od.ObjectDictionary, cfg *config.Config) (*LocalNode, error) {
	if bm == nil || odict == nil || cfg == nil {
		return nil, canopen.ErrIllegalArgument
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	node := &LocalNode{
		logger:      log.WithFields(log.Fields{"service": "[NODE]", "id": cfg.NodeId}),
		bm:          bm,
		od:          odict,
		id:          uint8(cfg.NodeId),
		lockTimeout: cfg.LockTimeout(),
		locks:       maplock.New(),
	}
	bm.SetSendRetry(uint(cfg.Bus.SendAttempts), cfg.SendDelay())

	serverConfig := cfg.ServerConfig()
	directory := sdo.NewDirectory(odict)
	for _, index := range odict.Indexes() {
		if index < od.EntrySDOServerParameter || index > od.EntrySDOServerParameterLast {
			continue
		}
		entry := odict.Index(index)
		server, err := sdo.NewSDOServer(bm, node.logger, directory, odict, node.id, entry, serverConfig)
		if err != nil {
			node.Close()
			return nil, fmt.Errorf("sdo server x%x: %w", index, err)
		}
		channel := &serverChannel{key: fmt.Sprintf("x%x", index), locks: node.locks, server: server}
		if err := server.SetRxListener(channel); err != nil {
			server.Close()
			node.Close()
			return nil, fmt.Errorf("sdo server x%x: %w", index, err)
		}
		node.channels = append(node.channels, channel)
		node.logger.Infof("sdo server x%x enabled : %v", index, server.Valid())
	}
	if len(node.channels) == 0 {
		return nil, fmt.Errorf("no sdo server parameter entry in object dictionary")
	}
	return node, nil
}

func (node *LocalNode) ID() uint8 {
	return node.id
}

func (node *LocalNode) OD() *od.ObjectDictionary {
	return node.od
}

func (node *LocalNode) Servers() []*sdo.SDOServer {
	servers := make([]*sdo.SDOServer, 0, len(node.channels))
	for _, channel := range node.channels {
		servers = append(servers, channel.server)
	}
	return servers
}

// Run checks server timeouts until ctx is cancelled
func (node *LocalNode) Run(ctx context.Context) error {
	ticker := time.NewTicker(TimeoutCheckPeriod)
	defer ticker.Stop()
	node.logger.Info("starting node main process")
	for {
		select {
		case <-ctx.Done():
			node.logger.Info("exited node main process")
			return nil
		case now := <-ticker.C:
			for _, channel := range node.channels {
				if channel.checkTimeout(now) {
					node.logger.Warnf("sdo server %v timed out", channel.key)
				}
			}
		}
	}
}

// Close unsubscribes every server from the bus
func (node *LocalNode) Close() {
	for _, channel := range node.channels {
		channel.server.Close()
	}
}

// ReadBytes reads a value from the application side, under the
// dictionary lock shared with the SDO servers
func (node *LocalNode) ReadBytes(index uint16, subIndex uint8) ([]byte, error) {
	access, err := node.od.Access(index, subIndex)
	if err != nil {
		return nil, err
	}
	if err := node.od.Acquire(node.lockTimeout); err != nil {
		return nil, err
	}
	defer node.od.Release()
	defer access.Close()

	size, err := access.Size(0)
	if err != nil {
		return nil, err
	}
	if err := access.StartRead(size); err != nil {
		return nil, err
	}
	data := make([]byte, size)
	read := 0
	for read < len(data) {
		n, err := access.ContinueRead(data[read:])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		read += n
	}
	return data[:read], nil
}

// WriteBytes writes a value from the application side
func (node *LocalNode) WriteBytes(index uint16, subIndex uint8, data []byte) error {
	if len(data) == 0 {
		return canopen.ErrIllegalArgument
	}
	access, err := node.od.Access(index, subIndex)
	if err != nil {
		return err
	}
	size, err := access.Size(uint32(len(data)))
	if err != nil {
		return err
	}
	if err := node.od.Acquire(node.lockTimeout); err != nil {
		return err
	}
	defer node.od.Release()
	defer access.Close()

	if err := access.StartWrite(size); err != nil {
		return err
	}
	return access.FinishWrite(data)
}
