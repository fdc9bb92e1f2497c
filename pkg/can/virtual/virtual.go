package virtual

import (
	"sync"

	can "github.com/samsamfire/gocanopen-sdo/pkg/can"
	log "github.com/sirupsen/logrus"
)

// In-memory CAN bus, every [Bus] created with the same channel name
// sees the frames sent by the others. Used for testing and simulation.

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
}

const rxQueueSize = 256

type hub struct {
	mu        sync.RWMutex
	endpoints map[*Bus]struct{}
}

var (
	hubsMu sync.Mutex
	hubs   = make(map[string]*hub)
)

func getHub(channel string) *hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	h, ok := hubs[channel]
	if !ok {
		h = &hub{endpoints: make(map[*Bus]struct{})}
		hubs[channel] = h
	}
	return h
}

type Bus struct {
	mu           sync.Mutex
	logger       *log.Entry
	channel      string
	hub          *hub
	receiveOwn   bool
	framehandler can.FrameListener
	rx           chan can.Frame
	done         chan struct{}
	wg           sync.WaitGroup
	running      bool
}

func NewVirtualCanBus(channel string) (can.Bus, error) {
	return &Bus{
		channel: channel,
		logger:  log.WithFields(log.Fields{"service": "[CAN]", "channel": channel}),
	}, nil
}

// Loopback frames sent by this bus to its own subscriber
func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}

// "Connect" to the channel hub
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hub != nil {
		return nil
	}
	b.rx = make(chan can.Frame, rxQueueSize)
	b.done = make(chan struct{})
	b.hub = getHub(b.channel)
	b.hub.mu.Lock()
	b.hub.endpoints[b] = struct{}{}
	b.hub.mu.Unlock()
	if b.framehandler != nil {
		b.startReception()
	}
	return nil
}

// "Disconnect" from the channel hub, pending frames are dropped
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	if b.hub == nil {
		b.mu.Unlock()
		return nil
	}
	b.hub.mu.Lock()
	delete(b.hub.endpoints, b)
	b.hub.mu.Unlock()
	b.hub = nil
	close(b.done)
	b.running = false
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame can.Frame) error {
	b.mu.Lock()
	h := b.hub
	receiveOwn := b.receiveOwn
	b.mu.Unlock()
	if h == nil {
		return can.ErrNotConnected
	}
	// Snapshot endpoints to avoid holding the hub lock while delivering
	h.mu.RLock()
	targets := make([]*Bus, 0, len(h.endpoints))
	for ep := range h.endpoints {
		if ep != b || receiveOwn {
			targets = append(targets, ep)
		}
	}
	h.mu.RUnlock()

	var err error
	for _, t := range targets {
		if !t.deliver(frame) {
			err = can.ErrTxBusy
		}
	}
	return err
}

func (b *Bus) deliver(frame can.Frame) bool {
	select {
	case b.rx <- frame:
		return true
	case <-b.done:
		return true
	default:
		b.logger.Warnf("rx queue full, dropping frame x%x", frame.ID)
		return false
	}
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	if b.hub != nil {
		b.startReception()
	}
	return nil
}

func (b *Bus) startReception() {
	if b.running {
		return
	}
	b.running = true
	b.wg.Add(1)
	go b.handleReception(b.rx, b.done)
}

func (b *Bus) handleReception(rx <-chan can.Frame, done <-chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case <-done:
			return
		case frame := <-rx:
			b.mu.Lock()
			handler := b.framehandler
			b.mu.Unlock()
			handler.Handle(frame)
		}
	}
}
