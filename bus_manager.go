package canopen

import (
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go"
	can "github.com/samsamfire/gocanopen-sdo/pkg/can"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultSendAttempts = 3
	DefaultSendDelay    = 1 * time.Millisecond
)

// Bus manager is a wrapper around the CAN bus interface
// Used by the CANopen stack to control errors, callbacks for specific IDs, etc.
type BusManager struct {
	mu             sync.Mutex
	logger         *log.Entry
	bus            can.Bus // Bus interface that can be adapted
	frameListeners map[uint32][]can.FrameListener
	sendAttempts   uint
	sendDelay      time.Duration
	txErrors       uint32
}

// Implements the FrameListener interface
// This handles all received CAN frames from Bus
func (bm *BusManager) Handle(frame can.Frame) {
	bm.mu.Lock()
	listeners := make([]can.FrameListener, len(bm.frameListeners[frame.ID]))
	copy(listeners, bm.frameListeners[frame.ID])
	bm.mu.Unlock()
	// Listeners may (un)subscribe from inside Handle
	for _, listener := range listeners {
		listener.Handle(frame)
	}
}

func (bm *BusManager) Bus() can.Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

// Configure the retry policy used when the driver reports [ErrTxBusy]
func (bm *BusManager) SetSendRetry(attempts uint, delay time.Duration) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if attempts == 0 {
		attempts = 1
	}
	bm.sendAttempts = attempts
	bm.sendDelay = delay
}

// Send a CAN message
// Sending is retried while the driver is busy
func (bm *BusManager) Send(frame can.Frame) error {
	bm.mu.Lock()
	bus := bm.bus
	attempts := bm.sendAttempts
	delay := bm.sendDelay
	bm.mu.Unlock()
	if bus == nil {
		return ErrBusNotConnected
	}
	err := retry.Do(
		func() error { return bus.Send(frame) },
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrTxBusy) }),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		bm.mu.Lock()
		bm.txErrors++
		bm.mu.Unlock()
		bm.logger.Warnf("failed to send x%x : %v", frame.ID, err)
	}
	return err
}

// Number of frames that could not be sent
func (bm *BusManager) TxErrors() uint32 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.txErrors
}

// Subscribe to a specific CAN ID
func (bm *BusManager) Subscribe(ident uint32, mask uint32, rtr bool, callback can.FrameListener) error {
	if callback == nil {
		return ErrIllegalArgument
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()
	ident = ident & can.CanSffMask
	if rtr {
		ident |= can.CanRtrFlag
	}
	// Iterate over all callbacks and verify that we are not adding the same one twice
	for _, listener := range bm.frameListeners[ident] {
		if listener == callback {
			bm.logger.Warnf("callback for frame id x%x already added", ident)
			return nil
		}
	}
	bm.frameListeners[ident] = append(bm.frameListeners[ident], callback)
	return nil
}

// Unsubscribe a callback from a specific CAN ID
func (bm *BusManager) Unsubscribe(ident uint32, rtr bool, callback can.FrameListener) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	ident = ident & can.CanSffMask
	if rtr {
		ident |= can.CanRtrFlag
	}
	listeners := bm.frameListeners[ident]
	for i, listener := range listeners {
		if listener == callback {
			bm.frameListeners[ident] = append(listeners[:i], listeners[i+1:]...)
			break
		}
	}
	if len(bm.frameListeners[ident]) == 0 {
		delete(bm.frameListeners, ident)
	}
}

func NewBusManager(bus can.Bus) *BusManager {
	bm := &BusManager{
		bus:            bus,
		logger:         log.WithField("service", "[CAN]"),
		frameListeners: make(map[uint32][]can.FrameListener),
		sendAttempts:   DefaultSendAttempts,
		sendDelay:      DefaultSendDelay,
	}
	return bm
}
