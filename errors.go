package canopen

import (
	"errors"

	can "github.com/samsamfire/gocanopen-sdo/pkg/can"
)

var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrOutOfMemory     = errors.New("memory allocation failed")
	ErrTimeout         = errors.New("function timeout")
	ErrRxMsgLength     = errors.New("wrong receive message length")
	ErrOdParameters    = errors.New("error in Object Dictionary parameters")
	ErrTxBusy          = can.ErrTxBusy
	ErrBusNotConnected = can.ErrNotConnected
	ErrInvalidState    = errors.New("driver not ready")
)
