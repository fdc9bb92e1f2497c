package can

import "errors"

var (
	ErrTxBusy       = errors.New("sending rejected because driver is busy. Try again")
	ErrNotConnected = errors.New("bus is not connected")
)
