package ptz

import (
	"errors"
	"fmt"
)

// ErrPositionUnknown is returned when a relative move is requested before
// the current position could be resolved. The move is rejected, never sent
// as an unbounded delta.
var ErrPositionUnknown = errors.New("current position unknown")

var (
	errTimeout    = errors.New("timeout waiting for response")
	errSkipBudget = errors.New("no structured reply within skip budget")
)

// TransportError wraps serial I/O and framing failures. Commands that fail
// with a TransportError may be retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("serial %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a well-formed error reply from the device. It is never
// retried; the device understood the request and refused it.
type ProtocolError struct {
	Opcode  string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("device rejected %s: %s", e.Opcode, e.Message)
}
