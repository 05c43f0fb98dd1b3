package argstream

import (
	"errors"
	"fmt"
)

// ErrAlreadyDrained is returned by Slot.Drain when the slot has already
// been handed to a consumer. A slot may be drained at most once.
var ErrAlreadyDrained = errors.New("arg slot already drained")

// ErrNotReadable is returned by Slot.Drain on a write-side slot, whose read
// side is the outbound mux rather than an application consumer.
var ErrNotReadable = errors.New("arg slot is not readable")

// ErrorKind classifies protocol errors raised by the stream pair.
type ErrorKind int

const (
	// ErrorArityExceeded indicates an inbound frame claimed more argument
	// boundaries than the three-slot call body allows.
	ErrorArityExceeded ErrorKind = iota
	// ErrorAlreadyFinished indicates a frame or chunk arrived after the
	// pair reported completion. This is a contract violation by the caller.
	ErrorAlreadyFinished
	// ErrorChunkOutOfOrder indicates data arrived for an argument index
	// that was already closed out and flushed.
	ErrorChunkOutOfOrder
	// ErrorSlotFailed indicates an underlying slot-level failure injected
	// via Slot.Fail.
	ErrorSlotFailed
)

// StreamError represents a protocol error on one call's argument streams.
// All stream errors are terminal for the pair: once one fires, the pair
// must be discarded by the caller.
type StreamError struct {
	Kind ErrorKind
	Msg  string
	// Current and Got are set for ErrorChunkOutOfOrder: Current is the
	// argument index being assembled, Got the index the data arrived for.
	Current int
	Got     int
	Err     error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// IsContractViolation returns true if the error indicates caller misuse
// (pushing into a finished pair) rather than a recoverable wire condition.
func (e *StreamError) IsContractViolation() bool {
	return e.Kind == ErrorAlreadyFinished
}

// AsStreamError returns the *StreamError in err's chain, if any.
func AsStreamError(err error) (*StreamError, bool) {
	var se *StreamError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func errArityExceeded() *StreamError {
	return &StreamError{
		Kind: ErrorArityExceeded,
		Msg:  fmt.Sprintf("frame claims more than %d argument boundaries", NumArgs),
	}
}

func errAlreadyFinished(op string) *StreamError {
	return &StreamError{
		Kind: ErrorAlreadyFinished,
		Msg:  fmt.Sprintf("%s after argument streams finished", op),
	}
}

func errChunkOutOfOrder(current, got int) *StreamError {
	return &StreamError{
		Kind:    ErrorChunkOutOfOrder,
		Msg:     fmt.Sprintf("out of order arg chunk: currently at arg%d, got data for arg%d", current, got),
		Current: current,
		Got:     got,
	}
}

func errSlotFailed(n int, err error) *StreamError {
	return &StreamError{
		Kind: ErrorSlotFailed,
		Msg:  fmt.Sprintf("arg%d stream failed", n),
		Err:  err,
	}
}
