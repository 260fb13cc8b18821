package poll

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when starting a Poller after Close.
	ErrClosed = errors.New("poller closed")

	// ErrOperationPanic is wrapped by the OperationError recorded when an
	// operation panics.
	ErrOperationPanic = errors.New("operation panicked")
)

// OperationError records a failure of the polled operation.
//
// It is the only kind of error a Poller stores as its last error. Use
// [errors.Is] or [errors.As] on Err to inspect the underlying failure.
type OperationError struct {
	// Session is the chain id of the session the invocation belonged to.
	Session uint64

	// Invocation is the 1-based index of the failed invocation within its session.
	Invocation int

	// Err is the failure returned (or panicked) by the operation.
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("poll operation failed (session %d, invocation %d): %v", e.Session, e.Invocation, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
