package pollwatch

import (
	"time"

	"github.com/jpalmerr/pollwatch/poll"
)

// WatchState is the observable state of one watch, passed to callbacks
// registered with [WithStateCallback].
type WatchState struct {
	Name   string
	URL    string
	Labels map[string]string

	// State is the lifecycle state of the watch's poller.
	State poll.State

	// Loading is the number of requests in flight, usually 0 or 1.
	Loading int64

	// Session identifies the polling session. Each start or refresh begins
	// a new one.
	Session uint64

	// Invocations counts completed invocations in the current session.
	Invocations int

	// Err is the last error, or nil if the latest outcome succeeded. Non-nil
	// values are *poll.OperationError.
	Err error

	// StatusCode and Latency describe the most recent completed request.
	StatusCode int
	Latency    time.Duration

	UpdatedAt time.Time
}

// Busy reports whether a request is in flight.
func (s WatchState) Busy() bool {
	return s.Loading > 0
}
