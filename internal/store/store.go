package store

import "time"

// WatchState is the API representation of one watch.
type WatchState struct {
	Name   string            `json:"name"`
	URL    string            `json:"url"`
	Labels map[string]string `json:"labels"`

	// State is one of idle, pending, scheduled or stopped.
	State string `json:"state"`

	// Loading is the number of invocations in flight.
	Loading int64 `json:"loading"`

	Session     uint64 `json:"session"`
	Invocations int    `json:"invocations"`

	// Error is the last error, or nil when the last outcome succeeded.
	Error *string `json:"error"`

	StatusCode     int       `json:"status_code"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store holds watch states and publishes every update.
//
// Implementations must be safe for concurrent access.
type Store interface {
	// Update replaces the state stored under state.Name and notifies
	// subscribers.
	Update(state WatchState)

	// Get returns the state of the named watch.
	Get(name string) (WatchState, bool)

	// GetAll returns every state sorted by name.
	GetAll() []WatchState

	// Subscribe returns a buffered channel of updates. Callers must
	// Unsubscribe when done.
	Subscribe() <-chan WatchState

	// Unsubscribe removes a subscription and closes its channel. Safe to
	// call more than once.
	Unsubscribe(ch <-chan WatchState)
}
