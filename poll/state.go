package poll

import (
	"fmt"
	"time"
)

// State is the lifecycle position of a [Poller].
type State uint8

const (
	// StateIdle means no session has been started yet.
	StateIdle State = iota

	// StatePending means an invocation is in flight.
	StatePending

	// StateScheduled means the next invocation is waiting on its timer.
	StateScheduled

	// StateStopped means the session ended. A new Start is required to resume.
	StateStopped
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateScheduled:
		return "scheduled"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Snapshot is a point-in-time view of a [Poller].
//
// Snapshots are delivered to listeners registered with [WithListener] in
// strictly increasing Version order.
type Snapshot struct {
	// Name is the poller name set via [WithName].
	Name string

	// State is the lifecycle state at the time of the snapshot.
	State State

	// Session is the chain id of the current session.
	Session uint64

	// Invocations counts completed invocations in the current session.
	Invocations int

	// Err is the last error, nil after a successful invocation.
	Err error

	// Version increases with every change to the poller.
	Version uint64

	// UpdatedAt is the clock time of the change.
	UpdatedAt time.Time
}
