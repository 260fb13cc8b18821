package poll

import (
	"errors"
	"log/slog"

	"code.cloudfoundry.org/clock"
)

// options holds optional Poller settings collected during construction.
type options struct {
	name      string
	clock     clock.Clock
	logger    *slog.Logger
	listeners []func(Snapshot)
}

// Option configures a [Poller] during [New].
type Option func(*options) error

// WithName sets the name reported in snapshots and log records.
func WithName(name string) Option {
	return func(o *options) error {
		o.name = name
		return nil
	}
}

// WithClock sets the clock used for scheduling. Defaults to the real clock;
// tests pass a fakeclock.FakeClock.
func WithClock(c clock.Clock) Option {
	return func(o *options) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		o.clock = c
		return nil
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithListener registers a function that receives a [Snapshot] after every
// change. Snapshots arrive one at a time in version order, none skipped, and
// each is passed to the listeners in registration order. Panics are
// recovered and logged.
//
// A listener may call Start, Stop, Refresh or Reconfigure on the Poller it
// observes; the snapshots those calls produce are delivered after the
// current one. A listener must not call Close. Nil listeners are ignored.
func WithListener(fn func(Snapshot)) Option {
	return func(o *options) error {
		if fn == nil {
			return nil
		}
		o.listeners = append(o.listeners, fn)
		return nil
	}
}
