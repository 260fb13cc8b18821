package pollwatch

import (
	"errors"
	"log/slog"
	"time"

	"code.cloudfoundry.org/clock"
)

// pwConfig holds mutable state during PollWatch construction.
type pwConfig struct {
	title           string
	watches         []Watch
	pollingInterval time.Duration
	port            int
	logger          *slog.Logger
	stateCallbacks  []func(WatchState)
	clock           clock.Clock
}

// Option configures a [PollWatch] during [New].
//
// Built-in options: [WithWatch], [WithWatches], [WithPollingInterval],
// [WithPort], [WithLogger], [WithStateCallback], [WithTitle], [WithClock].
type Option func(*pwConfig) error

// WithWatch adds a single [Watch]. At least one watch is required.
func WithWatch(w Watch) Option {
	return func(cfg *pwConfig) error {
		cfg.watches = append(cfg.watches, w)
		return nil
	}
}

// WithWatches adds several watches at once.
func WithWatches(watches ...Watch) Option {
	return func(cfg *pwConfig) error {
		cfg.watches = append(cfg.watches, watches...)
		return nil
	}
}

// WithPollingInterval sets the delay between invocations for watches
// without their own [WithInterval]. The delay is measured from the end of
// one invocation to the start of the next. Defaults to 15 seconds.
//
// Returns an error if the duration is zero or negative.
func WithPollingInterval(d time.Duration) Option {
	return func(cfg *pwConfig) error {
		if d <= 0 {
			return errors.New("polling interval must be positive")
		}
		cfg.pollingInterval = d
		return nil
	}
}

// WithPort sets the HTTP port for the dashboard and API. Defaults to 8080.
//
// Returns an error if the port is outside 1-65535.
func WithPort(port int) Option {
	return func(cfg *pwConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *pwConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithStateCallback registers a function called with the new [WatchState]
// after every change: invocations starting and finishing, sessions
// starting and ending.
//
// Callbacks run synchronously, in registration order, on a single
// goroutine, after the state has been stored. They must not block. Panics
// are recovered and logged. Nil callbacks are ignored.
//
//	pollwatch.WithStateCallback(func(s pollwatch.WatchState) {
//	    if s.State == poll.StateStopped && s.Err != nil {
//	        alert(s.Name, s.Err)
//	    }
//	})
func WithStateCallback(cb func(WatchState)) Option {
	return func(cfg *pwConfig) error {
		if cb == nil {
			return nil
		}
		cfg.stateCallbacks = append(cfg.stateCallbacks, cb)
		return nil
	}
}

// WithTitle sets the dashboard title. Defaults to "PollWatch".
func WithTitle(title string) Option {
	return func(cfg *pwConfig) error {
		cfg.title = title
		return nil
	}
}

// WithClock sets the clock that schedules polls. Tests pass a
// fakeclock.FakeClock to control time.
//
// Returns an error if the clock is nil.
func WithClock(c clock.Clock) Option {
	return func(cfg *pwConfig) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}
