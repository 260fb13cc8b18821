package pollwatch

import (
	"errors"
	"net/http"
	"time"
)

// watchConfig holds mutable state during watch construction.
type watchConfig struct {
	labels    map[string]string
	headers   map[string]string
	timeout   time.Duration
	method    string
	interval  time.Duration
	condition Condition
}

// WatchOption configures a [Watch] during [NewWatch].
type WatchOption func(*watchConfig) error

// WithLabels adds key/value labels shown in the dashboard. The number of
// arguments must be even.
func WithLabels(keyValues ...string) WatchOption {
	return func(cfg *watchConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithLabels requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.labels[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithHeaders adds request headers, typically for authentication. The
// number of arguments must be even.
//
//	pollwatch.WithHeaders("Authorization", "Bearer "+token)
func WithHeaders(keyValues ...string) WatchOption {
	return func(cfg *watchConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithTimeout sets the per-request timeout. A request that times out is a
// failed invocation. Defaults to 10 seconds.
func WithTimeout(d time.Duration) WatchOption {
	return func(cfg *watchConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithMethod sets the HTTP method: GET (default), HEAD or POST.
func WithMethod(method string) WatchOption {
	return func(cfg *watchConfig) error {
		switch method {
		case http.MethodGet, http.MethodHead, http.MethodPost:
			cfg.method = method
			return nil
		default:
			return errors.New("method must be GET, HEAD, or POST")
		}
	}
}

// WithInterval sets the delay between the end of one invocation and the
// start of the next for this watch, overriding [WithPollingInterval].
//
// The interval must be between 1 second and 1 hour.
func WithInterval(d time.Duration) WatchOption {
	return func(cfg *watchConfig) error {
		if d < time.Second {
			return errors.New("interval must be at least 1 second")
		}
		if d > time.Hour {
			return errors.New("interval must not exceed 1 hour")
		}
		cfg.interval = d
		return nil
	}
}

// WithCondition sets the [Condition] deciding when polling stops. Without
// it the watch uses [DefaultCondition].
func WithCondition(c Condition) WatchOption {
	return func(cfg *watchConfig) error {
		if c == nil {
			return errors.New("condition cannot be nil")
		}
		cfg.condition = c
		return nil
	}
}
