package pollwatch

import (
	"errors"
	"net/url"
	"time"
)

const defaultWatchTimeout = 10 * time.Second

// Watch is an HTTP resource polled until its [Condition] says stop.
//
// Watch is immutable after [NewWatch]; getters return copies of maps.
type Watch struct {
	name      string
	url       string
	labels    map[string]string
	headers   map[string]string
	timeout   time.Duration
	method    string
	interval  time.Duration
	condition Condition
}

// Name returns the watch's unique name.
func (w Watch) Name() string {
	return w.name
}

// URL returns the polled URL.
func (w Watch) URL() string {
	return w.url
}

// Labels returns a copy of the watch's labels, or nil if none are set.
func (w Watch) Labels() map[string]string {
	return copyMap(w.labels)
}

// Headers returns a copy of the request headers, or nil if none are set.
func (w Watch) Headers() map[string]string {
	return copyMap(w.headers)
}

// Timeout returns the per-request timeout. Defaults to 10 seconds.
func (w Watch) Timeout() time.Duration {
	return w.timeout
}

// Method returns the HTTP method, or "" for GET.
func (w Watch) Method() string {
	return w.method
}

// Interval returns the watch's own delay between invocations, or 0 when the
// global interval from [WithPollingInterval] applies.
func (w Watch) Interval() time.Duration {
	return w.interval
}

// Condition returns the watch's condition, or nil when [DefaultCondition]
// applies.
func (w Watch) Condition() Condition {
	return w.condition
}

// NewWatch creates a [Watch]. rawURL must carry an http or https scheme.
//
// Example:
//
//	w, err := pollwatch.NewWatch("Release build", "https://ci.example.com/api/jobs/42",
//	    pollwatch.WithCondition(pollwatch.UntilJSONField("state", "FINISHED", "FAILED")),
//	    pollwatch.WithInterval(5 * time.Second),
//	)
func NewWatch(name, rawURL string, opts ...WatchOption) (Watch, error) {
	if name == "" {
		return Watch{}, errors.New("watch name cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return Watch{}, errors.New("invalid URL: " + err.Error())
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return Watch{}, errors.New("URL must have a scheme (http:// or https://)")
	}

	cfg := &watchConfig{
		labels:  make(map[string]string),
		headers: make(map[string]string),
		timeout: defaultWatchTimeout,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Watch{}, err
		}
	}

	return Watch{
		name:      name,
		url:       rawURL,
		labels:    cfg.labels,
		headers:   cfg.headers,
		timeout:   cfg.timeout,
		method:    cfg.method,
		interval:  cfg.interval,
		condition: cfg.condition,
	}, nil
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
