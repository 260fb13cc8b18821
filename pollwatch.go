package pollwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/jpalmerr/pollwatch/dashboard"
	"github.com/jpalmerr/pollwatch/internal/metrics"
	"github.com/jpalmerr/pollwatch/internal/poller"
	"github.com/jpalmerr/pollwatch/internal/server"
	"github.com/jpalmerr/pollwatch/internal/store"
	"github.com/jpalmerr/pollwatch/poll"
)

const (
	defaultPollingInterval = 15 * time.Second
	defaultPort            = 8080
)

var (
	// ErrNotRunning is returned by [PollWatch.Refresh] outside [PollWatch.Start].
	ErrNotRunning = poller.ErrNotRunning

	// ErrUnknownWatch is returned by [PollWatch.Refresh] for a name that was
	// not configured.
	ErrUnknownWatch = poller.ErrUnknownWatch

	// ErrAlreadyRunning is returned by [PollWatch.Start] while another call
	// is still running.
	ErrAlreadyRunning = errors.New("pollwatch already running")
)

// PollWatch polls a set of watches and serves their state.
//
// Each watch runs its own polling session: an immediate request, then one
// request per interval for as long as its [Condition] says continue. The
// dashboard, REST API, event streams and metrics are served on one port.
//
//	pw, err := pollwatch.New(pollwatch.WithWatch(w))
//	if err != nil {
//	    slog.Error("failed to create pollwatch", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	pw.Start(ctx) // blocks until ctx is cancelled
type PollWatch struct {
	title           string
	watches         []Watch
	pollingInterval time.Duration
	port            int
	logger          *slog.Logger
	stateCallbacks  []func(WatchState)
	clock           clock.Clock

	mu    sync.Mutex
	group *poller.Group
}

// New creates a [PollWatch].
//
// At least one watch is required and names must be unique. Defaults:
//   - Polling interval: 15 seconds
//   - Port: 8080
//   - Logger: slog.Default()
func New(opts ...Option) (*PollWatch, error) {
	cfg := &pwConfig{
		pollingInterval: defaultPollingInterval,
		port:            defaultPort,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.watches) == 0 {
		return nil, errors.New("at least one watch is required")
	}

	seen := make(map[string]bool, len(cfg.watches))
	for _, w := range cfg.watches {
		if seen[w.name] {
			return nil, fmt.Errorf("duplicate watch name: %q", w.name)
		}
		seen[w.name] = true
	}

	if cfg.port < 1 || cfg.port > 65535 {
		return nil, fmt.Errorf("port must be between 1 and 65535, got %d", cfg.port)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.clock
	if clk == nil {
		clk = clock.NewClock()
	}

	return &PollWatch{
		title:           cfg.title,
		watches:         cfg.watches,
		pollingInterval: cfg.pollingInterval,
		port:            cfg.port,
		logger:          logger,
		stateCallbacks:  cfg.stateCallbacks,
		clock:           clk,
	}, nil
}

// Start polls every watch and serves the dashboard until ctx is cancelled.
//
// On cancellation every poller is stopped and Start waits for in-flight
// requests and pending state callbacks before returning, so no callback
// runs after Start returns.
//
// Returns nil on graceful shutdown, or an error if the HTTP server cannot
// start.
func (pw *PollWatch) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	recorder := metrics.NewRecorder()
	group, err := poller.NewGroup(pw.toWatchInfos(), pw.pollingInterval, pw.logger,
		poller.WithClock(pw.clock),
		poller.WithMetrics(recorder),
	)
	if err != nil {
		return fmt.Errorf("failed to create watch group: %w", err)
	}

	pw.mu.Lock()
	if pw.group != nil {
		pw.mu.Unlock()
		group.Stop()
		return ErrAlreadyRunning
	}
	pw.group = group
	pw.mu.Unlock()

	pw.logger.Info("pollwatch starting", "watch_count", len(pw.watches))
	pw.logger.Info("polling configured", "interval", pw.pollingInterval.String())

	watchStore := store.NewMemoryStore()
	for _, status := range group.Snapshots() {
		watchStore.Update(toStoreState(status))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for status := range group.Results() {
			// store first so callbacks observe persisted state
			watchStore.Update(toStoreState(status))

			if len(pw.stateCallbacks) > 0 {
				public := toPublicState(status)
				for _, cb := range pw.stateCallbacks {
					invokeCallbackSafe(cb, public, pw.logger)
				}
			}
			pw.logStatus(status)
		}
	}()

	cleanup := func() {
		pw.mu.Lock()
		pw.group = nil
		pw.mu.Unlock()

		group.Stop() // closes results
		wg.Wait()
	}

	httpServer := server.NewServer(watchStore, pw, pw.port, dashboard.Assets, pw.title, pw.logger)
	httpServer.SetMetricsHandler(recorder.Handler())
	if err := httpServer.Start(ctx); err != nil {
		cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	pw.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", pw.port))

	group.Start(ctx)

	<-ctx.Done()
	cleanup()
	pw.logger.Info("pollwatch stopped")
	return nil
}

// Refresh restarts the named watch under a new session: a request is made
// immediately and polling resumes even if the watch had stopped.
//
// Returns [ErrNotRunning] outside Start and [ErrUnknownWatch] for unknown
// names.
func (pw *PollWatch) Refresh(name string) error {
	pw.mu.Lock()
	group := pw.group
	pw.mu.Unlock()

	if group == nil {
		if !pw.hasWatch(name) {
			return fmt.Errorf("%w: %q", ErrUnknownWatch, name)
		}
		return ErrNotRunning
	}
	return group.Refresh(name)
}

// Watches returns a copy of the configured watches.
func (pw *PollWatch) Watches() []Watch {
	cp := make([]Watch, len(pw.watches))
	copy(cp, pw.watches)
	return cp
}

// Port returns the configured HTTP port.
func (pw *PollWatch) Port() int {
	return pw.port
}

// PollingInterval returns the default delay between invocations.
func (pw *PollWatch) PollingInterval() time.Duration {
	return pw.pollingInterval
}

func (pw *PollWatch) hasWatch(name string) bool {
	for _, w := range pw.watches {
		if w.name == name {
			return true
		}
	}
	return false
}

func (pw *PollWatch) toWatchInfos() []poller.WatchInfo {
	infos := make([]poller.WatchInfo, len(pw.watches))
	for i, w := range pw.watches {
		cond := w.condition
		if cond == nil {
			cond = DefaultCondition
		}
		infos[i] = poller.WatchInfo{
			Name:      w.name,
			URL:       w.url,
			Labels:    copyMap(w.labels),
			Headers:   copyMap(w.headers),
			Timeout:   w.timeout,
			Method:    w.method,
			Interval:  w.interval,
			Condition: poller.Condition(cond),
		}
	}
	return infos
}

func (pw *PollWatch) logStatus(status poller.WatchStatus) {
	attrs := []any{
		"watch", status.Name,
		"state", status.State.String(),
		"session", status.Session,
		"invocations", status.Invocations,
		"loading", status.Loading,
	}
	if status.State != poll.StateStopped || status.Loading > 0 {
		pw.logger.Debug("watch changed", attrs...)
		return
	}
	if status.Err != nil {
		pw.logger.Warn("watch failed", append(attrs, "error", status.Err.Error())...)
		return
	}
	pw.logger.Info("watch finished", attrs...)
}

func toStoreState(s poller.WatchStatus) store.WatchState {
	var errStr *string
	if s.Err != nil {
		msg := s.Err.Error()
		errStr = &msg
	}
	return store.WatchState{
		Name:           s.Name,
		URL:            s.URL,
		Labels:         s.Labels,
		State:          s.State.String(),
		Loading:        s.Loading,
		Session:        s.Session,
		Invocations:    s.Invocations,
		Error:          errStr,
		StatusCode:     s.StatusCode,
		ResponseTimeMs: s.Latency.Milliseconds(),
		UpdatedAt:      s.UpdatedAt,
	}
}

// toPublicState copies mutable fields so callbacks cannot race the store.
func toPublicState(s poller.WatchStatus) WatchState {
	return WatchState{
		Name:        s.Name,
		URL:         s.URL,
		Labels:      copyMap(s.Labels),
		State:       s.State,
		Loading:     s.Loading,
		Session:     s.Session,
		Invocations: s.Invocations,
		Err:         s.Err,
		StatusCode:  s.StatusCode,
		Latency:     s.Latency,
		UpdatedAt:   s.UpdatedAt,
	}
}

// invokeCallbackSafe calls a state callback, logging instead of propagating
// a panic.
func invokeCallbackSafe(cb func(WatchState), state WatchState, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("state callback panicked",
				"panic", r,
				"watch", state.Name,
			)
		}
	}()
	cb(state)
}
