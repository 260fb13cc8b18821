package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"github.com/jpalmerr/pollwatch/internal/metrics"
	"github.com/jpalmerr/pollwatch/poll"
)

var (
	// ErrUnknownWatch is returned by [Group.Refresh] for names not in the group.
	ErrUnknownWatch = errors.New("unknown watch")

	// ErrNotRunning is returned by [Group.Refresh] before Start or after Stop.
	ErrNotRunning = errors.New("watch group not running")
)

// Condition decides from a response whether polling continues (true), stops
// (false) or fails (error).
//
// This is the internal mirror of pollwatch.Condition.
type Condition func(body []byte, statusCode int) (bool, error)

// WatchInfo is the configuration for one watch.
type WatchInfo struct {
	Name    string
	URL     string
	Labels  map[string]string
	Headers map[string]string
	Timeout time.Duration

	// Method is GET, HEAD or POST. Empty means GET.
	Method string

	// Interval overrides the group interval when non-zero.
	Interval time.Duration

	// Condition defaults to continuing while the response is 2xx.
	Condition Condition
}

// WatchStatus is emitted on [Group.Results] whenever a watch changes.
type WatchStatus struct {
	Name   string
	URL    string
	Labels map[string]string

	State       poll.State
	Loading     int64
	Session     uint64
	Invocations int
	Err         error

	// StatusCode and Latency describe the most recent completed request.
	StatusCode int
	Latency    time.Duration

	UpdatedAt time.Time
}

// Group runs one [poll.Poller] per watch.
//
// Every loading delta and every poller state change produces a
// [WatchStatus] on the results channel, which is closed by Stop. Start and
// Stop are idempotent and safe for concurrent use.
type Group struct {
	entries  []*entry
	byName   map[string]*entry
	interval time.Duration
	client   *Client
	clock    clock.Clock
	metrics  *metrics.Recorder
	logger   *slog.Logger

	results chan WatchStatus
	done    chan struct{}

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool

	// emitMu guards results against sends after close
	emitMu    sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// entry is the per-watch state owned by a Group.
type entry struct {
	info    WatchInfo
	poller  *poll.Poller
	loading *poll.LoadingCounter

	// sendMu serializes emission so each watch's statuses leave in order
	sendMu sync.Mutex

	mu          sync.Mutex
	lastCode    int
	lastLatency time.Duration
}

// GroupOption configures a [Group].
type GroupOption func(*Group)

// WithClock sets the clock used by pollers and latency measurement.
func WithClock(c clock.Clock) GroupOption {
	return func(g *Group) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithMetrics sets the metrics recorder. A nil recorder disables metrics.
func WithMetrics(r *metrics.Recorder) GroupOption {
	return func(g *Group) {
		g.metrics = r
	}
}

// NewGroup creates a Group for the given watches. interval applies to
// watches without their own.
//
// Returns an error if a watch name is repeated or a poller cannot be built.
func NewGroup(watches []WatchInfo, interval time.Duration, logger *slog.Logger, opts ...GroupOption) (*Group, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Group{
		byName:   make(map[string]*entry, len(watches)),
		interval: interval,
		clock:    clock.NewClock(),
		logger:   logger,
		results:  make(chan WatchStatus, len(watches)*4),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.client = NewClient(g.clock)

	for _, w := range watches {
		if _, dup := g.byName[w.Name]; dup {
			return nil, fmt.Errorf("duplicate watch name: %q", w.Name)
		}

		e := &entry{info: w}
		name := w.Name
		e.loading = poll.NewLoadingCounter(nil)

		p, err := poll.New(g.pollConfig(e),
			poll.WithName(name),
			poll.WithClock(g.clock),
			poll.WithLogger(logger.With("watch", name)),
			poll.WithListener(func(poll.Snapshot) { g.emit(e) }),
		)
		if err != nil {
			return nil, fmt.Errorf("watch %q: %w", name, err)
		}
		e.poller = p

		g.entries = append(g.entries, e)
		g.byName[name] = e
	}

	return g, nil
}

func (g *Group) pollConfig(e *entry) poll.Config {
	interval := e.info.Interval
	if interval == 0 {
		interval = g.interval
	}
	return poll.Config{
		Operation: g.operation(e),
		Interval:  interval,
		OnLoading: func(delta int) {
			e.loading.Add(delta)
			g.metrics.AddInFlight(e.info.Name, delta)
			g.emit(e)
		},
	}
}

// Results returns the channel of watch statuses. It is closed by Stop.
func (g *Group) Results() <-chan WatchStatus {
	return g.results
}

// Start begins a polling session for every watch. If ctx is nil,
// context.Background() is used. Start after Stop is a no-op.
func (g *Group) Start(ctx context.Context) {
	g.mu.Lock()
	if g.started || g.stopped {
		g.mu.Unlock()
		return
	}
	g.started = true
	if ctx == nil {
		ctx = context.Background()
	}
	g.ctx, g.cancel = context.WithCancel(ctx)
	runCtx := g.ctx
	g.mu.Unlock()

	for _, e := range g.entries {
		if err := e.poller.Start(runCtx); err != nil {
			g.logger.Warn("failed to start watch", "watch", e.info.Name, "error", err.Error())
			continue
		}
		g.metrics.RecordSession(e.info.Name)
	}
}

// Refresh restarts the named watch under a new session.
func (g *Group) Refresh(name string) error {
	e, ok := g.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWatch, name)
	}

	g.mu.Lock()
	if !g.started || g.stopped {
		g.mu.Unlock()
		return ErrNotRunning
	}
	ctx := g.ctx
	g.mu.Unlock()

	if err := e.poller.Refresh(ctx); err != nil {
		if errors.Is(err, poll.ErrClosed) {
			return ErrNotRunning
		}
		return err
	}
	g.metrics.RecordSession(name)
	g.logger.Info("watch refreshed", "watch", name)
	return nil
}

// Snapshots returns the current status of every watch in configuration order.
func (g *Group) Snapshots() []WatchStatus {
	out := make([]WatchStatus, 0, len(g.entries))
	for _, e := range g.entries {
		e.mu.Lock()
		out = append(out, e.status())
		e.mu.Unlock()
	}
	return out
}

// Stop closes every poller, waits for in-flight invocations, then closes
// the results channel. Stop before Start is a safe no-op apart from closing
// the channel.
func (g *Group) Stop() {
	g.mu.Lock()
	if !g.stopped {
		g.stopped = true
		if g.cancel != nil {
			g.cancel()
		}
		close(g.done)
	}
	g.mu.Unlock()

	for _, e := range g.entries {
		e.poller.Close()
	}
	g.client.Close()

	g.closeOnce.Do(func() {
		g.emitMu.Lock()
		g.closed = true
		close(g.results)
		g.emitMu.Unlock()
	})
}

// emit publishes the latest status of e. Sends give up once Stop begins.
func (g *Group) emit(e *entry) {
	g.emitMu.RLock()
	defer g.emitMu.RUnlock()
	if g.closed {
		return
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	e.mu.Lock()
	status := e.status()
	e.mu.Unlock()

	select {
	case g.results <- status:
	case <-g.done:
	}
}

// status must be called with e.mu held.
func (e *entry) status() WatchStatus {
	snap := e.poller.Snapshot()
	return WatchStatus{
		Name:        e.info.Name,
		URL:         e.info.URL,
		Labels:      copyMap(e.info.Labels),
		State:       snap.State,
		Loading:     e.loading.Count(),
		Session:     snap.Session,
		Invocations: snap.Invocations,
		Err:         snap.Err,
		StatusCode:  e.lastCode,
		Latency:     e.lastLatency,
		UpdatedAt:   snap.UpdatedAt,
	}
}

func (e *entry) record(resp Response) {
	e.mu.Lock()
	e.lastCode, e.lastLatency = resp.StatusCode, resp.Latency
	e.mu.Unlock()
}

// operation adapts a watch's HTTP request and condition to a poll.Operation.
func (g *Group) operation(e *entry) poll.Operation {
	info := e.info
	cond := info.Condition
	if cond == nil {
		cond = continueWhileOK
	}

	return func(ctx context.Context) (bool, error) {
		resp, err := g.client.Fetch(ctx, info.Method, info.URL, info.Headers, info.Timeout)
		e.record(resp)
		if err != nil {
			g.metrics.RecordInvocation(info.Name, metrics.OutcomeFailure, resp.Latency)
			return false, err
		}

		cont, err := g.safeCondition(info.Name, cond, resp)
		switch {
		case err != nil:
			g.metrics.RecordInvocation(info.Name, metrics.OutcomeFailure, resp.Latency)
		case cont:
			g.metrics.RecordInvocation(info.Name, metrics.OutcomeContinue, resp.Latency)
		default:
			g.metrics.RecordInvocation(info.Name, metrics.OutcomeStop, resp.Latency)
		}
		return cont, err
	}
}

// safeCondition calls the condition with panic recovery. A panic is logged
// with its stack under a correlation id and reported as a failure carrying
// the same id.
func (g *Group) safeCondition(name string, cond Condition, resp Response) (cont bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			g.logger.Error("condition panic",
				"watch", name,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			cont = false
			err = fmt.Errorf("condition panic (correlation_id: %s)", correlationID)
		}
	}()
	return cond(resp.Body, resp.StatusCode)
}

// continueWhileOK keeps polling while the response is 2xx.
func continueWhileOK(_ []byte, statusCode int) (bool, error) {
	if statusCode >= 200 && statusCode < 300 {
		return true, nil
	}
	return false, fmt.Errorf("unexpected status code %d", statusCode)
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
