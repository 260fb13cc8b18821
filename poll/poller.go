package poll

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
)

// Operation is the polled check. It returns true to keep polling and false
// to stop. A returned error stops polling and is recorded as the last error.
//
// The context is cancelled when the session that started the invocation
// ends. Operations may ignore it; no timeout is imposed by the Poller.
type Operation func(ctx context.Context) (bool, error)

// LoadingFunc receives +1 before and -1 after every invocation.
type LoadingFunc func(delta int)

// Config is the reconfigurable part of a [Poller].
type Config struct {
	// Operation is invoked once per tick. Required.
	Operation Operation

	// Interval is the delay between the completion of one invocation and
	// the start of the next. Must be positive.
	Interval time.Duration

	// OnLoading receives loading deltas. Optional.
	OnLoading LoadingFunc

	// Refresh is an opaque token. [Poller.Refresh] increments it.
	Refresh uint64
}

func (c Config) validate() error {
	if c.Operation == nil {
		return errors.New("operation cannot be nil")
	}
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	return nil
}

// Poller repeatedly invokes an [Operation] on a fixed delay.
//
// All methods are safe for concurrent use.
type Poller struct {
	name      string
	clock     clock.Clock
	logger    *slog.Logger
	listeners []func(Snapshot)

	mu          sync.Mutex
	cfg         Config
	chainID     uint64
	session     uint64
	state       State
	lastErr     error
	invocations int
	version     uint64
	updatedAt   time.Time
	sessionCtx  context.Context
	cancel      context.CancelFunc
	timer       clock.Timer
	timerDone   chan struct{}
	closed      bool
	wg          sync.WaitGroup

	// snapshots wait in pending until the single delivering caller hands
	// them to the listeners; idle is signalled when the queue drains
	pending    []Snapshot
	delivering bool
	idle       *sync.Cond
}

// New creates a [Poller]. Polling does not begin until [Poller.Start].
//
// Returns an error if cfg has no operation or a non-positive interval, or
// if an option is invalid.
func New(cfg Config, opts ...Option) (*Poller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.clock == nil {
		o.clock = clock.NewClock()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	p := &Poller{
		name:      o.name,
		clock:     o.clock,
		logger:    o.logger,
		listeners: o.listeners,
		cfg:       withDefaults(cfg),
		updatedAt: o.clock.Now(),
	}
	p.idle = sync.NewCond(&p.mu)
	return p, nil
}

func withDefaults(cfg Config) Config {
	if cfg.OnLoading == nil {
		cfg.OnLoading = func(int) {}
	}
	return cfg
}

// Start ends the current session, if any, and begins a new one with an
// immediate invocation. ctx is the parent of every operation context in the
// session. Returns [ErrClosed] after Close.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.startLocked(ctx)
	p.enqueueLocked()
	p.mu.Unlock()

	p.deliver()
	return nil
}

// Reconfigure replaces the configuration and restarts polling under a new
// session. Every call counts as a change, since operations are functions
// and cannot be compared.
func (p *Poller) Reconfigure(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.cfg = withDefaults(cfg)
	p.startLocked(ctx)
	p.enqueueLocked()
	p.mu.Unlock()

	p.deliver()
	return nil
}

// Refresh bumps the refresh token and restarts polling under a new session.
func (p *Poller) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.cfg.Refresh++
	p.startLocked(ctx)
	p.enqueueLocked()
	p.mu.Unlock()

	p.deliver()
	return nil
}

// Stop cancels the pending timer and invalidates the current session. An
// invocation already in flight runs to completion but its result is
// discarded. Safe to call at any time.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopLocked() {
		p.enqueueLocked()
	}
	p.mu.Unlock()

	p.deliver()
}

// Close stops polling for good and blocks until in-flight invocations and
// timers have finished and every queued snapshot has reached the listeners.
// Close is idempotent.
//
// Close must not be called from an operation, a loading callback, or a
// listener of the same Poller.
func (p *Poller) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		if p.stopLocked() {
			p.enqueueLocked()
		}
	}
	p.mu.Unlock()

	p.deliver()
	p.wg.Wait()

	p.mu.Lock()
	for p.delivering || len(p.pending) > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

// Err returns the last error, or nil if the most recent invocation
// succeeded or none has completed. Non-nil values are *OperationError.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns the current state of the poller.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Interval returns the configured interval.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Interval
}

func (p *Poller) startLocked(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.stopLocked()

	p.session = p.chainID
	p.invocations = 0
	p.sessionCtx, p.cancel = context.WithCancel(ctx)

	p.logger.Debug("poll session started",
		"poller", p.name,
		"session", p.session,
		"interval", p.cfg.Interval.String(),
	)
	p.beginLocked(p.session)
}

// stopLocked invalidates the current chain and reports whether a running
// session was ended.
func (p *Poller) stopLocked() bool {
	if p.timer != nil {
		p.timer.Stop()
		close(p.timerDone)
		p.timer, p.timerDone = nil, nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.chainID++

	if p.state != StatePending && p.state != StateScheduled {
		return false
	}
	p.state = StateStopped
	p.touchLocked()
	return true
}

func (p *Poller) beginLocked(chain uint64) {
	p.state = StatePending
	p.touchLocked()

	ctx, cfg := p.sessionCtx, p.cfg
	p.wg.Add(1)
	go p.invoke(ctx, chain, cfg)
}

func (p *Poller) scheduleLocked(chain uint64, interval time.Duration) {
	t := p.clock.NewTimer(interval)
	done := make(chan struct{})
	p.timer, p.timerDone = t, done
	p.state = StateScheduled
	p.touchLocked()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-t.C():
			p.tick(chain)
		case <-done:
		}
	}()
}

func (p *Poller) tick(chain uint64) {
	p.mu.Lock()
	if chain != p.chainID || p.closed {
		p.mu.Unlock()
		return
	}
	p.timer, p.timerDone = nil, nil
	p.beginLocked(chain)
	p.enqueueLocked()
	p.mu.Unlock()

	p.deliver()
}

func (p *Poller) invoke(ctx context.Context, chain uint64, cfg Config) {
	defer p.wg.Done()

	cfg.OnLoading(1)
	ok, err := p.call(ctx, cfg.Operation)
	cfg.OnLoading(-1)

	p.mu.Lock()
	if chain != p.chainID {
		p.mu.Unlock()
		p.logger.Debug("discarding result of superseded session",
			"poller", p.name,
			"session", chain,
		)
		return
	}

	p.invocations++
	switch {
	case err != nil:
		p.lastErr = &OperationError{Session: chain, Invocation: p.invocations, Err: err}
		p.stopLocked()
	case !ok:
		p.lastErr = nil
		p.stopLocked()
	default:
		p.lastErr = nil
		p.scheduleLocked(chain, cfg.Interval)
	}
	snap := p.snapshotLocked()
	p.enqueueLocked()
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("poll operation failed",
			"poller", p.name,
			"session", chain,
			"invocation", snap.Invocations,
			"error", err.Error(),
		)
	} else if !ok {
		p.logger.Debug("polling finished", "poller", p.name, "session", chain, "invocations", snap.Invocations)
	}
	p.deliver()
}

// call runs the operation, converting a panic into an error carrying a
// correlation id that matches the logged stack trace.
func (p *Poller) call(ctx context.Context, op Operation) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			p.logger.Error("poll operation panic",
				"poller", p.name,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			ok = false
			err = fmt.Errorf("%w (correlation_id: %s)", ErrOperationPanic, correlationID)
		}
	}()
	return op(ctx)
}

func (p *Poller) touchLocked() {
	p.version++
	p.updatedAt = p.clock.Now()
}

func (p *Poller) snapshotLocked() Snapshot {
	return Snapshot{
		Name:        p.name,
		State:       p.state,
		Session:     p.session,
		Invocations: p.invocations,
		Err:         p.lastErr,
		Version:     p.version,
		UpdatedAt:   p.updatedAt,
	}
}

func (p *Poller) enqueueLocked() {
	if len(p.listeners) == 0 {
		return
	}
	p.pending = append(p.pending, p.snapshotLocked())
}

// deliver hands queued snapshots to the listeners in version order. Only one
// caller delivers at a time; the others return after queueing, so a listener
// may call back into the Poller without blocking.
func (p *Poller) deliver() {
	p.mu.Lock()
	if p.delivering {
		p.mu.Unlock()
		return
	}
	p.delivering = true
	for len(p.pending) > 0 {
		snap := p.pending[0]
		p.pending[0] = Snapshot{}
		p.pending = p.pending[1:]
		p.mu.Unlock()

		for _, fn := range p.listeners {
			p.invokeListenerSafe(fn, snap)
		}

		p.mu.Lock()
	}
	p.delivering = false
	p.pending = nil
	p.idle.Broadcast()
	p.mu.Unlock()
}

func (p *Poller) invokeListenerSafe(fn func(Snapshot), snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("poll listener panicked",
				"poller", p.name,
				"panic", r,
			)
		}
	}()
	fn(snap)
}
