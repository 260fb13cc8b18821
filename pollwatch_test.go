package pollwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/pollwatch/poll"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// jobServer reports RUNNING for the first n requests and FINISHED after.
func jobServer(t *testing.T, n int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := "RUNNING"
		if hits.Add(1) > n {
			state = "FINISHED"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"state":%q}`, state)
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

// startInBackground runs Start until the test ends. The returned channel is
// closed once Start has returned, so it may be waited on more than once.
func startInBackground(t *testing.T, pw *PollWatch) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = pw.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Error("Start() did not return after cancellation")
		}
	})
	return cancel, stopped
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestStart_BlocksUntilContextCancelled(t *testing.T) {
	ts, _ := jobServer(t, 1000)
	w, err := NewWatch("job", ts.URL)
	if err != nil {
		t.Fatalf("NewWatch() error = %v", err)
	}

	// use a high port to avoid conflicts
	pw, err := New(WithWatch(w), WithPort(19001), WithPollingInterval(50*time.Millisecond), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pw.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Start() returned early with error: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

func TestStart_ReturnsImmediatelyIfContextAlreadyCancelled(t *testing.T) {
	pw, err := New(WithWatch(mustWatch(t, "job")), WithPort(19002), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- pw.Start(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return with already-cancelled context")
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	ts, _ := jobServer(t, 1000)
	w, _ := NewWatch("job", ts.URL)
	pw, err := New(WithWatch(w), WithPort(19003), WithPollingInterval(50*time.Millisecond), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	startInBackground(t, pw)
	waitUntil(t, 2*time.Second, func() bool {
		pw.mu.Lock()
		defer pw.mu.Unlock()
		return pw.group != nil
	})

	if err := pw.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln := httptest.NewServer(http.NotFoundHandler())
	defer ln.Close()

	var port int
	if _, err := fmt.Sscanf(ln.Listener.Addr().String(), "127.0.0.1:%d", &port); err != nil {
		t.Skipf("cannot parse listener address %q", ln.Listener.Addr())
	}

	pw, err := New(WithWatch(mustWatch(t, "job")), WithPort(port), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pw.Start(ctx); err == nil {
		t.Error("Start() should fail when the port is taken")
	}
}

func TestStart_StopsWhenConditionMet(t *testing.T) {
	ts, hits := jobServer(t, 2)
	w, err := NewWatch("job", ts.URL, WithCondition(UntilJSONField("state", "FINISHED")))
	if err != nil {
		t.Fatalf("NewWatch() error = %v", err)
	}

	var (
		mu     sync.Mutex
		states []WatchState
	)
	pw, err := New(
		WithWatch(w),
		WithPort(19004),
		WithPollingInterval(20*time.Millisecond),
		WithLogger(discardLogger()),
		WithStateCallback(func(s WatchState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	startInBackground(t, pw)

	waitUntil(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 {
			return false
		}
		last := states[len(states)-1]
		return last.State == poll.StateStopped && !last.Busy()
	})

	// no further requests after the condition stopped polling
	time.Sleep(100 * time.Millisecond)
	if got := hits.Load(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}

	mu.Lock()
	defer mu.Unlock()
	last := states[len(states)-1]
	if last.Err != nil {
		t.Errorf("Err = %v, want nil", last.Err)
	}
	if last.Invocations != 3 {
		t.Errorf("Invocations = %d, want 3", last.Invocations)
	}
	if last.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", last.StatusCode)
	}

	sawBusy := false
	for _, s := range states {
		if s.Busy() {
			sawBusy = true
			break
		}
	}
	if !sawBusy {
		t.Error("callbacks should include a loading state")
	}
}

func TestStart_FailureIsReported(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	w, _ := NewWatch("broken", ts.URL)

	failed := make(chan WatchState, 1)
	pw, err := New(
		WithWatch(w),
		WithPort(19005),
		WithPollingInterval(20*time.Millisecond),
		WithLogger(discardLogger()),
		WithStateCallback(func(s WatchState) {
			if s.State == poll.StateStopped && s.Err != nil {
				select {
				case failed <- s:
				default:
				}
			}
		}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	startInBackground(t, pw)

	select {
	case s := <-failed:
		if !errors.Is(s.Err, ErrUnexpectedStatus) {
			t.Errorf("Err = %v, want ErrUnexpectedStatus", s.Err)
		}
		var opErr *poll.OperationError
		if !errors.As(s.Err, &opErr) {
			t.Errorf("Err should be *poll.OperationError, got %T", s.Err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("failure was not reported")
	}
}

func TestStart_CallbackPanicDoesNotStopPolling(t *testing.T) {
	ts, hits := jobServer(t, 1000)
	w, _ := NewWatch("job", ts.URL)

	pw, err := New(
		WithWatch(w),
		WithPort(19006),
		WithPollingInterval(20*time.Millisecond),
		WithLogger(discardLogger()),
		WithStateCallback(func(WatchState) { panic("boom") }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	startInBackground(t, pw)
	waitUntil(t, 3*time.Second, func() bool { return hits.Load() >= 3 })
}

func TestRefresh(t *testing.T) {
	ts, hits := jobServer(t, 0)
	w, _ := NewWatch("job", ts.URL, WithCondition(UntilJSONField("state", "FINISHED")))

	pw, err := New(WithWatch(w), WithPort(19007), WithPollingInterval(20*time.Millisecond), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := pw.Refresh("job"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Refresh() before Start error = %v, want ErrNotRunning", err)
	}
	if err := pw.Refresh("nope"); !errors.Is(err, ErrUnknownWatch) {
		t.Errorf("Refresh(unknown) before Start error = %v, want ErrUnknownWatch", err)
	}

	cancel, stopped := startInBackground(t, pw)

	// the job finishes on the first poll
	waitUntil(t, 3*time.Second, func() bool { return hits.Load() == 1 })
	time.Sleep(50 * time.Millisecond)

	if err := pw.Refresh("job"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	waitUntil(t, 3*time.Second, func() bool { return hits.Load() == 2 })

	if err := pw.Refresh("nope"); !errors.Is(err, ErrUnknownWatch) {
		t.Errorf("Refresh(unknown) error = %v, want ErrUnknownWatch", err)
	}

	cancel()
	<-stopped
	if err := pw.Refresh("job"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Refresh() after Start error = %v, want ErrNotRunning", err)
	}
}

func TestStart_ServesWatchAPI(t *testing.T) {
	ts, _ := jobServer(t, 1000)
	w, _ := NewWatch("job", ts.URL, WithLabels("env", "test"))

	pw, err := New(WithWatch(w), WithPort(19008), WithPollingInterval(50*time.Millisecond), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	startInBackground(t, pw)

	var states []map[string]any
	waitUntil(t, 3*time.Second, func() bool {
		resp, err := http.Get("http://localhost:19008/api/watches")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		states = nil
		return resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&states) == nil && len(states) == 1
	})

	if states[0]["name"] != "job" {
		t.Errorf("name = %v, want job", states[0]["name"])
	}
	labels, _ := states[0]["labels"].(map[string]any)
	if labels["env"] != "test" {
		t.Errorf("labels = %v", states[0]["labels"])
	}

	resp, err := http.Post("http://localhost:19008/api/watches/job/refresh", "", nil)
	if err != nil {
		t.Fatalf("refresh request error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("refresh status = %d, want 202", resp.StatusCode)
	}

	resp, err = http.Get("http://localhost:19008/metrics")
	if err != nil {
		t.Fatalf("metrics request error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}
}
