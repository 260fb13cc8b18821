package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jpalmerr/pollwatch/internal/metrics"
	"github.com/jpalmerr/pollwatch/poll"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// okServer returns a server that always answers 200 with body.
func okServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

// waitForStatus reads results until match returns true for a status.
func waitForStatus(t *testing.T, g *Group, match func(WatchStatus) bool) WatchStatus {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s, ok := <-g.Results():
			if !ok {
				t.Fatal("results channel closed before a matching status")
			}
			if match(s) {
				return s
			}
		case <-timeout:
			t.Fatal("timeout waiting for matching status")
		}
	}
}

func stopped(name string) func(WatchStatus) bool {
	return func(s WatchStatus) bool {
		return s.Name == name && s.State == poll.StateStopped
	}
}

func TestGroup_StopBeforeStart(t *testing.T) {
	g, err := NewGroup([]WatchInfo{{Name: "test", URL: "http://example.com", Timeout: time.Second}}, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("NewGroup() error = %v", err)
	}

	g.Stop()

	if _, ok := <-g.Results(); ok {
		t.Error("results channel should be closed")
	}
}

func TestGroup_StopTwice(t *testing.T) {
	server := okServer(t, "ok")
	g, _ := NewGroup([]WatchInfo{{Name: "test", URL: server.URL, Timeout: time.Second}}, time.Minute, testLogger())
	g.Start(context.Background())

	g.Stop()
	g.Stop()
}

func TestGroup_StopBeforeStartThenStart(t *testing.T) {
	g, _ := NewGroup([]WatchInfo{{Name: "test", URL: "http://example.com", Timeout: time.Second}}, time.Minute, testLogger())

	g.Stop()
	g.Start(context.TODO())
	g.Stop()

	if err := g.Refresh("test"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Refresh() error = %v, want ErrNotRunning", err)
	}
}

func TestGroup_ConcurrentStartStop(t *testing.T) {
	server := okServer(t, "ok")
	watches := []WatchInfo{{Name: "test", URL: server.URL, Timeout: time.Second}}

	for i := 0; i < 50; i++ {
		g, _ := NewGroup(watches, time.Minute, testLogger())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			g.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			g.Stop()
		}()
		wg.Wait()

		g.Stop()
		for range g.Results() {
		}
	}
}

func TestGroup_DuplicateNames(t *testing.T) {
	_, err := NewGroup([]WatchInfo{
		{Name: "a", URL: "http://example.com"},
		{Name: "a", URL: "http://example.org"},
	}, time.Minute, testLogger())
	if err == nil || !strings.Contains(err.Error(), "duplicate watch name") {
		t.Errorf("NewGroup() error = %v, want duplicate name error", err)
	}
}

func TestGroup_InvalidIntervalRejected(t *testing.T) {
	_, err := NewGroup([]WatchInfo{{Name: "a", URL: "http://example.com"}}, 0, testLogger())
	if err == nil {
		t.Error("NewGroup() with zero interval should fail")
	}
}

// TestGroup_PollsUntilConditionStops runs a job that reports RUNNING twice
// and then FINISHED, driving ticks with a fake clock.
func TestGroup_PollsUntilConditionStops(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			_, _ = w.Write([]byte("RUNNING"))
			return
		}
		_, _ = w.Write([]byte("FINISHED"))
	}))
	defer server.Close()

	fc := fakeclock.NewFakeClock(time.Now())
	rec := metrics.NewRecorder()

	g, err := NewGroup([]WatchInfo{{
		Name:    "job",
		URL:     server.URL,
		Timeout: time.Second,
		Labels:  map[string]string{"env": "test"},
		Condition: func(body []byte, _ int) (bool, error) {
			return string(body) != "FINISHED", nil
		},
	}}, time.Second, testLogger(), WithClock(fc), WithMetrics(rec))
	if err != nil {
		t.Fatalf("NewGroup() error = %v", err)
	}
	defer g.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	var final WatchStatus
	go func() {
		defer wg.Done()
		final = waitForStatus(t, g, stopped("job"))
	}()

	g.Start(context.Background())
	fc.WaitForWatcherAndIncrement(time.Second)
	fc.WaitForWatcherAndIncrement(time.Second)
	wg.Wait()

	if final.Invocations != 3 {
		t.Errorf("Invocations = %d, want 3", final.Invocations)
	}
	if final.Err != nil {
		t.Errorf("Err = %v, want nil", final.Err)
	}
	if final.Loading != 0 {
		t.Errorf("Loading = %d, want 0", final.Loading)
	}
	if final.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", final.StatusCode)
	}
	if final.Labels["env"] != "test" {
		t.Errorf("Labels = %v, want env=test", final.Labels)
	}

	count, err := testutil.GatherAndCount(rec.Registry(), "pollwatch_invocations_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if count != 2 {
		t.Errorf("invocation series = %d, want 2 (continue and stop)", count)
	}
}

func TestGroup_EmitsLoadingStatus(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()

	g, _ := NewGroup([]WatchInfo{{Name: "slow", URL: server.URL, Timeout: 5 * time.Second}}, time.Hour, testLogger())
	defer g.Stop()
	defer close(release)

	g.Start(context.Background())

	busy := waitForStatus(t, g, func(s WatchStatus) bool { return s.Loading > 0 })
	if busy.State != poll.StatePending {
		t.Errorf("State = %v while loading, want pending", busy.State)
	}
}

func TestGroup_NonOKResponseFailsByDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	g, _ := NewGroup([]WatchInfo{{Name: "api", URL: server.URL, Timeout: time.Second}}, time.Hour, testLogger())
	defer g.Stop()
	g.Start(context.Background())

	s := waitForStatus(t, g, stopped("api"))
	if s.Err == nil || !strings.Contains(s.Err.Error(), "unexpected status code 503") {
		t.Errorf("Err = %v, want unexpected status code 503", s.Err)
	}
	var opErr *poll.OperationError
	if !errors.As(s.Err, &opErr) {
		t.Errorf("Err = %T, want *poll.OperationError", s.Err)
	}
}

// TestGroup_ConditionPanicRecovery verifies that a panicking condition fails
// the watch with a correlation id instead of crashing the group.
func TestGroup_ConditionPanicRecovery(t *testing.T) {
	server := okServer(t, `{"status": "ok"}`)

	g, _ := NewGroup([]WatchInfo{
		{
			Name:      "Panicking",
			URL:       server.URL,
			Timeout:   time.Second,
			Condition: func([]byte, int) (bool, error) { panic("boom") },
		},
		{
			Name:      "Healthy",
			URL:       server.URL,
			Timeout:   time.Second,
			Condition: func([]byte, int) (bool, error) { return false, nil },
		},
	}, time.Hour, testLogger())
	g.Start(context.Background())

	final := make(map[string]WatchStatus)
	for len(final) < 2 {
		s := waitForStatus(t, g, func(s WatchStatus) bool { return s.State == poll.StateStopped })
		final[s.Name] = s
	}
	g.Stop()

	errMsg := ""
	if err := final["Panicking"].Err; err != nil {
		errMsg = err.Error()
	}
	if !strings.Contains(errMsg, "condition panic") || !strings.Contains(errMsg, "correlation_id") {
		t.Errorf("Panicking.Err = %q, want condition panic with correlation_id", errMsg)
	}
	if err := final["Healthy"].Err; err != nil {
		t.Errorf("Healthy.Err = %v, want nil", err)
	}
}

func TestGroup_Refresh(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	g, _ := NewGroup([]WatchInfo{{
		Name:      "job",
		URL:       server.URL,
		Timeout:   time.Second,
		Condition: func([]byte, int) (bool, error) { return false, nil },
	}}, time.Hour, testLogger())
	defer g.Stop()

	if err := g.Refresh("job"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Refresh() before Start error = %v, want ErrNotRunning", err)
	}

	g.Start(context.Background())
	first := waitForStatus(t, g, stopped("job"))

	if err := g.Refresh("missing"); !errors.Is(err, ErrUnknownWatch) {
		t.Errorf("Refresh(missing) error = %v, want ErrUnknownWatch", err)
	}
	if err := g.Refresh("job"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	second := waitForStatus(t, g, func(s WatchStatus) bool {
		return s.State == poll.StateStopped && s.Session > first.Session
	})
	if second.Invocations != 1 {
		t.Errorf("Invocations = %d, want 1", second.Invocations)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2", got)
	}
}

func TestGroup_Snapshots(t *testing.T) {
	g, _ := NewGroup([]WatchInfo{
		{Name: "b", URL: "http://example.com/b"},
		{Name: "a", URL: "http://example.com/a"},
	}, time.Minute, testLogger())
	defer g.Stop()

	snaps := g.Snapshots()
	if len(snaps) != 2 || snaps[0].Name != "b" || snaps[1].Name != "a" {
		t.Fatalf("Snapshots() = %+v, want b then a", snaps)
	}
	if snaps[0].State != poll.StateIdle {
		t.Errorf("State = %v, want idle before Start", snaps[0].State)
	}
}

func TestGroup_ContextCancellation(t *testing.T) {
	server := okServer(t, "ok")

	ctx, cancel := context.WithCancel(context.Background())
	g, _ := NewGroup([]WatchInfo{{Name: "test", URL: server.URL, Timeout: time.Second}}, time.Minute, testLogger())
	g.Start(ctx)

	go func() {
		for range g.Results() {
		}
	}()

	cancel()

	done := make(chan struct{})
	go func() {
		g.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Stop() did not complete after parent context cancellation")
	}
}

func TestContinueWhileOK(t *testing.T) {
	tests := []struct {
		code     int
		wantCont bool
		wantErr  bool
	}{
		{200, true, false},
		{204, true, false},
		{301, false, true},
		{404, false, true},
		{500, false, true},
	}

	for _, tt := range tests {
		cont, err := continueWhileOK(nil, tt.code)
		if cont != tt.wantCont || (err != nil) != tt.wantErr {
			t.Errorf("continueWhileOK(%d) = %v, %v", tt.code, cont, err)
		}
	}
}
