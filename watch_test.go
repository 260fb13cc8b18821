package pollwatch

import (
	"net/http"
	"testing"
	"time"
)

func TestNewWatch(t *testing.T) {
	tests := []struct {
		name    string
		wName   string
		url     string
		opts    []WatchOption
		wantErr bool
	}{
		{name: "valid http", wName: "job", url: "http://example.com/jobs/1"},
		{name: "valid https", wName: "job", url: "https://example.com/jobs/1"},
		{name: "empty name", wName: "", url: "http://example.com", wantErr: true},
		{name: "missing scheme", wName: "job", url: "example.com/jobs/1", wantErr: true},
		{name: "ftp scheme", wName: "job", url: "ftp://example.com", wantErr: true},
		{name: "invalid url", wName: "job", url: "http://[::1", wantErr: true},
		{name: "odd labels", wName: "job", url: "http://example.com", opts: []WatchOption{WithLabels("env")}, wantErr: true},
		{name: "odd headers", wName: "job", url: "http://example.com", opts: []WatchOption{WithHeaders("X-Key")}, wantErr: true},
		{name: "zero timeout", wName: "job", url: "http://example.com", opts: []WatchOption{WithTimeout(0)}, wantErr: true},
		{name: "bad method", wName: "job", url: "http://example.com", opts: []WatchOption{WithMethod("DELETE")}, wantErr: true},
		{name: "interval too short", wName: "job", url: "http://example.com", opts: []WatchOption{WithInterval(500 * time.Millisecond)}, wantErr: true},
		{name: "interval too long", wName: "job", url: "http://example.com", opts: []WatchOption{WithInterval(2 * time.Hour)}, wantErr: true},
		{name: "nil condition", wName: "job", url: "http://example.com", opts: []WatchOption{WithCondition(nil)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWatch(tt.wName, tt.url, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWatch() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewWatch_Defaults(t *testing.T) {
	w, err := NewWatch("job", "http://example.com")
	if err != nil {
		t.Fatalf("NewWatch() error = %v", err)
	}

	if w.Timeout() != defaultWatchTimeout {
		t.Errorf("Timeout() = %v, want %v", w.Timeout(), defaultWatchTimeout)
	}
	if w.Method() != "" {
		t.Errorf("Method() = %q, want empty", w.Method())
	}
	if w.Interval() != 0 {
		t.Errorf("Interval() = %v, want 0", w.Interval())
	}
	if w.Condition() != nil {
		t.Error("Condition() should be nil without WithCondition")
	}
}

func TestNewWatch_Options(t *testing.T) {
	w, err := NewWatch("job", "https://ci.example.com/jobs/42",
		WithLabels("env", "prod", "team", "platform"),
		WithHeaders("Authorization", "Bearer token"),
		WithTimeout(3*time.Second),
		WithMethod(http.MethodPost),
		WithInterval(5*time.Second),
		WithCondition(PollForever),
	)
	if err != nil {
		t.Fatalf("NewWatch() error = %v", err)
	}

	if w.Name() != "job" || w.URL() != "https://ci.example.com/jobs/42" {
		t.Errorf("Name/URL = %q %q", w.Name(), w.URL())
	}
	if got := w.Labels()["team"]; got != "platform" {
		t.Errorf("Labels()[team] = %q, want platform", got)
	}
	if got := w.Headers()["Authorization"]; got != "Bearer token" {
		t.Errorf("Headers()[Authorization] = %q", got)
	}
	if w.Timeout() != 3*time.Second {
		t.Errorf("Timeout() = %v", w.Timeout())
	}
	if w.Method() != http.MethodPost {
		t.Errorf("Method() = %q", w.Method())
	}
	if w.Interval() != 5*time.Second {
		t.Errorf("Interval() = %v", w.Interval())
	}
	if w.Condition() == nil {
		t.Error("Condition() should be set")
	}
}

func TestWatch_GettersReturnCopies(t *testing.T) {
	w, err := NewWatch("job", "http://example.com",
		WithLabels("env", "prod"),
		WithHeaders("X-Key", "secret"),
	)
	if err != nil {
		t.Fatalf("NewWatch() error = %v", err)
	}

	w.Labels()["env"] = "changed"
	w.Headers()["X-Key"] = "changed"

	if w.Labels()["env"] != "prod" {
		t.Error("mutating Labels() result changed the watch")
	}
	if w.Headers()["X-Key"] != "secret" {
		t.Error("mutating Headers() result changed the watch")
	}
}
