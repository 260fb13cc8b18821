// Package mockjobs serves fake long-running jobs for the example programs.
//
// GET /jobs/{id} reports {"id", "state", "progress"}. A job answers RUNNING
// for a random number of polls and then settles on FINISHED or FAILED.
// GET /jobs/flaky fails with 503 every few requests.
package mockjobs

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Job states reported by the handler.
const (
	StateRunning  = "RUNNING"
	StateFinished = "FINISHED"
	StateFailed   = "FAILED"
)

type job struct {
	polls     int
	remaining int
	outcome   string
}

// Handler returns the mock job API.
func Handler(logger *slog.Logger) http.Handler {
	var (
		mu    sync.Mutex
		jobs  = make(map[string]*job)
		flaky int
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/jobs/")
		if id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}

		// simulate latency
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

		if id == "flaky" {
			mu.Lock()
			flaky++
			n := flaky
			mu.Unlock()
			if n%4 == 0 {
				http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, map[string]any{"id": id, "state": StateRunning, "progress": n % 100})
			return
		}

		mu.Lock()
		j, ok := jobs[id]
		if !ok {
			j = &job{remaining: 3 + rand.Intn(6), outcome: StateFinished}
			if rand.Intn(5) == 0 {
				j.outcome = StateFailed
			}
			jobs[id] = j
		}
		j.polls++
		state, progress := StateRunning, 100*j.polls/(j.polls+j.remaining)
		if j.remaining > 0 {
			j.remaining--
			if j.remaining == 0 {
				logger.Info("job settled", "job", id, "state", j.outcome)
			}
		} else {
			state, progress = j.outcome, 100
		}
		mu.Unlock()

		writeJSON(w, map[string]any{"id": id, "state": state, "progress": progress})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
