// Package metrics exposes Prometheus metrics about watch polling.
//
// A nil *Recorder is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pollwatch"

// Outcome labels for invocations.
const (
	OutcomeContinue = "continue"
	OutcomeStop     = "stop"
	OutcomeFailure  = "failure"
)

// Recorder records polling metrics into its own registry.
type Recorder struct {
	registry    *prometheus.Registry
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    *prometheus.GaugeVec
	sessions    *prometheus.CounterVec
}

// NewRecorder creates a Recorder with a private registry that also carries
// the Go runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Completed poll invocations by outcome.",
		}, []string{"watch", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Duration of poll invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"watch"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Poll invocations currently in flight.",
		}, []string{"watch"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Polling sessions started, including refreshes.",
		}, []string{"watch"}),
	}

	r.registry.MustRegister(
		r.invocations,
		r.duration,
		r.inFlight,
		r.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// RecordInvocation counts a completed invocation and observes its duration.
func (r *Recorder) RecordInvocation(watch, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.invocations.WithLabelValues(watch, outcome).Inc()
	r.duration.WithLabelValues(watch).Observe(d.Seconds())
}

// AddInFlight applies a loading delta to the in-flight gauge.
func (r *Recorder) AddInFlight(watch string, delta int) {
	if r == nil {
		return
	}
	r.inFlight.WithLabelValues(watch).Add(float64(delta))
}

// RecordSession counts a new polling session.
func (r *Recorder) RecordSession(watch string) {
	if r == nil {
		return
	}
	r.sessions.WithLabelValues(watch).Inc()
}

// Registry returns the underlying registry, or nil for a nil Recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
