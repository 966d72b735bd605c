// Package metrics holds the Prometheus collectors for the monitor and the
// speech pipeline. All methods are safe on a nil *Metrics, which records
// nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll results that don't reach the dedupe stage. The monitor reports its
// own verdicts for the rest.
const (
	PollSkipped = "skipped"
	PollFailed  = "failed"
)

// Metrics groups every echolink collector.
type Metrics struct {
	polls        *prometheus.CounterVec
	pollErrors   *prometheus.CounterVec
	emissions    *prometheus.CounterVec
	synthesis    *prometheus.CounterVec
	synthLatency prometheus.Histogram
	dropped      prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		polls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echolink_polls_total",
			Help: "Monitor polls by result",
		}, []string{"result"}),
		pollErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echolink_poll_errors_total",
			Help: "Failed polls by error kind",
		}, []string{"kind"}),
		emissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echolink_emissions_total",
			Help: "Content events emitted by source kind",
		}, []string{"source"}),
		synthesis: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echolink_synthesis_requests_total",
			Help: "Speech synthesis requests by status",
		}, []string{"status"}),
		synthLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "echolink_synthesis_latency_seconds",
			Help:    "Speech synthesis latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "echolink_speaker_dropped_total",
			Help: "Events dropped because the speech queue was full",
		}),
	}
}

// Poll counts one poll outcome.
func (m *Metrics) Poll(result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
}

// PollError counts a failed poll by kind (unavailable, malformed, other).
func (m *Metrics) PollError(kind string) {
	if m == nil {
		return
	}
	m.pollErrors.WithLabelValues(kind).Inc()
}

// Emitted counts an emitted event.
func (m *Metrics) Emitted(source string) {
	if m == nil {
		return
	}
	m.emissions.WithLabelValues(source).Inc()
}

// Synthesis records a finished synthesis request.
func (m *Metrics) Synthesis(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.synthesis.WithLabelValues(status).Inc()
	m.synthLatency.Observe(took.Seconds())
}

// Dropped counts an event the speaker could not queue.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
