// Package metrics exposes Prometheus instruments for chat turns and storage.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	turns          *prometheus.CounterVec
	persistFailure *prometheus.CounterVec
	streamDuration prometheus.Histogram
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "chat_turns_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome", "provider"}),
		persistFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "persistence_failures_total",
			Help:      "Failed storage writes by operation.",
		}, []string{"operation"}),
		streamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parley",
			Name:      "stream_duration_seconds",
			Help:      "Time from first model byte requested to stream end.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
	reg.MustRegister(m.turns, m.persistFailure, m.streamDuration)
	return m
}

// TurnFinished counts a turn by outcome.
func (m *Metrics) TurnFinished(outcome, provider string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome, provider).Inc()
}

// PersistFailed counts a failed write.
func (m *Metrics) PersistFailed(operation string) {
	if m == nil {
		return
	}
	m.persistFailure.WithLabelValues(operation).Inc()
}

// ObserveStream records a stream's duration.
func (m *Metrics) ObserveStream(d time.Duration) {
	if m == nil {
		return
	}
	m.streamDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
