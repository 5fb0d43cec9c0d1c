package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TurnFinished(OutcomeCompleted, "ollama")
	m.TurnFinished(OutcomeCompleted, "ollama")
	m.PersistFailed("append_message")
	m.ObserveStream(time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turns.WithLabelValues(OutcomeCompleted, "ollama")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistFailure.WithLabelValues("append_message")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "parley_chat_turns_total")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TurnFinished(OutcomeFailed, "x")
		m.PersistFailed("x")
		m.ObserveStream(time.Millisecond)
	})
}
