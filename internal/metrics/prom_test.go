package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ajith-Anand-R/VANGUARD/internal/events"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveDecision("INTERVENTION_EXECUTED", "ALLOWED")
	m.ObserveDecision("INTERVENTION_EXECUTED", "ALLOWED")
	m.ObserveRetry()
	m.ObserveExecution("completed")
	m.ObserveJob("sentinel_check", "succeeded")
	m.SetAggregateRisk(26)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("INTERVENTION_EXECUTED", "ALLOWED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Jobs.WithLabelValues("sentinel_check", "succeeded")))
	assert.Equal(t, 26.0, testutil.ToFloat64(m.AggregateRisk))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDecision("a", "b")
		m.ObserveRetry()
		m.ObserveExecution("completed")
		m.ObserveJob("x", "y")
		m.SetAggregateRisk(1)
		_ = m.Sink().Handle(context.Background(), events.Event{Type: events.StateChanged})
	})
}

func TestSinkCountsTransitions(t *testing.T) {
	m := New()
	sink := m.Sink()
	ctx := context.Background()
	require.NoError(t, sink.Handle(ctx, events.Event{Type: events.StateChanged, From: "IDLE", To: "AT_RISK"}))
	require.NoError(t, sink.Handle(ctx, events.Event{Type: events.StageEnded, Stage: "SignalMonitor", Fields: map[string]any{"duration_seconds": 0.02}}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("IDLE", "AT_RISK")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRetry()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "vanguard_stage_retries_total 1"))
}
