package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ajith-Anand-R/VANGUARD/internal/events"
)

// Metrics holds the Prometheus collectors for one process. All methods are
// safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	Decisions     *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Retries       prometheus.Counter
	Executions    *prometheus.CounterVec
	Jobs          *prometheus.CounterVec
	AggregateRisk prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vanguard_decisions_total",
			Help: "Decision records written, by outcome and guardrail result",
		}, []string{"outcome", "guardrail"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vanguard_phase_transitions_total",
			Help: "Incident phase transitions",
		}, []string{"from", "to"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vanguard_stage_duration_seconds",
			Help:    "Wall time of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"stage"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "vanguard_stage_retries_total",
			Help: "Failed stage attempts that were retried",
		}),
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vanguard_ledger_executions_total",
			Help: "Ledger execution attempts by status",
		}, []string{"status"}),
		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vanguard_jobs_total",
			Help: "Daemon jobs by type and final status",
		}, []string{"type", "status"}),
		AggregateRisk: f.NewGauge(prometheus.GaugeOpts{
			Name: "vanguard_aggregate_risk",
			Help: "Last sentinel aggregate risk score",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveDecision(outcome, guardrail string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome, guardrail).Inc()
}

func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) ObserveExecution(status string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveJob(jobType, status string) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(jobType, status).Inc()
}

func (m *Metrics) SetAggregateRisk(v float64) {
	if m == nil {
		return
	}
	m.AggregateRisk.Set(v)
}

// Sink counts transitions and stage durations from lifecycle events.
// stage_ended events carry the duration in Fields["duration_seconds"].
func (m *Metrics) Sink() events.Sink {
	return events.SinkFunc(func(_ context.Context, ev events.Event) error {
		if m == nil {
			return nil
		}
		switch ev.Type {
		case events.StateChanged:
			m.Transitions.WithLabelValues(ev.From, ev.To).Inc()
		case events.StageEnded:
			if d, ok := ev.Fields["duration_seconds"].(float64); ok {
				m.StageDuration.WithLabelValues(ev.Stage).Observe(d)
			}
		}
		return nil
	})
}
