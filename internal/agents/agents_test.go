package agents

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ajith-Anand-R/VANGUARD/internal/ledger"
	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
	"github.com/Ajith-Anand-R/VANGUARD/internal/negotiator"
	"github.com/Ajith-Anand-R/VANGUARD/internal/store"
)

var testNow = time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)

func setupRepo(t *testing.T) *logistics.Repository {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := logistics.NewRepository(db)
	_, err = repo.ApplySeed(context.Background(), logistics.DefaultSeed(), false)
	require.NoError(t, err)
	return repo
}

func clock() time.Time { return testNow }

func TestDelayedShipmentPipeline(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	_, err := repo.DelayShipment(ctx, "SH-4429", 48*time.Hour)
	require.NoError(t, err)

	c := Defaults(repo, clock)

	signal, err := c.Signal.Analyze(ctx, "SH-4429")
	require.NoError(t, err)
	assert.True(t, signal.DisruptionDetected)
	assert.Equal(t, 48.0, signal.DelayHours)
	assert.Equal(t, 72.0, signal.Severity)
	assert.Equal(t, SeverityBreakdown{ETADrift: 60, RiskFactors: 12}, signal.SeverityBreakdown)
	assert.Equal(t, 90.0, signal.SLABreachProbability)
	assert.Equal(t, testNow, signal.Timestamp)

	cause, err := c.RootCause.Diagnose(ctx, signal)
	require.NoError(t, err)
	assert.Equal(t, CauseSupplierDelay, cause.RootCause)
	assert.Equal(t, 0.9, cause.Confidence)
	assert.False(t, cause.FallbackUsed)

	options, err := c.Options.Generate(ctx, signal, cause)
	require.NoError(t, err)
	require.Equal(t, 2, options.OptionsCount)
	assert.Equal(t, "OPT-SUP-002", options.Options[0].OptionID)
	assert.Equal(t, 6000.0, options.Options[0].EstimatedCost)
	assert.Equal(t, 48.0, options.Options[0].DeliveryHours)
	assert.Equal(t, "OPT-SPLIT-001", options.Options[1].OptionID)
	assert.Equal(t, 2500.0, options.Options[1].EstimatedCost)
	for _, opt := range options.Options {
		assert.True(t, opt.IsViable())
	}

	budget, err := c.Budget.Authorize(ctx, signal, options)
	require.NoError(t, err)
	assert.Equal(t, 16250.0, budget.FinancialAnalysis.ProjectedLoss)
	assert.Equal(t, 7313.0, budget.BudgetApproved)
	assert.Equal(t, RecommendIntervention, budget.ActionRecommendation)
}

func TestOnTimeShipmentIsNotDisrupted(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	c := Defaults(repo, clock)

	signal, err := c.Signal.Analyze(ctx, "SH-7781")
	require.NoError(t, err)
	assert.False(t, signal.DisruptionDetected)
	assert.Zero(t, signal.DelayHours)
	assert.Equal(t, 10.0, signal.SLABreachProbability)

	cause, err := c.RootCause.Diagnose(ctx, signal)
	require.NoError(t, err)
	assert.Equal(t, CauseUnknownDisruption, cause.RootCause)
	assert.Equal(t, 0.3, cause.Confidence)
	assert.True(t, cause.FallbackUsed)
}

func TestUnknownShipment(t *testing.T) {
	repo := setupRepo(t)
	c := Defaults(repo, clock)
	_, err := c.Signal.Analyze(context.Background(), "SH-0000")
	assert.ErrorIs(t, err, logistics.ErrUnknownShipment)
}

func TestRootCauseClassification(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	a := &CauseAnalyzer{Repo: repo, Now: clock}

	// SH-7781 ships from SUP-002, reliability 0.91.
	reliable, err := repo.Shipment(ctx, "SH-7781")
	require.NoError(t, err)

	cases := []struct {
		delay float64
		want  string
	}{
		{40, CauseCarrierFailure},
		{30, CauseRouteCongestion},
		{6, CauseMinorDelay},
		{0, CauseUnknownDisruption},
	}
	for _, tc := range cases {
		got, err := a.Diagnose(ctx, SignalAnalysis{ShipmentID: reliable.ID, Shipment: *reliable, DelayHours: tc.delay})
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.RootCause, "delay %v", tc.delay)
	}
}

func TestCarrierFailureAddsAirFreight(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	g := &Generator{Repo: repo, Now: clock}

	shipment, err := repo.Shipment(ctx, "SH-7781")
	require.NoError(t, err)
	out, err := g.Generate(ctx, SignalAnalysis{ShipmentID: shipment.ID, Shipment: *shipment}, RootCause{RootCause: CauseCarrierFailure})
	require.NoError(t, err)

	ids := make([]string, 0, len(out.Options))
	for _, opt := range out.Options {
		ids = append(ids, opt.OptionID)
	}
	// SUP-002 is the shipment's own supplier and SUP-003 is unavailable.
	assert.Equal(t, []string{"OPT-SUP-001", "OPT-AIR-001", "OPT-SPLIT-001"}, ids)
	assert.Equal(t, 4800.0, out.Options[1].EstimatedCost)
	assert.Equal(t, 3, out.OptionsCount)
}

func TestAuditorSmallLossRecommendsNoAction(t *testing.T) {
	a := &Auditor{Now: clock}
	out, err := a.Authorize(context.Background(), SignalAnalysis{
		Shipment:             logistics.Shipment{Value: 10000},
		Severity:             40,
		DelayHours:           2,
		SLABreachProbability: 10,
	}, OptionSet{})
	require.NoError(t, err)
	// 150 + 17 = 167 projected, 75 approved, below 300.
	assert.Equal(t, 167.0, out.FinancialAnalysis.ProjectedLoss)
	assert.Equal(t, 75.0, out.BudgetApproved)
	assert.Equal(t, RecommendNoAction, out.ActionRecommendation)
}

func TestMonitor(t *testing.T) {
	selected := &negotiator.Selection{ScoredOption: negotiator.ScoredOption{
		Option: logistics.Option{OptionID: "OPT-SPLIT-001", Reliability: logistics.Float(0.85)},
	}}
	completed := ledger.Result{ShipmentID: "SH-4429", Status: ledger.StatusCompleted}

	t.Run("within tolerance", func(t *testing.T) {
		m := &Monitor{Now: clock, Jitter: func() float64 { return -5 }}
		out, err := m.Observe(context.Background(), completed, selected)
		require.NoError(t, err)
		assert.Equal(t, "completed", out.MonitoringStatus)
		assert.Equal(t, 85.0, out.ExpectedRecovery)
		assert.Equal(t, 80.0, out.ActualRecovery)
		assert.True(t, out.RecoveryMet)
		assert.Equal(t, -5.0, out.Deviation)
		assert.Equal(t, "WITHIN_TOLERANCE", out.Assessment)
	})

	t.Run("replanning", func(t *testing.T) {
		m := &Monitor{Now: clock, Jitter: func() float64 { return -6 }}
		out, err := m.Observe(context.Background(), completed, selected)
		require.NoError(t, err)
		assert.False(t, out.RecoveryMet)
		assert.Equal(t, "REPLANNING_REQUIRED", out.Assessment)
	})

	t.Run("skipped without completed execution", func(t *testing.T) {
		m := &Monitor{Now: clock}
		out, err := m.Observe(context.Background(), ledger.Result{Status: ledger.StatusSkippedDuplicate}, selected)
		require.NoError(t, err)
		assert.Equal(t, "skipped", out.MonitoringStatus)
		assert.False(t, out.RecoveryMet)
	})

	t.Run("default jitter stays in range", func(t *testing.T) {
		m := &Monitor{Now: clock}
		for i := 0; i < 50; i++ {
			out, err := m.Observe(context.Background(), completed, selected)
			require.NoError(t, err)
			assert.InDelta(t, 0, out.Deviation, 5)
		}
	})
}

func TestSentinelAssess(t *testing.T) {
	s := &Sentinel{Weights: Weights{Port: 0.4, Weather: 0.2, Supplier: 0.4}, Threshold: 65, Now: clock}

	calm := s.Assess(logistics.Signals{PortCongestionLevel: 40, WeatherRiskScore: 20, SupplierReliabilityIndex: 0.85})
	assert.False(t, calm.TriggerDecision)
	assert.Equal(t, 26.0, calm.AggregateRisk)
	assert.Equal(t, AssessmentNormal, calm.Assessment)

	storm := s.Assess(logistics.Signals{PortCongestionLevel: 95, WeatherRiskScore: 90, SupplierReliabilityIndex: 0.4})
	// 38 + 18 + 24
	assert.True(t, storm.TriggerDecision)
	assert.Equal(t, 80.0, storm.AggregateRisk)
	assert.Equal(t, AssessmentBreach, storm.Assessment)

	s.Threshold = 80
	assert.False(t, s.Assess(logistics.Signals{PortCongestionLevel: 100, WeatherRiskScore: 100, SupplierReliabilityIndex: 0.5}).TriggerDecision)
}
