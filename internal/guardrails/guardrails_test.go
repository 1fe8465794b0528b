package guardrails

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ajith-Anand-R/VANGUARD/internal/decision"
	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
)

type fakeHistory struct {
	incidentID string
	found      bool
	err        error
	gotSince   time.Time
	gotID      string
}

func (f *fakeHistory) RecentIntervention(_ context.Context, shipmentID string, since time.Time) (string, bool, error) {
	f.gotID = shipmentID
	f.gotSince = since
	return f.incidentID, f.found, f.err
}

var testNow = time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)

func newEvaluator(h History) *Evaluator {
	return &Evaluator{
		History:           h,
		MinSeverity:       50,
		IdempotencyWindow: time.Hour,
		AuditReadFailure:  FailOpen,
		LowConfidence:     0.5,
		Now:               func() time.Time { return testNow },
	}
}

func disrupted(severity float64) EligibilityInput {
	return EligibilityInput{ShipmentID: "SH-4429", DisruptionDetected: true, Severity: severity}
}

func TestEligibilityAllows(t *testing.T) {
	h := &fakeHistory{}
	v := newEvaluator(h).CheckEligibility(context.Background(), disrupted(72))
	assert.True(t, v.Allowed)
	assert.Equal(t, decision.Allowed, v.Result)
	assert.Equal(t, "SH-4429", h.gotID)
	assert.Equal(t, testNow.Add(-time.Hour), h.gotSince)
}

func TestEligibilityFalsePositive(t *testing.T) {
	v := newEvaluator(&fakeHistory{found: true}).CheckEligibility(context.Background(), EligibilityInput{ShipmentID: "SH-1"})
	assert.False(t, v.Allowed)
	assert.Equal(t, decision.BlockedFalsePositive, v.Result)
	assert.Equal(t, RuleRealityCheck, v.RuleID)
}

func TestEligibilityLowSeverity(t *testing.T) {
	v := newEvaluator(nil).CheckEligibility(context.Background(), disrupted(49))
	assert.False(t, v.Allowed)
	assert.Equal(t, decision.BlockedLowSeverity, v.Result)
}

func TestEligibilityRedundant(t *testing.T) {
	h := &fakeHistory{incidentID: "INC-SH-4429-1735776000000", found: true}
	v := newEvaluator(h).CheckEligibility(context.Background(), disrupted(72))
	assert.False(t, v.Allowed)
	assert.Equal(t, decision.BlockedRedundant, v.Result)
	assert.Contains(t, v.Reason, "INC-SH-4429-1735776000000")
}

func TestEligibilityAuditReadFailurePolicy(t *testing.T) {
	h := &fakeHistory{err: errors.New("disk gone")}

	e := newEvaluator(h)
	v := e.CheckEligibility(context.Background(), disrupted(72))
	assert.True(t, v.Allowed, "fail-open should allow")
	assert.Contains(t, v.Warning, "disk gone")

	e.AuditReadFailure = FailClosed
	v = e.CheckEligibility(context.Background(), disrupted(72))
	assert.False(t, v.Allowed)
	assert.Equal(t, decision.BlockedPolicy, v.Result)
	assert.Equal(t, RuleAuditUnavailable, v.RuleID)
}

func opt(id string, cost, reliability float64) logistics.Option {
	return logistics.Option{OptionID: id, Type: logistics.OptionSplitShipment, EstimatedCost: cost, DeliveryHours: 24, Reliability: logistics.Float(reliability)}
}

func TestSafety(t *testing.T) {
	e := newEvaluator(nil)

	tests := []struct {
		name    string
		in      SafetyInput
		allowed bool
		result  decision.GuardrailResult
	}{
		{"empty", SafetyInput{ApprovedBudget: 1000}, false, decision.BlockedSafety},
		{"all over budget", SafetyInput{Options: []logistics.Option{opt("A", 6000, 0.9), opt("B", 5000, 0.9)}, ApprovedBudget: 4000}, false, decision.BlockedBudget},
		{"cheapest exactly at budget", SafetyInput{Options: []logistics.Option{opt("A", 6000, 0.9), opt("B", 4000, 0.9)}, ApprovedBudget: 4000}, true, decision.Allowed},
		{"single low confidence", SafetyInput{Options: []logistics.Option{opt("A", 100, 0.4)}, ApprovedBudget: 4000}, false, decision.BlockedLowConfidence},
		{"single confident", SafetyInput{Options: []logistics.Option{opt("A", 100, 0.5)}, ApprovedBudget: 4000}, true, decision.Allowed},
		{"single option without reliability", SafetyInput{Options: []logistics.Option{{OptionID: "A", Type: logistics.OptionSplitShipment, EstimatedCost: 100, DeliveryHours: 24}}, ApprovedBudget: 4000}, true, decision.Allowed},
		{"two weak options", SafetyInput{Options: []logistics.Option{opt("A", 100, 0.1), opt("B", 200, 0.2)}, ApprovedBudget: 4000}, true, decision.Allowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.CheckSafety(tt.in)
			require.Equal(t, tt.allowed, v.Allowed, v.Reason)
			assert.Equal(t, tt.result, v.Result)
		})
	}
}
