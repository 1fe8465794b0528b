package negotiator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ajith-Anand-R/VANGUARD/internal/incident"
	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
)

var reference = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newScorer() *Scorer {
	return New(reference, 120*time.Hour, 0.6, 0.90)
}

func option(id string, cost, hours, reliability float64) logistics.Option {
	return logistics.Option{
		OptionID:      id,
		Type:          logistics.OptionAlternateSupplier,
		EstimatedCost: cost,
		DeliveryHours: hours,
		Reliability:   logistics.Float(reliability),
	}
}

func deadline(hours float64) *time.Time {
	d := reference.Add(time.Duration(hours * float64(time.Hour)))
	return &d
}

func TestNegotiateSelectsSplitShipment(t *testing.T) {
	split := option("OPT-SPLIT-001", 2500, 36, 0.85)
	split.Type = logistics.OptionSplitShipment
	in := Input{
		ShipmentID:     "SH-4429",
		ApprovedBudget: 7313,
		Options:        []logistics.Option{option("OPT-SUP-002", 6000, 48, 0.91), split},
		SLADeadline:    deadline(72),
	}

	res := newScorer().Negotiate(in)
	require.True(t, res.Succeeded())
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "OPT-SPLIT-001", res.Selected.OptionID)
	assert.Equal(t, 0.83, res.Confidence)
	assert.Equal(t, 2500.0, res.Selected.NegotiatedCost)
	assert.Equal(t, "Selected split_shipment (Conf: 0.83) - Meets Budget & SLA.", res.Rationale)
	assert.Equal(t, 0.68, res.AllOptions[0].Confidence)
	assert.Equal(t, "2.25", res.Selected.ResidualRisk)
	assert.InDelta(t, 2.25, res.ResidualSLABreachRisk, 1e-9)
}

func TestRejectionOrder(t *testing.T) {
	s := newScorer()
	dl := reference.Add(24 * time.Hour)

	assert.Equal(t, RejectBudget, s.Score(option("A", 200, 48, 0.1), 100, dl).RejectionReason)
	assert.Equal(t, RejectSLA, s.Score(option("A", 50, 48, 0.1), 100, dl).RejectionReason)
	assert.Equal(t, RejectRisk, s.Score(option("A", 50, 12, 0.39), 100, dl).RejectionReason)
	assert.Empty(t, s.Score(option("A", 50, 12, 0.4), 100, dl).RejectionReason)
	assert.Empty(t, s.Score(option("A", 100, 24, 0.9), 100, dl).RejectionReason, "boundaries are inclusive")
}

func TestFailureDeduplicatesReasons(t *testing.T) {
	in := Input{
		ApprovedBudget: 100,
		Options: []logistics.Option{
			option("A", 500, 10, 0.9),
			option("B", 600, 10, 0.9),
			option("C", 50, 500, 0.9),
		},
		SLADeadline: deadline(24),
	}
	res := newScorer().Negotiate(in)
	assert.False(t, res.Succeeded())
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, DecisionFailure, res.DecisionType)
	assert.Equal(t, []string{RejectBudget, RejectSLA}, res.Reasons)
	assert.Equal(t, "All options rejected. Reasons: BUDGET_EXCEEDED, SLA_CONSTRAINT", res.Rationale)
	assert.Len(t, res.AllOptions, 3)
}

func TestTiesKeepInputOrder(t *testing.T) {
	in := Input{
		ApprovedBudget: 1000,
		Options: []logistics.Option{
			option("FIRST", 100, 10, 0.9),
			option("SECOND", 100, 10, 0.9),
		},
	}
	res := newScorer().Negotiate(in)
	require.True(t, res.Succeeded())
	assert.Equal(t, "FIRST", res.Selected.OptionID)
}

func TestConfidenceNeverExceedsCap(t *testing.T) {
	s := newScorer()
	for _, cost := range []float64{0, 1, 10, 100} {
		for _, rel := range []float64{0.4, 0.8, 0.99, 1} {
			for _, hours := range []float64{0, 1, 24} {
				so := s.Score(option("X", cost, hours, rel), 1000, reference.Add(120*time.Hour))
				assert.LessOrEqual(t, so.Confidence, 0.90)
			}
		}
	}
	assert.Equal(t, 0.90, s.Score(option("X", 0, 0, 1), 1000, reference.Add(120*time.Hour)).Confidence)
}

func TestDominatingOptionScoresAtLeastAsHigh(t *testing.T) {
	s := newScorer()
	dl := reference.Add(48 * time.Hour)
	for _, budget := range []float64{500, 1000, 5000} {
		for _, relB := range []float64{0.3, 0.6, 0.9} {
			for _, bump := range []float64{0, 0.05, 0.1} {
				relA := relB + bump
				a := s.Score(option("A", 100, 24, relA), budget, dl)
				b := s.Score(option("B", 300, 72, relB), budget, dl)
				require.True(t, a.MeetsSLA)
				require.False(t, b.MeetsSLA)
				assert.GreaterOrEqual(t, a.Confidence, b.Confidence, "budget=%v relB=%v relA=%v", budget, relB, relA)
			}
		}
	}
}

func TestDefaultsForMissingFields(t *testing.T) {
	s := newScorer()
	opt := logistics.Option{OptionID: "A", Type: "x", EstimatedCost: 10, DeliveryHours: 100}
	so := s.Score(opt, 0, reference.Add(120*time.Hour))
	assert.InDelta(t, 0.2, so.RiskScore, 1e-9)
	assert.Equal(t, RejectBudget, so.RejectionReason)

	res := s.Negotiate(Input{ApprovedBudget: 100, Options: []logistics.Option{opt}})
	require.True(t, res.Succeeded(), "default deadline is reference plus 120h")
}

func TestParseInputContract(t *testing.T) {
	in, err := ParseInput([]byte(`{"approved_budget": 7313, "options": [{"option_id": "OPT-SPLIT-001", "type": "split_shipment", "estimated_cost": 2500, "delivery_hours": 36, "reliability": 0.85}], "sla_deadline": "2025-01-04T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, 7313.0, in.ApprovedBudget)
	require.Len(t, in.Options, 1)
	assert.Equal(t, 0.85, *in.Options[0].Reliability)
	require.NotNil(t, in.SLADeadline)

	bad := []string{
		`{"options": []}`,
		`{"approved_budget": "7313", "options": []}`,
		`{"approved_budget": 7313}`,
		`{"approved_budget": 7313, "options": {"a": 1}}`,
		`{"approved_budget": 7313, "options": [{"option_id": "X"}]}`,
		`not json`,
	}
	for _, raw := range bad {
		_, err := ParseInput([]byte(raw))
		assert.ErrorIs(t, err, incident.ErrContractViolation, raw)
	}
}
