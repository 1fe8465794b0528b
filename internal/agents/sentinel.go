package agents

import (
	"math"
	"time"

	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
)

// Sentinel assessments.
const (
	AssessmentBreach = "RISK_THRESHOLD_EXCEEDED"
	AssessmentNormal = "NORMAL_OPERATIONS"
)

// Weights are the sentinel's per-signal weights.
type Weights struct {
	Port     float64
	Weather  float64
	Supplier float64
}

// Sentinel watches aggregate environmental risk and decides when to open incidents.
type Sentinel struct {
	Weights   Weights
	Threshold float64
	Now       func() time.Time
}

// Assessment is one sentinel reading.
type Assessment struct {
	Timestamp        time.Time `json:"timestamp"`
	Agent            string    `json:"agent"`
	ActiveMonitoring bool      `json:"active_monitoring"`
	AggregateRisk    float64   `json:"aggregate_risk"`
	TriggerThreshold float64   `json:"trigger_threshold"`
	TriggerDecision  bool      `json:"trigger_decision"`
	Assessment       string    `json:"assessment"`
}

// Assess scores signals. Breach is decided on the unrounded aggregate.
func (s *Sentinel) Assess(signals logistics.Signals) Assessment {
	aggregate := signals.PortCongestionLevel*s.Weights.Port +
		signals.WeatherRiskScore*s.Weights.Weather +
		(1-signals.SupplierReliabilityIndex)*100*s.Weights.Supplier
	breach := aggregate > s.Threshold

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	out := Assessment{
		Timestamp:        now().UTC(),
		Agent:            StageSentinel,
		ActiveMonitoring: true,
		AggregateRisk:    math.Round(aggregate),
		TriggerThreshold: s.Threshold,
		TriggerDecision:  breach,
		Assessment:       AssessmentNormal,
	}
	if breach {
		out.Assessment = AssessmentBreach
	}
	return out
}
