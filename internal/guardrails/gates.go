package guardrails

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ajith-Anand-R/VANGUARD/internal/decision"
	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
)

// Audit read failure policies.
const (
	FailOpen   = "allow"
	FailClosed = "block"
)

// Rule identifiers reported with blocking verdicts.
const (
	RuleRealityCheck      = "REALITY_CHECK"
	RuleMinSeverity       = "MIN_SEVERITY"
	RuleIdempotencyWindow = "IDEMPOTENCY_WINDOW"
	RuleAuditUnavailable  = "AUDIT_UNAVAILABLE"
	RuleEmptyOptions      = "EMPTY_OPTIONS"
	RuleBudgetHardFloor   = "BUDGET_HARD_FLOOR"
	RuleSingleOption      = "SINGLE_OPTION_CONFIDENCE"
)

// Verdict is the result of one gate. Blocks are data, never errors.
type Verdict struct {
	Allowed bool                     `json:"allowed"`
	Result  decision.GuardrailResult `json:"result"`
	Reason  string                   `json:"reason,omitempty"`
	RuleID  string                   `json:"rule_id,omitempty"`
	Warning string                   `json:"warning,omitempty"`
}

func allow() Verdict {
	return Verdict{Allowed: true, Result: decision.Allowed}
}

func block(result decision.GuardrailResult, rule, format string, args ...any) Verdict {
	return Verdict{Result: result, RuleID: rule, Reason: fmt.Sprintf(format, args...)}
}

// History answers whether an intervention already ran for a shipment.
type History interface {
	// RecentIntervention returns the incident log id of the most recent
	// INTERVENTION_EXECUTED record at or after since whose shipment id or
	// incident log id matches shipmentID.
	RecentIntervention(ctx context.Context, shipmentID string, since time.Time) (string, bool, error)
}

// Evaluator holds the gate thresholds. Both gates are pure apart from the
// eligibility read of History.
type Evaluator struct {
	History           History
	MinSeverity       float64
	IdempotencyWindow time.Duration
	AuditReadFailure  string
	LowConfidence     float64
	Now               func() time.Time
	Logger            *zap.Logger
}

// EligibilityInput is what the pre-check sees.
type EligibilityInput struct {
	ShipmentID         string
	DisruptionDetected bool
	Severity           float64
}

// CheckEligibility decides whether the incident may proceed to option generation.
func (e *Evaluator) CheckEligibility(ctx context.Context, in EligibilityInput) Verdict {
	if !in.DisruptionDetected {
		return block(decision.BlockedFalsePositive, RuleRealityCheck,
			"Analysis confirmed no active disruption requiring intervention.")
	}
	if in.Severity < e.MinSeverity {
		return block(decision.BlockedLowSeverity, RuleMinSeverity,
			"Severity %.0f is below the autonomous action threshold of %.0f.", in.Severity, e.MinSeverity)
	}
	if e.History == nil {
		return allow()
	}

	since := e.now().Add(-e.IdempotencyWindow)
	incidentID, found, err := e.History.RecentIntervention(ctx, in.ShipmentID, since)
	if err != nil {
		if e.AuditReadFailure == FailClosed {
			e.logger().Warn("idempotency check failed, blocking",
				zap.String("shipment_id", in.ShipmentID), zap.Error(err))
			return block(decision.BlockedPolicy, RuleAuditUnavailable,
				"Audit log unavailable for idempotency check: %v", err)
		}
		e.logger().Warn("idempotency check failed, allowing",
			zap.String("shipment_id", in.ShipmentID), zap.Error(err))
		v := allow()
		v.Warning = fmt.Sprintf("idempotency check skipped: %v", err)
		return v
	}
	if found {
		return block(decision.BlockedRedundant, RuleIdempotencyWindow,
			"Incident already resolved recently (Incident ID: %s).", incidentID)
	}
	return allow()
}

// SafetyInput is what the post-check sees.
type SafetyInput struct {
	Options        []logistics.Option
	ApprovedBudget float64
}

// CheckSafety decides whether the option set may go to negotiation.
func (e *Evaluator) CheckSafety(in SafetyInput) Verdict {
	if len(in.Options) == 0 {
		return block(decision.BlockedSafety, RuleEmptyOptions, "No options provided to safety check.")
	}

	cheapest := in.Options[0]
	for _, opt := range in.Options[1:] {
		if opt.EstimatedCost < cheapest.EstimatedCost {
			cheapest = opt
		}
	}
	if cheapest.EstimatedCost > in.ApprovedBudget {
		return block(decision.BlockedBudget, RuleBudgetHardFloor,
			"Cheapest option %s costs %.0f, above the approved budget of %.0f.",
			cheapest.OptionID, cheapest.EstimatedCost, in.ApprovedBudget)
	}

	if len(in.Options) == 1 {
		only := in.Options[0]
		if rel := only.ReliabilityOr(logistics.DefaultReliability); rel < e.LowConfidence {
			return block(decision.BlockedLowConfidence, RuleSingleOption,
				"Only option %s has reliability %.2f, below %.2f.", only.OptionID, rel, e.LowConfidence)
		}
	}
	return allow()
}

func (e *Evaluator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Evaluator) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}
