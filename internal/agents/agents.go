// Package agents defines the collaborator contracts the scheduler consumes
// and the default heuristics behind them.
package agents

import (
	"context"
	"time"

	"github.com/Ajith-Anand-R/VANGUARD/internal/ledger"
	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
	"github.com/Ajith-Anand-R/VANGUARD/internal/negotiator"
)

// Stage names, used as context writers and in lifecycle events.
const (
	StageSignalMonitor   = "SignalMonitor"
	StageRootCause       = "RootCauseAnalyzer"
	StageGuardrails      = "Guardrails"
	StageOptionGenerator = "OptionGenerator"
	StageAuditor         = "LossRecoveryAuditor"
	StageNegotiator      = "Negotiator"
	StageTreasurer       = "Treasurer"
	StageMonitor         = "PostExecutionMonitor"
	StageDecisionLogger  = "DecisionLogger"
	StageSentinel        = "Sentinel"
)

// SignalAnalyzer measures how disrupted a shipment is.
type SignalAnalyzer interface {
	Analyze(ctx context.Context, shipmentID string) (SignalAnalysis, error)
}

// RootCauseAnalyzer explains a disruption.
type RootCauseAnalyzer interface {
	Diagnose(ctx context.Context, signal SignalAnalysis) (RootCause, error)
}

// OptionGenerator proposes remediations.
type OptionGenerator interface {
	Generate(ctx context.Context, signal SignalAnalysis, cause RootCause) (OptionSet, error)
}

// BudgetAuthorizer sets the recovery budget ceiling.
type BudgetAuthorizer interface {
	Authorize(ctx context.Context, signal SignalAnalysis, options OptionSet) (BudgetAuthorization, error)
}

// PostExecutionMonitor checks whether an execution recovered the SLA.
type PostExecutionMonitor interface {
	Observe(ctx context.Context, execution ledger.Result, selected *negotiator.Selection) (Monitoring, error)
}

// Collaborators bundles every external stage the scheduler calls.
type Collaborators struct {
	Signal    SignalAnalyzer
	RootCause RootCauseAnalyzer
	Options   OptionGenerator
	Budget    BudgetAuthorizer
	Monitor   PostExecutionMonitor
}

// Defaults wires the default heuristics to repo.
func Defaults(repo *logistics.Repository, now func() time.Time) Collaborators {
	if now == nil {
		now = time.Now
	}
	return Collaborators{
		Signal:    &SignalMonitor{Repo: repo, Now: now},
		RootCause: &CauseAnalyzer{Repo: repo, Now: now},
		Options:   &Generator{Repo: repo, Now: now},
		Budget:    &Auditor{Now: now},
		Monitor:   &Monitor{Now: now},
	}
}

// SeverityBreakdown splits the severity score into its parts.
type SeverityBreakdown struct {
	ETADrift    int `json:"eta_drift"`
	RiskFactors int `json:"risk_factors"`
}

// SignalAnalysis is the signal analysis output.
type SignalAnalysis struct {
	Timestamp            time.Time          `json:"timestamp"`
	Agent                string             `json:"agent"`
	ShipmentID           string             `json:"shipment_id"`
	Shipment             logistics.Shipment `json:"shipment"`
	DisruptionDetected   bool               `json:"disruption_detected"`
	DelayHours           float64            `json:"delay_hours"`
	Severity             float64            `json:"severity"`
	SeverityBreakdown    SeverityBreakdown  `json:"severity_breakdown"`
	SLABreachProbability float64            `json:"sla_breach_probability"`
}

// RootCause is the root cause output.
type RootCause struct {
	Timestamp        time.Time           `json:"timestamp"`
	Agent            string              `json:"agent"`
	ShipmentID       string              `json:"shipment_id"`
	RootCause        string              `json:"root_cause"`
	CauseDetails     string              `json:"cause_details"`
	Confidence       float64             `json:"confidence"`
	FallbackUsed     bool                `json:"fallback_used"`
	AffectedSupplier *logistics.Supplier `json:"affected_supplier,omitempty"`
	OriginalCarrier  string              `json:"original_carrier,omitempty"`
}

// Root causes.
const (
	CauseSupplierDelay     = "SUPPLIER_DELAY"
	CauseCarrierFailure    = "CARRIER_FAILURE"
	CauseRouteCongestion   = "ROUTE_CONGESTION"
	CauseMinorDelay        = "MINOR_DELAY"
	CauseUnknownDisruption = "UNKNOWN_DISRUPTION"
)

// OptionSet is the option generation output.
type OptionSet struct {
	Timestamp    time.Time          `json:"timestamp"`
	Agent        string             `json:"agent"`
	ShipmentID   string             `json:"shipment_id"`
	Options      []logistics.Option `json:"options"`
	OptionsCount int                `json:"options_count"`
}

// FinancialAnalysis itemises the projected loss.
type FinancialAnalysis struct {
	SLAPenalty            float64 `json:"sla_penalty"`
	InventoryHoldingCost  float64 `json:"inventory_holding_cost"`
	CustomerChurnRisk     float64 `json:"customer_churn_risk"`
	ProjectedLoss         float64 `json:"projected_loss"`
	MaxRecoveryBudget     float64 `json:"max_recovery_budget"`
	SafetyMargin          float64 `json:"safety_margin"`
	MinViableIntervention float64 `json:"min_viable_intervention"`
}

// BudgetAuthorization is the budget authorization output.
type BudgetAuthorization struct {
	Timestamp            time.Time         `json:"timestamp"`
	Agent                string            `json:"agent"`
	ShipmentID           string            `json:"shipment_id"`
	FinancialAnalysis    FinancialAnalysis `json:"financial_analysis"`
	BudgetApproved       float64           `json:"budget_approved"`
	ActionRecommendation string            `json:"action_recommendation"`
}

// Monitoring is the post-execution monitoring output.
type Monitoring struct {
	Timestamp        time.Time `json:"timestamp"`
	Agent            string    `json:"agent"`
	ShipmentID       string    `json:"shipment_id"`
	MonitoringStatus string    `json:"monitoring_status"`
	Reason           string    `json:"reason,omitempty"`
	ExpectedRecovery float64   `json:"expected_sla_recovery,omitempty"`
	ActualRecovery   float64   `json:"actual_sla_recovery,omitempty"`
	RecoveryMet      bool      `json:"recovery_met"`
	Deviation        float64   `json:"deviation"`
	Assessment       string    `json:"assessment,omitempty"`
}
