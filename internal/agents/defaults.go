package agents

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/Ajith-Anand-R/VANGUARD/internal/ledger"
	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
	"github.com/Ajith-Anand-R/VANGUARD/internal/negotiator"
)

// DisruptionThreshold is the severity at which a shipment counts as disrupted.
const DisruptionThreshold = 50

// SignalMonitor scores ETA drift plus environmental and supplier risk.
type SignalMonitor struct {
	Repo *logistics.Repository
	Now  func() time.Time
}

// Analyze implements SignalAnalyzer.
func (m *SignalMonitor) Analyze(ctx context.Context, shipmentID string) (SignalAnalysis, error) {
	shipment, err := m.Repo.Shipment(ctx, shipmentID)
	if err != nil {
		return SignalAnalysis{}, err
	}
	signals, err := m.Repo.Signals(ctx)
	if err != nil {
		return SignalAnalysis{}, err
	}
	reliability := 1.0
	supplier, err := m.Repo.Supplier(ctx, shipment.SupplierID)
	if err != nil {
		return SignalAnalysis{}, err
	}
	if supplier != nil && supplier.ReliabilityScore > 0 {
		reliability = supplier.ReliabilityScore
	}

	delay := shipment.DelayHours()
	etaDrift := 0.0
	if delay > 4 {
		etaDrift = math.Min(60, delay/48*60)
	}
	aggregate := signals.PortCongestionLevel*0.4 + signals.WeatherRiskScore*0.2 + (1-reliability)*100*0.4
	riskContribution := math.Min(40, aggregate*0.4)
	severity := math.Min(100, math.Round(etaDrift+riskContribution))

	breach := 10.0
	switch {
	case delay > 24:
		breach = 90
	case delay > 12:
		breach = 50
	}

	return SignalAnalysis{
		Timestamp:          m.Now().UTC(),
		Agent:              StageSignalMonitor,
		ShipmentID:         shipmentID,
		Shipment:           *shipment,
		DisruptionDetected: severity >= DisruptionThreshold,
		DelayHours:         delay,
		Severity:           severity,
		SeverityBreakdown: SeverityBreakdown{
			ETADrift:    int(math.Round(etaDrift)),
			RiskFactors: int(math.Round(riskContribution)),
		},
		SLABreachProbability: breach,
	}, nil
}

// CauseAnalyzer attributes delays to suppliers, carriers or routes.
type CauseAnalyzer struct {
	Repo *logistics.Repository
	Now  func() time.Time
}

// Diagnose implements RootCauseAnalyzer.
func (a *CauseAnalyzer) Diagnose(ctx context.Context, signal SignalAnalysis) (RootCause, error) {
	shipment := signal.Shipment
	supplier, err := a.Repo.Supplier(ctx, shipment.SupplierID)
	if err != nil {
		return RootCause{}, err
	}
	reliability := 1.0
	name := shipment.SupplierID
	if supplier != nil {
		reliability = supplier.ReliabilityScore
		name = supplier.Name
	}

	var cause, details string
	switch delay := signal.DelayHours; {
	case delay > 24 && reliability < 0.8:
		cause = CauseSupplierDelay
		details = fmt.Sprintf("%s has reliability score of %v, delayed production by %.0f hours", name, reliability, math.Round(delay))
	case delay > 36:
		cause = CauseCarrierFailure
		details = fmt.Sprintf("Carrier %s experienced significant delays", shipment.Carrier)
	case delay > 24:
		cause = CauseRouteCongestion
		details = fmt.Sprintf("Route from %s to %s is congested.", shipment.Origin, shipment.Destination)
	case delay > 0:
		cause = CauseMinorDelay
		details = "Disruption detected but below critical threshold."
	default:
		cause = CauseUnknownDisruption
		details = "Anomaly detected but cause correlation failed."
	}

	confidence := 0.9
	if cause == CauseUnknownDisruption {
		confidence = 0.3
	}
	return RootCause{
		Timestamp:        a.Now().UTC(),
		Agent:            StageRootCause,
		ShipmentID:       signal.ShipmentID,
		RootCause:        cause,
		CauseDetails:     details,
		Confidence:       confidence,
		FallbackUsed:     cause == CauseUnknownDisruption,
		AffectedSupplier: supplier,
		OriginalCarrier:  shipment.Carrier,
	}, nil
}

// Generator proposes alternate suppliers, air freight and split shipments.
type Generator struct {
	Repo *logistics.Repository
	Now  func() time.Time
}

// Generate implements OptionGenerator.
func (g *Generator) Generate(ctx context.Context, signal SignalAnalysis, cause RootCause) (OptionSet, error) {
	suppliers, err := g.Repo.Suppliers(ctx)
	if err != nil {
		return OptionSet{}, err
	}
	shipment := signal.Shipment
	base := shipment.Value * 0.1

	options := make([]logistics.Option, 0, len(suppliers)+2)
	for _, sup := range suppliers {
		if sup.ID == shipment.SupplierID || !sup.Available {
			continue
		}
		sup := sup
		options = append(options, logistics.Option{
			OptionID:      "OPT-" + sup.ID,
			Type:          logistics.OptionAlternateSupplier,
			Supplier:      &sup,
			EstimatedCost: math.Round(base * sup.BaseCost),
			DeliveryHours: sup.AvgLeadTimeHours,
			Reliability:   logistics.Float(sup.ReliabilityScore),
			Viable:        logistics.Bool(true),
		})
	}
	if cause.RootCause == CauseCarrierFailure {
		options = append(options, logistics.Option{
			OptionID:      "OPT-AIR-001",
			Type:          logistics.OptionAirFreight,
			EstimatedCost: math.Round(base * 1.5),
			DeliveryHours: 18,
			Reliability:   logistics.Float(0.92),
			Viable:        logistics.Bool(true),
		})
	}
	options = append(options, logistics.Option{
		OptionID:      "OPT-SPLIT-001",
		Type:          logistics.OptionSplitShipment,
		EstimatedCost: math.Round(base * 0.5),
		DeliveryHours: 36,
		Reliability:   logistics.Float(0.85),
		Details:       "Partial fulfillment strategy",
		Viable:        logistics.Bool(true),
	})

	return OptionSet{
		Timestamp:    g.Now().UTC(),
		Agent:        StageOptionGenerator,
		ShipmentID:   signal.ShipmentID,
		Options:      options,
		OptionsCount: len(options),
	}, nil
}

// Recommendations from the auditor.
const (
	RecommendIntervention = "INTERVENTION_JUSTIFIED"
	RecommendNoAction     = "NO_ACTION_RECOMMENDED"
)

// Auditor projects the loss of doing nothing and caps recovery spend.
type Auditor struct {
	Now func() time.Time
}

// Authorize implements BudgetAuthorizer.
func (a *Auditor) Authorize(_ context.Context, signal SignalAnalysis, _ OptionSet) (BudgetAuthorization, error) {
	value := signal.Shipment.Value
	penalty := signal.SLABreachProbability / 100 * value * 0.15
	holding := value * 0.02 * (signal.DelayHours / 24)
	churn := 0.0
	if signal.Severity > 70 {
		churn = value * 0.15
	}

	const safetyMargin = 0.45
	loss := math.Round(penalty + holding + churn)
	ceiling := math.Round(loss * safetyMargin)
	minViable := value * 0.03

	recommendation := RecommendNoAction
	if ceiling >= minViable {
		recommendation = RecommendIntervention
	}
	return BudgetAuthorization{
		Timestamp:  a.Now().UTC(),
		Agent:      StageAuditor,
		ShipmentID: signal.ShipmentID,
		FinancialAnalysis: FinancialAnalysis{
			SLAPenalty:            math.Round(penalty),
			InventoryHoldingCost:  math.Round(holding),
			CustomerChurnRisk:     math.Round(churn),
			ProjectedLoss:         loss,
			MaxRecoveryBudget:     ceiling,
			SafetyMargin:          safetyMargin,
			MinViableIntervention: math.Round(minViable),
		},
		BudgetApproved:       ceiling,
		ActionRecommendation: recommendation,
	}, nil
}

// Monitor compares achieved SLA recovery against the option's promise.
type Monitor struct {
	Now func() time.Time
	// Jitter returns the observed deviation in [-5, 5]. Nil draws it at random.
	Jitter func() float64
}

// Observe implements PostExecutionMonitor.
func (m *Monitor) Observe(_ context.Context, execution ledger.Result, selected *negotiator.Selection) (Monitoring, error) {
	out := Monitoring{
		Timestamp:  m.Now().UTC(),
		Agent:      StageMonitor,
		ShipmentID: execution.ShipmentID,
	}
	if !execution.Completed() || selected == nil {
		out.MonitoringStatus = "skipped"
		out.Reason = "execution_failed"
		return out, nil
	}

	expected := math.Round(selected.ReliabilityOr(logistics.DefaultReliability) * 100)
	actual := expected + m.jitter()
	out.MonitoringStatus = "completed"
	out.ExpectedRecovery = expected
	out.ActualRecovery = actual
	out.RecoveryMet = actual >= expected-5
	out.Deviation = actual - expected
	out.Assessment = "REPLANNING_REQUIRED"
	if out.RecoveryMet {
		out.Assessment = "WITHIN_TOLERANCE"
	}
	return out, nil
}

func (m *Monitor) jitter() float64 {
	if m.Jitter != nil {
		return m.Jitter()
	}
	return math.Round((rand.Float64() - 0.5) * 10)
}
