package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Ajith-Anand-R/VANGUARD/internal/agents"
	"github.com/Ajith-Anand-R/VANGUARD/internal/decision"
	"github.com/Ajith-Anand-R/VANGUARD/internal/guardrails"
	"github.com/Ajith-Anand-R/VANGUARD/internal/incident"
	"github.com/Ajith-Anand-R/VANGUARD/internal/ledger"
	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
	"github.com/Ajith-Anand-R/VANGUARD/internal/negotiator"
)

func (s *Scheduler) startAnalysis(ctx context.Context, rec *incident.Record) error {
	_, run := s.begin(ctx, rec.ID, agents.StageSignalMonitor, incident.PhaseAnalyzing)
	run.log("Incident opened. Starting signal analysis.")
	run.end("started", nil)
	return s.advanceTo(ctx, rec.ID, incident.PhaseAnalyzing, agents.StageSignalMonitor)
}

func (s *Scheduler) analyze(ctx context.Context, rec *incident.Record, pass incident.Context) error {
	ctx, run := s.begin(ctx, rec.ID, agents.StageSignalMonitor, rec.Phase)
	signal, err := invoke(ctx, s.cfg.StageTimeout, func(ctx context.Context) (agents.SignalAnalysis, error) {
		return s.agents.Signal.Analyze(ctx, rec.ID)
	})
	if err != nil {
		run.fail(err)
		return fmt.Errorf("signal analysis: %w", err)
	}
	run.log("Analysis complete. Severity: %.0f. Disruption detected: %t", signal.Severity, signal.DisruptionDetected)
	signalOut := output{stage: agents.StageSignalMonitor, values: map[string]any{incident.KeySignalAnalysis: signal}}

	if !signal.DisruptionDetected {
		run.end("success", nil)
		run.logAt("info", "Invariant check: severity %.0f below threshold. Stabilizing.", signal.Severity)
		return s.conclude(ctx, rec.ID, pass, terminal{
			class: decision.Classification{
				Reality:   decision.RealityNoRealIncident,
				Guardrail: decision.Allowed,
				Outcome:   decision.ObservedOnly,
			},
			outputs:   []output{signalOut},
			rationale: fmt.Sprintf("Severity %.0f is below the disruption threshold.", signal.Severity),
		})
	}
	run.end("issue_detected", nil)

	_, causeRun := s.begin(ctx, rec.ID, agents.StageRootCause, rec.Phase)
	cause, err := invoke(ctx, s.cfg.StageTimeout, func(ctx context.Context) (agents.RootCause, error) {
		return s.agents.RootCause.Diagnose(ctx, signal)
	})
	if err != nil {
		causeRun.fail(err)
		return fmt.Errorf("root cause: %w", err)
	}
	causeRun.log("Root cause identified: %s (Conf: %v)", cause.RootCause, cause.Confidence)
	causeRun.end("success", nil)
	causeOut := output{stage: agents.StageRootCause, values: map[string]any{incident.KeyRootCause: cause}}

	if cause.RootCause == agents.CauseUnknownDisruption && cause.Confidence < s.cfg.UnknownCauseConfidence {
		causeRun.logAt("info", "Invariant check: root cause ambiguous (confidence %v). Escalation aborted.", cause.Confidence)
		return s.conclude(ctx, rec.ID, pass, terminal{
			class: decision.Classification{
				Reality:   decision.RealityActive,
				Guardrail: decision.Allowed,
				Outcome:   decision.ObservedOnly,
			},
			outputs:   []output{signalOut, causeOut},
			rationale: fmt.Sprintf("Root cause ambiguous (confidence %v).", cause.Confidence),
		})
	}

	return s.advanceTo(ctx, rec.ID, incident.PhaseGuardrailsPrecheck, agents.StageGuardrails, signalOut, causeOut)
}

func (s *Scheduler) precheck(ctx context.Context, rec *incident.Record, pass incident.Context) error {
	if err := incident.ValidateStageInput(rec.Phase, pass); err != nil {
		return err
	}
	var signal agents.SignalAnalysis
	if err := decodeStage(pass, incident.KeySignalAnalysis, &signal); err != nil {
		return err
	}
	shipmentID := signal.ShipmentID
	if shipmentID == "" {
		shipmentID = rec.ID
	}

	ctx, run := s.begin(ctx, rec.ID, agents.StageGuardrails, rec.Phase)
	verdict := s.gates.CheckEligibility(ctx, guardrails.EligibilityInput{
		ShipmentID:         shipmentID,
		DisruptionDetected: signal.DisruptionDetected,
		Severity:           signal.Severity,
	})
	if verdict.Warning != "" {
		run.warn("%s", verdict.Warning)
	}
	verdictOut := output{stage: agents.StageGuardrails, values: map[string]any{incident.KeyGuardrailsPre: verdict}}

	if verdict.Allowed {
		run.log("Eligibility check passed.")
		run.end("success", nil)
		return s.advanceTo(ctx, rec.ID, incident.PhaseGeneratingOptions, agents.StageOptionGenerator, verdictOut)
	}

	run.log("Eligibility check blocked. Reason: %s", verdict.Reason)
	run.skip("EXECUTING", verdict.Reason)
	run.end("blocked", map[string]any{"result": string(verdict.Result)})

	class := decision.Classification{
		Reality:   decision.RealityActive,
		Guardrail: verdict.Result,
		Outcome:   decision.NoActionRedundant,
	}
	if verdict.Result == decision.BlockedFalsePositive {
		class.Reality = decision.RealityNoRealIncident
		class.Outcome = decision.ObservedOnly
	}
	return s.conclude(ctx, rec.ID, pass, terminal{
		class:     class,
		outputs:   []output{verdictOut},
		rationale: verdict.Reason,
		reason:    string(verdict.Result),
	})
}

func (s *Scheduler) generateOptions(ctx context.Context, rec *incident.Record, pass incident.Context) error {
	if err := incident.ValidateStageInput(rec.Phase, pass); err != nil {
		return err
	}
	var signal agents.SignalAnalysis
	var cause agents.RootCause
	if err := decodeStage(pass, incident.KeySignalAnalysis, &signal); err != nil {
		return err
	}
	if err := decodeStage(pass, incident.KeyRootCause, &cause); err != nil {
		return err
	}

	ctx, run := s.begin(ctx, rec.ID, agents.StageOptionGenerator, rec.Phase)
	options, err := invoke(ctx, s.cfg.StageTimeout, func(ctx context.Context) (agents.OptionSet, error) {
		return s.agents.Options.Generate(ctx, signal, cause)
	})
	if err != nil {
		run.fail(err)
		return fmt.Errorf("option generation: %w", err)
	}
	if options.Options == nil {
		options.Options = []logistics.Option{}
	}
	options.OptionsCount = len(options.Options)
	run.log("Generated %d options.", len(options.Options))
	run.end("success", map[string]any{"options_count": len(options.Options)})
	optionsOut := output{stage: agents.StageOptionGenerator, values: map[string]any{incident.KeyOptionsData: options}}

	if len(options.Options) == 0 {
		return s.conclude(ctx, rec.ID, pass, terminal{
			class: decision.Classification{
				Reality:   decision.RealityActive,
				Guardrail: decision.Allowed,
				Outcome:   decision.NoActionNoOptions,
			},
			outputs:      []output{optionsOut},
			systemAction: "No viable options generated",
			rationale:    "Option generation produced no candidates.",
		})
	}
	return s.advanceTo(ctx, rec.ID, incident.PhaseGuardrailsPostcheck, agents.StageAuditor, optionsOut)
}

func (s *Scheduler) postcheck(ctx context.Context, rec *incident.Record, pass incident.Context) error {
	if err := incident.ValidateStageInput(rec.Phase, pass); err != nil {
		return err
	}
	var signal agents.SignalAnalysis
	var options agents.OptionSet
	if err := decodeStage(pass, incident.KeySignalAnalysis, &signal); err != nil {
		return err
	}
	if err := decodeStage(pass, incident.KeyOptionsData, &options); err != nil {
		return err
	}

	auditCtx, auditRun := s.begin(ctx, rec.ID, agents.StageAuditor, rec.Phase)
	budget, err := invoke(auditCtx, s.cfg.StageTimeout, func(ctx context.Context) (agents.BudgetAuthorization, error) {
		return s.agents.Budget.Authorize(ctx, signal, options)
	})
	if err != nil {
		auditRun.fail(err)
		return fmt.Errorf("budget authorization: %w", err)
	}
	auditRun.log("Budget authorized: $%.0f", budget.BudgetApproved)
	auditRun.end("success", nil)

	_, run := s.begin(ctx, rec.ID, agents.StageGuardrails, rec.Phase)
	verdict := s.gates.CheckSafety(guardrails.SafetyInput{Options: options.Options, ApprovedBudget: budget.BudgetApproved})
	outputs := []output{
		{stage: agents.StageAuditor, values: map[string]any{incident.KeyAuditorData: budget}},
		{stage: agents.StageGuardrails, values: map[string]any{
			incident.KeyGuardrailsPost: verdict,
			incident.KeyApprovedBudget: budget.BudgetApproved,
		}},
	}

	if verdict.Allowed {
		run.log("Safety check passed.")
		run.end("success", nil)
		return s.advanceTo(ctx, rec.ID, incident.PhaseNegotiating, agents.StageNegotiator, outputs...)
	}

	run.log("Safety check blocked. Reason: %s", verdict.Reason)
	run.skip("EXECUTING", verdict.Reason)
	run.end("blocked", map[string]any{"result": string(verdict.Result)})
	return s.conclude(ctx, rec.ID, pass, terminal{
		class: decision.Classification{
			Reality:   decision.RealityActive,
			Guardrail: verdict.Result,
			Outcome:   decision.NoActionGuardrailBlocked,
		},
		outputs:   outputs,
		rationale: verdict.Reason,
		reason:    string(verdict.Result),
	})
}

func (s *Scheduler) negotiate(ctx context.Context, rec *incident.Record, pass incident.Context) error {
	if err := incident.ValidateStageInput(rec.Phase, pass); err != nil {
		return err
	}
	var signal agents.SignalAnalysis
	var options agents.OptionSet
	if err := decodeStage(pass, incident.KeySignalAnalysis, &signal); err != nil {
		return err
	}
	if err := decodeStage(pass, incident.KeyOptionsData, &options); err != nil {
		return err
	}

	viable := make([]logistics.Option, 0, len(options.Options))
	for _, opt := range options.Options {
		if opt.IsViable() {
			viable = append(viable, opt)
		}
	}
	if len(viable) == 0 && len(options.Options) > 0 {
		return s.conclude(ctx, rec.ID, pass, terminal{
			class: decision.Classification{
				Reality:   decision.RealityActive,
				Guardrail: decision.Allowed,
				Outcome:   decision.NoActionNoOptions,
			},
			systemAction: "No viable options generated (Optimization space exhausted)",
			rationale:    "Every generated option was marked non-viable.",
		})
	}

	in, err := s.negotiatorInput(rec.ID, pass, signal, viable)
	if err != nil {
		return err
	}

	t, err := s.negotiateAndExecute(ctx, rec.ID, in)
	if err != nil {
		// Failures past this point never fall through to the success path.
		t.class = decision.Classification{
			Reality:   decision.RealityActive,
			Guardrail: decision.Allowed,
			Outcome:   decision.FailureInternal,
		}
		t.systemAction = "System Error - Execution Aborted"
		t.rationale = err.Error()
		t.reason = "negotiation failed"
		t.outputs = append(t.outputs, output{stage: "System", values: map[string]any{incident.KeyError: err.Error()}})
		s.logger.Error("negotiation or execution failed", zap.String("incident_id", rec.ID), zap.Error(err))
	}
	return s.conclude(ctx, rec.ID, pass, t)
}

// negotiatorInput assembles and validates the scorer's input contract.
func (s *Scheduler) negotiatorInput(id string, pass incident.Context, signal agents.SignalAnalysis, viable []logistics.Option) (negotiator.Input, error) {
	var budget json.RawMessage
	if e, ok := pass.Latest(incident.KeyApprovedBudget); ok {
		budget = e.Value
	}
	doc := map[string]any{
		"shipment_id":     id,
		"approved_budget": budget,
		"options":         viable,
	}
	if !signal.Shipment.SLADeadline.IsZero() {
		doc["sla_deadline"] = signal.Shipment.SLADeadline
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return negotiator.Input{}, fmt.Errorf("marshal negotiator input: %w", err)
	}
	return negotiator.ParseInput(raw)
}

// negotiateAndExecute runs the scorer, the ledger and the monitor. Whatever
// outputs were produced before a failure are returned with the error.
func (s *Scheduler) negotiateAndExecute(ctx context.Context, id string, in negotiator.Input) (t terminal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("negotiation panic: %v", r)
		}
	}()

	negCtx, negRun := s.begin(ctx, id, agents.StageNegotiator, incident.PhaseNegotiating)
	result, err := protect(negCtx, func(context.Context) (negotiator.Result, error) {
		return s.scorer.Negotiate(in), nil
	})
	if err != nil {
		negRun.fail(err)
		return t, err
	}
	negRun.log("Negotiation status: %s", result.Status)
	t.outputs = append(t.outputs, output{stage: agents.StageNegotiator, values: map[string]any{incident.KeyNegotiation: result}})

	if !result.Succeeded() {
		negRun.skip("EXECUTING", "No viable option found in negotiation")
		negRun.end("failure", nil)
		t.class = decision.Classification{
			Reality:   decision.RealityActive,
			Guardrail: decision.Allowed,
			Outcome:   decision.NoActionNoOptions,
		}
		t.systemAction = "Negotiator failed to optimize"
		t.rationale = result.Rationale
		return t, nil
	}
	negRun.end("success", map[string]any{"option_id": result.Selected.OptionID})
	selected := result.Selected

	execCtx, execRun := s.begin(ctx, id, agents.StageTreasurer, incident.PhaseNegotiating)
	execution, err := protect(execCtx, func(ctx context.Context) (ledger.Result, error) {
		return s.ledger.Execute(ctx, ledger.Request{
			ShipmentID:            in.ShipmentID,
			Option:                selected.Option,
			Cost:                  selected.NegotiatedCost,
			RecoveryBudgetCeiling: in.ApprovedBudget,
		})
	})
	if err != nil {
		execRun.fail(err)
		return t, fmt.Errorf("execute %s: %w", selected.OptionID, err)
	}
	s.metrics.ObserveExecution(execution.Status)
	execRun.log("Execution processed. Status: %s. Cost: $%.0f", execution.Status, selected.NegotiatedCost)
	execRun.end(execution.Status, map[string]any{
		"option_type": selected.Type,
		"cost":        selected.NegotiatedCost,
	})
	t.outputs = append(t.outputs, output{stage: agents.StageTreasurer, values: map[string]any{incident.KeyExecution: execution}})

	switch execution.Status {
	case ledger.StatusSkippedDuplicate:
		t.class = decision.Classification{
			Reality:   decision.RealityActive,
			Guardrail: decision.BlockedRedundant,
			Outcome:   decision.NoActionRedundant,
		}
		t.rationale = "A transaction already exists for this shipment."
		return t, nil
	case ledger.StatusInsufficientFunds:
		t.class = decision.Classification{
			Reality:   decision.RealityActive,
			Guardrail: decision.BlockedBudget,
			Outcome:   decision.NoActionGuardrailBlocked,
		}
		t.rationale = fmt.Sprintf("Emergency reserve cannot cover $%.0f.", selected.NegotiatedCost)
		return t, nil
	}

	monCtx, monRun := s.begin(ctx, id, agents.StageMonitor, incident.PhaseNegotiating)
	monitoring, err := invoke(monCtx, s.cfg.StageTimeout, func(ctx context.Context) (agents.Monitoring, error) {
		return s.agents.Monitor.Observe(ctx, execution, selected)
	})
	// A completed execution stays INTERVENTION_EXECUTED; monitoring errors
	// only reach the trace.
	if err != nil {
		monRun.fail(err)
		s.logger.Warn("post-execution monitoring failed",
			zap.String("incident_id", id),
			zap.String("option_id", selected.OptionID),
			zap.Error(err),
		)
		monitoring = agents.Monitoring{
			Timestamp:        s.now().UTC(),
			Agent:            agents.StageMonitor,
			ShipmentID:       in.ShipmentID,
			MonitoringStatus: "unavailable",
			Reason:           err.Error(),
		}
	} else {
		monRun.log("Verification complete. Recovery met: %t", monitoring.RecoveryMet)
		monRun.end("success", nil)
	}
	t.outputs = append(t.outputs, output{stage: agents.StageMonitor, values: map[string]any{incident.KeyPostExecution: monitoring}})

	t.class = decision.Classification{
		Reality:   decision.RealityActive,
		Guardrail: decision.Allowed,
		Outcome:   decision.InterventionExecuted,
	}
	t.rationale = result.Rationale
	return t, nil
}
