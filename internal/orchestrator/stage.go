package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Ajith-Anand-R/VANGUARD/internal/agents"
	"github.com/Ajith-Anand-R/VANGUARD/internal/decision"
	"github.com/Ajith-Anand-R/VANGUARD/internal/events"
	"github.com/Ajith-Anand-R/VANGUARD/internal/incident"
)

// ErrStageTimeout is returned when a collaborator exceeds the stage timeout.
var ErrStageTimeout = errors.New("stage timed out")

// output is a set of context values written by one stage.
type output struct {
	stage  string
	values map[string]any
}

// terminal describes how a pass ends.
type terminal struct {
	class decision.Classification
	// phase defaults to STABILIZED.
	phase         incident.Phase
	outputs       []output
	finalDecision string
	systemAction  string
	rationale     string
	reason        string
}

// conclude appends the decision record for a terminal branch and moves the
// incident to its resting phase in a single write. A failed record write is
// logged and the incident still comes to rest.
func (s *Scheduler) conclude(ctx context.Context, id string, pass incident.Context, t terminal) error {
	phase := t.phase
	if phase == "" {
		phase = incident.PhaseStabilized
	}

	snapshot := pass.Snapshot()
	for _, out := range t.outputs {
		for k, v := range out.values {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshal %s output %s: %w", out.stage, k, err)
			}
			snapshot[k] = raw
		}
	}

	_, run := s.begin(ctx, id, agents.StageDecisionLogger, phase)
	finalDecision := t.finalDecision
	if finalDecision == "" {
		finalDecision = string(t.class.Outcome)
	}
	final := map[string]any{incident.KeyFinalDecision: finalDecision}

	rec, err := s.recordDecision(ctx, decision.Input{
		ShipmentID:     id,
		Classification: t.class,
		SystemAction:   t.systemAction,
		Rationale:      t.rationale,
		Snapshot:       snapshot,
		Now:            s.now(),
	})
	if err != nil {
		s.logger.Warn("decision log write failed, forcing rest",
			zap.String("incident_id", id),
			zap.String("outcome", string(t.class.Outcome)),
			zap.Error(err),
		)
		run.warn("Logging failed: %v", err)
		run.fail(err)
	} else {
		final[incident.KeyFinalLog] = rec
		s.metrics.ObserveDecision(string(rec.Outcome), string(rec.Guardrail))
		run.log("Decision logged: %s", rec.Outcome)
		run.end("success", map[string]any{"incident_log_id": rec.IncidentID})
	}

	muts := make([]incident.Mutation, 0, len(t.outputs)+1)
	for _, out := range t.outputs {
		muts = append(muts, incident.Mutation{Stage: out.stage, Context: out.values})
	}
	muts = append(muts, incident.Mutation{
		Phase:          phase,
		Stage:          agents.StageDecisionLogger,
		SetActiveStage: true,
		Context:        final,
	})
	reason := t.reason
	if reason == "" {
		reason = string(t.class.Outcome)
	}
	_, err = s.write(ctx, id, reason, muts...)
	return err
}

// recordDecision shields the pipeline from recorder panics.
func (s *Scheduler) recordDecision(ctx context.Context, in decision.Input) (rec *decision.Record, err error) {
	if s.decisions == nil {
		return nil, errors.New("no decision recorder configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decision recorder panic: %v", r)
		}
	}()
	return s.decisions.Record(ctx, in)
}

// advanceTo writes stage outputs and moves to the next phase.
func (s *Scheduler) advanceTo(ctx context.Context, id string, next incident.Phase, activeStage string, outputs ...output) error {
	muts := make([]incident.Mutation, 0, len(outputs)+1)
	for _, out := range outputs {
		muts = append(muts, incident.Mutation{Stage: out.stage, Context: out.values})
	}
	muts = append(muts, incident.Mutation{Phase: next, ActiveStage: activeStage, SetActiveStage: true})
	_, err := s.write(ctx, id, "advance", muts...)
	return err
}

// write applies muts to id in one store transaction and publishes the change.
func (s *Scheduler) write(ctx context.Context, id, reason string, muts ...incident.Mutation) (*incident.Change, error) {
	change, err := s.incidents.Update(ctx, id, func(r *incident.Record, at time.Time) error {
		for _, m := range muts {
			if err := m.Apply(r, at); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("write incident %s: %w", id, err)
	}
	s.publishChange(ctx, change, reason)
	return change, nil
}

func (s *Scheduler) publishChange(ctx context.Context, change *incident.Change, reason string) {
	after := change.After
	var from string
	var before map[string]json.RawMessage
	if change.Before != nil {
		from = string(change.Before.Phase)
		before = change.Before.Context.CurrentPass().Snapshot()
	}
	diff, err := events.SnapshotDiff(before, after.Context.CurrentPass().Snapshot())
	if err != nil {
		s.logger.Debug("context diff failed", zap.String("incident_id", after.ID), zap.Error(err))
	}
	s.emit(ctx, events.Event{
		Type:       events.StateChanged,
		IncidentID: after.ID,
		Phase:      string(after.Phase),
		From:       from,
		To:         string(after.Phase),
		Reason:     reason,
		Diff:       diff,
		Fields: map[string]any{
			"active_stage": after.ActiveStage,
			"retry_count":  after.RetryCount,
		},
	})
}

func (s *Scheduler) emit(ctx context.Context, ev events.Event) {
	if ev.At.IsZero() {
		ev.At = s.now().UTC()
	}
	s.bus.Publish(ctx, ev)
}

// stageRun tracks the events and span of one stage execution.
type stageRun struct {
	s     *Scheduler
	ctx   context.Context
	id    string
	stage string
	phase incident.Phase
	start time.Time
	span  trace.Span
	ended bool
}

func (s *Scheduler) begin(ctx context.Context, id, stage string, phase incident.Phase) (context.Context, *stageRun) {
	ctx, span := s.tracer.Start(ctx, stage, trace.WithAttributes(
		attribute.String("incident.id", id),
		attribute.String("incident.phase", string(phase)),
	))
	run := &stageRun{s: s, ctx: ctx, id: id, stage: stage, phase: phase, start: time.Now(), span: span}
	s.emit(ctx, events.Event{Type: events.StageStarted, IncidentID: id, Stage: stage, Phase: string(phase)})
	return ctx, run
}

func (r *stageRun) log(format string, args ...any) {
	r.logAt("info", format, args...)
}

func (r *stageRun) warn(format string, args ...any) {
	r.logAt("warn", format, args...)
}

func (r *stageRun) logAt(level, format string, args ...any) {
	r.s.emit(r.ctx, events.Event{
		Type:       events.StageLog,
		IncidentID: r.id,
		Stage:      r.stage,
		Phase:      string(r.phase),
		Level:      level,
		Message:    fmt.Sprintf(format, args...),
	})
}

// skip reports that phase was bypassed.
func (r *stageRun) skip(phase, reason string) {
	r.s.emit(r.ctx, events.Event{
		Type:       events.StageSkipped,
		IncidentID: r.id,
		Stage:      r.stage,
		Phase:      phase,
		Reason:     reason,
	})
}

func (r *stageRun) end(status string, fields map[string]any) {
	if r.ended {
		return
	}
	r.ended = true
	all := map[string]any{
		"status":           status,
		"duration_seconds": time.Since(r.start).Seconds(),
	}
	for k, v := range fields {
		all[k] = v
	}
	r.span.SetAttributes(attribute.String("stage.status", status))
	r.span.End()
	r.s.emit(r.ctx, events.Event{
		Type:       events.StageEnded,
		IncidentID: r.id,
		Stage:      r.stage,
		Phase:      string(r.phase),
		Fields:     all,
	})
}

func (r *stageRun) fail(err error) {
	if r.ended {
		return
	}
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.s.emit(r.ctx, events.Event{
		Type:       events.StageLog,
		IncidentID: r.id,
		Stage:      r.stage,
		Level:      "error",
		Message:    err.Error(),
	})
	r.end("error", nil)
}

// invoke calls a collaborator with panic recovery and the optional stage timeout.
func invoke[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return protect(ctx, fn)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := protect(ctx, fn)
		done <- result{v: v, err: err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrStageTimeout, timeout)
		}
		return zero, ctx.Err()
	}
}

func protect[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collaborator panic: %v", r)
		}
	}()
	return fn(ctx)
}

// dispatch runs the handler for rec's phase. Panics in the handler itself are
// converted to errors so the retry policy sees them.
func (s *Scheduler) dispatch(ctx context.Context, rec *incident.Record, pass incident.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("phase handler panic",
				zap.String("incident_id", rec.ID),
				zap.String("phase", rec.Phase.String()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("%s handler panic: %v", rec.Phase, r)
		}
	}()

	switch rec.Phase {
	case incident.PhaseAtRisk:
		return s.startAnalysis(ctx, rec)
	case incident.PhaseAnalyzing:
		return s.analyze(ctx, rec, pass)
	case incident.PhaseGuardrailsPrecheck:
		return s.precheck(ctx, rec, pass)
	case incident.PhaseGeneratingOptions:
		return s.generateOptions(ctx, rec, pass)
	case incident.PhaseGuardrailsPostcheck:
		return s.postcheck(ctx, rec, pass)
	case incident.PhaseNegotiating:
		return s.negotiate(ctx, rec, pass)
	}
	return nil
}

// decodeStage reads key from the current pass. A missing or malformed value
// is a contract violation.
func decodeStage(pass incident.Context, key string, v any) error {
	found, err := pass.Decode(key, v)
	if err != nil {
		return incident.ContractViolation("%v", err)
	}
	if !found {
		return incident.ContractViolation("context is missing %s", key)
	}
	return nil
}
