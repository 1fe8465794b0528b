// Package orchestrator drives incidents through the response pipeline, one
// phase per Advance call.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Ajith-Anand-R/VANGUARD/internal/agents"
	"github.com/Ajith-Anand-R/VANGUARD/internal/decision"
	"github.com/Ajith-Anand-R/VANGUARD/internal/events"
	"github.com/Ajith-Anand-R/VANGUARD/internal/guardrails"
	"github.com/Ajith-Anand-R/VANGUARD/internal/incident"
	"github.com/Ajith-Anand-R/VANGUARD/internal/ledger"
	"github.com/Ajith-Anand-R/VANGUARD/internal/logging"
	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
	"github.com/Ajith-Anand-R/VANGUARD/internal/metrics"
	"github.com/Ajith-Anand-R/VANGUARD/internal/negotiator"
)

// ErrBusy is returned by Trigger and Reset when the incident is being advanced.
var ErrBusy = errors.New("incident is busy")

// Recorder appends decision records.
type Recorder interface {
	Record(ctx context.Context, in decision.Input) (*decision.Record, error)
}

// Config holds the scheduler policy knobs.
type Config struct {
	MaxRetries             int
	RiskFloor              float64
	UnknownCauseConfidence float64
	LeaseTTL               time.Duration
	// StageTimeout bounds each collaborator call. Zero disables it.
	StageTimeout time.Duration
	// Owner identifies this process in incident leases. Empty picks a random id.
	Owner string
}

// Deps are the components the scheduler calls into.
type Deps struct {
	Incidents *incident.Store
	Repo      *logistics.Repository
	Ledger    *ledger.Ledger
	Decisions Recorder
	Gates     *guardrails.Evaluator
	Scorer    *negotiator.Scorer
	Agents    agents.Collaborators
	Bus       *events.Bus
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	Logger    *zap.Logger
	Now       func() time.Time
}

// Scheduler is the incident state machine driver.
type Scheduler struct {
	incidents *incident.Store
	repo      *logistics.Repository
	ledger    *ledger.Ledger
	decisions Recorder
	gates     *guardrails.Evaluator
	scorer    *negotiator.Scorer
	agents    agents.Collaborators
	bus       *events.Bus
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time
	cfg       Config

	mu     sync.Mutex
	active map[string]struct{}
}

// New builds a scheduler.
func New(deps Deps, cfg Config) *Scheduler {
	if cfg.Owner == "" {
		cfg.Owner = "scheduler-" + uuid.NewString()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("github.com/Ajith-Anand-R/VANGUARD/internal/orchestrator")
	}
	return &Scheduler{
		incidents: deps.Incidents,
		repo:      deps.Repo,
		ledger:    deps.Ledger,
		decisions: deps.Decisions,
		gates:     deps.Gates,
		scorer:    deps.Scorer,
		agents:    deps.Agents,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		logger:    logging.OrNop(deps.Logger),
		now:       deps.Now,
		cfg:       cfg,
		active:    make(map[string]struct{}),
	}
}

// Result describes what one Advance call did.
type Result struct {
	ID      string         `json:"id"`
	Skipped bool           `json:"skipped,omitempty"`
	From    incident.Phase `json:"from"`
	To      incident.Phase `json:"to"`
}

// Advance runs the side effects of the incident's current phase and moves it
// at most one phase forward. It is a no-op when another dispatch for id is in
// flight or the phase has no work.
func (s *Scheduler) Advance(ctx context.Context, id string) (Result, error) {
	release, ok, err := s.acquire(ctx, id)
	if err != nil {
		return Result{ID: id}, err
	}
	if !ok {
		s.logger.Debug("skipping re-entrant dispatch", zap.String("incident_id", id))
		return Result{ID: id, Skipped: true}, nil
	}
	defer release()

	rec, err := s.incidents.Get(ctx, id)
	if err != nil {
		return Result{ID: id}, err
	}
	res := Result{ID: id, From: rec.Phase, To: rec.Phase}
	if !rec.Phase.Active() {
		return res, nil
	}

	pass := rec.Context.CurrentPass()
	if rec.Phase == incident.PhaseAtRisk {
		if stabilized, err := s.enforceRiskFloor(ctx, rec, pass); err != nil {
			return res, err
		} else if stabilized {
			res.To = incident.PhaseStabilized
			return res, nil
		}
	}

	if runErr := s.dispatch(ctx, rec, pass); runErr != nil {
		if err := s.handleFailure(ctx, rec, pass, runErr); err != nil {
			return res, err
		}
	}

	after, err := s.incidents.Get(ctx, id)
	if err != nil {
		return res, err
	}
	res.To = after.Phase
	return res, nil
}

// GetState returns the persisted record.
func (s *Scheduler) GetState(ctx context.Context, id string) (*incident.Record, error) {
	return s.incidents.Get(ctx, id)
}

// Reset returns id to IDLE with an empty context.
func (s *Scheduler) Reset(ctx context.Context, id string) (*incident.Record, error) {
	release, ok, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("reset %s: %w", id, ErrBusy)
	}
	defer release()

	change, err := s.incidents.Reset(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reset %s: %w", id, err)
	}
	s.publishChange(ctx, change, "reset")
	return change.After, nil
}

// Trigger opens a new pass for id: AT_RISK with a fresh retry budget.
// extra is recorded in the context as written by the trigger.
func (s *Scheduler) Trigger(ctx context.Context, id string, extra map[string]any) (*incident.Record, error) {
	release, ok, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("trigger %s: %w", id, ErrBusy)
	}
	defer release()

	change, err := s.incidents.Trigger(ctx, id, extra)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", id, err)
	}
	s.publishChange(ctx, change, "triggered")
	return change.After, nil
}

// TriggerShipment delays the shipment's ETA by delay (when positive) and
// triggers its incident. Unknown shipments are an error.
func (s *Scheduler) TriggerShipment(ctx context.Context, shipmentID string, delay time.Duration) (*incident.Record, error) {
	if delay > 0 {
		if _, err := s.repo.DelayShipment(ctx, shipmentID, delay); err != nil {
			return nil, err
		}
	} else if _, err := s.repo.Shipment(ctx, shipmentID); err != nil {
		return nil, err
	}
	return s.Trigger(ctx, shipmentID, map[string]any{
		incident.KeyTrigger: map[string]any{
			"incident_id":  shipmentID,
			"delay_hours":  delay.Hours(),
			"triggered_at": s.now().UTC().Format(time.RFC3339Nano),
		},
	})
}

// acquire takes the in-process guard and the persistent lease for id. ok is
// false when either is held elsewhere. release is always safe to call once.
func (s *Scheduler) acquire(ctx context.Context, id string) (func(), bool, error) {
	s.mu.Lock()
	if _, busy := s.active[id]; busy {
		s.mu.Unlock()
		return nil, false, nil
	}
	s.active[id] = struct{}{}
	s.mu.Unlock()

	drop := func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
	}

	if err := s.incidents.AcquireLease(ctx, id, s.cfg.Owner, s.cfg.LeaseTTL); err != nil {
		drop()
		if errors.Is(err, incident.ErrLeaseHeld) {
			s.logger.Debug("incident lease held elsewhere", zap.String("incident_id", id), zap.Error(err))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire lease for %s: %w", id, err)
	}

	release := func() {
		if err := s.incidents.ReleaseLease(context.WithoutCancel(ctx), id, s.cfg.Owner); err != nil {
			s.logger.Warn("release lease failed", zap.String("incident_id", id), zap.Error(err))
		}
		drop()
	}
	return release, true, nil
}

// enforceRiskFloor stabilizes an AT_RISK incident whose recorded aggregate
// risk has dropped below the floor.
func (s *Scheduler) enforceRiskFloor(ctx context.Context, rec *incident.Record, pass incident.Context) (bool, error) {
	var risk float64
	found, err := pass.Decode(incident.KeyAggregateRisk, &risk)
	if err != nil || !found || risk == 0 || risk >= s.cfg.RiskFloor {
		return false, nil
	}
	s.emit(ctx, events.Event{
		Type:       events.StageLog,
		IncidentID: rec.ID,
		Stage:      "System",
		Message:    fmt.Sprintf("Invariant enforced: risk %.0f below floor %.0f. Stabilizing.", risk, s.cfg.RiskFloor),
	})
	err = s.conclude(ctx, rec.ID, pass, terminal{
		class: decision.Classification{
			Reality:   decision.RealityResolvedExternally,
			Guardrail: decision.Allowed,
			Outcome:   decision.ObservedOnly,
		},
		finalDecision: "STABILIZED_LOW_RISK",
		rationale:     fmt.Sprintf("Aggregate risk %.0f fell below the safety floor of %.0f.", risk, s.cfg.RiskFloor),
		reason:        "risk below floor",
	})
	return err == nil, err
}

// handleFailure applies the retry and escalation policy to an error that
// escaped phase dispatch.
func (s *Scheduler) handleFailure(ctx context.Context, rec *incident.Record, pass incident.Context, runErr error) error {
	contract := errors.Is(runErr, incident.ErrContractViolation)
	if !contract && rec.RetryCount < s.cfg.MaxRetries {
		s.logger.Warn("stage failed, will retry",
			zap.String("incident_id", rec.ID),
			zap.String("phase", rec.Phase.String()),
			zap.Int("attempt", rec.RetryCount+1),
			zap.Int("max_retries", s.cfg.MaxRetries),
			zap.Error(runErr),
		)
		s.metrics.ObserveRetry()
		_, err := s.write(ctx, rec.ID, "retry", incident.Mutation{IncrementRetry: true})
		return err
	}

	s.logger.Error("escalating to manual intervention",
		zap.String("incident_id", rec.ID),
		zap.String("phase", rec.Phase.String()),
		zap.Bool("contract_violation", contract),
		zap.Error(runErr),
	)
	s.emit(ctx, events.Event{
		Type:       events.StageEnded,
		IncidentID: rec.ID,
		Stage:      "System",
		Level:      "error",
		Message:    runErr.Error(),
		Fields:     map[string]any{"status": "error"},
	})
	return s.conclude(ctx, rec.ID, pass, terminal{
		class: decision.Classification{
			Reality:   decision.RealityActive,
			Guardrail: decision.Allowed,
			Outcome:   decision.FailureInternal,
		},
		phase:     incident.PhaseManualIntervention,
		outputs:   []output{{stage: "System", values: map[string]any{incident.KeyError: runErr.Error()}}},
		rationale: fmt.Sprintf("Escalated from %s: %v", rec.Phase, runErr),
		reason:    runErr.Error(),
	})
}
