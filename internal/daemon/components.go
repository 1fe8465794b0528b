package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ajith-Anand-R/VANGUARD/internal/agents"
	"github.com/Ajith-Anand-R/VANGUARD/internal/audit"
	"github.com/Ajith-Anand-R/VANGUARD/internal/config"
	"github.com/Ajith-Anand-R/VANGUARD/internal/decision"
	"github.com/Ajith-Anand-R/VANGUARD/internal/events"
	"github.com/Ajith-Anand-R/VANGUARD/internal/guardrails"
	"github.com/Ajith-Anand-R/VANGUARD/internal/incident"
	"github.com/Ajith-Anand-R/VANGUARD/internal/ledger"
	"github.com/Ajith-Anand-R/VANGUARD/internal/logging"
	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
	"github.com/Ajith-Anand-R/VANGUARD/internal/metrics"
	"github.com/Ajith-Anand-R/VANGUARD/internal/negotiator"
	"github.com/Ajith-Anand-R/VANGUARD/internal/notify"
	"github.com/Ajith-Anand-R/VANGUARD/internal/orchestrator"
	"github.com/Ajith-Anand-R/VANGUARD/internal/store"
	"github.com/Ajith-Anand-R/VANGUARD/internal/telemetry"
	"github.com/Ajith-Anand-R/VANGUARD/internal/workspace"
)

// Options selects how components are assembled.
type Options struct {
	Workspace *workspace.Workspace
	Config    *config.Config
	Logger    *zap.Logger
	// Collaborators replaces the default stage implementations when set.
	Collaborators *agents.Collaborators
	// Now overrides the clock for every component.
	Now     func() time.Time
	Version string
}

// Components is the fully wired pipeline shared by the daemon and the CLI.
type Components struct {
	Workspace *workspace.Workspace
	Config    *config.Config
	Logger    *zap.Logger

	State     *store.Store
	Repo      *logistics.Repository
	Incidents *incident.Store
	Ledger    *ledger.Ledger
	Decisions *decision.Log
	Audit     *audit.Logger
	Bus       *events.Bus
	Metrics   *metrics.Metrics
	Notifier  *notify.Notifier
	Telemetry *telemetry.Provider
	Sentinel  *agents.Sentinel
	Engine    *orchestrator.Scheduler

	now func() time.Time
}

// Build opens the workspace databases and wires the incident scheduler with
// its event sinks.
func Build(ctx context.Context, opts Options) (*Components, error) {
	ws := opts.Workspace
	if ws == nil {
		return nil, errors.New("workspace is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := logging.OrNop(opts.Logger)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if err := ws.EnsureDirs(); err != nil {
		return nil, err
	}

	state, err := store.Open(ws.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	decisions, err := decision.Open(ws.DecisionsDBPath)
	if err != nil {
		state.Close()
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	tp, err := telemetry.Init(ctx, telemetry.Options{
		Enabled: cfg.Telemetry.Enabled,
		Stdout:  cfg.Telemetry.Stdout,
		Version: opts.Version,
	})
	if err != nil {
		decisions.Close()
		state.Close()
		return nil, err
	}

	c := &Components{
		Workspace: ws,
		Config:    cfg,
		Logger:    logger,
		State:     state,
		Repo:      logistics.NewRepository(state),
		Incidents: incident.NewStore(state).WithClock(now),
		Ledger:    ledger.New(state).WithClock(now),
		Decisions: decisions,
		Audit:     audit.NewLogger(ws.AuditDBPath),
		Bus:       events.NewBus(logger),
		Metrics:   metrics.New(),
		Notifier:  &notify.Notifier{Enabled: cfg.Notifications},
		Telemetry: tp,
		Sentinel: &agents.Sentinel{
			Weights: agents.Weights{
				Port:     cfg.Sentinel.Weights.Port,
				Weather:  cfg.Sentinel.Weights.Weather,
				Supplier: cfg.Sentinel.Weights.Supplier,
			},
			Threshold: cfg.Sentinel.Threshold,
			Now:       now,
		},
		now: now,
	}

	c.Bus.Subscribe("log", events.LogSink(logger))
	c.Bus.Subscribe("audit", c.Audit.Sink())
	c.Bus.Subscribe("metrics", c.Metrics.Sink())
	c.Bus.Subscribe("notify", c.Notifier.Sink())

	collaborators := agents.Defaults(c.Repo, now)
	if opts.Collaborators != nil {
		collaborators = *opts.Collaborators
	}

	c.Engine = orchestrator.New(orchestrator.Deps{
		Incidents: c.Incidents,
		Repo:      c.Repo,
		Ledger:    c.Ledger,
		Decisions: decisions,
		Gates: &guardrails.Evaluator{
			History:           decisions,
			MinSeverity:       cfg.Guardrails.MinSeverity,
			IdempotencyWindow: cfg.Guardrails.IdempotencyWindow,
			AuditReadFailure:  cfg.Guardrails.AuditReadFailure,
			LowConfidence:     cfg.Guardrails.LowConfidence,
			Now:               now,
			Logger:            logger,
		},
		Scorer: negotiator.New(
			cfg.Negotiator.Reference(),
			cfg.Negotiator.DefaultSLA,
			cfg.Negotiator.MaxRisk,
			cfg.Negotiator.ConfidenceCap,
		),
		Agents:  collaborators,
		Bus:     c.Bus,
		Metrics: c.Metrics,
		Tracer:  tp.Tracer(),
		Logger:  logger,
		Now:     now,
	}, orchestrator.Config{
		MaxRetries:             cfg.MaxRetries,
		RiskFloor:              cfg.RiskFloor,
		UnknownCauseConfidence: cfg.Guardrails.UnknownCauseConfidence,
		LeaseTTL:               cfg.LeaseTTL,
		StageTimeout:           cfg.StageTimeout,
	})
	return c, nil
}

// Now returns the components' clock reading.
func (c *Components) Now() time.Time {
	return c.now()
}

// TrackedIncidents returns the ids of tracked shipments.
func (c *Components) TrackedIncidents(ctx context.Context) ([]string, error) {
	shipments, err := c.Repo.Shipments(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, s := range shipments {
		if c.Config.IsTracked(s.ID) {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

// Close flushes traces and closes the databases.
func (c *Components) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(
		c.Telemetry.Shutdown(ctx),
		c.Decisions.Close(),
		c.State.Close(),
	)
}
