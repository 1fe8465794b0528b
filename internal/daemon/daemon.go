// Package daemon runs the long-lived VANGUARD process: it schedules and
// executes jobs, watches the signal inputs and advances tracked incidents on
// every tick.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ajith-Anand-R/VANGUARD/internal/store"
)

// ErrLocked is returned when another daemon holds the workspace lock.
var ErrLocked = errors.New("daemon already running for this workspace")

// Daemon is a long-running process that claims and executes jobs.
type Daemon struct {
	*Components

	Scheduler    *Scheduler
	Handlers     map[string]HandlerFunc
	LeaseOwner   string
	LeaseFor     time.Duration
	PollInterval time.Duration
	Concurrency  int

	lock *flock.Flock
}

// Config holds daemon configuration.
type Config struct {
	LeaseOwner   string
	LeaseFor     time.Duration
	PollInterval time.Duration
}

// New creates a daemon with the default handlers. It takes the workspace
// lock; Close releases it.
func New(c *Components, cfg Config) (*Daemon, error) {
	lock := flock.New(c.Workspace.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (%s)", ErrLocked, c.Workspace.LockPath)
	}

	scheduler, err := NewScheduler(c.State, c.Config.Sentinel.Interval)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	if cfg.LeaseOwner == "" {
		hostname, _ := os.Hostname()
		cfg.LeaseOwner = fmt.Sprintf("daemon-%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8])
	}
	if cfg.LeaseFor == 0 {
		cfg.LeaseFor = 30 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = c.Config.TickInterval
	}

	return &Daemon{
		Components:   c,
		Scheduler:    scheduler,
		Handlers:     DefaultHandlers(),
		LeaseOwner:   cfg.LeaseOwner,
		LeaseFor:     cfg.LeaseFor,
		PollInterval: cfg.PollInterval,
		Concurrency:  c.Config.Concurrency,
		lock:         lock,
	}, nil
}

// LockHeld reports whether a daemon currently holds the lock at path.
func LockHeld(path string) (bool, error) {
	probe := flock.New(path)
	locked, err := probe.TryLock()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if locked {
		_ = probe.Unlock()
		return false, nil
	}
	return true, nil
}

// RegisterHandler registers a handler for a specific job type.
func (d *Daemon) RegisterHandler(jobType string, handler HandlerFunc) {
	d.Handlers[jobType] = handler
}

// Run starts the daemon run loop. It returns when ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d.audit("daemon_started", "", map[string]any{
		"workspace":     d.Workspace.Root,
		"lease_owner":   d.LeaseOwner,
		"lease_for":     d.LeaseFor.String(),
		"poll_interval": d.PollInterval.String(),
		"concurrency":   d.Concurrency,
	})
	d.Logger.Info("daemon started",
		zap.String("workspace", d.Workspace.Root),
		zap.Duration("poll_interval", d.PollInterval),
		zap.Int("concurrency", d.Concurrency),
	)

	if addr := d.Config.MetricsAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: d.metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.Logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if watcher, err := newFileWatcher(d.Logger, []string{d.Workspace.SignalsPath}, []string{d.Workspace.ReportsDir}); err != nil {
		d.Logger.Warn("signal file watch disabled", zap.Error(err))
	} else {
		go watcher.run(ctx,
			func(path string) { d.enqueueNow(ctx, JobSignalUpdate, map[string]any{"path": path}) },
			func(string) { d.enqueueNow(ctx, JobSignalUpdate, map[string]any{"scan_reports": true}) },
		)
	}

	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.audit("daemon_stopped", "", map[string]any{"workspace": d.Workspace.Root})
			d.Logger.Info("daemon stopped")
			return nil

		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one iteration of the loop: schedule, run one job, advance incidents.
func (d *Daemon) Tick(ctx context.Context) {
	now := d.Now()
	if n, err := d.State.RequeueExpired(ctx, now); err != nil {
		d.Logger.Warn("requeue expired jobs failed", zap.Error(err))
	} else if n > 0 {
		d.Logger.Info("requeued expired jobs", zap.Int64("count", n))
	}
	if err := d.Scheduler.Tick(ctx, now); err != nil {
		d.Logger.Error("scheduler tick failed", zap.Error(err))
	}
	if err := d.claimAndExecute(ctx); err != nil {
		d.Logger.Error("job execution failed", zap.Error(err))
	}
	if err := d.advanceIncidents(ctx); err != nil {
		d.Logger.Error("advance incidents failed", zap.Error(err))
	}
}

// advanceIncidents moves every tracked active incident one phase forward,
// at most Concurrency at a time.
func (d *Daemon) advanceIncidents(ctx context.Context) error {
	records, err := d.Incidents.List(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := d.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, rec := range records {
		if !rec.Phase.Active() || !d.Config.IsTracked(rec.ID) {
			continue
		}
		id := rec.ID
		g.Go(func() error {
			res, err := d.Engine.Advance(gctx, id)
			if err != nil {
				// One incident's failure must not cancel the others.
				d.Logger.Error("advance failed", zap.String("incident_id", id), zap.Error(err))
				return nil
			}
			if res.From != res.To {
				d.Logger.Debug("incident advanced",
					zap.String("incident_id", id),
					zap.String("from", res.From.String()),
					zap.String("to", res.To.String()),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *Daemon) claimAndExecute(ctx context.Context) error {
	job, err := d.State.ClaimNext(ctx, d.Now(), d.LeaseOwner, d.LeaseFor)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return nil
	}
	_, err = d.execute(ctx, job)
	return err
}

// execute runs job with its handler and records the outcome.
func (d *Daemon) execute(ctx context.Context, job *store.Job) (any, error) {
	d.audit("job_started", "", map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"payload":  job.PayloadJSON,
	})

	handler, ok := d.Handlers[job.Type]
	if !ok {
		err := fmt.Errorf("no handler for job type: %s", job.Type)
		d.finishFailed(ctx, job, err)
		return nil, err
	}

	result, execErr := handler(ctx, d.Components, job)
	if execErr != nil {
		d.finishFailed(ctx, job, execErr)
		return nil, execErr
	}

	if err := d.State.Succeed(ctx, job.ID, result); err != nil {
		return nil, fmt.Errorf("mark job succeeded: %w", err)
	}
	d.Metrics.ObserveJob(job.Type, store.JobSucceeded)
	d.audit("job_succeeded", "", map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"result":   result,
	})
	return result, nil
}

func (d *Daemon) finishFailed(ctx context.Context, job *store.Job, jobErr error) {
	if err := d.State.Fail(ctx, job.ID, jobErr); err != nil {
		d.Logger.Error("mark job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	d.Metrics.ObserveJob(job.Type, store.JobFailed)
	d.audit("job_failed", "", map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"error":    jobErr.Error(),
	})
}

func (d *Daemon) enqueueNow(ctx context.Context, jobType string, payload any) {
	if _, _, err := d.State.EnqueueUnique(ctx, jobType, d.Now(), payload); err != nil {
		d.Logger.Warn("enqueue failed", zap.String("job_type", jobType), zap.Error(err))
	}
}

func (d *Daemon) audit(eventType, incidentID string, payload any) {
	if err := d.Audit.LogEvent("daemon", eventType, incidentID, payload); err != nil {
		d.Logger.Warn("audit log failed", zap.String("event", eventType), zap.Error(err))
	}
}

func (d *Daemon) metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Close releases the workspace lock. The components stay open.
func (d *Daemon) Close() error {
	if d.lock == nil {
		return nil
	}
	return d.lock.Unlock()
}
