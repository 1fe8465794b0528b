package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
	"github.com/Ajith-Anand-R/VANGUARD/internal/metrics"
	"github.com/Ajith-Anand-R/VANGUARD/internal/notify"
	"github.com/Ajith-Anand-R/VANGUARD/internal/store"
)

// Job types.
const (
	JobSentinelCheck   = "sentinel_check"
	JobIncidentTrigger = "incident_trigger"
	JobSignalUpdate    = "signal_update"
)

// DefaultDelayHours is the ETA slip applied by incident_trigger when the
// payload names none.
const DefaultDelayHours = 48

// HandlerFunc is the function signature for job handlers.
type HandlerFunc func(ctx context.Context, c *Components, job *store.Job) (any, error)

// DefaultHandlers returns the map of built-in daemon handlers.
func DefaultHandlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		JobSentinelCheck:   handleSentinelCheck,
		JobIncidentTrigger: handleIncidentTrigger,
		JobSignalUpdate:    handleSignalUpdate,
	}
}

// JobTypes lists the job types DefaultHandlers understands.
func JobTypes() []string {
	return []string{JobIncidentTrigger, JobSentinelCheck, JobSignalUpdate}
}

func decodePayload(job *store.Job, v any) error {
	if job.PayloadJSON == "" || job.PayloadJSON == "{}" || job.PayloadJSON == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(job.PayloadJSON), v); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	return nil
}

// handleSentinelCheck assesses environmental risk and opens incidents for
// tracked idle shipments on a breach.
func handleSentinelCheck(ctx context.Context, c *Components, job *store.Job) (any, error) {
	var payload struct {
		ShipmentID string `json:"shipment_id"`
	}
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}

	ids := []string{payload.ShipmentID}
	if payload.ShipmentID == "" {
		tracked, err := c.TrackedIncidents(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tracked incidents: %w", err)
		}
		ids = tracked
	}

	report, err := c.Engine.SentinelCheck(ctx, c.Sentinel, ids)
	if err != nil {
		return nil, fmt.Errorf("sentinel check: %w", err)
	}
	if report.Assessment.TriggerDecision && len(report.Triggered) > 0 {
		if err := c.Notifier.Send(notify.FormatSentinelBreach(report.Assessment.AggregateRisk, report.Assessment.TriggerThreshold)); err != nil {
			c.Logger.Warn("sentinel notification failed", zap.Error(err))
		}
	}
	return report, nil
}

// handleIncidentTrigger slips a shipment's ETA and opens its incident.
func handleIncidentTrigger(ctx context.Context, c *Components, job *store.Job) (any, error) {
	payload := struct {
		ShipmentID string   `json:"shipment_id"`
		DelayHours *float64 `json:"delay_hours"`
	}{}
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}
	if payload.ShipmentID == "" {
		return nil, fmt.Errorf("incident_trigger: shipment_id is required")
	}
	delayHours := float64(DefaultDelayHours)
	if payload.DelayHours != nil {
		delayHours = *payload.DelayHours
	}

	rec, err := c.Engine.TriggerShipment(ctx, payload.ShipmentID, time.Duration(delayHours*float64(time.Hour)))
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", payload.ShipmentID, err)
	}
	return map[string]any{
		"incident_id": rec.ID,
		"phase":       rec.Phase,
		"delay_hours": delayHours,
	}, nil
}

// handleSignalUpdate refreshes the monitored signals from one of four
// sources: a single typed value, a monitoring report, new reports in the
// workspace reports directory, or the workspace signals file (only when its
// content changed).
func handleSignalUpdate(ctx context.Context, c *Components, job *store.Job) (any, error) {
	var payload struct {
		Type        string   `json:"type"`
		Value       *float64 `json:"value"`
		ReportPath  string   `json:"report_path"`
		ScanReports bool     `json:"scan_reports"`
		Path        string   `json:"path"`
		Force       bool     `json:"force"`
	}
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}
	now := c.Now()

	switch {
	case payload.Type != "":
		if payload.Value == nil {
			return nil, fmt.Errorf("signal_update: value is required with type")
		}
		signals, err := c.Repo.UpdateSignal(ctx, payload.Type, *payload.Value, now)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": "updated", "source": "payload", "signals": signals}, nil

	case payload.ReportPath != "":
		path, err := c.Workspace.ResolvePath(payload.ReportPath)
		if err != nil {
			return nil, err
		}
		provider := &metrics.ReportProvider{ReportPath: path, AsOf: now}
		readings, err := provider.Collect(ctx)
		if err != nil {
			return nil, err
		}
		signals, err := metrics.ApplyReadings(ctx, c.Repo, readings, now)
		if err != nil {
			return nil, fmt.Errorf("apply readings: %w", err)
		}
		return map[string]any{"status": "updated", "source": provider.Name(), "readings": len(readings), "signals": signals}, nil

	case payload.ScanReports:
		return applyNewReports(ctx, c, now)
	}

	path := c.Workspace.SignalsPath
	if payload.Path != "" {
		resolved, err := c.Workspace.ResolvePath(payload.Path)
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	changed, err := watchFile(ctx, c.State, path, "watch_signals_file")
	if err != nil {
		return nil, fmt.Errorf("watch signals file: %w", err)
	}
	if !changed && !payload.Force {
		return map[string]any{"status": "unchanged", "path": path}, nil
	}

	signals, err := logistics.LoadSignalsFile(path)
	if err != nil {
		return nil, err
	}
	signals.LastUpdated = now.UTC()
	if err := c.Repo.SetSignals(ctx, signals); err != nil {
		return nil, err
	}
	return map[string]any{"status": "updated", "source": "file", "path": path, "signals": signals}, nil
}

func applyNewReports(ctx context.Context, c *Components, now time.Time) (any, error) {
	changed, err := watchDirectory(ctx, c.State, c.Workspace.ReportsDir, "watch_reports_dir")
	if err != nil {
		return nil, fmt.Errorf("scan reports: %w", err)
	}
	if len(changed) == 0 {
		return map[string]any{"status": "unchanged", "path": c.Workspace.ReportsDir}, nil
	}

	var readings []metrics.Reading
	for _, path := range changed {
		provider := &metrics.ReportProvider{ReportPath: path, AsOf: now}
		r, err := provider.Collect(ctx)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r...)
	}
	readings = metrics.CanonicalizeReadings(readings)
	signals, err := metrics.ApplyReadings(ctx, c.Repo, readings, now)
	if err != nil {
		return nil, fmt.Errorf("apply readings: %w", err)
	}
	return map[string]any{"status": "updated", "source": "reports", "reports": changed, "readings": len(readings), "signals": signals}, nil
}
