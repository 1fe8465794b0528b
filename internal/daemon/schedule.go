package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/Ajith-Anand-R/VANGUARD/internal/store"
)

const watermarkKey = "scheduler_watermark"

// maxCatchUp bounds how many missed sentinel slots are enqueued after downtime.
const maxCatchUp = 10

// Scheduler manages recurring job scheduling.
type Scheduler struct {
	store            *store.Store
	sentinelInterval time.Duration
}

// NewScheduler creates a scheduler that enqueues a sentinel_check job every interval.
func NewScheduler(st *store.Store, sentinelInterval time.Duration) (*Scheduler, error) {
	if sentinelInterval <= 0 {
		return nil, fmt.Errorf("sentinel interval must be positive, got %s", sentinelInterval)
	}
	return &Scheduler{store: st, sentinelInterval: sentinelInterval}, nil
}

// Tick schedules any jobs that need to be enqueued based on current time.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	watermarkStr, err := s.store.GetKV(ctx, watermarkKey)
	if err != nil {
		return fmt.Errorf("get scheduler watermark: %w", err)
	}

	var lastWatermark time.Time
	if watermarkStr != "" {
		lastWatermark, err = time.Parse(time.RFC3339Nano, watermarkStr)
		if err != nil {
			return fmt.Errorf("parse watermark: %w", err)
		}
	}

	// First run: schedule one check now and don't replay the past.
	if lastWatermark.IsZero() {
		if err := s.enqueueSentinel(ctx, now.UTC().Truncate(s.sentinelInterval)); err != nil {
			return err
		}
		return s.setWatermark(ctx, now)
	}

	if err := s.scheduleSentinelChecks(ctx, lastWatermark, now); err != nil {
		return fmt.Errorf("schedule sentinel_check: %w", err)
	}
	return s.setWatermark(ctx, now)
}

// scheduleSentinelChecks enqueues a sentinel_check for every interval
// boundary in (lastWatermark, now]. Only the most recent maxCatchUp slots are
// kept after a long pause.
func (s *Scheduler) scheduleSentinelChecks(ctx context.Context, lastWatermark, now time.Time) error {
	interval := s.sentinelInterval
	start := lastWatermark.UTC().Truncate(interval).Add(interval)
	if earliest := now.UTC().Truncate(interval).Add(-time.Duration(maxCatchUp-1) * interval); start.Before(earliest) {
		start = earliest
	}

	for current := start; !current.After(now); current = current.Add(interval) {
		if err := s.enqueueSentinel(ctx, current); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) enqueueSentinel(ctx context.Context, at time.Time) error {
	payload := map[string]any{
		"scheduled_time": at.Format(time.RFC3339),
	}
	if _, _, err := s.store.EnqueueUnique(ctx, JobSentinelCheck, at, payload); err != nil {
		return fmt.Errorf("enqueue %s at %s: %w", JobSentinelCheck, at, err)
	}
	return nil
}

func (s *Scheduler) setWatermark(ctx context.Context, now time.Time) error {
	if err := s.store.SetKV(ctx, watermarkKey, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("update watermark: %w", err)
	}
	return nil
}
