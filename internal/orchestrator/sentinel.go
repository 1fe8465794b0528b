package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Ajith-Anand-R/VANGUARD/internal/agents"
	"github.com/Ajith-Anand-R/VANGUARD/internal/incident"
)

// SentinelReport is the result of one sentinel sweep.
type SentinelReport struct {
	Assessment agents.Assessment `json:"assessment"`
	Triggered  []string          `json:"triggered,omitempty"`
	Refreshed  []string          `json:"refreshed,omitempty"`
	Busy       []string          `json:"busy,omitempty"`
}

// SentinelCheck assesses the current environmental signals. On a breach every
// incident in ids that is idle (or has no record yet) is triggered with the
// aggregate risk. Incidents already AT_RISK get the fresh risk reading so the
// low-risk bypass can see recoveries.
func (s *Scheduler) SentinelCheck(ctx context.Context, sentinel *agents.Sentinel, ids []string) (SentinelReport, error) {
	signals, err := s.repo.Signals(ctx)
	if err != nil {
		return SentinelReport{}, fmt.Errorf("read signals: %w", err)
	}
	assessment := sentinel.Assess(signals)
	s.metrics.SetAggregateRisk(assessment.AggregateRisk)
	report := SentinelReport{Assessment: assessment}

	for _, id := range ids {
		rec, err := s.incidents.Get(ctx, id)
		if err != nil && !errors.Is(err, incident.ErrNotFound) {
			return report, err
		}
		phase := incident.PhaseIdle
		if rec != nil {
			phase = rec.Phase
		}

		switch {
		case phase == incident.PhaseAtRisk:
			refreshed, err := s.refreshRisk(ctx, id, assessment.AggregateRisk)
			if err != nil {
				return report, err
			}
			if refreshed {
				report.Refreshed = append(report.Refreshed, id)
			} else {
				report.Busy = append(report.Busy, id)
			}
		case phase == incident.PhaseIdle && assessment.TriggerDecision:
			_, err := s.Trigger(ctx, id, map[string]any{
				incident.KeyAggregateRisk: assessment.AggregateRisk,
				incident.KeyTrigger: map[string]any{
					"incident_id":  id,
					"source":       agents.StageSentinel,
					"triggered_at": assessment.Timestamp,
				},
			})
			if errors.Is(err, ErrBusy) {
				report.Busy = append(report.Busy, id)
				continue
			}
			if err != nil {
				return report, err
			}
			report.Triggered = append(report.Triggered, id)
		}
	}

	if assessment.TriggerDecision {
		s.logger.Info("sentinel breach",
			zap.Float64("aggregate_risk", assessment.AggregateRisk),
			zap.Float64("threshold", assessment.TriggerThreshold),
			zap.Strings("triggered", report.Triggered),
		)
	}
	return report, nil
}

func (s *Scheduler) refreshRisk(ctx context.Context, id string, risk float64) (bool, error) {
	release, ok, err := s.acquire(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	defer release()
	_, err = s.write(ctx, id, "risk refreshed", incident.Mutation{
		Stage:   agents.StageSentinel,
		Context: map[string]any{incident.KeyAggregateRisk: risk},
	})
	return err == nil, err
}
