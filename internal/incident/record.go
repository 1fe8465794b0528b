package incident

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for an incident id.
	ErrNotFound = errors.New("incident not found")
	// ErrContractViolation marks malformed stage input. It is never retried.
	ErrContractViolation = errors.New("contract violation")
	// ErrLeaseHeld is returned when another owner holds the incident lease.
	ErrLeaseHeld = errors.New("incident lease held by another owner")
)

// ContractViolation wraps a description of the broken input contract.
func ContractViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}

// Record is the persisted state of one incident.
type Record struct {
	ID          string    `json:"id"`
	Phase       Phase     `json:"phase"`
	ActiveStage string    `json:"active_stage,omitempty"`
	Context     Context   `json:"context"`
	RetryCount  int       `json:"retry_count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	r.Context = r.Context.Clone()
	return r
}

// Mutation describes one write to an incident record. Zero fields leave the
// record untouched.
type Mutation struct {
	Phase Phase
	// Stage is recorded as the writer of Context entries.
	Stage string
	// ActiveStage replaces the active stage marker when SetActiveStage is true.
	ActiveStage    string
	SetActiveStage bool
	Context        map[string]any
	ResetRetry     bool
	IncrementRetry bool
}

// Apply writes m into r.
func (m Mutation) Apply(r *Record, at time.Time) error {
	if m.Phase != "" {
		if !m.Phase.Valid() {
			return fmt.Errorf("unknown phase %q", m.Phase)
		}
		r.Phase = m.Phase
	}
	if m.SetActiveStage {
		r.ActiveStage = m.ActiveStage
	}
	if len(m.Context) > 0 {
		stage := m.Stage
		if stage == "" {
			stage = "System"
		}
		if err := r.Context.Merge(stage, at, m.Context); err != nil {
			return err
		}
	}
	switch {
	case m.ResetRetry:
		r.RetryCount = 0
	case m.IncrementRetry:
		r.RetryCount++
	}
	return nil
}

// Change is the before and after image of one store write. Before is nil
// when the write created the record.
type Change struct {
	Before *Record
	After  *Record
}
