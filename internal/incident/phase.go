package incident

// Phase is an incident's position in the pipeline state machine.
type Phase string

const (
	PhaseIdle                Phase = "IDLE"
	PhaseAtRisk              Phase = "AT_RISK"
	PhaseAnalyzing           Phase = "ANALYZING"
	PhaseGuardrailsPrecheck  Phase = "GUARDRAILS_PRECHECK"
	PhaseGeneratingOptions   Phase = "GENERATING_OPTIONS"
	PhaseGuardrailsPostcheck Phase = "GUARDRAILS_POSTCHECK"
	PhaseNegotiating         Phase = "NEGOTIATING"
	PhaseStabilized          Phase = "STABILIZED"
	PhaseNoViableSolution    Phase = "NO_VIABLE_SOLUTION"
	PhaseManualIntervention  Phase = "MANUAL_INTERVENTION"
	PhaseFailed              Phase = "FAILED"

	// PhaseDecisionPending is never entered; older records may still carry it.
	PhaseDecisionPending Phase = "DECISION_PENDING"
)

var allPhases = []Phase{
	PhaseIdle,
	PhaseAtRisk,
	PhaseAnalyzing,
	PhaseGuardrailsPrecheck,
	PhaseGeneratingOptions,
	PhaseGuardrailsPostcheck,
	PhaseDecisionPending,
	PhaseNegotiating,
	PhaseStabilized,
	PhaseNoViableSolution,
	PhaseManualIntervention,
	PhaseFailed,
}

// Phases returns every known phase in pipeline order.
func Phases() []Phase {
	out := make([]Phase, len(allPhases))
	copy(out, allPhases)
	return out
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, known := range allPhases {
		if p == known {
			return true
		}
	}
	return false
}

// Active reports whether a tick in this phase has work to do.
func (p Phase) Active() bool {
	switch p {
	case PhaseAtRisk, PhaseAnalyzing, PhaseGuardrailsPrecheck, PhaseGeneratingOptions,
		PhaseGuardrailsPostcheck, PhaseNegotiating:
		return true
	}
	return false
}

// Terminal reports whether p is a resting phase with no side effects on entry.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseIdle, PhaseStabilized, PhaseNoViableSolution, PhaseManualIntervention, PhaseFailed:
		return true
	}
	return false
}

func (p Phase) String() string {
	return string(p)
}
