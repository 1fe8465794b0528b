package decision

// IncidentReality classifies the state of the world.
type IncidentReality string

const (
	RealityActive             IncidentReality = "ACTIVE"
	RealityResolvedExternally IncidentReality = "RESOLVED_EXTERNALLY"
	RealityNoRealIncident     IncidentReality = "NO_REAL_INCIDENT"
)

// GuardrailResult explains why a path was or was not available.
type GuardrailResult string

const (
	Allowed              GuardrailResult = "ALLOWED"
	BlockedRedundant     GuardrailResult = "BLOCKED_REDUNDANT"
	BlockedFalsePositive GuardrailResult = "BLOCKED_FALSE_POSITIVE"
	BlockedPolicy        GuardrailResult = "BLOCKED_POLICY"
	BlockedSafety        GuardrailResult = "BLOCKED_SAFETY"
	BlockedBudget        GuardrailResult = "BLOCKED_BUDGET"
	BlockedLowConfidence GuardrailResult = "BLOCKED_LOW_CONFIDENCE"
	BlockedLowSeverity   GuardrailResult = "BLOCKED_LOW_SEVERITY"
)

// Outcome states what ultimately happened.
type Outcome string

const (
	InterventionExecuted     Outcome = "INTERVENTION_EXECUTED"
	NoActionRedundant        Outcome = "NO_ACTION_REDUNDANT"
	NoActionNoOptions        Outcome = "NO_ACTION_NO_OPTIONS"
	NoActionGuardrailBlocked Outcome = "NO_ACTION_GUARDRAIL_BLOCKED"
	ObservedOnly             Outcome = "OBSERVED_ONLY"
	FailureInternal          Outcome = "FAILURE_INTERNAL"
)

// Valid reports whether r is a known reality.
func (r IncidentReality) Valid() bool {
	switch r {
	case RealityActive, RealityResolvedExternally, RealityNoRealIncident:
		return true
	}
	return false
}

// Valid reports whether g is a known guardrail result.
func (g GuardrailResult) Valid() bool {
	switch g {
	case Allowed, BlockedRedundant, BlockedFalsePositive, BlockedPolicy, BlockedSafety,
		BlockedBudget, BlockedLowConfidence, BlockedLowSeverity:
		return true
	}
	return false
}

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case InterventionExecuted, NoActionRedundant, NoActionNoOptions, NoActionGuardrailBlocked,
		ObservedOnly, FailureInternal:
		return true
	}
	return false
}

// Classification is the three-axis result attached to every terminal branch.
type Classification struct {
	Reality   IncidentReality `json:"incident_reality"`
	Guardrail GuardrailResult `json:"guardrail_result"`
	Outcome   Outcome         `json:"decision_outcome"`
}

// Valid reports whether all three axes are set to known values.
func (c Classification) Valid() bool {
	return c.Reality.Valid() && c.Guardrail.Valid() && c.Outcome.Valid()
}

// SystemAction is the human-readable summary of an outcome.
func (c Classification) SystemAction() string {
	switch c.Outcome {
	case InterventionExecuted:
		return "Intervention Executed"
	case NoActionRedundant:
		return "Skipped (Redundant)"
	case NoActionNoOptions:
		return "No Viable Options"
	case NoActionGuardrailBlocked:
		return "Blocked by Safety Guardrails"
	case ObservedOnly:
		return "Monitoring only"
	case FailureInternal:
		return "Internal Failure - Escalated"
	}
	return "Unknown"
}
