package decision

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Trace is the raw output of every stage at the time of the decision.
type Trace struct {
	Signal         json.RawMessage `json:"signal"`
	RootCause      json.RawMessage `json:"root_cause"`
	GuardrailsPre  json.RawMessage `json:"guardrails_pre"`
	Options        json.RawMessage `json:"options"`
	GuardrailsPost json.RawMessage `json:"guardrails_post"`
	Negotiator     json.RawMessage `json:"negotiator"`
	Treasurer      json.RawMessage `json:"treasurer"`
	Monitor        json.RawMessage `json:"monitor"`
}

// Record is one immutable decision log entry.
type Record struct {
	IncidentID string    `json:"incident_id"`
	Timestamp  time.Time `json:"timestamp"`
	ShipmentID string    `json:"shipment_id"`
	Classification
	SystemAction         string     `json:"system_action"`
	Confidence           float64    `json:"confidence"`
	CounterfactualImpact string     `json:"counterfactual_impact"`
	DetectionTime        *time.Time `json:"detection_time,omitempty"`
	ElapsedSeconds       int64      `json:"elapsed_seconds"`
	Rationale            string     `json:"rationale,omitempty"`
	FullTrace            Trace      `json:"full_trace"`
	DecisionChain        []string   `json:"decision_chain"`
	DecisionType         Outcome    `json:"decision_type"`
	DisruptionType       string     `json:"disruption_type"`

	// Seq and Digest are assigned by the log on append.
	Seq    int64  `json:"-"`
	Digest string `json:"-"`
}

// Input is what a terminal branch hands to the recorder.
type Input struct {
	ShipmentID     string
	Classification Classification
	// SystemAction overrides the default text derived from the outcome.
	SystemAction string
	Rationale    string
	// Confidence overrides the negotiated confidence.
	Confidence *float64
	// Snapshot is the folded incident context for the current pass.
	Snapshot map[string]json.RawMessage
	Now      time.Time
}

type signalView struct {
	ShipmentID         string   `json:"shipment_id"`
	Severity           *float64 `json:"severity"`
	DisruptionDetected bool     `json:"disruption_detected"`
	Timestamp          string   `json:"timestamp"`
}

type rootCauseView struct {
	RootCause string `json:"root_cause"`
}

type gateView struct {
	Result string `json:"result"`
	Reason string `json:"reason"`
}

type optionsView struct {
	Options []json.RawMessage `json:"options"`
}

type negotiationView struct {
	Selected *struct {
		OptionID       string  `json:"option_id"`
		NegotiatedCost float64 `json:"negotiated_cost"`
	} `json:"selected_option"`
	Confidence *float64 `json:"decision_confidence"`
	Rationale  string   `json:"rationale"`
}

type executionView struct {
	Transaction *struct {
		Amount float64 `json:"amount"`
	} `json:"transaction"`
}

type monitorView struct {
	RecoveryMet *bool `json:"recovery_met"`
}

// Build assembles a record from a terminal branch. It never fails on
// missing or malformed stage output; those simply drop out of the chain.
func Build(in Input) (*Record, error) {
	if !in.Classification.Valid() {
		return nil, fmt.Errorf("incomplete classification %+v", in.Classification)
	}
	now := in.Now.UTC()
	snap := in.Snapshot

	var signal signalView
	var cause rootCauseView
	var pre, post gateView
	var options optionsView
	var negotiation negotiationView
	var execution executionView
	var monitor monitorView
	decodeView(snap, "signal_analysis", &signal)
	decodeView(snap, "root_cause", &cause)
	decodeView(snap, "guardrails_pre", &pre)
	decodeView(snap, "guardrails_post", &post)
	decodeView(snap, "options_data", &options)
	decodeView(snap, "negotiation", &negotiation)
	decodeView(snap, "execution", &execution)
	decodeView(snap, "post_execution", &monitor)

	shipmentID := in.ShipmentID
	if shipmentID == "" {
		shipmentID = signal.ShipmentID
	}

	detection := now
	var detectionTime *time.Time
	if t, err := time.Parse(time.RFC3339Nano, signal.Timestamp); err == nil {
		detection = t.UTC()
		detectionTime = &detection
	}

	confidence := 1.0
	switch {
	case in.Confidence != nil:
		confidence = *in.Confidence
	case negotiation.Confidence != nil && *negotiation.Confidence > 0:
		confidence = *negotiation.Confidence
	}

	action := in.SystemAction
	if action == "" {
		action = in.Classification.SystemAction()
	}
	disruption := cause.RootCause
	if disruption == "" {
		disruption = "unknown"
	}

	rec := &Record{
		IncidentID:           fmt.Sprintf("INC-%s-%d", shipmentID, detection.UnixMilli()),
		Timestamp:            now,
		ShipmentID:           shipmentID,
		Classification:       in.Classification,
		SystemAction:         action,
		Confidence:           confidence,
		CounterfactualImpact: "N/A",
		DetectionTime:        detectionTime,
		ElapsedSeconds:       int64(math.Round(now.Sub(detection).Seconds())),
		Rationale:            in.Rationale,
		FullTrace: Trace{
			Signal:         rawOrEmpty(snap, "signal_analysis"),
			RootCause:      rawOrEmpty(snap, "root_cause"),
			GuardrailsPre:  rawOrEmpty(snap, "guardrails_pre"),
			Options:        rawOrEmpty(snap, "options_data"),
			GuardrailsPost: rawOrEmpty(snap, "guardrails_post"),
			Negotiator:     rawOrEmpty(snap, "negotiation"),
			Treasurer:      rawOrEmpty(snap, "execution"),
			Monitor:        rawOrEmpty(snap, "post_execution"),
		},
		DecisionType:   in.Classification.Outcome,
		DisruptionType: disruption,
	}

	var chain []string
	if signal.Severity != nil {
		chain = append(chain, fmt.Sprintf("Signal: Severity %v/100, Disruption Detected: %t", *signal.Severity, signal.DisruptionDetected))
	}
	if cause.RootCause != "" {
		chain = append(chain, "Root Cause: "+cause.RootCause)
	}
	if pre.Result != "" {
		chain = append(chain, fmt.Sprintf("Guardrails (Pre): %s - %s", pre.Result, orDefault(pre.Reason, "Passed")))
	}
	if options.Options != nil {
		chain = append(chain, fmt.Sprintf("Options Generated: %d", len(options.Options)))
	}
	if post.Result != "" {
		chain = append(chain, fmt.Sprintf("Guardrails (Post): %s - %s", post.Result, orDefault(post.Reason, "Passed")))
	}

	outcome := in.Classification.Outcome
	switch {
	case outcome == InterventionExecuted && negotiation.Selected != nil:
		chain = append(chain, fmt.Sprintf("Negotiator: Selected %s ($%v)", negotiation.Selected.OptionID, negotiation.Selected.NegotiatedCost))
		if execution.Transaction != nil {
			chain = append(chain, fmt.Sprintf("Treasurer: Executed transaction. Cost: %v", execution.Transaction.Amount))
		}
		if monitor.RecoveryMet != nil {
			chain = append(chain, fmt.Sprintf("Monitor: Recovery Met? %t", *monitor.RecoveryMet))
		}
	case strings.HasPrefix(string(outcome), "NO_ACTION"):
		chain = append(chain, "Outcome: "+strings.Replace(string(outcome), "NO_ACTION_", "Blocked: ", 1))
		chain = append(chain, "Reason: "+orDefault(negotiation.Rationale, orDefault(in.Rationale, "Constraints exceeded.")))
	default:
		chain = append(chain, fmt.Sprintf("Outcome: %s (%s)", action, outcome))
		if in.Rationale != "" {
			chain = append(chain, "Rationale: "+in.Rationale)
		}
	}
	rec.DecisionChain = chain
	return rec, nil
}

// ComputeDigest returns the blake3 digest of the record's JSON encoding.
func ComputeDigest(rec *Record) (string, []byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", nil, fmt.Errorf("marshal decision record: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), data, nil
}

// Verify reports whether rec still matches its stored digest.
func Verify(rec *Record) bool {
	digest, _, err := ComputeDigest(rec)
	return err == nil && digest == rec.Digest
}

func decodeView(snap map[string]json.RawMessage, key string, v any) {
	raw, ok := snap[key]
	if !ok {
		return
	}
	_ = json.Unmarshal(raw, v)
}

func rawOrEmpty(snap map[string]json.RawMessage, key string) json.RawMessage {
	if raw, ok := snap[key]; ok && len(raw) > 0 {
		return raw
	}
	return json.RawMessage("{}")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
