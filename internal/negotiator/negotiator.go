package negotiator

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Ajith-Anand-R/VANGUARD/internal/incident"
	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
)

// Rejection reasons, in the order they are checked.
const (
	RejectBudget = "BUDGET_EXCEEDED"
	RejectSLA    = "SLA_CONSTRAINT"
	RejectRisk   = "RISK_THRESHOLD_EXCEEDED"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"

	DecisionAutonomous = "AUTONOMOUS_INTERVENTION"
	DecisionFailure    = "FAILURE"
)

// Scoring weights.
const (
	weightCost        = 0.35
	weightSLA         = 0.30
	weightRisk        = 0.25
	weightReliability = 0.10

	slaBaseline  = 0.8
	slaSlackPart = 0.2
)

//go:embed schemas/input.json
var inputSchemaJSON []byte

var (
	inputSchemaOnce sync.Once
	inputSchema     *jsonschema.Schema
	inputSchemaErr  error
)

func compileInputSchema() (*jsonschema.Schema, error) {
	inputSchemaOnce.Do(func() {
		const url = "https://vanguard.invalid/schemas/negotiator-input.json"
		c := jsonschema.NewCompiler()
		if err := c.AddResource(url, bytes.NewReader(inputSchemaJSON)); err != nil {
			inputSchemaErr = fmt.Errorf("add negotiator schema: %w", err)
			return
		}
		inputSchema, inputSchemaErr = c.Compile(url)
	})
	return inputSchema, inputSchemaErr
}

// Input is the normalized execution context the scorer works on.
type Input struct {
	ShipmentID     string             `json:"shipment_id,omitempty"`
	ApprovedBudget float64            `json:"approved_budget"`
	Options        []logistics.Option `json:"options"`
	SLADeadline    *time.Time         `json:"sla_deadline,omitempty"`
}

// ParseInput validates raw against the input contract. A missing or
// non-numeric budget, or missing or non-array options, is a contract violation.
func ParseInput(raw []byte) (Input, error) {
	schema, err := compileInputSchema()
	if err != nil {
		return Input{}, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Input{}, incident.ContractViolation("negotiator input is not JSON: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Input{}, incident.ContractViolation("negotiator input: %v", err)
	}
	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return Input{}, incident.ContractViolation("negotiator input: %v", err)
	}
	return in, nil
}

// ScoredOption is an option with its constraint checks and confidence.
type ScoredOption struct {
	logistics.Option
	WithinBudget    bool    `json:"within_budget"`
	MeetsSLA        bool    `json:"meets_sla"`
	Confidence      float64 `json:"confidence"`
	RiskScore       float64 `json:"risk_score"`
	ResidualRisk    string  `json:"residual_risk"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
}

// Selection is the winning option.
type Selection struct {
	ScoredOption
	NegotiatedCost float64 `json:"negotiated_cost"`
}

// Result is the outcome of one negotiation.
type Result struct {
	ShipmentID            string         `json:"shipment_id,omitempty"`
	Status                string         `json:"status"`
	DecisionType          string         `json:"decision_type"`
	Selected              *Selection     `json:"selected_option"`
	Confidence            float64        `json:"decision_confidence,omitempty"`
	ResidualSLABreachRisk float64        `json:"residual_sla_breach_risk,omitempty"`
	Rationale             string         `json:"rationale"`
	Reasons               []string       `json:"rejection_reasons,omitempty"`
	AllOptions            []ScoredOption `json:"all_options"`
}

// Succeeded reports whether an option was selected.
func (r Result) Succeeded() bool {
	return r.Selected != nil
}

// Scorer ranks options against budget, SLA and risk. It holds no state
// beyond its parameters.
type Scorer struct {
	// Reference is the fixed clock estimated arrivals are measured from.
	Reference time.Time
	// DefaultSLA applies when the input carries no deadline.
	DefaultSLA         time.Duration
	MaxRisk            float64
	ConfidenceCap      float64
	DefaultReliability float64
}

// New returns a scorer with the standard parameters.
func New(reference time.Time, defaultSLA time.Duration, maxRisk, confidenceCap float64) *Scorer {
	return &Scorer{
		Reference:          reference,
		DefaultSLA:         defaultSLA,
		MaxRisk:            maxRisk,
		ConfidenceCap:      confidenceCap,
		DefaultReliability: logistics.DefaultReliability,
	}
}

// Score evaluates one option against the budget and deadline.
func (s *Scorer) Score(opt logistics.Option, budget float64, deadline time.Time) ScoredOption {
	reliability := opt.ReliabilityOr(s.DefaultReliability)
	risk := 1 - reliability

	withinBudget := opt.EstimatedCost <= budget
	arrival := s.Reference.Add(time.Duration(opt.DeliveryHours * float64(time.Hour)))
	meetsSLA := !arrival.After(deadline)

	divisor := budget
	if divisor == 0 {
		divisor = 1
	}
	costScore := 1 - math.Min(opt.EstimatedCost/divisor, 1)

	slaTerm := 0.0
	if meetsSLA {
		slack := math.Min(float64(deadline.Sub(arrival))/float64(24*time.Hour), 1)
		slaTerm = slaBaseline + slack*slaSlackPart
	}

	raw := weightCost*costScore + weightSLA*slaTerm + weightRisk*(1-risk) + weightReliability*reliability
	confidence := math.Min(round2(raw), s.ConfidenceCap)

	scored := ScoredOption{
		Option:       opt,
		WithinBudget: withinBudget,
		MeetsSLA:     meetsSLA,
		Confidence:   confidence,
		RiskScore:    risk,
		ResidualRisk: strconv.FormatFloat(risk*100*(1-reliability), 'f', 2, 64),
	}
	switch {
	case !withinBudget:
		scored.RejectionReason = RejectBudget
	case !meetsSLA:
		scored.RejectionReason = RejectSLA
	case risk > s.MaxRisk:
		scored.RejectionReason = RejectRisk
	}
	return scored
}

// Negotiate ranks in.Options and selects the highest-confidence survivor.
// Ties keep input order.
func (s *Scorer) Negotiate(in Input) Result {
	deadline := s.Reference.Add(s.DefaultSLA)
	if in.SLADeadline != nil && !in.SLADeadline.IsZero() {
		deadline = *in.SLADeadline
	}

	scored := make([]ScoredOption, 0, len(in.Options))
	var viable []ScoredOption
	for _, opt := range in.Options {
		so := s.Score(opt, in.ApprovedBudget, deadline)
		scored = append(scored, so)
		if so.RejectionReason == "" {
			viable = append(viable, so)
		}
	}

	if len(viable) == 0 {
		reasons := uniqueReasons(scored)
		return Result{
			ShipmentID:   in.ShipmentID,
			Status:       StatusFailure,
			DecisionType: DecisionFailure,
			Rationale:    "All options rejected. Reasons: " + strings.Join(reasons, ", "),
			Reasons:      reasons,
			AllOptions:   scored,
		}
	}

	sort.SliceStable(viable, func(i, j int) bool {
		return viable[i].Confidence > viable[j].Confidence
	})
	best := viable[0]
	residual, _ := strconv.ParseFloat(best.ResidualRisk, 64)

	return Result{
		ShipmentID:   in.ShipmentID,
		Status:       StatusSuccess,
		DecisionType: DecisionAutonomous,
		Selected: &Selection{
			ScoredOption:   best,
			NegotiatedCost: best.EstimatedCost,
		},
		Confidence:            best.Confidence,
		ResidualSLABreachRisk: residual,
		Rationale: fmt.Sprintf("Selected %s (Conf: %s) - Meets Budget & SLA.",
			best.Type, strconv.FormatFloat(best.Confidence, 'f', -1, 64)),
		AllOptions: scored,
	}
}

func uniqueReasons(scored []ScoredOption) []string {
	seen := make(map[string]bool)
	var reasons []string
	for _, so := range scored {
		if so.RejectionReason == "" || seen[so.RejectionReason] {
			continue
		}
		seen[so.RejectionReason] = true
		reasons = append(reasons, so.RejectionReason)
	}
	return reasons
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
