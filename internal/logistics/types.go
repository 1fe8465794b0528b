package logistics

import (
	"math"
	"time"
)

// Shipment is a tracked consignment.
type Shipment struct {
	ID          string    `json:"id" yaml:"id"`
	Value       float64   `json:"value" yaml:"value"`
	SupplierID  string    `json:"supplier_id" yaml:"supplier_id"`
	Carrier     string    `json:"carrier" yaml:"carrier"`
	Origin      string    `json:"origin,omitempty" yaml:"origin,omitempty"`
	Destination string    `json:"destination,omitempty" yaml:"destination,omitempty"`
	OriginalETA time.Time `json:"original_eta" yaml:"original_eta"`
	CurrentETA  time.Time `json:"current_eta" yaml:"current_eta"`
	SLADeadline time.Time `json:"sla_deadline,omitempty" yaml:"sla_deadline,omitempty"`
	Status      string    `json:"status,omitempty" yaml:"status,omitempty"`
}

// DelayHours is how far the current ETA has slipped past the original one.
// Early arrivals count as zero.
func (s Shipment) DelayHours() float64 {
	d := s.CurrentETA.Sub(s.OriginalETA).Hours()
	if math.IsNaN(d) || d < 0 {
		return 0
	}
	return d
}

// Supplier is a vendor that can fulfil a shipment.
type Supplier struct {
	ID               string  `json:"id" yaml:"id"`
	Name             string  `json:"name" yaml:"name"`
	ReliabilityScore float64 `json:"reliability_score" yaml:"reliability_score"`
	BaseCost         float64 `json:"base_cost" yaml:"base_cost"`
	AvgLeadTimeHours float64 `json:"avg_lead_time_hours" yaml:"avg_lead_time_hours"`
	Available        bool    `json:"available" yaml:"available"`
}

// Signals are the monitored environmental risk inputs.
type Signals struct {
	PortCongestionLevel      float64   `json:"port_congestion_level" yaml:"port_congestion_level"`
	WeatherRiskScore         float64   `json:"weather_risk_score" yaml:"weather_risk_score"`
	SupplierReliabilityIndex float64   `json:"supplier_reliability_index" yaml:"supplier_reliability_index"`
	LastUpdated              time.Time `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
}

// Signal type names accepted by Signals.Set.
const (
	SignalPortCongestion      = "port_congestion"
	SignalWeatherRisk         = "weather_risk"
	SignalSupplierReliability = "supplier_reliability"
)

// Set updates one signal by type name. It reports false for unknown types.
func (s *Signals) Set(signalType string, value float64, at time.Time) bool {
	switch signalType {
	case SignalPortCongestion:
		s.PortCongestionLevel = value
	case SignalWeatherRisk:
		s.WeatherRiskScore = value
	case SignalSupplierReliability:
		s.SupplierReliabilityIndex = value
	default:
		return false
	}
	s.LastUpdated = at.UTC()
	return true
}

// Budget is the emergency reserve.
type Budget struct {
	Currency  string    `json:"currency" yaml:"currency"`
	Available float64   `json:"available" yaml:"available"`
	Allocated float64   `json:"allocated" yaml:"allocated"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// Option is a candidate remediation produced for one pass through option
// generation.
type Option struct {
	OptionID      string    `json:"option_id"`
	Type          string    `json:"type"`
	Supplier      *Supplier `json:"supplier,omitempty"`
	EstimatedCost float64   `json:"estimated_cost"`
	DeliveryHours float64   `json:"delivery_hours"`
	Reliability   *float64  `json:"reliability,omitempty"`
	Details       string    `json:"details,omitempty"`
	// Viable is set to false by upstream policy to exclude the option from
	// negotiation. Unset means viable.
	Viable *bool `json:"viable,omitempty"`
}

// Option types.
const (
	OptionAlternateSupplier = "alternate_supplier"
	OptionAirFreight        = "air_freight_upgrade"
	OptionSplitShipment     = "split_shipment"
)

// IsViable reports whether upstream policy left the option eligible.
func (o Option) IsViable() bool {
	return o.Viable == nil || *o.Viable
}

// DefaultReliability is assumed for options that carry no reliability.
const DefaultReliability = 0.8

// ReliabilityOr returns the option reliability or def when it is unset.
func (o Option) ReliabilityOr(def float64) float64 {
	if o.Reliability == nil {
		return def
	}
	return *o.Reliability
}

// Destination names where money for this option goes.
func (o Option) Destination() string {
	if o.Supplier != nil {
		return o.Supplier.Name
	}
	return o.Type
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
