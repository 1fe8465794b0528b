package logistics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Seed is the bootstrap data written to data/seed.yaml.
type Seed struct {
	Shipments []Shipment `yaml:"shipments"`
	Suppliers []Supplier `yaml:"suppliers"`
	Budget    Budget     `yaml:"budget"`
	Signals   Signals    `yaml:"signals"`
}

// ValidationError captures a single field-specific seed problem.
type ValidationError struct {
	File    string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.File, e.Field, e.Message)
}

// ValidationErrors aggregates multiple seed problems.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "\n")
}

// DefaultSeed returns the demo data set.
func DefaultSeed() Seed {
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }
	return Seed{
		Shipments: []Shipment{
			{
				ID: "SH-4429", Value: 50000, SupplierID: "SUP-001", Carrier: "Maersk Line",
				Origin: "Shanghai", Destination: "Rotterdam",
				OriginalETA: day(3), CurrentETA: day(3), SLADeadline: day(4), Status: "in_transit",
			},
			{
				ID: "SH-7781", Value: 32000, SupplierID: "SUP-002", Carrier: "MSC",
				Origin: "Singapore", Destination: "Hamburg",
				OriginalETA: day(5), CurrentETA: day(5), SLADeadline: day(7), Status: "in_transit",
			},
			{
				ID: "SH-1093", Value: 12000, SupplierID: "SUP-003", Carrier: "CMA CGM",
				Origin: "Busan", Destination: "Los Angeles",
				OriginalETA: day(4), CurrentETA: day(4), SLADeadline: day(6), Status: "in_transit",
			},
		},
		Suppliers: []Supplier{
			{ID: "SUP-001", Name: "Pacific Components Ltd", ReliabilityScore: 0.72, BaseCost: 1.0, AvgLeadTimeHours: 72, Available: true},
			{ID: "SUP-002", Name: "EuroParts GmbH", ReliabilityScore: 0.91, BaseCost: 1.2, AvgLeadTimeHours: 48, Available: true},
			{ID: "SUP-003", Name: "Atlas Manufacturing", ReliabilityScore: 0.65, BaseCost: 0.9, AvgLeadTimeHours: 96, Available: false},
		},
		Budget:  Budget{Currency: "USD", Available: 25000, Allocated: 0},
		Signals: Signals{PortCongestionLevel: 40, WeatherRiskScore: 20, SupplierReliabilityIndex: 0.85},
	}
}

// WriteSeedFile writes seed as YAML to path unless the file already exists.
// It reports whether the file was written.
func WriteSeedFile(path string, seed Seed) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat seed file: %w", err)
	}
	data, err := yaml.Marshal(seed)
	if err != nil {
		return false, fmt.Errorf("marshal seed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create seed dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write seed file: %w", err)
	}
	return true, nil
}

// LoadSeedFile reads and validates a seed file.
func LoadSeedFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data, path)
}

// ParseSeed unmarshals and validates seed YAML.
func ParseSeed(data []byte, source string) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, ValidationErrors{{File: source, Field: "yaml", Message: err.Error()}}
	}
	if errs := seed.validate(source); len(errs) > 0 {
		return Seed{}, errs
	}
	return seed, nil
}

func (s Seed) validate(source string) ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{File: source, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	suppliers := make(map[string]bool, len(s.Suppliers))
	for i, sup := range s.Suppliers {
		field := fmt.Sprintf("suppliers[%d]", i)
		if sup.ID == "" {
			add(field+".id", "is required")
			continue
		}
		if suppliers[sup.ID] {
			add(field+".id", "duplicate supplier %s", sup.ID)
		}
		suppliers[sup.ID] = true
		if sup.ReliabilityScore < 0 || sup.ReliabilityScore > 1 {
			add(field+".reliability_score", "must be within [0, 1]")
		}
		if sup.BaseCost < 0 {
			add(field+".base_cost", "must be non-negative")
		}
	}

	shipments := make(map[string]bool, len(s.Shipments))
	for i, sh := range s.Shipments {
		field := fmt.Sprintf("shipments[%d]", i)
		if sh.ID == "" {
			add(field+".id", "is required")
			continue
		}
		if shipments[sh.ID] {
			add(field+".id", "duplicate shipment %s", sh.ID)
		}
		shipments[sh.ID] = true
		if sh.Value <= 0 {
			add(field+".value", "must be positive")
		}
		if sh.SupplierID != "" && !suppliers[sh.SupplierID] {
			add(field+".supplier_id", "unknown supplier %s", sh.SupplierID)
		}
		if sh.OriginalETA.IsZero() {
			add(field+".original_eta", "is required")
		}
	}

	if s.Budget.Available < 0 || s.Budget.Allocated < 0 {
		add("budget", "amounts must be non-negative")
	}
	if s.Signals.SupplierReliabilityIndex < 0 || s.Signals.SupplierReliabilityIndex > 1 {
		add("signals.supplier_reliability_index", "must be within [0, 1]")
	}
	return errs
}

// ApplyResult counts what ApplySeed wrote.
type ApplyResult struct {
	Shipments int
	Suppliers int
	Budget    bool
	Signals   bool
}

// ApplySeed loads seed into the repository. Existing shipments, the budget
// and signals are left alone unless force is set. Suppliers are always refreshed.
func (r *Repository) ApplySeed(ctx context.Context, seed Seed, force bool) (ApplyResult, error) {
	var result ApplyResult
	for _, sup := range seed.Suppliers {
		if err := r.PutSupplier(ctx, sup); err != nil {
			return result, err
		}
		result.Suppliers++
	}

	for _, sh := range seed.Shipments {
		if !force {
			if _, err := r.Shipment(ctx, sh.ID); err == nil {
				continue
			} else if !errors.Is(err, ErrUnknownShipment) {
				return result, err
			}
		}
		if sh.CurrentETA.IsZero() {
			sh.CurrentETA = sh.OriginalETA
		}
		if err := r.PutShipment(ctx, sh); err != nil {
			return result, err
		}
		result.Shipments++
	}

	current, err := r.Budget(ctx)
	if err != nil {
		return result, err
	}
	if force || current.UpdatedAt.IsZero() {
		if err := r.SetBudget(ctx, seed.Budget); err != nil {
			return result, err
		}
		result.Budget = true
	}

	raw, err := r.db.GetKV(ctx, signalsKey)
	if err != nil {
		return result, err
	}
	if force || raw == "" {
		if err := r.SetSignals(ctx, seed.Signals); err != nil {
			return result, err
		}
		result.Signals = true
	}
	return result, nil
}

// LoadSignalsFile reads a signals YAML file.
func LoadSignalsFile(path string) (Signals, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Signals{}, fmt.Errorf("read signals file: %w", err)
	}
	var s Signals
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Signals{}, fmt.Errorf("parse signals file %s: %w", path, err)
	}
	if s.SupplierReliabilityIndex < 0 || s.SupplierReliabilityIndex > 1 {
		return Signals{}, fmt.Errorf("%s: supplier_reliability_index must be within [0, 1]", path)
	}
	return s, nil
}

// WriteSignalsFile writes signals as YAML.
func WriteSignalsFile(path string, s Signals) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write signals file: %w", err)
	}
	return nil
}
