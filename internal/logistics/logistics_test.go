package logistics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ajith-Anand-R/VANGUARD/internal/store"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRepository(db)
}

func TestSeedRoundTripThroughYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "seed.yaml")
	written, err := WriteSeedFile(path, DefaultSeed())
	if err != nil || !written {
		t.Fatalf("write seed: written=%v err=%v", written, err)
	}
	written, err = WriteSeedFile(path, Seed{})
	if err != nil || written {
		t.Fatalf("second write should be skipped: written=%v err=%v", written, err)
	}

	seed, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if len(seed.Shipments) != 3 || seed.Shipments[0].ID != "SH-4429" {
		t.Fatalf("unexpected shipments: %+v", seed.Shipments)
	}
	if !seed.Shipments[0].SLADeadline.Equal(time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("sla deadline not preserved: %s", seed.Shipments[0].SLADeadline)
	}
}

func TestParseSeedCollectsValidationErrors(t *testing.T) {
	data := []byte(`
suppliers:
  - id: SUP-1
    reliability_score: 1.5
  - id: SUP-1
shipments:
  - id: SH-1
    value: 0
    supplier_id: SUP-9
`)
	_, err := ParseSeed(data, "seed.yaml")
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(verrs) != 5 {
		t.Fatalf("expected 5 validation errors, got %d: %v", len(verrs), verrs)
	}
}

func TestApplySeedIsIdempotent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	result, err := repo.ApplySeed(ctx, DefaultSeed(), false)
	if err != nil {
		t.Fatalf("apply seed: %v", err)
	}
	if result.Shipments != 3 || !result.Budget || !result.Signals {
		t.Fatalf("unexpected first result: %+v", result)
	}

	if _, err := repo.DelayShipment(ctx, "SH-4429", 48*time.Hour); err != nil {
		t.Fatalf("delay: %v", err)
	}
	result, err = repo.ApplySeed(ctx, DefaultSeed(), false)
	if err != nil {
		t.Fatalf("apply seed again: %v", err)
	}
	if result.Shipments != 0 || result.Budget || result.Signals {
		t.Fatalf("second apply overwrote state: %+v", result)
	}
	sh, err := repo.Shipment(ctx, "SH-4429")
	if err != nil {
		t.Fatalf("shipment: %v", err)
	}
	if sh.DelayHours() != 48 {
		t.Fatalf("delay lost: %v", sh.DelayHours())
	}

	if _, err := repo.ApplySeed(ctx, DefaultSeed(), true); err != nil {
		t.Fatalf("forced apply: %v", err)
	}
	sh, _ = repo.Shipment(ctx, "SH-4429")
	if sh.DelayHours() != 0 {
		t.Fatalf("forced apply kept delay: %v", sh.DelayHours())
	}
}

func TestUnknownShipment(t *testing.T) {
	repo := openTestRepo(t)
	_, err := repo.Shipment(context.Background(), "SH-404")
	if !errors.Is(err, ErrUnknownShipment) {
		t.Fatalf("expected ErrUnknownShipment, got %v", err)
	}
	if _, err := repo.DelayShipment(context.Background(), "SH-404", time.Hour); !errors.Is(err, ErrUnknownShipment) {
		t.Fatalf("expected ErrUnknownShipment from delay, got %v", err)
	}
}

func TestSignalsDefaultsAndUpdates(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	s, err := repo.Signals(ctx)
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	if s.SupplierReliabilityIndex != 1 {
		t.Fatalf("expected perfect supplier index by default, got %v", s.SupplierReliabilityIndex)
	}

	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s, err = repo.UpdateSignal(ctx, SignalPortCongestion, 95, at)
	if err != nil {
		t.Fatalf("update signal: %v", err)
	}
	if s.PortCongestionLevel != 95 || !s.LastUpdated.Equal(at) {
		t.Fatalf("unexpected signals: %+v", s)
	}
	if _, err := repo.UpdateSignal(ctx, "tides", 1, at); err == nil {
		t.Fatalf("expected error for unknown signal type")
	}
}

func TestSignalsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.yaml")
	if err := WriteSignalsFile(path, Signals{PortCongestionLevel: 80, WeatherRiskScore: 60, SupplierReliabilityIndex: 0.5}); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := LoadSignalsFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.PortCongestionLevel != 80 || s.SupplierReliabilityIndex != 0.5 {
		t.Fatalf("unexpected signals: %+v", s)
	}

	if err := os.WriteFile(path, []byte("supplier_reliability_index: 3\n"), 0o644); err != nil {
		t.Fatalf("write bad file: %v", err)
	}
	if _, err := LoadSignalsFile(path); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestOptionHelpers(t *testing.T) {
	opt := Option{OptionID: "OPT-SPLIT-001", Type: OptionSplitShipment}
	if !opt.IsViable() {
		t.Fatalf("unset viability should mean viable")
	}
	if opt.ReliabilityOr(0.8) != 0.8 {
		t.Fatalf("expected default reliability")
	}
	if opt.Destination() != OptionSplitShipment {
		t.Fatalf("destination = %q", opt.Destination())
	}
	opt.Viable = Bool(false)
	opt.Supplier = &Supplier{Name: "EuroParts GmbH"}
	if opt.IsViable() || opt.Destination() != "EuroParts GmbH" {
		t.Fatalf("unexpected helpers: viable=%v dest=%q", opt.IsViable(), opt.Destination())
	}
}
