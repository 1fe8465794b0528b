package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
)

// Reading is one observed signal value from a monitoring export.
type Reading struct {
	Key       string   `json:"key" yaml:"key"`
	Value     float64  `json:"value" yaml:"value"`
	Unit      string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	Timestamp string   `json:"timestamp" yaml:"timestamp"`
	Source    string   `json:"source" yaml:"source"`
	Evidence  []string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// ReportProvider loads signal readings from a JSON file exported by
// monitoring systems (port authorities, weather feeds, supplier scorecards).
type ReportProvider struct {
	ReportPath string
	AsOf       time.Time
}

func (p *ReportProvider) Name() string { return "monitoring" }

type monitoringReport struct {
	Metrics []monitoringMetric `json:"metrics"`
}

type monitoringMetric struct {
	Key      string   `json:"key"`
	Value    float64  `json:"value"`
	Unit     string   `json:"unit,omitempty"`
	Evidence []string `json:"evidence,omitempty"`
}

// Collect reads the report. A missing file yields no readings. Keys that
// are not signal types are rejected.
func (p *ReportProvider) Collect(ctx context.Context) ([]Reading, error) {
	_ = ctx

	data, err := os.ReadFile(p.ReportPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read monitoring report: %w", err)
	}

	var report monitoringReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse monitoring report: %w", err)
	}

	ts := p.AsOf.UTC().Format(time.RFC3339)
	readings := make([]Reading, 0, len(report.Metrics))
	for _, metric := range report.Metrics {
		key := strings.TrimSpace(metric.Key)
		if key == "" {
			continue
		}
		var probe logistics.Signals
		if !probe.Set(key, metric.Value, p.AsOf) {
			return nil, fmt.Errorf("monitoring report %s: unknown signal %q", p.ReportPath, key)
		}
		readings = append(readings, Reading{
			Key:       key,
			Value:     metric.Value,
			Unit:      metric.Unit,
			Timestamp: ts,
			Source:    p.Name(),
			Evidence:  canonicalizeStrings(metric.Evidence),
		})
	}
	return CanonicalizeReadings(readings), nil
}

// CanonicalizeReadings sorts readings by key, keeping the last reading per key.
func CanonicalizeReadings(readings []Reading) []Reading {
	latest := make(map[string]Reading, len(readings))
	for _, r := range readings {
		latest[r.Key] = r
	}
	out := make([]Reading, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ApplyReadings writes readings into the monitored signals.
func ApplyReadings(ctx context.Context, repo *logistics.Repository, readings []Reading, at time.Time) (logistics.Signals, error) {
	signals, err := repo.Signals(ctx)
	if err != nil {
		return logistics.Signals{}, err
	}
	for _, r := range readings {
		if !signals.Set(r.Key, r.Value, at) {
			return logistics.Signals{}, fmt.Errorf("unknown signal %q", r.Key)
		}
	}
	if err := repo.SetSignals(ctx, signals); err != nil {
		return logistics.Signals{}, err
	}
	return signals, nil
}

func canonicalizeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
