// Package config loads daemon and pipeline settings from vanguard.yaml and
// VANGUARD_* environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
)

// AuditReadFailure policies for the eligibility gate's idempotency lookup.
const (
	FailOpen   = "allow"
	FailClosed = "block"
)

// Config is the full runtime configuration.
type Config struct {
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	Concurrency   int           `mapstructure:"concurrency"`
	LeaseTTL      time.Duration `mapstructure:"lease_ttl"`
	StageTimeout  time.Duration `mapstructure:"stage_timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RiskFloor     float64       `mapstructure:"risk_floor"`
	Tracked       []string      `mapstructure:"tracked"`
	Notifications bool          `mapstructure:"notifications"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`

	Guardrails Guardrails `mapstructure:"guardrails"`
	Negotiator Negotiator `mapstructure:"negotiator"`
	Sentinel   Sentinel   `mapstructure:"sentinel"`
	Log        Log        `mapstructure:"log"`
	Telemetry  Telemetry  `mapstructure:"telemetry"`
}

type Guardrails struct {
	MinSeverity            float64       `mapstructure:"min_severity"`
	IdempotencyWindow      time.Duration `mapstructure:"idempotency_window"`
	AuditReadFailure       string        `mapstructure:"audit_read_failure"`
	LowConfidence          float64       `mapstructure:"low_confidence"`
	UnknownCauseConfidence float64       `mapstructure:"unknown_cause_confidence"`
}

type Negotiator struct {
	MaxRisk       float64       `mapstructure:"max_risk"`
	ConfidenceCap float64       `mapstructure:"confidence_cap"`
	ReferenceTime string        `mapstructure:"reference_time"`
	DefaultSLA    time.Duration `mapstructure:"default_sla"`
}

// Reference parses ReferenceTime. Validate guarantees it parses.
func (n Negotiator) Reference() time.Time {
	t, _ := time.Parse(time.RFC3339, n.ReferenceTime)
	return t.UTC()
}

type Sentinel struct {
	Interval  time.Duration   `mapstructure:"interval"`
	Threshold float64         `mapstructure:"threshold"`
	Weights   SentinelWeights `mapstructure:"weights"`
}

type SentinelWeights struct {
	Port     float64 `mapstructure:"port"`
	Weather  float64 `mapstructure:"weather"`
	Supplier float64 `mapstructure:"supplier"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Telemetry struct {
	Enabled bool `mapstructure:"enabled"`
	Stdout  bool `mapstructure:"stdout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tick_interval", "2s")
	v.SetDefault("concurrency", 4)
	v.SetDefault("lease_ttl", "5m")
	v.SetDefault("stage_timeout", "0s")
	v.SetDefault("max_retries", 3)
	v.SetDefault("risk_floor", 50.0)
	v.SetDefault("tracked", []string{"*"})
	v.SetDefault("notifications", false)
	v.SetDefault("metrics_addr", "")

	v.SetDefault("guardrails.min_severity", 50.0)
	v.SetDefault("guardrails.idempotency_window", "1h")
	v.SetDefault("guardrails.audit_read_failure", FailOpen)
	v.SetDefault("guardrails.low_confidence", 0.5)
	v.SetDefault("guardrails.unknown_cause_confidence", 0.4)

	v.SetDefault("negotiator.max_risk", 0.6)
	v.SetDefault("negotiator.confidence_cap", 0.90)
	v.SetDefault("negotiator.reference_time", "2025-01-01T00:00:00Z")
	v.SetDefault("negotiator.default_sla", "120h")

	v.SetDefault("sentinel.interval", "30s")
	v.SetDefault("sentinel.threshold", 65.0)
	v.SetDefault("sentinel.weights.port", 0.4)
	v.SetDefault("sentinel.weights.weather", 0.2)
	v.SetDefault("sentinel.weights.supplier", 0.4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.stdout", false)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Built-in defaults always validate.
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// Load reads path (if it exists) on top of the defaults and applies
// VANGUARD_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("VANGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("lease_ttl must be positive")
	}
	if c.StageTimeout < 0 {
		return fmt.Errorf("stage_timeout must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	switch c.Guardrails.AuditReadFailure {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("guardrails.audit_read_failure must be %q or %q, got %q", FailOpen, FailClosed, c.Guardrails.AuditReadFailure)
	}
	if c.Guardrails.IdempotencyWindow <= 0 {
		return fmt.Errorf("guardrails.idempotency_window must be positive")
	}
	if c.Negotiator.MaxRisk < 0 || c.Negotiator.MaxRisk > 1 {
		return fmt.Errorf("negotiator.max_risk must be within [0, 1]")
	}
	if c.Negotiator.ConfidenceCap <= 0 || c.Negotiator.ConfidenceCap > 1 {
		return fmt.Errorf("negotiator.confidence_cap must be within (0, 1]")
	}
	if _, err := time.Parse(time.RFC3339, c.Negotiator.ReferenceTime); err != nil {
		return fmt.Errorf("negotiator.reference_time: %w", err)
	}
	if c.Sentinel.Interval <= 0 {
		return fmt.Errorf("sentinel.interval must be positive")
	}
	w := c.Sentinel.Weights
	if sum := w.Port + w.Weather + w.Supplier; math.Abs(sum-1) > 0.001 {
		return fmt.Errorf("sentinel weights must sum to 1, got %.3f", sum)
	}
	if len(c.Tracked) == 0 {
		return fmt.Errorf("tracked must list at least one pattern")
	}
	for _, pattern := range c.Tracked {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid tracked pattern %q", pattern)
		}
	}
	return nil
}

// IsTracked reports whether id matches any tracked pattern.
func (c *Config) IsTracked(id string) bool {
	for _, pattern := range c.Tracked {
		if ok, _ := doublestar.Match(pattern, id); ok {
			return true
		}
	}
	return false
}
