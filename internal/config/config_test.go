package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.TickInterval)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 50.0, cfg.RiskFloor)
	assert.Equal(t, time.Hour, cfg.Guardrails.IdempotencyWindow)
	assert.Equal(t, FailOpen, cfg.Guardrails.AuditReadFailure)
	assert.Equal(t, 0.90, cfg.Negotiator.ConfidenceCap)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Negotiator.Reference())
	assert.Equal(t, 120*time.Hour, cfg.Negotiator.DefaultSLA)
	assert.Zero(t, cfg.StageTimeout)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vanguard.yaml")
	contents := `
tick_interval: 5s
tracked: ["SH-*"]
stage_timeout: 30s
guardrails:
  audit_read_failure: block
  idempotency_window: 2h
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.TickInterval)
	assert.Equal(t, 30*time.Second, cfg.StageTimeout)
	assert.Equal(t, FailClosed, cfg.Guardrails.AuditReadFailure)
	assert.Equal(t, 2*time.Hour, cfg.Guardrails.IdempotencyWindow)
	assert.True(t, cfg.IsTracked("SH-4429"))
	assert.False(t, cfg.IsTracked("PO-1"))
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("VANGUARD_MAX_RETRIES", "5")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestValidateRejectsUnknownPolicy(t *testing.T) {
	cfg := Default()
	cfg.Guardrails.AuditReadFailure = "maybe"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsWeights(t *testing.T) {
	cfg := Default()
	cfg.Sentinel.Weights.Port = 0.9
	assert.Error(t, cfg.Validate())
}
