package integration_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ajith-Anand-R/VANGUARD/integration/harness"
)

func TestCLISmoke(t *testing.T) {
	binPath := harness.BuildBinary(t)
	workspace := t.TempDir()

	res := harness.Run(t, binPath, workspace, []string{"--help"})
	if res.Code != 0 {
		t.Fatalf("vanguard --help exit code %d\nstdout:\n%s\nstderr:\n%s", res.Code, res.Stdout, res.Stderr)
	}
	if !strings.Contains(res.Stdout+res.Stderr, "Autonomous logistics incident response") {
		t.Fatalf("expected help output to include header\nstdout:\n%s\nstderr:\n%s", res.Stdout, res.Stderr)
	}

	harness.MustRun(t, binPath, workspace, "init")
	harness.MustRun(t, binPath, workspace, "incident", "trigger", "SH-4429")

	stdout := harness.MustRun(t, binPath, workspace, "incident", "advance", "SH-4429")
	if !strings.Contains(stdout, "AT_RISK -> ANALYZING") {
		t.Fatalf("expected first step to start analysis:\n%s", stdout)
	}
	stdout = harness.MustRun(t, binPath, workspace, "incident", "advance", "SH-4429", "--until-rest")
	if !strings.Contains(stdout, "-> STABILIZED") {
		t.Fatalf("expected the incident to stabilize:\n%s", stdout)
	}

	auditPath := filepath.Join(workspace, "audit", "audit.sqlite")
	requirePhaseSequence(t, auditPath, "SH-4429", []string{
		"AT_RISK",
		"ANALYZING",
		"GUARDRAILS_PRECHECK",
		"GENERATING_OPTIONS",
		"GUARDRAILS_POSTCHECK",
		"NEGOTIATING",
		"STABILIZED",
	})

	stdout = harness.MustRun(t, binPath, workspace, "decisions", "list", "--shipment", "SH-4429")
	if !strings.Contains(stdout, "INTERVENTION_EXECUTED") {
		t.Fatalf("expected an executed intervention:\n%s", stdout)
	}

	stdout = harness.MustRun(t, binPath, workspace, "ledger", "show")
	if !strings.Contains(stdout, "$22,500") || !strings.Contains(stdout, "split_shipment") {
		t.Fatalf("expected the reserve to be debited for the split shipment:\n%s", stdout)
	}

	stdout = harness.MustRun(t, binPath, workspace, "incident", "show", "SH-4429", "--diff")
	if !strings.Contains(stdout, "== Treasurer") {
		t.Fatalf("expected a Treasurer diff:\n%s", stdout)
	}

	// Replaying the same incident is redundant.
	harness.MustRun(t, binPath, workspace, "incident", "trigger", "SH-4429", "--delay-hours", "0")
	harness.MustRun(t, binPath, workspace, "incident", "advance", "SH-4429", "--until-rest")
	stdout = harness.MustRun(t, binPath, workspace, "decisions", "list", "--outcome", "NO_ACTION_REDUNDANT")
	if !strings.Contains(stdout, "SH-4429") {
		t.Fatalf("expected a redundant decision:\n%s", stdout)
	}

	requireAuditEvents(t, auditPath, []string{
		"workspace_init",
		"incident_triggered",
		"state_changed",
		"stage_started",
		"stage_ended",
	})
}

func TestCLISignalsAndSentinel(t *testing.T) {
	binPath := harness.BuildBinary(t)
	workspace := t.TempDir()
	harness.MustRun(t, binPath, workspace, "init")

	stdout := harness.MustRun(t, binPath, workspace, "sentinel", "check")
	if !strings.Contains(stdout, "NORMAL_OPERATIONS") {
		t.Fatalf("expected seed signals to be normal:\n%s", stdout)
	}

	report := `{"metrics":[{"key":"port_congestion","value":95},{"key":"weather_risk","value":80}]}`
	reportPath := filepath.Join(workspace, "data", "reports", "storm.json")
	if err := os.WriteFile(reportPath, []byte(report), 0o644); err != nil {
		t.Fatalf("write report: %v", err)
	}
	harness.MustRun(t, binPath, workspace, "signal", "import", reportPath)
	harness.MustRun(t, binPath, workspace, "signal", "set", "supplier_reliability", "0.3")

	stdout = harness.MustRun(t, binPath, workspace, "sentinel", "check", "--shipment", "SH-7781")
	if !strings.Contains(stdout, "RISK_THRESHOLD_EXCEEDED") || !strings.Contains(stdout, "triggered: SH-7781") {
		t.Fatalf("expected a breach that opens SH-7781:\n%s", stdout)
	}

	stdout = harness.MustRun(t, binPath, workspace, "incident", "list", "--active")
	if !strings.Contains(stdout, "SH-7781") || strings.Contains(stdout, "SH-4429") {
		t.Fatalf("expected only SH-7781 to be active:\n%s", stdout)
	}

	stdout = harness.MustRun(t, binPath, workspace, "daemon", "enqueue", "sentinel_check")
	if !strings.Contains(stdout, "Enqueued job: sentinel_check_") {
		t.Fatalf("unexpected enqueue output:\n%s", stdout)
	}
	stdout = harness.MustRun(t, binPath, workspace, "daemon", "status")
	if !strings.Contains(stdout, "Daemon: stopped") || !strings.Contains(stdout, "[sentinel_check]") ||
		!strings.Contains(stdout, "Incident leases: 0") {
		t.Fatalf("unexpected daemon status:\n%s", stdout)
	}

	stdout = harness.MustRun(t, binPath, workspace, "status")
	if !strings.Contains(stdout, "Aggregate risk: 82") {
		t.Fatalf("unexpected status:\n%s", stdout)
	}
}
