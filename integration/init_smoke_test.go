package integration_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ajith-Anand-R/VANGUARD/integration/harness"
)

func TestInitSmoke(t *testing.T) {
	binPath := harness.BuildBinary(t)
	workspaceRoot := filepath.Join(t.TempDir(), "workspace-init")

	res := harness.Run(t, binPath, t.TempDir(), []string{"init", "--workspace", workspaceRoot})
	if res.Code != 0 {
		t.Fatalf("vanguard init exit code %d\nstdout:\n%s\nstderr:\n%s", res.Code, res.Stdout, res.Stderr)
	}
	if !strings.Contains(res.Stdout, "Initialized workspace") {
		t.Fatalf("unexpected init output:\n%s", res.Stdout)
	}

	paths := []string{
		filepath.Join(workspaceRoot, "vanguard.yaml"),
		filepath.Join(workspaceRoot, "data", "seed.yaml"),
		filepath.Join(workspaceRoot, "data", "signals.yaml"),
		filepath.Join(workspaceRoot, "data", "reports"),
		filepath.Join(workspaceRoot, "audit", "state.sqlite"),
		filepath.Join(workspaceRoot, "audit", "decisions.sqlite"),
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing init path %s: %v", path, err)
		}
	}

	auditPath := filepath.Join(workspaceRoot, "audit", "audit.sqlite")
	requireAuditEvents(t, auditPath, []string{"workspace_init"})

	// A second init keeps existing state.
	stdout := harness.MustRun(t, binPath, workspaceRoot, "init")
	if !strings.Contains(stdout, "shipments loaded: 0") {
		t.Fatalf("expected re-init to keep shipments:\n%s", stdout)
	}
}
