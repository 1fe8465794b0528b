package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverFindsNearestConfig(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ConfigFileName), []byte("tick_interval: 2s\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	nested := filepath.Join(root, "data", "reports")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("create nested dir: %v", err)
	}

	ws, err := Discover(nested)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	want, _ := filepath.EvalSymlinks(root)
	got, _ := filepath.EvalSymlinks(ws.Root)
	if got != want {
		t.Fatalf("expected root %s, got %s", want, got)
	}
	if ws.StateDBPath != filepath.Join(ws.Root, "audit", "state.sqlite") {
		t.Errorf("unexpected state db path %s", ws.StateDBPath)
	}
}

func TestDiscoverFallsBackToStart(t *testing.T) {
	start := t.TempDir()
	ws, err := Discover(start)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if ws.Root != start {
		t.Fatalf("expected %s, got %s", start, ws.Root)
	}
}

func TestResolvePath(t *testing.T) {
	ws, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new workspace: %v", err)
	}
	got, err := ws.ResolvePath("data/reports/feed.json")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != filepath.Join(ws.Root, "data", "reports", "feed.json") {
		t.Errorf("unexpected path %s", got)
	}
	abs := filepath.Join(t.TempDir(), "x.json")
	if got, _ := ws.ResolvePath(abs); got != abs {
		t.Errorf("absolute path changed: %s", got)
	}
	if got, _ := ws.ResolvePath("  "); got != "" {
		t.Errorf("expected empty path, got %s", got)
	}
}

func TestResolveRejectsFiles(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Resolve(file); err == nil {
		t.Fatal("expected error for a file root")
	}
}
