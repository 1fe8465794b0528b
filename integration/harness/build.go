// Package harness builds the vanguard binary and runs it against scratch
// workspaces for the integration smoke tests.
package harness

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

var (
	buildOnce sync.Once
	buildPath string
	buildErr  error
)

// RepoRoot returns the module root, two directories above this file.
func RepoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("resolve repo root: runtime.Caller failed")
	}
	root := filepath.Dir(filepath.Dir(filepath.Dir(file)))
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		t.Fatalf("verify repo root: %v", err)
	}
	return root
}

// BuildBinary compiles cmd/vanguard once per test run and returns the path.
// The version is stamped as "integration".
func BuildBinary(t *testing.T) string {
	t.Helper()
	root := RepoRoot(t)

	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "vanguard-bin-")
		if err != nil {
			buildErr = fmt.Errorf("create temp dir: %w", err)
			return
		}
		out := filepath.Join(dir, "vanguard")
		if runtime.GOOS == "windows" {
			out += ".exe"
		}

		cmd := exec.Command("go", "build", "-ldflags", "-X main.version=integration", "-o", out, "./cmd/vanguard")
		cmd.Dir = root
		cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			buildErr = fmt.Errorf("go build: %w\n%s", err, stderr.String())
			return
		}
		buildPath = out
	})

	if buildErr != nil {
		t.Fatalf("build vanguard binary: %v", buildErr)
	}
	return buildPath
}
