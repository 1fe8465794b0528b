package harness

import (
	"bytes"
	"os"
	"os/exec"
	"sort"
	"strings"
	"testing"
)

// Result is the captured outcome of one CLI invocation.
type Result struct {
	Stdout string
	Stderr string
	Code   int
}

// Run executes the CLI in the provided working directory.
func Run(t *testing.T, binPath, workDir string, args []string) Result {
	t.Helper()
	return run(t, binPath, workDir, args, nil)
}

// RunWithEnv executes the CLI with environment overrides.
func RunWithEnv(t *testing.T, binPath, workDir string, args []string, env map[string]string) Result {
	t.Helper()
	return run(t, binPath, workDir, args, env)
}

// MustRun executes the CLI against workspace and fails the test on a
// non-zero exit. It returns stdout.
func MustRun(t *testing.T, binPath, workspace string, args ...string) string {
	t.Helper()
	full := append(append([]string{}, args...), "--workspace", workspace)
	res := RunWithEnv(t, binPath, workspace, full, map[string]string{"NO_COLOR": "1"})
	if res.Code != 0 {
		t.Fatalf("vanguard %s exit code %d\nstdout:\n%s\nstderr:\n%s",
			strings.Join(args, " "), res.Code, res.Stdout, res.Stderr)
	}
	return res.Stdout
}

func run(t *testing.T, binPath, workDir string, args []string, env map[string]string) Result {
	t.Helper()

	cmd := exec.Command(binPath, args...)
	cmd.Dir = workDir
	if len(env) > 0 {
		cmd.Env = mergeEnv(env)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := Result{}
	if err := cmd.Run(); err != nil {
		ee, ok := err.(*exec.ExitError)
		if !ok {
			t.Fatalf("run %s: %v", binPath, err)
		}
		res.Code = ee.ExitCode()
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res
}

func mergeEnv(overrides map[string]string) []string {
	env := make(map[string]string, len(overrides))
	for _, entry := range os.Environ() {
		key, val, _ := strings.Cut(entry, "=")
		env[key] = val
	}
	for k, v := range overrides {
		env[k] = v
	}

	merged := make([]string, 0, len(env))
	for k, v := range env {
		merged = append(merged, k+"="+v)
	}
	sort.Strings(merged)
	return merged
}
