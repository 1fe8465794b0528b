package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace defines workspace-relative paths for VANGUARD operations.
type Workspace struct {
	Root            string
	ConfigPath      string
	DataDir         string
	SeedPath        string
	SignalsPath     string
	ReportsDir      string
	AuditDir        string
	AuditDBPath     string
	DecisionsDBPath string
	StateDBPath     string
	LockPath        string
}

// Resolve expands and validates the workspace root, ensuring it exists.
func Resolve(root string) (*Workspace, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", abs)
	}
	return newWorkspace(abs), nil
}

// ResolveRoot resolves the workspace root without requiring it to exist.
func ResolveRoot(root string) (string, error) {
	return resolveRoot(root)
}

// ConfigFileName marks a workspace root.
const ConfigFileName = "vanguard.yaml"

// Discover walks up from start to the nearest directory holding a
// vanguard.yaml and resolves it. When none is found start itself is used.
func Discover(start string) (*Workspace, error) {
	abs, err := resolveRoot(start)
	if err != nil {
		return nil, err
	}
	for dir := abs; ; {
		if info, err := os.Stat(filepath.Join(dir, ConfigFileName)); err == nil && !info.IsDir() {
			return Resolve(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return Resolve(abs)
}

// New returns a workspace rooted at root without touching the filesystem.
func New(root string) (*Workspace, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	return newWorkspace(abs), nil
}

// EnsureDirs creates the data, reports and audit directories.
func (w *Workspace) EnsureDirs() error {
	if w == nil {
		return fmt.Errorf("workspace is nil")
	}
	for _, dir := range []string{w.DataDir, w.ReportsDir, w.AuditDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	return nil
}

// ResolvePath returns an absolute path, resolving relative paths from the workspace root.
func (w *Workspace) ResolvePath(path string) (string, error) {
	if w == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	return filepath.Abs(filepath.Join(w.Root, expanded))
}

func newWorkspace(root string) *Workspace {
	return &Workspace{
		Root:            root,
		ConfigPath:      filepath.Join(root, ConfigFileName),
		DataDir:         filepath.Join(root, "data"),
		SeedPath:        filepath.Join(root, "data", "seed.yaml"),
		SignalsPath:     filepath.Join(root, "data", "signals.yaml"),
		ReportsDir:      filepath.Join(root, "data", "reports"),
		AuditDir:        filepath.Join(root, "audit"),
		AuditDBPath:     filepath.Join(root, "audit", "audit.sqlite"),
		DecisionsDBPath: filepath.Join(root, "audit", "decisions.sqlite"),
		StateDBPath:     filepath.Join(root, "audit", "state.sqlite"),
		LockPath:        filepath.Join(root, "audit", "daemon.lock"),
	}
}

func resolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", fmt.Errorf("workspace root is required")
	}
	expanded, err := expandHome(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return abs, nil
}

func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:]), nil
	}
	return "", fmt.Errorf("unsupported home expansion: %s", path)
}
