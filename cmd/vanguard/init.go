package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
	"github.com/Ajith-Anand-R/VANGUARD/internal/workspace"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace with demo shipments, budget and signals",
		Long: `Create the workspace layout, write the seed and signals files if they are
missing, and load the seed into the state database.

Existing shipments, budget and signals are kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := workspace.ResolveRoot(opts.workspace)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(root, 0o755); err != nil {
				return fmt.Errorf("create workspace root: %w", err)
			}
			ws, err := workspace.Resolve(root)
			if err != nil {
				return err
			}
			if err := ws.EnsureDirs(); err != nil {
				return err
			}
			if err := writeFileIfMissing(ws.ConfigPath, defaultConfigTemplate); err != nil {
				return err
			}
			if _, err := logistics.WriteSeedFile(ws.SeedPath, logistics.DefaultSeed()); err != nil {
				return err
			}
			if _, err := os.Stat(ws.SignalsPath); errors.Is(err, os.ErrNotExist) {
				if err := logistics.WriteSignalsFile(ws.SignalsPath, logistics.DefaultSeed().Signals); err != nil {
					return err
				}
			} else if err != nil {
				return fmt.Errorf("stat signals file: %w", err)
			}

			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			seed, err := logistics.LoadSeedFile(ws.SeedPath)
			if err != nil {
				return err
			}
			result, err := c.Repo.ApplySeed(ctx, seed, force)
			if err != nil {
				return fmt.Errorf("apply seed: %w", err)
			}
			auditCLI(c, "workspace_init", "", map[string]any{
				"workspace": ws.Root,
				"force":     force,
				"shipments": result.Shipments,
				"suppliers": result.Suppliers,
				"budget":    result.Budget,
				"signals":   result.Signals,
			})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Initialized workspace: %s\n", green("✓"), ws.Root)
			fmt.Fprintf(out, "  shipments loaded: %d, suppliers: %d, budget reset: %t, signals reset: %t\n",
				result.Shipments, result.Suppliers, result.Budget, result.Signals)
			fmt.Fprintln(out, "Next steps:")
			fmt.Fprintf(out, "  %s incident trigger SH-4429 --workspace %s\n", appName, ws.Root)
			fmt.Fprintf(out, "  %s incident advance SH-4429 --workspace %s\n", appName, ws.Root)
			fmt.Fprintf(out, "  %s daemon run --workspace %s\n", appName, ws.Root)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite shipments, budget and signals from the seed file")
	return cmd
}

func writeFileIfMissing(path string, contents string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", path, err)
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

const defaultConfigTemplate = `# VANGUARD workspace configuration. Every key is optional.
tick_interval: 2s
concurrency: 4
max_retries: 3
risk_floor: 50
tracked:
  - "*"

guardrails:
  min_severity: 50
  idempotency_window: 1h
  audit_read_failure: allow

sentinel:
  interval: 30s
  threshold: 65

log:
  level: info
  format: console
`
