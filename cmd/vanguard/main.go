// Command vanguard drives logistics incidents from detection to a recorded
// decision. It can run one step at a time or as a daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Ajith-Anand-R/VANGUARD/internal/config"
	"github.com/Ajith-Anand-R/VANGUARD/internal/daemon"
	"github.com/Ajith-Anand-R/VANGUARD/internal/logging"
	"github.com/Ajith-Anand-R/VANGUARD/internal/workspace"
)

const appName = "vanguard"

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	workspace  string
	configPath string
	logLevel   string
	// discover is set when no workspace was named explicitly.
	discover bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           appName,
		Short:         "Autonomous logistics incident response",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.discover = !cmd.Flags().Changed("workspace") && os.Getenv("VANGUARD_WORKSPACE") == ""
		},
	}
	defaultWorkspace := os.Getenv("VANGUARD_WORKSPACE")
	if defaultWorkspace == "" {
		defaultWorkspace = "."
	}
	root.PersistentFlags().StringVar(&opts.workspace, "workspace", defaultWorkspace, "Path to workspace root")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: <workspace>/vanguard.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log.level")

	root.AddCommand(
		newInitCmd(opts),
		newDaemonCmd(opts),
		newIncidentCmd(opts),
		newSignalCmd(opts),
		newSentinelCmd(opts),
		newLedgerCmd(opts),
		newDecisionsCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

func (o *rootOptions) resolveWorkspace() (*workspace.Workspace, error) {
	if strings.TrimSpace(o.workspace) == "" {
		return nil, fmt.Errorf("--workspace is required")
	}
	if o.discover {
		return workspace.Discover(o.workspace)
	}
	return workspace.Resolve(o.workspace)
}

func (o *rootOptions) loadConfig(ws *workspace.Workspace) (*config.Config, error) {
	path := ws.ConfigPath
	if o.configPath != "" {
		resolved, err := ws.ResolvePath(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("resolve --config: %w", err)
		}
		path = resolved
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// open assembles the full component graph for the workspace. Callers must
// Close the result.
func (o *rootOptions) open(ctx context.Context) (*daemon.Components, error) {
	ws, err := o.resolveWorkspace()
	if err != nil {
		return nil, err
	}
	cfg, err := o.loadConfig(ws)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return daemon.Build(ctx, daemon.Options{
		Workspace: ws,
		Config:    cfg,
		Logger:    logger,
		Version:   version,
	})
}

// auditCLI records a CLI action in the workspace audit log.
func auditCLI(c *daemon.Components, eventType, incidentID string, payload any) {
	if err := c.Audit.LogEvent("cli", eventType, incidentID, payload); err != nil {
		fmt.Fprintln(os.Stderr, "audit log failed:", err)
	}
}
