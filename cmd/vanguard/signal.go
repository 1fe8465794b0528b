package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Ajith-Anand-R/VANGUARD/internal/logistics"
	"github.com/Ajith-Anand-R/VANGUARD/internal/metrics"
)

func newSignalCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "signal",
		Aliases: []string{"signals"},
		Short:   "Inspect and update monitored environmental signals",
	}
	cmd.AddCommand(newSignalShowCmd(opts), newSignalSetCmd(opts), newSignalImportCmd(opts))
	return cmd
}

func printSignals(w io.Writer, s logistics.Signals) {
	fmt.Fprintf(w, "  port_congestion_level:      %.1f\n", s.PortCongestionLevel)
	fmt.Fprintf(w, "  weather_risk_score:         %.1f\n", s.WeatherRiskScore)
	fmt.Fprintf(w, "  supplier_reliability_index: %.2f\n", s.SupplierReliabilityIndex)
	fmt.Fprintf(w, "  last_updated:               %s\n", ago(s.LastUpdated))
}

func newSignalShowCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current signals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			signals, err := c.Repo.Signals(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), signals)
			}
			fmt.Fprintln(cmd.OutOrStdout(), bold("Signals"))
			printSignals(cmd.OutOrStdout(), signals)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newSignalSetCmd(opts *rootOptions) *cobra.Command {
	var (
		signalType string
		value      float64
	)
	cmd := &cobra.Command{
		Use:   "set [<type> <value>]",
		Short: "Set one signal",
		Long: fmt.Sprintf(`Set one signal. Types: %s, %s, %s.

Examples:
  %[4]s signal set --type weather_risk --value 85
  %[4]s signal set supplier_reliability 0.4`,
			logistics.SignalPortCongestion, logistics.SignalWeatherRisk, logistics.SignalSupplierReliability, appName),
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected <type> <value> or --type and --value")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				signalType = args[0]
				parsed, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return fmt.Errorf("parse value: %w", err)
				}
				value = parsed
			} else if signalType == "" || !cmd.Flags().Changed("value") {
				return fmt.Errorf("--type and --value are required")
			}

			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			signals, err := c.Repo.UpdateSignal(ctx, signalType, value, c.Now())
			if err != nil {
				return err
			}
			auditCLI(c, "signal_set", "", map[string]any{"type": signalType, "value": value})
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %g\n", green("✓"), signalType, value)
			printSignals(cmd.OutOrStdout(), signals)
			return nil
		},
	}
	cmd.Flags().StringVar(&signalType, "type", "", "Signal type")
	cmd.Flags().Float64Var(&value, "value", 0, "Signal value")
	return cmd
}

func newSignalImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <report.json>",
		Short: "Apply a monitoring report's readings to the signals",
		Long: `Apply a monitoring report to the signals. The report is a JSON object:

  {"metrics": [{"key": "weather_risk", "value": 80, "evidence": ["noaa:alert-123"]}]}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			path, err := c.Workspace.ResolvePath(args[0])
			if err != nil {
				return err
			}
			provider := &metrics.ReportProvider{ReportPath: path, AsOf: c.Now()}
			readings, err := provider.Collect(ctx)
			if err != nil {
				return err
			}
			if len(readings) == 0 {
				return fmt.Errorf("no readings in %s", path)
			}
			signals, err := metrics.ApplyReadings(ctx, c.Repo, readings, c.Now())
			if err != nil {
				return err
			}
			auditCLI(c, "signal_import", "", map[string]any{"path": path, "readings": readings})
			fmt.Fprintf(cmd.OutOrStdout(), "%s applied %d readings from %s\n", green("✓"), len(readings), path)
			printSignals(cmd.OutOrStdout(), signals)
			return nil
		},
	}
}
