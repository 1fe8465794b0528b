package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ajith-Anand-R/VANGUARD/internal/notify"
)

func newSentinelCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Assess aggregate environmental risk",
	}
	cmd.AddCommand(newSentinelCheckCmd(opts))
	return cmd
}

func newSentinelCheckCmd(opts *rootOptions) *cobra.Command {
	var shipment string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Score the signals and open incidents on a breach",
		Long: `Score the current signals. On a breach every tracked idle shipment (or just
--shipment) gets an incident opened with the aggregate risk. Incidents that
are already AT_RISK get the fresh reading.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			ids := []string{shipment}
			if shipment == "" {
				if ids, err = c.TrackedIncidents(ctx); err != nil {
					return err
				}
			}
			report, err := c.Engine.SentinelCheck(ctx, c.Sentinel, ids)
			if err != nil {
				return err
			}
			a := report.Assessment
			if a.TriggerDecision && len(report.Triggered) > 0 {
				if err := c.Notifier.Send(notify.FormatSentinelBreach(a.AggregateRisk, a.TriggerThreshold)); err != nil {
					c.Logger.Warn("sentinel notification failed", zap.Error(err))
				}
			}
			auditCLI(c, "sentinel_check", shipment, report)

			out := cmd.OutOrStdout()
			label := green(a.Assessment)
			if a.TriggerDecision {
				label = red(a.Assessment)
			}
			fmt.Fprintf(out, "%s aggregate risk %.0f (threshold %.0f)\n", label, a.AggregateRisk, a.TriggerThreshold)
			if len(report.Triggered) > 0 {
				fmt.Fprintf(out, "  triggered: %s\n", strings.Join(report.Triggered, ", "))
			}
			if len(report.Refreshed) > 0 {
				fmt.Fprintf(out, "  refreshed: %s\n", strings.Join(report.Refreshed, ", "))
			}
			if len(report.Busy) > 0 {
				fmt.Fprintf(out, "  busy:      %s\n", strings.Join(report.Busy, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&shipment, "shipment", "", "Only consider this shipment")
	return cmd
}
