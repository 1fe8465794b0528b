package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ajith-Anand-R/VANGUARD/internal/daemon"
	"github.com/Ajith-Anand-R/VANGUARD/internal/events"
	"github.com/Ajith-Anand-R/VANGUARD/internal/incident"
)

// maxAdvanceSteps bounds `incident advance --until-rest`. The longest path
// through the pipeline is seven phases.
const maxAdvanceSteps = 20

func newIncidentCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "incident",
		Aliases: []string{"incidents"},
		Short:   "Trigger, advance and inspect incidents",
	}
	cmd.AddCommand(
		newIncidentTriggerCmd(opts),
		newIncidentAdvanceCmd(opts),
		newIncidentShowCmd(opts),
		newIncidentListCmd(opts),
		newIncidentResetCmd(opts),
	)
	return cmd
}

func newIncidentTriggerCmd(opts *rootOptions) *cobra.Command {
	var delayHours float64
	cmd := &cobra.Command{
		Use:   "trigger <shipment-id>",
		Short: "Delay a shipment and open its incident",
		Long: `Push the shipment's current ETA back by --delay-hours and move its incident
to AT_RISK with a fresh retry budget. A delay of 0 opens the incident without
touching the ETA.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			delay := time.Duration(delayHours * float64(time.Hour))
			rec, err := c.Engine.TriggerShipment(ctx, args[0], delay)
			if err != nil {
				return err
			}
			auditCLI(c, "incident_triggered", rec.ID, map[string]any{"delay_hours": delayHours})
			fmt.Fprintf(cmd.OutOrStdout(), "Incident %s is %s (ETA delayed %.0fh)\n", rec.ID, phaseLabel(rec.Phase), delayHours)
			return nil
		},
	}
	cmd.Flags().Float64Var(&delayHours, "delay-hours", daemon.DefaultDelayHours, "Hours to push the current ETA back")
	return cmd
}

func newIncidentAdvanceCmd(opts *rootOptions) *cobra.Command {
	var untilRest bool
	cmd := &cobra.Command{
		Use:   "advance <incident-id>",
		Short: "Move an incident one phase forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			out := cmd.OutOrStdout()

			steps := 1
			if untilRest {
				steps = maxAdvanceSteps
			}
			for i := 0; i < steps; i++ {
				res, err := c.Engine.Advance(ctx, args[0])
				if err != nil {
					return err
				}
				if res.Skipped {
					fmt.Fprintf(out, "%s %s is being processed elsewhere; skipped\n", yellow("!"), res.ID)
					return nil
				}
				if res.From == res.To {
					fmt.Fprintf(out, "%s stays %s\n", res.ID, phaseLabel(res.To))
					return nil
				}
				fmt.Fprintf(out, "%s %s -> %s\n", res.ID, phaseLabel(res.From), phaseLabel(res.To))
				if !res.To.Active() {
					return nil
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&untilRest, "until-rest", false, "Keep advancing until the incident leaves the pipeline")
	return cmd
}

func newIncidentShowCmd(opts *rootOptions) *cobra.Command {
	var showDiff, asJSON bool
	cmd := &cobra.Command{
		Use:   "show <incident-id>",
		Short: "Show an incident record and its context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			rec, err := c.Engine.GetState(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, rec)
			}

			fmt.Fprintf(out, "%s %s\n", bold("Incident"), rec.ID)
			fmt.Fprintf(out, "  phase:        %s\n", phaseLabel(rec.Phase))
			if rec.ActiveStage != "" {
				fmt.Fprintf(out, "  active stage: %s\n", rec.ActiveStage)
			}
			fmt.Fprintf(out, "  retries:      %d\n", rec.RetryCount)
			fmt.Fprintf(out, "  updated:      %s (%s)\n", rec.LastUpdated.Format(time.RFC3339), ago(rec.LastUpdated))

			if showDiff {
				return printStageDiffs(out, rec.Context)
			}

			snapshot := rec.Context.Snapshot()
			keys := make([]string, 0, len(snapshot))
			for k := range snapshot {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(out, "  context (%d entries, stages: %s):\n", len(rec.Context.Entries), strings.Join(rec.Context.Stages(), ", "))
			for _, k := range keys {
				fmt.Fprintf(out, "    %s: %s\n", k, snapshot[k])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showDiff, "diff", false, "Show what each stage changed in the context")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw record as JSON")
	return cmd
}

// printStageDiffs prints one diff per run of consecutive entries written by
// the same stage.
func printStageDiffs(w io.Writer, c incident.Context) error {
	start := 0
	for start < len(c.Entries) {
		end := start + 1
		for end < len(c.Entries) && c.Entries[end].Stage == c.Entries[start].Stage {
			end++
		}
		diff, err := events.SnapshotDiff(c.Until(start).Snapshot(), c.Until(end).Snapshot())
		if err != nil {
			return err
		}
		entry := c.Entries[start]
		fmt.Fprintf(w, "\n%s %s\n", cyan("== "+entry.Stage), entry.At.Format(time.RFC3339))
		if diff == "" {
			fmt.Fprintln(w, "(no change)")
		} else {
			fmt.Fprint(w, diff)
		}
		start = end
	}
	return nil
}

func newIncidentListCmd(opts *rootOptions) *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List incident records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			records, err := c.Incidents.List(ctx)
			if err != nil {
				return err
			}
			return printIncidentTable(cmd.OutOrStdout(), records, activeOnly)
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only incidents still in the pipeline")
	return cmd
}

func printIncidentTable(w io.Writer, records []incident.Record, activeOnly bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPHASE\tSTAGE\tRETRIES\tUPDATED")
	for _, rec := range records {
		if activeOnly && !rec.Phase.Active() {
			continue
		}
		stage := rec.ActiveStage
		if stage == "" {
			stage = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", rec.ID, rec.Phase, stage, rec.RetryCount, ago(rec.LastUpdated))
	}
	return tw.Flush()
}

func newIncidentResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <incident-id>",
		Short: "Return an incident to IDLE with an empty context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			rec, err := c.Engine.Reset(ctx, args[0])
			if err != nil {
				return err
			}
			auditCLI(c, "incident_reset", rec.ID, nil)
			fmt.Fprintf(cmd.OutOrStdout(), "Incident %s reset to %s\n", rec.ID, phaseLabel(rec.Phase))
			return nil
		},
	}
}
