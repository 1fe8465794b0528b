package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Ajith-Anand-R/VANGUARD/internal/daemon"
	"github.com/Ajith-Anand-R/VANGUARD/internal/incident"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the workspace: daemon, reserve, risk and incidents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			out := cmd.OutOrStdout()

			held, err := daemon.LockHeld(c.Workspace.LockPath)
			if err != nil {
				return fmt.Errorf("probe daemon lock: %w", err)
			}
			state := yellow("stopped")
			if held {
				state = green("running")
			}
			fmt.Fprintf(out, "%s %s\n", bold("Workspace:"), c.Workspace.Root)
			fmt.Fprintf(out, "%s %s\n", bold("Daemon:"), state)

			budget, err := c.Repo.Budget(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s available\n", bold("Reserve:"), money(budget.Available))

			signals, err := c.Repo.Signals(ctx)
			if err != nil {
				return err
			}
			a := c.Sentinel.Assess(signals)
			risk := green(a.Assessment)
			if a.TriggerDecision {
				risk = red(a.Assessment)
			}
			fmt.Fprintf(out, "%s %.0f / %.0f %s\n", bold("Aggregate risk:"), a.AggregateRisk, a.TriggerThreshold, risk)

			records, err := c.Incidents.List(ctx)
			if err != nil {
				return err
			}
			counts := make(map[incident.Phase]int)
			for _, rec := range records {
				counts[rec.Phase]++
			}
			phases := make([]incident.Phase, 0, len(counts))
			for p := range counts {
				phases = append(phases, p)
			}
			sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })
			fmt.Fprintln(out, bold("Signals:"))
			printSignals(out, signals)
			fmt.Fprintf(out, "%s %d\n", bold("Incidents:"), len(records))
			for _, p := range phases {
				fmt.Fprintf(out, "  %s: %d\n", phaseLabel(p), counts[p])
			}
			if len(records) > 0 {
				if err := printIncidentTable(out, records, false); err != nil {
					return err
				}
			}

			n, err := c.Decisions.Count(ctx, "")
			if err == nil && n > 0 {
				fmt.Fprintf(out, "%s %d\n", bold("Decisions:"), n)
			}
			return nil
		},
	}
}
