package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ajith-Anand-R/VANGUARD/internal/decision"
)

func newDecisionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "decisions",
		Aliases: []string{"decision"},
		Short:   "Read the decision log",
	}
	cmd.AddCommand(newDecisionsListCmd(opts), newDecisionsShowCmd(opts))
	return cmd
}

func newDecisionsListCmd(opts *rootOptions) *cobra.Command {
	var (
		shipment string
		outcome  string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List decision records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := decision.Filter{ShipmentID: shipment, Outcome: decision.Outcome(outcome), Limit: limit}
			if outcome != "" && !filter.Outcome.Valid() {
				return fmt.Errorf("unknown outcome %q", outcome)
			}
			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			records, err := c.Decisions.List(ctx, filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No decisions recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INCIDENT LOG\tSHIPMENT\tOUTCOME\tGUARDRAIL\tREALITY\tACTION\tWHEN")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.IncidentID, r.ShipmentID, outcomeLabel(r.Outcome), r.Guardrail, r.Reality,
					r.SystemAction, ago(r.Timestamp))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&shipment, "shipment", "", "Only this shipment")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Only this decision outcome")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newDecisionsShowCmd(opts *rootOptions) *cobra.Command {
	var asJSON, noTrace bool
	cmd := &cobra.Command{
		Use:   "show <incident-log-id>",
		Short: "Show one decision record and verify its digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			rec, err := c.Decisions.Get(ctx, args[0])
			if err != nil {
				return err
			}
			verified := decision.Verify(rec)
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]any{"record": rec, "digest": rec.Digest, "verified": verified})
			}

			fmt.Fprintf(out, "%s %s (#%d)\n", bold("Decision"), rec.IncidentID, rec.Seq)
			fmt.Fprintf(out, "  shipment:     %s\n", rec.ShipmentID)
			fmt.Fprintf(out, "  recorded:     %s (%s)\n", rec.Timestamp.Format(time.RFC3339), ago(rec.Timestamp))
			fmt.Fprintf(out, "  outcome:      %s\n", outcomeLabel(rec.Outcome))
			fmt.Fprintf(out, "  guardrail:    %s\n", rec.Guardrail)
			fmt.Fprintf(out, "  reality:      %s\n", rec.Reality)
			fmt.Fprintf(out, "  action:       %s\n", rec.SystemAction)
			fmt.Fprintf(out, "  confidence:   %.2f\n", rec.Confidence)
			fmt.Fprintf(out, "  disruption:   %s\n", rec.DisruptionType)
			fmt.Fprintf(out, "  impact:       %s\n", rec.CounterfactualImpact)
			if rec.Rationale != "" {
				fmt.Fprintf(out, "  rationale:    %s\n", rec.Rationale)
			}
			fmt.Fprintf(out, "  elapsed:      %ds\n", rec.ElapsedSeconds)
			fmt.Fprintf(out, "  chain:        %s\n", strings.Join(rec.DecisionChain, " -> "))
			if verified {
				fmt.Fprintf(out, "  digest:       %s %s\n", rec.Digest, green("(verified)"))
			} else {
				fmt.Fprintf(out, "  digest:       %s %s\n", rec.Digest, red("(MISMATCH)"))
			}
			if noTrace {
				return nil
			}
			fmt.Fprintln(out, bold("Trace"))
			return writeJSON(out, rec.FullTrace)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	cmd.Flags().BoolVar(&noTrace, "no-trace", false, "Omit the stage trace")
	return cmd
}
