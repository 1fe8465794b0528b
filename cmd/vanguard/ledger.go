package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newLedgerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the emergency reserve and its transactions",
	}
	cmd.AddCommand(newLedgerShowCmd(opts))
	return cmd
}

func newLedgerShowCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the reserve and every transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			budget, err := c.Repo.Budget(ctx)
			if err != nil {
				return err
			}
			txns, err := c.Ledger.Transactions(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]any{"budget": budget, "transactions": txns})
			}

			fmt.Fprintf(out, "%s %s available, %s allocated (%s)\n",
				bold("Emergency reserve:"), money(budget.Available), money(budget.Allocated), budget.Currency)
			fmt.Fprintln(out)
			if len(txns) == 0 {
				fmt.Fprintln(out, "No transactions.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TRANSACTION\tSHIPMENT\tAMOUNT\tDESTINATION\tCEILING\tWHEN")
			for _, t := range txns {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					t.TransactionID, t.ShipmentID, money(t.Amount), t.Destination,
					money(t.RecoveryBudgetCeiling), t.Timestamp.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
