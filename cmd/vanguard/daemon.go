package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ajith-Anand-R/VANGUARD/internal/daemon"
)

func newDaemonCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and inspect the background scheduler",
	}
	cmd.AddCommand(newDaemonRunCmd(opts), newDaemonStatusCmd(opts), newDaemonEnqueueCmd(opts))
	return cmd
}

func newDaemonRunCmd(opts *rootOptions) *cobra.Command {
	var poll, lease time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			d, err := daemon.New(c, daemon.Config{PollInterval: poll, LeaseFor: lease})
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Starting daemon for workspace: %s\n", c.Workspace.Root)
			fmt.Fprintf(out, "Poll interval: %s, Lease: %s, Concurrency: %d\n", d.PollInterval, d.LeaseFor, d.Concurrency)
			return d.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&poll, "poll", 0, "Tick interval (default: tick_interval from config)")
	cmd.Flags().DurationVar(&lease, "lease", 30*time.Second, "Lease duration for claimed jobs")
	return cmd
}

func newDaemonStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon lock and job queue",
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
			if held {
				fmt.Fprintf(out, "Daemon: %s\n\n", green("running"))
			} else {
				fmt.Fprintf(out, "Daemon: %s\n\n", yellow("stopped"))
			}

			running, err := c.State.ListRunning(ctx)
			if err != nil {
				return fmt.Errorf("list running jobs: %w", err)
			}
			fmt.Fprintf(out, "Running jobs: %d\n", len(running))
			for _, job := range running {
				var started, expires string
				if job.StartedAt != nil {
					started = job.StartedAt.Format(time.RFC3339)
				}
				if job.LeaseExpiresAt != nil {
					expires = job.LeaseExpiresAt.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "  %s [%s] started=%s lease_expires=%s\n", job.ID, job.Type, started, expires)
			}
			fmt.Fprintln(out)

			records, err := c.Incidents.List(ctx)
			if err != nil {
				return err
			}
			var leased []string
			for _, rec := range records {
				holder, err := c.Incidents.LeaseHolder(ctx, rec.ID)
				if err != nil {
					return err
				}
				if holder != "" {
					leased = append(leased, fmt.Sprintf("  %s [%s] held by %s", rec.ID, rec.Phase, holder))
				}
			}
			fmt.Fprintf(out, "Incident leases: %d\n", len(leased))
			for _, line := range leased {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out)

			queued, err := c.State.ListQueued(ctx, 10)
			if err != nil {
				return fmt.Errorf("list queued jobs: %w", err)
			}
			fmt.Fprintf(out, "Queued jobs (next %d):\n", len(queued))
			for _, job := range queued {
				fmt.Fprintf(out, "  %s [%s] scheduled=%s\n", job.ID, job.Type, job.ScheduledAt.Format(time.RFC3339))
			}
			fmt.Fprintln(out)

			completed, err := c.State.ListRecentCompleted(ctx, 5)
			if err != nil {
				return fmt.Errorf("list completed jobs: %w", err)
			}
			fmt.Fprintf(out, "Recent completed jobs (last %d):\n", len(completed))
			for _, job := range completed {
				var finished string
				if job.FinishedAt != nil {
					finished = ago(*job.FinishedAt)
				}
				fmt.Fprintf(out, "  %s [%s] status=%s finished=%s\n", job.ID, job.Type, job.Status, finished)
				if job.ResultJSON != "" {
					fmt.Fprintf(out, "    result: %s\n", job.ResultJSON)
				}
			}
			return nil
		},
	}
}

func newDaemonEnqueueCmd(opts *rootOptions) *cobra.Command {
	var at, payloadJSON string
	cmd := &cobra.Command{
		Use:   "enqueue <job-type>",
		Short: "Queue a job for the daemon",
		Long: fmt.Sprintf(`Queue a job for the daemon. Known job types: %s.

Examples:
  %[2]s daemon enqueue incident_trigger --payload '{"shipment_id":"SH-4429"}'
  %[2]s daemon enqueue signal_update --payload '{"type":"weather_risk","value":80}'
  %[2]s daemon enqueue sentinel_check --at 2025-01-03T09:00`, strings.Join(daemon.JobTypes(), ", "), appName),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobType := args[0]
			if !slices.Contains(daemon.JobTypes(), jobType) {
				return fmt.Errorf("unknown job type %q", jobType)
			}
			var payload map[string]any
			if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
				return fmt.Errorf("parse --payload: %w", err)
			}

			ctx := cmd.Context()
			c, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			scheduledAt := c.Now().UTC()
			if at != "" {
				scheduledAt, err = time.Parse("2006-01-02T15:04", at)
				if err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
			}

			jobID, created, err := c.State.EnqueueUnique(ctx, jobType, scheduledAt, payload)
			if err != nil {
				return fmt.Errorf("enqueue job: %w", err)
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job: %s\n", jobID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Job already exists: %s\n", jobID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Scheduled time in UTC (YYYY-MM-DDTHH:MM, default: now)")
	cmd.Flags().StringVar(&payloadJSON, "payload", "{}", "Job payload as JSON")
	return cmd
}
