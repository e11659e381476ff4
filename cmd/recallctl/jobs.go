package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/recall/pkg/types"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List ingestion jobs",
		Long:  "List ingestion jobs, most recently updated first. Use --state failed to inspect dead jobs.",
		Args:  cobra.NoArgs,
		RunE:  runJobs,
	}
	cmd.Flags().String("state", "", "filter by state (waiting, delayed, active, completed, failed)")
	cmd.Flags().Int("limit", 50, "maximum jobs to list (0 for all)")
	cmd.Flags().Bool("json", false, "print jobs as JSON")
	return cmd
}

func runJobs(cmd *cobra.Command, _ []string) error {
	state, _ := cmd.Flags().GetString("state")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	return withSession(cmd, func(ctx context.Context, s *session) error {
		jobs, err := s.engine.Jobs(ctx, types.JobState(state), limit)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), jobs)
		}
		if len(jobs) == 0 {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tSTATE\tATTEMPTS\tOWNER\tSESSION\tUPDATED\tLAST ERROR")
		for _, j := range jobs {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\t%s\t%s\n",
				j.ID, j.State, j.Attempts, j.MaxAttempts, j.Scope.OwnerID, j.Scope.SessionID,
				j.UpdatedAt.Format(time.RFC3339), j.LastError)
		}
		return tw.Flush()
	})
}

func newJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job ID",
		Short: "Show one ingestion job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				job, err := s.engine.Job(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), job)
			})
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				counts, err := s.engine.QueueCounts(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "Queue %q (%s)\n", s.cfg.Queue.Name, s.cfg.Queue.Backend)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, state := range types.ValidJobStates {
					_, _ = fmt.Fprintf(tw, "  %s\t%d\n", state, counts[state])
				}
				return tw.Flush()
			})
		},
	}
}

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Requeue jobs left active by a crashed worker",
		Long: "Requeue active jobs that still have attempts left and fail the rest. " +
			"Only run this while no recall-worker is processing the queue.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				requeued, failed, err := s.engine.RecoverActiveJobs(ctx)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s), failed %d job(s)\n", requeued, failed)
				return nil
			})
		},
	}
}
