package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/recall/internal/notify"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest --owner ID --session ID TEXT...",
		Short: "Store a memory synchronously",
		Long:  "Embed the text and write it to the scope's memory store before returning.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIngest,
	}
	addScopeFlags(cmd)
	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	owner, sessionID := scopeFlags(cmd)
	text := strings.Join(args, " ")

	return withSession(cmd, func(ctx context.Context, s *session) error {
		if err := s.engine.IngestNow(ctx, owner, sessionID, text); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored memory for %s/%s\n", owner, sessionID)
		return nil
	})
}

func newEnqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue --owner ID --session ID TEXT...",
		Short: "Queue a memory for background ingestion",
		Long: "Persist an ingestion job for a running recall-worker. With --wait the job is " +
			"processed in this process and the command returns once it completes or fails.",
		Args: cobra.MinimumNArgs(1),
		RunE: runEnqueue,
	}
	addScopeFlags(cmd)
	cmd.Flags().Bool("wait", false, "process the job in-process and wait for the outcome")
	cmd.Flags().Duration("timeout", 2*time.Minute, "maximum time to wait with --wait")
	return cmd
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	owner, sessionID := scopeFlags(cmd)
	wait, _ := cmd.Flags().GetBool("wait")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	text := strings.Join(args, " ")
	out := cmd.OutOrStdout()

	return withSession(cmd, func(ctx context.Context, s *session) error {
		if !wait {
			job, err := s.engine.SubmitIngestion(ctx, owner, sessionID, text)
			if err != nil {
				return err
			}
			if err := notify.NewEventWriter(s.cfg.Storage.DataPath).JobEnqueued(s.cfg.Queue.Name, job.ID); err != nil {
				log.Printf("WARNING: failed to notify workers, job %s waits for the next poll: %v", job.ID, err)
			}
			_, _ = fmt.Fprintf(out, "Queued job %s\n", job.ID)
			return nil
		}

		if err := s.engine.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = s.engine.Shutdown(context.Background()) }()

		handle, err := s.engine.EnqueueIngestion(ctx, owner, sessionID, text)
		if err != nil {
			return err
		}

		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := handle.Wait(waitCtx); err != nil {
			return fmt.Errorf("job %s: %w", handle.ID, err)
		}

		result := handle.Result()
		_, _ = fmt.Fprintf(out, "Job %s %s after %d attempt(s)\n", result.JobID, result.State, result.Attempts)
		return nil
	})
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list --owner ID --session ID",
		Short: "List every memory in a scope",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	addScopeFlags(cmd)
	cmd.Flags().Bool("json", false, "print records as JSON")
	return cmd
}

func runList(cmd *cobra.Command, _ []string) error {
	owner, sessionID := scopeFlags(cmd)
	asJSON, _ := cmd.Flags().GetBool("json")

	return withSession(cmd, func(ctx context.Context, s *session) error {
		records := s.engine.GetAllMemories(ctx, owner, sessionID)
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), records)
		}
		if len(records) == 0 {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No memories found.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tCREATED\tTEXT")
		for _, r := range records {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.CreatedAt.Format(time.RFC3339), r.Text)
		}
		return tw.Flush()
	})
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search --owner ID --session ID QUERY...",
		Short: "Rank a scope's memories by similarity to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}
	addScopeFlags(cmd)
	cmd.Flags().IntP("limit", "k", 0, "maximum results (default: configured search limit)")
	cmd.Flags().Bool("json", false, "print results as JSON")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	owner, sessionID := scopeFlags(cmd)
	k, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")
	query := strings.Join(args, " ")

	return withSession(cmd, func(ctx context.Context, s *session) error {
		results := s.engine.SearchMemories(ctx, owner, sessionID, query, k)
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), results)
		}
		if len(results) == 0 {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No memories found.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "SCORE\tID\tTEXT")
		for _, r := range results {
			_, _ = fmt.Fprintf(tw, "%.4f\t%s\t%s\n", r.Score, r.ID, r.Text)
		}
		return tw.Flush()
	})
}
