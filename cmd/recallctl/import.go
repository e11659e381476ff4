package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/recall/internal/importer"
	"github.com/scrypster/recall/internal/notify"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import --owner ID --session ID DIR",
		Short: "Import a folder of Markdown notes into a scope",
		Long: "Turn every Markdown note under DIR (for example an Obsidian vault) into one memory. " +
			"Notes are queued for recall-worker unless --sync stores them before returning.",
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
	addScopeFlags(cmd)
	cmd.Flags().Bool("sync", false, "embed and store each note before moving on")
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	owner, sessionID := scopeFlags(cmd)
	sync, _ := cmd.Flags().GetBool("sync")

	return withSession(cmd, func(ctx context.Context, s *session) error {
		var submit importer.SubmitFunc
		queued := 0
		if sync {
			submit = func(ctx context.Context, text string) error {
				return s.engine.IngestNow(ctx, owner, sessionID, text)
			}
		} else {
			submit = func(ctx context.Context, text string) error {
				_, err := s.engine.SubmitIngestion(ctx, owner, sessionID, text)
				if err == nil {
					queued++
				}
				return err
			}
		}

		result, err := importer.Import(ctx, args[0], submit)
		if err != nil {
			return err
		}

		if queued > 0 {
			if err := notify.NewEventWriter(s.cfg.Storage.DataPath).JobEnqueued(s.cfg.Queue.Name, "import"); err != nil {
				log.Printf("WARNING: failed to notify workers, jobs wait for the next poll: %v", err)
			}
		}

		out := cmd.OutOrStdout()
		verb := "Queued"
		if sync {
			verb = "Stored"
		}
		_, _ = fmt.Fprintf(out, "%s %d of %d note(s) in %s (%d empty, %d failed)\n",
			verb, result.Submitted, result.FilesFound, result.Duration.Round(time.Millisecond), result.Skipped, result.Failed)
		for _, e := range result.Errors {
			_, _ = fmt.Fprintf(out, "  %s\n", e)
		}
		return nil
	})
}
