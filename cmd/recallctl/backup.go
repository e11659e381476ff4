package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/recall/internal/backup"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the SQLite database",
		Long: "Write a consistent copy of the SQLite database holding memories and jobs, " +
			"verify it and keep only the newest --keep snapshots.",
		Args: cobra.NoArgs,
		RunE: runBackup,
	}
	cmd.Flags().String("dir", "", "backup directory (default: <data_path>/backups)")
	cmd.Flags().Int("keep", 10, "snapshots to keep (-1 keeps all)")
	cmd.Flags().Bool("no-verify", false, "skip the integrity check")
	return cmd
}

func runBackup(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	keep, _ := cmd.Flags().GetInt("keep")
	noVerify, _ := cmd.Flags().GetBool("no-verify")

	return withSession(cmd, func(ctx context.Context, s *session) error {
		db := s.manager.SQLiteDB()
		if db == nil {
			return fmt.Errorf("backup requires the sqlite vector store or queue backend")
		}
		if dir == "" {
			dir = filepath.Join(s.cfg.Storage.DataPath, "backups")
		}

		result, err := backup.Snapshot(ctx, db, dir, time.Now(), !noVerify)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "Wrote %s (%d bytes, %s, verified=%t)\n",
			result.Path, result.Size, result.Duration.Round(time.Millisecond), result.Verified)

		removed, err := backup.Prune(dir, keep)
		if err != nil {
			return err
		}
		if removed > 0 {
			_, _ = fmt.Fprintf(out, "Removed %d old snapshot(s)\n", removed)
		}
		return nil
	})
}
