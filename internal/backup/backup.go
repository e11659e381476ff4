// Package backup takes consistent snapshots of the SQLite database that
// holds memory records and ingestion jobs, verifies them and prunes old ones.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	_ "modernc.org/sqlite" // SQLite driver for Verify
)

const (
	filePrefix = "recall-"
	fileSuffix = ".db"

	// stampLayout sorts lexically in time order.
	stampLayout = "20060102T150405.000000000Z"
)

// Info describes a snapshot file.
type Info struct {
	Path      string
	Timestamp time.Time
	Size      int64
}

// Result is the outcome of a snapshot.
type Result struct {
	Info
	Duration time.Duration
	Verified bool
}

// Snapshot writes a point-in-time copy of db into dir using VACUUM INTO,
// which is consistent under WAL mode and works for in-memory databases.
// The copy is verified with PRAGMA integrity_check when verify is set.
func Snapshot(ctx context.Context, db *sql.DB, dir string, now time.Time, verify bool) (Result, error) {
	if db == nil {
		return Result{}, fmt.Errorf("database is required")
	}
	if dir == "" {
		return Result{}, fmt.Errorf("backup directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create backup directory: %w", err)
	}

	now = now.UTC()
	path := filepath.Join(dir, filePrefix+now.Format(stampLayout)+fileSuffix)
	if _, err := os.Stat(path); err == nil {
		return Result{}, fmt.Errorf("backup %s already exists", path)
	}

	start := time.Now()
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return Result{}, fmt.Errorf("failed to backup database: %w", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat backup: %w", err)
	}
	result := Result{
		Info:     Info{Path: path, Timestamp: now, Size: stat.Size()},
		Duration: time.Since(start),
	}

	if verify {
		if err := Verify(ctx, path); err != nil {
			return result, err
		}
		result.Verified = true
	}
	return result, nil
}

// Verify opens a snapshot read-only and runs PRAGMA integrity_check.
func Verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// List returns the snapshots in dir, newest first. Files not written by
// Snapshot are ignored.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ts, err := time.Parse(stampLayout, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Info{
			Path:      filepath.Join(dir, name),
			Timestamp: ts,
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Prune deletes all but the keep newest snapshots in dir and returns how
// many were removed. A negative keep disables pruning.
func Prune(dir string, keep int) (int, error) {
	if keep < 0 {
		return 0, nil
	}
	backups, err := List(dir)
	if err != nil {
		return 0, err
	}
	if len(backups) <= keep {
		return 0, nil
	}

	var (
		result  *multierror.Error
		removed int
	)
	for _, b := range backups[keep:] {
		if err := os.Remove(b.Path); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		removed++
	}
	if err := result.ErrorOrNil(); err != nil {
		return removed, fmt.Errorf("failed to delete some backups: %w", err)
	}
	return removed, nil
}
