// Package sqlite implements queue.Backend on SQLite.
//
// Claims are a single UPDATE ... RETURNING statement, so two workers can
// never receive the same job even when they share a database file across
// processes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/recall/internal/queue"
	"github.com/scrypster/recall/pkg/types"
)

const jobColumns = `id, owner_id, session_id, text, state, attempts, max_attempts,
	last_error, enqueued_at, run_at, updated_at, finished_at`

// Backend implements queue.Backend for one named queue.
type Backend struct {
	db   *sql.DB
	name string
}

var _ queue.Backend = (*Backend)(nil)

// New applies the schema and returns a backend for the named queue.
// The caller owns db.
func New(db *sql.DB, name string) (*Backend, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite queue: database is required")
	}
	if name == "" {
		return nil, fmt.Errorf("sqlite queue: queue name is required")
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("sqlite queue: failed to create schema: %w", err)
	}
	return &Backend{db: db, name: name}, nil
}

// Enqueue inserts a new job. The job must be in the waiting state.
func (b *Backend) Enqueue(ctx context.Context, job *types.IngestionJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("sqlite queue: job id is required")
	}
	if job.State != types.JobWaiting {
		return fmt.Errorf("%w: enqueue requires %s, got %s", queue.ErrInvalidTransition, types.JobWaiting, job.State)
	}

	result, err := b.db.ExecContext(ctx, `
		INSERT INTO ingestion_jobs (queue, id, owner_id, session_id, text, state, attempts,
			max_attempts, last_error, enqueued_at, run_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(queue, id) DO NOTHING
	`, b.name, job.ID, job.Scope.OwnerID, job.Scope.SessionID, job.Text, string(job.State),
		job.Attempts, job.MaxAttempts, job.LastError,
		job.EnqueuedAt.UnixNano(), job.RunAt.UnixNano(), job.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite queue: failed to enqueue job %s: %w", job.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite queue: failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", queue.ErrDuplicateJob, job.ID)
	}
	return nil
}

// Claim activates the oldest ready job.
func (b *Backend) Claim(ctx context.Context, now time.Time) (*types.IngestionJob, error) {
	row := b.db.QueryRowContext(ctx, `
		UPDATE ingestion_jobs
		SET state = 'active', attempts = attempts + 1, updated_at = ?
		WHERE queue = ? AND id = (
			SELECT id FROM ingestion_jobs
			WHERE queue = ?
			  AND (state = 'waiting' OR (state = 'delayed' AND run_at <= ?))
			ORDER BY run_at, enqueued_at, id
			LIMIT 1
		)
		RETURNING `+jobColumns,
		now.UnixNano(), b.name, b.name, now.UnixNano())

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite queue: failed to claim job: %w", err)
	}
	return job, nil
}

// Complete marks an active job completed.
func (b *Backend) Complete(ctx context.Context, id string, at time.Time) error {
	return b.transition(ctx, id, `
		UPDATE ingestion_jobs
		SET state = 'completed', updated_at = ?, finished_at = ?
		WHERE queue = ? AND id = ? AND state = 'active'
	`, at.UnixNano(), at.UnixNano(), b.name, id)
}

// Retry moves an active job to delayed.
func (b *Backend) Retry(ctx context.Context, id string, runAt time.Time, lastErr string) error {
	return b.transition(ctx, id, `
		UPDATE ingestion_jobs
		SET state = 'delayed', run_at = ?, last_error = ?, updated_at = ?
		WHERE queue = ? AND id = ? AND state = 'active'
	`, runAt.UnixNano(), lastErr, time.Now().UnixNano(), b.name, id)
}

// Fail marks an active job failed.
func (b *Backend) Fail(ctx context.Context, id string, at time.Time, lastErr string) error {
	return b.transition(ctx, id, `
		UPDATE ingestion_jobs
		SET state = 'failed', last_error = ?, updated_at = ?, finished_at = ?
		WHERE queue = ? AND id = ? AND state = 'active'
	`, lastErr, at.UnixNano(), at.UnixNano(), b.name, id)
}

func (b *Backend) transition(ctx context.Context, id, query string, args ...any) error {
	result, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite queue: failed to update job %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite queue: failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	job, err := b.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", queue.ErrInvalidTransition, id, job.State)
}

// RecoverActive requeues or fails jobs left active.
func (b *Backend) RecoverActive(ctx context.Context, now time.Time) (int, int, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite queue: failed to begin recovery: %w", err)
	}
	defer tx.Rollback()

	ts := now.UnixNano()
	failed, err := tx.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET state = 'failed', updated_at = ?, finished_at = ?,
			last_error = CASE WHEN last_error = '' THEN 'worker lost while job was active' ELSE last_error END
		WHERE queue = ? AND state = 'active' AND attempts >= max_attempts
	`, ts, ts, b.name)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite queue: failed to fail exhausted jobs: %w", err)
	}
	requeued, err := tx.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET state = 'waiting', run_at = ?, updated_at = ?
		WHERE queue = ? AND state = 'active'
	`, ts, ts, b.name)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite queue: failed to requeue active jobs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("sqlite queue: failed to commit recovery: %w", err)
	}

	nf, _ := failed.RowsAffected()
	nr, _ := requeued.RowsAffected()
	return int(nr), int(nf), nil
}

// Trim keeps the newest keep jobs in a terminal state. A negative keep
// disables trimming.
func (b *Backend) Trim(ctx context.Context, state types.JobState, keep int) (int, error) {
	if !state.IsTerminal() {
		return 0, fmt.Errorf("sqlite queue: cannot trim non-terminal state %s", state)
	}
	if keep < 0 {
		return 0, nil
	}

	result, err := b.db.ExecContext(ctx, `
		DELETE FROM ingestion_jobs
		WHERE queue = ? AND state = ? AND id NOT IN (
			SELECT id FROM ingestion_jobs
			WHERE queue = ? AND state = ?
			ORDER BY finished_at DESC, id DESC
			LIMIT ?
		)
	`, b.name, string(state), b.name, string(state), keep)
	if err != nil {
		return 0, fmt.Errorf("sqlite queue: failed to trim %s jobs: %w", state, err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// NextRunAt returns the earliest delayed run time.
func (b *Backend) NextRunAt(ctx context.Context) (time.Time, error) {
	var next sql.NullInt64
	err := b.db.QueryRowContext(ctx, `
		SELECT MIN(run_at) FROM ingestion_jobs WHERE queue = ? AND state = 'delayed'
	`, b.name).Scan(&next)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite queue: failed to read next run time: %w", err)
	}
	if !next.Valid {
		return time.Time{}, nil
	}
	return fromNanos(next.Int64), nil
}

// Get returns a job by ID.
func (b *Backend) Get(ctx context.Context, id string) (*types.IngestionJob, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs WHERE queue = ? AND id = ?`, b.name, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite queue: failed to get job %s: %w", id, err)
	}
	return job, nil
}

// List returns jobs in state, most recently updated first. An empty state
// lists every state; limit <= 0 means no limit.
func (b *Backend) List(ctx context.Context, state types.JobState, limit int) ([]*types.IngestionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE queue = ?`
	args := []any{b.name}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY updated_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite queue: failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite queue: failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Counts returns the number of jobs per state. Every state is present.
func (b *Backend) Counts(ctx context.Context) (map[types.JobState]int, error) {
	counts := make(map[types.JobState]int, len(types.ValidJobStates))
	for _, s := range types.ValidJobStates {
		counts[s] = 0
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM ingestion_jobs WHERE queue = ? GROUP BY state`, b.name)
	if err != nil {
		return nil, fmt.Errorf("sqlite queue: failed to count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("sqlite queue: failed to scan count: %w", err)
		}
		counts[types.JobState(state)] = n
	}
	return counts, rows.Err()
}

// Close is a no-op; the caller owns the database.
func (b *Backend) Close() error {
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*types.IngestionJob, error) {
	var (
		job                          types.IngestionJob
		state                        string
		enqueuedAt, runAt, updatedAt int64
		finishedAt                   sql.NullInt64
	)
	err := row.Scan(&job.ID, &job.Scope.OwnerID, &job.Scope.SessionID, &job.Text, &state,
		&job.Attempts, &job.MaxAttempts, &job.LastError,
		&enqueuedAt, &runAt, &updatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	job.State = types.JobState(state)
	job.EnqueuedAt = fromNanos(enqueuedAt)
	job.RunAt = fromNanos(runAt)
	job.UpdatedAt = fromNanos(updatedAt)
	if finishedAt.Valid {
		t := fromNanos(finishedAt.Int64)
		job.FinishedAt = &t
	}
	return &job, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
