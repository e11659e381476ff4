// Package queue defines the durable job store behind the ingestion worker pool.
//
// A Backend owns the lifecycle of ingestion jobs: it persists them on enqueue,
// hands ready jobs to exactly one claimer, records completion, retry and
// terminal failure, and redelivers jobs left active by a crashed process.
// Delivery is at-least-once.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

var (
	// ErrJobNotFound is returned when no job has the requested ID.
	ErrJobNotFound = errors.New("queue: job not found")

	// ErrInvalidTransition is returned when a job is not in a state that
	// permits the requested change (for example completing a waiting job).
	ErrInvalidTransition = errors.New("queue: invalid job state transition")

	// ErrDuplicateJob is returned when a job ID is enqueued twice.
	ErrDuplicateJob = errors.New("queue: duplicate job id")
)

// Backend is the durable store for ingestion jobs.
type Backend interface {
	// Enqueue persists a new waiting job.
	Enqueue(ctx context.Context, job *types.IngestionJob) error

	// Claim atomically moves the oldest ready job (waiting, or delayed with
	// RunAt <= now) to active and increments its attempt count. It returns
	// nil, nil when no job is ready.
	Claim(ctx context.Context, now time.Time) (*types.IngestionJob, error)

	// Complete marks an active job completed.
	Complete(ctx context.Context, id string, at time.Time) error

	// Retry moves an active job to delayed until runAt.
	Retry(ctx context.Context, id string, runAt time.Time, lastErr string) error

	// Fail marks an active job permanently failed.
	Fail(ctx context.Context, id string, at time.Time, lastErr string) error

	// RecoverActive redelivers jobs left active by a previous process.
	// Jobs whose attempt budget is spent are failed instead.
	RecoverActive(ctx context.Context, now time.Time) (requeued, failed int, err error)

	// Trim deletes the oldest terminal jobs in state beyond keep.
	Trim(ctx context.Context, state types.JobState, keep int) (int, error)

	// NextRunAt returns the earliest RunAt among delayed jobs, or the zero
	// time when none are delayed.
	NextRunAt(ctx context.Context) (time.Time, error)

	Get(ctx context.Context, id string) (*types.IngestionJob, error)
	List(ctx context.Context, state types.JobState, limit int) ([]*types.IngestionJob, error)
	Counts(ctx context.Context) (map[types.JobState]int, error)
	Close() error
}

// Ready reports whether a job in the given state may be claimed at now.
func Ready(job *types.IngestionJob, now time.Time) bool {
	switch job.State {
	case types.JobWaiting:
		return true
	case types.JobDelayed:
		return !job.RunAt.After(now)
	default:
		return false
	}
}

// Backoff returns the delay before the retry that follows attempt n
// (1-based): initial * multiplier^(n-1).
func Backoff(initial time.Duration, multiplier float64, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial)
	for i := 1; i < attempt; i++ {
		d *= multiplier
	}
	return time.Duration(d)
}
