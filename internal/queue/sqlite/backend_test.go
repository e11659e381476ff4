package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/queue"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

var scope = types.MemoryScope{OwnerID: "u1", SessionID: "i1"}

func newTestBackend(t *testing.T) *Backend {
	t.Helper()

	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { storage.CloseSQLite(db) })

	b, err := New(db, "memory-processing")
	require.NoError(t, err)
	return b
}

func enqueue(t *testing.T, b *Backend, id string, at time.Time) {
	t.Helper()
	require.NoError(t, b.Enqueue(context.Background(), types.NewIngestionJob(id, scope, "text "+id, 3, at)))
}

func TestEnqueueAndGet(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	enqueue(t, b, "job-1", now)

	job, err := b.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobWaiting, job.State)
	assert.Equal(t, scope, job.Scope)
	assert.Equal(t, "text job-1", job.Text)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.True(t, job.EnqueuedAt.Equal(now))
	assert.Nil(t, job.FinishedAt)

	err = b.Enqueue(ctx, types.NewIngestionJob("job-1", scope, "again", 3, now))
	assert.ErrorIs(t, err, queue.ErrDuplicateJob)

	_, err = b.Get(ctx, "missing")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestClaim_OrderAndAttempts(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	base := time.Now().UTC()

	enqueue(t, b, "second", base.Add(time.Millisecond))
	enqueue(t, b, "first", base)

	job, err := b.Claim(ctx, base.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "first", job.ID)
	assert.Equal(t, types.JobActive, job.State)
	assert.Equal(t, 1, job.Attempts)

	job, err = b.Claim(ctx, base.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "second", job.ID)

	job, err = b.Claim(ctx, base.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, job, "queue should be empty")
}

func TestClaim_DelayedNotReadyUntilRunAt(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	enqueue(t, b, "job-1", now)
	_, err := b.Claim(ctx, now)
	require.NoError(t, err)

	runAt := now.Add(2 * time.Second)
	require.NoError(t, b.Retry(ctx, "job-1", runAt, "boom"))

	next, err := b.NextRunAt(ctx)
	require.NoError(t, err)
	assert.True(t, next.Equal(runAt.UTC()), "next run %v, want %v", next, runAt)

	job, err := b.Claim(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, job, "delayed job must not be claimable before runAt")

	job, err = b.Claim(ctx, runAt)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "boom", job.LastError)
}

func TestClaim_ConcurrentClaimersNeverShareJob(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	const jobs = 50
	for i := 0; i < jobs; i++ {
		enqueue(t, b, fmt.Sprintf("job-%02d", i), now.Add(time.Duration(i)))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := b.Claim(ctx, now.Add(time.Second))
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestTransitions_RequireActive(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	enqueue(t, b, "job-1", now)

	err := b.Complete(ctx, "job-1", now)
	assert.ErrorIs(t, err, queue.ErrInvalidTransition)

	err = b.Fail(ctx, "missing", now, "x")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	_, err = b.Claim(ctx, now)
	require.NoError(t, err)
	require.NoError(t, b.Complete(ctx, "job-1", now))

	job, err := b.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, job.State)
	require.NotNil(t, job.FinishedAt)

	err = b.Retry(ctx, "job-1", now, "late")
	assert.ErrorIs(t, err, queue.ErrInvalidTransition, "completed is terminal")
}

func TestFail_KeepsLastError(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	enqueue(t, b, "job-1", now)
	_, err := b.Claim(ctx, now)
	require.NoError(t, err)
	require.NoError(t, b.Fail(ctx, "job-1", now, "embedding: provider down"))

	failed, err := b.List(ctx, types.JobFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "embedding: provider down", failed[0].LastError)
}

func TestRecoverActive(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// spent has a budget of one attempt, used by the claim below
	require.NoError(t, b.Enqueue(ctx, types.NewIngestionJob("spent", scope, "a", 1, now)))
	enqueue(t, b, "fresh", now.Add(time.Millisecond))

	_, err := b.Claim(ctx, now.Add(time.Second))
	require.NoError(t, err)
	_, err = b.Claim(ctx, now.Add(time.Second))
	require.NoError(t, err)

	requeued, failed, err := b.RecoverActive(ctx, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 1, failed)

	spent, err := b.Get(ctx, "spent")
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, spent.State)
	assert.NotEmpty(t, spent.LastError)

	fresh, err := b.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, types.JobWaiting, fresh.State)
	assert.Equal(t, 1, fresh.Attempts, "recovery must not reset the attempt count")
}

func TestTrim_KeepsNewestTerminal(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("job-%d", i)
		enqueue(t, b, id, now.Add(time.Duration(i)))
		_, err := b.Claim(ctx, now.Add(time.Second))
		require.NoError(t, err)
		require.NoError(t, b.Complete(ctx, id, now.Add(time.Duration(i)*time.Second)))
	}
	enqueue(t, b, "pending", now)

	removed, err := b.Trim(ctx, types.JobCompleted, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	completed, err := b.List(ctx, types.JobCompleted, 0)
	require.NoError(t, err)
	ids := []string{completed[0].ID, completed[1].ID}
	assert.ElementsMatch(t, []string{"job-3", "job-4"}, ids)

	_, err = b.Get(ctx, "pending")
	assert.NoError(t, err, "trim must not touch non-terminal jobs")

	_, err = b.Trim(ctx, types.JobWaiting, 0)
	assert.Error(t, err)
}

func TestCounts(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	enqueue(t, b, "a", now)
	enqueue(t, b, "b", now.Add(time.Millisecond))
	_, err := b.Claim(ctx, now.Add(time.Second))
	require.NoError(t, err)

	counts, err := b.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.JobWaiting])
	assert.Equal(t, 1, counts[types.JobActive])
	assert.Equal(t, 0, counts[types.JobFailed])
	assert.Len(t, counts, len(types.ValidJobStates))
}

func TestQueuesAreIsolated(t *testing.T) {
	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer storage.CloseSQLite(db)

	a, err := New(db, "a")
	require.NoError(t, err)
	other, err := New(db, "b")
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, a.Enqueue(ctx, types.NewIngestionJob("job-1", scope, "x", 3, now)))

	job, err := other.Claim(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, job)

	require.NoError(t, other.Enqueue(ctx, types.NewIngestionJob("job-1", scope, "y", 3, now)))
}
