package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/queue"
	"github.com/scrypster/recall/pkg/types"
)

var scope = types.MemoryScope{OwnerID: "u1", SessionID: "i1"}

// newTestBackend connects to REDIS_TEST_ADDR and isolates the test under a
// random queue name.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set; skipping Redis queue tests")
	}

	ctx := context.Background()
	b, err := Open(ctx, Options{Addr: addr}, "test-"+uuid.NewString())
	require.NoError(t, err)

	t.Cleanup(func() {
		iter := b.client.Scan(ctx, 0, b.prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			b.client.Del(ctx, iter.Val())
		}
		b.Close()
	})
	return b
}

func TestRedis_EnqueueClaimComplete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, b.Enqueue(ctx, types.NewIngestionJob("job-1", scope, "hello", 3, now)))
	err := b.Enqueue(ctx, types.NewIngestionJob("job-1", scope, "hello", 3, now))
	assert.ErrorIs(t, err, queue.ErrDuplicateJob)

	job, err := b.Claim(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, types.JobActive, job.State)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, scope, job.Scope)

	none, err := b.Claim(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, b.Complete(ctx, "job-1", now))
	got, err := b.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, got.State)
	require.NotNil(t, got.FinishedAt)

	assert.ErrorIs(t, b.Complete(ctx, "job-1", now), queue.ErrInvalidTransition)
	assert.ErrorIs(t, b.Fail(ctx, "missing", now, "x"), queue.ErrJobNotFound)
}

func TestRedis_RetryDelaysClaim(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, b.Enqueue(ctx, types.NewIngestionJob("job-1", scope, "hello", 3, now)))
	_, err := b.Claim(ctx, now)
	require.NoError(t, err)

	runAt := now.Add(2 * time.Second)
	require.NoError(t, b.Retry(ctx, "job-1", runAt, "boom"))

	counts, err := b.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.JobDelayed])
	assert.Equal(t, 0, counts[types.JobWaiting])

	next, err := b.NextRunAt(ctx)
	require.NoError(t, err)
	assert.True(t, next.Equal(runAt))

	job, err := b.Claim(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = b.Claim(ctx, runAt)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "boom", job.LastError)
}

func TestRedis_RecoverActive(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, b.Enqueue(ctx, types.NewIngestionJob("spent", scope, "a", 1, now)))
	require.NoError(t, b.Enqueue(ctx, types.NewIngestionJob("fresh", scope, "b", 3, now.Add(time.Millisecond))))
	for i := 0; i < 2; i++ {
		_, err := b.Claim(ctx, now.Add(time.Second))
		require.NoError(t, err)
	}

	requeued, failed, err := b.RecoverActive(ctx, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 1, failed)

	spent, err := b.Get(ctx, "spent")
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, spent.State)
	assert.Equal(t, lostWorkerMessage, spent.LastError)

	fresh, err := b.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, types.JobWaiting, fresh.State)
}

func TestRedis_TrimAndList(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("job-%d", i)
		require.NoError(t, b.Enqueue(ctx, types.NewIngestionJob(id, scope, "t", 3, now)))
		_, err := b.Claim(ctx, now)
		require.NoError(t, err)
		require.NoError(t, b.Fail(ctx, id, now.Add(time.Duration(i)*time.Second), "bad"))
	}

	removed, err := b.Trim(ctx, types.JobFailed, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	failed, err := b.List(ctx, types.JobFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "job-3", failed[0].ID)

	_, err = b.Get(ctx, "job-0")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestParseJob_RejectsCorruptHash(t *testing.T) {
	_, err := parseJob(map[string]string{"id": "x", "state": "bogus"})
	assert.Error(t, err)

	_, err = parseJob(map[string]string{
		"id": "x", "state": "waiting", "attempts": "n/a", "max_attempts": "3",
	})
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "q")
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	_, err = New(client, "")
	assert.Error(t, err)
}
