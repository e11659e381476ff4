// Package redis implements queue.Backend on Redis.
//
// Every state change is a Lua script so that claim, completion and recovery
// are atomic. Jobs that become ready in the same millisecond are claimed in
// ID order.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scrypster/recall/internal/queue"
	"github.com/scrypster/recall/pkg/types"
)

const lostWorkerMessage = "worker lost while job was active"

// Backend implements queue.Backend for one named queue.
type Backend struct {
	client *redis.Client
	prefix string
}

var _ queue.Backend = (*Backend)(nil)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Open connects to Redis and returns a backend for the named queue.
func Open(ctx context.Context, opts Options, name string) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis queue: failed to connect to %s: %w", opts.Addr, err)
	}
	return New(client, name)
}

// New returns a backend using client. The backend takes ownership of client.
func New(client *redis.Client, name string) (*Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("redis queue: client is required")
	}
	if name == "" {
		return nil, fmt.Errorf("redis queue: queue name is required")
	}
	return &Backend{client: client, prefix: "recall:queue:" + name + ":"}, nil
}

func (b *Backend) key(set string) string {
	return b.prefix + set
}

func (b *Backend) jobPrefix() string {
	return b.prefix + "job:"
}

func (b *Backend) jobKey(id string) string {
	return b.jobPrefix() + id
}

func (b *Backend) stateKey(state types.JobState) string {
	switch state {
	case types.JobWaiting:
		return b.key("pending")
	case types.JobDelayed:
		return b.key("delayed")
	case types.JobActive:
		return b.key("active")
	case types.JobCompleted:
		return b.key("completed")
	default:
		return b.key("failed")
	}
}

// Enqueue stores a new waiting job.
func (b *Backend) Enqueue(ctx context.Context, job *types.IngestionJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("redis queue: job id is required")
	}
	if job.State != types.JobWaiting {
		return fmt.Errorf("%w: enqueue requires %s, got %s", queue.ErrInvalidTransition, types.JobWaiting, job.State)
	}

	args := []any{b.jobKey(job.ID), job.ID, job.RunAt.UnixMilli()}
	args = append(args, jobFields(job)...)

	added, err := enqueueScript.Run(ctx, b.client, []string{b.key("pending")}, args...).Int()
	if err != nil {
		return fmt.Errorf("redis queue: failed to enqueue job %s: %w", job.ID, err)
	}
	if added == 0 {
		return fmt.Errorf("%w: %s", queue.ErrDuplicateJob, job.ID)
	}
	return nil
}

// Claim activates the oldest ready job.
func (b *Backend) Claim(ctx context.Context, now time.Time) (*types.IngestionJob, error) {
	keys := []string{b.key("pending"), b.key("delayed"), b.key("active")}
	res, err := claimScript.Run(ctx, b.client, keys, b.jobPrefix(), now.UnixMilli(), now.UnixNano()).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis queue: failed to claim job: %w", err)
	}
	return parseJob(pairsToMap(res))
}

// Complete marks an active job completed.
func (b *Backend) Complete(ctx context.Context, id string, at time.Time) error {
	return b.finish(ctx, id, types.JobCompleted, at, "", false)
}

// Fail marks an active job failed.
func (b *Backend) Fail(ctx context.Context, id string, at time.Time, lastErr string) error {
	return b.finish(ctx, id, types.JobFailed, at, lastErr, true)
}

func (b *Backend) finish(ctx context.Context, id string, state types.JobState, at time.Time, lastErr string, setErr bool) error {
	flag := "0"
	if setErr {
		flag = "1"
	}
	keys := []string{b.key("active"), b.stateKey(state)}
	res, err := finishScript.Run(ctx, b.client, keys,
		b.jobKey(id), id, string(state), at.UnixMilli(), at.UnixNano(), lastErr, flag).Text()
	if err != nil {
		return fmt.Errorf("redis queue: failed to update job %s: %w", id, err)
	}
	return transitionResult(id, res)
}

// Retry moves an active job to delayed.
func (b *Backend) Retry(ctx context.Context, id string, runAt time.Time, lastErr string) error {
	keys := []string{b.key("active"), b.key("pending"), b.key("delayed")}
	res, err := retryScript.Run(ctx, b.client, keys,
		b.jobKey(id), id, runAt.UnixMilli(), runAt.UnixNano(), lastErr, time.Now().UnixNano()).Text()
	if err != nil {
		return fmt.Errorf("redis queue: failed to retry job %s: %w", id, err)
	}
	return transitionResult(id, res)
}

func transitionResult(id, res string) error {
	switch res {
	case "ok":
		return nil
	case "notfound":
		return fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
	default:
		return fmt.Errorf("%w: job %s is %s", queue.ErrInvalidTransition, id, res)
	}
}

// RecoverActive requeues or fails jobs left active.
func (b *Backend) RecoverActive(ctx context.Context, now time.Time) (int, int, error) {
	keys := []string{b.key("active"), b.key("pending"), b.key("failed")}
	res, err := recoverScript.Run(ctx, b.client, keys,
		b.jobPrefix(), now.UnixMilli(), now.UnixNano(), lostWorkerMessage).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis queue: failed to recover active jobs: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("redis queue: invalid response from recovery script")
	}
	return int(res[0]), int(res[1]), nil
}

// Trim keeps the newest keep jobs in a terminal state. A negative keep
// disables trimming.
func (b *Backend) Trim(ctx context.Context, state types.JobState, keep int) (int, error) {
	if !state.IsTerminal() {
		return 0, fmt.Errorf("redis queue: cannot trim non-terminal state %s", state)
	}
	if keep < 0 {
		return 0, nil
	}
	n, err := trimScript.Run(ctx, b.client, []string{b.stateKey(state)}, b.jobPrefix(), keep).Int()
	if err != nil {
		return 0, fmt.Errorf("redis queue: failed to trim %s jobs: %w", state, err)
	}
	return n, nil
}

// NextRunAt returns the earliest delayed run time.
func (b *Backend) NextRunAt(ctx context.Context) (time.Time, error) {
	ids, err := b.client.ZRange(ctx, b.key("delayed"), 0, 0).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("redis queue: failed to read next run time: %w", err)
	}
	if len(ids) == 0 {
		return time.Time{}, nil
	}
	raw, err := b.client.HGet(ctx, b.jobKey(ids[0]), "run_at").Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redis queue: failed to read next run time: %w", err)
	}
	return parseNanos(raw)
}

// Get returns a job by ID.
func (b *Backend) Get(ctx context.Context, id string) (*types.IngestionJob, error) {
	fields, err := b.client.HGetAll(ctx, b.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis queue: failed to get job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
	}
	return parseJob(fields)
}

// List returns jobs in state, most recently updated first. An empty state
// lists every state; limit <= 0 means no limit.
func (b *Backend) List(ctx context.Context, state types.JobState, limit int) ([]*types.IngestionJob, error) {
	sets := []string{b.key("pending"), b.key("active"), b.key("completed"), b.key("failed")}
	switch state {
	case "":
	case types.JobWaiting, types.JobDelayed:
		sets = []string{b.key("pending")}
	default:
		sets = []string{b.stateKey(state)}
	}

	var ids []string
	for _, set := range sets {
		members, err := b.client.ZRange(ctx, set, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("redis queue: failed to list jobs: %w", err)
		}
		ids = append(ids, members...)
	}

	cmds, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.HGetAll(ctx, b.jobKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis queue: failed to load jobs: %w", err)
	}

	jobs := make([]*types.IngestionJob, 0, len(cmds))
	for _, cmd := range cmds {
		fields, err := cmd.(*redis.MapStringStringCmd).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		job, err := parseJob(fields)
		if err != nil {
			return nil, err
		}
		if state != "" && job.State != state {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].UpdatedAt.Equal(jobs[j].UpdatedAt) {
			return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Counts returns the number of jobs per state. Every state is present.
func (b *Backend) Counts(ctx context.Context) (map[types.JobState]int, error) {
	var pending, delayed, active, completed, failed *redis.IntCmd
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pending = pipe.ZCard(ctx, b.key("pending"))
		delayed = pipe.ZCard(ctx, b.key("delayed"))
		active = pipe.ZCard(ctx, b.key("active"))
		completed = pipe.ZCard(ctx, b.key("completed"))
		failed = pipe.ZCard(ctx, b.key("failed"))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis queue: failed to count jobs: %w", err)
	}

	return map[types.JobState]int{
		types.JobWaiting:   int(pending.Val() - delayed.Val()),
		types.JobDelayed:   int(delayed.Val()),
		types.JobActive:    int(active.Val()),
		types.JobCompleted: int(completed.Val()),
		types.JobFailed:    int(failed.Val()),
	}, nil
}

// Close closes the Redis client.
func (b *Backend) Close() error {
	return b.client.Close()
}

func jobFields(job *types.IngestionJob) []any {
	fields := []any{
		"id", job.ID,
		"owner_id", job.Scope.OwnerID,
		"session_id", job.Scope.SessionID,
		"text", job.Text,
		"state", string(job.State),
		"attempts", job.Attempts,
		"max_attempts", job.MaxAttempts,
		"last_error", job.LastError,
		"enqueued_at", job.EnqueuedAt.UnixNano(),
		"run_at", job.RunAt.UnixNano(),
		"updated_at", job.UpdatedAt.UnixNano(),
	}
	if job.FinishedAt != nil {
		fields = append(fields, "finished_at", job.FinishedAt.UnixNano())
	}
	return fields
}

func pairsToMap(pairs []any) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		k, _ := pairs[i].(string)
		v, _ := pairs[i+1].(string)
		m[k] = v
	}
	return m
}

func parseJob(f map[string]string) (*types.IngestionJob, error) {
	job := &types.IngestionJob{
		ID:        f["id"],
		Scope:     types.MemoryScope{OwnerID: f["owner_id"], SessionID: f["session_id"]},
		Text:      f["text"],
		State:     types.JobState(f["state"]),
		LastError: f["last_error"],
	}
	if !types.IsValidJobState(job.State) {
		return nil, fmt.Errorf("redis queue: job %s has invalid state %q", job.ID, f["state"])
	}

	var err error
	if job.Attempts, err = strconv.Atoi(f["attempts"]); err != nil {
		return nil, fmt.Errorf("redis queue: job %s: invalid attempts: %w", job.ID, err)
	}
	if job.MaxAttempts, err = strconv.Atoi(f["max_attempts"]); err != nil {
		return nil, fmt.Errorf("redis queue: job %s: invalid max_attempts: %w", job.ID, err)
	}
	for name, dst := range map[string]*time.Time{
		"enqueued_at": &job.EnqueuedAt,
		"run_at":      &job.RunAt,
		"updated_at":  &job.UpdatedAt,
	} {
		if *dst, err = parseNanos(f[name]); err != nil {
			return nil, fmt.Errorf("redis queue: job %s: invalid %s: %w", job.ID, name, err)
		}
	}
	if raw, ok := f["finished_at"]; ok && raw != "" {
		t, err := parseNanos(raw)
		if err != nil {
			return nil, fmt.Errorf("redis queue: job %s: invalid finished_at: %w", job.ID, err)
		}
		job.FinishedAt = &t
	}
	return job, nil
}

func parseNanos(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}
