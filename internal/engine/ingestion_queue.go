package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/pkg/types"
)

// JobResult is the outcome of a queued ingestion job.
type JobResult struct {
	JobID       string
	State       types.JobState // completed or failed; empty if the engine shut down first
	Attempts    int
	ProcessedAt time.Time
	Err         error // last attempt's error for failed jobs
}

// JobHandle tracks a job enqueued by this process. It resolves once the job
// reaches a terminal state or the engine shuts down.
type JobHandle struct {
	ID     string
	done   chan struct{}
	result JobResult
}

func newJobHandle(id string) *JobHandle {
	return &JobHandle{ID: id, done: make(chan struct{})}
}

// Done is closed when the handle resolves.
func (h *JobHandle) Done() <-chan struct{} {
	return h.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (h *JobHandle) Result() JobResult {
	<-h.done
	return h.result
}

// Wait blocks until the handle resolves or ctx is done. It returns nil for
// a completed job, the last ingestion error for a failed job, and
// ErrQueueClosed if the engine stopped before the job finished.
func (h *JobHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		if h.result.State == "" {
			return ErrQueueClosed
		}
		return h.result.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *JobHandle) resolve(result JobResult) {
	h.result = result
	close(h.done)
}

// EnqueueIngestion persists an ingestion job and wakes a worker. It does
// not wait for the job to run.
func (e *MemoryEngine) EnqueueIngestion(ctx context.Context, ownerID, sessionID, text string) (*JobHandle, error) {
	e.mu.RLock()
	started, closing := e.started, e.shuttingDown
	e.mu.RUnlock()
	if closing {
		return nil, ErrQueueClosed
	}
	if !started {
		return nil, ErrEngineNotStarted
	}

	scope, err := validateIngestion(ownerID, sessionID, text)
	if err != nil {
		return nil, err
	}

	job := types.NewIngestionJob(uuid.NewString(), scope, text, e.config.MaxAttempts, e.now())
	handle := e.registerHandle(job.ID)

	if err := e.jobs.Enqueue(ctx, job); err != nil {
		e.takeHandle(job.ID)
		return nil, fmt.Errorf("failed to enqueue ingestion job: %w", err)
	}

	e.notifyWorkers()
	return handle, nil
}

// SubmitIngestion persists an ingestion job without waiting for it and
// without requiring Start. It is meant for producer-only processes; a
// started engine sharing the queue picks the job up on its next poll.
func (e *MemoryEngine) SubmitIngestion(ctx context.Context, ownerID, sessionID, text string) (*types.IngestionJob, error) {
	e.mu.RLock()
	closing, wake := e.shuttingDown, e.wake
	e.mu.RUnlock()
	if closing {
		return nil, ErrQueueClosed
	}

	scope, err := validateIngestion(ownerID, sessionID, text)
	if err != nil {
		return nil, err
	}

	job := types.NewIngestionJob(uuid.NewString(), scope, text, e.config.MaxAttempts, e.now())
	if err := e.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue ingestion job: %w", err)
	}

	// A nil channel has zero capacity, so this is a no-op before Start.
	signal(wake)
	return job, nil
}

// Wake prompts idle workers to claim immediately instead of waiting for the
// next poll. It is a no-op before Start.
func (e *MemoryEngine) Wake() {
	e.mu.RLock()
	wake := e.wake
	e.mu.RUnlock()
	signal(wake)
}

// notifyWorkers wakes idle workers without blocking.
func (e *MemoryEngine) notifyWorkers() {
	signal(e.wake)
}

// wakeAt wakes a worker when a delayed job becomes ready.
func (e *MemoryEngine) wakeAt(runAt time.Time) {
	d := runAt.Sub(e.now())
	if d < 0 {
		d = 0
	}
	wake := e.wake
	time.AfterFunc(d, func() { signal(wake) })
}

func signal(wake chan struct{}) {
	for i := 0; i < cap(wake); i++ {
		select {
		case wake <- struct{}{}:
		default:
			return
		}
	}
}

func (e *MemoryEngine) registerHandle(id string) *JobHandle {
	h := newJobHandle(id)
	e.handlesMu.Lock()
	e.handles[id] = h
	e.handlesMu.Unlock()
	return h
}

func (e *MemoryEngine) takeHandle(id string) *JobHandle {
	e.handlesMu.Lock()
	defer e.handlesMu.Unlock()
	h, ok := e.handles[id]
	if !ok {
		return nil
	}
	delete(e.handles, id)
	return h
}

// closeHandles resolves every outstanding handle as interrupted.
func (e *MemoryEngine) closeHandles() {
	e.handlesMu.Lock()
	handles := e.handles
	e.handles = make(map[string]*JobHandle)
	e.handlesMu.Unlock()

	for id, h := range handles {
		h.resolve(JobResult{JobID: id})
	}
}
