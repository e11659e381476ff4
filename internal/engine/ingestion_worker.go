package engine

import (
	"context"
	"log"
	"time"

	"github.com/scrypster/recall/internal/queue"
	"github.com/scrypster/recall/pkg/types"
)

// ingestionWorker claims and processes jobs until the engine stops.
func (e *MemoryEngine) ingestionWorker(workerID int) {
	defer e.workerWaitGroup.Done()

	log.Printf("Ingestion worker %d started", workerID)
	defer log.Printf("Ingestion worker %d stopped", workerID)

	for {
		select {
		case <-e.stop:
			return
		default:
		}

		job, err := e.jobs.Claim(e.workerCtx, e.now())
		if err != nil {
			log.Printf("ERROR: Worker %d failed to claim job: %v", workerID, err)
		}
		if job == nil {
			if !e.idle() {
				return
			}
			continue
		}

		e.processJob(workerID, job)
	}
}

// idle waits for a wake-up, the next delayed job or the poll interval. It
// returns false once the engine is stopping.
func (e *MemoryEngine) idle() bool {
	timer := time.NewTimer(e.idleDelay())
	defer timer.Stop()

	select {
	case <-e.stop:
		return false
	case <-e.wake:
		return true
	case <-timer.C:
		return true
	}
}

// minIdleDelay keeps a worker from spinning on a delayed job that another
// worker claims first.
const minIdleDelay = 5 * time.Millisecond

// idleDelay is the poll interval, shortened when a delayed job becomes ready
// sooner. Delayed jobs written by another process, or left by an earlier run
// of this one, have no wakeAt timer here.
func (e *MemoryEngine) idleDelay() time.Duration {
	delay := e.config.PollInterval

	next, err := e.jobs.NextRunAt(e.workerCtx)
	if err != nil {
		log.Printf("WARNING: failed to read next retry time, polling every %s: %v", delay, err)
		return delay
	}
	if next.IsZero() {
		return delay
	}
	if until := next.Sub(e.now()); until < delay {
		delay = max(until, minIdleDelay)
	}
	return delay
}

// processJob runs one attempt of a claimed job and records its outcome.
func (e *MemoryEngine) processJob(workerID int, job *types.IngestionJob) {
	log.Printf("Worker %d processing job %s (attempt %d/%d)", workerID, job.ID, job.Attempts, job.MaxAttempts)

	started := e.now()
	err := e.ingest(e.workerCtx, job.Scope, job.Text, job.ID)

	// Queue writes must land even while the worker context is being cancelled.
	dbCtx := context.WithoutCancel(e.workerCtx)

	if err != nil && e.workerCtx.Err() != nil {
		log.Printf("WARNING: Worker %d interrupted job %s by shutdown, it will be redelivered on restart",
			workerID, job.ID)
		return
	}

	if err == nil {
		e.completeJob(dbCtx, workerID, job, started)
		return
	}

	if job.Attempts < job.MaxAttempts {
		e.retryJob(dbCtx, workerID, job, err)
		return
	}

	e.failJob(dbCtx, workerID, job, err)
}

func (e *MemoryEngine) completeJob(ctx context.Context, workerID int, job *types.IngestionJob, started time.Time) {
	finished := e.now()
	if err := e.jobs.Complete(ctx, job.ID, finished); err != nil {
		log.Printf("ERROR: Worker %d failed to mark job %s completed: %v", workerID, job.ID, err)
		return
	}
	job.State = types.JobCompleted
	job.FinishedAt = &finished

	e.observer.JobCompleted(job, finished.Sub(started))
	e.trim(ctx, types.JobCompleted, e.config.KeepCompleted)
	e.resolveHandle(job, finished, nil)
}

func (e *MemoryEngine) retryJob(ctx context.Context, workerID int, job *types.IngestionJob, cause error) {
	runAt := e.now().Add(queue.Backoff(e.config.InitialBackoff, e.config.BackoffMultiplier, job.Attempts))
	if err := e.jobs.Retry(ctx, job.ID, runAt, cause.Error()); err != nil {
		log.Printf("ERROR: Worker %d failed to reschedule job %s: %v", workerID, job.ID, err)
		return
	}
	job.State = types.JobDelayed
	job.RunAt = runAt
	job.LastError = cause.Error()

	e.observer.JobRetrying(job, runAt, cause)
	e.wakeAt(runAt)
}

func (e *MemoryEngine) failJob(ctx context.Context, workerID int, job *types.IngestionJob, cause error) {
	finished := e.now()
	if err := e.jobs.Fail(ctx, job.ID, finished, cause.Error()); err != nil {
		log.Printf("ERROR: Worker %d failed to mark job %s failed: %v", workerID, job.ID, err)
		return
	}
	job.State = types.JobFailed
	job.LastError = cause.Error()
	job.FinishedAt = &finished

	e.observer.JobFailed(job, cause)
	e.trim(ctx, types.JobFailed, e.config.KeepFailed)
	e.resolveHandle(job, finished, cause)
}

func (e *MemoryEngine) resolveHandle(job *types.IngestionJob, at time.Time, err error) {
	h := e.takeHandle(job.ID)
	if h == nil {
		return
	}
	h.resolve(JobResult{
		JobID:       job.ID,
		State:       job.State,
		Attempts:    job.Attempts,
		ProcessedAt: at,
		Err:         err,
	})
}

func (e *MemoryEngine) trim(ctx context.Context, state types.JobState, keep int) {
	n, err := e.jobs.Trim(ctx, state, keep)
	if err != nil {
		log.Printf("WARNING: Failed to trim %s jobs: %v", state, err)
		return
	}
	if n > 0 {
		log.Printf("Trimmed %d %s jobs", n, state)
	}
}

// startWorkerPool starts the worker goroutines.
func (e *MemoryEngine) startWorkerPool() {
	for i := 0; i < e.config.Concurrency; i++ {
		e.workerWaitGroup.Add(1)
		go e.ingestionWorker(i)
	}

	log.Printf("Started %d ingestion workers", e.config.Concurrency)
}

// stopWorkerPool waits for workers to finish their current job. Once
// ShutdownTimeout passes, or ctx is done, in-flight jobs are cancelled.
func (e *MemoryEngine) stopWorkerPool(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.workerWaitGroup.Wait()
		close(done)
	}()

	timer := time.NewTimer(e.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Println("All ingestion workers finished gracefully")
		return nil
	case <-timer.C:
		log.Println("WARNING: Shutdown timeout reached, cancelling in-flight ingestion jobs")
		e.workerCancel()
		<-done
		return nil
	case <-ctx.Done():
		log.Println("WARNING: Context cancelled, cancelling in-flight ingestion jobs")
		e.workerCancel()
		<-done
		return ctx.Err()
	}
}
