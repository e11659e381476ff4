package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/queue"
	"github.com/scrypster/recall/internal/vectorstore"
	"github.com/scrypster/recall/pkg/types"
)

// MemoryEngine is the in-process API of the memory pipeline.
//
// IngestNow and the retrieval methods work without Start. Queued ingestion
// needs Start, which redelivers jobs orphaned by a previous process and
// launches the worker pool.
type MemoryEngine struct {
	config Config

	store       vectorstore.Store
	embedder    llm.EmbeddingGenerator
	jobs        queue.Backend
	provisioner *Provisioner
	observer    Observer
	now         func() time.Time

	// recoverOnStart is false for engines that share a queue with a running
	// worker process and must not requeue its active jobs.
	recoverOnStart bool

	// Worker pool
	wake            chan struct{}
	stop            chan struct{}
	workerWaitGroup sync.WaitGroup
	workerCtx       context.Context
	workerCancel    context.CancelFunc

	// Handles of jobs enqueued by this process, resolved on a terminal state.
	handlesMu sync.Mutex
	handles   map[string]*JobHandle

	// State management
	started      bool
	shuttingDown bool
	mu           sync.RWMutex
}

// Option customises a MemoryEngine.
type Option func(*MemoryEngine)

// WithObserver sets the lifecycle observer (default: LogObserver).
func WithObserver(o Observer) Option {
	return func(e *MemoryEngine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithClock replaces the wall clock used for job and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *MemoryEngine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithoutRecovery makes Start skip RecoverActiveJobs. Use it for short-lived
// processes, such as a CLI waiting on its own job, that run next to a
// long-lived worker: every active job in the queue may belong to that
// worker.
func WithoutRecovery() Option {
	return func(e *MemoryEngine) {
		e.recoverOnStart = false
	}
}

// NewMemoryEngine creates an engine over explicit clients. The engine does
// not own store, embedder or jobs; closing them is the caller's job.
func NewMemoryEngine(store vectorstore.Store, embedder llm.EmbeddingGenerator, jobs queue.Backend, cfg Config, opts ...Option) (*MemoryEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding generator is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("queue backend is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if d := embedder.Dimensions(); d != 0 && d != cfg.Dimension {
		return nil, fmt.Errorf("invalid config: embedder %s produces %d dimensions, namespaces use %d",
			embedder.GetModel(), d, cfg.Dimension)
	}

	e := &MemoryEngine{
		config:   cfg,
		store:    store,
		embedder: embedder,
		jobs:     jobs,
		observer: LogObserver{},
		now:      systemClock,
		handles:  make(map[string]*JobHandle),

		recoverOnStart: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.provisioner = NewProvisioner(store, cfg.Dimension, cfg.StepTimeout, e.observer)

	return e, nil
}

// Config returns the engine configuration.
func (e *MemoryEngine) Config() Config {
	return e.config
}

// Start recovers orphaned jobs (unless WithoutRecovery was given) and starts
// the worker pool. The pool keeps running after ctx is cancelled; use
// Shutdown to stop it.
func (e *MemoryEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}

	log.Println("Starting memory engine...")

	// Recovery must finish before any worker claims, or it would requeue
	// this process's own active jobs.
	if e.recoverOnStart {
		if _, _, err := e.RecoverActiveJobs(ctx); err != nil {
			return fmt.Errorf("failed to recover ingestion jobs: %w", err)
		}
	}

	e.workerCtx, e.workerCancel = context.WithCancel(context.WithoutCancel(ctx))
	e.stop = make(chan struct{})
	e.wake = make(chan struct{}, e.config.Concurrency)

	e.startWorkerPool()
	e.notifyWorkers()

	e.started = true
	e.shuttingDown = false
	log.Println("Memory engine started successfully")

	return nil
}

// Shutdown stops accepting jobs (EnqueueIngestion returns ErrQueueClosed
// until the next Start) and stops claiming new ones, then waits for
// in-flight jobs. After ShutdownTimeout their context is cancelled; an
// interrupted job stays active in the backend and is redelivered by the
// next Start. Handles of unfinished jobs resolve with ErrQueueClosed.
func (e *MemoryEngine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started || e.shuttingDown {
		e.mu.Unlock()
		return ErrEngineNotStarted
	}
	log.Println("Shutting down memory engine...")
	e.shuttingDown = true
	close(e.stop)
	e.mu.Unlock()

	err := e.stopWorkerPool(ctx)
	e.workerCancel()
	e.closeHandles()

	e.mu.Lock()
	e.started = false
	e.mu.Unlock()

	log.Println("Memory engine shut down successfully")
	return err
}

// Job returns a queued job by ID.
func (e *MemoryEngine) Job(ctx context.Context, id string) (*types.IngestionJob, error) {
	return e.jobs.Get(ctx, id)
}

// Jobs lists queued jobs in state (all states when empty), newest first.
func (e *MemoryEngine) Jobs(ctx context.Context, state types.JobState, limit int) ([]*types.IngestionJob, error) {
	if state != "" && !types.IsValidJobState(state) {
		return nil, fmt.Errorf("unknown job state %q", state)
	}
	return e.jobs.List(ctx, state, limit)
}

// QueueCounts returns the number of jobs per state.
func (e *MemoryEngine) QueueCounts(ctx context.Context) (map[types.JobState]int, error) {
	return e.jobs.Counts(ctx)
}
