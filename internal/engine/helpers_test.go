package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/llm"
	qsqlite "github.com/scrypster/recall/internal/queue/sqlite"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/internal/vectorstore"
	vsqlite "github.com/scrypster/recall/internal/vectorstore/sqlite"
	"github.com/scrypster/recall/pkg/types"
)

const testDimension = 256

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Dimension = testDimension
	cfg.Concurrency = 2
	cfg.InitialBackoff = 20 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.StepTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// testEnv bundles an engine with the SQLite store and queue behind it.
type testEnv struct {
	engine *MemoryEngine
	store  *vsqlite.Store
	jobs   *qsqlite.Backend
}

func newTestEnv(t *testing.T, embedder llm.EmbeddingGenerator, cfg Config, opts ...Option) *testEnv {
	t.Helper()

	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { storage.CloseSQLite(db) })

	store, err := vsqlite.New(db)
	require.NoError(t, err)
	jobs, err := qsqlite.New(db, "memory-processing")
	require.NoError(t, err)

	if embedder == nil {
		embedder = llm.NewHashingEmbedder(cfg.Dimension)
	}
	eng, err := NewMemoryEngine(store, embedder, jobs, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })

	return &testEnv{engine: eng, store: store, jobs: jobs}
}

func (env *testEnv) start(t *testing.T) {
	t.Helper()
	require.NoError(t, env.engine.Start(context.Background()))
}

// mockEmbedder is a testify mock of llm.EmbeddingGenerator.
type mockEmbedder struct {
	mock.Mock
	dimension int
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{dimension: testDimension}
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	v, _ := args.Get(0).([]float32)
	return v, args.Error(1)
}

func (m *mockEmbedder) GetModel() string { return "mock-embedding" }

func (m *mockEmbedder) Dimensions() int { return m.dimension }

func unitVector(dim int) []float32 {
	v := make([]float32, dim)
	v[0] = 1
	return v
}

// blockingEmbedder signals each call and then blocks until its context ends.
type blockingEmbedder struct {
	calls chan struct{}
}

func (b *blockingEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	b.calls <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingEmbedder) GetModel() string { return "blocking" }

func (b *blockingEmbedder) Dimensions() int { return testDimension }

var errUnreachable = errors.New("dial tcp 127.0.0.1:6333: connect: connection refused")

// unreachableStore fails every call the way a store behind a dead network would.
type unreachableStore struct{}

func (unreachableStore) ListNamespaces(context.Context) ([]string, error) {
	return nil, errUnreachable
}

func (unreachableStore) CreateNamespace(context.Context, vectorstore.NamespaceSpec) (vectorstore.CreateOutcome, error) {
	return 0, errUnreachable
}

func (unreachableStore) CreateIndex(context.Context, string, string) (vectorstore.CreateOutcome, error) {
	return 0, errUnreachable
}

func (unreachableStore) Upsert(context.Context, string, vectorstore.Point) error {
	return errUnreachable
}

func (unreachableStore) Scroll(context.Context, string, vectorstore.Filter) ([]vectorstore.Record, error) {
	return nil, errUnreachable
}

func (unreachableStore) Query(context.Context, string, []float32, vectorstore.Filter, int) ([]vectorstore.ScoredRecord, error) {
	return nil, errUnreachable
}

func (unreachableStore) Close() error { return nil }

// upsertFailingStore is a working store whose writes always fail.
type upsertFailingStore struct {
	vectorstore.Store

	mu      sync.Mutex
	upserts int
}

func (s *upsertFailingStore) Upsert(context.Context, string, vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	return errors.New("disk full")
}

func (s *upsertFailingStore) upsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// recordingObserver counts notifications.
type recordingObserver struct {
	NopObserver

	mu        sync.Mutex
	completed []string
	retrying  []time.Time
	failed    []string
	conflicts []string
	degraded  []string
}

func (r *recordingObserver) JobCompleted(job *types.IngestionJob, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, job.ID)
}

func (r *recordingObserver) JobRetrying(_ *types.IngestionJob, runAt time.Time, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retrying = append(r.retrying, runAt)
}

func (r *recordingObserver) JobFailed(job *types.IngestionJob, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, job.ID)
}

func (r *recordingObserver) ProvisioningConflict(namespace, resource string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, namespace+"/"+resource)
}

func (r *recordingObserver) RetrievalDegraded(op string, _ types.MemoryScope, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degraded = append(r.degraded, op)
}

func (r *recordingObserver) counts() (completed, retrying, failed, conflicts, degraded int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed), len(r.retrying), len(r.failed), len(r.conflicts), len(r.degraded)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
