// Package chromem implements vectorstore.Store on chromem-go, a pure Go
// embedded vector database. It keeps everything in process memory and is
// meant for development, tests and single-process deployments.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/scrypster/recall/internal/vectorstore"
)

// seqKey is the metadata key holding a point's insertion sequence.
const seqKey = "_seq"

type namespaceState struct {
	dimension int
	indexes   map[string]bool
	seqs      map[string]int64
}

// Store implements vectorstore.Store using chromem-go. One chromem
// collection backs each namespace.
type Store struct {
	db         *chromem.DB
	mu         sync.RWMutex
	namespaces map[string]*namespaceState
	nextSeq    int64
}

var _ vectorstore.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		db:         chromem.NewDB(),
		namespaces: make(map[string]*namespaceState),
	}
}

// ListNamespaces returns namespace names in lexical order.
func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateNamespace creates the backing collection under the write lock, so
// exactly one concurrent caller observes Created.
func (s *Store) CreateNamespace(ctx context.Context, spec vectorstore.NamespaceSpec) (vectorstore.CreateOutcome, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.namespaces[spec.Name]; exists {
		return vectorstore.AlreadyExists, nil
	}

	// Embeddings are always supplied by the caller, so no embedding func.
	if _, err := s.db.CreateCollection(spec.Name, map[string]string{"metric": string(spec.Metric)}, nil); err != nil {
		return 0, fmt.Errorf("chromem: failed to create collection %s: %w", spec.Name, err)
	}
	s.namespaces[spec.Name] = &namespaceState{
		dimension: spec.Dimension,
		indexes:   make(map[string]bool),
		seqs:      make(map[string]int64),
	}
	return vectorstore.Created, nil
}

// CreateIndex records the index. chromem filters metadata by scanning, so
// the index has no physical counterpart.
func (s *Store) CreateIndex(ctx context.Context, namespace, field string) (vectorstore.CreateOutcome, error) {
	if field == "" {
		return 0, fmt.Errorf("%w: index field is required", vectorstore.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		return 0, fmt.Errorf("%w: %s", vectorstore.ErrNotFound, namespace)
	}
	if ns.indexes[field] {
		return vectorstore.AlreadyExists, nil
	}
	ns.indexes[field] = true
	return vectorstore.Created, nil
}

// Upsert stores the payload as JSON document content and its string fields
// as chromem metadata for filtering.
func (s *Store) Upsert(ctx context.Context, namespace string, point vectorstore.Point) error {
	if err := point.Validate(); err != nil {
		return err
	}

	content, err := json.Marshal(point.Payload)
	if err != nil {
		return fmt.Errorf("chromem: failed to marshal payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		return fmt.Errorf("%w: %s", vectorstore.ErrNotFound, namespace)
	}
	if len(point.Vector) != ns.dimension {
		return fmt.Errorf("%w: got %d, namespace %s expects %d",
			vectorstore.ErrDimensionMismatch, len(point.Vector), namespace, ns.dimension)
	}

	seq, existing := ns.seqs[point.ID]
	if !existing {
		s.nextSeq++
		seq = s.nextSeq
	}

	metadata := map[string]string{seqKey: strconv.FormatInt(seq, 10)}
	for k, v := range point.Payload {
		if str, ok := v.(string); ok {
			metadata[k] = str
		}
	}

	// chromem normalises embeddings in place.
	vec := make([]float32, len(point.Vector))
	copy(vec, point.Vector)

	col := s.db.GetCollection(namespace, nil)
	if col == nil {
		return fmt.Errorf("%w: %s", vectorstore.ErrNotFound, namespace)
	}
	err = col.AddDocument(ctx, chromem.Document{
		ID:        point.ID,
		Content:   string(content),
		Embedding: vec,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("chromem: failed to add document %s: %w", point.ID, err)
	}
	ns.seqs[point.ID] = seq
	return nil
}

// Scroll returns every matching point in insertion order. chromem has no
// listing API, so it queries with a probe vector for all documents.
func (s *Store) Scroll(ctx context.Context, namespace string, filter vectorstore.Filter) ([]vectorstore.Record, error) {
	results, err := s.query(ctx, namespace, nil, filter, -1)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return seqOf(results[i]) < seqOf(results[j])
	})

	records := make([]vectorstore.Record, 0, len(results))
	for _, r := range results {
		rec, err := toRecord(r)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Query returns the k most similar matching points.
func (s *Store) Query(ctx context.Context, namespace string, vector []float32, filter vectorstore.Filter, k int) ([]vectorstore.ScoredRecord, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", vectorstore.ErrInvalidInput)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", vectorstore.ErrInvalidInput)
	}

	results, err := s.query(ctx, namespace, vector, filter, k)
	if err != nil {
		return nil, err
	}

	scored := make([]vectorstore.ScoredRecord, 0, len(results))
	for _, r := range results {
		rec, err := toRecord(r)
		if err != nil {
			return nil, err
		}
		scored = append(scored, vectorstore.ScoredRecord{Record: rec, Score: r.Similarity})
	}
	return vectorstore.TopK(scored, k), nil
}

// Close is a no-op; chromem keeps everything in memory.
func (s *Store) Close() error {
	return nil
}

// query runs a filtered chromem query. A nil vector probes with a constant
// vector and a negative k requests every document.
func (s *Store) query(ctx context.Context, namespace string, vector []float32, filter vectorstore.Filter, k int) ([]chromem.Result, error) {
	s.mu.RLock()
	ns, ok := s.namespaces[namespace]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrNotFound, namespace)
	}

	if vector == nil {
		vector = make([]float32, ns.dimension)
		for i := range vector {
			vector[i] = 1
		}
	} else if len(vector) != ns.dimension {
		return nil, fmt.Errorf("%w: got %d, namespace %s expects %d",
			vectorstore.ErrDimensionMismatch, len(vector), namespace, ns.dimension)
	} else {
		probe := make([]float32, len(vector))
		copy(probe, vector)
		vector = probe
	}

	col := s.db.GetCollection(namespace, nil)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrNotFound, namespace)
	}

	// chromem rejects nResults larger than the collection.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	n := k
	if n < 0 || n > count {
		n = count
	}

	var where map[string]string
	if len(filter) > 0 {
		where = map[string]string(filter)
	}

	results, err := col.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		if isInsufficientDocsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("chromem: query %s: %w", namespace, err)
	}
	return results, nil
}

func toRecord(r chromem.Result) (vectorstore.Record, error) {
	payload := map[string]any{}
	if err := json.Unmarshal([]byte(r.Content), &payload); err != nil {
		return vectorstore.Record{}, fmt.Errorf("chromem: document %s has invalid payload: %w", r.ID, err)
	}
	return vectorstore.Record{ID: r.ID, Payload: payload}, nil
}

func seqOf(r chromem.Result) int64 {
	n, _ := strconv.ParseInt(r.Metadata[seqKey], 10, 64)
	return n
}

func isInsufficientDocsError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "nResults must be")
}
