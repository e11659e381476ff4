package engine

import (
	"context"
	"errors"
	"log"
	"sort"

	"github.com/scrypster/recall/internal/vectorstore"
	"github.com/scrypster/recall/pkg/types"
)

// Retrieval operation names reported to Observer.RetrievalDegraded.
const (
	OpGetAll = "get_all_memories"
	OpSearch = "search_memories"
)

// GetAllMemories returns every record stored for the scope, in store order.
// It never fails: errors are logged, reported to the observer and turned
// into an empty result. A scope that was never written to is empty.
func (e *MemoryEngine) GetAllMemories(ctx context.Context, ownerID, sessionID string) []types.MemoryRecord {
	scope, err := types.NewScope(ownerID, sessionID)
	if err != nil {
		e.degraded(OpGetAll, types.MemoryScope{OwnerID: ownerID, SessionID: sessionID}, err)
		return []types.MemoryRecord{}
	}

	if err := e.provisioner.EnsureIndexes(ctx, scope); err != nil {
		if !errors.Is(err, vectorstore.ErrNotFound) {
			e.degraded(OpGetAll, scope, err)
		}
		return []types.MemoryRecord{}
	}

	ns := scope.Namespace()
	records, err := step(ctx, e.config.StepTimeout, func(ctx context.Context) ([]vectorstore.Record, error) {
		return e.store.Scroll(ctx, ns, vectorstore.Filter(scope.ScopeFilter()))
	})
	if err != nil {
		e.degraded(OpGetAll, scope, &StoreError{Op: "scroll", Namespace: ns, Err: err})
		return []types.MemoryRecord{}
	}

	memories := make([]types.MemoryRecord, 0, len(records))
	for _, r := range records {
		m, err := types.RecordFromPayload(r.ID, r.Payload)
		if err != nil {
			log.Printf("WARNING: Skipping malformed record in %s: %v", ns, err)
			continue
		}
		memories = append(memories, m)
	}
	return memories
}

// SearchMemories returns at most k records of the scope ranked by semantic
// similarity to query, best first. k <= 0 selects the configured default.
// Like GetAllMemories it degrades to an empty result instead of failing.
func (e *MemoryEngine) SearchMemories(ctx context.Context, ownerID, sessionID, query string, k int) []types.ScoredMemory {
	scope, err := types.NewScope(ownerID, sessionID)
	if err != nil {
		e.degraded(OpSearch, types.MemoryScope{OwnerID: ownerID, SessionID: sessionID}, err)
		return []types.ScoredMemory{}
	}
	if k <= 0 {
		k = e.config.SearchLimit
	}

	vector, err := e.embed(ctx, query)
	if err != nil {
		e.degraded(OpSearch, scope, err)
		return []types.ScoredMemory{}
	}

	if err := e.provisioner.EnsureIndexes(ctx, scope); err != nil {
		if !errors.Is(err, vectorstore.ErrNotFound) {
			e.degraded(OpSearch, scope, err)
		}
		return []types.ScoredMemory{}
	}

	ns := scope.Namespace()
	hits, err := step(ctx, e.config.StepTimeout, func(ctx context.Context) ([]vectorstore.ScoredRecord, error) {
		return e.store.Query(ctx, ns, vector, vectorstore.Filter(scope.ScopeFilter()), k)
	})
	if err != nil {
		e.degraded(OpSearch, scope, &StoreError{Op: "query", Namespace: ns, Err: err})
		return []types.ScoredMemory{}
	}

	results := make([]types.ScoredMemory, 0, len(hits))
	for _, h := range hits {
		m, err := types.RecordFromPayload(h.ID, h.Payload)
		if err != nil {
			log.Printf("WARNING: Skipping malformed record in %s: %v", ns, err)
			continue
		}
		results = append(results, types.ScoredMemory{MemoryRecord: m, Score: h.Score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (e *MemoryEngine) degraded(op string, scope types.MemoryScope, err error) {
	e.observer.RetrievalDegraded(op, scope, err)
}
