package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/breaker"
	"github.com/scrypster/recall/internal/vectorstore"
)

type fakeCollection struct {
	size    int
	indexes map[string]bool
	points  []point
}

// fakeQdrant implements the subset of the Qdrant REST API the store uses.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
	apiKey      string
	requests    int
}

func newFakeQdrant(apiKey string) *fakeQdrant {
	return &fakeQdrant{collections: map[string]*fakeCollection{}, apiKey: apiKey}
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++

	if f.apiKey != "" && r.Header.Get("api-key") != f.apiKey {
		http.Error(w, `{"status":{"error":"unauthorized"}}`, http.StatusUnauthorized)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if parts[0] != "collections" {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		var cols []collectionDescription
		for name := range f.collections {
			cols = append(cols, collectionDescription{Name: name})
		}
		writeResult(w, collectionsResult{Collections: cols})
		return
	}

	name := parts[1]
	col := f.collections[name]

	switch {
	case len(parts) == 2 && r.Method == http.MethodPut:
		if col != nil {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprintf(w, `{"status":{"error":"Collection %s already exists!"}}`, name)
			return
		}
		var req createCollectionRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.collections[name] = &fakeCollection{size: req.Vectors.Size, indexes: map[string]bool{}}
		writeResult(w, true)
		return
	case col == nil:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"status":{"error":"Collection %s not found"}}`, name)
		return
	}

	switch parts[2] {
	case "index":
		var req createIndexRequest
		json.NewDecoder(r.Body).Decode(&req)
		if col.indexes[req.FieldName] {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"status":{"error":"index already exists"}}`))
			return
		}
		col.indexes[req.FieldName] = true
		writeResult(w, map[string]any{"status": "completed"})
	case "points":
		if len(parts) == 3 {
			var req upsertRequest
			json.NewDecoder(r.Body).Decode(&req)
			for _, p := range req.Points {
				if len(p.Vector) != col.size {
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte(`{"status":{"error":"Wrong input: Vector dimension error"}}`))
					return
				}
				col.points = append(col.points, p)
			}
			writeResult(w, map[string]any{"status": "completed"})
			return
		}
		switch parts[3] {
		case "scroll":
			var req scrollRequest
			json.NewDecoder(r.Body).Decode(&req)
			matching := col.matching(req.Filter)
			start := 0
			if len(req.Offset) > 0 {
				json.Unmarshal(req.Offset, &start)
			}
			end := start + req.Limit
			var next any
			if end < len(matching) {
				next = end
			} else {
				end = len(matching)
			}
			var res scrollResult
			for _, p := range matching[start:end] {
				id, _ := json.Marshal(p.ID)
				res.Points = append(res.Points, struct {
					ID      json.RawMessage `json:"id"`
					Payload map[string]any  `json:"payload"`
				}{ID: id, Payload: p.Payload})
			}
			res.NextPageOffset, _ = json.Marshal(next)
			writeResult(w, res)
		case "search":
			var req searchRequest
			json.NewDecoder(r.Body).Decode(&req)
			var hits []map[string]any
			for _, p := range col.matching(req.Filter) {
				hits = append(hits, map[string]any{
					"id":      p.ID,
					"score":   vectorstore.CosineSimilarity(req.Vector, p.Vector),
					"payload": p.Payload,
				})
			}
			writeResult(w, hits)
		}
	}
}

func (c *fakeCollection) matching(f *filter) []point {
	var out []point
	for _, p := range c.points {
		ok := true
		if f != nil {
			for _, cond := range f.Must {
				if v, _ := p.Payload[cond.Key].(string); v != cond.Match.Value {
					ok = false
				}
			}
		}
		if ok {
			out = append(out, p)
		}
	}
	return out
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok", "time": 0.001})
}

func newTestStore(t *testing.T, apiKey string) (*Store, *fakeQdrant) {
	t.Helper()
	fake := newFakeQdrant(apiKey)
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL + "/", APIKey: apiKey}), fake
}

func TestCreateNamespace_ConflictIsAlreadyExists(t *testing.T) {
	store, _ := newTestStore(t, "secret")
	ctx := context.Background()
	spec := vectorstore.NamespaceSpec{Name: "user_memories_u1__i1", Dimension: 3, Metric: vectorstore.MetricCosine}

	out, err := store.CreateNamespace(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, vectorstore.Created, out)

	out, err = store.CreateNamespace(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, vectorstore.AlreadyExists, out)

	names, err := store.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{spec.Name}, names)
}

func TestConcurrentProvisioning(t *testing.T) {
	store, fake := newTestStore(t, "")
	ctx := context.Background()
	spec := vectorstore.NamespaceSpec{Name: "ns", Dimension: 2, Metric: vectorstore.MetricCosine}

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := store.CreateNamespace(ctx, spec)
			assert.NoError(t, err)
			_, err = store.CreateIndex(ctx, "ns", "ownerId")
			assert.NoError(t, err)
			if out == vectorstore.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, fake.collections, 1)
	assert.Len(t, fake.collections["ns"].indexes, 1)
}

func TestCreateIndex_MissingCollection(t *testing.T) {
	store, _ := newTestStore(t, "")
	_, err := store.CreateIndex(context.Background(), "missing", "ownerId")
	assert.ErrorIs(t, err, vectorstore.ErrNotFound)
}

func TestUpsertScrollQuery(t *testing.T) {
	store, _ := newTestStore(t, "k")
	ctx := context.Background()
	_, err := store.CreateNamespace(ctx, vectorstore.NamespaceSpec{Name: "ns", Dimension: 2, Metric: vectorstore.MetricCosine})
	require.NoError(t, err)

	total := scrollPageSize + 10
	for i := 0; i < total; i++ {
		owner := "u1"
		if i%2 == 1 {
			owner = "u2"
		}
		require.NoError(t, store.Upsert(ctx, "ns", vectorstore.Point{
			ID:      fmt.Sprintf("00000000-0000-0000-0000-%012d", i),
			Vector:  []float32{1, float32(i)},
			Payload: map[string]any{"ownerId": owner},
		}))
	}

	all, err := store.Scroll(ctx, "ns", nil)
	require.NoError(t, err)
	assert.Len(t, all, total)

	mine, err := store.Scroll(ctx, "ns", vectorstore.Filter{"ownerId": "u1"})
	require.NoError(t, err)
	assert.Len(t, mine, (total+1)/2)
	for _, r := range mine {
		assert.Equal(t, "u1", r.Payload["ownerId"])
	}

	hits, err := store.Query(ctx, "ns", []float32{1, 0}, vectorstore.Filter{"ownerId": "u1"}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 5)
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", hits[0].ID)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestUpsert_Errors(t *testing.T) {
	store, _ := newTestStore(t, "")
	ctx := context.Background()

	err := store.Upsert(ctx, "missing", vectorstore.Point{ID: "p", Vector: []float32{1}})
	assert.ErrorIs(t, err, vectorstore.ErrNotFound)

	_, err = store.CreateNamespace(ctx, vectorstore.NamespaceSpec{Name: "ns", Dimension: 2, Metric: vectorstore.MetricCosine})
	require.NoError(t, err)
	err = store.Upsert(ctx, "ns", vectorstore.Point{ID: "p", Vector: []float32{1, 2, 3}})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestScroll_MissingCollection(t *testing.T) {
	store, _ := newTestStore(t, "")
	_, err := store.Scroll(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, vectorstore.ErrNotFound)
}

func TestAPIKeyRejected(t *testing.T) {
	fake := newFakeQdrant("right")
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store := New(Config{URL: srv.URL, APIKey: "wrong"})
	_, err := store.ListNamespaces(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestServerErrorsTripBreaker(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := New(Config{URL: srv.URL})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := store.ListNamespaces(ctx)
		require.Error(t, err)
	}

	_, err := store.ListNamespaces(ctx)
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.Equal(t, 3, calls)
}
