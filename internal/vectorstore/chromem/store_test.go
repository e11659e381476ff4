package chromem

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/vectorstore"
)

func newNamespace(t *testing.T, s *Store, name string, dim int) {
	t.Helper()
	out, err := s.CreateNamespace(context.Background(), vectorstore.NamespaceSpec{
		Name: name, Dimension: dim, Metric: vectorstore.MetricCosine,
	})
	require.NoError(t, err)
	require.Equal(t, vectorstore.Created, out)
}

func TestCreateNamespace_ConcurrentCallersSeeOneCreation(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := map[vectorstore.CreateOutcome]int{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.CreateNamespace(ctx, vectorstore.NamespaceSpec{Name: "ns", Dimension: 3, Metric: vectorstore.MetricCosine})
			assert.NoError(t, err)
			mu.Lock()
			outcomes[out]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[vectorstore.Created])
	assert.Equal(t, 19, outcomes[vectorstore.AlreadyExists])

	names, err := s.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ns"}, names)
}

func TestCreateIndex(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreateIndex(ctx, "ns", "ownerId")
	assert.ErrorIs(t, err, vectorstore.ErrNotFound)

	newNamespace(t, s, "ns", 3)
	out, err := s.CreateIndex(ctx, "ns", "ownerId")
	require.NoError(t, err)
	assert.Equal(t, vectorstore.Created, out)

	out, err = s.CreateIndex(ctx, "ns", "ownerId")
	require.NoError(t, err)
	assert.Equal(t, vectorstore.AlreadyExists, out)
}

func TestScroll_FilterAndOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	newNamespace(t, s, "ns", 2)

	for i := 0; i < 6; i++ {
		owner := "u1"
		if i%3 == 0 {
			owner = "u2"
		}
		require.NoError(t, s.Upsert(ctx, "ns", vectorstore.Point{
			ID:      fmt.Sprintf("p%d", i),
			Vector:  []float32{float32(i + 1), 1},
			Payload: map[string]any{"ownerId": owner, "text": fmt.Sprintf("fact %d", i)},
		}))
	}

	records, err := s.Scroll(ctx, "ns", vectorstore.Filter{"ownerId": "u1"})
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
		assert.Equal(t, "u1", r.Payload["ownerId"])
	}
	assert.Equal(t, []string{"p1", "p2", "p4", "p5"}, ids)

	none, err := s.Scroll(ctx, "ns", vectorstore.Filter{"ownerId": "nobody"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScroll_EmptyAndMissing(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Scroll(ctx, "missing", nil)
	assert.ErrorIs(t, err, vectorstore.ErrNotFound)

	newNamespace(t, s, "ns", 2)
	records, err := s.Scroll(ctx, "ns", nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestQuery_Ranking(t *testing.T) {
	s := New()
	ctx := context.Background()
	newNamespace(t, s, "ns", 2)

	vectors := map[string][]float32{
		"east":  {1, 0},
		"ne":    {1, 1},
		"north": {0, 1},
	}
	for id, v := range vectors {
		require.NoError(t, s.Upsert(ctx, "ns", vectorstore.Point{
			ID: id, Vector: v, Payload: map[string]any{"ownerId": "u1"},
		}))
	}

	results, err := s.Query(ctx, "ns", []float32{2, 0}, vectorstore.Filter{"ownerId": "u1"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "east", results[0].ID)
	assert.Equal(t, "ne", results[1].ID)
	assert.Equal(t, "north", results[2].ID)

	top, err := s.Query(ctx, "ns", []float32{0, 1}, nil, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "north", top[0].ID)

	_, err = s.Query(ctx, "ns", []float32{1, 0, 0}, nil, 1)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestUpsert_ReplacesKeepingOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	newNamespace(t, s, "ns", 2)

	require.NoError(t, s.Upsert(ctx, "ns", vectorstore.Point{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"text": "one"}}))
	require.NoError(t, s.Upsert(ctx, "ns", vectorstore.Point{ID: "b", Vector: []float32{0, 1}, Payload: map[string]any{"text": "two"}}))
	require.NoError(t, s.Upsert(ctx, "ns", vectorstore.Point{ID: "a", Vector: []float32{1, 1}, Payload: map[string]any{"text": "uno"}}))

	records, err := s.Scroll(ctx, "ns", nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "uno", records[0].Payload["text"])

	err = s.Upsert(ctx, "ns", vectorstore.Point{ID: "c", Vector: []float32{1}})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}
