package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/scrypster/recall/internal/vectorstore"
)

type collectionDescription struct {
	Name string `json:"name"`
}

type collectionsResult struct {
	Collections []collectionDescription `json:"collections"`
}

type vectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type createCollectionRequest struct {
	Vectors vectorParams `json:"vectors"`
}

type createIndexRequest struct {
	FieldName   string `json:"field_name"`
	FieldSchema string `json:"field_schema"`
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type upsertRequest struct {
	Points []point `json:"points"`
}

type matchValue struct {
	Value string `json:"value"`
}

type fieldCondition struct {
	Key   string     `json:"key"`
	Match matchValue `json:"match"`
}

type filter struct {
	Must []fieldCondition `json:"must"`
}

type scrollRequest struct {
	Filter      *filter         `json:"filter,omitempty"`
	Limit       int             `json:"limit"`
	Offset      json.RawMessage `json:"offset,omitempty"`
	WithPayload bool            `json:"with_payload"`
	WithVector  bool            `json:"with_vector"`
}

type scrollResult struct {
	Points []struct {
		ID      json.RawMessage `json:"id"`
		Payload map[string]any  `json:"payload"`
	} `json:"points"`
	NextPageOffset json.RawMessage `json:"next_page_offset"`
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Filter      *filter   `json:"filter,omitempty"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type searchResult []struct {
	ID      json.RawMessage `json:"id"`
	Score   float32         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

// ListNamespaces returns all collection names.
func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	const path = "/collections"
	resp, err := s.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to list collections: %w", err)
	}

	var result collectionsResult
	if err := decode(http.MethodGet, path, resp, &result); err != nil {
		return nil, fmt.Errorf("qdrant: failed to list collections: %w", err)
	}
	return lo.Map(result.Collections, func(c collectionDescription, _ int) string {
		return c.Name
	}), nil
}

// CreateNamespace creates a cosine collection. 409 means another caller won.
func (s *Store) CreateNamespace(ctx context.Context, spec vectorstore.NamespaceSpec) (vectorstore.CreateOutcome, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	path := collectionPath(spec.Name)
	resp, err := s.do(ctx, http.MethodPut, path, createCollectionRequest{
		Vectors: vectorParams{Size: spec.Dimension, Distance: "Cosine"},
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: failed to create collection %s: %w", spec.Name, err)
	}
	if isAlreadyExists(resp) {
		return vectorstore.AlreadyExists, nil
	}
	if err := decode(http.MethodPut, path, resp, nil); err != nil {
		return 0, fmt.Errorf("qdrant: failed to create collection %s: %w", spec.Name, err)
	}
	return vectorstore.Created, nil
}

// CreateIndex creates a keyword payload index on field.
func (s *Store) CreateIndex(ctx context.Context, namespace, field string) (vectorstore.CreateOutcome, error) {
	if field == "" {
		return 0, fmt.Errorf("%w: index field is required", vectorstore.ErrInvalidInput)
	}

	path := collectionPath(namespace, "/index")
	resp, err := s.do(ctx, http.MethodPut, path+"?wait=true", createIndexRequest{
		FieldName:   field,
		FieldSchema: "keyword",
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: failed to create index %s on %s: %w", field, namespace, err)
	}
	if resp.status == http.StatusNotFound {
		return 0, fmt.Errorf("%w: %s", vectorstore.ErrNotFound, namespace)
	}
	if isAlreadyExists(resp) {
		return vectorstore.AlreadyExists, nil
	}
	if err := decode(http.MethodPut, path, resp, nil); err != nil {
		return 0, fmt.Errorf("qdrant: failed to create index %s on %s: %w", field, namespace, err)
	}
	return vectorstore.Created, nil
}

// Upsert writes a single point and waits for it to be applied.
func (s *Store) Upsert(ctx context.Context, namespace string, p vectorstore.Point) error {
	if err := p.Validate(); err != nil {
		return err
	}

	path := collectionPath(namespace, "/points")
	resp, err := s.do(ctx, http.MethodPut, path+"?wait=true", upsertRequest{
		Points: []point{{ID: p.ID, Vector: p.Vector, Payload: p.Payload}},
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to upsert point %s: %w", p.ID, err)
	}
	if resp.status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", vectorstore.ErrNotFound, namespace)
	}
	if resp.status == http.StatusBadRequest && bytes.Contains(resp.body, []byte("dimension")) {
		return fmt.Errorf("%w: %s", vectorstore.ErrDimensionMismatch, string(resp.body))
	}
	if err := decode(http.MethodPut, path, resp, nil); err != nil {
		return fmt.Errorf("qdrant: failed to upsert point %s: %w", p.ID, err)
	}
	return nil
}

// Scroll follows next_page_offset until every matching point is read.
func (s *Store) Scroll(ctx context.Context, namespace string, f vectorstore.Filter) ([]vectorstore.Record, error) {
	path := collectionPath(namespace, "/points/scroll")
	req := scrollRequest{
		Filter:      toFilter(f),
		Limit:       scrollPageSize,
		WithPayload: true,
	}

	records := []vectorstore.Record{}
	for {
		resp, err := s.do(ctx, http.MethodPost, path, req)
		if err != nil {
			return nil, fmt.Errorf("qdrant: failed to scroll %s: %w", namespace, err)
		}
		if resp.status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", vectorstore.ErrNotFound, namespace)
		}

		var page scrollResult
		if err := decode(http.MethodPost, path, resp, &page); err != nil {
			return nil, fmt.Errorf("qdrant: failed to scroll %s: %w", namespace, err)
		}
		for _, p := range page.Points {
			records = append(records, vectorstore.Record{ID: pointID(p.ID), Payload: p.Payload})
		}

		if isNull(page.NextPageOffset) {
			return records, nil
		}
		req.Offset = page.NextPageOffset
	}
}

// Query runs a filtered cosine search.
func (s *Store) Query(ctx context.Context, namespace string, vector []float32, f vectorstore.Filter, k int) ([]vectorstore.ScoredRecord, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", vectorstore.ErrInvalidInput)
	}

	path := collectionPath(namespace, "/points/search")
	resp, err := s.do(ctx, http.MethodPost, path, searchRequest{
		Vector:      vector,
		Filter:      toFilter(f),
		Limit:       k,
		WithPayload: true,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to search %s: %w", namespace, err)
	}
	if resp.status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrNotFound, namespace)
	}
	if resp.status == http.StatusBadRequest && bytes.Contains(resp.body, []byte("dimension")) {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrDimensionMismatch, string(resp.body))
	}

	var hits searchResult
	if err := decode(http.MethodPost, path, resp, &hits); err != nil {
		return nil, fmt.Errorf("qdrant: failed to search %s: %w", namespace, err)
	}

	results := make([]vectorstore.ScoredRecord, 0, len(hits))
	for _, h := range hits {
		results = append(results, vectorstore.ScoredRecord{
			Record: vectorstore.Record{ID: pointID(h.ID), Payload: h.Payload},
			Score:  h.Score,
		})
	}
	return vectorstore.TopK(results, k), nil
}

// Close releases idle HTTP connections.
func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// isAlreadyExists recognises both the 409 Conflict of current Qdrant releases
// and the 400 "already exists" message of older ones.
func isAlreadyExists(resp response) bool {
	if resp.status == http.StatusConflict {
		return true
	}
	return resp.status == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(string(resp.body)), "already exists")
}

func toFilter(f vectorstore.Filter) *filter {
	if len(f) == 0 {
		return nil
	}
	keys := lo.Keys(f)
	sort.Strings(keys)
	return &filter{Must: lo.Map(keys, func(k string, _ int) fieldCondition {
		return fieldCondition{Key: k, Match: matchValue{Value: f[k]}}
	})}
}

// pointID renders a Qdrant point ID, which is either a UUID string or an
// unsigned integer.
func pointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
