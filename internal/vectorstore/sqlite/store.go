// Package sqlite implements vectorstore.Store on SQLite.
//
// Vectors are stored as little-endian float32 BLOBs and payloads as JSON.
// Keyword filters are evaluated with json_extract and similarity search is a
// brute-force cosine scan over the filtered rows, which is adequate for the
// per-session namespaces this store holds.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/scrypster/recall/internal/vectorstore"
)

// Store implements vectorstore.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ vectorstore.Store = (*Store)(nil)

// New applies the schema to db and returns a store. The caller owns db.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database is required", vectorstore.ErrInvalidInput)
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("sqlite: failed to create vector schema: %w", err)
	}
	return &Store{db: db}, nil
}

// ListNamespaces returns all namespace names in creation order.
func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM vector_namespaces ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list namespaces: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan namespace: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateNamespace inserts the namespace unless it already exists.
func (s *Store) CreateNamespace(ctx context.Context, spec vectorstore.NamespaceSpec) (vectorstore.CreateOutcome, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO vector_namespaces (name, dimension, metric)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, spec.Name, spec.Dimension, string(spec.Metric))
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to create namespace %s: %w", spec.Name, err)
	}
	return outcome(result)
}

// CreateIndex registers a keyword payload index. SQLite evaluates filters
// with json_extract, so the registry is what makes the index observable.
func (s *Store) CreateIndex(ctx context.Context, namespace, field string) (vectorstore.CreateOutcome, error) {
	if field == "" {
		return 0, fmt.Errorf("%w: index field is required", vectorstore.ErrInvalidInput)
	}
	if _, err := s.dimension(ctx, namespace); err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO vector_payload_indexes (namespace, field)
		VALUES (?, ?)
		ON CONFLICT(namespace, field) DO NOTHING
	`, namespace, field)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to create index %s on %s: %w", field, namespace, err)
	}
	return outcome(result)
}

// Indexes returns the indexed payload fields of a namespace.
func (s *Store) Indexes(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field FROM vector_payload_indexes WHERE namespace = ? ORDER BY field`, namespace)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list indexes: %w", err)
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan index: %w", err)
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// Upsert writes a point, replacing any point with the same ID.
func (s *Store) Upsert(ctx context.Context, namespace string, point vectorstore.Point) error {
	if err := point.Validate(); err != nil {
		return err
	}

	dim, err := s.dimension(ctx, namespace)
	if err != nil {
		return err
	}
	if len(point.Vector) != dim {
		return fmt.Errorf("%w: got %d, namespace %s expects %d",
			vectorstore.ErrDimensionMismatch, len(point.Vector), namespace, dim)
	}

	payload, err := json.Marshal(point.Payload)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vector_points (namespace, id, vector, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, id) DO UPDATE SET
			vector = excluded.vector,
			payload = excluded.payload
	`, namespace, point.ID, encodeVector(point.Vector), string(payload))
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert point %s: %w", point.ID, err)
	}
	return nil
}

// Scroll returns all matching points in insertion order.
func (s *Store) Scroll(ctx context.Context, namespace string, filter vectorstore.Filter) ([]vectorstore.Record, error) {
	if _, err := s.dimension(ctx, namespace); err != nil {
		return nil, err
	}

	where, args := filterClause(namespace, filter)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM vector_points WHERE `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to scroll %s: %w", namespace, err)
	}
	defer rows.Close()

	records := []vectorstore.Record{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan point: %w", err)
		}
		payload, err := decodePayload(raw)
		if err != nil {
			return nil, fmt.Errorf("sqlite: point %s: %w", id, err)
		}
		records = append(records, vectorstore.Record{ID: id, Payload: payload})
	}
	return records, rows.Err()
}

// Query ranks the filtered points by cosine similarity in Go.
func (s *Store) Query(ctx context.Context, namespace string, vector []float32, filter vectorstore.Filter, k int) ([]vectorstore.ScoredRecord, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", vectorstore.ErrInvalidInput)
	}
	dim, err := s.dimension(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: got %d, namespace %s expects %d",
			vectorstore.ErrDimensionMismatch, len(vector), namespace, dim)
	}

	where, args := filterClause(namespace, filter)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vector, payload FROM vector_points WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query %s: %w", namespace, err)
	}
	defer rows.Close()

	var results []vectorstore.ScoredRecord
	for rows.Next() {
		var (
			id, raw string
			blob    []byte
		)
		if err := rows.Scan(&id, &blob, &raw); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan point: %w", err)
		}
		stored, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("sqlite: point %s: %w", id, err)
		}
		payload, err := decodePayload(raw)
		if err != nil {
			return nil, fmt.Errorf("sqlite: point %s: %w", id, err)
		}
		results = append(results, vectorstore.ScoredRecord{
			Record: vectorstore.Record{ID: id, Payload: payload},
			Score:  vectorstore.CosineSimilarity(vector, stored),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return vectorstore.TopK(results, k), nil
}

// Close is a no-op; the database handle belongs to the caller.
func (s *Store) Close() error {
	return nil
}

func (s *Store) dimension(ctx context.Context, namespace string) (int, error) {
	if namespace == "" {
		return 0, fmt.Errorf("%w: namespace is required", vectorstore.ErrInvalidInput)
	}
	var dim int
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension FROM vector_namespaces WHERE name = ?`, namespace).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", vectorstore.ErrNotFound, namespace)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to load namespace %s: %w", namespace, err)
	}
	return dim, nil
}

func outcome(result sql.Result) (vectorstore.CreateOutcome, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return vectorstore.AlreadyExists, nil
	}
	return vectorstore.Created, nil
}

// filterClause builds a deterministic WHERE clause for the namespace and
// keyword filter.
func filterClause(namespace string, filter vectorstore.Filter) (string, []any) {
	conds := []string{"namespace = ?"}
	args := []any{namespace}

	fields := make([]string, 0, len(filter))
	for f := range filter {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, f := range fields {
		conds = append(conds, "json_extract(payload, ?) = ?")
		args = append(args, jsonPath(f), filter[f])
	}
	return strings.Join(conds, " AND "), args
}

func jsonPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}

func decodePayload(raw string) (map[string]any, error) {
	payload := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %w", err)
	}
	return payload, nil
}
