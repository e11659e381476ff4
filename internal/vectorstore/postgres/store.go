package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/recall/internal/vectorstore"
)

// scrollPageSize bounds each keyset page read by Scroll.
const scrollPageSize = 256

// PostgreSQL error codes treated as a lost creation race.
const (
	codeUniqueViolation = "23505"
	codeDuplicateTable  = "42P07"
)

// Store implements vectorstore.Store using PostgreSQL and pgvector.
type Store struct {
	db *sql.DB
}

var _ vectorstore.Store = (*Store)(nil)

// New enables pgvector, applies the schema and returns a store.
// The caller owns db.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database is required", vectorstore.ErrInvalidInput)
	}
	if _, err := db.Exec(Extension); err != nil {
		return nil, fmt.Errorf("postgres: pgvector extension not available: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("postgres: failed to apply vector schema: %w", err)
	}
	return &Store{db: db}, nil
}

// ListNamespaces returns all namespace names.
func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM vector_namespaces ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list namespaces: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan namespace: %w", err)
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
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
	`, spec.Name, spec.Dimension, string(spec.Metric))
	if err != nil {
		if isConflict(err) {
			return vectorstore.AlreadyExists, nil
		}
		return 0, fmt.Errorf("postgres: failed to create namespace %s: %w", spec.Name, err)
	}
	return outcome(result)
}

// CreateIndex registers the payload index and builds a partial expression
// index over the namespace's rows. Both happen in one transaction, so a
// failed build leaves no registry row behind and the next call retries it.
func (s *Store) CreateIndex(ctx context.Context, namespace, field string) (out vectorstore.CreateOutcome, err error) {
	if field == "" {
		return 0, fmt.Errorf("%w: index field is required", vectorstore.ErrInvalidInput)
	}
	if _, err := s.dimension(ctx, namespace); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to begin index transaction: %w", err)
	}
	defer func() {
		if err != nil || out != vectorstore.Created {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO vector_payload_indexes (namespace, field)
		VALUES ($1, $2)
		ON CONFLICT (namespace, field) DO NOTHING
	`, namespace, field)
	if err != nil {
		if isConflict(err) {
			return vectorstore.AlreadyExists, nil
		}
		return 0, fmt.Errorf("postgres: failed to register index %s on %s: %w", field, namespace, err)
	}
	out, err = outcome(result)
	if err != nil || out == vectorstore.AlreadyExists {
		return out, err
	}

	if _, err := tx.ExecContext(ctx, indexDDL(namespace, field)); err != nil {
		if isConflict(err) {
			return vectorstore.AlreadyExists, nil
		}
		return 0, fmt.Errorf("postgres: failed to build index %s on %s: %w", field, namespace, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: failed to commit index %s on %s: %w", field, namespace, err)
	}
	return vectorstore.Created, nil
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
		return fmt.Errorf("postgres: failed to marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vector_points (namespace, id, embedding, payload)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (namespace, id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload
	`, namespace, point.ID, pgvector.NewVector(point.Vector), string(payload))
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert point %s: %w", point.ID, err)
	}
	return nil
}

// Scroll reads every matching point using keyset pagination on seq.
func (s *Store) Scroll(ctx context.Context, namespace string, filter vectorstore.Filter) ([]vectorstore.Record, error) {
	if _, err := s.dimension(ctx, namespace); err != nil {
		return nil, err
	}
	containment, err := filterJSON(filter)
	if err != nil {
		return nil, err
	}

	records := []vectorstore.Record{}
	var after int64
	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT seq, id, payload
			FROM vector_points
			WHERE namespace = $1 AND payload @> $2::jsonb AND seq > $3
			ORDER BY seq
			LIMIT $4
		`, namespace, containment, after, scrollPageSize)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scroll %s: %w", namespace, err)
		}

		n := 0
		for rows.Next() {
			var (
				id  string
				raw []byte
			)
			if err := rows.Scan(&after, &id, &raw); err != nil {
				rows.Close()
				return nil, fmt.Errorf("postgres: failed to scan point: %w", err)
			}
			payload, err := decodePayload(raw)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("postgres: point %s: %w", id, err)
			}
			records = append(records, vectorstore.Record{ID: id, Payload: payload})
			n++
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
		if n < scrollPageSize {
			return records, nil
		}
	}
}

// Query orders matching points by pgvector cosine distance.
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
	containment, err := filterJSON(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload, 1 - (embedding <=> $2) AS score
		FROM vector_points
		WHERE namespace = $1 AND payload @> $3::jsonb
		ORDER BY embedding <=> $2, id
		LIMIT $4
	`, namespace, pgvector.NewVector(vector), containment, k)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query %s: %w", namespace, err)
	}
	defer rows.Close()

	var results []vectorstore.ScoredRecord
	for rows.Next() {
		var (
			id    string
			raw   []byte
			score float64
		)
		if err := rows.Scan(&id, &raw, &score); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan result: %w", err)
		}
		payload, err := decodePayload(raw)
		if err != nil {
			return nil, fmt.Errorf("postgres: point %s: %w", id, err)
		}
		results = append(results, vectorstore.ScoredRecord{
			Record: vectorstore.Record{ID: id, Payload: payload},
			Score:  float32(score),
		})
	}
	return results, rows.Err()
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
		`SELECT dimension FROM vector_namespaces WHERE name = $1`, namespace).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", vectorstore.ErrNotFound, namespace)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to load namespace %s: %w", namespace, err)
	}
	return dim, nil
}

func outcome(result sql.Result) (vectorstore.CreateOutcome, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return vectorstore.AlreadyExists, nil
	}
	return vectorstore.Created, nil
}

// isConflict reports whether err is a concurrent creator's win.
func isConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeUniqueViolation || pqErr.Code == codeDuplicateTable
}

// indexDDL builds the partial expression index for one namespace field.
// Index names are hashed to stay within PostgreSQL's 63-byte identifier limit.
func indexDDL(namespace, field string) string {
	sum := sha256.Sum256([]byte(namespace + "\x00" + field))
	name := "idx_vp_" + hex.EncodeToString(sum[:12])
	return fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON vector_points ((payload->>%s)) WHERE namespace = %s`,
		pq.QuoteIdentifier(name), pq.QuoteLiteral(field), pq.QuoteLiteral(namespace),
	)
}

func filterJSON(filter vectorstore.Filter) (string, error) {
	if len(filter) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(filter))
	if err != nil {
		return "", fmt.Errorf("postgres: failed to marshal filter: %w", err)
	}
	return string(b), nil
}

func decodePayload(raw []byte) (map[string]any, error) {
	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %w", err)
	}
	return payload, nil
}
