// Package postgres implements vectorstore.Store on PostgreSQL with pgvector.
package postgres

// Extension enables pgvector. It must run before Schema.
const Extension = `CREATE EXTENSION IF NOT EXISTS vector`

// Schema creates the namespace registry, payload index registry and point
// tables. The embedding column is dimensionless; the namespace registry
// enforces each namespace's dimension on write.
const Schema = `
CREATE TABLE IF NOT EXISTS vector_namespaces (
    name TEXT PRIMARY KEY,
    dimension INTEGER NOT NULL CHECK (dimension > 0),
    metric TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS vector_payload_indexes (
    namespace TEXT NOT NULL REFERENCES vector_namespaces(name) ON DELETE CASCADE,
    field TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (namespace, field)
);

CREATE TABLE IF NOT EXISTS vector_points (
    seq BIGSERIAL PRIMARY KEY,
    namespace TEXT NOT NULL REFERENCES vector_namespaces(name) ON DELETE CASCADE,
    id TEXT NOT NULL,
    embedding vector NOT NULL,
    payload JSONB NOT NULL,
    UNIQUE (namespace, id)
);

CREATE INDEX IF NOT EXISTS idx_vector_points_payload ON vector_points USING GIN (payload jsonb_path_ops);
`
