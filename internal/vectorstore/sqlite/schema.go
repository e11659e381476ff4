package sqlite

// Schema creates the namespace registry, payload index registry and point
// tables. All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS vector_namespaces (
    name TEXT PRIMARY KEY,
    dimension INTEGER NOT NULL,
    metric TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS vector_payload_indexes (
    namespace TEXT NOT NULL REFERENCES vector_namespaces(name) ON DELETE CASCADE,
    field TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (namespace, field)
);

CREATE TABLE IF NOT EXISTS vector_points (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    namespace TEXT NOT NULL REFERENCES vector_namespaces(name) ON DELETE CASCADE,
    id TEXT NOT NULL,
    vector BLOB NOT NULL,
    payload TEXT NOT NULL,
    UNIQUE (namespace, id)
);

CREATE INDEX IF NOT EXISTS idx_vector_points_namespace ON vector_points(namespace);
`
