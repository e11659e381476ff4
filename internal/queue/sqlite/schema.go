package sqlite

// Schema creates the ingestion job table. Several named queues may share one
// database; every row is keyed by (queue, id). Timestamps are Unix nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS ingestion_jobs (
	queue TEXT NOT NULL,
	id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	text TEXT NOT NULL,
	state TEXT NOT NULL CHECK (state IN ('waiting', 'delayed', 'active', 'completed', 'failed')),
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	enqueued_at INTEGER NOT NULL,
	run_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	finished_at INTEGER,
	PRIMARY KEY (queue, id)
);

CREATE INDEX IF NOT EXISTS idx_ingestion_jobs_ready
	ON ingestion_jobs(queue, state, run_at, enqueued_at);

CREATE INDEX IF NOT EXISTS idx_ingestion_jobs_finished
	ON ingestion_jobs(queue, state, finished_at);
`
