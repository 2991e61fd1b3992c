package store

import "database/sql"

// Schema is the complete gazette schema.
const Schema = `
-- Normalized events, partitioned by UTC bucket date
CREATE TABLE IF NOT EXISTS events (
    id           TEXT PRIMARY KEY,
    event_type   TEXT NOT NULL,
    source_repo  TEXT NOT NULL DEFAULT '',
    actor        TEXT NOT NULL DEFAULT '',
    summary      TEXT NOT NULL DEFAULT '',
    details_json TEXT NOT NULL DEFAULT '{}',
    bucket_date  TEXT NOT NULL,
    occurred_at  INTEGER NOT NULL,
    received_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_bucket ON events(bucket_date, received_at);

-- Per-date publication cycle state
CREATE TABLE IF NOT EXISTS cycles (
    bucket_date  TEXT PRIMARY KEY,
    state        TEXT NOT NULL DEFAULT 'due',
    summary      TEXT NOT NULL DEFAULT '',
    published_id TEXT NOT NULL DEFAULT '',
    fail_count   INTEGER NOT NULL DEFAULT 0,
    last_error   TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycles_state ON cycles(state);

-- Archival marker, one row per consumed bucket
CREATE TABLE IF NOT EXISTS archives (
    bucket_date  TEXT PRIMARY KEY,
    event_count  INTEGER NOT NULL DEFAULT 0,
    archived_at  INTEGER NOT NULL
);

-- Human-approval requests, one per gated date
CREATE TABLE IF NOT EXISTS reviews (
    id           TEXT PRIMARY KEY,
    bucket_date  TEXT NOT NULL UNIQUE,
    summary      TEXT NOT NULL,
    resolution   TEXT NOT NULL DEFAULT 'pending',
    created_at   INTEGER NOT NULL,
    resolved_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_reviews_resolution ON reviews(resolution, created_at);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
