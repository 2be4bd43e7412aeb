package db

import (
	"fmt"
	"strconv"
)

// SchemaVersion is the current schema version. Bump when adding a migration.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_info (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
    id             TEXT PRIMARY KEY,
    kind           TEXT NOT NULL,
    payload        TEXT NOT NULL DEFAULT '{}',
    synced         INTEGER NOT NULL DEFAULT 0,
    server_version INTEGER NOT NULL DEFAULT 0,
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_entities_pending ON entities(kind, synced, created_at);

CREATE TABLE IF NOT EXISTS attachments (
    id         TEXT PRIMARY KEY,
    record_id  TEXT NOT NULL,
    local_path TEXT NOT NULL,
    remote_url TEXT,
    uploaded   INTEGER NOT NULL DEFAULT 0,
    metadata   TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_attachments_record ON attachments(record_id);

CREATE TABLE IF NOT EXISTS work_items (
    id              TEXT PRIMARY KEY,
    kind            TEXT NOT NULL,
    entity_id       TEXT NOT NULL,
    attempts        INTEGER NOT NULL DEFAULT 0,
    last_error      TEXT,
    status          TEXT NOT NULL DEFAULT 'pending',
    created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_attempt_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_work_items_live
    ON work_items(entity_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_work_items_ready ON work_items(status, created_at);

CREATE TABLE IF NOT EXISTS sync_state (
    id             INTEGER PRIMARY KEY CHECK (id = 1),
    last_pulled_at DATETIME,
    last_sync_at   DATETIME
);
INSERT OR IGNORE INTO sync_state (id) VALUES (1);

CREATE TABLE IF NOT EXISTS sync_history (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    direction TEXT NOT NULL,
    kind      TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    outcome   TEXT NOT NULL,
    detail    TEXT NOT NULL DEFAULT '',
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// migration is a single schema change applied in order.
type migration struct {
	Version int
	SQL     string
}

// migrations holds schema changes past the base schema. The base schema is
// version 1; entries here start at 2.
var migrations = []migration{}

// SchemaVersionOf returns the recorded schema version, 0 when unset.
func (db *DB) SchemaVersionOf() (int, error) {
	var value string
	err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&value)
	if err != nil {
		return 0, nil // table or row missing: pre-migration database
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", value, err)
	}
	return v, nil
}

func (db *DB) setSchemaVersion(version int) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		strconv.Itoa(version),
	)
	return err
}

// migrate brings the database up to SchemaVersion. The base schema is
// created if missing so Open works on databases made by older builds.
func (db *DB) migrate() error {
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("ensure base schema: %w", err)
	}

	current, err := db.SchemaVersionOf()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if _, err := db.conn.Exec(m.SQL); err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
		if err := db.setSchemaVersion(m.Version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		current = m.Version
	}

	if current < SchemaVersion {
		return db.setSchemaVersion(SchemaVersion)
	}
	return nil
}
