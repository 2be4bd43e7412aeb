package db

import (
	"database/sql"
	"fmt"
	"time"
)

// SyncState tracks the incremental-pull cursor and the last completed sync.
type SyncState struct {
	LastPulledAt *time.Time
	LastSyncAt   *time.Time
}

// GetSyncState returns the singleton sync state row.
func (db *DB) GetSyncState() (SyncState, error) {
	var s SyncState
	var pulled, synced sql.NullString

	err := db.conn.QueryRow(
		`SELECT last_pulled_at, last_sync_at FROM sync_state WHERE id = 1`,
	).Scan(&pulled, &synced)
	if err != nil {
		return s, fmt.Errorf("get sync state: %w", err)
	}

	if pulled.Valid && pulled.String != "" {
		t, err := parseTimestamp(pulled.String)
		if err != nil {
			return s, fmt.Errorf("parse last_pulled_at: %w", err)
		}
		s.LastPulledAt = &t
	}
	if synced.Valid && synced.String != "" {
		t, err := parseTimestamp(synced.String)
		if err != nil {
			return s, fmt.Errorf("parse last_sync_at: %w", err)
		}
		s.LastSyncAt = &t
	}
	return s, nil
}

// UpdateLastPulled advances the authoritative-pull cursor.
func (db *DB) UpdateLastPulled(t time.Time) error {
	_, err := db.conn.Exec(
		`UPDATE sync_state SET last_pulled_at = ? WHERE id = 1`, fmtTime(t),
	)
	if err != nil {
		return fmt.Errorf("update last pulled: %w", err)
	}
	return nil
}

// UpdateLastSync records the end of a completed cycle.
func (db *DB) UpdateLastSync(t time.Time) error {
	_, err := db.conn.Exec(
		`UPDATE sync_state SET last_sync_at = ? WHERE id = 1`, fmtTime(t),
	)
	if err != nil {
		return fmt.Errorf("update last sync: %w", err)
	}
	return nil
}
