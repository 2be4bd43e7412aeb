package db

import (
	"fmt"
	"time"

	"github.com/ocampo/fieldsync/internal/models"
)

// HistoryEntry is one row of the append-only sync history log.
type HistoryEntry struct {
	ID        int64
	Direction string // "push" or "pull"
	Kind      models.Kind
	EntityID  string
	Outcome   string // "acked", "dead", "applied"
	Detail    string
	Timestamp time.Time
}

// RecordHistory appends sync outcomes. Returns nil for an empty batch.
// History is advisory; callers log and move on when it fails.
func (db *DB) RecordHistory(entries []HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	stmt, err := db.conn.Prepare(`
		INSERT INTO sync_history (direction, kind, entity_id, outcome, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.Exec(e.Direction, string(e.Kind), e.EntityID, e.Outcome, e.Detail, fmtTime(ts)); err != nil {
			return fmt.Errorf("insert history for %s: %w", e.EntityID, err)
		}
	}
	return nil
}

// HistoryTail returns the last N entries in chronological order.
func (db *DB) HistoryTail(limit int) ([]HistoryEntry, error) {
	rows, err := db.conn.Query(`
		SELECT id, direction, kind, entity_id, outcome, detail, timestamp
		FROM sync_history
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var kind, ts string
		if err := rows.Scan(&e.ID, &e.Direction, &kind, &e.EntityID, &e.Outcome, &e.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Kind = models.Kind(kind)
		parsed, err := parseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("parse history timestamp: %w", err)
		}
		e.Timestamp = parsed
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse into chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
