package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ocampo/fieldsync/internal/models"
	"github.com/ocampo/fieldsync/internal/queue"
)

// CaptureRecord stores a new field record and enqueues its work item in one
// transaction: both succeed or both fail. Capture never depends on
// connectivity or remote state.
func (db *DB) CaptureRecord(payload json.RawMessage) (string, error) {
	return db.capture(models.KindRecord, payload)
}

// CaptureAttendance stores an attendance mark and enqueues it.
func (db *DB) CaptureAttendance(payload json.RawMessage) (string, error) {
	return db.capture(models.KindAttendance, payload)
}

func (db *DB) capture(kind models.Kind, payload json.RawMessage) (string, error) {
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	id := uuid.New().String()
	now := fmtTime(time.Now())

	tx, err := db.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("begin capture: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO entities (id, kind, payload, synced, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)`,
		id, string(kind), string(payload), now, now,
	); err != nil {
		return "", fmt.Errorf("insert %s: %w", kind, err)
	}
	if _, err := queue.EnqueueTx(tx, kind, id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit capture: %w", err)
	}
	return id, nil
}

// CaptureAttachment stores evidence metadata pointing at a local file and
// enqueues its upload. The file at localPath is left in place; it is never
// copied into the queue and never deleted before the upload is acknowledged.
func (db *DB) CaptureAttachment(recordID, localPath string, metadata json.RawMessage) (string, error) {
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}
	id := uuid.New().String()
	now := fmtTime(time.Now())

	tx, err := db.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("begin capture attachment: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO entities (id, kind, payload, synced, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)`,
		id, string(models.KindAttachment), string(metadata), now, now,
	); err != nil {
		return "", fmt.Errorf("insert attachment entity: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO attachments (id, record_id, local_path, metadata)
		VALUES (?, ?, ?, ?)`,
		id, recordID, localPath, string(metadata),
	); err != nil {
		return "", fmt.Errorf("insert attachment row: %w", err)
	}
	if _, err := queue.EnqueueTx(tx, models.KindAttachment, id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit capture attachment: %w", err)
	}
	return id, nil
}
