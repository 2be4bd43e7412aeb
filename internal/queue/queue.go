// Package queue is the durable list of pending outbound work. Items live in
// the work_items table of the capture database and are removed only on
// positive acknowledgment, which is what makes delivery at-least-once.
package queue

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ocampo/fieldsync/internal/models"
)

// Queue manages work items on top of the shared capture database.
type Queue struct {
	conn *sql.DB
}

// New creates a queue over the given connection. The connection is the one
// owned by the local store; the queue never opens its own.
func New(conn *sql.DB) *Queue {
	return &Queue{conn: conn}
}

// Enqueue appends a work item for an entity. Fails only if storage fails or
// a live item for the entity already exists.
func (q *Queue) Enqueue(kind models.Kind, entityID string) (string, error) {
	tx, err := q.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback()

	id, err := EnqueueTx(tx, kind, entityID)
	if err != nil {
		return "", err
	}
	return id, tx.Commit()
}

// EnqueueTx appends a work item within an existing transaction, so callers
// can persist the entity and its work item atomically.
func EnqueueTx(tx *sql.Tx, kind models.Kind, entityID string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("enqueue %s: invalid kind %q", entityID, kind)
	}
	id := uuid.New().String()
	_, err := tx.Exec(`
		INSERT INTO work_items (id, kind, entity_id, status, created_at)
		VALUES (?, ?, ?, 'pending', ?)`,
		id, string(kind), entityID, time.Now().UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", entityID, err)
	}
	return id, nil
}

// ReadyItems returns pending items with attempts < maxAttempts, oldest
// first. FIFO ordering guarantees older mutations are never starved by
// newer ones.
func (q *Queue) ReadyItems(maxAttempts int) ([]models.WorkItem, error) {
	rows, err := q.conn.Query(`
		SELECT id, kind, entity_id, attempts, COALESCE(last_error, ''), status, created_at, last_attempt_at
		FROM work_items
		WHERE status = 'pending' AND attempts < ?
		ORDER BY created_at ASC, id ASC`, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("query ready items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ItemForEntity returns the live work item for an entity, or nil.
func (q *Queue) ItemForEntity(entityID string) (*models.WorkItem, error) {
	rows, err := q.conn.Query(`
		SELECT id, kind, entity_id, attempts, COALESCE(last_error, ''), status, created_at, last_attempt_at
		FROM work_items
		WHERE status = 'pending' AND entity_id = ?`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query item for entity %s: %w", entityID, err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// DeadItems returns items that exhausted their retries or were rejected
// permanently. They stay visible until an operator retries or discards them.
func (q *Queue) DeadItems() ([]models.WorkItem, error) {
	rows, err := q.conn.Query(`
		SELECT id, kind, entity_id, attempts, COALESCE(last_error, ''), status, created_at, last_attempt_at
		FROM work_items
		WHERE status = 'dead'
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query dead items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// Ack removes a work item. Called only after the remote side confirmed
// acceptance.
func (q *Queue) Ack(itemID string) error {
	res, err := q.conn.Exec(`DELETE FROM work_items WHERE id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("ack %s: %w", itemID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ack %s: no such item", itemID)
	}
	return nil
}

// Nack records a failed attempt. A permanent failure moves the item to dead
// immediately regardless of attempt count; otherwise the attempt counter is
// incremented and the item stays pending for the next cycle. An item that
// reaches maxAttempts is also moved to dead.
func (q *Queue) Nack(itemID string, cause error, permanent bool, maxAttempts int) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := time.Now().UTC().Format("2006-01-02 15:04:05")

	if permanent {
		_, err := q.conn.Exec(`
			UPDATE work_items SET status = 'dead', last_error = ?, last_attempt_at = ? WHERE id = ?`,
			msg, now, itemID)
		if err != nil {
			return fmt.Errorf("nack %s: %w", itemID, err)
		}
		return nil
	}

	_, err := q.conn.Exec(`
		UPDATE work_items
		SET attempts = attempts + 1,
		    last_error = ?,
		    last_attempt_at = ?,
		    status = CASE WHEN attempts + 1 >= ? THEN 'dead' ELSE status END
		WHERE id = ?`,
		msg, now, maxAttempts, itemID)
	if err != nil {
		return fmt.Errorf("nack %s: %w", itemID, err)
	}
	return nil
}

// Retry resets a dead item to pending with zeroed attempts so the next
// cycle picks it up again.
func (q *Queue) Retry(itemID string) error {
	res, err := q.conn.Exec(`
		UPDATE work_items SET status = 'pending', attempts = 0, last_error = NULL
		WHERE id = ? AND status = 'dead'`, itemID)
	if err != nil {
		return fmt.Errorf("retry %s: %w", itemID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("retry %s: no dead item with that id", itemID)
	}
	return nil
}

// RetryAll resets every dead item. Returns the number reset.
func (q *Queue) RetryAll() (int64, error) {
	res, err := q.conn.Exec(`
		UPDATE work_items SET status = 'pending', attempts = 0, last_error = NULL
		WHERE status = 'dead'`)
	if err != nil {
		return 0, fmt.Errorf("retry all: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Counts returns pending and dead item counts.
func (q *Queue) Counts() (pending, dead int, err error) {
	err = q.conn.QueryRow(`
		SELECT
			COUNT(CASE WHEN status = 'pending' THEN 1 END),
			COUNT(CASE WHEN status = 'dead' THEN 1 END)
		FROM work_items`).Scan(&pending, &dead)
	return pending, dead, err
}

func scanItems(rows *sql.Rows) ([]models.WorkItem, error) {
	var items []models.WorkItem
	for rows.Next() {
		var (
			item          models.WorkItem
			kind, status  string
			createdTS     string
			lastAttemptTS sql.NullString
		)
		if err := rows.Scan(&item.ID, &kind, &item.EntityID, &item.Attempts,
			&item.LastError, &status, &createdTS, &lastAttemptTS); err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		item.Kind = models.Kind(kind)
		item.Status = models.WorkStatus(status)

		created, err := parseTimestamp(createdTS)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", item.ID, err)
		}
		item.CreatedAt = created

		if lastAttemptTS.Valid && lastAttemptTS.String != "" {
			t, err := parseTimestamp(lastAttemptTS.String)
			if err != nil {
				return nil, fmt.Errorf("parse last_attempt_at for %s: %w", item.ID, err)
			}
			item.LastAttemptAt = &t
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// parseTimestamp tries common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05",
		time.RFC3339,
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
