package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ocampo/fieldsync/internal/models"
)

// UpsertEntity inserts or updates an entity keyed by its stable ID.
// Repeated calls with the same ID never create duplicates. The updated_at
// marker is refreshed and synced is reset so the change gets pushed again.
func (db *DB) UpsertEntity(e models.Entity) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("upsert entity %s: invalid kind %q", e.ID, e.Kind)
	}
	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	now := fmtTime(time.Now())
	_, err := db.conn.Exec(`
		INSERT INTO entities (id, kind, payload, synced, server_version, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			synced = 0,
			updated_at = excluded.updated_at`,
		e.ID, string(e.Kind), string(payload), e.ServerVersion, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", e.ID, err)
	}
	return nil
}

// GetEntity returns one entity by ID, or nil if it does not exist.
func (db *DB) GetEntity(id string) (*models.Entity, error) {
	row := db.conn.QueryRow(`
		SELECT id, kind, payload, synced, server_version, created_at, updated_at
		FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", id, err)
	}
	return e, nil
}

// PendingEntities returns all unsynced entities of the given kind in
// creation order.
func (db *DB) PendingEntities(kind models.Kind) ([]models.Entity, error) {
	rows, err := db.conn.Query(`
		SELECT id, kind, payload, synced, server_version, created_at, updated_at
		FROM entities
		WHERE synced = 0 AND kind = ?
		ORDER BY created_at ASC, id ASC`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query pending entities: %w", err)
	}
	defer rows.Close()

	var entities []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

// CountPending returns the number of unsynced entities per kind.
func (db *DB) CountPending() (map[models.Kind]int, error) {
	rows, err := db.conn.Query(`SELECT kind, COUNT(*) FROM entities WHERE synced = 0 GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[models.Kind(kind)] = n
	}
	return counts, rows.Err()
}

// MarkSynced sets synced on an entity and stores any server-assigned
// metadata. For attachments the remote URL lands on the attachments row.
func (db *DB) MarkSynced(id string, meta models.RemoteMeta) error {
	res, err := db.conn.Exec(`
		UPDATE entities SET synced = 1, server_version = ? WHERE id = ?`,
		meta.ServerVersion, id,
	)
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark synced %s: no such entity", id)
	}
	if meta.RemoteURL != "" {
		if _, err := db.conn.Exec(`
			UPDATE attachments SET remote_url = ?, uploaded = 1 WHERE id = ?`,
			meta.RemoteURL, id,
		); err != nil {
			return fmt.Errorf("mark attachment uploaded %s: %w", id, err)
		}
	}
	return nil
}

// ApplyAuthoritative merges server-pushed entities using last-writer-wins by
// updated_at. A local row that is at least as new and still unsynced is never
// overwritten: local pending edits win until they are acknowledged, and a
// timestamp tie (second granularity makes those likely) goes to the local
// edit.
func (db *DB) ApplyAuthoritative(batch []models.AuthoritativeEntity) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin apply authoritative: %w", err)
	}
	defer tx.Rollback()

	applied := 0
	for _, ae := range batch {
		var localUpdated string
		var localSynced int
		err := tx.QueryRow(
			`SELECT updated_at, synced FROM entities WHERE id = ?`, ae.ID,
		).Scan(&localUpdated, &localSynced)

		switch {
		case err == sql.ErrNoRows:
			// new reference entity
		case err != nil:
			return applied, fmt.Errorf("lookup entity %s: %w", ae.ID, err)
		default:
			localTS, perr := parseTimestamp(localUpdated)
			if perr == nil && localSynced == 0 && !localTS.Before(ae.UpdatedAt) {
				continue // local pending edit is at least as new, it wins
			}
		}

		payload := ae.Payload
		if payload == nil {
			payload = json.RawMessage("{}")
		}
		if _, err := tx.Exec(`
			INSERT INTO entities (id, kind, payload, synced, created_at, updated_at)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				payload = excluded.payload,
				synced = 1,
				updated_at = excluded.updated_at`,
			ae.ID, ae.Kind, string(payload), fmtTime(ae.UpdatedAt), fmtTime(ae.UpdatedAt),
		); err != nil {
			return applied, fmt.Errorf("apply entity %s: %w", ae.ID, err)
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return applied, fmt.Errorf("commit apply authoritative: %w", err)
	}
	return applied, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var (
		e                  models.Entity
		kind, payload      string
		synced             int
		createdTS, updated string
	)
	if err := row.Scan(&e.ID, &kind, &payload, &synced, &e.ServerVersion, &createdTS, &updated); err != nil {
		return nil, err
	}
	e.Kind = models.Kind(kind)
	e.Payload = json.RawMessage(payload)
	e.Synced = synced != 0

	var err error
	if e.CreatedAt, err = parseTimestamp(createdTS); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTimestamp(updated); err != nil {
		return nil, err
	}
	return &e, nil
}
