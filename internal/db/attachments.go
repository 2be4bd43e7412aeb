package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ocampo/fieldsync/internal/models"
)

// GetAttachment returns one attachment by ID, or nil if it does not exist.
func (db *DB) GetAttachment(id string) (*models.Attachment, error) {
	row := db.conn.QueryRow(`
		SELECT id, record_id, local_path, COALESCE(remote_url, ''), uploaded, metadata
		FROM attachments WHERE id = ?`, id)
	a, err := scanAttachment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment %s: %w", id, err)
	}
	return a, nil
}

// PendingAttachments returns attachments not yet uploaded, oldest entity
// first.
func (db *DB) PendingAttachments() ([]models.Attachment, error) {
	rows, err := db.conn.Query(`
		SELECT a.id, a.record_id, a.local_path, COALESCE(a.remote_url, ''), a.uploaded, a.metadata
		FROM attachments a
		JOIN entities e ON e.id = a.id
		WHERE a.uploaded = 0
		ORDER BY e.created_at ASC, a.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, *a)
	}
	return attachments, rows.Err()
}

func scanAttachment(row rowScanner) (*models.Attachment, error) {
	var (
		a        models.Attachment
		uploaded int
		metadata string
	)
	if err := row.Scan(&a.ID, &a.RecordID, &a.LocalPath, &a.RemoteURL, &uploaded, &metadata); err != nil {
		return nil, err
	}
	a.Uploaded = uploaded != 0
	a.Metadata = json.RawMessage(metadata)
	return &a, nil
}
