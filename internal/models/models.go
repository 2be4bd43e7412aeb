package models

import (
	"encoding/json"
	"time"
)

// Kind classifies a captured entity and the work item that carries it.
type Kind string

const (
	KindRecord     Kind = "record"
	KindAttachment Kind = "attachment"
	KindAttendance Kind = "attendance"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRecord, KindAttachment, KindAttendance:
		return true
	}
	return false
}

// WorkStatus represents the lifecycle state of a work item.
type WorkStatus string

const (
	WorkPending WorkStatus = "pending"
	WorkDead    WorkStatus = "dead"
)

// Entity is a captured domain record awaiting (or past) synchronization.
// The payload is opaque to the sync engine; only the stable client-generated
// ID, the kind, and the updated-at marker participate in reconciliation.
type Entity struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Synced        bool            `json:"synced"`
	ServerVersion int64           `json:"server_version,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// WorkItem is one unit of outbound sync work tracking a single entity.
// Exactly one live (pending) work item exists per unsynced entity.
type WorkItem struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	EntityID      string     `json:"entity_id"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	Status        WorkStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

// Attachment points at a binary captured on device. The bytes stay on disk
// at LocalPath until the upload is acknowledged; only metadata travels
// through the queue. An attachment is itself an entity (kind "attachment");
// RecordID names the field record it evidences.
type Attachment struct {
	ID        string          `json:"id"`
	RecordID  string          `json:"record_id"`
	LocalPath string          `json:"local_path"`
	RemoteURL string          `json:"remote_url,omitempty"`
	Uploaded  bool            `json:"uploaded"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// RemoteMeta carries server-assigned metadata stored when an entity is
// marked synced.
type RemoteMeta struct {
	ServerVersion int64
	RemoteURL     string
}

// AuthoritativeEntity is one server-owned entity pulled during the
// download step.
type AuthoritativeEntity struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}
