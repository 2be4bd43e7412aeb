package queue

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/ocampo/fieldsync/internal/models"
)

func setupQueueDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	_, err = conn.Exec(`
		CREATE TABLE work_items (
			id              TEXT PRIMARY KEY,
			kind            TEXT NOT NULL,
			entity_id       TEXT NOT NULL,
			attempts        INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT,
			status          TEXT NOT NULL DEFAULT 'pending',
			created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_attempt_at DATETIME
		);
		CREATE UNIQUE INDEX idx_work_items_live
			ON work_items(entity_id) WHERE status = 'pending';`)
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEnqueueAndReady(t *testing.T) {
	q := New(setupQueueDB(t))

	id, err := q.Enqueue(models.KindRecord, "e1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("enqueue returned empty id")
	}

	items, err := q.ReadyItems(5)
	if err != nil {
		t.Fatalf("ready items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("ready: got %d, want 1", len(items))
	}
	if items[0].EntityID != "e1" || items[0].Kind != models.KindRecord {
		t.Errorf("item: got %+v", items[0])
	}
	if items[0].Status != models.WorkPending {
		t.Errorf("status: got %q, want pending", items[0].Status)
	}
}

func TestEnqueueRejectsInvalidKind(t *testing.T) {
	q := New(setupQueueDB(t))
	if _, err := q.Enqueue("widget", "e1"); err == nil {
		t.Fatal("invalid kind should be rejected")
	}
}

func TestOneLiveItemPerEntity(t *testing.T) {
	q := New(setupQueueDB(t))

	if _, err := q.Enqueue(models.KindRecord, "e1"); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := q.Enqueue(models.KindRecord, "e1"); err == nil {
		t.Fatal("second live item for the same entity should be rejected")
	}
}

func TestFIFOOrdering(t *testing.T) {
	conn := setupQueueDB(t)
	q := New(conn)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := q.Enqueue(models.KindRecord, fmt.Sprintf("e%d", i))
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		ids = append(ids, id)
		// spread creation times so ordering is unambiguous
		ts := fmt.Sprintf("2026-08-01 10:0%d:00", i)
		if _, err := conn.Exec(`UPDATE work_items SET created_at = ? WHERE id = ?`, ts, id); err != nil {
			t.Fatalf("backdate %d: %v", i, err)
		}
	}

	items, err := q.ReadyItems(5)
	if err != nil {
		t.Fatalf("ready items: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("ready: got %d, want 3", len(items))
	}
	for i, item := range items {
		if item.ID != ids[i] {
			t.Errorf("position %d: got %s, want %s", i, item.ID, ids[i])
		}
	}
}

func TestAckRemoves(t *testing.T) {
	q := New(setupQueueDB(t))

	id, _ := q.Enqueue(models.KindRecord, "e1")
	if err := q.Ack(id); err != nil {
		t.Fatalf("ack: %v", err)
	}

	items, _ := q.ReadyItems(5)
	if len(items) != 0 {
		t.Fatalf("queue after ack: got %d items, want 0", len(items))
	}

	if err := q.Ack(id); err == nil {
		t.Fatal("double ack should fail")
	}
}

func TestNackTransientIncrements(t *testing.T) {
	q := New(setupQueueDB(t))

	id, _ := q.Enqueue(models.KindAttachment, "e1")
	if err := q.Nack(id, errors.New("connection reset"), false, 5); err != nil {
		t.Fatalf("nack: %v", err)
	}

	items, _ := q.ReadyItems(5)
	if len(items) != 1 {
		t.Fatalf("ready after transient nack: got %d, want 1", len(items))
	}
	if items[0].Attempts != 1 {
		t.Errorf("attempts: got %d, want 1", items[0].Attempts)
	}
	if items[0].LastError != "connection reset" {
		t.Errorf("last_error: got %q", items[0].LastError)
	}
	if items[0].LastAttemptAt == nil {
		t.Error("last_attempt_at should be set")
	}
}

func TestNackPermanentDeadImmediately(t *testing.T) {
	q := New(setupQueueDB(t))

	id, _ := q.Enqueue(models.KindRecord, "e1")
	if err := q.Nack(id, errors.New("validation failed"), true, 5); err != nil {
		t.Fatalf("nack: %v", err)
	}

	dead, _ := q.DeadItems()
	if len(dead) != 1 {
		t.Fatalf("dead: got %d, want 1", len(dead))
	}
	if dead[0].Attempts != 0 {
		t.Errorf("permanent failure should not count attempts, got %d", dead[0].Attempts)
	}
	if dead[0].LastError != "validation failed" {
		t.Errorf("last_error: got %q", dead[0].LastError)
	}
}

func TestNackExhaustsAttempts(t *testing.T) {
	q := New(setupQueueDB(t))
	const maxAttempts = 3

	id, _ := q.Enqueue(models.KindRecord, "e1")
	for i := 0; i < maxAttempts; i++ {
		items, _ := q.ReadyItems(maxAttempts)
		if len(items) != 1 {
			t.Fatalf("round %d: item should still be ready", i)
		}
		if err := q.Nack(id, errors.New("timeout"), false, maxAttempts); err != nil {
			t.Fatalf("nack %d: %v", i, err)
		}
	}

	items, _ := q.ReadyItems(maxAttempts)
	if len(items) != 0 {
		t.Fatal("exhausted item should not be ready")
	}
	dead, _ := q.DeadItems()
	if len(dead) != 1 {
		t.Fatalf("dead: got %d, want 1", len(dead))
	}
	if dead[0].Attempts != maxAttempts {
		t.Errorf("attempts: got %d, want %d", dead[0].Attempts, maxAttempts)
	}
}

func TestRetryRestoresDeadItem(t *testing.T) {
	q := New(setupQueueDB(t))

	id, _ := q.Enqueue(models.KindRecord, "e1")
	q.Nack(id, errors.New("rejected"), true, 5)

	if err := q.Retry(id); err != nil {
		t.Fatalf("retry: %v", err)
	}

	items, _ := q.ReadyItems(5)
	if len(items) != 1 {
		t.Fatalf("ready after retry: got %d, want 1", len(items))
	}
	if items[0].Attempts != 0 {
		t.Errorf("attempts after retry: got %d, want 0", items[0].Attempts)
	}
	if items[0].LastError != "" {
		t.Errorf("last_error after retry: got %q, want empty", items[0].LastError)
	}

	if err := q.Retry(id); err == nil {
		t.Fatal("retrying a pending item should fail")
	}
}

func TestRetryAll(t *testing.T) {
	q := New(setupQueueDB(t))

	for i := 0; i < 3; i++ {
		id, _ := q.Enqueue(models.KindRecord, fmt.Sprintf("e%d", i))
		q.Nack(id, errors.New("rejected"), true, 5)
	}
	liveID, _ := q.Enqueue(models.KindRecord, "live")

	n, err := q.RetryAll()
	if err != nil {
		t.Fatalf("retry all: %v", err)
	}
	if n != 3 {
		t.Fatalf("requeued: got %d, want 3", n)
	}

	pending, dead, _ := q.Counts()
	if pending != 4 || dead != 0 {
		t.Errorf("counts: got pending=%d dead=%d, want 4/0", pending, dead)
	}

	item, _ := q.ItemForEntity("live")
	if item == nil || item.ID != liveID {
		t.Error("live item should be untouched")
	}
}

func TestItemForEntity(t *testing.T) {
	q := New(setupQueueDB(t))

	item, err := q.ItemForEntity("missing")
	if err != nil {
		t.Fatalf("item for entity: %v", err)
	}
	if item != nil {
		t.Fatal("missing entity should yield nil item")
	}

	id, _ := q.Enqueue(models.KindAttendance, "e1")
	item, err = q.ItemForEntity("e1")
	if err != nil {
		t.Fatalf("item for entity: %v", err)
	}
	if item == nil || item.ID != id {
		t.Fatalf("item: got %+v, want id %s", item, id)
	}
}
