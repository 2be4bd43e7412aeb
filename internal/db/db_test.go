package db

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ocampo/fieldsync/internal/models"
	"github.com/ocampo/fieldsync/internal/queue"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	database, err := Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestOpenBeforeInit(t *testing.T) {
	_, err := Open(t.TempDir())
	if err == nil {
		t.Fatal("open without init should fail")
	}
}

func TestInitializeThenOpen(t *testing.T) {
	dir := t.TempDir()
	database, err := Initialize(dir)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	database.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer reopened.Close()

	v, err := reopened.SchemaVersionOf()
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v != SchemaVersion {
		t.Fatalf("schema version: got %d, want %d", v, SchemaVersion)
	}
}

func TestCaptureRecordAtomic(t *testing.T) {
	database := setupDB(t)

	id, err := database.CaptureRecord(json.RawMessage(`{"activity":"a1","status":"done"}`))
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	ent, err := database.GetEntity(id)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if ent == nil {
		t.Fatal("entity not stored")
	}
	if ent.Kind != models.KindRecord {
		t.Errorf("kind: got %q, want record", ent.Kind)
	}
	if ent.Synced {
		t.Error("new capture should be unsynced")
	}

	q := queue.New(database.Conn())
	item, err := q.ItemForEntity(id)
	if err != nil {
		t.Fatalf("item for entity: %v", err)
	}
	if item == nil {
		t.Fatal("capture should enqueue a work item")
	}
	if item.Attempts != 0 {
		t.Errorf("attempts: got %d, want 0", item.Attempts)
	}
}

func TestCaptureAttachment(t *testing.T) {
	database := setupDB(t)

	recID, err := database.CaptureRecord(json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("capture record: %v", err)
	}

	attID, err := database.CaptureAttachment(recID, "/tmp/evidence.jpg", json.RawMessage(`{"lat":1.5}`))
	if err != nil {
		t.Fatalf("capture attachment: %v", err)
	}

	att, err := database.GetAttachment(attID)
	if err != nil {
		t.Fatalf("get attachment: %v", err)
	}
	if att == nil {
		t.Fatal("attachment not stored")
	}
	if att.RecordID != recID {
		t.Errorf("record_id: got %q, want %q", att.RecordID, recID)
	}
	if att.Uploaded {
		t.Error("new attachment should not be uploaded")
	}

	pending, err := database.PendingAttachments()
	if err != nil {
		t.Fatalf("pending attachments: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending attachments: got %d, want 1", len(pending))
	}
}

func TestUpsertEntityIdempotent(t *testing.T) {
	database := setupDB(t)

	e := models.Entity{ID: "e1", Kind: models.KindRecord, Payload: json.RawMessage(`{"v":1}`)}
	if err := database.UpsertEntity(e); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	e.Payload = json.RawMessage(`{"v":2}`)
	if err := database.UpsertEntity(e); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := database.GetEntity("e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Payload) != `{"v":2}` {
		t.Errorf("payload: got %s, want {\"v\":2}", got.Payload)
	}

	pending, err := database.PendingEntities(models.KindRecord)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("duplicate rows after upsert: got %d, want 1", len(pending))
	}
}

func TestUpsertRejectsInvalidKind(t *testing.T) {
	database := setupDB(t)
	err := database.UpsertEntity(models.Entity{ID: "e1", Kind: "widget"})
	if err == nil {
		t.Fatal("invalid kind should be rejected")
	}
}

func TestMarkSynced(t *testing.T) {
	database := setupDB(t)

	id, err := database.CaptureRecord(json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := database.MarkSynced(id, models.RemoteMeta{ServerVersion: 7}); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	ent, _ := database.GetEntity(id)
	if !ent.Synced {
		t.Error("entity should be synced")
	}
	if ent.ServerVersion != 7 {
		t.Errorf("server_version: got %d, want 7", ent.ServerVersion)
	}

	if err := database.MarkSynced("missing", models.RemoteMeta{}); err == nil {
		t.Error("marking a missing entity should fail")
	}
}

func TestMarkSyncedAttachmentURL(t *testing.T) {
	database := setupDB(t)

	recID, _ := database.CaptureRecord(json.RawMessage(`{}`))
	attID, err := database.CaptureAttachment(recID, "/tmp/x.jpg", nil)
	if err != nil {
		t.Fatalf("capture attachment: %v", err)
	}

	if err := database.MarkSynced(attID, models.RemoteMeta{RemoteURL: "https://cdn/x.jpg"}); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	att, _ := database.GetAttachment(attID)
	if !att.Uploaded {
		t.Error("attachment should be uploaded")
	}
	if att.RemoteURL != "https://cdn/x.jpg" {
		t.Errorf("remote_url: got %q", att.RemoteURL)
	}

	pending, _ := database.PendingAttachments()
	if len(pending) != 0 {
		t.Errorf("pending attachments after upload: got %d, want 0", len(pending))
	}
}

func TestApplyAuthoritativeNewEntity(t *testing.T) {
	database := setupDB(t)

	applied, err := database.ApplyAuthoritative([]models.AuthoritativeEntity{
		{ID: "srv1", Kind: "record", Payload: json.RawMessage(`{"assigned":true}`), UpdatedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied: got %d, want 1", applied)
	}

	ent, _ := database.GetEntity("srv1")
	if ent == nil {
		t.Fatal("authoritative entity not stored")
	}
	if !ent.Synced {
		t.Error("authoritative entity should be marked synced")
	}
}

func TestApplyAuthoritativeKeepsNewerLocal(t *testing.T) {
	database := setupDB(t)

	id, err := database.CaptureRecord(json.RawMessage(`{"local":"edit"}`))
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	// remote copy is distinctly older than the local pending edit
	applied, err := database.ApplyAuthoritative([]models.AuthoritativeEntity{
		{ID: id, Kind: "record", Payload: json.RawMessage(`{"remote":"stale"}`), UpdatedAt: time.Now().Add(-time.Hour)},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied != 0 {
		t.Fatalf("applied: got %d, want 0", applied)
	}

	ent, _ := database.GetEntity(id)
	if string(ent.Payload) != `{"local":"edit"}` {
		t.Errorf("local pending edit was overwritten: %s", ent.Payload)
	}
	if ent.Synced {
		t.Error("unsynced local edit should stay unsynced")
	}
}

func TestApplyAuthoritativeTieGoesToLocal(t *testing.T) {
	database := setupDB(t)

	id, err := database.CaptureRecord(json.RawMessage(`{"local":"edit"}`))
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	ent, err := database.GetEntity(id)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}

	// same second-granularity timestamp on both sides
	applied, err := database.ApplyAuthoritative([]models.AuthoritativeEntity{
		{ID: id, Kind: "record", Payload: json.RawMessage(`{"remote":"copy"}`), UpdatedAt: ent.UpdatedAt},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied != 0 {
		t.Fatalf("applied: got %d, want 0", applied)
	}

	ent, _ = database.GetEntity(id)
	if string(ent.Payload) != `{"local":"edit"}` {
		t.Errorf("timestamp tie should keep the pending local edit, got %s", ent.Payload)
	}
	if ent.Synced {
		t.Error("unsynced local edit must stay unsynced on a tie")
	}
}

func TestApplyAuthoritativeOverwritesSyncedLocal(t *testing.T) {
	database := setupDB(t)

	id, _ := database.CaptureRecord(json.RawMessage(`{"v":"old"}`))
	if err := database.MarkSynced(id, models.RemoteMeta{}); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	applied, err := database.ApplyAuthoritative([]models.AuthoritativeEntity{
		{ID: id, Kind: "record", Payload: json.RawMessage(`{"v":"new"}`), UpdatedAt: time.Now().Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied: got %d, want 1", applied)
	}

	ent, _ := database.GetEntity(id)
	if string(ent.Payload) != `{"v":"new"}` {
		t.Errorf("payload: got %s, want {\"v\":\"new\"}", ent.Payload)
	}
}

func TestCountPending(t *testing.T) {
	database := setupDB(t)

	database.CaptureRecord(json.RawMessage(`{}`))
	database.CaptureRecord(json.RawMessage(`{}`))
	database.CaptureAttendance(json.RawMessage(`{}`))

	counts, err := database.CountPending()
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if counts[models.KindRecord] != 2 {
		t.Errorf("records: got %d, want 2", counts[models.KindRecord])
	}
	if counts[models.KindAttendance] != 1 {
		t.Errorf("attendance: got %d, want 1", counts[models.KindAttendance])
	}
}

func TestSyncState(t *testing.T) {
	database := setupDB(t)

	state, err := database.GetSyncState()
	if err != nil {
		t.Fatalf("get sync state: %v", err)
	}
	if state.LastPulledAt != nil || state.LastSyncAt != nil {
		t.Fatal("fresh database should have nil cursors")
	}

	pulled := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := database.UpdateLastPulled(pulled); err != nil {
		t.Fatalf("update last pulled: %v", err)
	}
	if err := database.UpdateLastSync(pulled.Add(time.Minute)); err != nil {
		t.Fatalf("update last sync: %v", err)
	}

	state, err = database.GetSyncState()
	if err != nil {
		t.Fatalf("get sync state: %v", err)
	}
	if state.LastPulledAt == nil || !state.LastPulledAt.Equal(pulled) {
		t.Errorf("last pulled: got %v, want %v", state.LastPulledAt, pulled)
	}
	if state.LastSyncAt == nil {
		t.Error("last sync should be set")
	}
}

func TestHistoryTail(t *testing.T) {
	database := setupDB(t)

	entries := []HistoryEntry{
		{Direction: "push", Kind: models.KindRecord, EntityID: "e1", Outcome: "acked"},
		{Direction: "push", Kind: models.KindRecord, EntityID: "e2", Outcome: "dead", Detail: "bad payload"},
		{Direction: "pull", Kind: models.KindRecord, EntityID: "e3", Outcome: "applied"},
	}
	if err := database.RecordHistory(entries); err != nil {
		t.Fatalf("record history: %v", err)
	}

	tail, err := database.HistoryTail(2)
	if err != nil {
		t.Fatalf("history tail: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("tail length: got %d, want 2", len(tail))
	}
	// chronological order, newest last
	if tail[0].EntityID != "e2" || tail[1].EntityID != "e3" {
		t.Errorf("tail order: got %s,%s want e2,e3", tail[0].EntityID, tail[1].EntityID)
	}
	if tail[0].Detail != "bad payload" {
		t.Errorf("detail: got %q", tail[0].Detail)
	}
}

func TestRecordHistoryEmpty(t *testing.T) {
	database := setupDB(t)
	if err := database.RecordHistory(nil); err != nil {
		t.Fatalf("empty history batch should be a no-op: %v", err)
	}
}
