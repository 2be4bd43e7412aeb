package monitor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ocampo/fieldsync/internal/db"
	"github.com/ocampo/fieldsync/internal/models"
	"github.com/ocampo/fieldsync/internal/queue"
	"github.com/ocampo/fieldsync/internal/status"
)

func setupMonitorDB(t *testing.T) (*db.DB, *queue.Queue) {
	t.Helper()
	database, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("initialize db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database, queue.New(database.Conn())
}

func TestFetchDataNeverSynced(t *testing.T) {
	database, q := setupMonitorDB(t)

	msg := FetchData(database, q, status.NewPublisher())
	if msg.Err != nil {
		t.Fatalf("fetch: %v", msg.Err)
	}
	if msg.Snapshot.State != status.StateIdle {
		t.Errorf("state: got %q, want idle", msg.Snapshot.State)
	}
	if msg.Snapshot.LastSyncTime != nil {
		t.Error("never-synced store should show no last sync time")
	}
}

func TestFetchDataShowsStoredSyncState(t *testing.T) {
	database, q := setupMonitorDB(t)

	// a cycle completed in another process; only the store knows
	synced := time.Date(2026, 8, 28, 17, 30, 0, 0, time.UTC)
	if err := database.UpdateLastSync(synced); err != nil {
		t.Fatalf("update last sync: %v", err)
	}

	msg := FetchData(database, q, status.NewPublisher())
	if msg.Err != nil {
		t.Fatalf("fetch: %v", msg.Err)
	}
	if msg.Snapshot.State != status.StateCompleted {
		t.Errorf("state: got %q, want completed", msg.Snapshot.State)
	}
	if msg.Snapshot.LastSyncTime == nil || !msg.Snapshot.LastSyncTime.Equal(synced) {
		t.Errorf("last sync time: got %v, want %v", msg.Snapshot.LastSyncTime, synced)
	}
}

func TestFetchDataLiveEngineStateWins(t *testing.T) {
	database, q := setupMonitorDB(t)

	if err := database.UpdateLastSync(time.Now()); err != nil {
		t.Fatalf("update last sync: %v", err)
	}

	pub := status.NewPublisher()
	pub.Set(status.Snapshot{State: status.StateSyncing})

	msg := FetchData(database, q, pub)
	if msg.Err != nil {
		t.Fatalf("fetch: %v", msg.Err)
	}
	if msg.Snapshot.State != status.StateSyncing {
		t.Errorf("state: got %q, want syncing (publisher state takes precedence)", msg.Snapshot.State)
	}
	if msg.Snapshot.LastSyncTime == nil {
		t.Error("stored last sync time should still fill the header")
	}
}

func TestFetchDataQueueCounts(t *testing.T) {
	database, q := setupMonitorDB(t)

	id, err := database.CaptureRecord(json.RawMessage(`{"activity":"a1"}`))
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	msg := FetchData(database, q, status.NewPublisher())
	if msg.Err != nil {
		t.Fatalf("fetch: %v", msg.Err)
	}
	if msg.Pending[models.KindRecord] != 1 {
		t.Errorf("pending records: got %d, want 1", msg.Pending[models.KindRecord])
	}
	if len(msg.Ready) != 1 || msg.Ready[0].EntityID != id {
		t.Errorf("ready items: got %+v", msg.Ready)
	}
	if len(msg.Dead) != 0 {
		t.Errorf("dead items: got %d, want 0", len(msg.Dead))
	}
}
