package status

import (
	"testing"
	"time"
)

func TestStartsIdle(t *testing.T) {
	p := NewPublisher()
	snap := p.Get()
	if snap.State != StateIdle {
		t.Fatalf("initial state: got %q, want idle", snap.State)
	}
	if snap.LastSyncTime != nil {
		t.Fatal("initial snapshot should have no last sync time")
	}
}

func TestSetAndGet(t *testing.T) {
	p := NewPublisher()
	now := time.Now()

	p.Set(Snapshot{State: StateCompleted, LastSyncTime: &now})

	snap := p.Get()
	if snap.State != StateCompleted {
		t.Fatalf("state: got %q, want completed", snap.State)
	}
	if snap.LastSyncTime == nil || !snap.LastSyncTime.Equal(now) {
		t.Fatalf("last sync time: got %v, want %v", snap.LastSyncTime, now)
	}
}

func TestSubscribeReceives(t *testing.T) {
	p := NewPublisher()
	ch, cancel := p.Subscribe()
	defer cancel()

	p.Set(Snapshot{State: StateSyncing})

	select {
	case snap := <-ch:
		if snap.State != StateSyncing {
			t.Fatalf("state: got %q, want syncing", snap.State)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot received")
	}
}

func TestSlowSubscriberSeesLatest(t *testing.T) {
	p := NewPublisher()
	ch, cancel := p.Subscribe()
	defer cancel()

	// the subscriber never drains between publishes
	p.Set(Snapshot{State: StateSyncing})
	p.Set(Snapshot{State: StateError, LastError: "boom"})
	p.Set(Snapshot{State: StateCompleted})

	select {
	case snap := <-ch:
		if snap.State != StateCompleted {
			t.Fatalf("slow subscriber got %q, want latest (completed)", snap.State)
		}
	default:
		t.Fatal("no snapshot buffered")
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	p := NewPublisher()
	ch, cancel := p.Subscribe()

	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("cancelled subscription should be closed")
	}

	// publishing after cancel must not panic
	p.Set(Snapshot{State: StateSyncing})
}
