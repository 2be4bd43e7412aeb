// Package status holds the observable sync state. It is a pure state
// holder: the engine publishes transitions, any number of observers
// subscribe, and no observer can block or alter the engine's progress.
package status

import (
	"sync"
	"time"
)

// State is the engine's externally visible state.
type State string

const (
	StateIdle      State = "idle"
	StateSyncing   State = "syncing"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// Snapshot is one published status value.
type Snapshot struct {
	State        State
	LastError    string
	LastSyncTime *time.Time
}

// Publisher broadcasts status snapshots to subscribers.
type Publisher struct {
	mu      sync.Mutex
	current Snapshot
	subs    map[int]chan Snapshot
	nextID  int
}

// NewPublisher starts in the idle state.
func NewPublisher() *Publisher {
	return &Publisher{
		current: Snapshot{State: StateIdle},
		subs:    make(map[int]chan Snapshot),
	}
}

// Get returns the current snapshot.
func (p *Publisher) Get() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Set publishes a new snapshot. Sends never block: a subscriber that has
// not drained the previous value loses it and sees only the latest.
func (p *Publisher) Set(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = s
	for _, ch := range p.subs {
		select {
		case ch <- s:
		default:
			// drop the stale value, replace with the latest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Subscribe registers an observer. The returned cancel function removes it.
func (p *Publisher) Subscribe() (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan Snapshot, 1)
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}
