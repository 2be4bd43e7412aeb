// Package connectivity reports network reachability. The monitor is
// consumed, never awaited: callers read the current state or subscribe to
// online transitions, and nothing here blocks the sync engine.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Monitor reports reachability of the remote server.
type Monitor interface {
	// Online returns the current reachability.
	Online() bool
	// Subscribe returns a channel receiving true when connectivity is
	// regained. Notifications are dropped, not queued, for slow receivers.
	Subscribe() <-chan bool
	// Close stops the monitor and closes subscriber channels.
	Close()
}

// HealthChecker is the probe used to decide reachability. Satisfied by the
// remote client's HealthCheck.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Prober polls a health endpoint on an interval and publishes transitions.
type Prober struct {
	checker  HealthChecker
	interval time.Duration
	timeout  time.Duration

	online atomic.Bool

	mu     sync.Mutex
	subs   []chan bool
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber starts a prober that checks reachability every interval.
func NewProber(checker HealthChecker, interval time.Duration) *Prober {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Prober{
		checker:  checker,
		interval: interval,
		timeout:  10 * time.Second,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	p.probe(ctx)
	go p.loop(ctx)
	return p
}

// Online implements Monitor.
func (p *Prober) Online() bool {
	return p.online.Load()
}

// Subscribe implements Monitor.
func (p *Prober) Subscribe() <-chan bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan bool, 1)
	if p.closed {
		close(ch)
		return ch
	}
	p.subs = append(p.subs, ch)
	return ch
}

// Close implements Monitor.
func (p *Prober) Close() {
	p.cancel()
	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, ch := range p.subs {
		close(ch)
	}
	p.subs = nil
}

func (p *Prober) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	nowOnline := p.checker.HealthCheck(probeCtx) == nil
	wasOnline := p.online.Swap(nowOnline)

	if nowOnline && !wasOnline {
		slog.Info("connectivity regained")
		p.notify()
	} else if !nowOnline && wasOnline {
		slog.Info("connectivity lost")
	}
}

// notify fans out an online transition without blocking: a subscriber that
// has not drained its previous notification keeps the stale one.
func (p *Prober) notify() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- true:
		default:
		}
	}
}

// Static is a fixed-state monitor for tests and forced-offline mode.
type Static struct {
	mu     sync.Mutex
	online bool
	subs   []chan bool
}

// NewStatic creates a monitor pinned to the given state.
func NewStatic(online bool) *Static {
	return &Static{online: online}
}

// SetOnline flips the state, notifying subscribers on an offline-to-online
// transition.
func (s *Static) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	regained := online && !s.online
	s.online = online
	if regained {
		for _, ch := range s.subs {
			select {
			case ch <- true:
			default:
			}
		}
	}
}

// Online implements Monitor.
func (s *Static) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Subscribe implements Monitor.
func (s *Static) Subscribe() <-chan bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan bool, 1)
	s.subs = append(s.subs, ch)
	return ch
}

// Close implements Monitor.
func (s *Static) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}
