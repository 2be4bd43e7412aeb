// Package engine drives the sync cycle: download authoritative state, push
// pending records, upload attachments, drain the retry queue. One cycle is
// one logical task; atomicity is per work item, never per cycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ocampo/fieldsync/internal/connectivity"
	"github.com/ocampo/fieldsync/internal/db"
	"github.com/ocampo/fieldsync/internal/models"
	"github.com/ocampo/fieldsync/internal/queue"
	"github.com/ocampo/fieldsync/internal/remote"
	"github.com/ocampo/fieldsync/internal/status"
)

// RemoteClient is the wire surface the engine depends on. Satisfied by
// *remote.Client; tests substitute fakes.
type RemoteClient interface {
	FetchAuthoritative(ctx context.Context, since *time.Time) (*remote.AuthoritativeBatch, error)
	PushRecords(ctx context.Context, records []remote.RecordPush) ([]remote.PushResult, error)
	UploadAttachment(ctx context.Context, meta remote.UploadMeta, r io.Reader) (string, error)
	RefreshCredentials(ctx context.Context) error
}

// Sentinel results for Sync: both mean "no cycle ran", neither is a fault.
var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrOffline        = errors.New("offline")
)

// Options tune the engine. Zero values get defaults from DefaultOptions.
type Options struct {
	// MaxAttempts is the single governing retry threshold: a work item
	// that fails this many times transiently becomes dead.
	MaxAttempts int
	// UploadConcurrency bounds parallel attachment uploads so a large
	// evidence backlog cannot exhaust network or file handles.
	UploadConcurrency int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{MaxAttempts: 5, UploadConcurrency: 3}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.UploadConcurrency <= 0 {
		o.UploadConcurrency = def.UploadConcurrency
	}
	return o
}

// Engine composes the store, queue, remote client, connectivity monitor,
// and status publisher. It is constructed once and passed by reference; it
// holds no global state.
type Engine struct {
	db      *db.DB
	queue   *queue.Queue
	remote  RemoteClient
	monitor connectivity.Monitor
	stat    *status.Publisher
	opts    Options

	mu      sync.Mutex
	syncing bool
}

// New wires an engine from its collaborators.
func New(database *db.DB, q *queue.Queue, rc RemoteClient, mon connectivity.Monitor, pub *status.Publisher, opts Options) *Engine {
	return &Engine{
		db:      database,
		queue:   q,
		remote:  rc,
		monitor: mon,
		stat:    pub,
		opts:    opts.withDefaults(),
	}
}

// Status returns the engine's status publisher for observers.
func (e *Engine) Status() *status.Publisher {
	return e.stat
}

// cycleState carries per-cycle bookkeeping: the once-per-cycle credential
// refresh and the set of items already attempted in this cycle.
type cycleState struct {
	mu        sync.Mutex
	refreshed bool
	processed map[string]bool
	history   []db.HistoryEntry
}

func (cs *cycleState) markProcessed(itemID string) {
	cs.mu.Lock()
	cs.processed[itemID] = true
	cs.mu.Unlock()
}

func (cs *cycleState) record(entry db.HistoryEntry) {
	cs.mu.Lock()
	cs.history = append(cs.history, entry)
	cs.mu.Unlock()
}

// Sync runs one full cycle. A request while a cycle is active is a no-op
// and returns ErrSyncInProgress; a request while offline returns
// ErrOffline. All triggers (timer, connectivity regained, manual) funnel
// through this gate, so at most one cycle is ever active.
func (e *Engine) Sync(ctx context.Context) error {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return ErrSyncInProgress
	}
	e.syncing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	if !e.monitor.Online() {
		return ErrOffline
	}

	snap := e.stat.Get()
	e.stat.Set(status.Snapshot{State: status.StateSyncing, LastSyncTime: snap.LastSyncTime})

	cs := &cycleState{processed: make(map[string]bool)}
	err := e.runCycle(ctx, cs)

	if herr := e.db.RecordHistory(cs.history); herr != nil {
		slog.Debug("record sync history", "err", herr)
	}

	if err != nil {
		slog.Warn("sync cycle failed", "err", err)
		e.stat.Set(status.Snapshot{
			State:        status.StateError,
			LastError:    err.Error(),
			LastSyncTime: snap.LastSyncTime,
		})
		return err
	}

	now := time.Now()
	if serr := e.db.UpdateLastSync(now); serr != nil {
		slog.Debug("update last sync", "err", serr)
	}
	e.stat.Set(status.Snapshot{State: status.StateCompleted, LastSyncTime: &now})
	slog.Info("sync cycle completed")
	return nil
}

// runCycle executes the four steps in strict order. A returned error is
// cycle-fatal (connectivity loss mid-step, unresolved auth failure, storage
// failure); per-item failures are settled inside each step and never
// propagate here.
func (e *Engine) runCycle(ctx context.Context, cs *cycleState) error {
	if err := e.download(ctx, cs); err != nil {
		return err
	}
	if err := e.uploadRecords(ctx, cs); err != nil {
		return err
	}
	if err := e.uploadAttachments(ctx, cs); err != nil {
		return err
	}
	return e.drain(ctx, cs)
}

// withAuth runs a remote call, refreshing credentials at most once per
// cycle on an auth failure and retrying the single failed call. A second
// auth failure is returned to abort the cycle.
func (e *Engine) withAuth(ctx context.Context, cs *cycleState, fn func() error) error {
	err := fn()
	if err == nil || !remote.IsAuth(err) {
		return err
	}

	cs.mu.Lock()
	alreadyRefreshed := cs.refreshed
	if !alreadyRefreshed {
		cs.refreshed = true
	}
	cs.mu.Unlock()

	if !alreadyRefreshed {
		slog.Info("auth failure, refreshing credentials")
		if rerr := e.remote.RefreshCredentials(ctx); rerr != nil {
			return fmt.Errorf("refresh credentials: %w", rerr)
		}
	}
	return fn()
}

// download pulls authoritative updates and merges them last-writer-wins.
func (e *Engine) download(ctx context.Context, cs *cycleState) error {
	state, err := e.db.GetSyncState()
	if err != nil {
		return fmt.Errorf("read sync state: %w", err)
	}

	var batch *remote.AuthoritativeBatch
	err = e.withAuth(ctx, cs, func() error {
		var ferr error
		batch, ferr = e.remote.FetchAuthoritative(ctx, state.LastPulledAt)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("download authoritative state: %w", err)
	}

	entities := make([]models.AuthoritativeEntity, 0, len(batch.Entities))
	for _, ae := range batch.Entities {
		entities = append(entities, models.AuthoritativeEntity{
			ID:        ae.ID,
			Kind:      ae.Kind,
			Payload:   ae.Payload,
			UpdatedAt: ae.UpdatedAt,
		})
	}

	applied, err := e.db.ApplyAuthoritative(entities)
	if err != nil {
		return fmt.Errorf("apply authoritative state: %w", err)
	}
	if applied > 0 {
		slog.Info("applied authoritative updates", "count", applied)
	}

	cursor := batch.ServerTime
	if cursor.IsZero() {
		cursor = time.Now()
	}
	if err := e.db.UpdateLastPulled(cursor); err != nil {
		return fmt.Errorf("advance pull cursor: %w", err)
	}
	return nil
}

// uploadRecords batches pending records and attendance marks. The wire
// response settles each item individually: accepted ones are acked,
// rejected ones go dead (permanent) or accrue an attempt (transient). One
// bad record never fails the batch.
func (e *Engine) uploadRecords(ctx context.Context, cs *cycleState) error {
	type outbound struct {
		entity models.Entity
		item   models.WorkItem
	}
	var pending []outbound

	for _, kind := range []models.Kind{models.KindRecord, models.KindAttendance} {
		entities, err := e.db.PendingEntities(kind)
		if err != nil {
			return fmt.Errorf("pending %s entities: %w", kind, err)
		}
		for _, ent := range entities {
			item, err := e.queue.ItemForEntity(ent.ID)
			if err != nil {
				return fmt.Errorf("work item for %s: %w", ent.ID, err)
			}
			if item == nil || item.Attempts >= e.opts.MaxAttempts {
				continue
			}
			pending = append(pending, outbound{entity: ent, item: *item})
		}
	}
	if len(pending) == 0 {
		return nil
	}

	batch := make([]remote.RecordPush, 0, len(pending))
	for _, o := range pending {
		batch = append(batch, remote.RecordPush{
			EntityID:  o.entity.ID,
			Kind:      string(o.entity.Kind),
			Payload:   o.entity.Payload,
			UpdatedAt: o.entity.UpdatedAt,
		})
	}

	var results []remote.PushResult
	err := e.withAuth(ctx, cs, func() error {
		var perr error
		results, perr = e.remote.PushRecords(ctx, batch)
		return perr
	})
	if err != nil {
		// Transport failure: nothing was settled, every item stays
		// pending for the next trigger.
		return fmt.Errorf("push records: %w", err)
	}

	byEntity := make(map[string]remote.PushResult, len(results))
	for _, r := range results {
		byEntity[r.EntityID] = r
	}

	for _, o := range pending {
		cs.markProcessed(o.item.ID)
		r, ok := byEntity[o.entity.ID]
		if !ok {
			// No verdict for this record: leave the item untouched so
			// the idempotent resend settles it next cycle.
			continue
		}
		if err := e.settlePush(o.entity, o.item, r, cs); err != nil {
			return err
		}
	}
	return nil
}

// settlePush applies one per-record push verdict to the store and queue.
func (e *Engine) settlePush(ent models.Entity, item models.WorkItem, r remote.PushResult, cs *cycleState) error {
	if r.OK() {
		if err := e.db.MarkSynced(ent.ID, models.RemoteMeta{ServerVersion: r.Version}); err != nil {
			return fmt.Errorf("mark synced %s: %w", ent.ID, err)
		}
		if err := e.queue.Ack(item.ID); err != nil {
			return fmt.Errorf("ack %s: %w", item.ID, err)
		}
		cs.record(db.HistoryEntry{Direction: "push", Kind: ent.Kind, EntityID: ent.ID, Outcome: "acked"})
		return nil
	}

	cause := errors.New(r.Message)
	if err := e.queue.Nack(item.ID, cause, r.Permanent, e.opts.MaxAttempts); err != nil {
		return fmt.Errorf("nack %s: %w", item.ID, err)
	}
	if r.Permanent {
		slog.Warn("record rejected permanently", "entity", ent.ID, "msg", r.Message)
		cs.record(db.HistoryEntry{Direction: "push", Kind: ent.Kind, EntityID: ent.ID, Outcome: "dead", Detail: r.Message})
	}
	return nil
}
