package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ocampo/fieldsync/internal/db"
	"github.com/ocampo/fieldsync/internal/models"
	"github.com/ocampo/fieldsync/internal/remote"
)

// uploadOutcome is the result of one attachment upload attempt, settled on
// the main goroutine so all store and queue writes stay serialized.
type uploadOutcome struct {
	att  models.Attachment
	item models.WorkItem
	url  string
	err  error
}

// uploadAttachments sends unuploaded evidence files with bounded
// concurrency. Each item is settled independently: success marks the
// entity synced and acks; any failure nacks as transient. The local file
// is never deleted here, so retries always have the bytes available.
func (e *Engine) uploadAttachments(ctx context.Context, cs *cycleState) error {
	attachments, err := e.db.PendingAttachments()
	if err != nil {
		return fmt.Errorf("pending attachments: %w", err)
	}

	type job struct {
		att  models.Attachment
		item models.WorkItem
	}
	var jobs []job
	for _, att := range attachments {
		item, err := e.queue.ItemForEntity(att.ID)
		if err != nil {
			return fmt.Errorf("work item for attachment %s: %w", att.ID, err)
		}
		if item == nil || item.Attempts >= e.opts.MaxAttempts {
			continue
		}
		jobs = append(jobs, job{att: att, item: *item})
	}
	if len(jobs) == 0 {
		return nil
	}

	sem := make(chan struct{}, e.opts.UploadConcurrency)
	outcomes := make(chan uploadOutcome, len(jobs))
	launched := 0

	for _, j := range jobs {
		// item-boundary checkpoint: once cancelled, launch nothing more
		if ctx.Err() != nil {
			break
		}
		launched++
		go func(j job) {
			sem <- struct{}{}
			defer func() { <-sem }()
			url, err := e.uploadOne(ctx, cs, j.att)
			outcomes <- uploadOutcome{att: j.att, item: j.item, url: url, err: err}
		}(j)
	}

	var cycleErr error
	for i := 0; i < launched; i++ {
		out := <-outcomes
		if serr := e.settleUpload(ctx, out, cs); serr != nil && cycleErr == nil {
			cycleErr = serr
		}
	}
	if cycleErr != nil {
		return cycleErr
	}
	return ctx.Err()
}

// uploadOne reads the local file and sends it. File I/O problems surface
// as transient failures: the file may reappear (e.g. remounted storage)
// and the bytes are still required for the retry.
func (e *Engine) uploadOne(ctx context.Context, cs *cycleState, att models.Attachment) (string, error) {
	f, err := os.Open(att.LocalPath)
	if err != nil {
		return "", &remote.Error{Kind: remote.KindTransient, Message: fmt.Sprintf("open %s: %v", att.LocalPath, err)}
	}
	defer f.Close()

	meta := remote.UploadMeta{
		RecordID:     att.RecordID,
		AttachmentID: att.ID,
		Filename:     att.LocalPath,
		Metadata:     att.Metadata,
	}

	var url string
	err = e.withAuth(ctx, cs, func() error {
		if _, serr := f.Seek(0, 0); serr != nil {
			return &remote.Error{Kind: remote.KindTransient, Message: serr.Error()}
		}
		var uerr error
		url, uerr = e.remote.UploadAttachment(ctx, meta, f)
		return uerr
	})
	return url, err
}

// settleUpload resolves one upload outcome to an ack or a nack. A
// cancelled upload is left untouched, never half-recorded, so the next
// cycle resends it idempotently.
func (e *Engine) settleUpload(ctx context.Context, out uploadOutcome, cs *cycleState) error {
	cs.markProcessed(out.item.ID)

	if out.err == nil {
		meta := models.RemoteMeta{RemoteURL: out.url}
		if err := e.db.MarkSynced(out.att.ID, meta); err != nil {
			return fmt.Errorf("mark attachment synced %s: %w", out.att.ID, err)
		}
		if err := e.queue.Ack(out.item.ID); err != nil {
			return fmt.Errorf("ack %s: %w", out.item.ID, err)
		}
		cs.record(db.HistoryEntry{Direction: "push", Kind: models.KindAttachment, EntityID: out.att.ID, Outcome: "acked"})
		return nil
	}

	if ctx.Err() != nil && errors.Is(out.err, ctx.Err()) {
		return nil // cancelled mid-item: leave pending
	}
	if remote.IsAuth(out.err) {
		// refresh already happened once this cycle; a second auth
		// failure aborts
		return fmt.Errorf("upload attachment %s: %w", out.att.ID, out.err)
	}

	slog.Debug("attachment upload failed", "attachment", out.att.ID, "err", out.err)
	if err := e.queue.Nack(out.item.ID, out.err, remote.IsPermanent(out.err), e.opts.MaxAttempts); err != nil {
		return fmt.Errorf("nack %s: %w", out.item.ID, err)
	}
	return nil
}

// drain retries ready items not already attempted this cycle: leftovers
// from failed earlier steps in prior cycles and items whose entity state
// is out of step with the queue.
func (e *Engine) drain(ctx context.Context, cs *cycleState) error {
	items, err := e.queue.ReadyItems(e.opts.MaxAttempts)
	if err != nil {
		return fmt.Errorf("ready items: %w", err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if cs.processed[item.ID] {
			continue
		}
		if err := e.drainOne(ctx, cs, item); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) drainOne(ctx context.Context, cs *cycleState, item models.WorkItem) error {
	cs.markProcessed(item.ID)

	ent, err := e.db.GetEntity(item.EntityID)
	if err != nil {
		return fmt.Errorf("load entity %s: %w", item.EntityID, err)
	}
	if ent == nil {
		// Orphan item: its entity is gone, nothing can ever be sent.
		if err := e.queue.Nack(item.ID, errors.New("entity not found"), true, e.opts.MaxAttempts); err != nil {
			return fmt.Errorf("nack orphan %s: %w", item.ID, err)
		}
		return nil
	}
	if ent.Synced {
		// Crash between remote accept and ack: the entity made it,
		// the item did not get removed. Resolve it now.
		if err := e.queue.Ack(item.ID); err != nil {
			return fmt.Errorf("ack settled item %s: %w", item.ID, err)
		}
		return nil
	}

	switch item.Kind {
	case models.KindRecord, models.KindAttendance:
		return e.drainRecord(ctx, cs, *ent, item)
	case models.KindAttachment:
		att, err := e.db.GetAttachment(item.EntityID)
		if err != nil {
			return fmt.Errorf("load attachment %s: %w", item.EntityID, err)
		}
		if att == nil {
			if err := e.queue.Nack(item.ID, errors.New("attachment metadata not found"), true, e.opts.MaxAttempts); err != nil {
				return fmt.Errorf("nack %s: %w", item.ID, err)
			}
			return nil
		}
		url, uerr := e.uploadOne(ctx, cs, *att)
		return e.settleUpload(ctx, uploadOutcome{att: *att, item: item, url: url, err: uerr}, cs)
	default:
		if err := e.queue.Nack(item.ID, fmt.Errorf("unknown kind %q", item.Kind), true, e.opts.MaxAttempts); err != nil {
			return fmt.Errorf("nack %s: %w", item.ID, err)
		}
		return nil
	}
}

// drainRecord resends a single record through the batch endpoint.
func (e *Engine) drainRecord(ctx context.Context, cs *cycleState, ent models.Entity, item models.WorkItem) error {
	var results []remote.PushResult
	err := e.withAuth(ctx, cs, func() error {
		var perr error
		results, perr = e.remote.PushRecords(ctx, []remote.RecordPush{{
			EntityID:  ent.ID,
			Kind:      string(ent.Kind),
			Payload:   ent.Payload,
			UpdatedAt: ent.UpdatedAt,
		}})
		return perr
	})
	if err != nil {
		return fmt.Errorf("push record %s: %w", ent.ID, err)
	}
	for _, r := range results {
		if r.EntityID == ent.ID {
			return e.settlePush(ent, item, r, cs)
		}
	}
	return nil // no verdict: leave pending for the next cycle
}
