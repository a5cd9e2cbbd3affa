package resourcesync

import (
	"context"
	"sync"

	"github.com/venturetrail/resourcesync/pkg/content"
	"github.com/venturetrail/resourcesync/pkg/gate"
	"github.com/venturetrail/resourcesync/pkg/model"
	"github.com/venturetrail/resourcesync/pkg/queue"
	"github.com/venturetrail/resourcesync/pkg/reconcile"
)

// Resource is one editable record's view of the pipeline: it owns the
// record's change gate and forwards debounced snapshots into the
// client's shared queue. Obtain instances from Client.Resource.
type Resource struct {
	client *Client
	scope  model.Scope
	kind   model.Kind
	gate   *gate.Gate

	mu       sync.Mutex
	recordID string
	lastSig  string
}

// Hydrate loads the record's initial content and arms the gate. The
// mirrored copy, when present, is installed immediately and the
// authoritative remote record is merged in the background; otherwise
// the remote is consulted within the load timeout, falling back to the
// defaults. Hydrate never fails: the worst case is starting from
// defaults.
func (r *Resource) Hydrate(ctx context.Context, defaults map[string]any) reconcile.Source {
	r.gate.BeginHydration()
	eng := r.client.engine
	df := content.FromMap(defaults)

	if entry, ok := eng.Mirror().Read(r.scope, r.kind); ok {
		r.gate.CompleteHydration(content.Merge(df, entry.Data))
		// The remote copy stays authoritative: fetch it off the UI
		// path and merge it under any fields edited meanwhile.
		go r.adoptRemote(df)
		return reconcile.SourceMirror
	}

	loadCtx, cancel := context.WithTimeout(ctx, r.client.loadTimeout)
	defer cancel()
	if rec, ok := eng.FindRemote(loadCtx, r.scope, r.kind); ok {
		merged := content.Merge(df, rec.Content)
		r.noteRecord(rec.ID, content.Signature(merged))
		r.gate.CompleteHydration(merged)
		return reconcile.SourceRemote
	}

	r.gate.CompleteHydration(content.Merge(df, nil))
	return reconcile.SourceDefaults
}

// HandleFieldChange feeds one field edit from the form layer into the
// record's change gate.
func (r *Resource) HandleFieldChange(field string, value any) {
	r.gate.OnFieldChange(field, value)
}

// HandleBulkReplace swaps the record's entire content, e.g. after an
// import or a template apply.
func (r *Resource) HandleBulkReplace(data map[string]any) {
	r.gate.OnBulkReplace(content.FromMap(data))
}

// ManualSave persists the current content ahead of background work,
// bypassing the debounce and the minimum-size guard. The write goes
// through the client's queue like every other save, so it cannot
// interleave with an in-flight automatic write for the same record;
// high priority puts it at the head of the line. It returns
// ErrAuthRequired when signed out; the content is then mirrored and
// stays queued so the next sign-in completes the save.
func (r *Resource) ManualSave(ctx context.Context) error {
	snapshot := r.gate.ManualSnapshot()
	d := r.client.engine.Decide(snapshot, r.lastSignature(), true)
	if d.Action == reconcile.ActionSkip {
		return nil
	}

	done := make(chan error, 1)
	r.enqueue(snapshot, d, func(err error) {
		select {
		case done <- err:
		default:
		}
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the record's current content as a plain
// map.
func (r *Resource) Snapshot() map[string]any {
	return r.gate.Snapshot().ToMap()
}

// Content returns a deep copy of the record's current content with the
// form's field order preserved.
func (r *Resource) Content() *content.Map {
	return r.gate.Snapshot()
}

// RecordID returns the remote record's identifier, empty until the
// first successful persist or remote hydration resolves it.
func (r *Resource) RecordID() string {
	return r.knownRecordID()
}

// Status maps the record's lifecycle state onto the coarse form-layer
// status. An edit that was examined and deliberately left unpersisted
// (below the minimum content size) reports success: nothing is
// scheduled or in flight for it.
func (r *Resource) Status() model.SaveStatus {
	switch r.gate.State() {
	case gate.StateUninitialized, gate.StateHydrating:
		return model.StatusLoading
	case gate.StatePendingSave:
		return model.StatusPending
	case gate.StateSaving:
		return model.StatusSaving
	case gate.StateErrorBackoff, gate.StateAbandoned:
		return model.StatusError
	default:
		return model.StatusSuccess
	}
}

// Close cancels any pending debounce for this record. Queued items
// already handed to the client's queue still drain.
func (r *Resource) Close() {
	r.gate.Close()
}

// submit is the gate's SaveFunc: decide, then enqueue.
func (r *Resource) submit(snapshot *content.Map, manual bool) {
	d := r.client.engine.Decide(snapshot, r.lastSignature(), manual)
	if d.Action == reconcile.ActionSkip {
		r.client.log.Debug("resource: change skipped",
			"scope", r.scope.String(), "reason", d.Reason)
		if d.Signature == r.lastSignature() {
			// Genuinely unchanged: the gate settles as saved.
			r.gate.MarkSaved(d.Signature)
		} else {
			// Skipped for another reason (below minimum size): the
			// edit stays dirty but nothing is pending.
			r.gate.MarkUnsaved()
		}
		return
	}
	r.enqueue(snapshot, d, nil)
}

// enqueue hands the snapshot to the client's queue. settle, when
// non-nil, receives the item's outcome: nil on persist, the abandon
// error, or ErrAuthRequired when the save parked awaiting sign-in.
func (r *Resource) enqueue(snapshot *content.Map, d reconcile.Decision, settle func(error)) {
	r.client.queue.Enqueue(&queue.Item{
		Scope:    r.scope,
		Kind:     r.kind,
		Content:  snapshot,
		RecordID: r.knownRecordID(),
		Priority: d.Priority,
		OnAttempt: func() {
			r.gate.MarkSaving()
		},
		OnSuccess: func(rec model.Record) {
			r.noteRecord(rec.ID, d.Signature)
			r.gate.MarkSaved(d.Signature)
			if settle != nil {
				settle(nil)
			}
		},
		OnError: func(err error) {
			r.client.log.Warn("resource: save abandoned",
				"scope", r.scope.String(), "error", err)
			r.gate.MarkSaveFailed(true)
			if settle != nil {
				settle(err)
			}
		},
		OnAuthDeferred: func() {
			// The item stays queued; the mirror already holds the
			// content and the sign-in resync drains it.
			r.gate.MarkSaveFailed(false)
			if settle != nil {
				settle(reconcile.ErrAuthRequired)
			}
		},
	})
}

func (r *Resource) adoptRemote(defaults *content.Map) {
	ctx, cancel := context.WithTimeout(context.Background(), r.client.loadTimeout)
	defer cancel()
	rec, ok := r.client.engine.FindRemote(ctx, r.scope, r.kind)
	if !ok {
		return
	}
	r.mu.Lock()
	if r.recordID == "" {
		r.recordID = rec.ID
	}
	r.mu.Unlock()
	r.gate.ApplyAuthoritative(content.Merge(defaults, rec.Content))
}

func (r *Resource) noteRecord(id, sig string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != "" {
		r.recordID = id
	}
	r.lastSig = sig
}

func (r *Resource) knownRecordID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordID
}

func (r *Resource) lastSignature() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSig
}
