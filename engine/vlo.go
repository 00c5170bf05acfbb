package engine

import (
	"context"
	"sync"
)

type appliedRecord struct {
	addr  Address
	entry SMREntry
}

// VersionLockedObject owns the materialized replica of one stream: the
// object state, the address of the last applied log entry, and at most one
// thread's optimistic overlay at a time.
type VersionLockedObject struct {
	mu sync.RWMutex

	stream StreamID
	obj    MaterializedObject
	log    Log

	version Address
	applied []appliedRecord

	overlay      *WriteSetStreamView
	overlayOwner uint64
	hasOverlay   bool
}

// NewVersionLockedObject wraps obj, the materialized replica of stream,
// syncing against log.
func NewVersionLockedObject(stream StreamID, obj MaterializedObject, log Log) *VersionLockedObject {
	return &VersionLockedObject{stream: stream, obj: obj, log: log, version: OriginAddress}
}

// Stream returns the owning stream id.
func (v *VersionLockedObject) Stream() StreamID { return v.stream }

// Object returns the materialized object. Callers must hold the read or
// write lock via Access/Update/NoAccess; it is not safe to call standalone.
func (v *VersionLockedObject) Object() MaterializedObject { return v.obj }

// Version returns the address of the last entry reflected in the object.
// Callers must hold the read or write lock.
func (v *VersionLockedObject) Version() Address { return v.version }

// HasOverlay reports whether any thread currently owns an overlay.
func (v *VersionLockedObject) HasOverlay() bool { return v.hasOverlay }

// OverlayOwner returns the goroutine id owning the current overlay; only
// meaningful when HasOverlay is true.
func (v *VersionLockedObject) OverlayOwner() uint64 { return v.overlayOwner }

// Overlay returns the installed overlay view, or nil.
func (v *VersionLockedObject) Overlay() *WriteSetStreamView {
	if !v.hasOverlay {
		return nil
	}
	return v.overlay
}

// Access executes read(v) under the read lock if guard(v) holds (the fast
// path: already at the correct version with the correct overlay).
// Otherwise it upgrades to the write lock, runs sync(v) to bring the object
// to the required version and overlay, then runs read(v).
func (v *VersionLockedObject) Access(guard func(*VersionLockedObject) bool, sync func(*VersionLockedObject) error, read func(*VersionLockedObject)) error {
	v.mu.RLock()
	if guard(v) {
		read(v)
		v.mu.RUnlock()
		return nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if !guard(v) {
		if err := sync(v); err != nil {
			return err
		}
	}
	read(v)
	return nil
}

// Update acquires the write lock and runs fn against v. Used for commit
// installation and for sync-with-side-effects.
func (v *VersionLockedObject) Update(fn func(*VersionLockedObject) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fn(v)
}

// NoAccess invokes read(v) under the read lock without syncing. Used by
// DEFERRED transactions to capture a closure over the current materialized
// state for later execution at commit time.
func (v *VersionLockedObject) NoAccess(read func(*VersionLockedObject)) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	read(v)
}

// SyncTo brings v to target version with overlay installed (or removed, if
// overlay is nil) on behalf of ownerThread. Any existing overlay — another
// thread's, or a stale view from an earlier context on this thread — is
// undone first, so the incoming view always applies against pure log state.
// Callers must hold the write lock.
func (v *VersionLockedObject) SyncTo(ctx context.Context, target Address, overlay *WriteSetStreamView, ownerThread uint64) error {
	if v.hasOverlay {
		if !v.undoOwnOverlay() {
			v.obj.Reset()
			v.applied = nil
			v.version = OriginAddress
		}
		v.hasOverlay = false
		v.overlay = nil
	}

	if v.version != target {
		if target > v.version {
			if err := v.rollForward(ctx, v.version, target); err != nil {
				return err
			}
			v.version = target
		} else if v.rollBackward(target) {
			v.version = target
		} else {
			v.obj.Reset()
			v.applied = nil
			v.version = OriginAddress
			if err := v.rollForward(ctx, OriginAddress, target); err != nil {
				return err
			}
			v.version = target
		}
	}

	if overlay != nil {
		if err := v.applyOverlay(overlay); err != nil {
			return err
		}
		v.overlay = overlay
		v.overlayOwner = ownerThread
		v.hasOverlay = true
	}
	return nil
}

// InstallCommitted folds a just-committed overlay into the object: it
// clears the overlay, syncs forward to commitAddr-1 to pick up any entries
// committed by others between this object's version and the commit, then —
// if the overlay's applied-entry count matches the authoritative
// committedCount (best-effort; a mismatch is tolerated silently) — records
// those entries as already applied at commitAddr so a future rollback can
// undo them without re-reading the log. The version lands on commitAddr
// itself: the entry there is exactly what the overlay held, so a later
// roll-forward must not re-read it. Callers must hold the write lock and
// have already verified this thread still owns the overlay.
func (v *VersionLockedObject) InstallCommitted(ctx context.Context, commitAddr Address, committedCount int) error {
	if !v.hasOverlay {
		return nil
	}
	// Entries written after the last sync are still pending in the view;
	// run them now so the materialized state covers the whole commit.
	if err := v.applyOverlay(v.overlay); err != nil {
		return err
	}
	installed := v.overlay.AppliedSoFar()
	v.hasOverlay = false
	v.overlay = nil

	if err := v.rollForward(ctx, v.version, commitAddr-1); err != nil {
		return err
	}
	if len(installed) == committedCount {
		for _, e := range installed {
			v.applied = append(v.applied, appliedRecord{addr: commitAddr, entry: e})
		}
	}
	v.version = commitAddr
	return nil
}

// RollbackOverlay undoes and removes the current overlay if it is owned by
// owner and backed by ws (pass a nil ws to match any of owner's overlays).
// Called when a transaction aborts or fails to commit, so the next reader
// doesn't have to undo this thread's speculative state on its behalf.
func (v *VersionLockedObject) RollbackOverlay(owner uint64, ws *WriteSet) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.hasOverlay || v.overlayOwner != owner {
		return
	}
	if ws != nil && v.overlay.owner() != ws {
		return
	}
	if !v.undoOwnOverlay() {
		v.obj.Reset()
		v.applied = nil
		v.version = OriginAddress
	}
	v.hasOverlay = false
	v.overlay = nil
}

// undoOwnOverlay rolls back every overlay entry applied so far, in reverse
// order, using recorded undo records. Returns false if any applied entry
// lacks one, in which case the caller must fall back to a full reset.
func (v *VersionLockedObject) undoOwnOverlay() bool {
	if v.overlay == nil {
		return true
	}
	applied := v.overlay.AppliedSoFar()
	for i := len(applied) - 1; i >= 0; i-- {
		e := applied[i]
		if e.Undo == nil {
			return false
		}
		if _, _, err := v.obj.Apply(e.Undo.Method, e.Undo.Args); err != nil {
			return false
		}
	}
	return true
}

// rollForward applies every committed entry on v.stream in (from, to] to the
// object, recording undo records as it goes for future rollback.
func (v *VersionLockedObject) rollForward(ctx context.Context, from, to Address) error {
	if v.log == nil || to <= from {
		return nil
	}
	entries, err := v.log.StreamRange(ctx, v.stream, from+1, to)
	if err != nil {
		return err
	}
	for _, ae := range entries {
		res, undo, err := v.obj.Apply(ae.Entry.Method, ae.Entry.Args)
		if err != nil {
			return err
		}
		entry := ae.Entry
		entry.Result = res
		entry.HasResult = true
		if entry.Undo == nil {
			entry.Undo = undo
		}
		v.applied = append(v.applied, appliedRecord{addr: ae.Address, entry: entry})
	}
	return nil
}

// rollBackward undoes every applied entry with address > to, using their
// undo records. Returns false (leaving v.applied inconsistent, forcing the
// caller to reset) if any lacks one.
func (v *VersionLockedObject) rollBackward(to Address) bool {
	for len(v.applied) > 0 && v.applied[len(v.applied)-1].addr > to {
		rec := v.applied[len(v.applied)-1]
		if rec.entry.Undo == nil {
			return false
		}
		if _, _, err := v.obj.Apply(rec.entry.Undo.Method, rec.entry.Undo.Args); err != nil {
			return false
		}
		v.applied = v.applied[:len(v.applied)-1]
	}
	return true
}

// applyOverlay runs every entry in overlay against the object, caching
// upcall results (and, best-effort, undo records) back into the write set
// that owns each entry so accessor-mutators can read their own returns and
// so commit installation can copy undo records forward. The first recorded
// result wins; re-execution after an undo never overwrites it.
func (v *VersionLockedObject) applyOverlay(overlay *WriteSetStreamView) error {
	for {
		e, ok := overlay.Current()
		if !ok {
			break
		}
		res, undo, err := v.obj.Apply(e.Method, e.Args)
		if err != nil {
			return err
		}
		if !e.HasResult {
			overlay.SetResult(overlay.Pos(), res)
		}
		if e.Undo == nil {
			overlay.SetUndo(overlay.Pos(), undo)
		}
		overlay.Advance()
	}
	return nil
}
