package engine

import (
	"context"
	"time"
)

// OptimisticContext provides first-read snapshot isolation,
// read-your-own-writes, and atomicity checked against the full read set.
type OptimisticContext struct {
	baseContext
}

// newOptimisticContext builds an OPTIMISTIC context under rt, nested under
// parent if non-nil.
func newOptimisticContext(rt *Runtime, parent TxContext, snapshotOverride *Address) *OptimisticContext {
	oc := &OptimisticContext{baseContext: newBaseContext(rt, OptimisticFlavor, parent, snapshotOverride)}
	oc.self = oc
	return oc
}

// Access implements 4.4.1: record the read, attempt the fast path, and on a
// miss sync the object to snapshot before running fn.
func (c *OptimisticContext) Access(ctx context.Context, p *Proxy, params []ConflictParam, fn func(obj MaterializedObject)) error {
	c.cs.AddRead(p, params...)
	return c.accessSynced(ctx, p, fn)
}

// accessSynced is the shared fast-path/sync machinery used by both
// OPTIMISTIC and WRITE-AFTER-WRITE Access (they differ only in whether the
// read is recorded in the conflict set, which the caller has already done
// by the time this runs).
func (c *OptimisticContext) accessSynced(ctx context.Context, p *Proxy, fn func(obj MaterializedObject)) error {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}
	vlo := p.VLO()
	reg := c.rt.Registry
	threadID := c.threadID

	guard := func(v *VersionLockedObject) bool {
		if v.Version() != snap {
			return false
		}
		if v.HasOverlay() {
			return v.OverlayOwner() == threadID && v.Overlay().IsStreamCurrentContextThreadCurrentContext(reg)
		}
		return true
	}
	syncFn := func(v *VersionLockedObject) error {
		chain := c.writeSetChain()
		var view *WriteSetStreamView
		if len(chain) > 0 {
			view = NewWriteSetStreamView(p.Stream(), chain)
		}
		start := time.Now()
		err := v.SyncTo(ctx, snap, view, threadID)
		if c.rt.Metrics != nil {
			c.rt.Metrics.SyncsTotal.Inc()
			c.rt.Metrics.SyncDuration.Observe(time.Since(start).Seconds())
		}
		return err
	}
	var fnErr error
	readFn := func(v *VersionLockedObject) {
		defer func() {
			if r := recover(); r != nil {
				fnErr = panicToError(r)
			}
		}()
		fn(v.Object())
	}
	if err := vlo.Access(guard, syncFn, readFn); err != nil {
		return err
	}
	return fnErr
}

// LogUpdate implements 4.4.2: append the entry to the write set and record
// the proxy as modified.
func (c *OptimisticContext) LogUpdate(p *Proxy, entry SMREntry, params []ConflictParam) (int, error) {
	idx := c.ws.AddUpdate(p, entry, params...)
	c.recordModified(p)
	return idx, nil
}

// GetUpcallResult implements 4.4.3: record the read, return a cached
// result if present, otherwise sync the object (which executes pending
// overlay entries and fills in their results) and re-read.
func (c *OptimisticContext) GetUpcallResult(ctx context.Context, p *Proxy, index int) ([]byte, error) {
	c.cs.AddRead(p, ConflictAll)

	if e, ok := c.ws.Entries().EntryAt(p.Stream(), index); ok && e.HasResult {
		return e.Result, nil
	}

	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	threadID := c.threadID
	syncErr := p.VLO().Update(func(v *VersionLockedObject) error {
		chain := c.writeSetChain()
		view := NewWriteSetStreamView(p.Stream(), chain)
		return v.SyncTo(ctx, snap, view, threadID)
	})
	if syncErr != nil {
		return nil, syncErr
	}

	e, ok := c.ws.Entries().EntryAt(p.Stream(), index)
	if !ok || !e.HasResult {
		panic("engine: upcall result unavailable after full sync, invariant violated")
	}
	return e.Result, nil
}

// Commit implements 4.4.5 and 4.4.6 via the shared optimistic-style commit.
func (c *OptimisticContext) Commit(ctx context.Context) (Address, error) {
	return c.commitOptimisticStyle(ctx)
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{v: r}
}

type panicError struct{ v any }

func (e *panicError) Error() string { return "engine: accessor panicked" }
