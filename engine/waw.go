package engine

import "context"

// WriteAfterWriteContext is identical to OptimisticContext except that
// reads do not populate the conflict set — only writes do. The consequence
// is that commit aborts only on write-write conflicts against the snapshot.
type WriteAfterWriteContext struct {
	OptimisticContext
}

func newWriteAfterWriteContext(rt *Runtime, parent TxContext, snapshotOverride *Address) *WriteAfterWriteContext {
	wc := &WriteAfterWriteContext{
		OptimisticContext: OptimisticContext{baseContext: newBaseContext(rt, WriteAfterWriteFlavor, parent, snapshotOverride)},
	}
	wc.self = wc
	return wc
}

// Access overrides OptimisticContext.Access to skip conflict-set population.
func (c *WriteAfterWriteContext) Access(ctx context.Context, p *Proxy, params []ConflictParam, fn func(obj MaterializedObject)) error {
	return c.accessSynced(ctx, p, fn)
}

// LogUpdate records the update and, unlike a read, does populate the
// context's conflict set: the sequencer checks the conflict set against
// committed writes, so recording write parameters here is what turns
// write-write overlap into an abort while leaving reads invisible.
func (c *WriteAfterWriteContext) LogUpdate(p *Proxy, entry SMREntry, params []ConflictParam) (int, error) {
	idx := c.ws.AddUpdate(p, entry, params...)
	c.cs.AddRead(p, params...)
	c.recordModified(p)
	return idx, nil
}

// GetUpcallResult does not record a conflict-set read, unlike OPTIMISTIC's.
func (c *WriteAfterWriteContext) GetUpcallResult(ctx context.Context, p *Proxy, index int) ([]byte, error) {
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

// Commit reuses the shared optimistic-style commit; only the hashed read
// set differs: it holds just the write parameters LogUpdate recorded,
// because Access never populates it.
func (c *WriteAfterWriteContext) Commit(ctx context.Context) (Address, error) {
	return c.commitOptimisticStyle(ctx)
}
