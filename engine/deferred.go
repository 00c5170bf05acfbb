package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type deferredClosure struct {
	stream StreamID
	run    func() error
}

// DeferredContext defers reads to commit time: accessors registered with the
// NoConflict sentinel are captured as closures and executed at commit time,
// against a snapshot fixed by the commit-time token rather than the first
// read.
type DeferredContext struct {
	OptimisticContext

	defMu          sync.Mutex
	deferred       []deferredClosure
	futureAffected map[StreamID]struct{}
	futureOrder    []StreamID
}

func newDeferredContext(rt *Runtime, parent TxContext, snapshotOverride *Address) *DeferredContext {
	dc := &DeferredContext{
		OptimisticContext: OptimisticContext{baseContext: newBaseContext(rt, DeferredFlavor, parent, snapshotOverride)},
		futureAffected:    make(map[StreamID]struct{}),
	}
	dc.self = dc
	return dc
}

func isNoConflictOnly(params []ConflictParam) bool {
	if len(params) != 1 {
		return false
	}
	_, ok := params[0].(noConflictMarker)
	return ok
}

// Access overrides OptimisticContext.Access: the NoConflict sentinel
// captures fn as a deferred closure instead of running it now; any other
// parameter set falls through to full OPTIMISTIC behavior.
func (c *DeferredContext) Access(ctx context.Context, p *Proxy, params []ConflictParam, fn func(obj MaterializedObject)) error {
	if !isNoConflictOnly(params) {
		return c.OptimisticContext.Access(ctx, p, params, fn)
	}

	c.defMu.Lock()
	if _, ok := c.futureAffected[p.Stream()]; !ok {
		c.futureAffected[p.Stream()] = struct{}{}
		c.futureOrder = append(c.futureOrder, p.Stream())
	}
	c.deferred = append(c.deferred, deferredClosure{
		stream: p.Stream(),
		run: func() error {
			var fnErr error
			p.VLO().NoAccess(func(v *VersionLockedObject) {
				defer func() {
					if r := recover(); r != nil {
						fnErr = panicToError(r)
					}
				}()
				fn(v.Object())
			})
			return fnErr
		},
	})
	c.defMu.Unlock()
	return nil
}

// Commit handles the nested/empty short-circuits, then acquires a
// commit-time token, runs every deferred closure, and finalizes at that token.
func (c *DeferredContext) Commit(ctx context.Context) (Address, error) {
	if c.IsNested() {
		if pd, ok := c.parent.(*DeferredContext); ok {
			pd.defMu.Lock()
			pd.deferred = append(pd.deferred, c.deferred...)
			for _, s := range c.futureOrder {
				if _, ok := pd.futureAffected[s]; !ok {
					pd.futureAffected[s] = struct{}{}
					pd.futureOrder = append(pd.futureOrder, s)
				}
			}
			pd.defMu.Unlock()
		}
		c.parent.WriteSet().Merge(c.ws)
		c.parent.ConflictSet().Merge(c.cs)
		c.releaseOverlays()
		c.rt.Registry.Pop()
		return FoldedAddress, nil
	}

	c.defMu.Lock()
	deferred := append([]deferredClosure(nil), c.deferred...)
	futureOrder := append([]StreamID(nil), c.futureOrder...)
	c.defMu.Unlock()

	if c.ws.IsEmpty() && len(deferred) == 0 {
		c.releaseOverlays()
		c.rt.Registry.Pop()
		return NoWriteAddress, nil
	}

	affected := mergeStreams(c.ws.Streams(), futureOrder)
	if c.rt.TxLoggingEnabled {
		affected = append(affected, TransactionStreamID)
	}

	tok, err := c.rt.Sequencer.NextToken(ctx, affected, 1)
	if err != nil {
		return OriginAddress, c.failCommit(&TransactionAbortedError{TxID: c.id, Cause: CauseSequencerFail, Err: err})
	}
	c.overrideSnapshot(tok.Token - 1)

	for _, dc := range deferred {
		if err := dc.run(); err != nil {
			return OriginAddress, c.failCommit(err)
		}
	}

	resolution := TxResolutionInfo{
		TxID:     c.id,
		Snapshot: c.snapshot,
		Reads:    c.cs.Hashed(),
		Writes:   c.ws.Hashed(),
	}
	start := time.Now()
	addr, err := c.rt.Sequencer.AppendAt(ctx, tok.Token, affected, c.ws.Entries(), resolution)
	if err != nil {
		return OriginAddress, c.failCommit(err)
	}
	if c.rt.Metrics != nil {
		c.rt.Metrics.CommitDuration.Observe(time.Since(start).Seconds())
	}

	if err := c.installPostCommit(ctx, addr); err != nil {
		return OriginAddress, c.failCommit(err)
	}
	c.releaseOverlays()
	c.rt.Registry.Pop()
	if c.rt.Metrics != nil {
		c.rt.Metrics.CommitsTotal.Inc()
	}
	c.rt.Logger.Debug("deferred transaction committed",
		zap.String("tx_id", c.id.String()),
		zap.String("commit_addr", addr.String()),
	)
	return addr, nil
}

func mergeStreams(a, b []StreamID) []StreamID {
	seen := make(map[StreamID]struct{}, len(a)+len(b))
	out := make([]StreamID, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
