package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Flavor selects a transaction's isolation algorithm.
type Flavor int

const (
	OptimisticFlavor Flavor = iota
	WriteAfterWriteFlavor
	DeferredFlavor
)

func (f Flavor) String() string {
	switch f {
	case OptimisticFlavor:
		return "OPTIMISTIC"
	case WriteAfterWriteFlavor:
		return "WRITE_AFTER_WRITE"
	case DeferredFlavor:
		return "DEFERRED"
	default:
		return "UNKNOWN"
	}
}

// TxContext is the common interface implemented by each transaction flavor.
type TxContext interface {
	ID() TxID
	Flavor() Flavor
	Parent() TxContext
	Snapshot(ctx context.Context) (Address, error)
	ConflictSet() *ConflictSet
	WriteSet() *WriteSet
	IsNested() bool

	Access(ctx context.Context, p *Proxy, params []ConflictParam, fn func(obj MaterializedObject)) error
	LogUpdate(p *Proxy, entry SMREntry, params []ConflictParam) (int, error)
	GetUpcallResult(ctx context.Context, p *Proxy, index int) ([]byte, error)
	Commit(ctx context.Context) (Address, error)
	Abort(cause AbortCause) *TransactionAbortedError
}

// baseContext holds the fields and helpers shared by every flavor. Flavor
// types embed it and set self to their own outer value so that methods
// needing "virtual" dispatch (root-finding, snapshot fetch) reach the
// correct concrete Commit/Access overrides via the TxContext interface.
type baseContext struct {
	self TxContext

	id     TxID
	flavor Flavor
	parent TxContext
	rt     *Runtime

	threadID uint64

	snapMu      sync.Mutex
	snapshot    Address
	snapshotSet bool

	cs *ConflictSet
	ws *WriteSet

	preciseConflicts bool

	modMu         sync.Mutex
	modified      map[*Proxy]struct{}
	modifiedOrder []*Proxy
}

func newBaseContext(rt *Runtime, flavor Flavor, parent TxContext, snapshotOverride *Address) baseContext {
	b := baseContext{
		id:               NewTxID(),
		flavor:           flavor,
		parent:           parent,
		rt:               rt,
		threadID:         currentGoroutineID(),
		cs:               NewConflictSet(),
		ws:               NewWriteSet(),
		preciseConflicts: rt.PreciseConflicts,
		modified:         make(map[*Proxy]struct{}),
	}
	if snapshotOverride != nil {
		b.snapshot = *snapshotOverride
		b.snapshotSet = true
	}
	return b
}

func (b *baseContext) ID() TxID            { return b.id }
func (b *baseContext) Flavor() Flavor      { return b.flavor }
func (b *baseContext) Parent() TxContext   { return b.parent }
func (b *baseContext) ConflictSet() *ConflictSet { return b.cs }
func (b *baseContext) WriteSet() *WriteSet       { return b.ws }
func (b *baseContext) IsNested() bool            { return b.parent != nil }

func (b *baseContext) rootContext() TxContext {
	cur := b.self
	for cur.Parent() != nil {
		cur = cur.Parent()
	}
	return cur
}

// Snapshot lazily fetches the root's snapshot the first time it is
// requested; nested contexts simply inherit the root's value.
func (b *baseContext) Snapshot(ctx context.Context) (Address, error) {
	root := b.rootContext()
	if root != b.self {
		return root.Snapshot(ctx)
	}
	b.snapMu.Lock()
	defer b.snapMu.Unlock()
	if b.snapshotSet {
		return b.snapshot, nil
	}
	tok, err := b.rt.Sequencer.NextToken(ctx, nil, 0)
	if err != nil {
		return OriginAddress, &TransactionAbortedError{TxID: b.id, Cause: CauseSequencerFail, Err: err}
	}
	b.snapshot = tok.Token
	b.snapshotSet = true
	return b.snapshot, nil
}

// overrideSnapshot forcibly sets the snapshot (used by DEFERRED commit,
// which computes a commit-time rather than first-read snapshot).
func (b *baseContext) overrideSnapshot(addr Address) {
	b.snapMu.Lock()
	defer b.snapMu.Unlock()
	b.snapshot = addr
	b.snapshotSet = true
}

func (b *baseContext) recordModified(p *Proxy) {
	b.modMu.Lock()
	defer b.modMu.Unlock()
	if _, ok := b.modified[p]; !ok {
		b.modified[p] = struct{}{}
		b.modifiedOrder = append(b.modifiedOrder, p)
	}
}

func (b *baseContext) modifiedProxies() []*Proxy {
	b.modMu.Lock()
	defer b.modMu.Unlock()
	return append([]*Proxy(nil), b.modifiedOrder...)
}

// writeSetChain walks from the root context down to this one, collecting
// each context's write set in root-to-leaf order, for building a
// WriteSetStreamView that concatenates speculative writes across nesting.
func (b *baseContext) writeSetChain() []*WriteSet {
	var rev []*WriteSet
	var cur TxContext = b.self
	for cur != nil {
		rev = append(rev, cur.WriteSet())
		cur = cur.Parent()
	}
	chain := make([]*WriteSet, len(rev))
	for i, ws := range rev {
		chain[len(rev)-1-i] = ws
	}
	return chain
}

// releaseOverlays undoes every overlay this context installed. The merged
// entries become visible to the parent (or to log replay) through a fresh
// sync instead; a folded child's view must not linger on any object, or a
// later installation would double-apply its entries.
func (b *baseContext) releaseOverlays() {
	for _, p := range b.modifiedProxies() {
		p.VLO().RollbackOverlay(b.threadID, b.ws)
	}
	for _, p := range b.cs.Proxies() {
		p.VLO().RollbackOverlay(b.threadID, b.ws)
	}
}

// Abort clears this context's per-thread state, rolls back any overlays it
// installed, and pops it from the registry; it does not walk ancestors
// (TXAbort, the entry-point API, likewise aborts only the current context).
func (b *baseContext) Abort(cause AbortCause) *TransactionAbortedError {
	b.releaseOverlays()
	b.rt.Registry.Pop()
	if b.rt.Metrics != nil {
		b.rt.Metrics.RecordAbort(cause)
	}
	b.rt.Logger.Debug("transaction aborted",
		zap.String("tx_id", b.id.String()),
		zap.String("cause", cause.String()),
	)
	return &TransactionAbortedError{TxID: b.id, Cause: cause}
}

// commitOptimisticStyle implements the commit algorithm shared by OPTIMISTIC
// and WRITE-AFTER-WRITE contexts: nested fold, read-only short-circuit,
// sequencer append with precise-conflict retry, then post-commit
// installation.
func (b *baseContext) commitOptimisticStyle(ctx context.Context) (Address, error) {
	if b.IsNested() {
		b.parent.WriteSet().Merge(b.ws)
		b.parent.ConflictSet().Merge(b.cs)
		b.releaseOverlays()
		b.rt.Registry.Pop()
		return FoldedAddress, nil
	}
	if b.ws.IsEmpty() {
		b.releaseOverlays()
		b.rt.Registry.Pop()
		return NoWriteAddress, nil
	}

	affected := append([]StreamID(nil), b.ws.Streams()...)
	if b.rt.TxLoggingEnabled {
		affected = append(affected, TransactionStreamID)
	}
	reads := b.cs.Hashed()
	snapshot := b.snapshot
	if len(reads) > 0 {
		// A transaction that recorded conflict parameters without ever
		// reading (WRITE-AFTER-WRITE records its writes) fetches its
		// snapshot now, so the sequencer does not scan from the origin.
		s, err := b.Snapshot(ctx)
		if err != nil {
			return OriginAddress, b.failCommit(err)
		}
		snapshot = s
	}
	resolution := TxResolutionInfo{
		TxID:     b.id,
		Snapshot: snapshot,
		Reads:    reads,
		Writes:   b.ws.Hashed(),
	}

	start := time.Now()
	addr, err := b.rt.Sequencer.Append(ctx, affected, b.ws.Entries(), resolution)
	if err != nil {
		var conflict *ConflictAbortError
		if errors.As(err, &conflict) && b.preciseConflicts {
			addr, err = b.doPreciseCommit(ctx, conflict, resolution, affected)
		}
		if err != nil {
			return OriginAddress, b.failCommit(err)
		}
	}
	if b.rt.Metrics != nil {
		b.rt.Metrics.CommitDuration.Observe(time.Since(start).Seconds())
	}

	if err := b.installPostCommit(ctx, addr); err != nil {
		return OriginAddress, b.failCommit(err)
	}
	// Read-only proxies may still hold this context's (entry-less) overlay;
	// installPostCommit only visited the modified ones.
	b.releaseOverlays()
	b.rt.Registry.Pop()
	if b.rt.Metrics != nil {
		b.rt.Metrics.CommitsTotal.Inc()
	}
	b.rt.Logger.Debug("transaction committed",
		zap.String("tx_id", b.id.String()),
		zap.String("commit_addr", addr.String()),
	)
	return addr, nil
}

// failCommit releases this context's overlays and registry slot after a
// commit could not complete, records the abort, and hands the classified
// error back to the caller.
func (b *baseContext) failCommit(err error) *TransactionAbortedError {
	b.releaseOverlays()
	b.rt.Registry.Pop()
	aborted := WrapAsAbort(b.id, err)
	if b.rt.Metrics != nil {
		b.rt.Metrics.RecordAbort(aborted.Cause)
	}
	b.rt.Logger.Warn("transaction commit failed",
		zap.String("tx_id", b.id.String()),
		zap.String("cause", aborted.Cause.String()),
	)
	return aborted
}

// installPostCommit runs after a successful append: for every modified proxy
// whose overlay is still owned by this thread and backed by this context's
// write set, fold the committed entries in and set the object's version to
// the commit address.
func (b *baseContext) installPostCommit(ctx context.Context, commitAddr Address) error {
	data, err := b.rt.Log.Read(ctx, commitAddr)
	if err != nil {
		return err
	}
	if data.Type == LogDataHole {
		panic("engine: commit address resolved to a hole, invariant violated")
	}
	for _, p := range b.modifiedProxies() {
		stream := p.Stream()
		n := data.Payload.Len(stream)
		if n == 0 {
			continue
		}
		err := p.VLO().Update(func(v *VersionLockedObject) error {
			if !v.HasOverlay() || v.OverlayOwner() != b.threadID || !v.Overlay().IsBackedBy(b.ws) {
				// The overlay was stolen by another thread, or belongs to a
				// different context on this one; either way the next access
				// will sync from the log.
				return nil
			}
			return v.InstallCommitted(ctx, commitAddr, n)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// myConflictParams returns the conflict parameters this context has
// recorded against p on stream, across both its read and write sets.
func (b *baseContext) myConflictParams(p *Proxy) []ConflictParam {
	out := append([]ConflictParam(nil), b.cs.ParamsFor(p)...)
	out = append(out, b.ws.ParamsFor(p)...)
	return out
}

// findProxyForStream locates the proxy bound to stream among this context's
// modified proxies, read set, then write set, in that order.
func (b *baseContext) findProxyForStream(stream StreamID) *Proxy {
	for _, p := range b.modifiedProxies() {
		if p.Stream() == stream {
			return p
		}
	}
	for _, p := range b.cs.Proxies() {
		if p.Stream() == stream {
			return p
		}
	}
	for _, p := range b.ws.Proxies() {
		if p.Stream() == stream {
			return p
		}
	}
	return nil
}

func conflictParamsOverlap(committed, mine []ConflictParam) bool {
	for _, c := range committed {
		if _, ok := c.(allConflictParam); ok {
			return true
		}
		cf := FingerprintOf(c)
		for _, m := range mine {
			if _, ok := m.(allConflictParam); ok {
				return true
			}
			if FingerprintOf(m) == cf {
				return true
			}
		}
	}
	return false
}

// doPreciseCommit scans the log range the sequencer
// flagged for a genuine overlap with this context's own conflict
// parameters; if none is found, re-append with the range marked verified.
// Loops because the sequencer may flag a later address on a retry; it
// terminates because the conflict address strictly increases each
// iteration.
func (b *baseContext) doPreciseCommit(ctx context.Context, ae *ConflictAbortError, resolution TxResolutionInfo, affected []StreamID) (Address, error) {
	verified := make(map[StreamID]Address)
	for {
		stream := ae.ConflictStream
		addr := ae.ConflictAddress

		proxy := b.findProxyForStream(stream)
		if proxy == nil {
			// Without a proxy there is nothing to scan against; abort with
			// the sequencer's original conflict unmodified.
			return OriginAddress, WrapAsAbort(b.id, ae)
		}

		entries, err := b.rt.Log.StreamRange(ctx, stream, resolution.Snapshot+1, addr)
		if err != nil {
			var trim *TrimAbortError
			if errors.As(err, &trim) {
				return OriginAddress, &TransactionAbortedError{TxID: b.id, Cause: CauseTrim, ConflictStream: stream, ConflictAddress: addr}
			}
			return OriginAddress, WrapAsAbort(b.id, err)
		}

		mine := b.myConflictParams(proxy)
		for _, ent := range entries {
			declared := proxy.GetConflictFromEntry(ent.Entry.Method, ent.Entry.Args)
			if conflictParamsOverlap(declared, mine) {
				return OriginAddress, &TransactionAbortedError{
					TxID: b.id, Cause: CausePreciseConflict,
					ConflictStream: stream, ConflictAddress: addr, Precise: true,
				}
			}
		}

		verified[stream] = addr
		resolution.Verified = verified
		newAddr, err := b.rt.Sequencer.Append(ctx, affected, b.ws.Entries(), resolution)
		if err == nil {
			return newAddr, nil
		}
		var nextConflict *ConflictAbortError
		if errors.As(err, &nextConflict) {
			ae = nextConflict
			continue
		}
		var trim *TrimAbortError
		if errors.As(err, &trim) {
			return OriginAddress, &TransactionAbortedError{TxID: b.id, Cause: CauseTrim}
		}
		return OriginAddress, WrapAsAbort(b.id, err)
	}
}
