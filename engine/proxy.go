package engine

import "context"

// Proxy binds a user object class to a stream and the Version-Locked Object
// that materializes it. It is the only thing user code touches directly;
// Access and Mutate route through whatever Transactional Context is current
// on the calling goroutine (falling back to a single, implicit transaction
// if none is active, matching how a bare, non-transactional read or write
// behaves against a shared log).
type Proxy struct {
	stream StreamID
	vlo    *VersionLockedObject
}

// NewProxy binds obj to stream, materializing it via vlo.
func NewProxy(stream StreamID, vlo *VersionLockedObject) *Proxy {
	return &Proxy{stream: stream, vlo: vlo}
}

// Stream returns the bound stream id.
func (p *Proxy) Stream() StreamID { return p.stream }

// VLO returns the Version-Locked Object backing this proxy.
func (p *Proxy) VLO() *VersionLockedObject { return p.vlo }

// GetConflictFromEntry asks the materialized object what conflict
// parameters applying method/args would have declared, without running it.
// Used by precise-conflict resolution.
func (p *Proxy) GetConflictFromEntry(method string, args []byte) []ConflictParam {
	return p.vlo.Object().ConflictParamsFor(method, args)
}

// Access runs fn as a read against this proxy's object under rt's current
// transactional context. If no context is active, it runs as an implicit,
// single-operation OPTIMISTIC transaction synced to the latest snapshot.
func (p *Proxy) Access(ctx context.Context, rt *Runtime, params []ConflictParam, fn func(obj MaterializedObject)) error {
	if cur := rt.Registry.Current(); cur != nil {
		return cur.Access(ctx, p, params, fn)
	}
	tx := rt.begin(OptimisticFlavor, nil)
	defer rt.Registry.Pop()
	if err := tx.Access(ctx, p, params, fn); err != nil {
		return err
	}
	_, err := tx.Commit(ctx)
	return err
}

// Mutate records method/args as a speculative update under rt's current
// transactional context and returns its upcall result, syncing first if
// necessary. If no context is active it runs (and commits) as an implicit,
// single-operation OPTIMISTIC transaction.
func (p *Proxy) Mutate(ctx context.Context, rt *Runtime, method string, args []byte, params []ConflictParam) ([]byte, error) {
	cur := rt.Registry.Current()
	implicit := cur == nil
	if implicit {
		cur = rt.begin(OptimisticFlavor, nil)
		defer rt.Registry.Pop()
	}
	idx, err := cur.LogUpdate(p, SMREntry{Method: method, Args: args}, params)
	if err != nil {
		return nil, err
	}
	result, err := cur.GetUpcallResult(ctx, p, idx)
	if err != nil {
		return nil, err
	}
	if implicit {
		if _, err := cur.Commit(ctx); err != nil {
			return nil, err
		}
	}
	return result, nil
}
