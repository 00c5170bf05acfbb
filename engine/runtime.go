package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Runtime wires together everything a client process needs to run
// transactions: the sequencer and log service clients, the transaction
// registry, the proxy registry, structured logging, and metrics. It is the
// single object embedding applications hold onto.
type Runtime struct {
	Sequencer Sequencer
	Log       Log
	Registry  *TransactionRegistry
	Logger    *zap.Logger
	Metrics   *Metrics

	// TxLoggingEnabled mirrors every committing transaction's affected
	// streams with TransactionStreamID.
	TxLoggingEnabled bool

	// PreciseConflicts is copied into every context this runtime begins;
	// TXBuild has no per-transaction override.
	PreciseConflicts bool

	proxyMu sync.RWMutex
	proxies map[StreamID]*Proxy
}

// NewRuntime wires seq and log into a fresh runtime. logger may be nil, in
// which case a no-op logger is used.
func NewRuntime(seq Sequencer, log Log, cfg Config, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		Sequencer:        seq,
		Log:              log,
		Registry:         NewTransactionRegistry(),
		Logger:           logger,
		Metrics:          NewMetrics(),
		TxLoggingEnabled: cfg.TxLoggingEnabled,
		PreciseConflicts: cfg.PreciseConflicts,
		proxies:          make(map[StreamID]*Proxy),
	}
}

// RegisterProxy binds obj to stream and returns the Proxy other code should
// use to access it, creating it if this is the first time stream has been
// seen by this runtime.
func (rt *Runtime) RegisterProxy(stream StreamID, obj MaterializedObject) *Proxy {
	rt.proxyMu.Lock()
	defer rt.proxyMu.Unlock()
	if p, ok := rt.proxies[stream]; ok {
		return p
	}
	vlo := NewVersionLockedObject(stream, obj, rt.Log)
	p := NewProxy(stream, vlo)
	rt.proxies[stream] = p
	return p
}

// Proxy looks up a previously registered proxy for stream.
func (rt *Runtime) Proxy(stream StreamID) (*Proxy, bool) {
	rt.proxyMu.RLock()
	defer rt.proxyMu.RUnlock()
	p, ok := rt.proxies[stream]
	return p, ok
}

// begin constructs and pushes a new context of flavor under the calling
// goroutine's current context (if any), rejecting a flavor mismatch with an
// existing root.
func (rt *Runtime) begin(flavor Flavor, snapshotOverride *Address) TxContext {
	ctx, err := rt.Begin(flavor, snapshotOverride)
	if err != nil {
		panic(err)
	}
	return ctx
}

// Begin constructs a new transactional context of flavor, nested under the
// calling goroutine's current context if one is active. Nesting a different
// flavor under an existing root is rejected.
func (rt *Runtime) Begin(flavor Flavor, snapshotOverride *Address) (TxContext, error) {
	parent := rt.Registry.Current()
	if parent != nil {
		root := parent
		for root.Parent() != nil {
			root = root.Parent()
		}
		if root.Flavor() != flavor {
			return nil, fmt.Errorf("engine: cannot nest %s transaction under %s root", flavor, root.Flavor())
		}
	}

	var tc TxContext
	switch flavor {
	case OptimisticFlavor:
		tc = newOptimisticContext(rt, parent, snapshotOverride)
	case WriteAfterWriteFlavor:
		tc = newWriteAfterWriteContext(rt, parent, snapshotOverride)
	case DeferredFlavor:
		tc = newDeferredContext(rt, parent, snapshotOverride)
	default:
		return nil, fmt.Errorf("engine: unknown transaction flavor %v", flavor)
	}
	rt.Registry.Push(tc)
	return tc, nil
}

// TXEnd commits the calling goroutine's current context and pops it.
func (rt *Runtime) TXEnd(ctx context.Context) (Address, error) {
	cur := rt.Registry.Current()
	if cur == nil {
		return OriginAddress, fmt.Errorf("engine: no active transaction on this goroutine")
	}
	return cur.Commit(ctx)
}

// TXAbort discards the calling goroutine's current context, rolling back
// any overlays it installed.
func (rt *Runtime) TXAbort(cause AbortCause) *TransactionAbortedError {
	cur := rt.Registry.Current()
	if cur == nil {
		return nil
	}
	return cur.Abort(cause)
}
