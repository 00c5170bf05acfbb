package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chn0318/txengine/engine"
	"github.com/chn0318/txengine/engine/backend/memorylog"
	"github.com/chn0318/txengine/engine/objects"
)

// TestWriteWriteConflict is scenario S2: two transactions read-then-write
// the same key from the same snapshot; the second to reach the sequencer
// aborts with CONFLICT on the stream/address the first committed at.
func TestWriteWriteConflict(t *testing.T) {
	ctx := context.Background()
	rt, p := newTestRuntime(t)

	txA, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	_, _ = get(t, ctx, rt, p, "k")
	argsA, err := objects.MarshalPut("k", "a")
	require.NoError(t, err)
	_, err = txA.LogUpdate(p, engine.SMREntry{Method: objects.MapMethodPut, Args: argsA}, []engine.ConflictParam{"k"})
	require.NoError(t, err)
	rt.Registry.Pop()

	txB, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	_, _ = get(t, ctx, rt, p, "k")
	argsB, err := objects.MarshalPut("k", "b")
	require.NoError(t, err)
	_, err = txB.LogUpdate(p, engine.SMREntry{Method: objects.MapMethodPut, Args: argsB}, []engine.ConflictParam{"k"})
	require.NoError(t, err)
	rt.Registry.Pop()

	addrA, err := txA.Commit(ctx)
	require.NoError(t, err)

	_, err = txB.Commit(ctx)
	require.Error(t, err)
	var aborted *engine.TransactionAbortedError
	require.True(t, errors.As(err, &aborted))
	require.Equal(t, engine.CauseConflict, aborted.Cause)
	require.Equal(t, addrA, aborted.ConflictAddress)
	require.Equal(t, p.Stream(), aborted.ConflictStream)
}

// falseConflictSequencer wraps a real sequencer and, once a stream has been
// chosen, reports one spurious conflict at that stream/address before
// letting appends through, the way a fingerprint collision at the sequencer
// looks to a client. Appends made before a stream is set pass straight through.
type falseConflictSequencer struct {
	engine.Sequencer
	stream   engine.StreamID
	at       engine.Address
	fired    bool
	verified map[engine.StreamID]engine.Address
}

func (s *falseConflictSequencer) Append(ctx context.Context, streams []engine.StreamID, payload *engine.MultiSMREntry, resolution engine.TxResolutionInfo) (engine.Address, error) {
	if !s.fired && s.stream != (engine.StreamID{}) {
		s.fired = true
		return engine.OriginAddress, &engine.ConflictAbortError{ConflictStream: s.stream, ConflictAddress: s.at}
	}
	s.verified = resolution.Verified
	return s.Sequencer.Append(ctx, streams, payload, resolution)
}

// TestPreciseConflictResolution is scenario S3: the sequencer flags a
// fingerprint conflict against a committed update whose declared conflict
// parameter doesn't actually overlap T's. With PreciseConflicts on, the
// precise scan finds no overlap, marks the range verified, and T commits.
func TestPreciseConflictResolution(t *testing.T) {
	ctx := context.Background()
	m := memorylog.NewMemoryLog()
	seq := &falseConflictSequencer{Sequencer: m}
	rt := engine.NewRuntime(seq, m, engine.Config{PreciseConflicts: true}, nil)
	p := rt.RegisterProxy(engine.NewStreamID(), objects.NewMap())

	tx, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	_, _ = get(t, ctx, rt, p, "k1")
	rt.Registry.Pop()

	other, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	put(t, ctx, rt, p, "k2", "x")
	otherAddr, err := other.Commit(ctx)
	require.NoError(t, err)

	seq.stream = p.Stream()
	seq.at = otherAddr

	rt.Registry.Push(tx)
	argsK1, err := objects.MarshalPut("k1", "y")
	require.NoError(t, err)
	_, err = tx.LogUpdate(p, engine.SMREntry{Method: objects.MapMethodPut, Args: argsK1}, []engine.ConflictParam{"k1"})
	require.NoError(t, err)
	rt.Registry.Pop()

	addr, err := tx.Commit(ctx)
	require.NoError(t, err)
	require.Greater(t, uint64(addr), uint64(otherAddr))
	require.Equal(t, otherAddr, seq.verified[p.Stream()])
}

// TestPreciseConflictUpgrade is the counterpart: the flagged range really
// does contain an overlapping update, so the precise scan upgrades the
// abort instead of clearing it.
func TestPreciseConflictUpgrade(t *testing.T) {
	ctx := context.Background()
	m := memorylog.NewMemoryLog()
	rt := engine.NewRuntime(m, m, engine.Config{PreciseConflicts: true}, nil)
	p := rt.RegisterProxy(engine.NewStreamID(), objects.NewMap())

	tx, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	_, _ = get(t, ctx, rt, p, "k")
	rt.Registry.Pop()

	other, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	put(t, ctx, rt, p, "k", "x")
	otherAddr, err := other.Commit(ctx)
	require.NoError(t, err)

	rt.Registry.Push(tx)
	args, err := objects.MarshalPut("k", "y")
	require.NoError(t, err)
	_, err = tx.LogUpdate(p, engine.SMREntry{Method: objects.MapMethodPut, Args: args}, []engine.ConflictParam{"k"})
	require.NoError(t, err)
	rt.Registry.Pop()

	_, err = tx.Commit(ctx)
	require.Error(t, err)
	var aborted *engine.TransactionAbortedError
	require.True(t, errors.As(err, &aborted))
	require.Equal(t, engine.CausePreciseConflict, aborted.Cause)
	require.True(t, aborted.Precise)
	require.Equal(t, otherAddr, aborted.ConflictAddress)
}

// TestNestedFold is scenario S4: an inner transaction's write set folds into
// its parent's on commit, and the parent's single append carries both
// writes, in order.
func TestNestedFold(t *testing.T) {
	ctx := context.Background()
	rt, p := newTestRuntime(t)

	outer, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	put(t, ctx, rt, p, "x", "1")

	inner, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	require.True(t, inner.IsNested())
	put(t, ctx, rt, p, "y", "1")
	innerAddr, err := rt.TXEnd(ctx)
	require.NoError(t, err)
	require.Equal(t, engine.FoldedAddress, innerAddr)

	require.Equal(t, []engine.StreamID{p.Stream()}, outer.WriteSet().Streams())
	entries := outer.WriteSet().Entries().Entries(p.Stream())
	require.Len(t, entries, 2)
	require.Equal(t, objects.MapMethodPut, entries[0].Method)
	require.Equal(t, objects.MapMethodPut, entries[1].Method)

	_, err = rt.TXEnd(ctx)
	require.NoError(t, err)
}

// TestReadOnlyCommit is scenario S5: a transaction with no writes returns
// NOWRITE_ADDRESS and performs no log append.
func TestReadOnlyCommit(t *testing.T) {
	ctx := context.Background()
	rt, p := newTestRuntime(t)

	_, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	_, _ = get(t, ctx, rt, p, "k")
	addr, err := rt.TXEnd(ctx)
	require.NoError(t, err)
	require.Equal(t, engine.NoWriteAddress, addr)
}

// TestDeferredRead is scenario S6: a DEFERRED transaction's no-conflict
// closure observes the value written by another client between begin and
// commit, because its snapshot is fixed at commit time, not at first read.
func TestDeferredRead(t *testing.T) {
	ctx := context.Background()
	rt, p := newTestRuntime(t)
	streamB := engine.NewStreamID()
	pB := rt.RegisterProxy(streamB, objects.NewMap())

	tx, err := rt.Begin(engine.DeferredFlavor, nil)
	require.NoError(t, err)

	var observed string
	err = tx.Access(ctx, p, []engine.ConflictParam{engine.NoConflict}, func(obj engine.MaterializedObject) {
		m := obj.(*objects.Map)
		if raw, ok := m.Get("k"); ok {
			_ = jsonString(raw, &observed)
		}
	})
	require.NoError(t, err)

	argsPrime, err := objects.MarshalPut("k-prime", "1")
	require.NoError(t, err)
	_, err = tx.LogUpdate(pB, engine.SMREntry{Method: objects.MapMethodPut, Args: argsPrime}, []engine.ConflictParam{"k-prime"})
	require.NoError(t, err)

	rt.Registry.Pop()
	other, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	put(t, ctx, rt, p, "k", "42")
	_, err = other.Commit(ctx)
	require.NoError(t, err)

	rt.Registry.Push(tx)
	addr, err := tx.Commit(ctx)
	require.NoError(t, err)
	require.NotEqual(t, engine.FoldedAddress, addr)
	require.Equal(t, "42", observed)
}

func jsonString(raw []byte, out *string) error {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		*out = string(raw[1 : len(raw)-1])
		return nil
	}
	*out = string(raw)
	return nil
}
