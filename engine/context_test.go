package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chn0318/txengine/engine"
	"github.com/chn0318/txengine/engine/objects"
)

// TestWriteAfterWriteIgnoresReadConflicts: a WAW transaction that only read a
// key another transaction updated still commits, because its reads never
// reach the sequencer.
func TestWriteAfterWriteIgnoresReadConflicts(t *testing.T) {
	ctx := context.Background()
	rt, p := newTestRuntime(t)

	tx, err := rt.Begin(engine.WriteAfterWriteFlavor, nil)
	require.NoError(t, err)
	_, _ = get(t, ctx, rt, p, "k1")
	argsK2, err := objects.MarshalPut("k2", "v")
	require.NoError(t, err)
	_, err = tx.LogUpdate(p, engine.SMREntry{Method: objects.MapMethodPut, Args: argsK2}, []engine.ConflictParam{"k2"})
	require.NoError(t, err)
	rt.Registry.Pop()

	other, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	put(t, ctx, rt, p, "k1", "concurrent")
	_, err = other.Commit(ctx)
	require.NoError(t, err)

	addr, err := tx.Commit(ctx)
	require.NoError(t, err)
	require.NotEqual(t, engine.NoWriteAddress, addr)
}

// TestWriteAfterWriteConflictsOnWrites: two WAW transactions writing the
// same key from the same snapshot still collide.
func TestWriteAfterWriteConflictsOnWrites(t *testing.T) {
	ctx := context.Background()
	rt, p := newTestRuntime(t)

	txA, err := rt.Begin(engine.WriteAfterWriteFlavor, nil)
	require.NoError(t, err)
	_, _ = get(t, ctx, rt, p, "k")
	argsA, err := objects.MarshalPut("k", "a")
	require.NoError(t, err)
	_, err = txA.LogUpdate(p, engine.SMREntry{Method: objects.MapMethodPut, Args: argsA}, []engine.ConflictParam{"k"})
	require.NoError(t, err)
	rt.Registry.Pop()

	txB, err := rt.Begin(engine.WriteAfterWriteFlavor, nil)
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
}

// TestNestedFlavorMismatchRejected: a second flavor cannot be pushed under a
// root of a different flavor.
func TestNestedFlavorMismatchRejected(t *testing.T) {
	rt, _ := newTestRuntime(t)

	_, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	defer rt.Registry.Pop()

	_, err = rt.Begin(engine.DeferredFlavor, nil)
	require.Error(t, err)
	require.Equal(t, 1, rt.Registry.Depth())
}

// TestUpcallResults: accessor-mutators read their own returns through the
// overlay, and the committed state matches outside the transaction.
func TestUpcallResults(t *testing.T) {
	ctx := context.Background()
	rt, _ := newTestRuntime(t)
	p := rt.RegisterProxy(engine.NewStreamID(), objects.NewCounter())

	_, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)

	add := func(delta int64) int64 {
		args, err := objects.MarshalAdd(delta)
		require.NoError(t, err)
		raw, err := p.Mutate(ctx, rt, objects.CounterMethodAdd, args, []engine.ConflictParam{engine.ConflictAll})
		require.NoError(t, err)
		var v int64
		require.NoError(t, json.Unmarshal(raw, &v))
		return v
	}

	require.Equal(t, int64(5), add(5))
	require.Equal(t, int64(8), add(3))

	_, err = rt.TXEnd(ctx)
	require.NoError(t, err)

	var outside int64
	err = p.Access(ctx, rt, []engine.ConflictParam{engine.ConflictAll}, func(obj engine.MaterializedObject) {
		outside = obj.(*objects.Counter).Value()
	})
	require.NoError(t, err)
	require.Equal(t, int64(8), outside)
}

// TestAbortRollsBackOverlay: an aborted transaction's speculative writes are
// undone and invisible to the next reader.
func TestAbortRollsBackOverlay(t *testing.T) {
	ctx := context.Background()
	rt, p := newTestRuntime(t)

	_, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	put(t, ctx, rt, p, "k", "speculative")
	v, found := get(t, ctx, rt, p, "k")
	require.True(t, found)
	require.Equal(t, "speculative", v)

	aborted := rt.TXAbort(engine.CauseUser)
	require.NotNil(t, aborted)
	require.Equal(t, engine.CauseUser, aborted.Cause)
	require.Equal(t, 0, rt.Registry.Depth())

	_, found = get(t, ctx, rt, p, "k")
	require.False(t, found)
}

// TestOverlayOwnershipHandoff: a reader on another goroutine undoes the
// writer's uncommitted overlay and sees clean log state; the writer's commit
// still lands, and its writes become visible through the log afterwards.
func TestOverlayOwnershipHandoff(t *testing.T) {
	ctx := context.Background()
	rt, p := newTestRuntime(t)

	overlayReady := make(chan struct{})
	stolen := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, err := rt.Begin(engine.OptimisticFlavor, nil)
		if !assert.NoError(t, err) {
			return
		}
		args, err := objects.MarshalPut("k", "1")
		if !assert.NoError(t, err) {
			return
		}
		_, err = p.Mutate(ctx, rt, objects.MapMethodPut, args, []engine.ConflictParam{"k"})
		if !assert.NoError(t, err) {
			return
		}
		close(overlayReady)
		<-stolen
		addr, err := rt.TXEnd(ctx)
		assert.NoError(t, err)
		assert.NotEqual(t, engine.NoWriteAddress, addr)
	}()

	<-overlayReady
	_, found := get(t, ctx, rt, p, "k")
	require.False(t, found)
	close(stolen)
	<-done

	v, found := get(t, ctx, rt, p, "k")
	require.True(t, found)
	require.Equal(t, "1", v)
}

// TestSnapshotIsolation: a transaction keeps reading its first-read snapshot
// even after another transaction commits a newer value.
func TestSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	rt, p := newTestRuntime(t)

	put(t, ctx, rt, p, "k", "old")

	tx, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	v, found := get(t, ctx, rt, p, "k")
	require.True(t, found)
	require.Equal(t, "old", v)
	rt.Registry.Pop()

	other, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	put(t, ctx, rt, p, "k", "new")
	_, err = other.Commit(ctx)
	require.NoError(t, err)

	rt.Registry.Push(tx)
	v, found = get(t, ctx, rt, p, "k")
	require.True(t, found)
	require.Equal(t, "old", v)
	addr, err := rt.TXEnd(ctx)
	require.NoError(t, err)
	require.Equal(t, engine.NoWriteAddress, addr)
}
