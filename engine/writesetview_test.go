package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chn0318/txengine/engine"
)

func viewFixture(t *testing.T) (engine.StreamID, *engine.WriteSet, *engine.WriteSet, *engine.WriteSetStreamView) {
	t.Helper()
	stream := engine.NewStreamID()
	p := engine.NewProxy(stream, engine.NewVersionLockedObject(stream, nil, nil))

	parent := engine.NewWriteSet()
	child := engine.NewWriteSet()
	require.Equal(t, 0, parent.AddUpdate(p, engine.SMREntry{Method: "a"}, "k"))
	require.Equal(t, 1, parent.AddUpdate(p, engine.SMREntry{Method: "b"}, "k"))
	require.Equal(t, 0, child.AddUpdate(p, engine.SMREntry{Method: "c"}, "k"))

	return stream, parent, child, engine.NewWriteSetStreamView(stream, []*engine.WriteSet{parent, child})
}

// The view concatenates parent and child write sets in stack order and a
// single position walks linearly through the concatenation.
func TestWriteSetStreamViewConcatenation(t *testing.T) {
	_, _, _, v := viewFixture(t)

	require.Equal(t, 3, v.Len())

	e, ok := v.Current()
	require.True(t, ok)
	require.Equal(t, "a", e.Method)

	v.Advance()
	e, ok = v.Current()
	require.True(t, ok)
	require.Equal(t, "b", e.Method)

	v.Advance()
	e, ok = v.Current()
	require.True(t, ok)
	require.Equal(t, "c", e.Method)

	v.Advance()
	_, ok = v.Current()
	require.False(t, ok)

	e, ok = v.Previous()
	require.True(t, ok)
	require.Equal(t, "c", e.Method)
	require.Equal(t, 2, v.Pos())

	v.Reset()
	require.Equal(t, 0, v.Pos())
}

func TestWriteSetStreamViewRemainingUpTo(t *testing.T) {
	_, _, _, v := viewFixture(t)

	head := v.RemainingUpTo(2)
	require.Len(t, head, 2)
	require.Equal(t, "a", head[0].Method)
	require.Equal(t, "b", head[1].Method)
	require.Equal(t, 2, v.Pos())

	tail := v.RemainingUpTo(10)
	require.Len(t, tail, 1)
	require.Equal(t, "c", tail[0].Method)

	require.Nil(t, v.RemainingUpTo(1))
}

// Results cached through the view land in the write set layer that owns the
// entry, not in the view itself.
func TestWriteSetStreamViewResultRouting(t *testing.T) {
	stream, parent, child, v := viewFixture(t)

	v.SetResult(1, []byte("pb"))
	v.SetResult(2, []byte("c0"))

	e, ok := parent.Entries().EntryAt(stream, 1)
	require.True(t, ok)
	require.True(t, e.HasResult)
	require.Equal(t, []byte("pb"), e.Result)

	e, ok = child.Entries().EntryAt(stream, 0)
	require.True(t, ok)
	require.True(t, e.HasResult)
	require.Equal(t, []byte("c0"), e.Result)

	e, ok = parent.Entries().EntryAt(stream, 0)
	require.True(t, ok)
	require.False(t, e.HasResult)
}

func TestWriteSetMergePreservesOrder(t *testing.T) {
	stream, parent, child, _ := viewFixture(t)

	parent.Merge(child)

	entries := parent.Entries().Entries(stream)
	require.Len(t, entries, 3)
	require.Equal(t, "a", entries[0].Method)
	require.Equal(t, "b", entries[1].Method)
	require.Equal(t, "c", entries[2].Method)
	require.Equal(t, []engine.StreamID{stream}, parent.Streams())
}
