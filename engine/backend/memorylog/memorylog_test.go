package memorylog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chn0318/txengine/engine"
)

func entryFor(stream engine.StreamID, method string) *engine.MultiSMREntry {
	m := engine.NewMultiSMREntry()
	m.Add(stream, engine.SMREntry{Method: method})
	return m
}

func resolutionWith(txid engine.TxID, snapshot engine.Address, stream engine.StreamID, reads, writes []engine.ConflictParam) engine.TxResolutionInfo {
	info := engine.TxResolutionInfo{
		TxID:     txid,
		Snapshot: snapshot,
		Reads:    make(map[engine.StreamID]map[engine.Fingerprint]struct{}),
		Writes:   make(map[engine.StreamID]map[engine.Fingerprint]struct{}),
	}
	if len(reads) > 0 {
		info.Reads[stream] = make(map[engine.Fingerprint]struct{})
		for _, p := range reads {
			info.Reads[stream][engine.FingerprintOf(p)] = struct{}{}
		}
	}
	if len(writes) > 0 {
		info.Writes[stream] = make(map[engine.Fingerprint]struct{})
		for _, p := range writes {
			info.Writes[stream][engine.FingerprintOf(p)] = struct{}{}
		}
	}
	return info
}

func TestAppendDetectsConflicts(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()
	stream := engine.NewStreamID()

	first, err := l.Append(ctx, []engine.StreamID{stream}, entryFor(stream, "Put"),
		resolutionWith(engine.NewTxID(), 0, stream, nil, []engine.ConflictParam{"k"}))
	require.NoError(t, err)

	// A reader of k from before first's commit conflicts.
	_, err = l.Append(ctx, []engine.StreamID{stream}, entryFor(stream, "Put"),
		resolutionWith(engine.NewTxID(), 0, stream, []engine.ConflictParam{"k"}, []engine.ConflictParam{"k"}))
	var conflict *engine.ConflictAbortError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, stream, conflict.ConflictStream)
	require.Equal(t, first, conflict.ConflictAddress)

	// The same read from a snapshot at or after first's commit does not.
	second, err := l.Append(ctx, []engine.StreamID{stream}, entryFor(stream, "Put"),
		resolutionWith(engine.NewTxID(), first, stream, []engine.ConflictParam{"k"}, []engine.ConflictParam{"k"}))
	require.NoError(t, err)
	require.Greater(t, uint64(second), uint64(first))
}

func TestVerifiedRaisesConflictFloor(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()
	stream := engine.NewStreamID()

	first, err := l.Append(ctx, []engine.StreamID{stream}, entryFor(stream, "Put"),
		resolutionWith(engine.NewTxID(), 0, stream, nil, []engine.ConflictParam{"k"}))
	require.NoError(t, err)

	info := resolutionWith(engine.NewTxID(), 0, stream, []engine.ConflictParam{"k"}, []engine.ConflictParam{"k"})
	info.Verified = map[engine.StreamID]engine.Address{stream: first}
	_, err = l.Append(ctx, []engine.StreamID{stream}, entryFor(stream, "Put"), info)
	require.NoError(t, err)
}

func TestAppendAtRejectsOverwrite(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()
	stream := engine.NewStreamID()

	tok, err := l.NextToken(ctx, []engine.StreamID{stream}, 1)
	require.NoError(t, err)

	_, err = l.AppendAt(ctx, tok.Token, []engine.StreamID{stream}, entryFor(stream, "Put"),
		resolutionWith(engine.NewTxID(), 0, stream, nil, []engine.ConflictParam{"k"}))
	require.NoError(t, err)

	var overwrite *engine.OverwriteError
	_, err = l.AppendAt(ctx, tok.Token, []engine.StreamID{stream}, entryFor(stream, "Put"),
		resolutionWith(engine.NewTxID(), 0, stream, nil, []engine.ConflictParam{"k"}))
	require.ErrorAs(t, err, &overwrite)
}

func TestFillHole(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()
	stream := engine.NewStreamID()

	tok, err := l.NextToken(ctx, nil, 1)
	require.NoError(t, err)
	require.NoError(t, l.FillHole(ctx, tok.Token))

	var overwrite *engine.OverwriteError
	_, err = l.AppendAt(ctx, tok.Token, []engine.StreamID{stream}, entryFor(stream, "Put"),
		resolutionWith(engine.NewTxID(), 0, stream, nil, []engine.ConflictParam{"k"}))
	require.ErrorAs(t, err, &overwrite)

	data, err := l.Read(ctx, tok.Token)
	require.NoError(t, err)
	require.Equal(t, engine.LogDataHole, data.Type)
}

func TestStreamRangeAndBackpointers(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()
	streamA := engine.NewStreamID()
	streamB := engine.NewStreamID()

	a1, err := l.Append(ctx, []engine.StreamID{streamA}, entryFor(streamA, "One"),
		resolutionWith(engine.NewTxID(), 0, streamA, nil, []engine.ConflictParam{"k"}))
	require.NoError(t, err)
	_, err = l.Append(ctx, []engine.StreamID{streamB}, entryFor(streamB, "Two"),
		resolutionWith(engine.NewTxID(), 0, streamB, nil, []engine.ConflictParam{"k"}))
	require.NoError(t, err)
	a3, err := l.Append(ctx, []engine.StreamID{streamA}, entryFor(streamA, "Three"),
		resolutionWith(engine.NewTxID(), 0, streamA, nil, []engine.ConflictParam{"k"}))
	require.NoError(t, err)

	entries, err := l.StreamRange(ctx, streamA, 0, a3)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, a1, entries[0].Address)
	require.Equal(t, "One", entries[0].Entry.Method)
	require.Equal(t, a3, entries[1].Address)
	require.Equal(t, "Three", entries[1].Entry.Method)

	tok, err := l.NextToken(ctx, []engine.StreamID{streamA, streamB}, 0)
	require.NoError(t, err)
	require.Equal(t, a3, tok.Backpointers[streamA])
}
