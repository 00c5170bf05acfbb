// Package memorylog is a single-process Sequencer and Log backed by maps
// and a mutex. It resolves conflicts the same way a real sequencer would,
// so engine tests and demos exercise genuine commit/abort behavior.
package memorylog

import (
	"context"
	"fmt"
	"sync"

	"github.com/chn0318/txengine/engine"
)

type commitRecord struct {
	payload      *engine.MultiSMREntry
	writes       map[engine.StreamID]map[engine.Fingerprint]struct{}
	backpointers map[engine.StreamID]engine.Address
}

// MemoryLog implements engine.Sequencer and engine.Log entirely in memory,
// under a single mutex. It is meant for tests and single-process demos, not
// for anything that needs to survive a restart.
type MemoryLog struct {
	mu sync.Mutex

	tail        engine.Address
	records     map[engine.Address]*commitRecord
	holes       map[engine.Address]bool
	streamIndex map[engine.StreamID][]engine.Address
}

// NewMemoryLog returns an empty log with tail at engine.OriginAddress.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		records:     make(map[engine.Address]*commitRecord),
		holes:       make(map[engine.Address]bool),
		streamIndex: make(map[engine.StreamID][]engine.Address),
	}
}

// NextToken reserves count addresses (or none, for a pure snapshot read) and
// reports the last address previously written on each requested stream.
func (l *MemoryLog) NextToken(ctx context.Context, streams []engine.StreamID, count uint32) (engine.TokenResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	resp := engine.TokenResponse{Backpointers: l.backpointersLocked(streams)}
	if count == 0 {
		resp.Token = l.tail
		return resp, nil
	}
	l.tail += engine.Address(count)
	resp.Token = l.tail
	return resp, nil
}

// Append atomically reserves the next address, checks payload's resolution
// against every committed write since resolution.Snapshot on the affected
// streams, and on success durably stores payload.
func (l *MemoryLog) Append(ctx context.Context, streams []engine.StreamID, payload *engine.MultiSMREntry, resolution engine.TxResolutionInfo) (engine.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkConflictLocked(streams, resolution, resolution.Snapshot, l.tail); err != nil {
		return engine.OriginAddress, err
	}
	l.tail++
	addr := l.tail
	l.storeLocked(addr, streams, payload, resolution)
	return addr, nil
}

// AppendAt finalizes a write at a token already reserved by NextToken,
// checking the same resolution window up to (but excluding) token itself,
// since token is exclusively ours until we write it.
func (l *MemoryLog) AppendAt(ctx context.Context, token engine.Address, streams []engine.StreamID, payload *engine.MultiSMREntry, resolution engine.TxResolutionInfo) (engine.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[token]; exists {
		return engine.OriginAddress, &engine.OverwriteError{At: token}
	}
	if l.holes[token] {
		return engine.OriginAddress, &engine.OverwriteError{At: token}
	}
	if err := l.checkConflictLocked(streams, resolution, resolution.Snapshot, token-1); err != nil {
		return engine.OriginAddress, err
	}
	l.storeLocked(token, streams, payload, resolution)
	return token, nil
}

func (l *MemoryLog) storeLocked(addr engine.Address, streams []engine.StreamID, payload *engine.MultiSMREntry, resolution engine.TxResolutionInfo) {
	rec := &commitRecord{
		payload:      payload,
		writes:       resolution.Writes,
		backpointers: l.backpointersLocked(streams),
	}
	l.records[addr] = rec
	for _, s := range streams {
		l.streamIndex[s] = append(l.streamIndex[s], addr)
	}
}

func (l *MemoryLog) backpointersLocked(streams []engine.StreamID) map[engine.StreamID]engine.Address {
	bp := make(map[engine.StreamID]engine.Address, len(streams))
	for _, s := range streams {
		idx := l.streamIndex[s]
		if len(idx) == 0 {
			bp[s] = engine.NoWriteAddress
			continue
		}
		bp[s] = idx[len(idx)-1]
	}
	return bp
}

// checkConflictLocked scans every committed address on streams in
// (lowerBound(stream), to] for a fingerprint overlapping resolution.Reads on
// that stream. resolution.Verified raises the lower bound per stream,
// letting precise-conflict resolution mark a range as already cleared.
func (l *MemoryLog) checkConflictLocked(streams []engine.StreamID, resolution engine.TxResolutionInfo, from, to engine.Address) error {
	for _, s := range streams {
		reads := resolution.Reads[s]
		if len(reads) == 0 {
			continue
		}
		lower := from
		if v, ok := resolution.Verified[s]; ok && v > lower {
			lower = v
		}
		for _, addr := range l.streamIndex[s] {
			if addr <= lower || addr > to {
				continue
			}
			rec := l.records[addr]
			if rec == nil {
				continue
			}
			written := rec.writes[s]
			for fp := range reads {
				if _, hit := written[fp]; hit {
					return &engine.ConflictAbortError{ConflictStream: s, ConflictAddress: addr}
				}
			}
		}
	}
	return nil
}

// Read retrieves the payload stored at addr, or reports it as a hole.
func (l *MemoryLog) Read(ctx context.Context, addr engine.Address) (engine.LogData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holes[addr] {
		return engine.LogData{Type: engine.LogDataHole}, nil
	}
	rec, ok := l.records[addr]
	if !ok {
		return engine.LogData{}, fmt.Errorf("memorylog: no record at address %s", addr)
	}
	return engine.LogData{Type: engine.LogDataEntry, Payload: rec.payload, Backpointers: rec.backpointers}, nil
}

// FillHole marks addr as permanently empty.
func (l *MemoryLog) FillHole(ctx context.Context, addr engine.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[addr]; exists {
		return &engine.OverwriteError{At: addr}
	}
	l.holes[addr] = true
	return nil
}

// StreamRange returns every committed entry on stream in [from, to], in
// ascending address order.
func (l *MemoryLog) StreamRange(ctx context.Context, stream engine.StreamID, from, to engine.Address) ([]engine.AddressedEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []engine.AddressedEntry
	for _, addr := range l.streamIndex[stream] {
		if addr < from || addr > to {
			continue
		}
		rec := l.records[addr]
		if rec == nil {
			continue
		}
		for _, e := range rec.payload.Entries(stream) {
			out = append(out, engine.AddressedEntry{Address: addr, Entry: e})
		}
	}
	return out, nil
}
