package engine

import (
	"encoding/json"
	"sync"
)

// UndoRecord is the inverse of an SMREntry, recorded so that a speculative
// or committed update can be rolled back without a full replay.
type UndoRecord struct {
	Method string
	Args   []byte
}

// SMREntry describes one mutation on one stream: a method name, its
// serialized arguments, and optionally the result of executing it (for
// accessor-mutators) and its inverse (for rollback).
type SMREntry struct {
	Method    string
	Args      []byte
	Result    []byte
	HasResult bool
	Undo      *UndoRecord
}

// MultiSMREntry maps stream id to an ordered list of SMREntry, preserving
// per-stream insertion order.
type MultiSMREntry struct {
	mu      sync.Mutex
	order   []StreamID
	entries map[StreamID][]SMREntry
}

// NewMultiSMREntry returns an empty multi-object entry.
func NewMultiSMREntry() *MultiSMREntry {
	return &MultiSMREntry{entries: make(map[StreamID][]SMREntry)}
}

// Add appends e to stream's list and returns its per-stream index.
func (m *MultiSMREntry) Add(stream StreamID, e SMREntry) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[stream]; !ok {
		m.order = append(m.order, stream)
	}
	m.entries[stream] = append(m.entries[stream], e)
	return len(m.entries[stream]) - 1
}

// Entries returns a copy of stream's entry list.
func (m *MultiSMREntry) Entries(stream StreamID) []SMREntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SMREntry(nil), m.entries[stream]...)
}

// EntryAt returns the entry at idx for stream.
func (m *MultiSMREntry) EntryAt(stream StreamID, idx int) (SMREntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	es := m.entries[stream]
	if idx < 0 || idx >= len(es) {
		return SMREntry{}, false
	}
	return es[idx], true
}

// Len returns the number of entries recorded for stream.
func (m *MultiSMREntry) Len(stream StreamID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries[stream])
}

// SetResult caches the upcall result of entry idx on stream.
func (m *MultiSMREntry) SetResult(stream StreamID, idx int, result []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	es := m.entries[stream]
	if idx < 0 || idx >= len(es) {
		return
	}
	es[idx].Result = result
	es[idx].HasResult = true
}

// SetUndo records the undo record of entry idx on stream, if one wasn't
// already recorded.
func (m *MultiSMREntry) SetUndo(stream StreamID, idx int, undo *UndoRecord) {
	if undo == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	es := m.entries[stream]
	if idx < 0 || idx >= len(es) || es[idx].Undo != nil {
		return
	}
	es[idx].Undo = undo
}

// Streams returns the streams touched, in first-seen order.
func (m *MultiSMREntry) Streams() []StreamID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StreamID(nil), m.order...)
}

type multiSMREntryWire struct {
	Order   []StreamID             `json:"order"`
	Entries map[StreamID][]SMREntry `json:"entries"`
}

// MarshalJSON renders the entry in stream-order, for the rpclog wire codec.
func (m *MultiSMREntry) MarshalJSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.Marshal(multiSMREntryWire{Order: m.order, Entries: m.entries})
}

// UnmarshalJSON restores an entry produced by MarshalJSON.
func (m *MultiSMREntry) UnmarshalJSON(data []byte) error {
	var w multiSMREntryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = w.Order
	m.entries = w.Entries
	if m.entries == nil {
		m.entries = make(map[StreamID][]SMREntry)
	}
	return nil
}

// Append concatenates other's entries onto m, stream by stream, preserving order.
func (m *MultiSMREntry) Append(other *MultiSMREntry) {
	if other == nil {
		return
	}
	other.mu.Lock()
	order := append([]StreamID(nil), other.order...)
	snapshot := make(map[StreamID][]SMREntry, len(other.entries))
	for s, es := range other.entries {
		snapshot[s] = append([]SMREntry(nil), es...)
	}
	other.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range order {
		if _, ok := m.entries[s]; !ok {
			m.order = append(m.order, s)
		}
		m.entries[s] = append(m.entries[s], snapshot[s]...)
	}
}
