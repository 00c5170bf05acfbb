package engine

import "sync"

// WriteSet extends a ConflictSet with the set of affected streams and the
// speculative updates recorded against them.
type WriteSet struct {
	*ConflictSet

	mu        sync.Mutex
	streams   []StreamID
	streamSet map[StreamID]struct{}
	smr       *MultiSMREntry
}

// NewWriteSet returns an empty write set.
func NewWriteSet() *WriteSet {
	return &WriteSet{
		ConflictSet: NewConflictSet(),
		streamSet:   make(map[StreamID]struct{}),
		smr:         NewMultiSMREntry(),
	}
}

// AddUpdate records a speculative update against p: it adds p's conflict
// parameters (the same bookkeeping a read performs), marks p's stream
// affected, and appends entry to the
// speculative log. It returns the per-stream index of the new entry.
func (w *WriteSet) AddUpdate(p *Proxy, entry SMREntry, params ...ConflictParam) int {
	w.ConflictSet.AddRead(p, params...)

	stream := p.Stream()
	w.mu.Lock()
	if _, ok := w.streamSet[stream]; !ok {
		w.streamSet[stream] = struct{}{}
		w.streams = append(w.streams, stream)
	}
	w.mu.Unlock()

	return w.smr.Add(stream, entry)
}

// Streams returns the affected streams, in first-affected order.
func (w *WriteSet) Streams() []StreamID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]StreamID(nil), w.streams...)
}

// Entries returns the speculative Multi-Object SMR Entry.
func (w *WriteSet) Entries() *MultiSMREntry {
	return w.smr
}

// IsEmpty reports whether no updates have been recorded.
func (w *WriteSet) IsEmpty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.streams) == 0
}

// Merge folds child into w: unions conflict fingerprints and affected
// streams, and appends child's speculative entries after w's own, preserving
// order. Used when a nested transaction commits into its parent.
func (w *WriteSet) Merge(child *WriteSet) {
	if child == nil {
		return
	}
	w.ConflictSet.Merge(child.ConflictSet)

	child.mu.Lock()
	childStreams := append([]StreamID(nil), child.streams...)
	child.mu.Unlock()

	w.mu.Lock()
	for _, s := range childStreams {
		if _, ok := w.streamSet[s]; !ok {
			w.streamSet[s] = struct{}{}
			w.streams = append(w.streams, s)
		}
	}
	w.mu.Unlock()

	w.smr.Append(child.smr)
}
