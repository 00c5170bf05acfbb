package engine

// WriteSetStreamView presents the write set for one stream as a positioned,
// replayable sub-log. Across nested transactions it concatenates the write
// sets from root to leaf in stack order; a single position advances linearly
// through the concatenation. It does not support append or seek — the
// commit path mutates write sets directly instead.
type WriteSetStreamView struct {
	stream StreamID
	layers []*WriteSet // root-to-leaf order; layers[len-1] is this context's own write set
	pos    int
}

// NewWriteSetStreamView builds a view over stream backed by layers, which
// must be ordered root-to-leaf with the owning context's write set last.
func NewWriteSetStreamView(stream StreamID, layers []*WriteSet) *WriteSetStreamView {
	return &WriteSetStreamView{stream: stream, layers: append([]*WriteSet(nil), layers...)}
}

func (v *WriteSetStreamView) all() []SMREntry {
	var out []SMREntry
	for _, ws := range v.layers {
		out = append(out, ws.Entries().Entries(v.stream)...)
	}
	return out
}

// owner is the write set that backs this view's leaf layer.
func (v *WriteSetStreamView) owner() *WriteSet {
	if len(v.layers) == 0 {
		return nil
	}
	return v.layers[len(v.layers)-1]
}

// Current returns the entry at the current position without advancing.
func (v *WriteSetStreamView) Current() (SMREntry, bool) {
	all := v.all()
	if v.pos < 0 || v.pos >= len(all) {
		return SMREntry{}, false
	}
	return all[v.pos], true
}

// Previous moves the position back by one and returns the entry now current.
func (v *WriteSetStreamView) Previous() (SMREntry, bool) {
	if v.pos <= 0 {
		return SMREntry{}, false
	}
	v.pos--
	return v.Current()
}

// Advance moves the position forward by one.
func (v *WriteSetStreamView) Advance() { v.pos++ }

// RemainingUpTo returns entries from the current position up to (excluding)
// limit, and advances the position to limit.
func (v *WriteSetStreamView) RemainingUpTo(limit int) []SMREntry {
	all := v.all()
	if limit > len(all) {
		limit = len(all)
	}
	if v.pos >= limit {
		return nil
	}
	out := append([]SMREntry(nil), all[v.pos:limit]...)
	v.pos = limit
	return out
}

// AppliedSoFar returns the entries at positions [0, pos) — the entries this
// view has already applied to a Version-Locked Object's overlay.
func (v *WriteSetStreamView) AppliedSoFar() []SMREntry {
	all := v.all()
	if v.pos > len(all) {
		return all
	}
	return append([]SMREntry(nil), all[:v.pos]...)
}

// Pos returns the current position.
func (v *WriteSetStreamView) Pos() int { return v.pos }

// Reset rewinds the position to the start.
func (v *WriteSetStreamView) Reset() { v.pos = 0 }

// Len returns the total number of entries across all layers.
func (v *WriteSetStreamView) Len() int { return len(v.all()) }

// locate maps a global position to the underlying write set and its
// stream-local index, for writing cached results back to storage.
func (v *WriteSetStreamView) locate(globalIdx int) (*WriteSet, int) {
	offset := 0
	for _, ws := range v.layers {
		n := ws.Entries().Len(v.stream)
		if globalIdx < offset+n {
			return ws, globalIdx - offset
		}
		offset += n
	}
	return nil, -1
}

// SetResult caches the upcall result for the entry at globalIdx in its
// owning write set.
func (v *WriteSetStreamView) SetResult(globalIdx int, result []byte) {
	ws, local := v.locate(globalIdx)
	if ws == nil {
		return
	}
	ws.Entries().SetResult(v.stream, local, result)
}

// SetUndo records an undo record for the entry at globalIdx, best-effort.
func (v *WriteSetStreamView) SetUndo(globalIdx int, undo *UndoRecord) {
	ws, local := v.locate(globalIdx)
	if ws == nil {
		return
	}
	ws.Entries().SetUndo(v.stream, local, undo)
}

// IsBackedBy reports whether ws is the write set backing this view's leaf
// layer. Commit installation uses it to tell its own overlay apart from one
// installed by a different context on the same thread.
func (v *WriteSetStreamView) IsBackedBy(ws *WriteSet) bool {
	return v.owner() == ws
}

// IsStreamCurrentContextThreadCurrentContext reports whether this view's
// backing write set is identical to the calling thread's *current*
// (innermost) transactional context's write set.
func (v *WriteSetStreamView) IsStreamCurrentContextThreadCurrentContext(reg *TransactionRegistry) bool {
	cur := reg.Current()
	return cur != nil && cur.WriteSet() == v.owner()
}

// IsStreamForThisThread reports whether this view's backing write set
// belongs to the calling thread's *root* transactional context. This is a
// distinct predicate from IsStreamCurrentContextThreadCurrentContext: this
// one asks "does this overlay belong to the root of this thread's context
// stack", the other asks "does this overlay belong to the innermost context".
func (v *WriteSetStreamView) IsStreamForThisThread(reg *TransactionRegistry) bool {
	root := reg.Root()
	return root != nil && root.WriteSet() == v.owner()
}
