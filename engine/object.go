package engine

// MaterializedObject is a user object class replicated by a Proxy: a map,
// set, or counter whose mutations are deterministic SMR entries.
type MaterializedObject interface {
	// Apply executes method with args against the object's current state,
	// returning the upcall result (if any) and an inverse undo record (if
	// the mutation is undoable).
	Apply(method string, args []byte) (result []byte, undo *UndoRecord, err error)

	// ConflictParamsFor returns the conflict parameters that applying
	// method/args would declare, without executing it. Used by precise
	// conflict resolution (4.4.7) to compare a committed entry's conflict
	// footprint against a transaction's own conflict parameters. May return
	// a single ConflictAll to mean "conflicts with everything."
	ConflictParamsFor(method string, args []byte) []ConflictParam

	// Reset restores the object to its empty, pre-log state. Used when a
	// sync cannot undo its way back to a target version and must replay
	// from the stream's origin instead.
	Reset()
}
