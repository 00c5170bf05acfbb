package engine

import "context"

// TokenResponse is the sequencer's reply to a token request: the issued
// token and, per affected stream, the previous address on that stream.
type TokenResponse struct {
	Token         Address
	Backpointers  map[StreamID]Address
}

// TxResolutionInfo is the wire-level description of a transaction's conflict
// footprint, carried alongside a log append so the sequencer can resolve it
// atomically against concurrent commits.
type TxResolutionInfo struct {
	TxID     TxID
	Snapshot Address
	Reads    map[StreamID]map[Fingerprint]struct{}
	Writes   map[StreamID]map[Fingerprint]struct{}
	// Verified tells the sequencer not to re-flag these streams below these
	// addresses for this transaction; populated by precise-conflict resolution.
	Verified map[StreamID]Address
}

// ConflictAbortError is returned by Sequencer.Append when a fingerprint in
// the resolution's read set has been updated since its snapshot.
type ConflictAbortError struct {
	ConflictStream  StreamID
	ConflictAddress Address
}

func (e *ConflictAbortError) Error() string {
	return "engine: conflict abort on stream " + e.ConflictStream.String()
}

// TrimAbortError is returned when a required log range has been garbage
// collected, either during a sequencer append or during a sync/scan.
type TrimAbortError struct {
	Stream StreamID
	At     Address
}

func (e *TrimAbortError) Error() string {
	return "engine: trimmed range required on stream " + e.Stream.String()
}

// OverwriteError is raised when an append targets an address that already
// holds data or a hole. At the commit-installation boundary this is a fatal
// invariant violation, not a retryable condition.
type OverwriteError struct {
	At Address
}

func (e *OverwriteError) Error() string {
	return "engine: overwrite at address " + e.At.String()
}

// Sequencer issues totally ordered tokens and atomically resolves commits
// against concurrent writers.
type Sequencer interface {
	// NextToken issues the next address(es) for the given streams (count may
	// be 0 to fetch a pure snapshot with no reservation) and reports the
	// previous address on each stream.
	NextToken(ctx context.Context, streams []StreamID, count uint32) (TokenResponse, error)

	// Append is an atomic next-token-plus-log-write: it assigns a position
	// only if no fingerprint in resolution.Reads has been updated since
	// resolution.Snapshot (subject to resolution.Verified), then durably
	// stores payload at that position on every stream in streams.
	Append(ctx context.Context, streams []StreamID, payload *MultiSMREntry, resolution TxResolutionInfo) (Address, error)

	// AppendAt finalizes a write at a token already reserved by NextToken
	// (used by DEFERRED commit: acquire a token first, run
	// deferred closures, then finalize at that exact token). It succeeds
	// iff no fingerprint in resolution.Reads has been updated in
	// (resolution.Snapshot, token].
	AppendAt(ctx context.Context, token Address, streams []StreamID, payload *MultiSMREntry, resolution TxResolutionInfo) (Address, error)
}

// LogDataType classifies what a log read returned.
type LogDataType int

const (
	LogDataEntry LogDataType = iota
	LogDataHole
)

// LogData is the result of reading one log address.
type LogData struct {
	Type         LogDataType
	Payload      *MultiSMREntry
	Backpointers map[StreamID]Address
}

// AddressedEntry pairs a log address with the SMR entry it carried on one
// particular stream.
type AddressedEntry struct {
	Address Address
	Entry   SMREntry
}

// Log is the physical log / address-space service.
type Log interface {
	// Read retrieves the full multi-object payload stored at addr.
	Read(ctx context.Context, addr Address) (LogData, error)

	// FillHole marks addr as a hole; a subsequent Append there returns
	// OverwriteError.
	FillHole(ctx context.Context, addr Address) error

	// StreamRange returns, in ascending address order, every committed
	// SMREntry on stream with address in [from, to]. It is the primitive
	// both Version-Locked Object sync and precise-conflict scanning are
	// built on. A range that overlaps a trimmed prefix returns TrimAbortError.
	StreamRange(ctx context.Context, stream StreamID, from, to Address) ([]AddressedEntry, error)
}
