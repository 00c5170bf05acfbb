package engine

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// AbortCause classifies why a transaction failed to commit.
type AbortCause int

const (
	CauseConflict AbortCause = iota
	CausePreciseConflict
	CauseTrim
	CauseSequencerFail
	CauseNetwork
	CauseUser
	CauseUndefined
)

func (c AbortCause) String() string {
	switch c {
	case CauseConflict:
		return "CONFLICT"
	case CausePreciseConflict:
		return "PRECISE_CONFLICT"
	case CauseTrim:
		return "TRIM"
	case CauseSequencerFail:
		return "SEQUENCER_FAIL"
	case CauseNetwork:
		return "NETWORK"
	case CauseUser:
		return "USER"
	default:
		return "UNDEFINED"
	}
}

// TransactionAbortedError is delivered to callers whenever a transaction
// cannot commit.
type TransactionAbortedError struct {
	TxID            TxID
	Cause           AbortCause
	ConflictStream  StreamID
	ConflictAddress Address
	Precise         bool
	Err             error
}

func (e *TransactionAbortedError) Error() string {
	if e.Cause == CauseConflict || e.Cause == CausePreciseConflict {
		return fmt.Sprintf("transaction %s aborted: %s on stream %s at %s", e.TxID, e.Cause, e.ConflictStream, e.ConflictAddress)
	}
	if e.Err != nil {
		return fmt.Sprintf("transaction %s aborted: %s: %v", e.TxID, e.Cause, e.Err)
	}
	return fmt.Sprintf("transaction %s aborted: %s", e.TxID, e.Cause)
}

func (e *TransactionAbortedError) Unwrap() error { return e.Err }

// classifyAbortCause maps a raw backend error into the abort taxonomy.
func classifyAbortCause(err error) AbortCause {
	var tae *TransactionAbortedError
	if errors.As(err, &tae) {
		return tae.Cause
	}
	var conflict *ConflictAbortError
	if errors.As(err, &conflict) {
		return CauseConflict
	}
	var trim *TrimAbortError
	if errors.As(err, &trim) {
		return CauseTrim
	}
	return CauseNetwork
}

// WrapAsAbort classifies err and wraps it as a TransactionAbortedError for txid.
func WrapAsAbort(txid TxID, err error) *TransactionAbortedError {
	if err == nil {
		return nil
	}
	var tae *TransactionAbortedError
	if errors.As(err, &tae) {
		return tae
	}
	cause := classifyAbortCause(err)
	out := &TransactionAbortedError{TxID: txid, Cause: cause, Err: pkgerrors.WithStack(err)}
	var conflict *ConflictAbortError
	if errors.As(err, &conflict) {
		out.ConflictStream = conflict.ConflictStream
		out.ConflictAddress = conflict.ConflictAddress
	}
	return out
}

// NewUserAbort builds the abort error for an explicit caller-requested abort.
func NewUserAbort(txid TxID) *TransactionAbortedError {
	return &TransactionAbortedError{TxID: txid, Cause: CauseUser}
}
