package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// StreamID identifies one replicated object's sub-log. Opaque, 128-bit.
type StreamID = uuid.UUID

// NewStreamID allocates a fresh random stream identifier.
func NewStreamID() StreamID { return uuid.New() }

// TxID identifies one transaction attempt.
type TxID = uuid.UUID

// NewTxID allocates a fresh transaction identifier.
func NewTxID() TxID { return uuid.New() }

// Address is a 64-bit monotonically increasing log position.
type Address uint64

const (
	// OriginAddress precedes every real log position; a Version-Locked
	// Object at OriginAddress has applied nothing.
	OriginAddress Address = 0

	// MaxAddress is the highest representable address, reserved as a sentinel.
	MaxAddress Address = ^Address(0)

	// NeverReadAddress marks a snapshot that has not yet been fetched.
	NeverReadAddress Address = MaxAddress - 1

	// NoWriteAddress is returned by a read-only commit.
	NoWriteAddress Address = MaxAddress - 2

	// FoldedAddress is returned by a nested commit that folded into its parent.
	FoldedAddress Address = MaxAddress - 3
)

func (a Address) String() string {
	switch a {
	case MaxAddress:
		return "MAX"
	case NeverReadAddress:
		return "NEVER_READ"
	case NoWriteAddress:
		return "NOWRITE_ADDRESS"
	case FoldedAddress:
		return "FOLDED_ADDRESS"
	default:
		return fmt.Sprintf("%d", uint64(a))
	}
}

// TransactionStreamID is the fixed stream that receives a mirror of every
// committing transaction when transaction logging is enabled.
var TransactionStreamID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
