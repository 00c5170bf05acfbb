package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// ConflictParam is an opaque value supplied alongside a read or a write,
// used to detect overlapping updates. Instances must marshal deterministically
// via encoding/json; simple values (strings, ints, small structs) are the
// intended shape.
type ConflictParam = any

// Fingerprint is a fixed-width digest of a conflict parameter.
type Fingerprint [32]byte

// ZeroFingerprint is the sentinel fingerprint for ConflictAll: the sequencer
// interprets it as a whole-stream conflict.
var ZeroFingerprint = Fingerprint{}

// MarshalText renders the fingerprint as hex, so it can be used as a JSON
// object key (the wire codec's TxResolutionInfo keys its read/write sets by
// Fingerprint).
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(f[:])), nil
}

// UnmarshalText parses the hex form written by MarshalText.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != len(f) {
		return fmt.Errorf("engine: fingerprint must be %d bytes, got %d", len(f), len(b))
	}
	copy(f[:], b)
	return nil
}

type allConflictParam struct{}

// ConflictAll is the sentinel conflict parameter meaning "conflicts with any
// update on this stream."
var ConflictAll ConflictParam = allConflictParam{}

type noConflictMarker struct{}

// NoConflict is the sentinel passed to a DEFERRED transaction's Access to
// request closure-capture semantics instead of a synchronous read.
var NoConflict ConflictParam = noConflictMarker{}

// FingerprintOf hashes a canonical JSON encoding of p. ConflictAll always
// hashes to ZeroFingerprint.
func FingerprintOf(p ConflictParam) Fingerprint {
	if _, ok := p.(allConflictParam); ok {
		return ZeroFingerprint
	}
	data, err := json.Marshal(p)
	if err != nil {
		// Parameters are documented to be simple, marshalable values; a
		// failure here means the caller violated that contract.
		panic("engine: conflict parameter is not JSON-marshalable: " + err.Error())
	}
	return sha256.Sum256(data)
}

// ConflictSet is a mapping from Proxy to the set of conflict parameters
// recorded against it during a transaction, plus a hashed view keyed by
// stream for the sequencer.
type ConflictSet struct {
	mu     sync.Mutex
	order  []*Proxy
	params map[*Proxy][]ConflictParam
}

// NewConflictSet returns an empty conflict set.
func NewConflictSet() *ConflictSet {
	return &ConflictSet{params: make(map[*Proxy][]ConflictParam)}
}

// AddRead records params against p.
func (cs *ConflictSet) AddRead(p *Proxy, params ...ConflictParam) {
	if len(params) == 0 {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.params[p]; !ok {
		cs.order = append(cs.order, p)
	}
	cs.params[p] = append(cs.params[p], params...)
}

// Proxies returns the proxies touched by this conflict set, in first-seen order.
func (cs *ConflictSet) Proxies() []*Proxy {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]*Proxy, len(cs.order))
	copy(out, cs.order)
	return out
}

// ParamsFor returns the conflict parameters recorded against p.
func (cs *ConflictSet) ParamsFor(p *Proxy) []ConflictParam {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]ConflictParam(nil), cs.params[p]...)
}

// Hashed produces the hashed view: stream id -> set of fingerprints.
func (cs *ConflictSet) Hashed() map[StreamID]map[Fingerprint]struct{} {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make(map[StreamID]map[Fingerprint]struct{})
	for _, p := range cs.order {
		stream := p.Stream()
		set, ok := out[stream]
		if !ok {
			set = make(map[Fingerprint]struct{})
			out[stream] = set
		}
		for _, param := range cs.params[p] {
			set[FingerprintOf(param)] = struct{}{}
		}
	}
	return out
}

// Merge unions other into cs, preserving first-seen order of new proxies.
func (cs *ConflictSet) Merge(other *ConflictSet) {
	if other == nil {
		return
	}
	other.mu.Lock()
	otherOrder := append([]*Proxy(nil), other.order...)
	otherParams := make(map[*Proxy][]ConflictParam, len(other.params))
	for p, params := range other.params {
		otherParams[p] = append([]ConflictParam(nil), params...)
	}
	other.mu.Unlock()

	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, p := range otherOrder {
		if _, ok := cs.params[p]; !ok {
			cs.order = append(cs.order, p)
		}
		cs.params[p] = append(cs.params[p], otherParams[p]...)
	}
}
