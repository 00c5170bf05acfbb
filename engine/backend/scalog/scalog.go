// Package scalog adapts scalog's replicated shared log into engine.Sequencer
// and engine.Log: round-robin a pool of scalog clients, JSON-encode records,
// and layer this module's addressing on top of scalog's total order.
//
// scalog's AppendOne gives total order per shard but no conditional append,
// so fingerprint-based conflict resolution is done locally against a cache
// of every write this process has seen, the same structure memorylog uses.
// A multi-writer deployment that wants cross-process precise conflict
// detection needs scalog-side support this client API doesn't expose; single
// writer use (one txengine process per scalog instance) resolves correctly.
package scalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chn0318/scalog/client"
	"github.com/chn0318/scalog/pkg/address"
	"github.com/spf13/viper"

	"github.com/chn0318/txengine/engine"
)

// record is what AppendOne actually carries: the multi-stream SMR payload
// plus the resolution info, so a reader can reconstruct conflict footprints
// without a side channel.
type record struct {
	Streams    []engine.StreamID       `json:"streams"`
	Payload    *engine.MultiSMREntry   `json:"payload"`
	Resolution engine.TxResolutionInfo `json:"resolution"`
}

// Backend wraps a pool of scalog clients as an engine.Sequencer and
// engine.Log. All writes and conflict bookkeeping go through a single
// process-local mutex: scalog gives durability and replication, this layer
// gives the transaction engine's ordering and conflict semantics.
type Backend struct {
	clients []*client.Client

	mu          sync.Mutex
	next        int
	tail        engine.Address
	records     map[engine.Address]record
	streamIndex map[engine.StreamID][]engine.Address
}

// NewBackend dials numClients scalog clients against the discovery and data
// addresses read from v (data-replication-factor, disc-ip, disc-port,
// data-port).
func NewBackend(v *viper.Viper, numClients int) (*Backend, error) {
	if v == nil {
		v = viper.GetViper()
	}
	numReplica := int32(v.GetInt("data-replication-factor"))
	discPort := uint16(v.GetInt("disc-port"))
	discIP := v.GetString("disc-ip")
	discAddr := address.NewGeneralDiscAddr(discIP, discPort)
	dataPort := uint16(v.GetInt("data-port"))
	dataAddr := address.NewGeneralDataAddr("data-%v-%v-ip", numReplica, dataPort)

	if numClients <= 0 {
		numClients = 4
	}
	clients := make([]*client.Client, 0, numClients)
	for i := 0; i < numClients; i++ {
		c, err := client.NewClient(dataAddr, discAddr, numReplica)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}

	return &Backend{
		clients:     clients,
		records:     make(map[engine.Address]record),
		streamIndex: make(map[engine.StreamID][]engine.Address),
	}, nil
}

func (b *Backend) pickClient() *client.Client {
	c := b.clients[b.next]
	b.next = (b.next + 1) % len(b.clients)
	return c
}

// NextToken mirrors memorylog's local bookkeeping; scalog itself has no
// concept of a reservation separate from an append.
func (b *Backend) NextToken(ctx context.Context, streams []engine.StreamID, count uint32) (engine.TokenResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	resp := engine.TokenResponse{Backpointers: b.backpointersLocked(streams)}
	if count == 0 {
		resp.Token = b.tail
		return resp, nil
	}
	b.tail += engine.Address(count)
	resp.Token = b.tail
	return resp, nil
}

func (b *Backend) Append(ctx context.Context, streams []engine.StreamID, payload *engine.MultiSMREntry, resolution engine.TxResolutionInfo) (engine.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkConflictLocked(streams, resolution, resolution.Snapshot, b.tail); err != nil {
		return engine.OriginAddress, err
	}
	return b.writeLocked(streams, payload, resolution)
}

func (b *Backend) AppendAt(ctx context.Context, token engine.Address, streams []engine.StreamID, payload *engine.MultiSMREntry, resolution engine.TxResolutionInfo) (engine.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.records[token]; exists {
		return engine.OriginAddress, &engine.OverwriteError{At: token}
	}
	if err := b.checkConflictLocked(streams, resolution, resolution.Snapshot, token-1); err != nil {
		return engine.OriginAddress, err
	}
	if token != b.tail+1 && token > b.tail {
		b.tail = token - 1
	}
	return b.writeAtLocked(token, streams, payload, resolution)
}

func (b *Backend) writeLocked(streams []engine.StreamID, payload *engine.MultiSMREntry, resolution engine.TxResolutionInfo) (engine.Address, error) {
	b.tail++
	return b.writeAtLocked(b.tail, streams, payload, resolution)
}

func (b *Backend) writeAtLocked(addr engine.Address, streams []engine.StreamID, payload *engine.MultiSMREntry, resolution engine.TxResolutionInfo) (engine.Address, error) {
	rec := record{Streams: streams, Payload: payload, Resolution: resolution}
	data, err := json.Marshal(rec)
	if err != nil {
		return engine.OriginAddress, err
	}
	c := b.pickClient()
	if _, _, err := c.AppendOne(string(data)); err != nil {
		return engine.OriginAddress, err
	}

	b.records[addr] = rec
	for _, s := range streams {
		b.streamIndex[s] = append(b.streamIndex[s], addr)
	}
	if addr > b.tail {
		b.tail = addr
	}
	return addr, nil
}

func (b *Backend) backpointersLocked(streams []engine.StreamID) map[engine.StreamID]engine.Address {
	bp := make(map[engine.StreamID]engine.Address, len(streams))
	for _, s := range streams {
		idx := b.streamIndex[s]
		if len(idx) == 0 {
			bp[s] = engine.NoWriteAddress
			continue
		}
		bp[s] = idx[len(idx)-1]
	}
	return bp
}

func (b *Backend) checkConflictLocked(streams []engine.StreamID, resolution engine.TxResolutionInfo, from, to engine.Address) error {
	for _, s := range streams {
		reads := resolution.Reads[s]
		if len(reads) == 0 {
			continue
		}
		lower := from
		if v, ok := resolution.Verified[s]; ok && v > lower {
			lower = v
		}
		for _, addr := range b.streamIndex[s] {
			if addr <= lower || addr > to {
				continue
			}
			written := b.records[addr].Resolution.Writes[s]
			for fp := range reads {
				if _, hit := written[fp]; hit {
					return &engine.ConflictAbortError{ConflictStream: s, ConflictAddress: addr}
				}
			}
		}
	}
	return nil
}

// Read re-fetches addr's record from the local cache; a cold client that
// never observed the append (e.g. after a restart) gets an error instead of
// a scalog-side lookup, since AppendOne's ack carries no retrievable handle
// back to (gsn, shard) for an arbitrary address in this client's API.
func (b *Backend) Read(ctx context.Context, addr engine.Address) (engine.LogData, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[addr]
	if !ok {
		return engine.LogData{}, fmt.Errorf("scalog: no locally cached record at address %s", addr)
	}
	return engine.LogData{Type: engine.LogDataEntry, Payload: rec.Payload, Backpointers: b.backpointersLocked(rec.Streams)}, nil
}

// FillHole is a local bookkeeping no-op: scalog has no hole-filling
// primitive, so a missing address simply stays missing from Read's cache.
func (b *Backend) FillHole(ctx context.Context, addr engine.Address) error {
	return nil
}

func (b *Backend) StreamRange(ctx context.Context, stream engine.StreamID, from, to engine.Address) ([]engine.AddressedEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []engine.AddressedEntry
	for _, addr := range b.streamIndex[stream] {
		if addr < from || addr > to {
			continue
		}
		for _, e := range b.records[addr].Payload.Entries(stream) {
			out = append(out, engine.AddressedEntry{Address: addr, Entry: e})
		}
	}
	return out, nil
}
