// Package rpclog exposes a Sequencer and Log over gRPC. No protoc-generated
// stubs exist anywhere in this module, so rather than hand-fabricate
// protoc-gen-go output, the wire format is plain JSON carried over grpc's
// codec extension point (encoding.RegisterCodec), with a hand-written
// grpc.ServiceDesc standing in for generated service registration.
package rpclog

import "github.com/chn0318/txengine/engine"

// ServiceName is the gRPC service name the hand-written ServiceDesc
// registers under.
const ServiceName = "txengine.rpclog.TxLog"

type nextTokenRequest struct {
	Streams []engine.StreamID `json:"streams"`
	Count   uint32             `json:"count"`
}

type nextTokenResponse struct {
	Token        engine.Address                    `json:"token"`
	Backpointers map[engine.StreamID]engine.Address `json:"backpointers"`
}

type appendRequest struct {
	Streams    []engine.StreamID       `json:"streams"`
	Payload    *engine.MultiSMREntry   `json:"payload"`
	Resolution engine.TxResolutionInfo `json:"resolution"`
}

type appendAtRequest struct {
	Token      engine.Address           `json:"token"`
	Streams    []engine.StreamID        `json:"streams"`
	Payload    *engine.MultiSMREntry    `json:"payload"`
	Resolution engine.TxResolutionInfo  `json:"resolution"`
}

type appendResponse struct {
	Address engine.Address `json:"address"`
	// ErrKind/ErrMsg carry a typed error across the wire when the append was
	// rejected rather than failed outright, so the client can reconstruct
	// *engine.ConflictAbortError, *engine.TrimAbortError, or
	// *engine.OverwriteError instead of collapsing every rejection into a
	// generic error string.
	ErrKind string         `json:"err_kind,omitempty"`
	ErrMsg  string         `json:"err_msg,omitempty"`
	Conflict struct {
		Stream  engine.StreamID `json:"stream"`
		Address engine.Address  `json:"address"`
	} `json:"conflict,omitempty"`
}

type readRequest struct {
	Address engine.Address `json:"address"`
}

type readResponse struct {
	Type         engine.LogDataType                 `json:"type"`
	Payload      *engine.MultiSMREntry               `json:"payload,omitempty"`
	Backpointers map[engine.StreamID]engine.Address `json:"backpointers,omitempty"`
	ErrMsg       string                              `json:"err_msg,omitempty"`
}

type fillHoleRequest struct {
	Address engine.Address `json:"address"`
}

type fillHoleResponse struct {
	ErrMsg string `json:"err_msg,omitempty"`
}

type streamRangeRequest struct {
	Stream engine.StreamID `json:"stream"`
	From   engine.Address  `json:"from"`
	To     engine.Address  `json:"to"`
}

type streamRangeResponse struct {
	Entries []engine.AddressedEntry `json:"entries"`
	ErrMsg  string                  `json:"err_msg,omitempty"`
}
