package rpclog

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is registered with grpc's encoding package in init, so any call
// made with content subtype "json" (grpc.CallContentSubtype(CodecName)) is
// encoded with it; it does not replace grpc's default codec. grpc-go
// resolves the codec per-call from the content subtype, on the server as
// well, same extension point protoc-gen-go-grpc itself builds on.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpclog: json unmarshal: %w", err)
	}
	return nil
}
