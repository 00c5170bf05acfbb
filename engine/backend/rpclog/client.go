package rpclog

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/chn0318/txengine/engine"
)

// Client implements engine.Sequencer and engine.Log by invoking the TxLog
// gRPC service directly through conn.Invoke, without a generated stub
// layer.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection. Callers should dial with
// grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpclog.CodecName)) so
// every call on conn uses the JSON codec registered by this package.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out,
		grpc.CallContentSubtype(CodecName))
}

func (c *Client) NextToken(ctx context.Context, streams []engine.StreamID, count uint32) (engine.TokenResponse, error) {
	req := &nextTokenRequest{Streams: streams, Count: count}
	resp := new(nextTokenResponse)
	if err := c.invoke(ctx, "NextToken", req, resp); err != nil {
		return engine.TokenResponse{}, err
	}
	return engine.TokenResponse{Token: resp.Token, Backpointers: resp.Backpointers}, nil
}

func (c *Client) Append(ctx context.Context, streams []engine.StreamID, payload *engine.MultiSMREntry, resolution engine.TxResolutionInfo) (engine.Address, error) {
	req := &appendRequest{Streams: streams, Payload: payload, Resolution: resolution}
	resp := new(appendResponse)
	if err := c.invoke(ctx, "Append", req, resp); err != nil {
		return engine.OriginAddress, err
	}
	return resp.Address, decodeAppendError(resp)
}

func (c *Client) AppendAt(ctx context.Context, token engine.Address, streams []engine.StreamID, payload *engine.MultiSMREntry, resolution engine.TxResolutionInfo) (engine.Address, error) {
	req := &appendAtRequest{Token: token, Streams: streams, Payload: payload, Resolution: resolution}
	resp := new(appendResponse)
	if err := c.invoke(ctx, "AppendAt", req, resp); err != nil {
		return engine.OriginAddress, err
	}
	return resp.Address, decodeAppendError(resp)
}

func decodeAppendError(resp *appendResponse) error {
	switch resp.ErrKind {
	case "":
		return nil
	case "conflict":
		return &engine.ConflictAbortError{ConflictStream: resp.Conflict.Stream, ConflictAddress: resp.Conflict.Address}
	case "trim":
		return &engine.TrimAbortError{Stream: resp.Conflict.Stream, At: resp.Conflict.Address}
	case "overwrite":
		return &engine.OverwriteError{At: resp.Conflict.Address}
	default:
		return fmt.Errorf("rpclog: %s", resp.ErrMsg)
	}
}

func (c *Client) Read(ctx context.Context, addr engine.Address) (engine.LogData, error) {
	req := &readRequest{Address: addr}
	resp := new(readResponse)
	if err := c.invoke(ctx, "Read", req, resp); err != nil {
		return engine.LogData{}, err
	}
	if resp.ErrMsg != "" {
		return engine.LogData{}, fmt.Errorf("rpclog: %s", resp.ErrMsg)
	}
	return engine.LogData{Type: resp.Type, Payload: resp.Payload, Backpointers: resp.Backpointers}, nil
}

func (c *Client) FillHole(ctx context.Context, addr engine.Address) error {
	req := &fillHoleRequest{Address: addr}
	resp := new(fillHoleResponse)
	if err := c.invoke(ctx, "FillHole", req, resp); err != nil {
		return err
	}
	if resp.ErrMsg != "" {
		return fmt.Errorf("rpclog: %s", resp.ErrMsg)
	}
	return nil
}

func (c *Client) StreamRange(ctx context.Context, stream engine.StreamID, from, to engine.Address) ([]engine.AddressedEntry, error) {
	req := &streamRangeRequest{Stream: stream, From: from, To: to}
	resp := new(streamRangeResponse)
	if err := c.invoke(ctx, "StreamRange", req, resp); err != nil {
		return nil, err
	}
	if resp.ErrMsg != "" {
		return nil, fmt.Errorf("rpclog: %s", resp.ErrMsg)
	}
	return resp.Entries, nil
}
