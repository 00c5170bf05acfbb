package rpclog

import (
	"context"
	"errors"

	"google.golang.org/grpc"

	"github.com/chn0318/txengine/engine"
)

// Server adapts an engine.Sequencer and engine.Log pair to the TxLog gRPC
// service.
type Server struct {
	seq engine.Sequencer
	log engine.Log
}

// NewServer wraps seq and log for gRPC serving.
func NewServer(seq engine.Sequencer, log engine.Log) *Server {
	return &Server{seq: seq, log: log}
}

// Register attaches the TxLog service to gs, registering the JSON codec as a
// side effect of importing this package.
func Register(gs *grpc.Server, srv *Server) {
	gs.RegisterService(&serviceDesc, srv)
}

func (s *Server) nextToken(ctx context.Context, req *nextTokenRequest) (*nextTokenResponse, error) {
	resp, err := s.seq.NextToken(ctx, req.Streams, req.Count)
	if err != nil {
		return nil, err
	}
	return &nextTokenResponse{Token: resp.Token, Backpointers: resp.Backpointers}, nil
}

func (s *Server) appendEntry(ctx context.Context, req *appendRequest) (*appendResponse, error) {
	addr, err := s.seq.Append(ctx, req.Streams, req.Payload, req.Resolution)
	return buildAppendResponse(addr, err)
}

func (s *Server) appendAt(ctx context.Context, req *appendAtRequest) (*appendResponse, error) {
	addr, err := s.seq.AppendAt(ctx, req.Token, req.Streams, req.Payload, req.Resolution)
	return buildAppendResponse(addr, err)
}

func buildAppendResponse(addr engine.Address, err error) (*appendResponse, error) {
	resp := &appendResponse{Address: addr}
	if err == nil {
		return resp, nil
	}
	var conflict *engine.ConflictAbortError
	var trim *engine.TrimAbortError
	var overwrite *engine.OverwriteError
	switch {
	case errors.As(err, &conflict):
		resp.ErrKind = "conflict"
		resp.ErrMsg = conflict.Error()
		resp.Conflict.Stream = conflict.ConflictStream
		resp.Conflict.Address = conflict.ConflictAddress
	case errors.As(err, &trim):
		resp.ErrKind = "trim"
		resp.ErrMsg = trim.Error()
		resp.Conflict.Stream = trim.Stream
		resp.Conflict.Address = trim.At
	case errors.As(err, &overwrite):
		resp.ErrKind = "overwrite"
		resp.ErrMsg = overwrite.Error()
		resp.Conflict.Address = overwrite.At
	default:
		resp.ErrKind = "unknown"
		resp.ErrMsg = err.Error()
	}
	return resp, nil
}

func (s *Server) read(ctx context.Context, req *readRequest) (*readResponse, error) {
	data, err := s.log.Read(ctx, req.Address)
	if err != nil {
		return &readResponse{ErrMsg: err.Error()}, nil
	}
	return &readResponse{Type: data.Type, Payload: data.Payload, Backpointers: data.Backpointers}, nil
}

func (s *Server) fillHole(ctx context.Context, req *fillHoleRequest) (*fillHoleResponse, error) {
	if err := s.log.FillHole(ctx, req.Address); err != nil {
		return &fillHoleResponse{ErrMsg: err.Error()}, nil
	}
	return &fillHoleResponse{}, nil
}

func (s *Server) streamRange(ctx context.Context, req *streamRangeRequest) (*streamRangeResponse, error) {
	entries, err := s.log.StreamRange(ctx, req.Stream, req.From, req.To)
	if err != nil {
		return &streamRangeResponse{ErrMsg: err.Error()}, nil
	}
	return &streamRangeResponse{Entries: entries}, nil
}

func nextTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(nextTokenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).nextToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/NextToken"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).nextToken(ctx, req.(*nextTokenRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func appendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(appendRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).appendEntry(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Append"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).appendEntry(ctx, req.(*appendRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func appendAtHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(appendAtRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).appendAt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/AppendAt"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).appendAt(ctx, req.(*appendAtRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func readHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(readRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Read"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).read(ctx, req.(*readRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func fillHoleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(fillHoleRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).fillHole(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/FillHole"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).fillHole(ctx, req.(*fillHoleRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamRangeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(streamRangeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).streamRange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/StreamRange"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).streamRange(ctx, req.(*streamRangeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc stands in for the protoc-gen-go-grpc-generated ServiceDesc
// this module never generated one of; every field here is the same shape
// generated code would produce.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "NextToken", Handler: nextTokenHandler},
		{MethodName: "Append", Handler: appendHandler},
		{MethodName: "AppendAt", Handler: appendAtHandler},
		{MethodName: "Read", Handler: readHandler},
		{MethodName: "FillHole", Handler: fillHoleHandler},
		{MethodName: "StreamRange", Handler: streamRangeHandler},
	},
	Metadata: "txengine/rpclog.proto",
}
