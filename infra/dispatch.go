package infra

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	wctx "github.com/NirvanaNimbusa/grpc-server-go/infra/internal/context"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/middleware"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/transport"
	"github.com/NirvanaNimbusa/grpc-server-go/pkg/safe"
)

func (s *Server) handleRawConn(rawConn net.Conn, creds credentials.TransportCredentials) {
	ss, err := transport.Accept(s.baseCtx, rawConn, creds)
	if err != nil {
		s.log.Debug("failed to open inbound stream", zap.Error(err))
		return
	}
	s.dispatch(ss)
}

// dispatch routes one inbound stream: resolve the registry entry, check the
// declared shape against the wire shape, run the matching handler and send
// exactly one terminal status.
func (s *Server) dispatch(ss *transport.ServerStream) {
	if !s.beginCall(ss) {
		ss.WriteStatus(uint32(codes.Unavailable), "server is shutting down")
		ss.Close()
		return
	}
	defer s.endCall(ss)

	call := &callContext{ss: ss}

	// the registry and the router table freeze at the Started transition,
	// before the first accept loop runs, so reads here are race-free
	entry := s.lookup(ss.Method())
	if entry == nil || entry.handler == nil {
		s.handleUnimplemented(call)
		return
	}
	call.entry = entry

	wireCS, wireSS := ss.Shape()
	if wireCS != entry.desc.ClientStream || wireSS != entry.desc.ServerStream {
		s.log.Error("call shape disagrees with the method descriptor",
			zap.String("method", entry.path),
			zap.Bool("wire_client_stream", wireCS),
			zap.Bool("wire_server_stream", wireSS))
		call.finish(status.New(codes.Internal, "call shape does not match the method definition"))
		return
	}

	switch h := entry.handler.(type) {
	case UnaryHandler:
		s.invokeUnary(call, h)
	case ClientStreamHandler:
		s.invokeClientStream(call, h)
	case ServerStreamHandler:
		s.invokeServerStream(call, h)
	case BidiStreamHandler:
		s.invokeBidi(call, h)
	}
}

// handleUnimplemented terminates calls against unregistered or
// implementation-less methods, discarding whatever the remote streams.
func (s *Server) handleUnimplemented(call *callContext) {
	call.finish(status.New(codes.Unimplemented, fmt.Sprintf("method %s is not implemented", call.ss.Method())))
	go safe.Run(func() {
		for {
			if _, err := call.ss.Recv(); err != nil {
				return
			}
		}
	})
}

func (s *Server) invokeUnary(call *callContext, h UnaryHandler) {
	ss := call.ss
	req, ok := s.recvSingleRequest(call)
	if !ok {
		return
	}

	var resp any
	err := safe.Call(func() error {
		var herr error
		resp, herr = s.applyUnary(ss.Context(), call.entry.path, h, req)
		return herr
	})
	if err != nil {
		call.finish(statusFromError(err))
		return
	}
	s.finishWithResponse(call, resp)
}

func (s *Server) invokeClientStream(call *callContext, h ClientStreamHandler) {
	ss := call.ss
	stream := &RequestStream{ss: ss, deserialize: call.entry.desc.RequestDeserialize}

	var resp any
	err := safe.Call(func() error {
		return s.applyStream(ss.Context(), call.entry.path, func(ctx context.Context) error {
			var herr error
			resp, herr = h(ctx, stream)
			return herr
		})
	})
	if err != nil {
		call.finish(statusFromError(err))
		return
	}
	s.finishWithResponse(call, resp)
}

func (s *Server) invokeServerStream(call *callContext, h ServerStreamHandler) {
	ss := call.ss
	req, ok := s.recvSingleRequest(call)
	if !ok {
		return
	}
	out := &ResponseStream{ss: ss, serialize: call.entry.desc.ResponseSerialize}

	err := safe.Call(func() error {
		return s.applyStream(ss.Context(), call.entry.path, func(ctx context.Context) error {
			return h(ctx, req, out)
		})
	})
	if err != nil {
		call.finish(statusFromError(err))
		return
	}
	call.finish(status.New(codes.OK, ""))
}

func (s *Server) invokeBidi(call *callContext, h BidiStreamHandler) {
	ss := call.ss
	stream := &BidiStream{
		RequestStream:  &RequestStream{ss: ss, deserialize: call.entry.desc.RequestDeserialize},
		ResponseStream: &ResponseStream{ss: ss, serialize: call.entry.desc.ResponseSerialize},
	}

	err := safe.Call(func() error {
		return s.applyStream(ss.Context(), call.entry.path, func(ctx context.Context) error {
			return h(ctx, stream)
		})
	})
	if err != nil {
		call.finish(statusFromError(err))
		return
	}
	call.finish(status.New(codes.OK, ""))
}

// recvSingleRequest reads and deserializes the one request of a
// unary-request call. A false return means the call was already finished.
func (s *Server) recvSingleRequest(call *callContext) (any, bool) {
	b, err := call.ss.Recv()
	if err != nil {
		call.finish(status.New(codes.Internal, "missing request message"))
		return nil, false
	}
	req, err := call.entry.desc.RequestDeserialize(b)
	if err != nil {
		call.finish(status.New(codes.Internal, fmt.Sprintf("request deserialization failed: %v", err)))
		return nil, false
	}
	return req, true
}

// finishWithResponse serializes and sends the single response of a
// unary-response call, then terminates with OK.
func (s *Server) finishWithResponse(call *callContext, resp any) {
	if call.finished() {
		return
	}
	b, err := call.entry.desc.ResponseSerialize(resp)
	if err != nil {
		call.finish(status.New(codes.Internal, fmt.Sprintf("response serialization failed: %v", err)))
		return
	}
	if err := call.ss.Send(b); err != nil {
		call.finish(status.New(codes.Internal, "failed to send response"))
		return
	}
	call.finish(status.New(codes.OK, ""))
}

// applyUnary runs the method's middleware chain ending at the unary
// handler. Methods without a chain run the handler directly.
func (s *Server) applyUnary(ctx context.Context, path string, h UnaryHandler, req any) (any, error) {
	router, ok := s.routers[path]
	if !ok {
		return h(ctx, req)
	}

	c := wctx.Wrap(ctx)
	middleware.SetFullMethodInto(c, path)
	middleware.SetRequestInto(c, req)
	middleware.SetCallTypeInto(c, middleware.UnaryCall)
	middleware.SetUnaryInvokerInto(c, middleware.UnaryInvoker(h))

	if err := router.Deep(c); err != nil {
		return nil, err
	}
	return middleware.GetResponseFrom(c), nil
}

// applyStream is the streaming counterpart; the stream objects travel
// inside the invoke closure.
func (s *Server) applyStream(ctx context.Context, path string, invoke func(ctx context.Context) error) error {
	router, ok := s.routers[path]
	if !ok {
		return invoke(ctx)
	}

	c := wctx.Wrap(ctx)
	middleware.SetFullMethodInto(c, path)
	middleware.SetCallTypeInto(c, middleware.StreamCall)
	middleware.SetStreamInvokerInto(c, middleware.StreamInvoker(func() error {
		return invoke(c)
	}))

	return router.Deep(c)
}

// statusFromError maps a handler error to its terminal status: the error's
// own status when it carries one, Unknown otherwise.
func statusFromError(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	return status.New(codes.Unknown, err.Error())
}
