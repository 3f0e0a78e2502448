package infra

import (
	"context"
	"sync/atomic"

	"google.golang.org/grpc/status"

	"github.com/NirvanaNimbusa/grpc-server-go/infra/transport"
)

// The four handler shapes. Which one a method expects is fixed by the
// streaming flags on its MethodDesc.
type (
	// UnaryHandler serves a single request / single response method.
	UnaryHandler func(ctx context.Context, req any) (any, error)

	// ClientStreamHandler consumes a request stream and returns one response.
	ClientStreamHandler func(ctx context.Context, stream *RequestStream) (any, error)

	// ServerStreamHandler takes one request and pushes a response stream.
	ServerStreamHandler func(ctx context.Context, req any, stream *ResponseStream) error

	// BidiStreamHandler reads and writes freely; both directions are
	// independent.
	BidiStreamHandler func(ctx context.Context, stream *BidiStream) error
)

// RequestStream is the lazy sequence of deserialized requests handed to
// client-streaming handlers. Recv returns io.EOF once the remote
// half-closes.
type RequestStream struct {
	ss          *transport.ServerStream
	deserialize DeserializeFunc
}

func (r *RequestStream) Recv() (any, error) {
	b, err := r.ss.Recv()
	if err != nil {
		return nil, err
	}
	return r.deserialize(b)
}

// ResponseStream is the push-based response emitter handed to
// server-streaming handlers.
type ResponseStream struct {
	ss        *transport.ServerStream
	serialize SerializeFunc
}

func (w *ResponseStream) Send(v any) error {
	b, err := w.serialize(v)
	if err != nil {
		return err
	}
	return w.ss.Send(b)
}

// BidiStream combines both directions for bidirectional handlers.
type BidiStream struct {
	*RequestStream
	*ResponseStream
}

// callContext is the per-call bookkeeping: the underlying stream, the
// resolved registry entry and the completion guard that makes the terminal
// status exactly-once.
type callContext struct {
	ss        *transport.ServerStream
	entry     *handlerEntry
	completed atomic.Bool
}

// finish sends the terminal status unless one already went out.
func (c *callContext) finish(st *status.Status) {
	if !c.completed.CompareAndSwap(false, true) {
		return
	}
	c.ss.WriteStatus(uint32(st.Code()), st.Message())
}

// finished reports whether a terminal status was already sent.
func (c *callContext) finished() bool {
	return c.completed.Load()
}
