package infra

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	"github.com/NirvanaNimbusa/grpc-server-go/infra/transport"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/utils"
)

// ClientConn is a minimal caller against one server address. It exists to
// exercise the server (tests, examples, tooling); it does no resolution,
// balancing or connection pooling.
type ClientConn struct {
	address string
	creds   credentials.TransportCredentials
}

func Dial(address string, creds credentials.TransportCredentials) (*ClientConn, error) {
	if address == "" {
		return nil, errors.New("grpcserver: address must be a non-empty string")
	}
	if creds == nil {
		return nil, errors.New("grpcserver: credentials must not be nil")
	}
	return &ClientConn{address: address, creds: creds}, nil
}

// ClientCall is one open call; it serializes outbound values and
// deserializes inbound ones with the method's codec pair.
type ClientCall struct {
	cs *transport.ClientStream
	md *MethodDesc
}

// NewCall opens a call to /<service>/<method> with the shape md declares.
func (c *ClientConn) NewCall(ctx context.Context, service string, md *MethodDesc) (*ClientCall, error) {
	cs, err := transport.NewClientStream(ctx, c.address, c.creds, transport.Header{
		Method:       utils.PathJoin(service, md.MethodName),
		ClientStream: md.ClientStream,
		ServerStream: md.ServerStream,
	})
	if err != nil {
		return nil, err
	}
	return &ClientCall{cs: cs, md: md}, nil
}

func (c *ClientCall) Send(v any) error {
	b, err := c.md.RequestSerialize(v)
	if err != nil {
		return err
	}
	return c.cs.Send(b)
}

func (c *ClientCall) CloseSend() error {
	return c.cs.CloseSend()
}

// Recv returns the next deserialized response, io.EOF once the server
// terminated the call.
func (c *ClientCall) Recv() (any, error) {
	b, err := c.cs.Recv()
	if err != nil {
		return nil, err
	}
	return c.md.ResponseDeserialize(b)
}

// Finish waits for the terminal status.
func (c *ClientCall) Finish() (*status.Status, error) {
	tr, err := c.cs.Trailer()
	if err != nil {
		return nil, err
	}
	return status.New(codes.Code(tr.Code), tr.Message), nil
}

// Cancel aborts the call.
func (c *ClientCall) Cancel() {
	c.cs.Cancel()
}

// Invoke performs a unary call: one request, one response, non-OK statuses
// returned as status errors.
func (c *ClientConn) Invoke(ctx context.Context, service string, md *MethodDesc, req any) (any, error) {
	call, err := c.NewCall(ctx, service, md)
	if err != nil {
		return nil, err
	}
	if err := call.Send(req); err != nil {
		return nil, err
	}
	if err := call.CloseSend(); err != nil {
		return nil, err
	}

	var resp any
	for {
		v, err := call.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		resp = v
	}

	st, err := call.Finish()
	if err != nil {
		return nil, err
	}
	if st.Code() != codes.OK {
		return nil, st.Err()
	}
	return resp, nil
}
