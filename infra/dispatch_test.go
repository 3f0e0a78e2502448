package infra

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/NirvanaNimbusa/grpc-server-go/infra/transport"
)

// stringMethod runs raw strings over the wire: serialize is
// identity-to-bytes, deserialize is bytes-to-string.
func stringMethod(name string, clientStream, serverStream bool) MethodDesc {
	return MethodDesc{
		MethodName:   name,
		ClientStream: clientStream,
		ServerStream: serverStream,
		RequestSerialize: func(v any) ([]byte, error) {
			return []byte(v.(string)), nil
		},
		RequestDeserialize: func(data []byte) (any, error) {
			return string(data), nil
		},
		ResponseSerialize: func(v any) ([]byte, error) {
			return []byte(v.(string)), nil
		},
		ResponseDeserialize: func(data []byte) (any, error) {
			return string(data), nil
		},
	}
}

func Test_UnimplementedDefaults(t *testing.T) {
	// a descriptor with no implementations at all: every method of every
	// shape terminates with Unimplemented
	_, port := newTestServer(t, echoServiceDesc(), nil)
	cc := dialTest(t, port)

	if _, err := cc.Invoke(context.Background(), "test.Echo", &jsonMethodDescs()[0], &testMessage{}); status.Code(err) != codes.Unimplemented {
		t.Fatalf("unary err = %v, want Unimplemented", err)
	}

	for _, md := range jsonMethodDescs()[1:] {
		md := md
		call, err := cc.NewCall(context.Background(), "test.Echo", &md)
		if err != nil {
			t.Fatal(err)
		}
		// the server may terminate before these land; only the status matters
		call.Send(&testMessage{Value: "ignored"})
		call.CloseSend()
		st, err := call.Finish()
		if err != nil {
			t.Fatal(err)
		}
		if st.Code() != codes.Unimplemented {
			t.Fatalf("%s status = %v, want Unimplemented", md.MethodName, st.Code())
		}
	}
}

func Test_UnregisteredPath(t *testing.T) {
	_, port := newTestServer(t, nil, nil)
	cc := dialTest(t, port)

	md := jsonMethod("Missing", false, false)
	if _, err := cc.Invoke(context.Background(), "test.Nowhere", &md, &testMessage{}); status.Code(err) != codes.Unimplemented {
		t.Fatalf("err = %v, want Unimplemented", err)
	}
}

func Test_UnaryEcho(t *testing.T) {
	_, port := newTestServer(t, echoServiceDesc(), map[string]any{
		"unaryEcho": func(ctx context.Context, req any) (any, error) {
			return req, nil
		},
	})
	cc := dialTest(t, port)

	resp, err := cc.Invoke(context.Background(), "test.Echo", &jsonMethodDescs()[0], &testMessage{Value: "test value", Value2: 3})
	if err != nil {
		t.Fatal(err)
	}
	got := resp.(*testMessage)
	if got.Value != "test value" || got.Value2 != 3 {
		t.Fatalf("echo reply = %+v", got)
	}
}

func Test_GenericCodec(t *testing.T) {
	md := stringMethod("Capitalize", false, false)
	sd := &ServiceDesc{ServiceName: "test.Str", Methods: []MethodDesc{md}}
	_, port := newTestServer(t, sd, map[string]any{
		"capitalize": func(ctx context.Context, req any) (any, error) {
			s := req.(string)
			if s == "" {
				return s, nil
			}
			return strings.ToUpper(s[:1]) + s[1:], nil
		},
	})
	cc := dialTest(t, port)

	resp, err := cc.Invoke(context.Background(), "test.Str", &md, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if resp.(string) != "Abc" {
		t.Fatalf("resp = %q, want %q", resp, "Abc")
	}
}

func Test_ClientStreaming(t *testing.T) {
	md := stringMethod("Concat", true, false)
	sd := &ServiceDesc{ServiceName: "test.Str", Methods: []MethodDesc{md}}
	_, port := newTestServer(t, sd, map[string]any{
		"concat": func(ctx context.Context, stream *RequestStream) (any, error) {
			var parts []string
			for {
				v, err := stream.Recv()
				if err == io.EOF {
					break
				}
				if err != nil {
					return nil, err
				}
				parts = append(parts, v.(string))
			}
			return strings.Join(parts, "-"), nil
		},
	})
	cc := dialTest(t, port)

	call, err := cc.NewCall(context.Background(), "test.Str", &md)
	if err != nil {
		t.Fatal(err)
	}
	for _, part := range []string{"a", "b", "c"} {
		if err := call.Send(part); err != nil {
			t.Fatal(err)
		}
	}
	if err := call.CloseSend(); err != nil {
		t.Fatal(err)
	}

	resp, err := call.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if resp.(string) != "a-b-c" {
		t.Fatalf("resp = %q, want %q", resp, "a-b-c")
	}
	st, err := call.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if st.Code() != codes.OK {
		t.Fatalf("status = %v, want OK", st.Code())
	}
}

func Test_ServerStreaming(t *testing.T) {
	md := stringMethod("Explode", false, true)
	sd := &ServiceDesc{ServiceName: "test.Str", Methods: []MethodDesc{md}}
	_, port := newTestServer(t, sd, map[string]any{
		"explode": func(ctx context.Context, req any, stream *ResponseStream) error {
			for _, r := range req.(string) {
				if err := stream.Send(string(r)); err != nil {
					return err
				}
			}
			return nil
		},
	})
	cc := dialTest(t, port)

	call, err := cc.NewCall(context.Background(), "test.Str", &md)
	if err != nil {
		t.Fatal(err)
	}
	if err := call.Send("xyz"); err != nil {
		t.Fatal(err)
	}
	if err := call.CloseSend(); err != nil {
		t.Fatal(err)
	}

	var got []string
	for {
		v, err := call.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, v.(string))
	}
	if strings.Join(got, "") != "xyz" {
		t.Fatalf("responses = %v", got)
	}
	st, err := call.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if st.Code() != codes.OK {
		t.Fatalf("status = %v, want OK", st.Code())
	}
}

func Test_BidiStreaming(t *testing.T) {
	md := stringMethod("Shout", true, true)
	sd := &ServiceDesc{ServiceName: "test.Str", Methods: []MethodDesc{md}}
	_, port := newTestServer(t, sd, map[string]any{
		"shout": func(ctx context.Context, stream *BidiStream) error {
			for {
				v, err := stream.Recv()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if err := stream.Send(strings.ToUpper(v.(string))); err != nil {
					return err
				}
			}
		},
	})
	cc := dialTest(t, port)

	call, err := cc.NewCall(context.Background(), "test.Str", &md)
	if err != nil {
		t.Fatal(err)
	}
	for _, in := range []string{"ping", "pong"} {
		if err := call.Send(in); err != nil {
			t.Fatal(err)
		}
		v, err := call.Recv()
		if err != nil {
			t.Fatal(err)
		}
		if v.(string) != strings.ToUpper(in) {
			t.Fatalf("reply = %q for %q", v, in)
		}
	}
	if err := call.CloseSend(); err != nil {
		t.Fatal(err)
	}
	if _, err := call.Recv(); err != io.EOF {
		t.Fatalf("expected EOF after close, got %v", err)
	}
	st, err := call.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if st.Code() != codes.OK {
		t.Fatalf("status = %v, want OK", st.Code())
	}
}

func Test_HandlerErrorMapping(t *testing.T) {
	md := stringMethod("Fail", false, false)
	sd := &ServiceDesc{
		ServiceName: "test.Err",
		Methods: []MethodDesc{
			md,
			stringMethod("FailPlain", false, false),
			stringMethod("Panic", false, false),
		},
	}
	_, port := newTestServer(t, sd, map[string]any{
		"fail": func(ctx context.Context, req any) (any, error) {
			return nil, status.Error(codes.PermissionDenied, "nope")
		},
		"failPlain": func(ctx context.Context, req any) (any, error) {
			return nil, errors.New("boom")
		},
		"panic": func(ctx context.Context, req any) (any, error) {
			panic("handler exploded")
		},
	})
	cc := dialTest(t, port)

	// explicit status codes pass through
	_, err := cc.Invoke(context.Background(), "test.Err", &md, "x")
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("err = %v, want PermissionDenied", err)
	}

	// plain errors map to Unknown
	mdPlain := stringMethod("FailPlain", false, false)
	_, err = cc.Invoke(context.Background(), "test.Err", &mdPlain, "x")
	if status.Code(err) != codes.Unknown {
		t.Fatalf("err = %v, want Unknown", err)
	}

	// a panicking handler is isolated to its call and maps to Unknown
	mdPanic := stringMethod("Panic", false, false)
	_, err = cc.Invoke(context.Background(), "test.Err", &mdPanic, "x")
	if status.Code(err) != codes.Unknown {
		t.Fatalf("err = %v, want Unknown", err)
	}

	// the server survived the panic
	mdOK := stringMethod("Fail", false, false)
	if _, err := cc.Invoke(context.Background(), "test.Err", &mdOK, "y"); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("server did not survive the panic: %v", err)
	}
}

func Test_ShapeMismatch(t *testing.T) {
	_, port := newTestServer(t, echoServiceDesc(), map[string]any{
		"unaryEcho": func(ctx context.Context, req any) (any, error) {
			return req, nil
		},
	})

	// the remote claims a streaming shape for a method registered unary
	cs, err := transport.NewClientStream(context.Background(), testAddr(port), insecure.NewCredentials(), transport.Header{
		Method:       "/test.Echo/UnaryEcho",
		ClientStream: true,
		ServerStream: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	cs.CloseSend()
	tr, err := cs.Trailer()
	if err != nil {
		t.Fatal(err)
	}
	if codes.Code(tr.Code) != codes.Internal {
		t.Fatalf("status = %v, want Internal", codes.Code(tr.Code))
	}
}
