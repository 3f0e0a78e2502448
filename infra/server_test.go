package infra

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

type testMessage struct {
	Value  string `json:"value"`
	Value2 int    `json:"value2"`
}

func jsonSerialize(v any) ([]byte, error) {
	return json.Marshal(v)
}

func jsonDeserialize(data []byte) (any, error) {
	m := new(testMessage)
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

func jsonMethod(name string, clientStream, serverStream bool) MethodDesc {
	return MethodDesc{
		MethodName:          name,
		ClientStream:        clientStream,
		ServerStream:        serverStream,
		RequestSerialize:    jsonSerialize,
		RequestDeserialize:  jsonDeserialize,
		ResponseSerialize:   jsonSerialize,
		ResponseDeserialize: jsonDeserialize,
	}
}

func echoServiceDesc() *ServiceDesc {
	return &ServiceDesc{
		ServiceName: "test.Echo",
		Methods: []MethodDesc{
			jsonMethod("UnaryEcho", false, false),
			jsonMethod("Gather", true, false),
			jsonMethod("Scatter", false, true),
			jsonMethod("Pump", true, true),
		},
	}
}

func newTestServer(t *testing.T, sd *ServiceDesc, impls map[string]any, opts ...Option) (*Server, int) {
	t.Helper()
	s := NewServer(opts...)
	if sd != nil {
		if err := s.RegisterService(sd, impls); err != nil {
			t.Fatal(err)
		}
	}
	port, err := s.Bind("localhost:0", insecure.NewCredentials())
	if err != nil {
		t.Fatal(err)
	}
	if port <= 0 {
		t.Fatalf("expected a positive port, got %d", port)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.ForceShutdown)
	return s, port
}

func dialTest(t *testing.T, port int) *ClientConn {
	t.Helper()
	cc, err := Dial(testAddr(port), insecure.NewCredentials())
	if err != nil {
		t.Fatal(err)
	}
	return cc
}

func testAddr(port int) string {
	return "localhost:" + strconv.Itoa(port)
}

func Test_BindValidation(t *testing.T) {
	s := NewServer()

	if _, err := s.Bind("", insecure.NewCredentials()); err == nil {
		t.Fatal("expected an error for an empty address")
	}
	if _, err := s.Bind("localhost:0", nil); err == nil {
		t.Fatal("expected an error for nil credentials")
	}
	if err := s.BindAsync("localhost:0", insecure.NewCredentials(), nil); err == nil {
		t.Fatal("expected an error for a nil callback")
	}
	if s.NumBindings() != 0 {
		t.Fatalf("failed validations must not bind, got %d bindings", s.NumBindings())
	}
	if got := s.State(); got != Unbound {
		t.Fatalf("state = %v, want %v", got, Unbound)
	}
}

func Test_BindResolvesDistinctPorts(t *testing.T) {
	s := NewServer()
	defer s.ForceShutdown()

	seen := make(map[int]bool)
	for i := 0; i < 3; i++ {
		port, err := s.Bind("localhost:0", insecure.NewCredentials())
		if err != nil {
			t.Fatal(err)
		}
		if port <= 0 {
			t.Fatalf("expected a positive port, got %d", port)
		}
		if seen[port] {
			t.Fatalf("port %d resolved twice", port)
		}
		seen[port] = true
	}
	if s.NumBindings() != 3 {
		t.Fatalf("bindings = %d, want 3", s.NumBindings())
	}
	if got := s.State(); got != Bound {
		t.Fatalf("state = %v, want %v", got, Bound)
	}
}

func Test_BindAsync(t *testing.T) {
	s := NewServer()
	defer s.ForceShutdown()

	type result struct {
		port int
		err  error
	}
	ch := make(chan result, 1)
	if err := s.BindAsync("localhost:0", insecure.NewCredentials(), func(port int, err error) {
		ch <- result{port: port, err: err}
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatal(r.err)
		}
		if r.port <= 0 {
			t.Fatalf("expected a positive port, got %d", r.port)
		}
	case <-time.After(time.Second * 5):
		t.Fatal("bind callback never fired")
	}
}

func Test_BindFailureLeavesStateUntouched(t *testing.T) {
	s := NewServer()
	defer s.ForceShutdown()

	port, err := s.Bind("localhost:0", insecure.NewCredentials())
	if err != nil {
		t.Fatal(err)
	}

	// the port is taken, the transport error must surface unchanged
	if _, err := s.Bind(testAddr(port), insecure.NewCredentials()); err == nil {
		t.Fatal("expected the transport bind error")
	}
	if s.NumBindings() != 1 {
		t.Fatalf("bindings = %d, want 1", s.NumBindings())
	}
	if got := s.State(); got != Bound {
		t.Fatalf("state = %v, want %v", got, Bound)
	}
}

func Test_StartTwice(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	err := s.Start()
	if err == nil {
		t.Fatal("expected the second start to fail")
	}
	if !errors.Is(err, ErrServerStarted) {
		t.Fatalf("err = %v, want ErrServerStarted", err)
	}
}

func Test_BindAfterStart(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	if _, err := s.Bind("localhost:0", insecure.NewCredentials()); !errors.Is(err, ErrServerStarted) {
		t.Fatalf("err = %v, want ErrServerStarted", err)
	}
	if s.NumBindings() != 1 {
		t.Fatalf("bindings = %d, want 1", s.NumBindings())
	}
}

func Test_RegisterAfterStart(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	err := s.RegisterService(echoServiceDesc(), nil)
	if !errors.Is(err, ErrServerStarted) {
		t.Fatalf("err = %v, want ErrServerStarted", err)
	}
	if s.MethodCount() != 0 {
		t.Fatalf("method count = %d, want 0", s.MethodCount())
	}
}

func Test_DuplicateRegistration(t *testing.T) {
	s := NewServer()
	defer s.ForceShutdown()

	if err := s.RegisterService(echoServiceDesc(), nil); err != nil {
		t.Fatal(err)
	}
	before := s.MethodCount()

	err := s.RegisterService(echoServiceDesc(), nil)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if s.MethodCount() != before {
		t.Fatalf("method count changed across a failed registration: %d -> %d", before, s.MethodCount())
	}
}

func Test_HandlerNameFallback(t *testing.T) {
	s := NewServer()
	defer s.ForceShutdown()

	err := s.RegisterService(echoServiceDesc(), map[string]any{
		// canonical lower-camel key
		"unaryEcho": func(ctx context.Context, req any) (any, error) {
			return req, nil
		},
		// as-declared key
		"Gather": func(ctx context.Context, stream *RequestStream) (any, error) {
			return &testMessage{}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if s.lookup("/test.Echo/UnaryEcho").handler == nil {
		t.Fatal("canonical-name implementation was not bound")
	}
	if s.lookup("/test.Echo/Gather").handler == nil {
		t.Fatal("as-declared-name implementation was not bound")
	}
	// neither key present: declared but unimplemented
	if s.lookup("/test.Echo/Scatter").handler != nil {
		t.Fatal("Scatter should be unimplemented")
	}
}

func Test_HandlerShapeValidation(t *testing.T) {
	s := NewServer()
	defer s.ForceShutdown()

	err := s.RegisterService(echoServiceDesc(), map[string]any{
		// unary method given a client-streaming handler
		"unaryEcho": func(ctx context.Context, stream *RequestStream) (any, error) {
			return nil, nil
		},
	})
	if err == nil {
		t.Fatal("expected a shape error")
	}
	if s.MethodCount() != 0 {
		t.Fatalf("failed registration must be atomic, got %d methods", s.MethodCount())
	}
}

func Test_GracefulShutdownDrainsInflight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s, port := newTestServer(t, echoServiceDesc(), map[string]any{
		"unaryEcho": func(ctx context.Context, req any) (any, error) {
			close(entered)
			<-release
			return req, nil
		},
	})

	cc := dialTest(t, port)
	callDone := make(chan error, 1)
	go func() {
		_, err := cc.Invoke(context.Background(), "test.Echo", &jsonMethodDescs()[0], &testMessage{Value: "slow"})
		callDone <- err
	}()

	<-entered

	shutdownDone := make(chan struct{})
	s.TryShutdown(func() {
		close(shutdownDone)
	})

	select {
	case <-shutdownDone:
		t.Fatal("shutdown completed while a call was in flight")
	case <-time.After(time.Millisecond * 100):
	}

	close(release)

	select {
	case err := <-callDone:
		if err != nil {
			t.Fatalf("in-flight call failed across graceful shutdown: %v", err)
		}
	case <-time.After(time.Second * 5):
		t.Fatal("in-flight call never completed")
	}

	select {
	case <-shutdownDone:
	case <-time.After(time.Second * 5):
		t.Fatal("shutdown never completed")
	}
	if got := s.State(); got != Stopped {
		t.Fatalf("state = %v, want %v", got, Stopped)
	}
}

func jsonMethodDescs() []MethodDesc {
	return echoServiceDesc().Methods
}

func Test_TryShutdownOnStoppedServer(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	first := make(chan struct{})
	s.TryShutdown(func() { close(first) })
	select {
	case <-first:
	case <-time.After(time.Second * 5):
		t.Fatal("first shutdown callback never fired")
	}

	// already stopped: every further call is a no-op that still fires its
	// callback
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		go s.TryShutdown(func() { done <- struct{}{} })
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second * 5):
			t.Fatal("shutdown callback on a stopped server never fired")
		}
	}
	if got := s.State(); got != Stopped {
		t.Fatalf("state = %v, want %v", got, Stopped)
	}
}

func Test_NewCallsRejectedWhileShuttingDown(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	s, port := newTestServer(t, echoServiceDesc(), map[string]any{
		"unaryEcho": func(ctx context.Context, req any) (any, error) {
			close(entered)
			<-release
			return req, nil
		},
	})

	cc := dialTest(t, port)
	go cc.Invoke(context.Background(), "test.Echo", &jsonMethodDescs()[0], &testMessage{})
	<-entered

	s.TryShutdown(nil)

	// the listener is gone; a fresh call cannot reach the server
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := cc.Invoke(ctx, "test.Echo", &jsonMethodDescs()[0], &testMessage{}); err == nil {
		t.Fatal("expected new calls to fail during shutdown")
	}
	close(release)
}

func Test_StatusHelpers(t *testing.T) {
	st := statusFromError(status.Error(codes.InvalidArgument, "bad"))
	if st.Code() != codes.InvalidArgument {
		t.Fatalf("code = %v, want InvalidArgument", st.Code())
	}
	st = statusFromError(errors.New("plain failure"))
	if st.Code() != codes.Unknown {
		t.Fatalf("code = %v, want Unknown", st.Code())
	}
}
