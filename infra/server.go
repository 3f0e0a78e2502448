package infra

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/soheilhy/cmux"
	"go.uber.org/zap"
	"google.golang.org/grpc/credentials"

	"github.com/NirvanaNimbusa/grpc-server-go/infra/graceful"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/gslog"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/middleware"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/register"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/transport"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/utils"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/version"
	"github.com/NirvanaNimbusa/grpc-server-go/pkg/safe"
)

// State is the server lifecycle position. Transitions only move forward,
// except that Bound repeats across multiple binds; Stopped is terminal.
type State int32

const (
	Unbound State = iota
	Bound
	Started
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Started:
		return "started"
	case ShuttingDown:
		return "shutting-down"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// binding is one bound listen address. A server may hold several before it
// starts; none can be added afterwards.
type binding struct {
	address string
	creds   credentials.TransportCredentials
	lis     *transport.Listener
	mux     cmux.CMux
}

type serverOptions struct {
	httpServer *http.Server
	registry   register.ServiceRegister
	logger     gslog.Logger
}

type Option func(o *serverOptions)

// WithHttpServer shares every bound port with an HTTP/1 server, typically
// for health and debug endpoints.
func WithHttpServer(srv *http.Server) Option {
	return func(o *serverOptions) {
		o.httpServer = srv
	}
}

// WithServiceRegister publishes the server's services once it starts.
func WithServiceRegister(r register.ServiceRegister) Option {
	return func(o *serverOptions) {
		o.registry = r
	}
}

func WithLogger(l gslog.Logger) Option {
	return func(o *serverOptions) {
		o.logger = l
	}
}

// Server routes inbound calls to registered handlers across its lifecycle:
// register services, bind one or more addresses, start, serve, shut down.
// Each instance owns its own registry and state; nothing is process-global.
type Server struct {
	opts serverOptions
	log  gslog.Logger

	mu       sync.Mutex
	state    State
	bindings []*binding
	methods  map[string]*handlerEntry
	routers  map[string]middleware.Router

	middleware.RouterGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc

	inflight      sync.WaitGroup
	activeStreams map[*transport.ServerStream]struct{}

	stopOnce sync.Once
	stopped  chan struct{}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		methods:       make(map[string]*handlerEntry),
		routers:       make(map[string]middleware.Router),
		activeStreams: make(map[*transport.ServerStream]struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	s.log = s.opts.logger
	if s.log == nil {
		s.log = gslog.With(zap.String("component", "server"))
	}

	s.baseCtx, s.baseCancel = context.WithCancel(context.Background())

	s.RouterGroup = middleware.NewRouterGroup(func(key string) bool {
		s.mu.Lock()
		_, exist := s.routers[key]
		s.mu.Unlock()
		return exist
	}, func(key string, router middleware.Router) {
		s.mu.Lock()
		s.routers[key] = router
		s.mu.Unlock()
	})

	return s
}

// State reports the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NumBindings reports how many addresses are bound.
func (s *Server) NumBindings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bindings)
}

// Bind binds address with creds and blocks until the transport resolves the
// port. Equivalent to BindAsync except for how the result is delivered.
func (s *Server) Bind(address string, creds credentials.TransportCredentials) (int, error) {
	type bindResult struct {
		port int
		err  error
	}
	ch := make(chan bindResult, 1)
	if err := s.bindAsync(address, creds, func(port int, err error) {
		ch <- bindResult{port: port, err: err}
	}); err != nil {
		return 0, err
	}
	r := <-ch
	return r.port, r.err
}

// BindAsync binds address with creds and delivers the resolved port (or the
// transport's error, unchanged) through cb.
func (s *Server) BindAsync(address string, creds credentials.TransportCredentials, cb func(port int, err error)) error {
	if cb == nil {
		return errors.New("grpcserver: bind callback must not be nil")
	}
	return s.bindAsync(address, creds, cb)
}

// bindAsync is the single core bind operation both entry points wrap.
func (s *Server) bindAsync(address string, creds credentials.TransportCredentials, cb func(port int, err error)) error {
	if address == "" {
		return errors.New("grpcserver: address must be a non-empty string")
	}
	if creds == nil {
		return errors.New("grpcserver: credentials must not be nil")
	}

	s.mu.Lock()
	if s.state >= Started {
		s.mu.Unlock()
		return fmt.Errorf("cannot bind %q: %w", address, ErrServerStarted)
	}
	s.mu.Unlock()

	go func() {
		lis, err := transport.Listen(address)
		if err != nil {
			// a failed bind leaves the state machine untouched
			cb(0, err)
			return
		}

		s.mu.Lock()
		if s.state >= Started {
			s.mu.Unlock()
			lis.Close()
			cb(0, fmt.Errorf("cannot bind %q: %w", address, ErrServerStarted))
			return
		}
		s.bindings = append(s.bindings, &binding{
			address: address,
			creds:   creds,
			lis:     lis,
		})
		if s.state == Unbound {
			s.state = Bound
		}
		s.mu.Unlock()

		s.log.Info("address bound",
			zap.String("address", address),
			zap.Int("port", lis.Port()))
		cb(lis.Port(), nil)
	}()
	return nil
}

// Start freezes the registry, begins accepting calls on every bound address
// and publishes the services when a register is configured. The second call
// fails with ErrServerStarted.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.state >= Started {
		s.mu.Unlock()
		return fmt.Errorf("cannot start: %w", ErrServerStarted)
	}
	s.state = Started

	// methods without an explicit chain still get the root group's
	// middleware
	var unrouted []string
	for path := range s.methods {
		if _, ok := s.routers[path]; !ok {
			unrouted = append(unrouted, path)
		}
	}
	bindings := append([]*binding{}, s.bindings...)
	s.mu.Unlock()

	if len(unrouted) > 0 {
		s.RouterGroup.Handler(unrouted...)
	}

	for _, b := range bindings {
		s.serveBinding(b)
	}

	s.log.Info("server started", zap.Int("bindings", len(bindings)), zap.Int("methods", s.MethodCount()))

	if s.opts.registry != nil {
		if err := s.registerServer(bindings); err != nil {
			s.log.Error("failed to register server", zap.Error(err))
		}
	}
	return nil
}

func (s *Server) serveBinding(b *binding) {
	m := cmux.New(b.lis.NetListener())
	b.mux = m

	if s.opts.httpServer != nil {
		httpListener := m.Match(cmux.HTTP1Fast())
		go safe.Run(func() {
			s.log.Info("start http serve", zap.String("address", b.address))
			_ = s.opts.httpServer.Serve(httpListener)
		})
	}

	rpcListener := m.Match(cmux.Any())
	go safe.Run(func() {
		for {
			conn, err := rpcListener.Accept()
			if err != nil {
				return
			}
			go safe.Run(func() {
				s.handleRawConn(conn, b.creds)
			})
		}
	})

	go safe.Run(func() {
		_ = m.Serve()
	})
}

// TryShutdown gracefully stops the server: new calls are rejected, bound
// addresses close, in-flight calls run to completion, then done fires.
// Calling it on a stopped server is a no-op that still fires done; every
// concurrent caller's done fires too.
func (s *Server) TryShutdown(done func()) {
	s.mu.Lock()
	if s.state != Stopped && s.state != ShuttingDown {
		s.state = ShuttingDown
		s.closeListenersLocked()
		go func() {
			s.inflight.Wait()
			s.markStopped()
		}()
	}
	s.mu.Unlock()

	if done == nil {
		return
	}
	go func() {
		<-s.stopped
		done()
	}()
}

// ForceShutdown stops immediately: bound addresses close and every
// in-flight call is aborted without waiting.
func (s *Server) ForceShutdown() {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	s.state = ShuttingDown
	s.closeListenersLocked()
	streams := make([]*transport.ServerStream, 0, len(s.activeStreams))
	for st := range s.activeStreams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	for _, st := range streams {
		st.Close()
	}
	s.baseCancel()
	s.markStopped()
}

// Stop is the blocking graceful form, satisfying pkg/srv.Injection.
func (s *Server) Stop() error {
	ch := make(chan struct{})
	s.TryShutdown(func() {
		close(ch)
	})
	<-ch
	return nil
}

// RunUntil starts the server and blocks until one of signals arrives, then
// shuts down gracefully and fires the process-wide shutdown hooks.
func (s *Server) RunUntil(signals ...os.Signal) error {
	if err := s.Start(); err != nil {
		return err
	}
	ctx := utils.NewContextWithSignal(s.baseCtx, signals...)
	<-ctx.Done()
	if err := s.Stop(); err != nil {
		return err
	}
	graceful.ShutDown()
	return nil
}

func (s *Server) closeListenersLocked() {
	for _, b := range s.bindings {
		if b.mux != nil {
			b.mux.Close()
		}
		b.lis.Close()
	}
}

func (s *Server) markStopped() {
	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
	s.baseCancel()

	s.stopOnce.Do(func() {
		if s.opts.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second*3)
			s.opts.httpServer.Shutdown(ctx)
			cancel()
		}
		if s.opts.registry != nil {
			s.opts.registry.Close()
		}
		s.log.Info("server stopped")
		close(s.stopped)
	})
}

// beginCall admits an inbound stream while serving, refusing it once
// shutdown began.
func (s *Server) beginCall(ss *transport.ServerStream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Started {
		return false
	}
	s.inflight.Add(1)
	s.activeStreams[ss] = struct{}{}
	return true
}

func (s *Server) endCall(ss *transport.ServerStream) {
	s.mu.Lock()
	delete(s.activeStreams, ss)
	s.mu.Unlock()
	s.inflight.Done()
}

// registerServer publishes one NodeMeta per binding and service, carrying
// every method's streaming shape.
func (s *Server) registerServer(bindings []*binding) error {
	s.mu.Lock()
	services := make(map[string][]register.MethodInfo)
	for _, entry := range s.methods {
		services[entry.service] = append(services[entry.service], register.MethodInfo{
			Name:         entry.desc.MethodName,
			ClientStream: entry.desc.ClientStream,
			ServerStream: entry.desc.ServerStream,
		})
	}
	s.mu.Unlock()

	now := time.Now().Unix()
	for _, b := range bindings {
		host := b.lis.Addr().(*net.TCPAddr).IP.String()
		if host == "::" || host == "0.0.0.0" {
			if hostIP, err := utils.GetHostIP(); err == nil {
				host = hostIP
			}
		}
		for name, methods := range services {
			if err := s.opts.registry.Append(register.NodeMeta{
				ServiceName:  name,
				Host:         host,
				Port:         b.lis.Port(),
				Methods:      methods,
				Runtime:      runtime.Version(),
				Version:      version.Version,
				RegisterTime: now,
			}); err != nil {
				return err
			}
		}
	}
	return s.opts.registry.Register()
}
