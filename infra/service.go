package infra

import (
	"context"
	"errors"
	"fmt"

	"github.com/NirvanaNimbusa/grpc-server-go/infra/utils"
)

// ErrServerStarted guards every mutation that is illegal once serving began:
// a second Start, a bind after Start and a registration after Start all wrap
// this sentinel.
var ErrServerStarted = errors.New("server is already started")

// ConflictError reports a duplicate method path registration.
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("method %q is already registered", e.Path)
}

// SerializeFunc turns a response or request value into wire bytes.
type SerializeFunc func(v any) ([]byte, error)

// DeserializeFunc turns wire bytes back into a value.
type DeserializeFunc func(data []byte) (any, error)

// MethodDesc describes one method: its name, its streaming shape and the
// codec pair for each direction. The streaming flags are fixed at
// registration and select which handler shape the method expects.
type MethodDesc struct {
	MethodName   string
	ClientStream bool
	ServerStream bool

	RequestSerialize    SerializeFunc
	RequestDeserialize  DeserializeFunc
	ResponseSerialize   SerializeFunc
	ResponseDeserialize DeserializeFunc
}

// ServiceDesc groups methods under a service name. The full method path is
// /<service>/<method>.
type ServiceDesc struct {
	ServiceName string
	Methods     []MethodDesc
}

// handlerEntry is the registry record for one method path. A nil handler
// means the method was declared but no implementation was supplied, so it
// routes to the unimplemented defaults.
type handlerEntry struct {
	path    string
	service string
	desc    *MethodDesc
	handler any
}

// RegisterService adds every method of sd to the registry, binding each to
// the implementation found in impls under the method's lower-camel name or,
// failing that, its declared name. The whole call is atomic: any conflict
// or shape error leaves the registry untouched.
func (s *Server) RegisterService(sd *ServiceDesc, impls map[string]any) error {
	if sd == nil || sd.ServiceName == "" {
		return errors.New("grpcserver: service descriptor must carry a service name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state >= Started {
		return fmt.Errorf("cannot register service %q: %w", sd.ServiceName, ErrServerStarted)
	}

	staged := make(map[string]*handlerEntry, len(sd.Methods))
	for i := range sd.Methods {
		md := &sd.Methods[i]
		path := utils.PathJoin(sd.ServiceName, md.MethodName)
		if _, ok := s.methods[path]; ok {
			return &ConflictError{Path: path}
		}
		if _, ok := staged[path]; ok {
			return &ConflictError{Path: path}
		}

		impl, ok := impls[utils.LowerCamel(md.MethodName)]
		if !ok {
			impl, ok = impls[md.MethodName]
		}

		entry := &handlerEntry{
			path:    path,
			service: sd.ServiceName,
			desc:    md,
		}
		if ok && impl != nil {
			h, err := coerceHandler(md, impl)
			if err != nil {
				return fmt.Errorf("grpcserver: method %s: %w", path, err)
			}
			entry.handler = h
		}
		staged[path] = entry
	}

	for path, entry := range staged {
		s.methods[path] = entry
	}
	return nil
}

// coerceHandler checks impl against the shape md declares and normalizes it
// to the matching named handler type.
func coerceHandler(md *MethodDesc, impl any) (any, error) {
	switch {
	case !md.ClientStream && !md.ServerStream:
		switch h := impl.(type) {
		case UnaryHandler:
			return h, nil
		case func(ctx context.Context, req any) (any, error):
			return UnaryHandler(h), nil
		}
	case md.ClientStream && !md.ServerStream:
		switch h := impl.(type) {
		case ClientStreamHandler:
			return h, nil
		case func(ctx context.Context, stream *RequestStream) (any, error):
			return ClientStreamHandler(h), nil
		}
	case !md.ClientStream && md.ServerStream:
		switch h := impl.(type) {
		case ServerStreamHandler:
			return h, nil
		case func(ctx context.Context, req any, stream *ResponseStream) error:
			return ServerStreamHandler(h), nil
		}
	default:
		switch h := impl.(type) {
		case BidiStreamHandler:
			return h, nil
		case func(ctx context.Context, stream *BidiStream) error:
			return BidiStreamHandler(h), nil
		}
	}
	return nil, fmt.Errorf("handler %T does not match the declared streaming shape", impl)
}

// lookup resolves a method path. Nil means the path is unregistered and the
// unimplemented defaults apply. Reads race-free against registration
// because the registry freezes at the Started transition.
func (s *Server) lookup(path string) *handlerEntry {
	return s.methods[path]
}

// MethodCount reports how many method paths are registered.
func (s *Server) MethodCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.methods)
}
