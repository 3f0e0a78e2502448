// Package grpcserver is the public surface of the RPC server core: explicit
// server instances with a per-instance method registry, four call shapes,
// an asynchronous bind adapter and graceful or forced shutdown.
package grpcserver

import (
	"crypto/tls"
	"net/http"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/NirvanaNimbusa/grpc-server-go/infra"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/gslog"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/register"
)

// Core types re-exported from infra.
type (
	Server      = infra.Server
	Option      = infra.Option
	State       = infra.State
	ServiceDesc = infra.ServiceDesc
	MethodDesc  = infra.MethodDesc

	UnaryHandler        = infra.UnaryHandler
	ClientStreamHandler = infra.ClientStreamHandler
	ServerStreamHandler = infra.ServerStreamHandler
	BidiStreamHandler   = infra.BidiStreamHandler

	RequestStream  = infra.RequestStream
	ResponseStream = infra.ResponseStream
	BidiStream     = infra.BidiStream

	ClientConn    = infra.ClientConn
	ConflictError = infra.ConflictError
)

var ErrServerStarted = infra.ErrServerStarted

// NewServer is a function to create a server instance
func NewServer(opts ...Option) *Server {
	return infra.NewServer(opts...)
}

// Dial is a function to create a caller against one server address
func Dial(address string, creds credentials.TransportCredentials) (*ClientConn, error) {
	return infra.Dial(address, creds)
}

// Insecure returns the plaintext credentials kind.
func Insecure() credentials.TransportCredentials {
	return insecure.NewCredentials()
}

// NewServerTLS returns the TLS credentials kind from an assembled config.
func NewServerTLS(cfg *tls.Config) credentials.TransportCredentials {
	return credentials.NewTLS(cfg)
}

// NewServerTLSFromFile returns the TLS credentials kind from a certificate
// chain and key on disk.
func NewServerTLSFromFile(certFile, keyFile string) (credentials.TransportCredentials, error) {
	return credentials.NewServerTLSFromFile(certFile, keyFile)
}

// NewClientTLSFromFile returns client-side TLS credentials trusting certFile.
func NewClientTLSFromFile(certFile, serverName string) (credentials.TransportCredentials, error) {
	return credentials.NewClientTLSFromFile(certFile, serverName)
}

// copy infra options
func WithHttpServer(srv *http.Server) Option {
	return infra.WithHttpServer(srv)
}

func WithServiceRegister(r register.ServiceRegister) Option {
	return infra.WithServiceRegister(r)
}

func WithLogger(l gslog.Logger) Option {
	return infra.WithLogger(l)
}
