// Package srv runs anything with a Start/Stop pair until a signal arrives.
package srv

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/NirvanaNimbusa/grpc-server-go/infra/gslog"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/utils"
)

type Srv interface {
	RunUntil(signals ...os.Signal) error
}

// Injection is anything with the server's Start/Stop lifecycle pair.
type Injection interface {
	Start() error
	Stop() error
}

type srvImpl struct {
	Injection
}

func NewSrv(srv Injection) Srv {
	return &srvImpl{
		srv,
	}
}

func (s *srvImpl) RunUntil(signals ...os.Signal) error {
	ctx, cancel := context.WithCancel(utils.NewContextWithSignal(context.Background(), signals...))
	go func() {
		// Start may return immediately for non-blocking servers; only a
		// failure ends the run
		if err := s.Start(); err != nil {
			gslog.Error("failed to start srv", zap.Error(err))
			cancel()
		}
	}()
	return s.stopUntil(ctx)
}

func (s *srvImpl) stopUntil(ctx context.Context) error {
	<-ctx.Done()
	return s.Stop()
}
