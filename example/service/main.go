package main

import (
	"context"
	"net/http"
	"strings"
	"syscall"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	grpcserver "github.com/NirvanaNimbusa/grpc-server-go"
	"github.com/NirvanaNimbusa/grpc-server-go/example/echo"
	"github.com/NirvanaNimbusa/grpc-server-go/infra"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/gslog"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/middleware"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/register/etcd"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/utils"
)

func main() {
	gslog.SetGlobalLogger(gslog.NewLogger(&gslog.Config{
		Name:  "example/service",
		Level: gslog.ParseLevel(utils.GetEnvWithDefault("LOG_LEVEL", "debug", func(v string) (string, error) { return v, nil })),
	}))

	health := http.NewServeMux()
	health.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	opts := []infra.Option{infra.WithHttpServer(&http.Server{Handler: health})}

	// ETCD_ENDPOINTS=localhost:2379 publishes the service to etcd
	if endpoints := utils.GetEnvWithDefault("ETCD_ENDPOINTS", "", func(v string) (string, error) { return v, nil }); endpoints != "" {
		client, err := clientv3.New(clientv3.Config{
			Endpoints: strings.Split(endpoints, ","),
		})
		if err != nil {
			gslog.Panic("failed to connect etcd", zap.Error(err))
		}
		opts = append(opts, infra.WithServiceRegister(etcd.NewEtcdRegister(client, "")))
	}

	srv := grpcserver.NewServer(opts...)

	srv.Use(func(ctx context.Context) error {
		gslog.Debug("inbound call", zap.String("method", middleware.GetFullMethodFrom(ctx)))
		return middleware.Next(ctx)
	})

	err := srv.RegisterService(&echo.Desc, map[string]any{
		"unaryEcho": func(ctx context.Context, req any) (any, error) {
			return req, nil
		},
		"serverStreamingEcho": func(ctx context.Context, req any, stream *infra.ResponseStream) error {
			for i := 0; i < 3; i++ {
				if err := stream.Send(req); err != nil {
					return err
				}
			}
			return nil
		},
	})
	if err != nil {
		gslog.Panic("failed to register echo service", zap.Error(err))
	}

	port, err := srv.Bind("localhost:12345", grpcserver.Insecure())
	if err != nil {
		gslog.Panic("failed to bind", zap.Error(err))
	}
	gslog.Info("listening", zap.Int("port", port))

	if err := srv.RunUntil(syscall.SIGINT, syscall.SIGTERM); err != nil {
		gslog.Error("server exited", zap.Error(err))
	}
}
