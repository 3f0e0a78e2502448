// Package etcd keeps a server's NodeMeta records alive in etcd under a
// lease, re-registering when the keep-alive channel drops.
package etcd

import (
	"context"
	"errors"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/NirvanaNimbusa/grpc-server-go/infra/graceful"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/gslog"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/register"
	"github.com/NirvanaNimbusa/grpc-server-go/infra/utils"
	"github.com/NirvanaNimbusa/grpc-server-go/pkg/safe"
)

var liveTime int64 = 12

// SetKeepAlivePeriod adjusts the lease TTL, three times the keep-alive
// period.
func SetKeepAlivePeriod(p int64) {
	if p < 1 {
		return
	}
	liveTime = p * 3
}

var ErrTxnPutFailure = errors.New("txn execute failure")

const defaultPrefix = "/grpc-server/service"

type kvstore struct {
	once       sync.Once
	ctx        context.Context
	cancelFunc context.CancelFunc
	client     *clientv3.Client
	prefix     string
	metas      []register.Meta
	log        gslog.Logger
	leaseID    clientv3.LeaseID
}

// NewEtcdRegister builds a ServiceRegister on an existing etcd client. The
// client's lifetime belongs to the caller.
func NewEtcdRegister(client *clientv3.Client, prefix string) register.ServiceRegister {
	if prefix == "" {
		prefix = defaultPrefix
	}
	ctx, cancel := context.WithCancel(client.Ctx())
	return &kvstore{
		ctx:        ctx,
		cancelFunc: cancel,
		client:     client,
		prefix:     prefix,
		log:        gslog.With(zap.String("component", "etcd-register")),
		leaseID:    clientv3.NoLease,
	}
}

func (s *kvstore) Append(meta register.Meta) error {
	for _, v := range s.metas {
		if v.RegisterKey() == meta.RegisterKey() {
			return nil
		}
	}
	s.metas = append(s.metas, meta)
	return nil
}

func (s *kvstore) Register() error {
	s.log.Debug("start register")

	var err error
	if err = s.register(); err != nil {
		if err == ErrTxnPutFailure {
			s.log.Error("failed to register server, retry after a period", zap.Error(err))
			s.dropLease()
			// retry with a period
			time.Sleep(time.Second * time.Duration(liveTime))
			err = s.register()
		}
		if err != nil {
			s.log.Error("failed to register server", zap.Error(err))
			return err
		}
	}

	if err = s.keepAlive(s.leaseID); err != nil {
		s.log.Error("failed to keep alive register lease", zap.Error(err),
			zap.Int64("lease_id", int64(s.leaseID)))
		return err
	}

	s.once.Do(func() {
		graceful.RegisterPreShutDownHandlers(func() {
			s.DeRegister()
		})
	})

	return nil
}

func (s *kvstore) register() error {
	ctx, cancel := context.WithTimeout(s.ctx, time.Second*3)
	defer cancel()
	if s.leaseID == clientv3.NoLease {
		resp, err := s.client.Grant(ctx, liveTime)
		if err != nil {
			return err
		}

		s.leaseID = resp.ID
	}

	for _, v := range s.metas {
		registerKey := utils.PathJoin(s.prefix, v.RegisterKey())
		value := v.Value()
		if err := s.setKeyWithTxn(registerKey, value, s.leaseID); err != nil {
			s.log.Error("failed to put register key", zap.Error(err), zap.String("key", registerKey))
			return err
		}
		s.log.Info("service registered successful",
			zap.String("key", registerKey),
			zap.String("meta", value))
	}

	return nil
}

func (s *kvstore) dropLease() {
	if s.leaseID != clientv3.NoLease {
		if err := s.revoke(s.leaseID); err != nil {
			s.log.Error("failed to revoke lease", zap.Error(err))
		}
	}
}

// setKeyWithTxn only writes a key that does not exist yet; a present key
// means a duplicate registration or a previous instance that has not
// deregistered.
func (s *kvstore) setKeyWithTxn(k, v string, leaseID clientv3.LeaseID) error {
	ctx, cancel := context.WithTimeout(s.ctx, time.Second*3)
	defer cancel()

	txn := s.client.Txn(ctx)
	txn.If(clientv3.Compare(clientv3.CreateRevision(k), "=", 0)).
		Then(clientv3.OpPut(k, v, clientv3.WithLease(leaseID)))
	txnResp, err := txn.Commit()
	if err != nil {
		return err
	}
	if !txnResp.Succeeded {
		s.log.Error("failed to register service key, txn execute failure")
		return ErrTxnPutFailure
	}
	return nil
}

func (s *kvstore) DeRegister() error {
	if s.ctx.Err() != nil {
		s.log.Warn("ctx is already cancelled", zap.Error(s.ctx.Err()))
		return nil
	}
	s.log.Warn("called deregister", zap.Any("service", s.metas))
	defer s.cancelFunc()

	s.dropLease()
	return nil
}

func (s *kvstore) Close() {
	// just close the register, not the etcd client
	s.DeRegister()
}

func (s *kvstore) keepAlive(leaseID clientv3.LeaseID) error {
	ch, err := s.client.KeepAlive(s.ctx, leaseID)
	if err != nil {
		return err
	}

	go safe.Run(func() {
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					s.log.Debug("failed to keepalive lease", zap.Any("service", s.metas), zap.Any("context", s.ctx.Err()), zap.Int64("lease_id", int64(leaseID)))
					select {
					case <-s.ctx.Done():
						s.Close()
						return
					default:
					}

					s.reRegister()
					return
				}
			case <-s.ctx.Done():
				s.log.Warn("etcd-register is down, context cancelled", zap.Any("service", s.metas), zap.Error(s.ctx.Err()))
				s.Close()
				return
			}
		}
	})

	return nil
}

func (s *kvstore) reRegister() {
	s.dropLease()
	for {
		select {
		case <-s.ctx.Done():
			s.log.Warn("stop to register, context cancelled", zap.Error(s.ctx.Err()), zap.Any("service", s.metas))
		default:
			if err := s.Register(); err != nil {
				time.Sleep(time.Second)
				continue
			}
		}

		return
	}
}

func (s *kvstore) revoke(leaseID clientv3.LeaseID) error {
	s.log.Debug("revoke lease", zap.Int64("lease", int64(leaseID)))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*3)
	defer cancel()
	if _, err := s.client.Revoke(ctx, leaseID); err != nil {
		return err
	}
	s.leaseID = clientv3.NoLease

	return nil
}
