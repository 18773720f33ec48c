package etcd

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"lunorise.com/pkg/logger"
	"lunorise.com/pkg/register"
)

type Config struct {
	Endpoints     []string `mapstructure:"endpoints" yaml:"endpoints"`
	ServicePrefix string   `mapstructure:"service_prefix" yaml:"service_prefix"`
	TTLSeconds    int64    `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
}

func NewClient(c Config) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   c.Endpoints,
		DialTimeout: 5 * time.Second,
	})
}

type EtcdRegister struct {
	client        *clientv3.Client
	basePath      string // 比如 "/lunorise/services"
	ttl           int64  // 租约秒数
	keepaliveChan <-chan *clientv3.LeaseKeepAliveResponse
	leaseID       clientv3.LeaseID
}

func NewEtcdRegister(c *clientv3.Client, basePath string, ttl int64) *EtcdRegister {
	if ttl <= 0 {
		ttl = 10
	}
	return &EtcdRegister{
		client:   c,
		basePath: basePath,
		ttl:      ttl,
	}
}

func Key(basePath string, ins *register.Instance) string {
	return fmt.Sprintf("%s/%s/%s", basePath, ins.Name, ins.ID)
}

func (e *EtcdRegister) Register(ctx context.Context, ins *register.Instance) error {
	lease, err := e.client.Grant(ctx, e.ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}
	e.leaseID = lease.ID

	val, err := json.Marshal(ins)
	if err != nil {
		return err
	}
	if _, err = e.client.Put(ctx, Key(e.basePath, ins), string(val), clientv3.WithLease(e.leaseID)); err != nil {
		return fmt.Errorf("put instance: %w", err)
	}

	ch, err := e.client.KeepAlive(ctx, e.leaseID)
	if err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	e.keepaliveChan = ch
	go e.drainKeepalive(ctx)
	return nil
}

func (e *EtcdRegister) UnRegister(ctx context.Context, ins *register.Instance) error {
	if _, err := e.client.Delete(ctx, Key(e.basePath, ins)); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if _, err := e.client.Revoke(ctx, e.leaseID); err != nil {
		return fmt.Errorf("revoke lease: %w", err)
	}
	return nil
}

// 续约由 client 自动完成，这里只负责把应答读掉
func (e *EtcdRegister) drainKeepalive(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-e.keepaliveChan:
			if !ok {
				logger.Warn(ctx, "etcd keepalive channel closed", zap.Int64("lease_id", int64(e.leaseID)))
				return
			}
		}
	}
}
