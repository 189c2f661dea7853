package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// DefaultPrefix is the etcd key prefix of controller records.
const DefaultPrefix = "/noc-rpc/controllers/"

// Etcd is a Directory backed by etcd v3.
//
//	Key:   {Prefix}{Controller.Name}
//	Value: JSON-encoded Controller
//
// Registrations carry a TTL lease renewed by KeepAlive, so a crashed controller
// disappears once its lease expires.
type Etcd struct {
	client *clientv3.Client
	prefix string

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID
}

var _ Directory = (*Etcd)(nil)

// NewEtcd connects to etcd. An empty prefix selects DefaultPrefix.
func NewEtcd(endpoints []string, prefix string) (*Etcd, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Etcd{client: c, prefix: prefix, leases: map[string]clientv3.LeaseID{}}, nil
}

// Register implements Directory.
func (r *Etcd) Register(ctx context.Context, c Controller, ttl int64) error {
	val, err := json.Marshal(c)
	if err != nil {
		return err
	}

	var opts []clientv3.OpOption
	if ttl > 0 {
		lease, err := r.client.Grant(ctx, ttl)
		if err != nil {
			return fmt.Errorf("grant lease: %w", err)
		}
		opts = append(opts, clientv3.WithLease(lease.ID))

		// the keepalive outlives the registering call
		ch, err := r.client.KeepAlive(context.Background(), lease.ID)
		if err != nil {
			return fmt.Errorf("keepalive: %w", err)
		}
		go func() {
			for range ch {
			}
		}()

		r.mu.Lock()
		r.leases[c.Name] = lease.ID
		r.mu.Unlock()
	}

	if _, err = r.client.Put(ctx, r.prefix+c.Name, string(val), opts...); err != nil {
		return err
	}
	logger.Info("controller registered", zap.String("name", c.Name), zap.Int("dma", c.DMA), zap.Int64("ttl", ttl))
	return nil
}

// Deregister implements Directory. The lease, if any, is revoked.
func (r *Etcd) Deregister(ctx context.Context, name string) error {
	if _, err := r.client.Delete(ctx, r.prefix+name); err != nil {
		return err
	}
	r.mu.Lock()
	id, ok := r.leases[name]
	delete(r.leases, name)
	r.mu.Unlock()
	if ok {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			return fmt.Errorf("revoke lease: %w", err)
		}
	}
	return nil
}

// Discover implements Directory. Malformed records are skipped.
func (r *Etcd) Discover(ctx context.Context) ([]Controller, error) {
	resp, err := r.client.Get(ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	list := make([]Controller, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var c Controller
		if err := json.Unmarshal(kv.Value, &c); err != nil {
			logger.Warn("skip malformed record", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		list = append(list, c)
	}
	return list, nil
}

// Watch implements Directory. Each change triggers a fresh Discover.
func (r *Etcd) Watch(ctx context.Context) <-chan []Controller {
	ch := make(chan []Controller, 1)
	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, r.prefix, clientv3.WithPrefix()) {
			list, err := r.Discover(ctx)
			if err != nil {
				continue
			}
			select {
			case ch <- list:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close releases the etcd client.
func (r *Etcd) Close() error {
	return r.client.Close()
}
