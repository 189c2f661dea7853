// Package discovery keeps a directory of running I/O controllers, so that clusters in
// other processes can find where to send RPC commands.
package discovery

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"noc-rpc/cluster"
)

// Controller describes one I/O controller RPC server.
type Controller struct {
	Name   string       `json:"name"`             // unique, e.g. "io-north"
	Port   cluster.Port `json:"port"`             // north or south
	DMA    int          `json:"dma"`              // first DMA id of the controller
	Bridge string       `json:"bridge,omitempty"` // TCP address of its bridge, if any
	Layout string       `json:"layout,omitempty"` // board layout name
}

// Directory stores Controller records.
type Directory interface {
	// Register publishes c. With ttl > 0 the record expires unless the registrant stays alive.
	Register(ctx context.Context, c Controller, ttl int64) error
	Deregister(ctx context.Context, name string) error
	Discover(ctx context.Context) ([]Controller, error)
	// Watch emits the full list after every change until ctx is canceled.
	Watch(ctx context.Context) <-chan []Controller
}

// Wait polls d until at least one controller is registered or ctx is done.
func Wait(ctx context.Context, d Directory) ([]Controller, error) {
	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: false,
	}
	for {
		list, err := d.Discover(ctx)
		if err == nil && len(list) > 0 {
			return list, nil
		}
		if err != nil {
			logger.Debug("discover failed, retrying")
		}
		select {
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
			return nil, err
		case <-time.After(b.Duration()):
		}
	}
}
