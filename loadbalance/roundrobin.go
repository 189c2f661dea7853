package loadbalance

import (
	"sync/atomic"

	"noc-rpc/cluster"
	"noc-rpc/discovery"
)

// RoundRobin cycles through the list on every Pick, regardless of the sender.
type RoundRobin struct {
	counter atomic.Uint64
}

// Pick implements Balancer.
func (b *RoundRobin) Pick(list []discovery.Controller, from cluster.ID) (*discovery.Controller, error) {
	if len(list) == 0 {
		return nil, ErrNoController
	}
	index := (b.counter.Add(1) - 1) % uint64(len(list))
	return &list[index], nil
}

// Name implements Balancer.
func (b *RoundRobin) Name() string {
	return "RoundRobin"
}
