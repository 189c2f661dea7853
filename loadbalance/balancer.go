// Package loadbalance chooses which I/O controller a cluster sends its commands to,
// among the controllers found in the directory.
//
// Two strategies are implemented:
//   - RoundRobin:     stateless commands (PING, RND)
//   - ConsistentHash: stateful classes, so that a cluster keeps talking to the controller
//     holding its C2C and ETH state
package loadbalance

import (
	"errors"

	"noc-rpc/cluster"
	"noc-rpc/discovery"
)

// ErrNoController is returned when the list is empty.
var ErrNoController = errors.New("loadbalance: no controller available")

// Balancer selects a controller for a command from cluster from.
// Implementations are goroutine-safe.
type Balancer interface {
	Pick(list []discovery.Controller, from cluster.ID) (*discovery.Controller, error)
	Name() string
}
