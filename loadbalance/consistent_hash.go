package loadbalance

import (
	"fmt"
	"hash/crc32"
	"slices"
	"strings"
	"sync"

	"noc-rpc/cluster"
	"noc-rpc/discovery"
)

// ConsistentHash maps each sender cluster onto a hash ring of controllers, so a cluster
// keeps the same controller as long as the controller set does not change, and only
// the clusters of a departed controller move when it does.
//
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │  cluster 7 ◆──►   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	                ╲   ╱
type ConsistentHash struct {
	replicas int

	mu    sync.Mutex
	names string // controller set the ring was built for
	ring  []uint32
	nodes map[uint32]discovery.Controller
}

// NewConsistentHash creates a ring with replicas virtual nodes per controller, 100 if zero.
func NewConsistentHash(replicas int) *ConsistentHash {
	if replicas <= 0 {
		replicas = 100
	}
	return &ConsistentHash{replicas: replicas, nodes: map[uint32]discovery.Controller{}}
}

func (b *ConsistentHash) rebuild(list []discovery.Controller) {
	names := make([]string, len(list))
	for i, c := range list {
		names[i] = c.Name
	}
	slices.Sort(names)
	key := strings.Join(names, "\x00")
	if key == b.names && len(b.ring) > 0 {
		return
	}

	b.names = key
	b.ring = b.ring[:0]
	clear(b.nodes)
	for _, c := range list {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", c.Name, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = c
		}
	}
	slices.Sort(b.ring)
}

// Pick implements Balancer.
func (b *ConsistentHash) Pick(list []discovery.Controller, from cluster.ID) (*discovery.Controller, error) {
	if len(list) == 0 {
		return nil, ErrNoController
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebuild(list)

	hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("cluster-%d", from)))
	idx, _ := slices.BinarySearch(b.ring, hash)
	if idx == len(b.ring) {
		idx = 0
	}
	c := b.nodes[b.ring[idx]]
	return &c, nil
}

// Name implements Balancer.
func (b *ConsistentHash) Name() string {
	return "ConsistentHash"
}
