package loadbalance

import (
	"testing"

	"noc-rpc/cluster"
	"noc-rpc/discovery"
)

var testControllers = []discovery.Controller{
	{Name: "io-north", Port: cluster.North, DMA: cluster.NorthDMA},
	{Name: "io-south", Port: cluster.South, DMA: cluster.SouthDMA},
	{Name: "io-spare", Port: cluster.North, DMA: cluster.NorthDMA + 1},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobin{}

	// Pick 3 times, should cycle through all controllers
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		c, err := b.Pick(testControllers, 0)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = c.Name
	}
	if results[0] != "io-north" || results[1] != "io-south" || results[2] != "io-spare" {
		t.Fatalf("unexpected order %v", results)
	}

	// Pick again, should wrap around to first
	c, _ := b.Pick(testControllers, 0)
	if c.Name != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], c.Name)
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobin{}
	if _, err := b.Pick(nil, 0); err != ErrNoController {
		t.Fatalf("expect ErrNoController, got %v", err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHash(0)

	// Same cluster always maps to the same controller
	c1, _ := b.Pick(testControllers, 7)
	c2, _ := b.Pick(testControllers, 7)
	if c1.Name != c2.Name {
		t.Fatalf("same cluster mapped to different controllers: %s vs %s", c1.Name, c2.Name)
	}

	// Clusters spread over at least 2 controllers
	seen := map[string]bool{}
	for _, id := range cluster.All() {
		c, err := b.Pick(testControllers, id)
		if err != nil {
			t.Fatal(err)
		}
		seen[c.Name] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different controllers, got %d", len(seen))
	}
}

func TestConsistentHashStability(t *testing.T) {
	b := NewConsistentHash(50)
	before := map[cluster.ID]string{}
	for _, id := range cluster.All() {
		c, _ := b.Pick(testControllers, id)
		before[id] = c.Name
	}

	// Remove io-spare: only clusters that were on it may move
	for _, id := range cluster.All() {
		c, _ := b.Pick(testControllers[:2], id)
		if before[id] != "io-spare" && before[id] != c.Name {
			t.Fatalf("cluster %d moved from %s to %s", id, before[id], c.Name)
		}
	}
}
