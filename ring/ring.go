// Package ring implements a lock-free multi-producer multi-consumer FIFO of fixed capacity.
//
// Producers and consumers each reserve a slot range by compare-and-swap on a head index,
// copy without further synchronization, then publish by advancing the matching tail in
// reservation order:
//
//	            consTail   consHead          prodTail   prodHead
//	               │          │                 │          │
//	   ┌───┬───┬───▼───┬───┬──▼────┬───┬───┬────▼──┬───┬───▼───┬───┐
//	   │   │   │ being popped  │ readable      │ being pushed  │   │
//	   └───┴───┴───────┴───┴───────┴───┴───┴───────┴───┴───────┴───┘
//
// Indices are free-running 64-bit counters; a slot is counter % size.
// One slot always stays empty, so at most size-1 items are live.
package ring

import (
	"errors"
	"fmt"
	"sync/atomic"

	binutils "github.com/jfoster/binary-utilities"
	"github.com/pkg/math"

	"noc-rpc/spin"
)

// Limits and defaults.
const (
	MinCapacity     = 2
	MaxCapacity     = 1 << 24
	DefaultCapacity = 256
)

// ErrBatchTooLarge is returned by PushMulti when the batch could never fit.
var ErrBatchTooLarge = errors.New("ring: batch exceeds ring capacity")

const cacheLine = 64

type index struct {
	atomic.Uint64
	_ [cacheLine - 8]byte
}

// Config contains ring settings.
type Config struct {
	// Size is the number of slots. Capacity is Size-1.
	Size int
	// BatchMax is the most items one PopMulti may take. Zero means Size-1.
	BatchMax int
}

// Ring is a lock-free MPMC FIFO of T.
type Ring[T any] struct {
	prodHead index
	prodTail index
	consHead index
	consTail index

	size  uint64
	batch int
	slots []T
}

// New creates a ring.
func New[T any](cfg Config) (*Ring[T], error) {
	if cfg.Size < MinCapacity || cfg.Size > MaxCapacity {
		return nil, fmt.Errorf("ring: size %d out of range [%d,%d]", cfg.Size, MinCapacity, MaxCapacity)
	}
	batch := cfg.BatchMax
	if batch <= 0 {
		batch = cfg.Size - 1
	}
	return &Ring[T]{
		size:  uint64(cfg.Size),
		batch: math.MinInt(batch, cfg.Size-1),
		slots: make([]T, cfg.Size),
	}, nil
}

// AlignCapacity rounds capacity up to a power of two between MinCapacity and MaxCapacity.
// Zero selects DefaultCapacity.
func AlignCapacity(capacity int) int {
	if capacity <= 0 {
		return DefaultCapacity
	}
	capacity = int(binutils.NextPowerOfTwo(int64(capacity)))
	return math.MinInt(math.MaxInt(MinCapacity, capacity), MaxCapacity)
}

// Capacity returns how many items the ring holds when full.
func (r *Ring[T]) Capacity() int {
	return int(r.size - 1)
}

// BatchMax returns the PopMulti batch ceiling.
func (r *Ring[T]) BatchMax() int {
	return r.batch
}

// Count returns the number of published items. The value is a snapshot.
func (r *Ring[T]) Count() int {
	ct := r.consTail.Load()
	pt := r.prodTail.Load()
	if n := int64(pt - ct); n > 0 {
		return int(n)
	}
	return 0
}

// Free returns the number of slots a producer could reserve now. The value is a snapshot.
func (r *Ring[T]) Free() int {
	ct := r.consTail.Load()
	ph := r.prodHead.Load()
	used := int64(ph - ct)
	return math.MaxInt(r.Capacity()-int(used), 0)
}

// PopMulti moves up to min(len(out), BatchMax) items into out.
// It returns the number of items popped and an advisory count of items left.
// An empty ring returns immediately with n=0.
func (r *Ring[T]) PopMulti(out []T) (n, left int) {
	limit := math.MinInt(len(out), r.batch)
	if limit <= 0 {
		return 0, r.Count()
	}

	var sp spin.Spinner
	var ch, pt uint64
	for {
		ch = r.consHead.Load()
		pt = r.prodTail.Load()
		avail := int64(pt - ch)
		if avail <= 0 {
			return 0, 0
		}
		n = math.MinInt(int(avail), limit)
		if r.consHead.CompareAndSwap(ch, ch+uint64(n)) {
			break
		}
	}

	var zero T
	for i := range n {
		slot := (ch + uint64(i)) % r.size
		out[i] = r.slots[slot]
		r.slots[slot] = zero
	}

	for r.consTail.Load() != ch {
		sp.Spin()
	}
	r.consTail.Store(ch + uint64(n))
	return n, int(pt - ch - uint64(n))
}

// PushMulti appends all items as one batch, spinning while fewer than len(items)
// slots are free. It returns an advisory count of free slots after the push.
func (r *Ring[T]) PushMulti(items []T) (free int, e error) {
	k := len(items)
	if k == 0 {
		return r.Free(), nil
	}
	if k > r.Capacity() {
		return 0, ErrBatchTooLarge
	}

	var sp spin.Spinner
	var ph uint64
	for {
		ph = r.prodHead.Load()
		ct := r.consTail.Load()
		used := int64(ph - ct)
		if used < 0 {
			continue
		}
		free = r.Capacity() - int(used)
		if free < k {
			sp.Spin()
			continue
		}
		if r.prodHead.CompareAndSwap(ph, ph+uint64(k)) {
			break
		}
	}
	r.fill(ph, items, &sp)
	return free - k, nil
}

// TryPushMulti is PushMulti without waiting for free space.
// It returns false and pushes nothing when the batch does not fit now.
func (r *Ring[T]) TryPushMulti(items []T) bool {
	k := len(items)
	if k == 0 {
		return true
	}
	if k > r.Capacity() {
		return false
	}

	var sp spin.Spinner
	var ph uint64
	for {
		ph = r.prodHead.Load()
		ct := r.consTail.Load()
		used := int64(ph - ct)
		if used < 0 {
			continue
		}
		if r.Capacity()-int(used) < k {
			return false
		}
		if r.prodHead.CompareAndSwap(ph, ph+uint64(k)) {
			break
		}
	}
	r.fill(ph, items, &sp)
	return true
}

func (r *Ring[T]) fill(ph uint64, items []T, sp *spin.Spinner) {
	for i, item := range items {
		r.slots[(ph+uint64(i))%r.size] = item
	}
	sp.Reset()
	for r.prodTail.Load() != ph {
		sp.Spin()
	}
	r.prodTail.Store(ph + uint64(len(items)))
}
