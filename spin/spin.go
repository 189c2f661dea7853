// Package spin provides the bounded-backoff busy wait used wherever an execution context
// must wait for another one to finish a short critical section.
//
// Waiting never parks on a lock or channel: the caller keeps running and re-checks its
// condition after each Spin.
package spin

import "runtime"

// Default backoff bounds, in pause iterations.
const (
	DefaultMin = 4
	DefaultMax = 1024
)

// Spinner performs exponential backoff between re-checks of a condition.
// The zero value uses DefaultMin and DefaultMax.
type Spinner struct {
	Min int // first pause length
	Max int // pause length ceiling; once reached each Spin also yields the processor

	cur   int
	spins uint64
}

// Spin pauses the caller once and grows the next pause.
func (s *Spinner) Spin() {
	lo, hi := s.bounds()
	if s.cur < lo {
		s.cur = lo
	}
	pause(s.cur)
	s.spins++
	if s.cur >= hi {
		runtime.Gosched()
		return
	}
	s.cur *= 2
	if s.cur > hi {
		s.cur = hi
	}
}

// Reset restores the initial pause length.
func (s *Spinner) Reset() {
	s.cur = 0
}

// Spins returns how many times Spin has been called.
func (s *Spinner) Spins() uint64 {
	return s.spins
}

func (s *Spinner) bounds() (lo, hi int) {
	lo, hi = s.Min, s.Max
	if lo <= 0 {
		lo = DefaultMin
	}
	if hi < lo {
		hi = DefaultMax
		if hi < lo {
			hi = lo
		}
	}
	return lo, hi
}

// Until spins until cond returns true.
func Until(cond func() bool) {
	var s Spinner
	for !cond() {
		s.Spin()
	}
}

//go:noinline
func pause(n int) (x uint32) {
	for i := 0; i < n; i++ {
		x += uint32(i) ^ x
	}
	return x
}
