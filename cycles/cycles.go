// Package cycles expresses time budgets in CPU cycles.
//
// Clusters may run at different clocks, so RPC timeouts are counted in cycles of the
// caller's own core rather than in wall time. A budget of one second equals the
// platform base frequency.
package cycles

import (
	"math"
	"time"
)

// Freq defines the type of frequency.
type Freq float64

// Defines the unit of frequency.
const (
	Hz  Freq = 1
	KHz Freq = 1e3
	MHz Freq = 1e6
	GHz Freq = 1e9
)

// DefaultFreq is the base clock of the reference board.
const DefaultFreq = 600 * MHz

// Period returns the time between two consecutive ticks.
func (f Freq) Period() time.Duration {
	if f == 0 {
		panic("cycles: frequency cannot be 0")
	}
	return time.Duration(float64(time.Second) / float64(f))
}

// Cycles converts a duration to a number of cycles.
func (f Freq) Cycles(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(math.Round(d.Seconds() * float64(f)))
}

// Duration converts a number of cycles to a duration.
func (f Freq) Duration(n uint64) time.Duration {
	if f == 0 {
		panic("cycles: frequency cannot be 0")
	}
	return time.Duration(float64(n) * float64(time.Second) / float64(f))
}

// Second returns the one-second budget at frequency f.
func Second(f Freq) uint64 {
	return uint64(f)
}

// Clock reads a free-running cycle counter.
type Clock interface {
	Now() uint64
	Freq() Freq
}

// NewClock creates a Clock that derives cycles from the monotonic wall clock at frequency f.
func NewClock(f Freq) Clock {
	if f <= 0 {
		panic("cycles: frequency must be positive")
	}
	return &monoClock{f: f, epoch: time.Now()}
}

type monoClock struct {
	f     Freq
	epoch time.Time
}

func (c *monoClock) Now() uint64 {
	return c.f.Cycles(time.Since(c.epoch))
}

func (c *monoClock) Freq() Freq {
	return c.f
}

// Elapsed returns the number of cycles between start and now, tolerating counter wraparound.
func Elapsed(start, now uint64) uint64 {
	return now - start
}
