package cycles

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFreq(t *testing.T) {
	assert := assert.New(t)

	f := 1 * GHz
	assert.Equal(time.Nanosecond, f.Period())
	assert.EqualValues(1000, f.Cycles(time.Microsecond))
	assert.EqualValues(0, f.Cycles(-time.Second))
	assert.Equal(time.Microsecond, f.Duration(1000))

	assert.EqualValues(600e6, Second(DefaultFreq))
	assert.EqualValues(Second(DefaultFreq), DefaultFreq.Cycles(time.Second))
	assert.Panics(func() { Freq(0).Period() })
	assert.Panics(func() { Freq(0).Duration(1) })
	assert.Panics(func() { NewClock(-1) })
}

func TestClock(t *testing.T) {
	assert := assert.New(t)

	c := NewClock(100 * MHz)
	assert.Equal(100*MHz, c.Freq())
	t0 := c.Now()
	time.Sleep(2 * time.Millisecond)
	t1 := c.Now()
	assert.GreaterOrEqual(Elapsed(t0, t1), uint64(200000))

	assert.EqualValues(5, Elapsed(^uint64(0)-2, 2))
}
