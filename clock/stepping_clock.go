package clock

import (
	"sync"
	"time"
)

// SteppingClock is a Clock that returns a given series of times, one per
// call of Now.  Once the series is exhausted it keeps returning the last
// one.  If the series is empty it returns the GPS origin, which is earlier
// than any time the system deals with.
type SteppingClock struct {
	mutex    sync.Mutex
	nextTime int
	times    []time.Time
}

var _ Clock = (*SteppingClock)(nil)

// NewSteppingClock creates a SteppingClock.
func NewSteppingClock(times ...time.Time) *SteppingClock {
	return &SteppingClock{times: times}
}

// Now returns the next time in the series.
func (c *SteppingClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.times) == 0 {
		return time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)
	}
	if c.nextTime == len(c.times) {
		return c.times[len(c.times)-1]
	}
	result := c.times[c.nextTime]
	c.nextTime++
	return result
}
