package clock

import (
	"sync"
	"time"
)

// StoppedClock is a Clock whose time only changes when it's told to.
type StoppedClock struct {
	mutex sync.Mutex
	time  time.Time
}

var _ Clock = (*StoppedClock)(nil)

// NewStoppedClock creates a StoppedClock showing the given time.
func NewStoppedClock(year int, month time.Month, day, hour, minute, second, nanosecond int, location *time.Location) *StoppedClock {
	return &StoppedClock{time: time.Date(year, month, day, hour, minute, second, nanosecond, location)}
}

// NewStoppedClockAt creates a StoppedClock showing t.
func NewStoppedClockAt(t time.Time) *StoppedClock {
	return &StoppedClock{time: t}
}

// SetTime sets a new unchanging time.
func (c *StoppedClock) SetTime(t time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.time = t
}

// Advance moves the clock on by d.
func (c *StoppedClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.time = c.time.Add(d)
}

// Now always returns the same time until SetTime or Advance is called.
func (c *StoppedClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.time
}
