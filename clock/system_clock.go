package clock

import (
	"time"
)

// SystemClock satisfies Clock by supplying the system time.
type SystemClock struct{}

var _ Clock = SystemClock{}

// NewSystemClock creates a system clock and returns it as a Clock.
func NewSystemClock() Clock {
	return SystemClock{}
}

// Now returns the system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
