// The clock package supplies the current time through an interface so that
// code which depends on the time of day (choosing a correction product class,
// rolling a capture file over at midnight) can be tested with chosen times.
package clock

import (
	"time"
)

// Clock gives the current time.  In production it's a SystemClock.  In test
// it's a StoppedClock or a SteppingClock.
type Clock interface {
	Now() time.Time
}

// Since returns the time elapsed between t and the clock's idea of now.
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}
