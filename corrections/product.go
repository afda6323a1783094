// The corrections package finds the correction products that improve a
// post-processed solution (precise orbits, clocks, earth rotation
// parameters and broadcast ephemeris) for a given time, and fetches them
// from an IGS archive into a local cache.
//
// The IGS publishes several classes of product.  The more precise ones
// appear later:
//
//	final           about 12 days after the day of observation
//	rapid           about 17 hours after
//	ultra-rapid     about 3 hours after the start of each 6-hour issue
//	ultra forecast  the predicted half of the ultra-rapid issue, usable at once
//
// For a given observation time the resolver picks the most precise class
// that should already have been published.
package corrections

import (
	"fmt"
	"time"
)

// ProductClass is a class of IGS product.
type ProductClass int

const (
	Final ProductClass = iota
	Rapid
	Ultra
	UltraForecast
)

// Classes lists the product classes from most to least precise.
var Classes = []ProductClass{Final, Rapid, Ultra, UltraForecast}

// Latency returns how long after the observation time a product class
// becomes eligible.
func (c ProductClass) Latency() time.Duration {
	switch c {
	case Final:
		return 12 * 24 * time.Hour
	case Rapid:
		return 17 * time.Hour
	case Ultra:
		return 3 * time.Hour
	default:
		return time.Minute
	}
}

func (c ProductClass) String() string {
	switch c {
	case Final:
		return "final"
	case Rapid:
		return "rapid"
	case Ultra:
		return "ultra"
	case UltraForecast:
		return "ultra-forecast"
	default:
		return fmt.Sprintf("ProductClass(%d)", int(c))
	}
}

// ParseProductClass converts a name produced by String back to a class.
func ParseProductClass(s string) (ProductClass, error) {
	for _, c := range Classes {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown product class %q", s)
}

// MorePreciseThan returns true if c is a more precise class than other.
func (c ProductClass) MorePreciseThan(other ProductClass) bool {
	return c < other
}

// Eligible returns true if the class should be available for data observed
// at epoch, given the current time.
func (c ProductClass) Eligible(epoch, now time.Time) bool {
	return now.Sub(epoch) >= c.Latency()
}

// SelectClass returns the most precise eligible class.  The result is false
// if no class is eligible yet (the epoch is less than a minute ago or in
// the future).
func SelectClass(epoch, now time.Time) (ProductClass, bool) {
	for _, c := range Classes {
		if c.Eligible(epoch, now) {
			return c, true
		}
	}
	return 0, false
}

// FileKind is a kind of correction file.
type FileKind int

const (
	// Ephemeris is the precise orbit (SP3).
	Ephemeris FileKind = iota
	// Clock is the precise satellite clock (CLK).
	Clock
	// ERP is the earth rotation parameters.
	ERP
	// Broadcast is the broadcast navigation message (RINEX nav).
	Broadcast
)

// AllKinds lists every file kind.
var AllKinds = []FileKind{Ephemeris, Clock, ERP, Broadcast}

func (k FileKind) String() string {
	switch k {
	case Ephemeris:
		return "sp3"
	case Clock:
		return "clk"
	case ERP:
		return "erp"
	case Broadcast:
		return "nav"
	default:
		return fmt.Sprintf("FileKind(%d)", int(k))
	}
}

// ParseFileKind converts a name produced by String back to a kind.
func ParseFileKind(s string) (FileKind, error) {
	for _, k := range AllKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown file kind %q", s)
}
