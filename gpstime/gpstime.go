// The gpstime package converts between GPS time, expressed as a week number and
// a time of week, and calendar time.
//
// GPS time started at midnight at the start of Sunday 6th January 1980.  The
// receiver reports times as a count of whole weeks since then plus a number of
// milliseconds into the current week.  Strictly, GPS time runs ahead of UTC by
// the number of leap seconds inserted since 1980 (18 at the time of writing).
// This package does NOT apply that correction.  Every timestamp stored by the
// system so far was produced without it and correcting it now would shift all
// of them, so the calendar times produced here are GPS time labelled as UTC.
package gpstime

import (
	"fmt"
	"math"
	"time"
)

// SecondsPerDay is the number of seconds in one day.
const SecondsPerDay = 86400

// SecondsPerWeek is the number of seconds in one GPS week.
const SecondsPerWeek = 7 * SecondsPerDay

// MaxTimeOfWeekMillis is the largest time of week magnitude (in milliseconds)
// that's taken seriously.  Receivers that have not yet acquired time put
// rubbish in the field, and anything bigger than this is treated as zero.
const MaxTimeOfWeekMillis = 1e9

// Origin is the start of GPS time, 1980-01-06T00:00:00 UTC.
var Origin = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// Epoch is a GPS time - the week number and the seconds since the start
// of that week.
type Epoch struct {
	// Week is the number of whole weeks since Origin.
	Week int
	// TimeOfWeek is the number of seconds since the start of Week.
	TimeOfWeek float64
}

// ClampWarning is returned alongside a usable time when the time of week
// given to ToCalendar was out of range and was replaced by zero.
type ClampWarning struct {
	Week             int
	TimeOfWeekMillis float64
}

func (w *ClampWarning) Error() string {
	return fmt.Sprintf("gpstime: time of week %g ms out of range in week %d - using 0",
		w.TimeOfWeekMillis, w.Week)
}

// ToCalendar converts a GPS week and a time of week in milliseconds to a
// time in the UTC timezone.  If the magnitude of the time of week is more than
// MaxTimeOfWeekMillis, zero is used instead and BOTH the resulting time and
// a ClampWarning are returned.  The caller can use the time anyway and should
// log the warning.
func ToCalendar(week int, timeOfWeekMillis float64) (time.Time, error) {
	var warning error
	tow := timeOfWeekMillis
	if math.IsNaN(tow) || tow < -MaxTimeOfWeekMillis || tow > MaxTimeOfWeekMillis {
		warning = &ClampWarning{Week: week, TimeOfWeekMillis: timeOfWeekMillis}
		tow = 0
	}

	weeks := time.Duration(week) * SecondsPerWeek * time.Second
	offset := time.Duration(math.Round(tow * float64(time.Millisecond)))

	return Origin.Add(weeks).Add(offset), warning
}

// FromCalendar converts a calendar time to a GPS epoch.  A time before
// Origin gives a negative week.  That's not rejected - the caller must
// guard against it if it matters.
func FromCalendar(t time.Time) Epoch {
	// Work in whole nanoseconds until the remainder is known so that the
	// time of week keeps its precision.
	const weekDuration = SecondsPerWeek * time.Second
	elapsed := t.Sub(Origin)
	week := elapsed / weekDuration
	remainder := elapsed % weekDuration
	if remainder < 0 {
		week--
		remainder += weekDuration
	}
	return Epoch{Week: int(week), TimeOfWeek: remainder.Seconds()}
}

// DayOfWeek returns the day within the GPS week, 0 (Sunday) to 6 (Saturday).
func (e Epoch) DayOfWeek() int {
	return int(math.Floor(e.TimeOfWeek / SecondsPerDay))
}

// Time returns the epoch as a calendar time in UTC.
func (e Epoch) Time() time.Time {
	t, _ := ToCalendar(e.Week, e.TimeOfWeek*1000)
	return t
}

// Add returns the epoch shifted by d, normalised so that the time of week
// lies within the week.
func (e Epoch) Add(d time.Duration) Epoch {
	return FromCalendar(e.Time().Add(d))
}

// String gives the epoch as "week/seconds", for example "2178/302400.000".
func (e Epoch) String() string {
	return fmt.Sprintf("%d/%.3f", e.Week, e.TimeOfWeek)
}

// StartOfWeek returns the start (in UTC) of the GPS week containing t.
func StartOfWeek(t time.Time) time.Time {
	e := FromCalendar(t)
	return Origin.Add(time.Duration(e.Week) * SecondsPerWeek * time.Second)
}
