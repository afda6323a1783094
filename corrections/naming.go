package corrections

import (
	"fmt"
	"path"
	"time"

	"github.com/goblimey/go-rtkpost/gpstime"
)

// IssueInterval is the time between ultra-rapid issues.
const IssueInterval = 6 * time.Hour

// productPrefix gives the three letter prefix of the products of a class.
func productPrefix(c ProductClass) string {
	switch c {
	case Final:
		return "igs"
	case Rapid:
		return "igr"
	default:
		return "igu"
	}
}

// issueTime returns the start of the ultra-rapid issue to use for data
// observed at t.  HH = 6 x floor(hour/6).  The forecast class uses the issue
// before that, whose predicted half covers t.
func issueTime(c ProductClass, t time.Time) time.Time {
	t = t.UTC()
	if c == UltraForecast {
		t = t.Add(-IssueInterval)
	}
	bucket := 6 * (t.Hour() / 6)
	return time.Date(t.Year(), t.Month(), t.Day(), bucket, 0, 0, 0, time.UTC)
}

// Name returns the canonical path of a correction file relative to the
// archive's product or broadcast directory, without any compression
// suffix.  The result is false if the class doesn't publish that kind of
// file (there are no ultra-rapid clocks).
//
//	final          1964/igs19643.sp3   1964/igs19643.clk   1964/igs19647.erp
//	rapid          1964/igr19643.sp3   1964/igr19643.clk   1964/igr19643.erp
//	ultra          1964/igu19643_12.sp3                    1964/igu19643_12.erp
//	broadcast      2017/249/17n/brdc2490.17n  (final, rapid)
//	               2017/249/17n/hour2490.17n  (ultra classes)
func Name(c ProductClass, k FileKind, t time.Time) (string, bool) {
	t = t.UTC()

	if k == Broadcast {
		base := "brdc"
		if c == Ultra || c == UltraForecast {
			base = "hour"
		}
		doy := t.YearDay()
		yy := t.Year() % 100
		dir := fmt.Sprintf("%04d/%03d/%02dn", t.Year(), doy, yy)
		return path.Join(dir, fmt.Sprintf("%s%03d0.%02dn", base, doy, yy)), true
	}

	if (c == Ultra || c == UltraForecast) && k == Clock {
		return "", false
	}

	var suffix string
	switch k {
	case Ephemeris:
		suffix = "sp3"
	case Clock:
		suffix = "clk"
	case ERP:
		suffix = "erp"
	default:
		return "", false
	}

	if c == Ultra || c == UltraForecast {
		issue := issueTime(c, t)
		e := gpstime.FromCalendar(issue)
		name := fmt.Sprintf("%s%04d%d_%02d.%s", productPrefix(c), e.Week, e.DayOfWeek(), issue.Hour(), suffix)
		return path.Join(fmt.Sprintf("%04d", e.Week), name), true
	}

	e := gpstime.FromCalendar(t)
	day := e.DayOfWeek()
	if c == Final && k == ERP {
		// The final ERP file covers the whole week.
		day = 7
	}
	name := fmt.Sprintf("%s%04d%d.%s", productPrefix(c), e.Week, day, suffix)
	return path.Join(fmt.Sprintf("%04d", e.Week), name), true
}
