package gpstime

import (
	"errors"
	"math"
	"testing"
	"time"
)

// TestToCalendar checks the conversion of week and time of week to a calendar time.
func TestToCalendar(t *testing.T) {
	var testData = []struct {
		description string
		week        int
		towMillis   float64
		want        time.Time
		wantWarning bool
	}{
		{"origin", 0, 0, Origin, false},
		{"one week", 1, 0, time.Date(1980, time.January, 13, 0, 0, 0, 0, time.UTC), false},
		{"one day into the week", 1, 86400000, time.Date(1980, time.January, 14, 0, 0, 0, 0, time.UTC), false},
		{"2017 observation", 1964, 302400000,
			time.Date(2017, time.September, 6, 12, 0, 0, 0, time.UTC), false},
		{"fraction", 1964, 1500.5, time.Date(2017, time.September, 3, 0, 0, 1, 500500000, time.UTC), false},
		{"negative tow", 1964, -1000, time.Date(2017, time.September, 2, 23, 59, 59, 0, time.UTC), false},
		{"limit", 0, 1e9, Origin.Add(1e9 * time.Millisecond), false},
		{"garbage", 1964, 1e9 + 1, time.Date(2017, time.September, 3, 0, 0, 0, 0, time.UTC), true},
		{"negative garbage", 1964, -2e9, time.Date(2017, time.September, 3, 0, 0, 0, 0, time.UTC), true},
		{"NaN", 1964, math.NaN(), time.Date(2017, time.September, 3, 0, 0, 0, 0, time.UTC), true},
	}

	for _, td := range testData {
		got, err := ToCalendar(td.week, td.towMillis)
		if !got.Equal(td.want) {
			t.Errorf("%s: want %v got %v", td.description, td.want, got)
		}
		if got.Location() != time.UTC {
			t.Errorf("%s: want UTC got %v", td.description, got.Location())
		}
		var warning *ClampWarning
		gotWarning := errors.As(err, &warning)
		if td.wantWarning != gotWarning {
			t.Errorf("%s: want warning %v got %v", td.description, td.wantWarning, err)
		}
	}
}

// TestFromCalendar checks the conversion of a calendar time to week, day of
// week and time of week.
func TestFromCalendar(t *testing.T) {
	var testData = []struct {
		description   string
		time          time.Time
		wantWeek      int
		wantDayOfWeek int
		wantTOW       float64
	}{
		{"origin", Origin, 0, 0, 0},
		{"saturday night", time.Date(1980, time.January, 12, 23, 59, 59, 0, time.UTC), 0, 6, 604799},
		{"wednesday noon", time.Date(2017, time.September, 6, 12, 0, 0, 0, time.UTC), 1964, 3, 302400},
		{"before origin", time.Date(1980, time.January, 5, 0, 0, 0, 0, time.UTC), -1, 6, 518400},
		{"other timezone", time.Date(2017, time.September, 6, 14, 0, 0, 0, time.FixedZone("CEST", 7200)),
			1964, 3, 302400},
	}

	for _, td := range testData {
		got := FromCalendar(td.time)
		if td.wantWeek != got.Week {
			t.Errorf("%s: want week %d got %d", td.description, td.wantWeek, got.Week)
		}
		if td.wantDayOfWeek != got.DayOfWeek() {
			t.Errorf("%s: want day %d got %d", td.description, td.wantDayOfWeek, got.DayOfWeek())
		}
		if td.wantTOW != got.TimeOfWeek {
			t.Errorf("%s: want tow %f got %f", td.description, td.wantTOW, got.TimeOfWeek)
		}
	}
}

// TestRoundTrip checks that converting an epoch to a calendar time and back
// gives the same epoch.
func TestRoundTrip(t *testing.T) {
	for week := 0; week < 3000; week += 97 {
		for tow := 0.0; tow < SecondsPerWeek; tow += 12345.678 {
			calendar, err := ToCalendar(week, tow*1000)
			if err != nil {
				t.Fatalf("week %d tow %f: unexpected warning %v", week, tow, err)
			}
			got := FromCalendar(calendar)
			if got.Week != week {
				t.Errorf("week %d tow %f: got week %d", week, tow, got.Week)
			}
			if math.Abs(got.TimeOfWeek-tow) > 1e-6 {
				t.Errorf("week %d tow %f: got tow %f", week, tow, got.TimeOfWeek)
			}

			// ... and the other way round, to the second.
			back := got.Time()
			if back.Sub(calendar).Abs() >= time.Microsecond {
				t.Errorf("week %d tow %f: want %v got %v", week, tow, calendar, back)
			}
		}
	}
}

// TestAdd checks that Add normalises the result.
func TestAdd(t *testing.T) {
	e := Epoch{Week: 1964, TimeOfWeek: 604000}
	got := e.Add(time.Hour)
	want := Epoch{Week: 1965, TimeOfWeek: 3200}
	if want != got {
		t.Errorf("want %v got %v", want, got)
	}
}

// TestStartOfWeek checks StartOfWeek.
func TestStartOfWeek(t *testing.T) {
	in := time.Date(2017, time.September, 6, 12, 34, 56, 0, time.UTC)
	want := time.Date(2017, time.September, 3, 0, 0, 0, 0, time.UTC)
	got := StartOfWeek(in)
	if !want.Equal(got) {
		t.Errorf("want %v got %v", want, got)
	}
}

func TestString(t *testing.T) {
	const want = "1964/302400.500"
	got := Epoch{Week: 1964, TimeOfWeek: 302400.5}.String()
	if want != got {
		t.Errorf("want %s got %s", want, got)
	}
}
