// The store package keeps the NAV-PVT fixes and RTK solutions extracted
// from each UBX file, and the record of each post-processing run.  Fixes
// and solutions are unique per source file and time: storing a new set for
// a source replaces the old set entirely.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/goblimey/go-rtkpost/rtkpost"
	"github.com/goblimey/go-rtkpost/ubx/navpvt"
)

// Fix is a usable NAV-PVT fix.
type Fix struct {
	Time      time.Time `json:"time" db:"time"`
	Latitude  float64   `json:"lat" db:"lat"`
	Longitude float64   `json:"lon" db:"lon"`
	// Height is above the ellipsoid and HMSL above mean sea level, both in
	// millimetres.
	Height int32   `json:"alt" db:"height"`
	HMSL   int32   `json:"msl" db:"hmsl"`
	HAcc   uint32  `json:"hAcc" db:"hacc"`
	VAcc   uint32  `json:"vAcc" db:"vacc"`
	NumSV  int     `json:"numSV" db:"numsv"`
	PDOP   float64 `json:"pDOP" db:"pdop"`
}

// FixFromNavPVT converts a decoded message.
func FixFromNavPVT(m *navpvt.Message) Fix {
	return Fix{
		Time:      m.Timestamp(),
		Latitude:  m.Latitude(),
		Longitude: m.Longitude(),
		Height:    m.Height,
		HMSL:      m.HMSL,
		HAcc:      m.HAcc,
		VAcc:      m.VAcc,
		NumSV:     int(m.NumSV),
		PDOP:      m.PDOPValue(),
	}
}

// Store keeps fixes, solutions and runs.
type Store interface {
	ReplaceFixes(ctx context.Context, source string, fixes []Fix) error
	// Fixes returns the fixes for a source in time order.
	Fixes(ctx context.Context, source string) ([]Fix, error)
	ReplaceSolutions(ctx context.Context, source string, solutions []rtkpost.Solution) error
	// Solutions returns the solutions for a source in time order.
	Solutions(ctx context.Context, source string) ([]rtkpost.Solution, error)
	RecordRun(ctx context.Context, run rtkpost.Run) error
	// Runs returns the runs for a source, oldest first.
	Runs(ctx context.Context, source string) ([]rtkpost.Run, error)
	// LatestRuns returns the most recent run of each source, ordered by
	// source.
	LatestRuns(ctx context.Context) ([]rtkpost.Run, error)
	Close() error
}

// uniqueFixes sorts fixes by time and keeps the last of any with the same
// time.
func uniqueFixes(fixes []Fix) []Fix {
	sorted := append([]Fix{}, fixes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	result := sorted[:0]
	for _, f := range sorted {
		if n := len(result); n > 0 && result[n-1].Time.Equal(f.Time) {
			result[n-1] = f
			continue
		}
		result = append(result, f)
	}
	return result
}

// uniqueSolutions does the same for solutions.
func uniqueSolutions(solutions []rtkpost.Solution) []rtkpost.Solution {
	sorted := append([]rtkpost.Solution{}, solutions...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	result := sorted[:0]
	for _, s := range sorted {
		if n := len(result); n > 0 && result[n-1].Time.Equal(s.Time) {
			result[n-1] = s
			continue
		}
		result = append(result, s)
	}
	return result
}

// latestPerSource picks the run with the latest Finished time for each
// source, given runs in any order.
func latestPerSource(runs []rtkpost.Run) []rtkpost.Run {
	latest := make(map[string]rtkpost.Run)
	for _, r := range runs {
		if l, ok := latest[r.Source]; !ok || !r.Finished.Before(l.Finished) {
			latest[r.Source] = r
		}
	}
	result := make([]rtkpost.Run, 0, len(latest))
	for _, r := range latest {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Source < result[j].Source })
	return result
}
