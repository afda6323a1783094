package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/goblimey/go-rtkpost/rtkpost"
)

// ErrNoData is returned when there is nothing to summarise.
var ErrNoData = errors.New("no data")

// Selection says which solution represents a source.
type Selection int

const (
	// SelectLatest chooses the most recent solution.
	SelectLatest Selection = iota
	// SelectBest chooses the solution with the smallest vertical standard
	// deviation.
	SelectBest
)

func (s Selection) String() string {
	switch s {
	case SelectLatest:
		return "latest"
	case SelectBest:
		return "best"
	default:
		return fmt.Sprintf("Selection(%d)", int(s))
	}
}

// ParseSelection converts "latest" or "best" to a Selection.
func ParseSelection(s string) (Selection, error) {
	switch s {
	case "latest":
		return SelectLatest, nil
	case "best":
		return SelectBest, nil
	default:
		return 0, fmt.Errorf("unknown selection %q - want latest or best", s)
	}
}

// Statistics summarises a set of heights, in metres, rounded to the
// millimetre.  StdDev is the sample standard deviation, zero for a single
// value.
type Statistics struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// Aggregator answers questions about the results for a source.
type Aggregator struct {
	store Store
}

// NewAggregator creates an aggregator over a store.
func NewAggregator(s Store) *Aggregator {
	return &Aggregator{store: s}
}

// SolutionCount returns the number of solutions for a source.
func (a *Aggregator) SolutionCount(ctx context.Context, source string) (int, error) {
	solutions, err := a.store.Solutions(ctx, source)
	if err != nil {
		return 0, err
	}
	return len(solutions), nil
}

// LatestSolution returns the most recent solution, or ErrNoData.
func (a *Aggregator) LatestSolution(ctx context.Context, source string) (*rtkpost.Solution, error) {
	return a.Representative(ctx, source, SelectLatest)
}

// BestSolution returns the solution with the smallest vertical standard
// deviation, the earliest if there's a tie, or ErrNoData.
func (a *Aggregator) BestSolution(ctx context.Context, source string) (*rtkpost.Solution, error) {
	return a.Representative(ctx, source, SelectBest)
}

// Representative returns the solution chosen by sel, or ErrNoData.
func (a *Aggregator) Representative(ctx context.Context, source string, sel Selection) (*rtkpost.Solution, error) {
	solutions, err := a.store.Solutions(ctx, source)
	if err != nil {
		return nil, err
	}
	if len(solutions) == 0 {
		return nil, ErrNoData
	}

	chosen := 0
	switch sel {
	case SelectLatest:
		for i := range solutions {
			if solutions[i].Time.After(solutions[chosen].Time) {
				chosen = i
			}
		}
	case SelectBest:
		for i := range solutions {
			if solutions[i].SDU < solutions[chosen].SDU {
				chosen = i
			}
		}
	default:
		return nil, fmt.Errorf("unknown selection %v", sel)
	}

	result := solutions[chosen]
	return &result, nil
}

// HeightStatistics summarises the ellipsoidal heights of the solutions.
func (a *Aggregator) HeightStatistics(ctx context.Context, source string) (Statistics, error) {
	solutions, err := a.store.Solutions(ctx, source)
	if err != nil {
		return Statistics{}, err
	}
	heights := make([]float64, len(solutions))
	for i := range solutions {
		heights[i] = solutions[i].Height
	}
	return summarise(heights)
}

// LocalHeightStatistics summarises the NAP heights of the solutions that
// have them.
func (a *Aggregator) LocalHeightStatistics(ctx context.Context, source string) (Statistics, error) {
	solutions, err := a.store.Solutions(ctx, source)
	if err != nil {
		return Statistics{}, err
	}
	heights := make([]float64, 0, len(solutions))
	for i := range solutions {
		if solutions[i].Local != nil {
			heights = append(heights, solutions[i].Local.Z)
		}
	}
	return summarise(heights)
}

// FixHeightStatistics summarises the ellipsoidal heights of the NAV-PVT
// fixes.
func (a *Aggregator) FixHeightStatistics(ctx context.Context, source string) (Statistics, error) {
	fixes, err := a.store.Fixes(ctx, source)
	if err != nil {
		return Statistics{}, err
	}
	heights := make([]float64, len(fixes))
	for i := range fixes {
		heights[i] = float64(fixes[i].Height) / 1000
	}
	return summarise(heights)
}

func summarise(values []float64) (Statistics, error) {
	n := len(values)
	if n == 0 {
		return Statistics{}, ErrNoData
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var stdDev float64
	if n > 1 {
		var squares float64
		for _, v := range values {
			squares += (v - mean) * (v - mean)
		}
		stdDev = math.Sqrt(squares / float64(n-1))
	}

	return Statistics{Count: n, Mean: round3(mean), StdDev: round3(stdDev)}, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
