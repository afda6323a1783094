package store

import (
	"context"
	"sync"

	"github.com/goblimey/go-rtkpost/rtkpost"
)

// MemoryStore is a Store held in memory.  It's safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	fixes     map[string][]Fix
	solutions map[string][]rtkpost.Solution
	runs      []rtkpost.Run
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		fixes:     make(map[string][]Fix),
		solutions: make(map[string][]rtkpost.Solution),
	}
}

func (s *MemoryStore) ReplaceFixes(ctx context.Context, source string, fixes []Fix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixes[source] = uniqueFixes(fixes)
	return nil
}

func (s *MemoryStore) Fixes(ctx context.Context, source string) ([]Fix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Fix{}, s.fixes[source]...), nil
}

func (s *MemoryStore) ReplaceSolutions(ctx context.Context, source string, solutions []rtkpost.Solution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solutions[source] = uniqueSolutions(solutions)
	return nil
}

func (s *MemoryStore) Solutions(ctx context.Context, source string) ([]rtkpost.Solution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]rtkpost.Solution{}, s.solutions[source]...), nil
}

func (s *MemoryStore) RecordRun(ctx context.Context, run rtkpost.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *MemoryStore) Runs(ctx context.Context, source string) ([]rtkpost.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]rtkpost.Run, 0)
	for _, r := range s.runs {
		if r.Source == source {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) LatestRuns(ctx context.Context) ([]rtkpost.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestPerSource(s.runs), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
