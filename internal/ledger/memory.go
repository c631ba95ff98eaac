package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

type key struct {
	run  string
	traj int
}

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	states      map[key]TrajectoryState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.states = make(map[key]TrajectoryState)
	return nil
}

func (s *MemoryStore) Record(_ context.Context, st TrajectoryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	st.StageName = stageName(st.Stage)
	s.states[key{st.RunID, st.TrajID}] = st
	return nil
}

func (s *MemoryStore) Get(_ context.Context, runID string, traj int) (TrajectoryState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[key{runID, traj}]
	return st, ok, nil
}

func (s *MemoryStore) List(_ context.Context, runID string) ([]TrajectoryState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []TrajectoryState
	for k, st := range s.states {
		if k.run == runID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrajID < out[j].TrajID })
	return out, nil
}

func (s *MemoryStore) Runs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]time.Time)
	for k, st := range s.states {
		if st.UpdatedAt.After(latest[k.run]) {
			latest[k.run] = st.UpdatedAt
		}
	}
	out := make([]string, 0, len(latest))
	for id := range latest {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return latest[out[i]].After(latest[out[j]]) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
