package store

import (
	"context"
	"sort"
	"sync"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

// MemoryRunStore is an in-process core.RunStore for tests and servers run
// without persistence.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*core.Run
}

// NewMemory builds an empty in-memory store.
func NewMemory() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*core.Run)}
}

// SaveRun stores a copy of the run keyed by its id.
func (s *MemoryRunStore) SaveRun(ctx context.Context, run *core.Run) error {
	if run == nil || run.ID == "" {
		return core.ErrState("RUN_INVALID", "run must have an id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

// GetRun loads one run by id.
func (s *MemoryRunStore) GetRun(ctx context.Context, id string) (*core.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, core.ErrNotFound("run", id)
	}
	copied := *run
	return &copied, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *MemoryRunStore) ListRuns(ctx context.Context, limit int) ([]*core.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*core.Run, 0, len(s.runs))
	for _, run := range s.runs {
		copied := *run
		runs = append(runs, &copied)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID > runs[j].ID
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Close is a no-op.
func (s *MemoryRunStore) Close() error { return nil }
