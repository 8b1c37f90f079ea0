package memory

import (
	"context"
	"sort"
	"sync"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RunRecord // keyed by run_id
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		data: make(map[string]*domain.RunRecord),
	}
}

// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(_ context.Context, r *domain.RunRecord) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.RunID]; exists {
		return storage.Duplicate("run", r.RunID)
	}

	s.data[r.RunID] = copyRun(r)
	return nil
}

// GetByID retrieves a run by ID.
func (s *RunStore) GetByID(_ context.Context, runID string) (*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[runID]
	if !ok {
		return nil, storage.NotFound("run", runID)
	}
	return copyRun(r), nil
}

// List returns all runs ordered by (started_at, run_id).
func (s *RunStore) List(_ context.Context) ([]*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.RunRecord, 0, len(s.data))
	for _, r := range s.data {
		result = append(result, copyRun(r))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt != result[j].StartedAt {
			return result[i].StartedAt < result[j].StartedAt
		}
		return result[i].RunID < result[j].RunID
	})
	return result, nil
}

func copyRun(r *domain.RunRecord) *domain.RunRecord {
	c := *r
	c.Symbols = append([]string(nil), r.Symbols...)
	return &c
}

var _ storage.RunStore = (*RunStore)(nil)
