package memory

import (
	"context"
	"sync"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

// ViolationStore is an in-memory implementation of storage.ViolationStore.
type ViolationStore struct {
	mu   sync.RWMutex
	data map[string][]domain.RiskEvaluation // keyed by run_id
}

// NewViolationStore creates a new in-memory violation store.
func NewViolationStore() *ViolationStore {
	return &ViolationStore{
		data: make(map[string][]domain.RiskEvaluation),
	}
}

// InsertBulk stores a run's violations. A run is written once.
func (s *ViolationStore) InsertBulk(_ context.Context, runID string, violations []domain.RiskEvaluation) error {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(violations) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[runID]; exists {
		return storage.Duplicate("violation", runID)
	}
	s.data[runID] = append([]domain.RiskEvaluation(nil), violations...)
	return nil
}

// GetByRunID retrieves a run's violations in append order.
func (s *ViolationStore) GetByRunID(_ context.Context, runID string) ([]domain.RiskEvaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.RiskEvaluation(nil), s.data[runID]...), nil
}

var _ storage.ViolationStore = (*ViolationStore)(nil)
