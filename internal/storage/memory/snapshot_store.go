package memory

import (
	"context"
	"sync"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string][]domain.PortfolioSnapshot // keyed by run_id
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string][]domain.PortfolioSnapshot),
	}
}

// InsertBulk stores a run's equity curve. A run is written once.
func (s *SnapshotStore) InsertBulk(_ context.Context, runID string, snapshots []domain.PortfolioSnapshot) error {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(snapshots) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[runID]; exists {
		return storage.Duplicate("snapshot", runID)
	}
	s.data[runID] = append([]domain.PortfolioSnapshot(nil), snapshots...)
	return nil
}

// GetByRunID retrieves a run's snapshots in append order.
func (s *SnapshotStore) GetByRunID(_ context.Context, runID string) ([]domain.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.PortfolioSnapshot(nil), s.data[runID]...), nil
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
