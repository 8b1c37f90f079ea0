package memory

import (
	"context"
	"fmt"
	"sync"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string][]domain.Trade // keyed by run_id, ordered by seq
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string][]domain.Trade),
	}
}

// InsertBulk appends trades for a run. Fails entire batch on duplicate seq.
func (s *TradeStore) InsertBulk(_ context.Context, runID string, trades []domain.Trade) error {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(trades) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.data[runID]
	seen := make(map[int]struct{}, len(existing)+len(trades))
	for _, t := range existing {
		seen[t.Seq] = struct{}{}
	}
	for _, t := range trades {
		if t.Seq <= 0 {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[t.Seq]; exists {
			return storage.Duplicate("trade", fmt.Sprintf("%s#%d", runID, t.Seq))
		}
		seen[t.Seq] = struct{}{}
	}

	merged := append(append([]domain.Trade(nil), existing...), trades...)
	sortTrades(merged)
	s.data[runID] = merged
	return nil
}

// GetByRunID retrieves trades for a run ordered by seq.
func (s *TradeStore) GetByRunID(_ context.Context, runID string) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.Trade(nil), s.data[runID]...), nil
}

func sortTrades(trades []domain.Trade) {
	for i := 1; i < len(trades); i++ {
		for j := i; j > 0 && trades[j].Seq < trades[j-1].Seq; j-- {
			trades[j], trades[j-1] = trades[j-1], trades[j]
		}
	}
}

var _ storage.TradeStore = (*TradeStore)(nil)
