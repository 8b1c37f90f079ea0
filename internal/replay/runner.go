package replay

import (
	"context"
	"fmt"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

// Loader reads bars from storage and arranges them for replay.
type Loader struct {
	barStore storage.BarStore
}

// NewLoader creates a new bar loader.
func NewLoader(barStore storage.BarStore) *Loader {
	return &Loader{barStore: barStore}
}

// Load reads bars for symbols within [from, to] and merges them into one
// stream ordered by (timestamp, symbol). Stored series that are not strictly
// increasing yield ErrInvalidOrdering.
func (l *Loader) Load(ctx context.Context, symbols []string, from, to int64) ([]*domain.Bar, error) {
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}

	series := make([][]*domain.Bar, 0, len(symbols))
	for _, sym := range symbols {
		bars, err := l.barStore.GetByTimeRange(ctx, sym, from, to)
		if err != nil {
			return nil, fmt.Errorf("load bars for %s: %w", sym, err)
		}
		series = append(series, bars)
	}

	merged := MergeBars(series...)
	if err := ValidateOrdering(merged); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrdering, err)
	}
	return merged, nil
}

// Feed loads bars and wraps them in a SliceFeed.
func (l *Loader) Feed(ctx context.Context, symbols []string, from, to int64) (*SliceFeed, error) {
	bars, err := l.Load(ctx, symbols, from, to)
	if err != nil {
		return nil, err
	}
	return NewSliceFeed(bars), nil
}
