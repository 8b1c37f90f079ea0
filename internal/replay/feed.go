package replay

import (
	"context"

	"trading-sim-lab/internal/domain"
)

// Feed produces bars in timestamp order.
// Next returns domain.ErrDataExhausted when no more bars remain.
type Feed interface {
	Next(ctx context.Context) (*domain.Bar, error)
}

// SliceFeed is a finite, restartable feed over a fixed bar sequence.
// The underlying slice is shared read-only; each feed has its own cursor.
type SliceFeed struct {
	bars []*domain.Bar
	pos  int
}

// NewSliceFeed creates a feed that yields bars in the given order.
// Ordering is not checked here; the simulation loop enforces it.
func NewSliceFeed(bars []*domain.Bar) *SliceFeed {
	return &SliceFeed{bars: bars}
}

// Next returns the next bar, or domain.ErrDataExhausted.
func (f *SliceFeed) Next(ctx context.Context) (*domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.pos >= len(f.bars) {
		return nil, domain.ErrDataExhausted
	}
	b := f.bars[f.pos]
	f.pos++
	return b, nil
}

// Reset rewinds the feed to the first bar.
func (f *SliceFeed) Reset() { f.pos = 0 }

// Len returns the total number of bars.
func (f *SliceFeed) Len() int { return len(f.bars) }

// ChanFeed is an unbounded feed fed by a producer, for paper trading.
// A closed channel ends the feed with domain.ErrDataExhausted.
type ChanFeed struct {
	ch <-chan *domain.Bar
}

// NewChanFeed wraps a bar channel.
func NewChanFeed(ch <-chan *domain.Bar) *ChanFeed {
	return &ChanFeed{ch: ch}
}

// Next blocks until a bar arrives, the channel closes or ctx is done.
func (f *ChanFeed) Next(ctx context.Context) (*domain.Bar, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case b, ok := <-f.ch:
		if !ok {
			return nil, domain.ErrDataExhausted
		}
		return b, nil
	}
}

var (
	_ Feed = (*SliceFeed)(nil)
	_ Feed = (*ChanFeed)(nil)
)
