package strategy

import (
	"context"

	"trading-sim-lab/internal/domain"
)

// Strategy turns a bar window into at most one trade intent per call.
// Implementations must not keep state between calls beyond their own
// configuration; the engine treats their output as untrusted.
type Strategy interface {
	// OnBar is called once per bar of input.Symbol. A nil signal means no action.
	OnBar(ctx context.Context, input *Input) (*domain.Signal, error)

	// Name returns the strategy identifier (includes parameters).
	Name() string
}

// Input holds everything a strategy may look at for one bar.
type Input struct {
	Symbol   string
	Bars     []domain.Bar     // lookback window, oldest first; last is the current bar
	Position *domain.Position // nil when flat
}

// Validate checks the input is usable.
func (in *Input) Validate() error {
	if in == nil || in.Symbol == "" {
		return ErrInvalidInput
	}
	if len(in.Bars) == 0 {
		return ErrEmptyWindow
	}
	if in.Bars[len(in.Bars)-1].Symbol != in.Symbol {
		return ErrInvalidInput
	}
	return nil
}

// Current returns the latest bar of the window.
func (in *Input) Current() domain.Bar {
	return in.Bars[len(in.Bars)-1]
}
