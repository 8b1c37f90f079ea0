package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
)

// BuyAndHoldStrategy buys Quantity with a market order whenever flat and
// never sells.
type BuyAndHoldStrategy struct {
	Quantity decimal.Decimal
}

// NewBuyAndHoldStrategy creates a new BuyAndHoldStrategy.
func NewBuyAndHoldStrategy(qty decimal.Decimal) *BuyAndHoldStrategy {
	return &BuyAndHoldStrategy{Quantity: qty}
}

// Name returns the strategy identifier.
func (s *BuyAndHoldStrategy) Name() string {
	return fmt.Sprintf("BUY_AND_HOLD_%s", s.Quantity.String())
}

// OnBar buys when there is no position.
func (s *BuyAndHoldStrategy) OnBar(_ context.Context, input *Input) (*domain.Signal, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if input.Position != nil {
		return nil, nil
	}
	return newSignal(input.Symbol, domain.SideBuy, s.Quantity, input.Current().Close, nil, domain.TimeInForceGTC), nil
}
