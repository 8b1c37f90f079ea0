package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
)

// SMACrossStrategy trades the crossing of a fast and a slow moving average
// of closes.
//   - fast crosses above slow: go long Quantity (covering any short first)
//   - fast crosses below slow: close the long; with AllowShort also go short Quantity
type SMACrossStrategy struct {
	FastPeriod     int
	SlowPeriod     int
	Quantity       decimal.Decimal
	AllowShort     bool
	LimitOffsetPct *decimal.Decimal // nil: market orders
	TimeInForce    domain.TimeInForce
}

// NewSMACrossStrategy creates a new SMACrossStrategy with market entries.
func NewSMACrossStrategy(fast, slow int, qty decimal.Decimal, allowShort bool) *SMACrossStrategy {
	return &SMACrossStrategy{
		FastPeriod:  fast,
		SlowPeriod:  slow,
		Quantity:    qty,
		AllowShort:  allowShort,
		TimeInForce: domain.TimeInForceGTC,
	}
}

// Name returns the strategy identifier including parameters.
func (s *SMACrossStrategy) Name() string {
	name := fmt.Sprintf("SMA_CROSS_%d_%d", s.FastPeriod, s.SlowPeriod)
	if s.AllowShort {
		name += "_LS"
	}
	return name
}

// OnBar emits a signal on the bar where the averages cross.
// Needs SlowPeriod+1 bars; returns nil before that.
func (s *SMACrossStrategy) OnBar(_ context.Context, input *Input) (*domain.Signal, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	fastNow, ok1 := sma(input.Bars, s.FastPeriod, 0)
	slowNow, ok2 := sma(input.Bars, s.SlowPeriod, 0)
	fastPrev, ok3 := sma(input.Bars, s.FastPeriod, 1)
	slowPrev, ok4 := sma(input.Bars, s.SlowPeriod, 1)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, nil
	}

	held := decimal.Zero
	if input.Position != nil {
		held = input.Position.SignedQuantity()
	}
	ref := input.Current().Close

	switch {
	case fastPrev.LessThanOrEqual(slowPrev) && fastNow.GreaterThan(slowNow):
		if held.IsPositive() {
			return nil, nil
		}
		qty := s.Quantity.Add(held.Abs())
		return newSignal(input.Symbol, domain.SideBuy, qty, ref, s.LimitOffsetPct, s.TimeInForce), nil

	case fastPrev.GreaterThanOrEqual(slowPrev) && fastNow.LessThan(slowNow):
		if held.IsNegative() {
			return nil, nil
		}
		qty := held
		if s.AllowShort {
			qty = qty.Add(s.Quantity)
		}
		if !qty.IsPositive() {
			return nil, nil
		}
		return newSignal(input.Symbol, domain.SideSell, qty, ref, s.LimitOffsetPct, s.TimeInForce), nil
	}

	return nil, nil
}
