package strategy

import (
	"errors"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
)

// Input errors
var (
	ErrInvalidInput = errors.New("invalid strategy input")
	ErrEmptyWindow  = errors.New("empty bar window")
)

var hundred = decimal.NewFromInt(100)

// limitScale is the precision of generated limit prices.
const limitScale = 8

// sma returns the mean close of the period bars ending skip bars before the
// end of the window. ok is false when the window is too short.
func sma(bars []domain.Bar, period, skip int) (decimal.Decimal, bool) {
	end := len(bars) - skip
	if period <= 0 || end < period {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, b := range bars[end-period : end] {
		sum = sum.Add(b.Close)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// newSignal builds a market signal, or a limit signal offset from ref when
// offsetPct is set. Buys are placed below ref and sells above.
func newSignal(symbol string, side domain.Side, qty decimal.Decimal, ref decimal.Decimal, offsetPct *decimal.Decimal, tif domain.TimeInForce) *domain.Signal {
	if tif == "" {
		tif = domain.TimeInForceGTC
	}
	sig := &domain.Signal{
		Symbol:      symbol,
		Side:        side,
		Type:        domain.OrderTypeMarket,
		Quantity:    qty,
		TimeInForce: tif,
	}
	if offsetPct == nil {
		return sig
	}

	shift := ref.Mul(*offsetPct).Div(hundred)
	price := ref.Sub(shift)
	if side == domain.SideSell {
		price = ref.Add(shift)
	}
	price = price.RoundBank(limitScale)
	sig.Type = domain.OrderTypeLimit
	sig.LimitPrice = &price
	return sig
}
