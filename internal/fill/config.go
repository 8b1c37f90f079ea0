// Package fill decides whether, how much and at what price an order fills
// against a bar.
package fill

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
)

// Mode selects the reference price for market orders.
type Mode string

// Mode constants
const (
	// ModeNextOpen fills market orders at the open of the bar after the
	// signal bar. No lookahead.
	ModeNextOpen Mode = "next_open"

	// ModeSameBar fills market orders at the close of the signal bar.
	// Quick approximation only.
	ModeSameBar Mode = "same_bar"
)

// SlippageKind selects how slippage is expressed.
type SlippageKind string

// Slippage kinds
const (
	SlippageNone     SlippageKind = "none"
	SlippagePercent  SlippageKind = "percent"
	SlippageAbsolute SlippageKind = "absolute"
)

// Slippage is an adverse offset applied to market fills.
// Percent values are fractions: 0.001 means 0.1%.
type Slippage struct {
	Kind  SlippageKind
	Value decimal.Decimal
}

// Apply returns the slipped price: buys pay up, sells receive down.
func (s Slippage) Apply(price decimal.Decimal, side domain.Side) decimal.Decimal {
	var offset decimal.Decimal
	switch s.Kind {
	case SlippagePercent:
		offset = price.Mul(s.Value)
	case SlippageAbsolute:
		offset = s.Value
	default:
		return price
	}
	if side == domain.SideBuy {
		return price.Add(offset)
	}
	return price.Sub(offset)
}

// FeeRate is a maker/taker pair. Rates are fractions of notional.
type FeeRate struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// FeeSchedule holds the default rates and per-symbol overrides.
type FeeSchedule struct {
	Default   FeeRate
	PerSymbol map[string]FeeRate
}

// Rate returns the fee rate for a symbol and liquidity flag.
func (s FeeSchedule) Rate(symbol string, liq domain.Liquidity) decimal.Decimal {
	r, ok := s.PerSymbol[symbol]
	if !ok {
		r = s.Default
	}
	if liq == domain.LiquidityMaker {
		return r.Maker
	}
	return r.Taker
}

// Config holds fill model parameters.
type Config struct {
	Mode     Mode
	Slippage Slippage
	Fees     FeeSchedule

	// ParticipationRate caps each fill at volume * rate. Zero disables the cap.
	ParticipationRate decimal.Decimal

	// MinNotional rejects orders whose reference notional is below it. Zero disables.
	MinNotional decimal.Decimal

	// Decimal places used for round-half-even of fill price, quantity and fee.
	PriceScale    int32
	QuantityScale int32
	FeeScale      int32
}

// DefaultConfig returns the default fill configuration.
func DefaultConfig() Config {
	return Config{
		Mode: ModeNextOpen,
		Slippage: Slippage{
			Kind:  SlippagePercent,
			Value: decimal.RequireFromString("0.0005"),
		},
		Fees: FeeSchedule{
			Default: FeeRate{
				Maker: decimal.RequireFromString("0.001"),
				Taker: decimal.RequireFromString("0.001"),
			},
		},
		PriceScale:    8,
		QuantityScale: 8,
		FeeScale:      8,
	}
}

// Validate checks the configuration. Returns *domain.ConfigurationError.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeNextOpen, ModeSameBar:
	default:
		return domain.NewConfigurationError("fill.mode", fmt.Sprintf("unknown mode %q", c.Mode))
	}
	switch c.Slippage.Kind {
	case SlippageNone, SlippagePercent, SlippageAbsolute, "":
	default:
		return domain.NewConfigurationError("fill.slippage.kind", fmt.Sprintf("unknown kind %q", c.Slippage.Kind))
	}
	if c.Slippage.Value.IsNegative() {
		return domain.NewConfigurationError("fill.slippage.value", "must be >= 0")
	}
	if c.Slippage.Kind == SlippagePercent && c.Slippage.Value.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return domain.NewConfigurationError("fill.slippage.value", "percent slippage must be < 1")
	}
	if err := validateRate("fill.fees.default", c.Fees.Default); err != nil {
		return err
	}
	for sym, r := range c.Fees.PerSymbol {
		if err := validateRate("fill.fees."+sym, r); err != nil {
			return err
		}
	}
	if c.ParticipationRate.IsNegative() || c.ParticipationRate.GreaterThan(decimal.NewFromInt(1)) {
		return domain.NewConfigurationError("fill.participation_rate", "must be within [0, 1]")
	}
	if c.MinNotional.IsNegative() {
		return domain.NewConfigurationError("fill.min_notional", "must be >= 0")
	}
	if c.PriceScale < 0 || c.QuantityScale < 0 || c.FeeScale < 0 {
		return domain.NewConfigurationError("fill.scale", "must be >= 0")
	}
	return nil
}

func validateRate(field string, r FeeRate) error {
	if r.Maker.IsNegative() || r.Taker.IsNegative() {
		return domain.NewConfigurationError(field, "fee rates must be >= 0")
	}
	return nil
}
