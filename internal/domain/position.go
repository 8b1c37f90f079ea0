package domain

import "github.com/shopspring/decimal"

// PositionSide is long or short.
type PositionSide string

// Position side constants
const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Sign returns +1 for long and -1 for short.
func (s PositionSide) Sign() decimal.Decimal {
	if s == PositionLong {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// PositionSideFor returns the position side opened by a fill side.
func PositionSideFor(side Side) PositionSide {
	if side == SideBuy {
		return PositionLong
	}
	return PositionShort
}

// Position is the net open exposure for one symbol.
// Quantity is always > 0; a closed position is removed, never kept at zero.
type Position struct {
	Symbol     string
	Side       PositionSide
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal // quantity-weighted average
	Leverage   decimal.Decimal
	OpenedAt   int64 // ms
}

// SignedQuantity returns quantity with the direction sign applied.
func (p *Position) SignedQuantity() decimal.Decimal {
	return p.Quantity.Mul(p.Side.Sign())
}

// Notional returns |quantity| * mark.
func (p *Position) Notional(mark decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(mark)
}

// MarketValue returns signed quantity * mark.
func (p *Position) MarketValue(mark decimal.Decimal) decimal.Decimal {
	return p.SignedQuantity().Mul(mark)
}

// UnrealizedPnL returns (mark - entry) * quantity * direction.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	return mark.Sub(p.EntryPrice).Mul(p.Quantity).Mul(p.Side.Sign())
}
