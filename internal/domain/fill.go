package domain

import "github.com/shopspring/decimal"

// Liquidity marks whether a fill added (maker) or removed (taker) liquidity.
type Liquidity string

// Liquidity constants
const (
	LiquidityMaker Liquidity = "maker"
	LiquidityTaker Liquidity = "taker"
)

// Fill is an append-only execution fact.
type Fill struct {
	OrderID   int64
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Fee       decimal.Decimal
	Timestamp int64 // ms
	IsPartial bool
	Liquidity Liquidity
}

// Notional returns price * quantity.
func (f *Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Quantity)
}

// Trade is a fill as booked by the ledger, with the PnL it realized.
type Trade struct {
	Seq         int // position in the run's trade history, from 1
	Fill        Fill
	RealizedPnL decimal.Decimal
}
