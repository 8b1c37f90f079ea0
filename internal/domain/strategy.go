package domain

import "github.com/shopspring/decimal"

// StrategyConfig holds strategy parameters. Only the fields used by
// StrategyType are read.
type StrategyConfig struct {
	StrategyType string // "SMA_CROSS" | "BUY_AND_HOLD"
	Quantity     decimal.Decimal

	// SMA_CROSS parameters
	FastPeriod *int
	SlowPeriod *int
	AllowShort bool

	// Optional limit entry: offset from the last close as a percentage.
	// Nil means market orders.
	LimitOffsetPct *decimal.Decimal
	TimeInForce    TimeInForce
}

// Strategy type constants
const (
	StrategyTypeSMACross   = "SMA_CROSS"
	StrategyTypeBuyAndHold = "BUY_AND_HOLD"
)
