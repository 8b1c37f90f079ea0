package domain

import "github.com/shopspring/decimal"

// PortfolioSnapshot is one equity-curve sample, appended once per bar.
type PortfolioSnapshot struct {
	Timestamp             int64 // ms
	Cash                  decimal.Decimal
	PositionsValue        decimal.Decimal // mark-to-market value of open positions
	Equity                decimal.Decimal // Cash + PositionsValue
	UnrealizedPnL         decimal.Decimal
	RealizedPnLCumulative decimal.Decimal
	FeesCumulative        decimal.Decimal
	OpenPositions         int
}

// Status is the point-in-time summary served to status queries.
type Status struct {
	PnL       decimal.Decimal // realized + unrealized - fees
	Equity    decimal.Decimal
	Balance   decimal.Decimal // cash
	Positions []Position
}
