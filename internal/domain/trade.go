package domain

import "github.com/shopspring/decimal"

// TradeLogRow is one row of the persisted trade log.
type TradeLogRow struct {
	Timestamp   int64
	Symbol      string
	Side        Side
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	Fee         decimal.Decimal
	RealizedPnL decimal.Decimal
}

// EquityRow is one row of the persisted equity curve.
type EquityRow struct {
	Timestamp     int64
	Equity        decimal.Decimal
	Cash          decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// TradeLogRowFrom flattens a booked trade into a trade-log row.
func TradeLogRowFrom(t Trade) TradeLogRow {
	return TradeLogRow{
		Timestamp:   t.Fill.Timestamp,
		Symbol:      t.Fill.Symbol,
		Side:        t.Fill.Side,
		Price:       t.Fill.Price,
		Quantity:    t.Fill.Quantity,
		Fee:         t.Fill.Fee,
		RealizedPnL: t.RealizedPnL,
	}
}

// EquityRowFrom flattens a snapshot into an equity-curve row.
func EquityRowFrom(s PortfolioSnapshot) EquityRow {
	return EquityRow{
		Timestamp:     s.Timestamp,
		Equity:        s.Equity,
		Cash:          s.Cash,
		UnrealizedPnL: s.UnrealizedPnL,
	}
}
