package domain

import "github.com/shopspring/decimal"

// Bar is one OHLCV observation for a symbol.
// Timestamps are Unix milliseconds and strictly increase per symbol.
type Bar struct {
	Symbol    string
	Timestamp int64 // bar open time (ms)
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Validate checks price positivity and range consistency.
// Returns *MalformedBarError on failure.
func (b *Bar) Validate() error {
	if b.Symbol == "" {
		return &MalformedBarError{Symbol: b.Symbol, Timestamp: b.Timestamp, Reason: "empty symbol"}
	}
	if !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive() {
		return &MalformedBarError{Symbol: b.Symbol, Timestamp: b.Timestamp, Reason: "non-positive price"}
	}
	if b.Volume.IsNegative() {
		return &MalformedBarError{Symbol: b.Symbol, Timestamp: b.Timestamp, Reason: "negative volume"}
	}
	if b.High.LessThan(b.Low) {
		return &MalformedBarError{Symbol: b.Symbol, Timestamp: b.Timestamp, Reason: "high below low"}
	}
	if b.Open.GreaterThan(b.High) || b.Open.LessThan(b.Low) ||
		b.Close.GreaterThan(b.High) || b.Close.LessThan(b.Low) {
		return &MalformedBarError{Symbol: b.Symbol, Timestamp: b.Timestamp, Reason: "open/close outside high-low range"}
	}
	return nil
}

// DayIndex returns the UTC calendar day of the bar.
func DayIndex(timestampMs int64) int64 {
	const msPerDay = 24 * 60 * 60 * 1000
	if timestampMs < 0 {
		return (timestampMs - msPerDay + 1) / msPerDay
	}
	return timestampMs / msPerDay
}
