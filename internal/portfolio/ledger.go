// Package portfolio is the single source of truth for cash, positions and PnL.
package portfolio

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
)

// Ledger errors
var (
	ErrInvalidFill = errors.New("invalid fill")
)

// Config holds ledger parameters.
type Config struct {
	InitialCash decimal.Decimal
	// Leverage divides notional into required margin. 1 means fully funded.
	Leverage decimal.Decimal
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.InitialCash.IsPositive() {
		return domain.NewConfigurationError("account.initial_cash", "must be > 0")
	}
	if c.Leverage.LessThan(decimal.NewFromInt(1)) {
		return domain.NewConfigurationError("account.leverage", "must be >= 1")
	}
	return nil
}

// Ledger tracks cash, netted positions and PnL. Not safe for concurrent use;
// each simulation instance owns its ledger exclusively.
type Ledger struct {
	initialCash decimal.Decimal
	leverage    decimal.Decimal

	cash      decimal.Decimal
	realized  decimal.Decimal
	fees      decimal.Decimal
	positions map[string]*domain.Position
	marks     map[string]decimal.Decimal // latest close per symbol
	trades    []domain.Trade
}

// NewLedger creates a ledger funded with cfg.InitialCash.
func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.Leverage.IsZero() {
		cfg.Leverage = decimal.NewFromInt(1)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		initialCash: cfg.InitialCash,
		leverage:    cfg.Leverage,
		cash:        cfg.InitialCash,
		realized:    decimal.Zero,
		fees:        decimal.Zero,
		positions:   make(map[string]*domain.Position),
		marks:       make(map[string]decimal.Decimal),
	}, nil
}

// ApplyFill books a fill atomically and returns the resulting trade.
// Fills that increase exposure are refused with *domain.InsufficientMarginError
// when free margin would go negative; the ledger is then left unchanged.
func (l *Ledger) ApplyFill(f *domain.Fill) (domain.Trade, error) {
	if f == nil || f.Symbol == "" || !f.Quantity.IsPositive() || !f.Price.IsPositive() || f.Fee.IsNegative() {
		return domain.Trade{}, fmt.Errorf("%w: %+v", ErrInvalidFill, f)
	}

	current := l.positions[f.Symbol]
	next, realized := nextPosition(current, f, l.leverage)

	if increasesExposure(current, next) {
		if err := l.checkMargin(f, next); err != nil {
			return domain.Trade{}, err
		}
	}

	// Commit
	l.cash = l.cash.Sub(f.Side.Sign().Mul(f.Notional())).Sub(f.Fee)
	l.fees = l.fees.Add(f.Fee)
	l.realized = l.realized.Add(realized)
	if next == nil {
		delete(l.positions, f.Symbol)
	} else {
		l.positions[f.Symbol] = next
	}
	if _, ok := l.marks[f.Symbol]; !ok {
		l.marks[f.Symbol] = f.Price
	}

	t := domain.Trade{
		Seq:         len(l.trades) + 1,
		Fill:        *f,
		RealizedPnL: realized,
	}
	l.trades = append(l.trades, t)
	return t, nil
}

// CheckMargin reports whether a hypothetical fill would pass the margin check.
func (l *Ledger) CheckMargin(f *domain.Fill) error {
	current := l.positions[f.Symbol]
	next, _ := nextPosition(current, f, l.leverage)
	if !increasesExposure(current, next) {
		return nil
	}
	return l.checkMargin(f, next)
}

func (l *Ledger) checkMargin(f *domain.Fill, next *domain.Position) error {
	cash := l.cash.Sub(f.Side.Sign().Mul(f.Notional())).Sub(f.Fee)

	equity := cash
	used := decimal.Zero
	for sym, p := range l.positions {
		if sym == f.Symbol {
			continue
		}
		mark := l.markFor(p)
		equity = equity.Add(p.MarketValue(mark))
		used = used.Add(p.Notional(mark).Div(l.leverage))
	}
	if next != nil {
		equity = equity.Add(next.MarketValue(f.Price))
		used = used.Add(next.Notional(f.Price).Div(l.leverage))
	}

	free := equity.Sub(used)
	if free.IsNegative() {
		return &domain.InsufficientMarginError{
			Symbol:    f.Symbol,
			Required:  used,
			Available: equity,
		}
	}
	return nil
}

// nextPosition computes the position after a fill and the PnL it realizes.
// A fill larger than an opposing position closes it and opens the remainder
// in the other direction in the same step.
func nextPosition(current *domain.Position, f *domain.Fill, leverage decimal.Decimal) (*domain.Position, decimal.Decimal) {
	fillSide := domain.PositionSideFor(f.Side)

	if current == nil {
		return &domain.Position{
			Symbol:     f.Symbol,
			Side:       fillSide,
			Quantity:   f.Quantity,
			EntryPrice: f.Price,
			Leverage:   leverage,
			OpenedAt:   f.Timestamp,
		}, decimal.Zero
	}

	if current.Side == fillSide {
		qty := current.Quantity.Add(f.Quantity)
		cost := current.EntryPrice.Mul(current.Quantity).Add(f.Price.Mul(f.Quantity))
		return &domain.Position{
			Symbol:     current.Symbol,
			Side:       current.Side,
			Quantity:   qty,
			EntryPrice: cost.Div(qty),
			Leverage:   leverage,
			OpenedAt:   current.OpenedAt,
		}, decimal.Zero
	}

	closed := decimal.Min(current.Quantity, f.Quantity)
	realized := f.Price.Sub(current.EntryPrice).Mul(closed).Mul(current.Side.Sign())

	switch {
	case f.Quantity.LessThan(current.Quantity):
		return &domain.Position{
			Symbol:     current.Symbol,
			Side:       current.Side,
			Quantity:   current.Quantity.Sub(closed),
			EntryPrice: current.EntryPrice,
			Leverage:   leverage,
			OpenedAt:   current.OpenedAt,
		}, realized
	case f.Quantity.Equal(current.Quantity):
		return nil, realized
	default:
		return &domain.Position{
			Symbol:     current.Symbol,
			Side:       fillSide,
			Quantity:   f.Quantity.Sub(closed),
			EntryPrice: f.Price,
			Leverage:   leverage,
			OpenedAt:   f.Timestamp,
		}, realized
	}
}

// increasesExposure reports whether next holds more of the symbol than
// current, or holds it in a new direction.
func increasesExposure(current, next *domain.Position) bool {
	if next == nil {
		return false
	}
	if current == nil || current.Side != next.Side {
		return true
	}
	return next.Quantity.GreaterThan(current.Quantity)
}

// UpdateMark records the latest close for a symbol.
func (l *Ledger) UpdateMark(symbol string, price decimal.Decimal) {
	l.marks[symbol] = price
}

// Mark returns the latest close recorded for a symbol.
func (l *Ledger) Mark(symbol string) (decimal.Decimal, bool) {
	m, ok := l.marks[symbol]
	return m, ok
}

func (l *Ledger) markFor(p *domain.Position) decimal.Decimal {
	if m, ok := l.marks[p.Symbol]; ok {
		return m
	}
	return p.EntryPrice
}

// Valuation is the result of a mark-to-market pass.
type Valuation struct {
	PositionsValue decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	GrossExposure  decimal.Decimal
	UsedMargin     decimal.Decimal
	Equity         decimal.Decimal
	PerSymbol      map[string]decimal.Decimal // unrealized PnL by symbol
}

// MarkToMarket values open positions. Symbols missing from prices fall back
// to the latest recorded close, then to the entry price.
func (l *Ledger) MarkToMarket(prices map[string]decimal.Decimal) Valuation {
	v := Valuation{
		PositionsValue: decimal.Zero,
		UnrealizedPnL:  decimal.Zero,
		GrossExposure:  decimal.Zero,
		UsedMargin:     decimal.Zero,
		PerSymbol:      make(map[string]decimal.Decimal, len(l.positions)),
	}
	for _, sym := range l.symbols() {
		p := l.positions[sym]
		mark, ok := prices[sym]
		if !ok {
			mark = l.markFor(p)
		}
		upnl := p.UnrealizedPnL(mark)
		v.PositionsValue = v.PositionsValue.Add(p.MarketValue(mark))
		v.UnrealizedPnL = v.UnrealizedPnL.Add(upnl)
		v.GrossExposure = v.GrossExposure.Add(p.Notional(mark))
		v.UsedMargin = v.UsedMargin.Add(p.Notional(mark).Div(l.leverage))
		v.PerSymbol[sym] = upnl
	}
	v.Equity = l.cash.Add(v.PositionsValue)
	return v
}

// Snapshot values the portfolio at the latest marks.
func (l *Ledger) Snapshot(timestamp int64) domain.PortfolioSnapshot {
	v := l.MarkToMarket(nil)
	return domain.PortfolioSnapshot{
		Timestamp:             timestamp,
		Cash:                  l.cash,
		PositionsValue:        v.PositionsValue,
		Equity:                v.Equity,
		UnrealizedPnL:         v.UnrealizedPnL,
		RealizedPnLCumulative: l.realized,
		FeesCumulative:        l.fees,
		OpenPositions:         len(l.positions),
	}
}

// Status returns the summary served to status queries.
func (l *Ledger) Status() domain.Status {
	v := l.MarkToMarket(nil)
	return domain.Status{
		PnL:       l.realized.Add(v.UnrealizedPnL).Sub(l.fees),
		Equity:    v.Equity,
		Balance:   l.cash,
		Positions: l.Positions(),
	}
}

// Position returns a copy of the open position for symbol.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions ordered by symbol.
func (l *Ledger) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, sym := range l.symbols() {
		out = append(out, *l.positions[sym])
	}
	return out
}

func (l *Ledger) symbols() []string {
	syms := make([]string, 0, len(l.positions))
	for s := range l.positions {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

// Trades returns the booked trade history in order.
func (l *Ledger) Trades() []domain.Trade {
	out := make([]domain.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Cash returns the cash balance.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// InitialCash returns the starting balance.
func (l *Ledger) InitialCash() decimal.Decimal { return l.initialCash }

// RealizedPnL returns cumulative realized PnL.
func (l *Ledger) RealizedPnL() decimal.Decimal { return l.realized }

// Fees returns cumulative fees paid.
func (l *Ledger) Fees() decimal.Decimal { return l.fees }

// Leverage returns the configured leverage.
func (l *Ledger) Leverage() decimal.Decimal { return l.leverage }

// Equity returns cash plus the mark-to-market value of open positions.
func (l *Ledger) Equity() decimal.Decimal { return l.MarkToMarket(nil).Equity }

// GrossExposure returns the sum of open position notionals at latest marks.
func (l *Ledger) GrossExposure() decimal.Decimal { return l.MarkToMarket(nil).GrossExposure }

// OpenPositionCount returns the number of open positions.
func (l *Ledger) OpenPositionCount() int { return len(l.positions) }
