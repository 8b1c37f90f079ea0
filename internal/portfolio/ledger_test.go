package portfolio

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestLedger(t *testing.T, cash, leverage string) *Ledger {
	t.Helper()
	l, err := NewLedger(Config{InitialCash: d(cash), Leverage: d(leverage)})
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	return l
}

func makeFill(symbol string, side domain.Side, price, qty, fee string, ts int64) *domain.Fill {
	return &domain.Fill{
		OrderID:   ts,
		Symbol:    symbol,
		Side:      side,
		Price:     d(price),
		Quantity:  d(qty),
		Fee:       d(fee),
		Timestamp: ts,
	}
}

func mustApply(t *testing.T, l *Ledger, f *domain.Fill) domain.Trade {
	t.Helper()
	tr, err := l.ApplyFill(f)
	if err != nil {
		t.Fatalf("ApplyFill failed: %v", err)
	}
	return tr
}

func TestLedger_OpenAddReduceClose(t *testing.T) {
	l := newTestLedger(t, "10000", "1")

	mustApply(t, l, makeFill("BTC", domain.SideBuy, "100", "10", "1", 1))
	if !l.Cash().Equal(d("8999")) {
		t.Errorf("cash = %s, want 8999", l.Cash())
	}

	mustApply(t, l, makeFill("BTC", domain.SideBuy, "120", "10", "0", 2))
	p, ok := l.Position("BTC")
	if !ok {
		t.Fatal("expected open position")
	}
	if p.Side != domain.PositionLong || !p.Quantity.Equal(d("20")) || !p.EntryPrice.Equal(d("110")) {
		t.Errorf("position = %+v, want long 20 @ 110", p)
	}

	tr := mustApply(t, l, makeFill("BTC", domain.SideSell, "130", "5", "0", 3))
	if !tr.RealizedPnL.Equal(d("100")) {
		t.Errorf("realized = %s, want 100", tr.RealizedPnL)
	}
	p, _ = l.Position("BTC")
	if !p.Quantity.Equal(d("15")) || !p.EntryPrice.Equal(d("110")) {
		t.Errorf("position after reduce = %+v, want 15 @ 110", p)
	}

	tr = mustApply(t, l, makeFill("BTC", domain.SideSell, "100", "15", "0", 4))
	if !tr.RealizedPnL.Equal(d("-150")) {
		t.Errorf("realized = %s, want -150", tr.RealizedPnL)
	}
	if _, ok := l.Position("BTC"); ok {
		t.Error("position should be removed at zero quantity")
	}
	if !l.RealizedPnL().Equal(d("-50")) {
		t.Errorf("cumulative realized = %s, want -50", l.RealizedPnL())
	}

	// Flat: equity equals cash, which equals initial + realized - fees
	if !l.Equity().Equal(l.Cash()) {
		t.Errorf("flat equity %s != cash %s", l.Equity(), l.Cash())
	}
	if !l.Cash().Equal(d("9949")) {
		t.Errorf("cash = %s, want 9949", l.Cash())
	}
}

func TestLedger_FlipIsAtomic(t *testing.T) {
	l := newTestLedger(t, "10000", "1")

	mustApply(t, l, makeFill("ETH", domain.SideBuy, "110", "15", "0", 1))
	tr := mustApply(t, l, makeFill("ETH", domain.SideSell, "100", "25", "0", 2))

	if !tr.RealizedPnL.Equal(d("-150")) {
		t.Errorf("realized = %s, want -150", tr.RealizedPnL)
	}
	positions := l.Positions()
	if len(positions) != 1 {
		t.Fatalf("expected exactly one position, got %d", len(positions))
	}
	p := positions[0]
	if p.Side != domain.PositionShort || !p.Quantity.Equal(d("10")) || !p.EntryPrice.Equal(d("100")) {
		t.Errorf("flipped position = %+v, want short 10 @ 100", p)
	}
	if p.OpenedAt != 2 {
		t.Errorf("flipped position opened at %d, want 2", p.OpenedAt)
	}
}

func TestLedger_ShortPnL(t *testing.T) {
	l := newTestLedger(t, "10000", "1")

	mustApply(t, l, makeFill("SOL", domain.SideSell, "50", "10", "0", 1))
	if !l.Cash().Equal(d("10500")) {
		t.Errorf("cash after short = %s, want 10500", l.Cash())
	}

	l.UpdateMark("SOL", d("45"))
	v := l.MarkToMarket(nil)
	if !v.UnrealizedPnL.Equal(d("50")) {
		t.Errorf("unrealized = %s, want 50", v.UnrealizedPnL)
	}
	if !v.Equity.Equal(d("10050")) {
		t.Errorf("equity = %s, want 10050", v.Equity)
	}

	tr := mustApply(t, l, makeFill("SOL", domain.SideBuy, "40", "10", "0", 2))
	if !tr.RealizedPnL.Equal(d("100")) {
		t.Errorf("realized = %s, want 100", tr.RealizedPnL)
	}
}

func TestLedger_RealizedPnLNeverChangesRetroactively(t *testing.T) {
	l := newTestLedger(t, "10000", "1")

	mustApply(t, l, makeFill("BTC", domain.SideBuy, "100", "2", "0", 1))
	mustApply(t, l, makeFill("BTC", domain.SideSell, "110", "1", "0", 2))

	before := l.Trades()[1].RealizedPnL

	mustApply(t, l, makeFill("BTC", domain.SideBuy, "90", "5", "0", 3))
	mustApply(t, l, makeFill("BTC", domain.SideSell, "80", "6", "0", 4))
	l.UpdateMark("BTC", d("1"))

	after := l.Trades()[1].RealizedPnL
	if !before.Equal(after) || !after.Equal(d("10")) {
		t.Errorf("realized PnL of trade 2 changed: before %s after %s", before, after)
	}
}

func TestLedger_MarginRejection(t *testing.T) {
	l := newTestLedger(t, "1000", "1")

	_, err := l.ApplyFill(makeFill("BTC", domain.SideBuy, "100", "11", "0", 1))
	var marginErr *domain.InsufficientMarginError
	if !errors.As(err, &marginErr) {
		t.Fatalf("expected InsufficientMarginError, got %v", err)
	}
	if !errors.Is(err, domain.ErrInsufficientMargin) {
		t.Error("error must match ErrInsufficientMargin")
	}

	// Ledger untouched
	if !l.Cash().Equal(d("1000")) || l.OpenPositionCount() != 0 || len(l.Trades()) != 0 {
		t.Error("rejected fill mutated the ledger")
	}

	// With 2x leverage the same fill fits
	lev := newTestLedger(t, "1000", "2")
	if _, err := lev.ApplyFill(makeFill("BTC", domain.SideBuy, "100", "11", "0", 1)); err != nil {
		t.Fatalf("leveraged fill rejected: %v", err)
	}
	if !lev.Cash().Equal(d("-100")) {
		t.Errorf("cash = %s, want -100 (notional may exceed cash)", lev.Cash())
	}
}

func TestLedger_ReductionsBypassMargin(t *testing.T) {
	l := newTestLedger(t, "1000", "1")
	mustApply(t, l, makeFill("BTC", domain.SideBuy, "100", "9", "0", 1))

	// Price collapses; equity below used margin
	l.UpdateMark("BTC", d("10"))

	if err := l.CheckMargin(makeFill("BTC", domain.SideBuy, "10", "20", "0", 2)); err == nil {
		t.Error("increasing exposure should fail margin when equity is depleted")
	}
	if _, err := l.ApplyFill(makeFill("BTC", domain.SideSell, "10", "9", "0", 2)); err != nil {
		t.Errorf("closing fill must always be accepted: %v", err)
	}
}

func TestLedger_InvalidFill(t *testing.T) {
	l := newTestLedger(t, "1000", "1")
	if _, err := l.ApplyFill(makeFill("BTC", domain.SideBuy, "100", "0", "0", 1)); !errors.Is(err, ErrInvalidFill) {
		t.Errorf("expected ErrInvalidFill, got %v", err)
	}
	if _, err := l.ApplyFill(nil); !errors.Is(err, ErrInvalidFill) {
		t.Errorf("expected ErrInvalidFill for nil, got %v", err)
	}
}

func TestNewLedger_Config(t *testing.T) {
	if _, err := NewLedger(Config{InitialCash: d("0")}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for zero cash, got %v", err)
	}
	if _, err := NewLedger(Config{InitialCash: d("100"), Leverage: d("0.5")}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for leverage < 1, got %v", err)
	}
}

// Equity must always equal cash plus position value, and reconcile with
// initial cash + realized + unrealized - fees.
func TestLedger_EquityInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	symbols := []string{"BTC", "ETH", "SOL"}
	l := newTestLedger(t, "100000", "5")
	tolerance := d("0.000001")

	for i := 0; i < 500; i++ {
		sym := symbols[rng.Intn(len(symbols))]
		side := domain.SideBuy
		if rng.Intn(2) == 0 {
			side = domain.SideSell
		}
		price := decimal.NewFromInt(int64(50 + rng.Intn(100)))
		qty := decimal.NewFromInt(int64(1 + rng.Intn(5)))
		fee := price.Mul(qty).Mul(d("0.001"))

		f := &domain.Fill{OrderID: int64(i), Symbol: sym, Side: side, Price: price, Quantity: qty, Fee: fee, Timestamp: int64(i)}
		if _, err := l.ApplyFill(f); err != nil && !errors.Is(err, domain.ErrInsufficientMargin) {
			t.Fatalf("step %d: %v", i, err)
		}
		l.UpdateMark(sym, price.Add(decimal.NewFromInt(int64(rng.Intn(11)-5))))

		snap := l.Snapshot(int64(i))
		if !snap.Equity.Equal(snap.Cash.Add(snap.PositionsValue)) {
			t.Fatalf("step %d: equity %s != cash %s + positions %s", i, snap.Equity, snap.Cash, snap.PositionsValue)
		}

		reconciled := l.InitialCash().Add(snap.RealizedPnLCumulative).Add(snap.UnrealizedPnL).Sub(snap.FeesCumulative)
		if snap.Equity.Sub(reconciled).Abs().GreaterThan(tolerance) {
			t.Fatalf("step %d: equity %s does not reconcile with %s", i, snap.Equity, reconciled)
		}

		seen := make(map[string]bool)
		for _, p := range l.Positions() {
			if seen[p.Symbol] {
				t.Fatalf("step %d: two positions for %s", i, p.Symbol)
			}
			seen[p.Symbol] = true
			if !p.Quantity.IsPositive() {
				t.Fatalf("step %d: non-positive quantity %s", i, p.Quantity)
			}
		}
	}
}
