package backtest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/fill"
	"trading-sim-lab/internal/idhash"
	"trading-sim-lab/internal/portfolio"
	"trading-sim-lab/internal/replay"
	"trading-sim-lab/internal/risk"
	"trading-sim-lab/internal/strategy"
)

const baseTs = int64(1_700_000_000_000)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ts(i int) int64 { return baseTs + int64(i)*60_000 }

func ohlc(symbol string, i int, open, high, low, close string) *domain.Bar {
	return &domain.Bar{
		Symbol:    symbol,
		Timestamp: ts(i),
		Open:      d(open),
		High:      d(high),
		Low:       d(low),
		Close:     d(close),
		Volume:    d("1000"),
	}
}

func flat(symbol string, i int, price string) *domain.Bar {
	return ohlc(symbol, i, price, price, price, price)
}

func testConfig(mutate func(*Config)) Config {
	cfg := Config{
		Symbols: []string{"BTC"},
		Fill: fill.Config{
			Mode:          fill.ModeNextOpen,
			Slippage:      fill.Slippage{Kind: fill.SlippageNone},
			PriceScale:    8,
			QuantityScale: 8,
			FeeScale:      8,
		},
		Account: portfolio.Config{
			InitialCash: d("10000"),
			Leverage:    d("1"),
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return cfg
}

func market(symbol string, side domain.Side, qty string) domain.Signal {
	return domain.Signal{
		Symbol:      symbol,
		Side:        side,
		Type:        domain.OrderTypeMarket,
		Quantity:    d(qty),
		TimeInForce: domain.TimeInForceGTC,
	}
}

func limit(symbol string, side domain.Side, qty, price string, tif domain.TimeInForce) domain.Signal {
	lp := d(price)
	return domain.Signal{
		Symbol:      symbol,
		Side:        side,
		Type:        domain.OrderTypeLimit,
		Quantity:    d(qty),
		LimitPrice:  &lp,
		TimeInForce: tif,
	}
}

func newEngine(t *testing.T, cfg Config, strat strategy.Strategy) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, strat, Options{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func run(t *testing.T, cfg Config, strat strategy.Strategy, bars ...*domain.Bar) (*Engine, domain.RunState, error) {
	t.Helper()
	e := newEngine(t, cfg, strat)
	state, err := e.Run(context.Background(), replay.NewSliceFeed(bars))
	return e, state, err
}

func TestEngine_NextOpenMarketFill(t *testing.T) {
	strat := strategy.NewScriptedStrategy("script").
		At(ts(1), market("BTC", domain.SideBuy, "10"))

	e, state, err := run(t, testConfig(nil), strat,
		flat("BTC", 1, "100"),
		ohlc("BTC", 2, "101", "103", "100", "102"),
	)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if state != domain.RunStateCompleted {
		t.Fatalf("state = %s, want completed", state)
	}

	trades := e.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	f := trades[0].Fill
	if f.Timestamp != ts(2) {
		t.Errorf("fill timestamp = %d, want next bar %d", f.Timestamp, ts(2))
	}
	if !f.Price.Equal(d("101")) {
		t.Errorf("fill price = %s, want next open 101", f.Price)
	}

	status := e.Status()
	if !status.Balance.Equal(d("8990")) {
		t.Errorf("balance = %s, want 8990", status.Balance)
	}
	if !status.Equity.Equal(d("10010")) {
		t.Errorf("equity = %s, want 10010", status.Equity)
	}
	if len(status.Positions) != 1 || !status.Positions[0].Quantity.Equal(d("10")) {
		t.Errorf("unexpected positions: %+v", status.Positions)
	}

	snaps := e.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("expected one snapshot per bar, got %d", len(snaps))
	}
	if !snaps[0].Equity.Equal(d("10000")) {
		t.Errorf("first snapshot equity = %s, want 10000", snaps[0].Equity)
	}

	orders := e.Orders()
	if len(orders) != 1 || orders[0].Status != domain.OrderStatusFilled {
		t.Errorf("expected one filled order, got %+v", orders)
	}
	if orders[0].CreatedAt != ts(1) {
		t.Errorf("order created at %d, want %d", orders[0].CreatedAt, ts(1))
	}
}

func TestEngine_SameBarMode(t *testing.T) {
	cfg := testConfig(func(c *Config) { c.Fill.Mode = fill.ModeSameBar })
	strat := strategy.NewScriptedStrategy("script").
		At(ts(1), market("BTC", domain.SideBuy, "10"))

	e, state, err := run(t, cfg, strat,
		ohlc("BTC", 1, "99", "101", "98", "100"),
		flat("BTC", 2, "105"),
	)
	if err != nil || state != domain.RunStateCompleted {
		t.Fatalf("Run = %s, %v", state, err)
	}

	trades := e.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].Fill.Timestamp != ts(1) || !trades[0].Fill.Price.Equal(d("100")) {
		t.Errorf("expected fill at signal bar close, got %+v", trades[0].Fill)
	}
}

func TestEngine_NoSignalNoFill(t *testing.T) {
	e, state, err := run(t, testConfig(nil), strategy.NewScriptedStrategy("idle"),
		flat("BTC", 1, "100"),
		flat("BTC", 2, "50"),
	)
	if err != nil || state != domain.RunStateCompleted {
		t.Fatalf("Run = %s, %v", state, err)
	}
	if len(e.Trades()) != 0 {
		t.Errorf("expected no trades")
	}
	for _, s := range e.Snapshots() {
		if !s.Equity.Equal(d("10000")) {
			t.Errorf("flat portfolio equity changed: %s", s.Equity)
		}
	}
}

func TestEngine_Determinism(t *testing.T) {
	closes := []string{
		"100", "102", "104", "106", "108", "110", "108", "106", "104", "102",
		"100", "98", "100", "102", "104", "106", "105", "103", "101", "99",
	}
	bars := make([]*domain.Bar, len(closes))
	prev := closes[0]
	for i, c := range closes {
		open, cl := d(prev), d(c)
		high := decimal.Max(open, cl).Add(d("1"))
		low := decimal.Min(open, cl).Sub(d("1"))
		bars[i] = &domain.Bar{
			Symbol:    "BTC",
			Timestamp: ts(i),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cl,
			Volume:    d("500"),
		}
		prev = c
	}

	cfg := testConfig(func(c *Config) {
		c.Fill = fill.DefaultConfig()
		c.Fill.ParticipationRate = d("0.01")
	})

	var first string
	for i := 0; i < 5; i++ {
		strat := strategy.NewSMACrossStrategy(2, 4, d("7.5"), true)
		e, state, err := run(t, cfg, strat, bars...)
		if err != nil || state != domain.RunStateCompleted {
			t.Fatalf("run %d: %s, %v", i, state, err)
		}
		if len(e.Trades()) == 0 {
			t.Fatalf("run %d: expected trades", i)
		}

		got := idhash.Fingerprint(e.Fills(), e.Snapshots())
		if i == 0 {
			first = got
			continue
		}
		if got != first {
			t.Fatalf("run %d fingerprint %s differs from %s", i, got, first)
		}
	}
}

func TestEngine_KillSwitchHaltsAndFlattens(t *testing.T) {
	cfg := testConfig(func(c *Config) {
		c.Risk = []risk.Rule{
			{Name: "dd", Kind: risk.KindMaxDrawdown, Threshold: d("5"), Critical: true},
		}
	})
	strat := strategy.NewScriptedStrategy("script").
		At(ts(1), market("BTC", domain.SideBuy, "100")).
		At(ts(2), limit("BTC", domain.SideBuy, "1", "50", domain.TimeInForceGTC))

	e, state, err := run(t, cfg, strat,
		flat("BTC", 1, "100"),
		flat("BTC", 2, "100"),
		flat("BTC", 3, "90"),
		flat("BTC", 4, "120"),
	)
	if err != nil {
		t.Fatalf("halted run must not return an error: %v", err)
	}
	if state != domain.RunStateHalted {
		t.Fatalf("state = %s, want halted", state)
	}

	sum := e.Summary()
	if sum.BarsProcessed != 3 {
		t.Errorf("bars processed = %d, want 3", sum.BarsProcessed)
	}
	if !strings.HasPrefix(sum.HaltReason, "dd:") {
		t.Errorf("halt reason = %q", sum.HaltReason)
	}

	rs := e.Risk()
	if !rs.KillSwitch.Activated || rs.KillSwitch.ActivatedAt != ts(3) {
		t.Errorf("unexpected kill-switch state: %+v", rs.KillSwitch)
	}

	trades := e.Trades()
	if len(trades) != 2 {
		t.Fatalf("expected entry and liquidation trades, got %d", len(trades))
	}
	liq := trades[1].Fill
	if liq.Side != domain.SideSell || !liq.Quantity.Equal(d("100")) || !liq.Price.Equal(d("90")) || liq.Timestamp != ts(3) {
		t.Errorf("unexpected liquidation fill: %+v", liq)
	}
	if !trades[1].RealizedPnL.Equal(d("-1000")) {
		t.Errorf("liquidation pnl = %s, want -1000", trades[1].RealizedPnL)
	}

	status := e.Status()
	if len(status.Positions) != 0 {
		t.Errorf("positions not flattened: %+v", status.Positions)
	}
	if !status.Balance.Equal(d("9000")) {
		t.Errorf("balance = %s, want 9000", status.Balance)
	}

	orders := e.Orders()
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orders))
	}
	if orders[1].Status != domain.OrderStatusCancelled || orders[1].Reason != CancelReasonKillSwitch {
		t.Errorf("resting order not cancelled by kill-switch: %+v", orders[1])
	}
	if !orders[2].Liquidation || orders[2].Status != domain.OrderStatusFilled {
		t.Errorf("unexpected liquidation order: %+v", orders[2])
	}
	if len(e.PendingOrders()) != 0 {
		t.Errorf("expected no pending orders")
	}

	// Bar-end snapshot plus post-flatten snapshot on the halt bar
	snaps := e.Snapshots()
	if len(snaps) != 4 {
		t.Fatalf("expected 4 snapshots, got %d", len(snaps))
	}
	if snaps[3].OpenPositions != 0 || !snaps[3].Equity.Equal(d("9000")) {
		t.Errorf("unexpected final snapshot: %+v", snaps[3])
	}

	if len(e.Violations()) == 0 {
		t.Errorf("expected recorded violations")
	}

	if err := e.ResetKillSwitch(); err != nil {
		t.Fatalf("ResetKillSwitch failed: %v", err)
	}
	if e.Risk().KillSwitch.Activated {
		t.Errorf("kill-switch still active after reset")
	}
	if e.State() != domain.RunStateHalted {
		t.Errorf("reset must not change run state")
	}
}

func TestEngine_NonCriticalViolationDoesNotHalt(t *testing.T) {
	cfg := testConfig(func(c *Config) {
		c.Risk = []risk.Rule{
			{Name: "dd", Kind: risk.KindMaxDrawdown, Threshold: d("5")},
		}
	})
	strat := strategy.NewScriptedStrategy("script").
		At(ts(1), market("BTC", domain.SideBuy, "100"))

	e, state, err := run(t, cfg, strat,
		flat("BTC", 1, "100"),
		flat("BTC", 2, "100"),
		flat("BTC", 3, "90"),
		flat("BTC", 4, "92"),
	)
	if err != nil || state != domain.RunStateCompleted {
		t.Fatalf("Run = %s, %v", state, err)
	}
	if e.Risk().KillSwitch.Activated {
		t.Errorf("non-critical rule activated kill-switch")
	}
	if len(e.Violations()) != 2 {
		t.Errorf("expected 2 violations, got %d", len(e.Violations()))
	}
}

func TestEngine_FatalBars(t *testing.T) {
	tests := []struct {
		name    string
		bars    []*domain.Bar
		wantErr error
		wantN   int
	}{
		{
			name:    "out of order",
			bars:    []*domain.Bar{flat("BTC", 2, "100"), flat("BTC", 1, "100")},
			wantErr: domain.ErrOutOfOrderBar,
			wantN:   1,
		},
		{
			name:    "duplicate timestamp",
			bars:    []*domain.Bar{flat("BTC", 1, "100"), flat("BTC", 1, "101")},
			wantErr: domain.ErrOutOfOrderBar,
			wantN:   1,
		},
		{
			name:    "high below low",
			bars:    []*domain.Bar{flat("BTC", 1, "100"), ohlc("BTC", 2, "100", "99", "101", "100")},
			wantErr: domain.ErrMalformedBar,
			wantN:   1,
		},
		{
			name:    "non-positive price",
			bars:    []*domain.Bar{flat("BTC", 1, "0")},
			wantErr: domain.ErrMalformedBar,
			wantN:   0,
		},
		{
			name:    "unconfigured symbol",
			bars:    []*domain.Bar{flat("ETH", 1, "100")},
			wantErr: ErrUnknownSymbol,
			wantN:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, state, err := run(t, testConfig(nil), strategy.NewScriptedStrategy("idle"), tt.bars...)
			if state != domain.RunStateFailed {
				t.Fatalf("state = %s, want failed", state)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if got := e.Summary().BarsProcessed; got != tt.wantN {
				t.Errorf("bars processed = %d, want %d", got, tt.wantN)
			}
			if !errors.Is(e.Summary().Err, tt.wantErr) {
				t.Errorf("summary err = %v", e.Summary().Err)
			}
		})
	}
}

func TestEngine_SignalForUnconfiguredSymbolFails(t *testing.T) {
	strat := strategy.NewScriptedStrategy("script").
		AtFor("BTC", ts(1), market("DOGE", domain.SideBuy, "1"))

	_, state, err := run(t, testConfig(nil), strat, flat("BTC", 1, "100"), flat("BTC", 2, "100"))
	if state != domain.RunStateFailed {
		t.Fatalf("state = %s, want failed", state)
	}
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("err = %v, want ErrUnknownSymbol", err)
	}
}

func TestEngine_SignalForOtherConfiguredSymbolIgnored(t *testing.T) {
	cfg := testConfig(func(c *Config) { c.Symbols = []string{"BTC", "ETH"} })
	strat := strategy.NewScriptedStrategy("script").
		AtFor("BTC", ts(1), market("ETH", domain.SideBuy, "1"))

	e, state, err := run(t, cfg, strat,
		flat("BTC", 1, "100"), flat("ETH", 1, "10"),
		flat("BTC", 2, "100"), flat("ETH", 2, "10"),
	)
	if err != nil || state != domain.RunStateCompleted {
		t.Fatalf("Run = %s, %v", state, err)
	}
	if len(e.Orders()) != 0 {
		t.Errorf("expected no orders, got %d", len(e.Orders()))
	}
}

func TestEngine_InvalidSignalIgnored(t *testing.T) {
	bad := market("BTC", domain.SideBuy, "0")
	strat := strategy.NewScriptedStrategy("script").At(ts(1), bad)

	e, state, err := run(t, testConfig(nil), strat, flat("BTC", 1, "100"), flat("BTC", 2, "100"))
	if err != nil || state != domain.RunStateCompleted {
		t.Fatalf("Run = %s, %v", state, err)
	}
	if len(e.Orders()) != 0 || len(e.Trades()) != 0 {
		t.Errorf("invalid signal produced orders or trades")
	}
}

func TestEngine_StrategyErrorFails(t *testing.T) {
	boom := errors.New("boom")
	strat := strategy.NewScriptedStrategy("script").FailAt("BTC", ts(2), boom)

	e, state, err := run(t, testConfig(nil), strat, flat("BTC", 1, "100"), flat("BTC", 2, "100"), flat("BTC", 3, "100"))
	if state != domain.RunStateFailed {
		t.Fatalf("state = %s, want failed", state)
	}
	if !errors.Is(err, ErrStrategy) {
		t.Errorf("err = %v, want ErrStrategy", err)
	}
	if e.Summary().BarsProcessed != 2 {
		t.Errorf("bars processed = %d, want 2", e.Summary().BarsProcessed)
	}
}

func TestEngine_RiskRejection(t *testing.T) {
	cfg := testConfig(func(c *Config) {
		c.Risk = []risk.Rule{
			{Name: "notional", Kind: risk.KindMaxPositionNotional, Threshold: d("500")},
		}
	})
	strat := strategy.NewScriptedStrategy("script").
		At(ts(1), market("BTC", domain.SideBuy, "10")).
		At(ts(2), market("BTC", domain.SideBuy, "4"))

	e, state, err := run(t, cfg, strat, flat("BTC", 1, "100"), flat("BTC", 2, "100"), flat("BTC", 3, "100"))
	if err != nil || state != domain.RunStateCompleted {
		t.Fatalf("Run = %s, %v", state, err)
	}

	rej := e.Rejections()
	if len(rej) != 1 || rej[0].Rule != "notional" || rej[0].Timestamp != ts(1) {
		t.Fatalf("unexpected rejections: %+v", rej)
	}

	// The rejected signal never became an order; the second one did
	orders := e.Orders()
	if len(orders) != 1 || orders[0].ID != 1 || !orders[0].Quantity.Equal(d("4")) {
		t.Fatalf("unexpected orders: %+v", orders)
	}
	trades := e.Trades()
	if len(trades) != 1 || !trades[0].Fill.Quantity.Equal(d("4")) {
		t.Errorf("unexpected trades: %+v", trades)
	}
}

func TestEngine_MinNotionalRejectsOrder(t *testing.T) {
	cfg := testConfig(func(c *Config) { c.Fill.MinNotional = d("2000") })
	strat := strategy.NewScriptedStrategy("script").
		At(ts(1), market("BTC", domain.SideBuy, "10"))

	e, state, err := run(t, cfg, strat, flat("BTC", 1, "100"), flat("BTC", 2, "100"))
	if err != nil || state != domain.RunStateCompleted {
		t.Fatalf("Run = %s, %v", state, err)
	}
	orders := e.Orders()
	if len(orders) != 1 || orders[0].Status != domain.OrderStatusRejected {
		t.Fatalf("expected one rejected order, got %+v", orders)
	}
	if len(e.Trades()) != 0 {
		t.Errorf("rejected order must not fill")
	}
}

func TestEngine_InsufficientMarginRejects(t *testing.T) {
	strat := strategy.NewScriptedStrategy("script").
		At(ts(1), market("BTC", domain.SideBuy, "200"))

	e, state, err := run(t, testConfig(nil), strat, flat("BTC", 1, "100"), flat("BTC", 2, "100"))
	if err != nil || state != domain.RunStateCompleted {
		t.Fatalf("Run = %s, %v", state, err)
	}
	orders := e.Orders()
	if len(orders) != 1 || orders[0].Status != domain.OrderStatusRejected {
		t.Fatalf("expected rejected order, got %+v", orders)
	}
	if !strings.Contains(orders[0].Reason, "insufficient margin") {
		t.Errorf("reason = %q", orders[0].Reason)
	}
	if len(e.Trades()) != 0 {
		t.Errorf("expected no trades")
	}
	if !e.Status().Balance.Equal(d("10000")) {
		t.Errorf("balance changed: %s", e.Status().Balance)
	}
}

func TestEngine_GTCLimitRestsUntilTouched(t *testing.T) {
	strat := strategy.NewScriptedStrategy("script").
		At(ts(1), limit("BTC", domain.SideBuy, "5", "95", domain.TimeInForceGTC))

	e, state, err := run(t, testConfig(nil), strat,
		flat("BTC", 1, "100"),
		ohlc("BTC", 2, "100", "101", "96", "99"),
		ohlc("BTC", 3, "99", "100", "96", "97"),
		ohlc("BTC", 4, "97", "98", "94", "96"),
	)
	if err != nil || state != domain.RunStateCompleted {
		t.Fatalf("Run = %s, %v", state, err)
	}

	trades := e.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	f := trades[0].Fill
	if f.Timestamp != ts(4) || !f.Price.Equal(d("95")) || f.Liquidity != domain.LiquidityMaker {
		t.Errorf("unexpected fill: %+v", f)
	}
}

func TestEngine_IOCLimitCancelledWhenNotCrossed(t *testing.T) {
	strat := strategy.NewScriptedStrategy("script").
		At(ts(1), limit("BTC", domain.SideBuy, "5", "95", domain.TimeInForceIOC))

	e, state, err := run(t, testConfig(nil), strat,
		flat("BTC", 1, "100"),
		ohlc("BTC", 2, "100", "101", "96", "99"),
		ohlc("BTC", 3, "97", "98", "90", "91"),
	)
	if err != nil || state != domain.RunStateCompleted {
		t.Fatalf("Run = %s, %v", state, err)
	}
	if len(e.Trades()) != 0 {
		t.Errorf("IOC order filled after its first bar")
	}
	orders := e.Orders()
	if len(orders) != 1 || orders[0].Status != domain.OrderStatusCancelled || orders[0].Reason != fill.CancelReasonIOCNotCrossed {
		t.Errorf("unexpected order: %+v", orders)
	}
}

func TestEngine_IOCLimitFillsOnSignalBar(t *testing.T) {
	strat := strategy.NewScriptedStrategy("script").
		At(ts(1), limit("BTC", domain.SideBuy, "1", "100", domain.TimeInForceIOC))

	e, state, err := run(t, testConfig(nil), strat,
		ohlc("BTC", 1, "102", "105", "95", "103"),
		ohlc("BTC", 2, "104", "110", "101", "108"),
	)
	if err != nil || state != domain.RunStateCompleted {
		t.Fatalf("Run = %s, %v", state, err)
	}

	trades := e.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	f := trades[0].Fill
	if f.Timestamp != ts(1) || !f.Price.Equal(d("100")) || f.Liquidity != domain.LiquidityMaker {
		t.Errorf("unexpected fill: %+v", f)
	}
	if o := e.Orders()[0]; o.Status != domain.OrderStatusFilled {
		t.Errorf("order status = %s, want filled", o.Status)
	}
}

func TestEngine_MarketOrderWaitsForNextOpen(t *testing.T) {
	strat := strategy.NewScriptedStrategy("script").
		At(ts(1), market("BTC", domain.SideBuy, "1"))

	e, _, err := run(t, testConfig(nil), strat,
		ohlc("BTC", 1, "102", "105", "95", "103"),
		ohlc("BTC", 2, "104", "110", "101", "108"),
	)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	trades := e.Trades()
	if len(trades) != 1 || trades[0].Fill.Timestamp != ts(2) || !trades[0].Fill.Price.Equal(d("104")) {
		t.Errorf("unexpected trades: %+v", trades)
	}
}

func TestEngine_PartialFillsAcrossBars(t *testing.T) {
	cfg := testConfig(func(c *Config) { c.Fill.ParticipationRate = d("0.1") })
	strat := strategy.NewScriptedStrategy("script").
		At(ts(1), market("BTC", domain.SideBuy, "12"))

	bars := make([]*domain.Bar, 4)
	for i := range bars {
		bars[i] = flat("BTC", i+1, "100")
		bars[i].Volume = d("50")
	}

	e, state, err := run(t, cfg, strat, bars...)
	if err != nil || state != domain.RunStateCompleted {
		t.Fatalf("Run = %s, %v", state, err)
	}

	trades := e.Trades()
	if len(trades) != 3 {
		t.Fatalf("expected 3 fills, got %d", len(trades))
	}
	want := []string{"5", "5", "2"}
	for i, tr := range trades {
		if !tr.Fill.Quantity.Equal(d(want[i])) {
			t.Errorf("fill %d quantity = %s, want %s", i, tr.Fill.Quantity, want[i])
		}
	}
	if !trades[0].Fill.IsPartial || trades[2].Fill.IsPartial {
		t.Errorf("unexpected partial flags")
	}

	o := e.Orders()[0]
	if o.Status != domain.OrderStatusFilled || !o.FilledQuantity.Equal(d("12")) || !o.AverageFillPrice.Equal(d("100")) {
		t.Errorf("unexpected order: %+v", o)
	}
}

func TestEngine_Lookback(t *testing.T) {
	rec := &windowRecorder{}
	cfg := testConfig(func(c *Config) { c.Lookback = 3 })

	_, state, err := run(t, cfg, rec,
		flat("BTC", 1, "100"), flat("BTC", 2, "100"), flat("BTC", 3, "100"),
		flat("BTC", 4, "100"), flat("BTC", 5, "100"),
	)
	if err != nil || state != domain.RunStateCompleted {
		t.Fatalf("Run = %s, %v", state, err)
	}

	want := []int{1, 2, 3, 3, 3}
	if len(rec.sizes) != len(want) {
		t.Fatalf("strategy called %d times, want %d", len(rec.sizes), len(want))
	}
	for i := range want {
		if rec.sizes[i] != want[i] {
			t.Errorf("call %d window = %d, want %d", i, rec.sizes[i], want[i])
		}
	}
}

func TestEngine_RunTwice(t *testing.T) {
	e, _, err := run(t, testConfig(nil), strategy.NewScriptedStrategy("idle"), flat("BTC", 1, "100"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	state, err := e.Run(context.Background(), replay.NewSliceFeed(nil))
	if !errors.Is(err, ErrNotIdle) {
		t.Errorf("err = %v, want ErrNotIdle", err)
	}
	if state != domain.RunStateCompleted {
		t.Errorf("state = %s, want completed", state)
	}
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"duplicate symbol", func(c *Config) { c.Symbols = []string{"BTC", "BTC"} }},
		{"negative lookback", func(c *Config) { c.Lookback = -1 }},
		{"zero cash", func(c *Config) { c.Account.InitialCash = decimal.Zero }},
		{"bad fill mode", func(c *Config) { c.Fill.Mode = "later" }},
		{"bad rule", func(c *Config) { c.Risk = []risk.Rule{{Kind: risk.KindMaxDrawdown}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(testConfig(tt.mutate), strategy.NewScriptedStrategy("x"), Options{})
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("err = %v, want configuration error", err)
			}
		})
	}
}

// liveEngine runs an engine over a channel feed in the background and
// reports each snapshot on snaps.
type liveEngine struct {
	e     *Engine
	bars  chan *domain.Bar
	snaps chan domain.PortfolioSnapshot
	done  chan error
}

func startLive(t *testing.T, ctx context.Context, cfg Config, strat strategy.Strategy) *liveEngine {
	t.Helper()
	l := &liveEngine{
		bars:  make(chan *domain.Bar),
		snaps: make(chan domain.PortfolioSnapshot, 16),
		done:  make(chan error, 1),
	}
	e, err := NewEngine(cfg, strat, Options{
		OnSnapshot: func(s domain.PortfolioSnapshot) { l.snaps <- s },
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	l.e = e
	go func() {
		_, err := e.Run(ctx, replay.NewChanFeed(l.bars))
		l.done <- err
	}()
	return l
}

func (l *liveEngine) push(t *testing.T, b *domain.Bar) {
	t.Helper()
	l.bars <- b
	select {
	case <-l.snaps:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}

func (l *liveEngine) stop(t *testing.T) error {
	t.Helper()
	close(l.bars)
	select {
	case err := <-l.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run to finish")
		return nil
	}
}

func TestEngine_CancelOrder(t *testing.T) {
	strat := strategy.NewScriptedStrategy("script").
		At(ts(1), limit("BTC", domain.SideBuy, "1", "50", domain.TimeInForceGTC))

	l := startLive(t, context.Background(), testConfig(nil), strat)
	l.push(t, flat("BTC", 1, "100"))

	pending := l.e.PendingOrders()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending order, got %d", len(pending))
	}
	if l.e.State() != domain.RunStateRunning {
		t.Errorf("state = %s, want running", l.e.State())
	}
	if err := l.e.ResetKillSwitch(); !errors.Is(err, ErrRunning) {
		t.Errorf("reset while running: err = %v", err)
	}

	if err := l.e.CancelOrder(pending[0].ID); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if len(l.e.PendingOrders()) != 0 {
		t.Errorf("order still pending after cancel")
	}
	if err := l.e.CancelOrder(pending[0].ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second cancel: err = %v, want ErrInvalidTransition", err)
	}
	if err := l.e.CancelOrder(999); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("unknown order: err = %v, want ErrOrderNotFound", err)
	}

	// A cancelled order never fills, even when the market trades through it
	l.push(t, flat("BTC", 2, "40"))
	if err := l.stop(t); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(l.e.Trades()) != 0 {
		t.Errorf("cancelled order filled")
	}
	if l.e.State() != domain.RunStateCompleted {
		t.Errorf("state = %s, want completed", l.e.State())
	}
}

func TestEngine_CancelAll(t *testing.T) {
	cfg := testConfig(func(c *Config) { c.Symbols = []string{"BTC", "ETH"} })
	strat := strategy.NewScriptedStrategy("script").
		At(ts(1), limit("BTC", domain.SideBuy, "1", "50", domain.TimeInForceGTC)).
		At(ts(1), limit("ETH", domain.SideBuy, "1", "5", domain.TimeInForceGTC))

	l := startLive(t, context.Background(), cfg, strat)
	l.push(t, flat("BTC", 1, "100"))
	l.push(t, flat("ETH", 1, "10"))

	if n := l.e.CancelAll("BTC"); n != 1 {
		t.Errorf("CancelAll(BTC) = %d, want 1", n)
	}
	pending := l.e.PendingOrders()
	if len(pending) != 1 || pending[0].Symbol != "ETH" {
		t.Errorf("unexpected pending orders: %+v", pending)
	}
	if n := l.e.CancelAll(""); n != 1 {
		t.Errorf("CancelAll() = %d, want 1", n)
	}
	if n := l.e.CancelAll(""); n != 0 {
		t.Errorf("CancelAll() on empty book = %d, want 0", n)
	}

	if err := l.stop(t); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestEngine_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := startLive(t, ctx, testConfig(nil), strategy.NewScriptedStrategy("idle"))
	l.push(t, flat("BTC", 1, "100"))

	cancel()
	select {
	case err := <-l.done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
	if l.e.State() != domain.RunStateFailed {
		t.Errorf("state = %s, want failed", l.e.State())
	}
	if l.e.Summary().BarsProcessed != 1 {
		t.Errorf("bars processed = %d, want 1", l.e.Summary().BarsProcessed)
	}
}

// windowRecorder records the window size it sees on each bar.
type windowRecorder struct {
	sizes []int
}

func (w *windowRecorder) Name() string { return "window_recorder" }

func (w *windowRecorder) OnBar(_ context.Context, in *strategy.Input) (*domain.Signal, error) {
	w.sizes = append(w.sizes, len(in.Bars))
	// Mutating the window must not leak into engine history
	in.Bars[0].Close = decimal.Zero
	return nil, nil
}
