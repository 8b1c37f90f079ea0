package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
)

// makeBars builds a close-only bar window for one symbol.
func makeBars(symbol string, closes []float64, startMs, intervalMs int64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		p := decimal.NewFromFloat(c)
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: startMs + int64(i)*intervalMs,
			Open:      p,
			High:      p,
			Low:       p,
			Close:     p,
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return bars
}

func position(side domain.PositionSide, qty int64) *domain.Position {
	return &domain.Position{Symbol: "BTC", Side: side, Quantity: decimal.NewFromInt(qty), EntryPrice: decimal.NewFromInt(100)}
}

func TestSMACross_BullishCross(t *testing.T) {
	s := NewSMACrossStrategy(2, 3, decimal.NewFromInt(1), false)

	// fast(2) crosses above slow(3) on the last bar
	input := &Input{Symbol: "BTC", Bars: makeBars("BTC", []float64{10, 10, 9, 12}, 0, 60000)}
	sig, err := s.OnBar(context.Background(), input)
	if err != nil {
		t.Fatalf("OnBar failed: %v", err)
	}
	if sig == nil {
		t.Fatal("expected buy signal")
	}
	if sig.Side != domain.SideBuy || !sig.Quantity.Equal(decimal.NewFromInt(1)) || sig.Type != domain.OrderTypeMarket {
		t.Errorf("unexpected signal: %+v", sig)
	}
	if err := sig.Validate(); err != nil {
		t.Errorf("signal should be valid: %v", err)
	}

	// Already long: no action
	input.Position = position(domain.PositionLong, 1)
	sig, _ = s.OnBar(context.Background(), input)
	if sig != nil {
		t.Errorf("expected no signal while long, got %+v", sig)
	}

	// Short: cover and go long
	input.Position = position(domain.PositionShort, 2)
	sig, _ = s.OnBar(context.Background(), input)
	if sig == nil || !sig.Quantity.Equal(decimal.NewFromInt(3)) {
		t.Errorf("expected buy 3 to flip, got %+v", sig)
	}
}

func TestSMACross_BearishCross(t *testing.T) {
	bars := makeBars("BTC", []float64{10, 10, 11, 8}, 0, 60000)
	ctx := context.Background()

	longOnly := NewSMACrossStrategy(2, 3, decimal.NewFromInt(1), false)
	sig, _ := longOnly.OnBar(ctx, &Input{Symbol: "BTC", Bars: bars})
	if sig != nil {
		t.Errorf("long-only flat strategy should not short, got %+v", sig)
	}

	sig, _ = longOnly.OnBar(ctx, &Input{Symbol: "BTC", Bars: bars, Position: position(domain.PositionLong, 2)})
	if sig == nil || sig.Side != domain.SideSell || !sig.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected sell 2 to close, got %+v", sig)
	}

	longShort := NewSMACrossStrategy(2, 3, decimal.NewFromInt(1), true)
	sig, _ = longShort.OnBar(ctx, &Input{Symbol: "BTC", Bars: bars, Position: position(domain.PositionLong, 2)})
	if sig == nil || !sig.Quantity.Equal(decimal.NewFromInt(3)) {
		t.Errorf("expected sell 3 to flip short, got %+v", sig)
	}
}

func TestSMACross_NotEnoughBars(t *testing.T) {
	s := NewSMACrossStrategy(2, 3, decimal.NewFromInt(1), false)
	sig, err := s.OnBar(context.Background(), &Input{Symbol: "BTC", Bars: makeBars("BTC", []float64{1, 2, 3}, 0, 1)})
	if err != nil || sig != nil {
		t.Errorf("expected nil signal, got %+v, %v", sig, err)
	}
}

func TestSMACross_LimitEntry(t *testing.T) {
	s := NewSMACrossStrategy(2, 3, decimal.NewFromInt(1), false)
	offset := decimal.NewFromInt(1)
	s.LimitOffsetPct = &offset
	s.TimeInForce = domain.TimeInForceIOC

	sig, _ := s.OnBar(context.Background(), &Input{Symbol: "BTC", Bars: makeBars("BTC", []float64{10, 10, 9, 12}, 0, 60000)})
	if sig == nil || sig.Type != domain.OrderTypeLimit || sig.LimitPrice == nil {
		t.Fatalf("expected limit signal, got %+v", sig)
	}
	if !sig.LimitPrice.Equal(decimal.RequireFromString("11.88")) {
		t.Errorf("limit price = %s, want 11.88", sig.LimitPrice)
	}
	if sig.TimeInForce != domain.TimeInForceIOC {
		t.Errorf("tif = %s, want IOC", sig.TimeInForce)
	}
}

func TestSMACross_Deterministic(t *testing.T) {
	bars := makeBars("BTC", []float64{10, 11, 12, 11, 9, 8, 9, 12, 13, 12}, 0, 60000)

	var first []string
	for run := 0; run < 5; run++ {
		s := NewSMACrossStrategy(2, 4, decimal.NewFromInt(1), true)
		var got []string
		for i := 1; i <= len(bars); i++ {
			sig, err := s.OnBar(context.Background(), &Input{Symbol: "BTC", Bars: bars[:i]})
			if err != nil {
				t.Fatalf("OnBar failed: %v", err)
			}
			if sig != nil {
				got = append(got, string(sig.Side)+sig.Quantity.String())
			}
		}
		if run == 0 {
			first = got
			continue
		}
		if len(got) != len(first) {
			t.Fatalf("run %d: %d signals, want %d", run, len(got), len(first))
		}
		for i := range got {
			if got[i] != first[i] {
				t.Errorf("run %d signal %d: %s != %s", run, i, got[i], first[i])
			}
		}
	}
}

func TestBuyAndHold(t *testing.T) {
	s := NewBuyAndHoldStrategy(decimal.NewFromInt(3))
	bars := makeBars("BTC", []float64{100}, 0, 1)

	sig, err := s.OnBar(context.Background(), &Input{Symbol: "BTC", Bars: bars})
	if err != nil || sig == nil || sig.Side != domain.SideBuy || !sig.Quantity.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected buy 3, got %+v, %v", sig, err)
	}

	sig, _ = s.OnBar(context.Background(), &Input{Symbol: "BTC", Bars: bars, Position: position(domain.PositionLong, 3)})
	if sig != nil {
		t.Errorf("expected hold, got %+v", sig)
	}
}

func TestScripted(t *testing.T) {
	boom := errors.New("boom")
	s := NewScriptedStrategy("script").
		At(2000, domain.Signal{Symbol: "BTC", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: decimal.NewFromInt(1), TimeInForce: domain.TimeInForceGTC}).
		AtFor("BTC", 3000, domain.Signal{Symbol: "XYZ", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: decimal.NewFromInt(1)}).
		FailAt("BTC", 4000, boom)
	ctx := context.Background()
	bars := makeBars("BTC", []float64{1, 1, 1, 1}, 1000, 1000)

	if sig, _ := s.OnBar(ctx, &Input{Symbol: "BTC", Bars: bars[:1]}); sig != nil {
		t.Errorf("expected no signal at 1000, got %+v", sig)
	}
	if sig, _ := s.OnBar(ctx, &Input{Symbol: "BTC", Bars: bars[:2]}); sig == nil || sig.Side != domain.SideBuy {
		t.Errorf("expected buy at 2000, got %+v", sig)
	}
	if sig, _ := s.OnBar(ctx, &Input{Symbol: "BTC", Bars: bars[:3]}); sig == nil || sig.Symbol != "XYZ" {
		t.Errorf("expected XYZ signal at 3000, got %+v", sig)
	}
	if _, err := s.OnBar(ctx, &Input{Symbol: "BTC", Bars: bars}); !errors.Is(err, boom) {
		t.Errorf("expected scripted error, got %v", err)
	}
}

func TestInputValidate(t *testing.T) {
	s := NewBuyAndHoldStrategy(decimal.NewFromInt(1))
	ctx := context.Background()

	if _, err := s.OnBar(ctx, &Input{Symbol: "BTC"}); !errors.Is(err, ErrEmptyWindow) {
		t.Errorf("expected ErrEmptyWindow, got %v", err)
	}
	if _, err := s.OnBar(ctx, &Input{Symbol: "ETH", Bars: makeBars("BTC", []float64{1}, 0, 1)}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
