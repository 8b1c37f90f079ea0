package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

func bar(symbol string, ts int64, close float64) *domain.Bar {
	c := decimal.NewFromFloat(close)
	return &domain.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromInt(100),
	}
}

func TestBarStore_InsertAndRange(t *testing.T) {
	store := NewBarStore()
	ctx := context.Background()

	bars := []*domain.Bar{
		bar("BTC", 3000, 103),
		bar("BTC", 1000, 101),
		bar("BTC", 2000, 102),
		bar("ETH", 1000, 10),
	}
	if err := store.InsertBulk(ctx, bars); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByTimeRange(ctx, "BTC", 1000, 2000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 bars, got %d", len(got))
	}
	if got[0].Timestamp != 1000 || got[1].Timestamp != 2000 {
		t.Errorf("Bars not ordered by timestamp: %d, %d", got[0].Timestamp, got[1].Timestamp)
	}

	symbols, err := store.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols failed: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "BTC" || symbols[1] != "ETH" {
		t.Errorf("Unexpected symbols: %v", symbols)
	}
}

func TestBarStore_DuplicateKey(t *testing.T) {
	store := NewBarStore()
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.Bar{bar("BTC", 1000, 1)}); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.Bar{bar("BTC", 2000, 1), bar("BTC", 1000, 1)})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	// Batch must be rejected as a whole
	got, _ := store.GetByTimeRange(ctx, "BTC", 0, 5000)
	if len(got) != 1 {
		t.Errorf("Expected 1 bar after failed batch, got %d", len(got))
	}
}

func TestBarStore_IntraBatchDuplicate(t *testing.T) {
	store := NewBarStore()
	err := store.InsertBulk(context.Background(), []*domain.Bar{bar("BTC", 1000, 1), bar("BTC", 1000, 2)})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestBarStore_ReturnsCopies(t *testing.T) {
	store := NewBarStore()
	ctx := context.Background()

	b := bar("BTC", 1000, 100)
	if err := store.InsertBulk(ctx, []*domain.Bar{b}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	b.Close = decimal.NewFromInt(1)

	got, _ := store.GetByTimeRange(ctx, "BTC", 1000, 1000)
	if !got[0].Close.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Stored bar mutated through caller pointer: %s", got[0].Close)
	}
}
