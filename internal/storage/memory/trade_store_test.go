package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

func trade(seq int) domain.Trade {
	return domain.Trade{
		Seq: seq,
		Fill: domain.Fill{
			OrderID:  int64(seq),
			Symbol:   "BTC",
			Side:     domain.SideBuy,
			Price:    decimal.NewFromInt(100),
			Quantity: decimal.NewFromInt(1),
			Fee:      decimal.NewFromFloat(0.1),
		},
		RealizedPnL: decimal.Zero,
	}
}

func TestTradeStore_InsertAndGet(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	if err := store.InsertBulk(ctx, "run1", []domain.Trade{trade(2), trade(1)}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	if err := store.InsertBulk(ctx, "run1", []domain.Trade{trade(3)}); err != nil {
		t.Fatalf("Second InsertBulk failed: %v", err)
	}

	got, err := store.GetByRunID(ctx, "run1")
	if err != nil {
		t.Fatalf("GetByRunID failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 trades, got %d", len(got))
	}
	for i, tr := range got {
		if tr.Seq != i+1 {
			t.Errorf("got[%d].Seq = %d, want %d", i, tr.Seq, i+1)
		}
	}

	other, _ := store.GetByRunID(ctx, "run2")
	if len(other) != 0 {
		t.Errorf("Expected no trades for run2, got %d", len(other))
	}
}

func TestTradeStore_DuplicateSeq(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	if err := store.InsertBulk(ctx, "run1", []domain.Trade{trade(1)}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	err := store.InsertBulk(ctx, "run1", []domain.Trade{trade(2), trade(1)})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	got, _ := store.GetByRunID(ctx, "run1")
	if len(got) != 1 {
		t.Errorf("Expected batch to be rejected whole, got %d trades", len(got))
	}
}
