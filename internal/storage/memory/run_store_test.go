package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

func TestRunStore_InsertAndGet(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	run := &domain.RunRecord{
		RunID:        "run1",
		StrategyName: "SMA_CROSS",
		Symbols:      []string{"BTC"},
		State:        domain.RunStateCompleted,
		StartedAt:    1000,
		FinalEquity:  decimal.NewFromInt(10500),
	}
	if err := store.Insert(ctx, run); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "run1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.FinalEquity.Equal(decimal.NewFromInt(10500)) {
		t.Errorf("FinalEquity mismatch: got %s", got.FinalEquity)
	}

	if err := store.Insert(ctx, run); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestRunStore_NotFound(t *testing.T) {
	store := NewRunStore()
	_, err := store.GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRunStore_ListOrdered(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	for _, r := range []*domain.RunRecord{
		{RunID: "c", StartedAt: 2000},
		{RunID: "b", StartedAt: 1000},
		{RunID: "a", StartedAt: 2000},
	} {
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	runs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"b", "a", "c"}
	for i, r := range runs {
		if r.RunID != want[i] {
			t.Errorf("runs[%d] = %s, want %s", i, r.RunID, want[i])
		}
	}
}
