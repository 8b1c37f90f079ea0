package clickhouse

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

func testBar(symbol string, ts int64, close string) *domain.Bar {
	c := decimal.RequireFromString(close)
	return &domain.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      c,
		High:      c.Add(decimal.NewFromInt(1)),
		Low:       c.Sub(decimal.NewFromInt(1)),
		Close:     c,
		Volume:    decimal.NewFromInt(500),
	}
}

func TestBarStore_InsertBulk(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarStore(conn)
	ctx := context.Background()

	assert.NoError(t, store.InsertBulk(ctx, nil))

	bars := []*domain.Bar{
		testBar("BTC", 2000, "101.5"),
		testBar("BTC", 1000, "100.25"),
		testBar("ETH", 1000, "10"),
	}
	require.NoError(t, store.InsertBulk(ctx, bars))

	got, err := store.GetByTimeRange(ctx, "BTC", 0, 5000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1000), got[0].Timestamp)
	assert.True(t, got[0].Close.Equal(decimal.RequireFromString("100.25")))
	assert.True(t, got[1].High.Equal(decimal.RequireFromString("102.5")))

	symbols, err := store.ListSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, symbols)
}

func TestBarStore_Duplicates(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarStore(conn)
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.Bar{testBar("BTC", 1000, "1"), testBar("BTC", 1000, "2")})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	require.NoError(t, store.InsertBulk(ctx, []*domain.Bar{testBar("BTC", 1000, "1")}))
	err = store.InsertBulk(ctx, []*domain.Bar{testBar("BTC", 1000, "1")})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestEquityCurveStore(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEquityCurveStore(conn)
	ctx := context.Background()

	curve := []domain.PortfolioSnapshot{
		{Timestamp: 1000, Cash: decimal.NewFromInt(10000), Equity: decimal.NewFromInt(10000)},
		{Timestamp: 2000, Cash: decimal.NewFromInt(9000), PositionsValue: decimal.RequireFromString("1010.5"), Equity: decimal.RequireFromString("10010.5"), OpenPositions: 1},
	}
	require.NoError(t, store.InsertBulk(ctx, "run1", curve))
	assert.ErrorIs(t, store.InsertBulk(ctx, "run1", curve), storage.ErrDuplicateKey)

	got, err := store.GetByRunID(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2000), got[1].Timestamp)
	assert.Equal(t, 1, got[1].OpenPositions)
	assert.True(t, got[1].Equity.Equal(decimal.RequireFromString("10010.5")))
}
