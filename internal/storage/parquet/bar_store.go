// Package parquet stores OHLCV bars as Parquet files on disk, one file per
// symbol at <DataDir>/<SYMBOL>.parquet.
package parquet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	parquetgo "github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/storage"
)

// BarRecord is the Parquet schema for bar data. Prices are kept as decimal
// strings so values round-trip exactly.
type BarRecord struct {
	Symbol    string `parquet:"symbol"`
	Timestamp int64  `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      string `parquet:"open"`
	High      string `parquet:"high"`
	Low       string `parquet:"low"`
	Close     string `parquet:"close"`
	Volume    string `parquet:"volume"`
}

// BarStore implements storage.BarStore using Parquet files.
type BarStore struct {
	DataDir string

	mu sync.Mutex // serializes read-merge-write per store
}

// NewBarStore creates a BarStore rooted at dataDir.
func NewBarStore(dataDir string) *BarStore {
	return &BarStore{DataDir: dataDir}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// InsertBulk merges bars into their symbol files. Fails the entire batch if
// any (symbol, timestamp) already exists on disk or repeats within the batch.
func (s *BarStore) InsertBulk(_ context.Context, bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make(map[string][]BarRecord)
	for _, b := range bars {
		if b == nil || b.Symbol == "" || strings.ContainsAny(b.Symbol, `/\`) {
			return storage.ErrInvalidInput
		}
		groups[b.Symbol] = append(groups[b.Symbol], toRecord(b))
	}

	// Validate every group before writing any file.
	merged := make(map[string][]BarRecord, len(groups))
	for symbol, incoming := range groups {
		existing, err := s.read(symbol)
		if err != nil {
			return err
		}
		seen := make(map[int64]struct{}, len(existing)+len(incoming))
		for _, r := range existing {
			seen[r.Timestamp] = struct{}{}
		}
		for _, r := range incoming {
			if _, dup := seen[r.Timestamp]; dup {
				return storage.Duplicate("bar", storage.BarKey(symbol, r.Timestamp))
			}
			seen[r.Timestamp] = struct{}{}
		}
		all := append(existing, incoming...)
		sort.Slice(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
		merged[symbol] = all
	}

	for symbol, records := range merged {
		if err := writeParquetFile(s.path(symbol), records); err != nil {
			return fmt.Errorf("writing bars for %s: %w", symbol, err)
		}
	}
	return nil
}

// GetByTimeRange reads bars for a symbol within [start, end] (inclusive).
func (s *BarStore) GetByTimeRange(_ context.Context, symbol string, start, end int64) ([]*domain.Bar, error) {
	s.mu.Lock()
	records, err := s.read(symbol)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var bars []*domain.Bar
	for _, r := range records {
		if r.Timestamp < start || r.Timestamp > end {
			continue
		}
		b, err := fromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("decode bar %s@%d: %w", symbol, r.Timestamp, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// ListSymbols returns the symbols that have a bar file.
func (s *BarStore) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.DataDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list bar files: %w", err)
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		symbols = append(symbols, strings.TrimSuffix(e.Name(), ".parquet"))
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (s *BarStore) path(symbol string) string {
	return filepath.Join(s.DataDir, symbol+".parquet")
}

// read returns the symbol's records, or nil if the file does not exist.
func (s *BarStore) read(symbol string) ([]BarRecord, error) {
	path := s.path(symbol)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat bars for %s: %w", symbol, err)
	}
	records, err := readParquetFile[BarRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", symbol, err)
	}
	return records, nil
}

func toRecord(b *domain.Bar) BarRecord {
	return BarRecord{
		Symbol:    b.Symbol,
		Timestamp: b.Timestamp,
		Open:      b.Open.String(),
		High:      b.High.String(),
		Low:       b.Low.String(),
		Close:     b.Close.String(),
		Volume:    b.Volume.String(),
	}
}

func fromRecord(r BarRecord) (*domain.Bar, error) {
	b := &domain.Bar{Symbol: r.Symbol, Timestamp: r.Timestamp}
	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&b.Open, r.Open},
		{&b.High, r.High},
		{&b.Low, r.Low},
		{&b.Close, r.Close},
		{&b.Volume, r.Volume},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = d
	}
	return b, nil
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquetgo.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquetgo.ReadFile[T](path)
}
