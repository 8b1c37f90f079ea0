package replay

import (
	"sort"

	"trading-sim-lab/internal/domain"
)

// SortBars orders bars by (timestamp ASC, symbol ASC).
// Symbol breaks ties between bars of different symbols at the same instant.
func SortBars(bars []*domain.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		return compareBars(bars[i], bars[j]) < 0
	})
}

// MergeBars combines per-symbol series into one sorted stream.
func MergeBars(series ...[]*domain.Bar) []*domain.Bar {
	n := 0
	for _, s := range series {
		n += len(s)
	}
	out := make([]*domain.Bar, 0, n)
	for _, s := range series {
		out = append(out, s...)
	}
	SortBars(out)
	return out
}

// compareBars returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (timestamp ASC, symbol ASC)
func compareBars(a, b *domain.Bar) int {
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	if a.Symbol != b.Symbol {
		if a.Symbol < b.Symbol {
			return -1
		}
		return 1
	}
	return 0
}

// ValidateOrdering checks that timestamps strictly increase per symbol.
// Returns *domain.OutOfOrderBarError on the first offending bar.
func ValidateOrdering(bars []*domain.Bar) error {
	last := make(map[string]int64)
	for _, b := range bars {
		if prev, ok := last[b.Symbol]; ok && b.Timestamp <= prev {
			return &domain.OutOfOrderBarError{Symbol: b.Symbol, Previous: prev, Got: b.Timestamp}
		}
		last[b.Symbol] = b.Timestamp
	}
	return nil
}
