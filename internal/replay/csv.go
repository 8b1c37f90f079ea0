package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"trading-sim-lab/internal/domain"
)

// CSVHeader is the column order ReadBarsCSV expects.
var CSVHeader = []string{"symbol", "timestamp", "open", "high", "low", "close", "volume"}

// ReadBarsCSV parses bars from CSV with a CSVHeader header row.
// Every bar is validated; the first malformed row fails the whole read.
// Rows are returned sorted by (timestamp, symbol). UTF-8 input may carry a
// BOM; UTF-16 input must.
func ReadBarsCSV(r io.Reader) ([]*domain.Bar, error) {
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	cr.FieldsPerRecord = len(CSVHeader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, col := range CSVHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), col) {
			return nil, fmt.Errorf("column %d: want %q, got %q", i+1, col, header[i])
		}
	}

	var bars []*domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bar, err := parseBarRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}

	SortBars(bars)
	return bars, nil
}

func parseBarRecord(rec []string) (*domain.Bar, error) {
	ts, err := strconv.ParseInt(rec[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}
	var vals [5]decimal.Decimal
	for i := range vals {
		v, err := decimal.NewFromString(rec[i+2])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", CSVHeader[i+2], err)
		}
		vals[i] = v
	}

	bar := &domain.Bar{
		Symbol:    rec[0],
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}
	if err := bar.Validate(); err != nil {
		return nil, err
	}
	return bar, nil
}
