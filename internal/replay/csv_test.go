package replay

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
)

func TestReadBarsCSV(t *testing.T) {
	input := `symbol,timestamp,open,high,low,close,volume
ETH,2000,10,11,9,10.5,300
BTC,2000,100,101,99,100.5,12
BTC,1000,99,100,98,100,10
`
	bars, err := ReadBarsCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadBarsCSV failed: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(bars))
	}

	want := []struct {
		symbol string
		ts     int64
	}{{"BTC", 1000}, {"BTC", 2000}, {"ETH", 2000}}
	for i, w := range want {
		if bars[i].Symbol != w.symbol || bars[i].Timestamp != w.ts {
			t.Errorf("bar %d = %s@%d, want %s@%d", i, bars[i].Symbol, bars[i].Timestamp, w.symbol, w.ts)
		}
	}
	if !bars[2].Close.Equal(decimal.RequireFromString("10.5")) {
		t.Errorf("close = %s", bars[2].Close)
	}
}

func TestReadBarsCSV_ByteOrderMark(t *testing.T) {
	input := "\ufeffsymbol,timestamp,open,high,low,close,volume\nBTC,1000,1,1,1,1,1\n"
	bars, err := ReadBarsCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadBarsCSV failed: %v", err)
	}
	if len(bars) != 1 || bars[0].Symbol != "BTC" {
		t.Errorf("unexpected bars: %+v", bars)
	}
}

func TestReadBarsCSV_Empty(t *testing.T) {
	bars, err := ReadBarsCSV(strings.NewReader(""))
	if err != nil || len(bars) != 0 {
		t.Errorf("expected no bars and no error, got %d, %v", len(bars), err)
	}
}

func TestReadBarsCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"wrong header", "sym,ts,o,h,l,c,v\n"},
		{"short row", "symbol,timestamp,open,high,low,close,volume\nBTC,1000,1,1,1\n"},
		{"bad timestamp", "symbol,timestamp,open,high,low,close,volume\nBTC,soon,1,1,1,1,1\n"},
		{"bad price", "symbol,timestamp,open,high,low,close,volume\nBTC,1000,x,1,1,1,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadBarsCSV(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestReadBarsCSV_MalformedBar(t *testing.T) {
	input := "symbol,timestamp,open,high,low,close,volume\nBTC,1000,100,90,95,96,1\n"
	_, err := ReadBarsCSV(strings.NewReader(input))

	var malformed *domain.MalformedBarError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedBarError", err)
	}
	if !errors.Is(err, domain.ErrMalformedBar) {
		t.Error("expected errors.Is ErrMalformedBar")
	}
}
