package idhash

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/mr-tron/base58"

	"trading-sim-lab/internal/domain"
)

// Fingerprint digests the fill sequence and equity curve of a run.
// Two runs over the same bars and configuration produce the same value.
// Returns base58-encoded SHA256.
func Fingerprint(fills []domain.Fill, snapshots []domain.PortfolioSnapshot) string {
	h := sha256.New()
	writeFills(h, fills)
	writeSnapshots(h, snapshots)
	return base58.Encode(h.Sum(nil))
}

func writeFills(w io.Writer, fills []domain.Fill) {
	for _, f := range fills {
		_, _ = fmt.Fprintf(w, "F|%d|%s|%s|%s|%s|%s|%d|%t|%s\n",
			f.OrderID,
			f.Symbol,
			f.Side,
			f.Price.String(),
			f.Quantity.String(),
			f.Fee.String(),
			f.Timestamp,
			f.IsPartial,
			f.Liquidity,
		)
	}
}

func writeSnapshots(w io.Writer, snapshots []domain.PortfolioSnapshot) {
	for _, s := range snapshots {
		_, _ = fmt.Fprintf(w, "S|%d|%s|%s|%s|%s|%s|%s|%d\n",
			s.Timestamp,
			s.Cash.String(),
			s.PositionsValue.String(),
			s.Equity.String(),
			s.UnrealizedPnL.String(),
			s.RealizedPnLCumulative.String(),
			s.FeesCumulative.String(),
			s.OpenPositions,
		)
	}
}
