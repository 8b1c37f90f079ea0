package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(run_id|seq|order_id|fill_time)
// Returns hex-encoded hash (64 characters).
func ComputeTradeID(
	runID string,
	seq int,
	orderID int64,
	fillTime int64,
) string {
	data := fmt.Sprintf("%s|%d|%d|%d",
		runID,
		seq,
		orderID,
		fillTime,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
