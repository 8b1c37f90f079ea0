package reporting

import (
	"time"

	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/metrics"
)

// Report is the summary of one persisted run.
type Report struct {
	GeneratedAt time.Time

	Run         *domain.RunRecord
	Performance *metrics.Performance

	// Violations in the order they were recorded
	Violations []domain.RiskEvaluation

	// ViolationCounts per rule name, sorted by rule name
	ViolationCounts []ViolationCountRow
}

// ViolationCountRow counts violations of one rule.
type ViolationCountRow struct {
	Rule     string
	Critical bool
	Count    int
	First    int64 // Unix ms
	Last     int64 // Unix ms
}
