package domain

import "github.com/shopspring/decimal"

// RunState is the simulation loop state.
type RunState string

// Run states. Initial: idle. Terminal: completed, halted, failed.
const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateHalted    RunState = "halted"
	RunStateFailed    RunState = "failed"
)

// Terminal reports whether the run has ended.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateHalted || s == RunStateFailed
}

// RunRecord is the persisted summary of one simulation run.
// Corresponds to the runs table.
type RunRecord struct {
	RunID          string
	StrategyName   string
	Symbols        []string
	State          RunState
	Error          string // failure or halt reason
	StartedAt      int64  // first bar timestamp (ms)
	FinishedAt     int64  // last processed bar timestamp (ms)
	BarsProcessed  int
	InitialCash    decimal.Decimal
	FinalEquity    decimal.Decimal
	RealizedPnL    decimal.Decimal
	TotalFees      decimal.Decimal
	TradeCount     int
	Fingerprint    string // deterministic digest of fills and snapshots
	KillSwitchNote string
}
