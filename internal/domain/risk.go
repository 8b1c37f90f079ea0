package domain

import "github.com/shopspring/decimal"

// RiskEvaluation is the result of one rule check.
type RiskEvaluation struct {
	RuleName   string
	Kind       string
	IsViolated bool
	Critical   bool
	Value      decimal.Decimal // observed value
	Threshold  decimal.Decimal
	Symbol     string // set when the rule looked at a single symbol
	Message    string
	Timestamp  int64 // ms
}

// KillSwitchState is write-once per activation; only an explicit reset clears it.
type KillSwitchState struct {
	Activated   bool
	Reason      string
	ActivatedAt int64 // ms, zero when not activated
}

// RiskStatus is the risk summary served to status queries.
type RiskStatus struct {
	Evaluations []RiskEvaluation
	KillSwitch  KillSwitchState
}
