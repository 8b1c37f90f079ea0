package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors. Typed errors below match them through errors.Is.
var (
	// ErrConfiguration marks bad order or rule parameters.
	ErrConfiguration = errors.New("configuration error")

	// ErrInsufficientMargin marks a fill that would leave negative free margin.
	ErrInsufficientMargin = errors.New("insufficient margin")

	// ErrDataExhausted is returned by a data feed when no more bars remain.
	// It is a normal completion signal, not a failure.
	ErrDataExhausted = errors.New("data exhausted")

	// ErrOutOfOrderBar marks a bar whose timestamp does not advance.
	ErrOutOfOrderBar = errors.New("out-of-order bar")

	// ErrMalformedBar marks a bar that fails validation.
	ErrMalformedBar = errors.New("malformed bar")

	// ErrRiskRejection marks a pre-trade veto.
	ErrRiskRejection = errors.New("risk rejection")

	// ErrInvalidTransition is returned by the order state machine.
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// ConfigurationError rejects a single action because of bad parameters.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

// InsufficientMarginError is returned when a fill would push free margin below zero.
type InsufficientMarginError struct {
	Symbol    string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientMarginError) Error() string {
	return fmt.Sprintf("insufficient margin for %s: required %s, available %s",
		e.Symbol, e.Required.String(), e.Available.String())
}

func (e *InsufficientMarginError) Is(target error) bool { return target == ErrInsufficientMargin }

// OutOfOrderBarError is fatal: bar timestamps must strictly increase per symbol.
type OutOfOrderBarError struct {
	Symbol   string
	Previous int64
	Got      int64
}

func (e *OutOfOrderBarError) Error() string {
	return fmt.Sprintf("out-of-order bar for %s: timestamp %d not after %d", e.Symbol, e.Got, e.Previous)
}

func (e *OutOfOrderBarError) Is(target error) bool { return target == ErrOutOfOrderBar }

// MalformedBarError is fatal: the bar failed validation.
type MalformedBarError struct {
	Symbol    string
	Timestamp int64
	Reason    string
}

func (e *MalformedBarError) Error() string {
	return fmt.Sprintf("malformed bar %s@%d: %s", e.Symbol, e.Timestamp, e.Reason)
}

func (e *MalformedBarError) Is(target error) bool { return target == ErrMalformedBar }

// RiskRejection is a pre-trade veto. It is logged and never aborts a run.
type RiskRejection struct {
	Rule      string
	Symbol    string
	Reason    string
	Timestamp int64
}

func (e *RiskRejection) Error() string {
	return fmt.Sprintf("risk rejection by %s for %s: %s", e.Rule, e.Symbol, e.Reason)
}

func (e *RiskRejection) Is(target error) bool { return target == ErrRiskRejection }
