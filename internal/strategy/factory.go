package strategy

import (
	"errors"

	"trading-sim-lab/internal/domain"
)

// Factory errors
var (
	ErrUnknownStrategyType = errors.New("unknown strategy type")
	ErrMissingQuantity     = errors.New("strategy requires positive Quantity")
	ErrMissingFastPeriod   = errors.New("SMA_CROSS requires FastPeriod")
	ErrMissingSlowPeriod   = errors.New("SMA_CROSS requires SlowPeriod")
	ErrInvalidPeriods      = errors.New("SMA_CROSS requires 0 < FastPeriod < SlowPeriod")
	ErrInvalidLimitOffset  = errors.New("LimitOffsetPct must be in [0, 100)")
)

// FromConfig creates a Strategy from domain.StrategyConfig.
// Validates required parameters per strategy type.
func FromConfig(cfg domain.StrategyConfig) (Strategy, error) {
	if !cfg.Quantity.IsPositive() {
		return nil, ErrMissingQuantity
	}
	switch cfg.StrategyType {
	case domain.StrategyTypeSMACross:
		return fromSMACrossConfig(cfg)
	case domain.StrategyTypeBuyAndHold:
		return NewBuyAndHoldStrategy(cfg.Quantity), nil
	default:
		return nil, ErrUnknownStrategyType
	}
}

// fromSMACrossConfig creates SMACrossStrategy from config.
func fromSMACrossConfig(cfg domain.StrategyConfig) (*SMACrossStrategy, error) {
	if cfg.FastPeriod == nil {
		return nil, ErrMissingFastPeriod
	}
	if cfg.SlowPeriod == nil {
		return nil, ErrMissingSlowPeriod
	}
	if *cfg.FastPeriod <= 0 || *cfg.FastPeriod >= *cfg.SlowPeriod {
		return nil, ErrInvalidPeriods
	}
	if cfg.LimitOffsetPct != nil && (cfg.LimitOffsetPct.IsNegative() || cfg.LimitOffsetPct.GreaterThanOrEqual(hundred)) {
		return nil, ErrInvalidLimitOffset
	}

	s := NewSMACrossStrategy(*cfg.FastPeriod, *cfg.SlowPeriod, cfg.Quantity, cfg.AllowShort)
	s.LimitOffsetPct = cfg.LimitOffsetPct
	if cfg.TimeInForce != "" {
		s.TimeInForce = cfg.TimeInForce
	}
	return s, nil
}
