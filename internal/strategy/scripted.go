package strategy

import (
	"context"

	"trading-sim-lab/internal/domain"
)

// ScriptKey addresses one bar of one symbol.
type ScriptKey struct {
	Symbol    string
	Timestamp int64
}

// ScriptedStrategy replays a fixed list of signals keyed by bar. It is used
// to drive the engine through exact order sequences, including malformed
// signals a real strategy might emit.
type ScriptedStrategy struct {
	name    string
	signals map[ScriptKey]domain.Signal
	errs    map[ScriptKey]error
}

// NewScriptedStrategy creates an empty script.
func NewScriptedStrategy(name string) *ScriptedStrategy {
	return &ScriptedStrategy{
		name:    name,
		signals: make(map[ScriptKey]domain.Signal),
		errs:    make(map[ScriptKey]error),
	}
}

// At schedules sig for the bar of sig.Symbol at ts. Returns the strategy for chaining.
func (s *ScriptedStrategy) At(ts int64, sig domain.Signal) *ScriptedStrategy {
	s.signals[ScriptKey{Symbol: sig.Symbol, Timestamp: ts}] = sig
	return s
}

// AtFor schedules sig for the bar of symbol at ts even when sig names another symbol.
func (s *ScriptedStrategy) AtFor(symbol string, ts int64, sig domain.Signal) *ScriptedStrategy {
	s.signals[ScriptKey{Symbol: symbol, Timestamp: ts}] = sig
	return s
}

// FailAt makes OnBar return err for the bar of symbol at ts.
func (s *ScriptedStrategy) FailAt(symbol string, ts int64, err error) *ScriptedStrategy {
	s.errs[ScriptKey{Symbol: symbol, Timestamp: ts}] = err
	return s
}

// Name returns the script name.
func (s *ScriptedStrategy) Name() string { return s.name }

// OnBar returns the scheduled signal for the current bar, if any.
func (s *ScriptedStrategy) OnBar(_ context.Context, input *Input) (*domain.Signal, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	key := ScriptKey{Symbol: input.Symbol, Timestamp: input.Current().Timestamp}
	if err, ok := s.errs[key]; ok {
		return nil, err
	}
	sig, ok := s.signals[key]
	if !ok {
		return nil, nil
	}
	return &sig, nil
}
