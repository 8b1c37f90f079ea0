package simulation

import (
	"trading-sim-lab/internal/domain"
)

// MatchInstance finds the instance a stored run was produced by: same
// strategy identifier and the same symbols in the same order.
func MatchInstance(instances []Instance, run *domain.RunRecord) (Instance, bool) {
	for _, inst := range instances {
		if inst.Strategy == nil || inst.Strategy.Name() != run.StrategyName {
			continue
		}
		if sameSymbols(inst.Config.Symbols, run.Symbols) {
			return inst, true
		}
	}
	return Instance{}, false
}

func sameSymbols(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
