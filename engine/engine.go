package engine

import (
	"sort"

	"github.com/ftahirops/preheatd/config"
	"github.com/ftahirops/preheatd/model"
)

// defaultSessionBootTopN is how many of the most-used priority-pool exes
// get forced to the front of the next prediction during the post-login
// window.
const defaultSessionBootTopN = 10

// topExesByRuntime returns the n priority-pool exes with the largest
// accumulated TotalRuntimeSec, most-used first.
func topExesByRuntime(state *model.State, n int) []*model.Exe {
	exes := state.PriorityExes()
	sort.Slice(exes, func(i, j int) bool { return exes[i].TotalRuntimeSec > exes[j].TotalRuntimeSec })
	if len(exes) > n {
		exes = exes[:n]
	}
	return exes
}

// applySessionBoost re-pins the top-N most-used exes' maps to
// sessionBootBoost and re-sorts, implementing the post-login
// session-boot window: stronger than the manual-apps boost, so these
// win the budget-constrained selection first regardless of what the
// rest of the prediction pass decided. sorted is mutated and returned
// for chaining.
func applySessionBoost(state *model.State, cfg *config.Config, sorted []*model.Mapping, n int) []*model.Mapping {
	for _, e := range topExesByRuntime(state, n) {
		if len(e.ExeMaps) == 0 {
			synthesizeWholeFileMap(state, e, cfg)
		}
		for _, xm := range e.ExeMaps {
			xm.Map.LnProb = sessionBootBoost
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LnProb < sorted[j].LnProb })
	return sorted
}
