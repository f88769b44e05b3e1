package engine

import (
	"math"
	"sort"

	"github.com/ftahirops/preheatd/config"
	"github.com/ftahirops/preheatd/model"
)

// manualBoost is applied to a registered-but-not-running manual app so it
// sorts ahead of everything decided by evidence alone.
const manualBoost = -10.0

// sessionBootBoost is stronger than manualBoost, applied to the top-N
// most-used exes during the post-login session-boot window.
const sessionBootBoost = -15.0

// regularizer keeps the per-endpoint transition-rate estimate in
// markovBid finite when a state has no recorded visits yet.
const regularizer = 0.01

// Predict runs one full reset→boost→bid→sort pass over state. The returned slice is state.Maps(), sorted ascending by lnprob
// (most-needed first); callers must not retain it across the next call,
// since it aliases State's internal sortable array.
func Predict(state *model.State, cfg *config.Config, manualApps []string) []*model.Mapping {
	reset(state)
	boostManualApps(state, cfg, manualApps)
	markovBidExes(state, cfg)
	exeBidMaps(state)
	return sortMaps(state)
}

// reset clears every Mapping's LnProb back to its static prior before a new prediction pass accumulates evidence onto it.
func reset(state *model.State) {
	for _, e := range state.Exes() {
		if e.Blacklisted {
			e.LnProb = 1
		} else {
			e.LnProb = 0
		}
	}
	for _, m := range state.Maps() {
		m.LnProb = 0
	}
}

// boostManualApps pins every manually-listed app's maps ahead of anything decided by evidence alone.
func boostManualApps(state *model.State, cfg *config.Config, manualApps []string) {
	for _, path := range manualApps {
		e := state.FindExe(path)
		if e == nil {
			continue
		}
		if e.IsRunning(state.LastRunningTimestamp) {
			continue
		}
		e.LnProb = manualBoost

		if len(e.ExeMaps) == 0 {
			synthesizeWholeFileMap(state, e, cfg)
		}
	}
}

// synthesizeWholeFileMap lazily creates one ExeMap covering the exe's own
// binary end-to-end, for a manual app registered but never observed
// running. The region is [0, Exe.Size): the file on disk is not
// examined, so nothing is created while Exe.Size is still zero (no prior
// scan or load populated it) or below minsize.
func synthesizeWholeFileMap(state *model.State, e *model.Exe, cfg *config.Config) {
	if e.Size == 0 || e.Size < cfg.Model.MinSize {
		return
	}
	state.AddExeMap(e, e.Path, 0, e.Size, 1.0)
}

// markovBidExes lets every Markov vote on each
// not-currently-running endpoint's lnprob.
func markovBidExes(state *model.State, cfg *config.Config) {
	seen := make(map[*model.Markov]bool)
	for _, e := range state.Exes() {
		for _, m := range e.Markovs {
			if seen[m] {
				continue
			}
			seen[m] = true
			markovBid(state, cfg, m)
		}
	}
}

// markovBid estimates, for each of m's two endpoints not already running,
// the probability it runs before the next cycle: p_runs = corr * p_change *
// p_next, where p_next is the state's historical transition rate into that
// endpoint's solo state, and p_change is the probability that the current
// state is left at all within 1.5 cycles, assuming exponential sojourns
// with mean TimeToLeave[state]: the longer the mean dwell time, the
// weaker the bid.
func markovBid(state *model.State, cfg *config.Config, m *model.Markov) {
	s := m.State
	if m.TimeToLeave[s] <= 1 {
		return
	}

	corr := 1.0
	if cfg.Model.UseCorrelation {
		corr = math.Abs(Correlation(m, state.Time))
	}

	pChange := 1 - math.Exp(-float64(cfg.Model.CycleSec)*1.5/m.TimeToLeave[s])

	for _, y := range [2]*model.Exe{m.A, m.B} {
		if y.IsRunning(state.LastRunningTimestamp) {
			continue
		}
		yState := soloState(m, y)

		pNext := float64(m.Weight[s][yState]+m.Weight[s][model.MarkovBoth]) /
			(float64(m.Weight[s][s]) + regularizer)
		pRuns := corr * pChange * pNext
		if pRuns > 1 {
			pRuns = 1
		}
		if pRuns < 0 {
			pRuns = 0
		}
		y.LnProb += math.Log(1 - pRuns)
	}
}

// soloState returns the Markov state bit in which only y (of m's two
// endpoints) is running.
func soloState(m *model.Markov, y *model.Exe) int {
	if m.A == y {
		return model.MarkovAOnly
	}
	return model.MarkovBOnly
}

// exeBidMaps propagates each exe's winning bid down to its maps.
func exeBidMaps(state *model.State) {
	for _, e := range state.Exes() {
		running := e.IsRunning(state.LastRunningTimestamp)
		for _, xm := range e.ExeMaps {
			if running {
				xm.Map.LnProb += 1
			} else {
				xm.Map.LnProb += e.LnProb
			}
		}
	}
}

// sortMaps orders the result ascending by lnprob, ties broken by
// insertion order (sort.SliceStable preserves State.Maps()'s registration
// order among equal keys).
func sortMaps(state *model.State) []*model.Mapping {
	maps := state.Maps()
	sort.SliceStable(maps, func(i, j int) bool { return maps[i].LnProb < maps[j].LnProb })
	return maps
}
