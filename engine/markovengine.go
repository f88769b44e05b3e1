package engine

import (
	"math"

	"github.com/ftahirops/preheatd/model"
)

// MarkovStateChanged drives m through one transition when either
// endpoint's running flag has flipped. now is the
// current state-time (State.Time). Idempotent within one tick: if the
// new state equals the old, this is a race between two flag flips
// already reconciled and the call is a no-op.
func MarkovStateChanged(m *model.Markov, now int64, aRunning, bRunning bool) {
	newState := 0
	if aRunning {
		newState |= model.MarkovAOnly
	}
	if bRunning {
		newState |= model.MarkovBOnly
	}
	if newState == m.State {
		return
	}

	old := m.State
	m.Weight[old][old]++
	// Streaming mean of sojourn time in `old`.
	sojourn := float64(now - m.ChangeTimestamp)
	m.TimeToLeave[old] += (sojourn - m.TimeToLeave[old]) / float64(m.Weight[old][old])

	m.Weight[old][newState]++
	m.State = newState
	m.ChangeTimestamp = now
}

// Correlation computes the Pearson product-moment correlation between
// the Bernoulli processes "A running" / "B running" over the
// observation window t. Clamped to [-1, 1] to absorb
// floating-point overshoot; returns 0 when any marginal is undefined
// (zero or equal to the full window) or the denominator is non-positive
// (integer overflow after extended uptime — a documented
// over-counting hazard).
func Correlation(m *model.Markov, t int64) float64 {
	a := m.A.TotalRuntimeSec
	b := m.B.TotalRuntimeSec
	ab := m.CoObservationTime

	if a == 0 || b == 0 || a == t || b == t || t == 0 {
		return 0
	}

	num := float64(t)*float64(ab) - float64(a)*float64(b)
	denomSq := float64(a) * float64(b) * float64(t-a) * float64(t-b)
	if denomSq <= 0 {
		return 0
	}
	denom := math.Sqrt(denomSq)
	if denom <= 0 {
		return 0
	}

	c := num / denom
	if c > 1 {
		return 1
	}
	if c < -1 {
		return -1
	}
	return c
}
