package engine

import (
	"math"
	"testing"

	"github.com/ftahirops/preheatd/model"
)

func TestMarkovStateChangedIsNoOpWhenStateUnchanged(t *testing.T) {
	a := &model.Exe{}
	b := &model.Exe{}
	m := model.NewMarkov(a, b)
	m.ChangeTimestamp = 10

	MarkovStateChanged(m, 20, false, false)

	if m.ChangeTimestamp != 10 {
		t.Fatalf("expected no-op (state already MarkovNeither) to leave ChangeTimestamp untouched, got %d", m.ChangeTimestamp)
	}
}

func TestMarkovStateChangedRecordsTransitionAndSojourn(t *testing.T) {
	a := &model.Exe{}
	b := &model.Exe{}
	m := model.NewMarkov(a, b)
	m.ChangeTimestamp = 0

	MarkovStateChanged(m, 100, true, false) // neither -> A only

	if m.State != model.MarkovAOnly {
		t.Fatalf("expected state MarkovAOnly, got %d", m.State)
	}
	if m.ChangeTimestamp != 100 {
		t.Fatalf("expected ChangeTimestamp advanced to 100, got %d", m.ChangeTimestamp)
	}
	if m.Weight[model.MarkovNeither][model.MarkovNeither] != 1 {
		t.Fatalf("expected one visit tallied for the departed state, got %d", m.Weight[0][0])
	}
	if m.Weight[model.MarkovNeither][model.MarkovAOnly] != 1 {
		t.Fatalf("expected one transition tallied neither->A, got %d", m.Weight[0][1])
	}
	if m.TimeToLeave[model.MarkovNeither] != 100 {
		t.Fatalf("expected first sojourn sample to set TimeToLeave directly, got %g", m.TimeToLeave[0])
	}
}

func TestMarkovStateChangedAccumulatesStreamingMean(t *testing.T) {
	a := &model.Exe{}
	b := &model.Exe{}
	m := model.NewMarkov(a, b)

	// Two sojourns in "neither" of length 100 and 300 average to 200.
	MarkovStateChanged(m, 100, true, false)  // neither -> A, sojourn 100
	MarkovStateChanged(m, 100, false, false) // A -> neither, sojourn 0
	MarkovStateChanged(m, 400, true, false)  // neither -> A, sojourn 300

	got := m.TimeToLeave[model.MarkovNeither]
	want := 200.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected streaming mean sojourn ~%g, got %g", want, got)
	}
}

func TestCorrelationReturnsZeroForDegenerateMarginals(t *testing.T) {
	a := &model.Exe{TotalRuntimeSec: 0}
	b := &model.Exe{TotalRuntimeSec: 50}
	m := model.NewMarkov(a, b)
	if got := Correlation(m, 100); got != 0 {
		t.Fatalf("expected 0 when a's runtime is 0, got %g", got)
	}

	a.TotalRuntimeSec = 100
	if got := Correlation(m, 100); got != 0 {
		t.Fatalf("expected 0 when a's runtime equals the window, got %g", got)
	}
}

func TestCorrelationIsClampedToUnitRange(t *testing.T) {
	a := &model.Exe{TotalRuntimeSec: 50}
	b := &model.Exe{TotalRuntimeSec: 50}
	m := model.NewMarkov(a, b)
	m.CoObservationTime = 50 // perfectly coincident within the window

	got := Correlation(m, 100)
	if got < -1 || got > 1 {
		t.Fatalf("expected correlation clamped to [-1, 1], got %g", got)
	}
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected perfectly coincident runs to correlate near 1, got %g", got)
	}
}
