package engine

import (
	"testing"

	"github.com/ftahirops/preheatd/config"
	"github.com/ftahirops/preheatd/model"
)

func TestTopExesByRuntimeSortsDescendingAndTruncates(t *testing.T) {
	state := model.New()
	a := state.RegisterExe("/usr/bin/a", model.PoolPriority)
	a.TotalRuntimeSec = 10
	b := state.RegisterExe("/usr/bin/b", model.PoolPriority)
	b.TotalRuntimeSec = 100
	c := state.RegisterExe("/usr/bin/c", model.PoolPriority)
	c.TotalRuntimeSec = 50
	state.RegisterExe("/usr/bin/obs", model.PoolObservation)

	top := topExesByRuntime(state, 2)
	if len(top) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(top))
	}
	if top[0].Path != "/usr/bin/b" || top[1].Path != "/usr/bin/c" {
		t.Fatalf("expected b,c in descending runtime order, got %s,%s", top[0].Path, top[1].Path)
	}
}

func TestApplySessionBoostPinsTopExesAheadOfEverythingElse(t *testing.T) {
	state := model.New()
	cfg := config.Default()

	heavy := state.RegisterExe("/usr/bin/heavy", model.PoolPriority)
	heavy.TotalRuntimeSec = 1000
	state.AddExeMap(heavy, "/usr/bin/heavy", 0, 100, 1.0)
	state.FindMapping("/usr/bin/heavy", 0, 100).LnProb = 5 // would otherwise sort last

	other := state.RegisterExe("/usr/bin/other", model.PoolPriority)
	other.TotalRuntimeSec = 1
	state.AddExeMap(other, "/usr/bin/other", 0, 100, 1.0)
	state.FindMapping("/usr/bin/other", 0, 100).LnProb = -1

	sorted := applySessionBoost(state, cfg, state.Maps(), 1)

	if sorted[0].Path != "/usr/bin/heavy" {
		t.Fatalf("expected the session-boosted exe's map sorted first, got %s", sorted[0].Path)
	}
	if state.FindMapping("/usr/bin/heavy", 0, 100).LnProb != sessionBootBoost {
		t.Fatalf("expected the boosted map's lnprob set to %g, got %g", sessionBootBoost, state.FindMapping("/usr/bin/heavy", 0, 100).LnProb)
	}
}
