package engine

import (
	"testing"

	"github.com/ftahirops/preheatd/config"
	"github.com/ftahirops/preheatd/model"
)

func TestBudgetCombinesPercentagesAndClampsAtZero(t *testing.T) {
	mem := model.MemorySnapshot{TotalKB: 1000, FreeKB: 200, CachedKB: 500}
	cfg := config.ModelConfig{MemTotalPct: 10, MemFreePct: 50, MemCachedPct: 20}

	// total*10% + free*50% = 100 + 100 = 200, plus cached*20% = 100 -> 300
	got := Budget(mem, cfg)
	if got != 300 {
		t.Fatalf("expected budget 300, got %d", got)
	}
}

func TestBudgetClampsNegativeIntermediateToZeroBeforeAddingCached(t *testing.T) {
	mem := model.MemorySnapshot{TotalKB: 1000, FreeKB: 0, CachedKB: 500}
	cfg := config.ModelConfig{MemTotalPct: -50, MemFreePct: 0, MemCachedPct: 10}

	// total*-50% = -500 clamped to 0, plus cached*10% = 50
	got := Budget(mem, cfg)
	if got != 50 {
		t.Fatalf("expected budget 50, got %d", got)
	}
}

func TestBudgetReturnsZeroWhenFinalTotalNegative(t *testing.T) {
	mem := model.MemorySnapshot{TotalKB: 1000, FreeKB: 1000, CachedKB: 1000}
	cfg := config.ModelConfig{MemTotalPct: 0, MemFreePct: 0, MemCachedPct: -100}

	got := Budget(mem, cfg)
	if got != 0 {
		t.Fatalf("expected budget 0 under memory pressure, got %d", got)
	}
}

func TestSelectTakesWhileNegativeLnProbAndBudgetAllows(t *testing.T) {
	maps := []*model.Mapping{
		{Path: "/a", Length: 1024, LnProb: -5},
		{Path: "/b", Length: 1024, LnProb: -3},
		{Path: "/c", Length: 1024, LnProb: -1},
	}
	selected := Select(maps, 1) // 1KB budget: only the first 1KB map fits
	if len(selected) != 1 {
		t.Fatalf("expected exactly 1 map to fit a 1KB budget, got %d", len(selected))
	}
	if selected[0].Path != "/a" {
		t.Fatalf("expected /a selected first, got %s", selected[0].Path)
	}
}

func TestSelectStopsAtFirstNonNegativeLnProb(t *testing.T) {
	maps := []*model.Mapping{
		{Path: "/a", Length: 1, LnProb: -5},
		{Path: "/b", Length: 1, LnProb: 0},
		{Path: "/c", Length: 1, LnProb: -1},
	}
	selected := Select(maps, 1000)
	if len(selected) != 1 || selected[0].Path != "/a" {
		t.Fatalf("expected selection to stop at the first lnprob >= 0, got %v", selected)
	}
}

func TestMergeWindowsCoalescesAdjacentRegionsInSameFile(t *testing.T) {
	sorted := []*model.Mapping{
		{Path: "/a", Offset: 0, Length: 100},
		{Path: "/a", Offset: 100, Length: 50},
		{Path: "/a", Offset: 500, Length: 10},
		{Path: "/b", Offset: 0, Length: 20},
	}
	windows := mergeWindows(sorted)
	if len(windows) != 3 {
		t.Fatalf("expected 3 merged windows, got %d: %+v", len(windows), windows)
	}
	if windows[0].Path != "/a" || windows[0].Offset != 0 || windows[0].Length != 150 {
		t.Fatalf("expected first two /a regions merged into one 150-byte window, got %+v", windows[0])
	}
	if windows[1].Path != "/a" || windows[1].Offset != 500 || windows[1].Length != 10 {
		t.Fatalf("expected the non-adjacent /a region kept separate, got %+v", windows[1])
	}
}

func TestOwnersByPathIndexesOnlySelectedPaths(t *testing.T) {
	state := model.New()
	a := state.RegisterExe("/usr/bin/a", model.PoolPriority)
	b := state.RegisterExe("/usr/bin/b", model.PoolPriority)
	state.AddExeMap(a, "/usr/lib/shared.so", 0, 4096, 1.0)
	state.AddExeMap(b, "/usr/lib/shared.so", 0, 4096, 1.0)
	state.AddExeMap(b, "/usr/lib/other.so", 0, 4096, 1.0)

	selected := []*model.Mapping{{Path: "/usr/lib/shared.so"}}
	owners := OwnersByPath(state, selected)

	if len(owners["/usr/lib/shared.so"]) != 2 {
		t.Fatalf("expected both a and b credited for the shared mapping, got %d", len(owners["/usr/lib/shared.so"]))
	}
	if _, ok := owners["/usr/lib/other.so"]; ok {
		t.Fatal("expected an unselected path to not appear in owners")
	}
}
