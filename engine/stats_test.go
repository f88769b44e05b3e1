package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ftahirops/preheatd/model"
)

func TestStatsRecordLaunchTallyHitsAndMisses(t *testing.T) {
	s := NewStats(time.Now())
	s.RecordLaunch("/usr/bin/a", true)
	s.RecordLaunch("/usr/bin/b", false)
	s.RecordLaunch("/usr/bin/c", true)

	sum := s.Summarize(model.New(), time.Now())
	if sum.Hits != 2 || sum.Misses != 1 {
		t.Fatalf("expected 2 hits 1 miss, got hits=%d misses=%d", sum.Hits, sum.Misses)
	}
	want := 2.0 / 3.0 * 100
	if sum.HitRate != want {
		t.Fatalf("expected hit rate %g, got %g", want, sum.HitRate)
	}
}

func TestStatsPreloadedFlagsClearedAtCycleStart(t *testing.T) {
	s := NewStats(time.Now())
	s.RecordExePreloaded("/usr/bin/a")
	if !s.Preloaded("/usr/bin/a") {
		t.Fatal("expected /usr/bin/a marked preloaded")
	}
	s.ClearPreloadedFlags()
	if s.Preloaded("/usr/bin/a") {
		t.Fatal("expected preloaded flags cleared")
	}
}

func TestSummarizeSeparatesFamilyMembersFromStandaloneTopApps(t *testing.T) {
	state := model.New()
	a := state.RegisterExe("/usr/bin/a", model.PoolPriority)
	b := state.RegisterExe("/usr/bin/b", model.PoolPriority)
	standalone := state.RegisterExe("/usr/bin/c", model.PoolPriority)
	a.WeightedLaunches, a.RawLaunches = 5, 5
	b.WeightedLaunches, b.RawLaunches = 3, 3
	standalone.WeightedLaunches, standalone.RawLaunches = 1, 1

	state.Families["fam1"] = &model.Family{ID: "fam1", Members: []string{a.Path, b.Path}}

	s := NewStats(time.Now())
	sum := s.Summarize(state, time.Now())

	var sawFamily, sawStandalone, sawMember bool
	for _, app := range sum.TopApps {
		switch app.Name {
		case "fam1":
			sawFamily = true
			if app.Weighted != 8 {
				t.Fatalf("expected family aggregate weighted 8, got %g", app.Weighted)
			}
		case "/usr/bin/c":
			sawStandalone = true
		case "/usr/bin/a", "/usr/bin/b":
			sawMember = true
		}
	}
	if !sawFamily {
		t.Fatal("expected the family to appear in TopApps")
	}
	if !sawStandalone {
		t.Fatal("expected the non-family exe to appear in TopApps")
	}
	if sawMember {
		t.Fatal("expected family members to be excluded from TopApps individually")
	}
}

func TestWriteFileReadStatsFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preheatd.stats")

	sum := Summary{
		UptimeSeconds:        3600,
		PreloadsTotal:        42,
		Hits:                 10,
		Misses:               3,
		HitRate:              76.9,
		AppsTracked:          5,
		PriorityPool:         3,
		ObservationPool:      2,
		TotalBytes:           1024 * 1024 * 12,
		MemoryPressureEvents: 1,
		TopApps: []TopApp{
			{Name: "/usr/bin/a", Weighted: 3.5, Raw: 4, Preloaded: true, Pool: model.PoolPriority},
			{Name: "fam:with:colons", Weighted: 1.25, Raw: 2, Preloaded: false, Pool: model.PoolObservation},
		},
	}

	if err := WriteFile(path, sum); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := ReadStatsFile(path)
	if err != nil {
		t.Fatalf("ReadStatsFile failed: %v", err)
	}

	if got.UptimeSeconds != sum.UptimeSeconds || got.PreloadsTotal != sum.PreloadsTotal {
		t.Fatalf("counters did not round-trip: got %+v", got)
	}
	if len(got.TopApps) != 2 {
		t.Fatalf("expected 2 top apps, got %d", len(got.TopApps))
	}
	if got.TopApps[0].Name != "/usr/bin/a" || got.TopApps[0].Raw != 4 || !got.TopApps[0].Preloaded {
		t.Fatalf("unexpected first top app: %+v", got.TopApps[0])
	}
	if got.TopApps[1].Name != "fam:with:colons" {
		t.Fatalf("expected a name containing colons to survive parsing from the right, got %q", got.TopApps[1].Name)
	}
}

func TestParseTopAppRejectsTooFewFields(t *testing.T) {
	if _, ok := parseTopApp("nameonly"); ok {
		t.Fatal("expected parseTopApp to reject a malformed entry")
	}
}
