package model

import "testing"

func TestRegisterExeBuildsCompleteMeshOverPriorityPoolOnly(t *testing.T) {
	s := New()
	a := s.RegisterExe("/usr/bin/a", PoolPriority)
	b := s.RegisterExe("/usr/bin/b", PoolPriority)
	obs := s.RegisterExe("/usr/bin/obs", PoolObservation)

	if _, ok := a.Markovs[b]; !ok {
		t.Fatal("expected a markov chain between two priority-pool exes")
	}
	if _, ok := b.Markovs[a]; !ok {
		t.Fatal("expected the chain to be registered on both endpoints")
	}
	if len(obs.Markovs) != 0 {
		t.Fatalf("observation-pool exe should not participate in any chain, got %d", len(obs.Markovs))
	}
	if len(a.Markovs) != 1 {
		t.Fatalf("priority exe should have exactly one chain (to b), got %d", len(a.Markovs))
	}
}

func TestRegisterExeReturnsExistingOnDuplicatePath(t *testing.T) {
	s := New()
	a := s.RegisterExe("/usr/bin/a", PoolPriority)
	again := s.RegisterExe("/usr/bin/a", PoolObservation)
	if a != again {
		t.Fatal("expected the same *Exe for a path already tracked")
	}
	if again.Pool != PoolPriority {
		t.Fatal("re-registering an existing path must not change its pool")
	}
}

func TestRemoveExeDetachesMarkovsAndReleasesMappings(t *testing.T) {
	s := New()
	a := s.RegisterExe("/usr/bin/a", PoolPriority)
	b := s.RegisterExe("/usr/bin/b", PoolPriority)
	s.AddExeMap(a, "/usr/lib/liba.so", 0, 4096, 1.0)

	if len(s.Maps()) != 1 {
		t.Fatalf("expected 1 registered mapping before removal, got %d", len(s.Maps()))
	}

	s.RemoveExe(a)

	if s.FindExe("/usr/bin/a") != nil {
		t.Fatal("removed exe should no longer be tracked")
	}
	if _, ok := b.Markovs[a]; ok {
		t.Fatal("the surviving endpoint should have its side of the chain detached")
	}
	if len(s.Maps()) != 0 {
		t.Fatalf("mapping referenced only by the removed exe should be unregistered, got %d left", len(s.Maps()))
	}
}

func TestAddExeMapRegistersMappingOnceAndSharesAcrossExes(t *testing.T) {
	s := New()
	a := s.RegisterExe("/usr/bin/a", PoolPriority)
	b := s.RegisterExe("/usr/bin/b", PoolPriority)

	s.AddExeMap(a, "/usr/lib/libshared.so", 0, 8192, 0.5)
	s.AddExeMap(b, "/usr/lib/libshared.so", 0, 8192, 0.9)

	if len(s.Maps()) != 1 {
		t.Fatalf("two exes sharing one mapping should register it once, got %d", len(s.Maps()))
	}
	m := s.FindMapping("/usr/lib/libshared.so", 0, 8192)
	if m == nil {
		t.Fatal("expected the shared mapping to be findable")
	}
	if m.RefCount != 2 {
		t.Fatalf("expected refcount 2, got %d", m.RefCount)
	}
}

func TestRemoveExeMapDropsMappingOnlyAtZeroRefcount(t *testing.T) {
	s := New()
	a := s.RegisterExe("/usr/bin/a", PoolPriority)
	b := s.RegisterExe("/usr/bin/b", PoolPriority)
	s.AddExeMap(a, "/usr/lib/libshared.so", 0, 8192, 0.5)
	s.AddExeMap(b, "/usr/lib/libshared.so", 0, 8192, 0.5)

	key := MappingKey{Path: "/usr/lib/libshared.so", Offset: 0, Length: 8192}
	s.RemoveExeMap(a, key)
	if s.FindMapping("/usr/lib/libshared.so", 0, 8192) == nil {
		t.Fatal("mapping should still be registered while b references it")
	}
	s.RemoveExeMap(b, key)
	if s.FindMapping("/usr/lib/libshared.so", 0, 8192) != nil {
		t.Fatal("mapping should be unregistered once its last reference is dropped")
	}
}

func TestEvictStaleRemovesOnlyExesBelowThresholdAndOlderThanCutoff(t *testing.T) {
	s := New()
	s.Time = 1000

	stale := s.RegisterExe("/usr/bin/stale", PoolObservation)
	stale.WeightedLaunches = 0.05
	stale.RunningTimestamp = 100

	fresh := s.RegisterExe("/usr/bin/fresh", PoolObservation)
	fresh.WeightedLaunches = 0.05
	fresh.RunningTimestamp = 999

	heavy := s.RegisterExe("/usr/bin/heavy", PoolObservation)
	heavy.WeightedLaunches = 50
	heavy.RunningTimestamp = 100

	evicted := s.EvictStale(0.1, 500)

	if len(evicted) != 1 || evicted[0] != "/usr/bin/stale" {
		t.Fatalf("expected only /usr/bin/stale evicted, got %v", evicted)
	}
	if s.FindExe("/usr/bin/fresh") == nil {
		t.Fatal("recently-run exe should survive eviction despite low weight")
	}
	if s.FindExe("/usr/bin/heavy") == nil {
		t.Fatal("heavily-used exe should survive eviction despite being old")
	}
}

func TestFamilyForFindsContainingFamily(t *testing.T) {
	s := New()
	s.Families["f1"] = &Family{ID: "f1", Members: []string{"/usr/bin/firefox", "/usr/bin/firefox-esr"}}

	f := s.FamilyFor("/usr/bin/firefox-esr")
	if f == nil || f.ID != "f1" {
		t.Fatalf("expected to find family f1, got %v", f)
	}
	if s.FamilyFor("/usr/bin/unrelated") != nil {
		t.Fatal("expected no family for an untracked path")
	}
}

func TestRecomputeFamilyAggregatesSumsMembersAndTracksLatestUse(t *testing.T) {
	s := New()
	a := s.RegisterExe("/usr/bin/a", PoolPriority)
	b := s.RegisterExe("/usr/bin/b", PoolPriority)
	a.WeightedLaunches, a.RawLaunches = 2.5, 3
	b.WeightedLaunches, b.RawLaunches = 1.5, 2
	a.LastProbed = a.LastProbed.Add(1)
	b.LastProbed = b.LastProbed.Add(2)

	s.Families["f1"] = &Family{ID: "f1", Members: []string{a.Path, b.Path}}
	s.RecomputeFamilyAggregates()

	f := s.Families["f1"]
	if f.WeightedLaunches != 4 {
		t.Fatalf("expected summed weighted launches of 4, got %g", f.WeightedLaunches)
	}
	if f.RawLaunches != 5 {
		t.Fatalf("expected summed raw launches of 5, got %d", f.RawLaunches)
	}
	if !f.LastUsed.Equal(b.LastProbed) {
		t.Fatalf("expected LastUsed to track the more recent member, got %v want %v", f.LastUsed, b.LastProbed)
	}
}

func TestSeedSequencesOnlyRaisesFloors(t *testing.T) {
	s := New()
	s.SeedSequences(10, 20)
	if s.nextMapSeq() != 11 {
		t.Fatalf("expected next map seq 11, got %d", s.nextMapSeq())
	}
	s.SeedSequences(1, 1) // lower than current, must not regress
	if got := s.nextExeSeq(); got <= 20 {
		t.Fatalf("seeding with a lower floor must not roll back the counter, got %d", got)
	}
}

func TestPriorityExesSortedByPath(t *testing.T) {
	s := New()
	s.RegisterExe("/usr/bin/zzz", PoolPriority)
	s.RegisterExe("/usr/bin/aaa", PoolPriority)
	s.RegisterExe("/usr/bin/mmm", PoolObservation)

	out := s.PriorityExes()
	if len(out) != 2 {
		t.Fatalf("expected 2 priority exes, got %d", len(out))
	}
	if out[0].Path != "/usr/bin/aaa" || out[1].Path != "/usr/bin/zzz" {
		t.Fatalf("expected sorted order, got %v, %v", out[0].Path, out[1].Path)
	}
}
