package model

import (
	"sort"
	"time"
)

// MemorySnapshot is the last-sampled (total, free, cached) memory reading
// in kilobytes, as produced by the external /proc scanner's memory
// statistics callback.
type MemorySnapshot struct {
	TotalKB  uint64
	FreeKB   uint64
	CachedKB uint64
}

// BadExe records an executable whose observed mapped size fell below the
// preload threshold. Never persisted across restarts: persist.Save clears
// this table after every successful save, and persist.Load never reads
// BADEXE records back.
type BadExe struct {
	Path         string
	ObservedSize uint64
	UpdateTime   int64
}

// State is the process-wide singleton object graph: the map table, the
// exe table, the bad-exe table, families, the running-exe list, and the
// bookkeeping needed to drive one scan/update/predict/readahead cycle.
//
// State is touched only from the single daemon goroutine;
// it holds no mutex, by design, not by oversight.
type State struct {
	maps    map[MappingKey]*Mapping
	mapList []*Mapping // parallel sortable array; membership == maps

	exes map[string]*Exe

	BadExes map[string]*BadExe

	Families map[string]*Family

	// Running is the current running-exe list, replaced wholesale at the
	// end of every scan phase.
	Running []*Exe

	mapSeq uint64
	exeSeq uint64

	// Time is the logical cumulative daemon-running-seconds counter,
	// distinct from wall-clock time.
	Time int64

	LastRunningTimestamp    int64
	LastAccountingTimestamp int64

	Dirty      bool // needs save
	ModelDirty bool // update phase pending

	Memory MemorySnapshot
}

// New returns an empty State ready for first-run seeding.
func New() *State {
	return &State{
		maps:     make(map[MappingKey]*Mapping),
		exes:     make(map[string]*Exe),
		BadExes:  make(map[string]*BadExe),
		Families: make(map[string]*Family),
	}
}

// ---- Mapping table ----------------------------------------------------

// FindMapping looks up a Mapping by value equality on (path, offset,
// length). Returns nil if not registered (refcount 0 mappings are not
// kept around).
func (s *State) FindMapping(path string, offset, length uint64) *Mapping {
	return s.maps[MappingKey{Path: path, Offset: offset, Length: length}]
}

// Maps returns the sortable array of all registered mappings. Callers may
// sort this slice in place (the predictor does); State.maps and State.mapList are
// kept consistent by AddExeMap/RemoveExeMap, never by callers mutating
// membership directly.
func (s *State) Maps() []*Mapping {
	return s.mapList
}

func (s *State) nextMapSeq() uint64 {
	s.mapSeq++
	return s.mapSeq
}

// registerMapping inserts m into both the map table and the sortable
// array. Called only when a Mapping's refcount rises from 0 to 1.
func (s *State) registerMapping(m *Mapping) {
	s.maps[m.Key()] = m
	s.mapList = append(s.mapList, m)
}

// unregisterMapping removes m from both structures. Called only when a
// Mapping's refcount drops to 0.
func (s *State) unregisterMapping(m *Mapping) {
	delete(s.maps, m.Key())
	for i, mm := range s.mapList {
		if mm == m {
			s.mapList = append(s.mapList[:i], s.mapList[i+1:]...)
			break
		}
	}
}

// ---- Exe table ----------------------------------------------------

// Exes returns every tracked Exe.
func (s *State) Exes() map[string]*Exe {
	return s.exes
}

// FindExe looks up a tracked Exe by absolute path.
func (s *State) FindExe(path string) *Exe {
	return s.exes[path]
}

// RegisterExe creates and tracks a new Exe at path. If the exe is
// classified into the priority pool, a Markov chain is created against
// every other priority-pool exe already registered (the mesh is complete
// over the priority pool only; observation-pool exes participate in no
// chains). Returns the existing Exe unchanged if path is already tracked.
func (s *State) RegisterExe(path string, pool Pool) *Exe {
	if e, ok := s.exes[path]; ok {
		return e
	}
	e := newExe(path, s.nextExeSeq())
	e.Pool = pool
	s.exes[path] = e

	if pool == PoolPriority {
		for _, other := range s.exes {
			if other == e || other.Pool != PoolPriority {
				continue
			}
			m := NewMarkov(e, other)
			e.Markovs[other] = m
			other.Markovs[e] = m
		}
	}
	return e
}

func (s *State) nextExeSeq() uint64 {
	s.exeSeq++
	return s.exeSeq
}

// SeedSequences raises the map/exe sequence counters to at least the
// given floors. Used after loading a persisted state file, whose
// records carry their own sequence numbers, so freshly-registered
// objects never reuse a restored sequence number.
func (s *State) SeedSequences(mapSeq, exeSeq uint64) {
	if mapSeq > s.mapSeq {
		s.mapSeq = mapSeq
	}
	if exeSeq > s.exeSeq {
		s.exeSeq = exeSeq
	}
}

// RemoveExe tears down e: every Markov it participates in is detached
// from its other endpoint and dropped, then every ExeMap it owns is
// released (dropping now-unreferenced Mappings), then e itself is
// removed from the exe table.
func (s *State) RemoveExe(e *Exe) {
	for other, m := range e.Markovs {
		delete(other.Markovs, e)
		_ = m
	}
	e.Markovs = nil

	for key := range e.ExeMaps {
		s.RemoveExeMap(e, key)
	}

	delete(s.exes, e.Path)
}

// AddExeMap creates (or overwrites the probability of) an association
// between e and the mapping identified by (path, offset, length),
// registering the Mapping in the global table if this is its first
// reference.
func (s *State) AddExeMap(e *Exe, path string, offset, length uint64, prob float64) *ExeMap {
	key := MappingKey{Path: path, Offset: offset, Length: length}
	m, ok := s.maps[key]
	if !ok {
		m = &Mapping{Path: path, Offset: offset, Length: length, Seq: s.nextMapSeq()}
	}
	if existing, ok := e.ExeMaps[key]; ok {
		existing.Prob = prob
		return existing
	}
	if m.RefCount == 0 {
		s.registerMapping(m)
	}
	m.RefCount++
	xm := &ExeMap{Exe: e, Map: m, Prob: prob}
	e.ExeMaps[key] = xm
	e.Size += length
	return xm
}

// RestoreExeMap is AddExeMap's counterpart for loading a persisted
// state file: m already carries its restored Seq/LastProbed/Hint and
// must not be reconstructed, only (re)registered and ref-counted.
func (s *State) RestoreExeMap(e *Exe, m *Mapping, prob float64) *ExeMap {
	key := m.Key()
	if existing, ok := e.ExeMaps[key]; ok {
		existing.Prob = prob
		return existing
	}
	if registered, ok := s.maps[key]; ok {
		m = registered
	} else {
		s.registerMapping(m)
	}
	m.RefCount++
	xm := &ExeMap{Exe: e, Map: m, Prob: prob}
	e.ExeMaps[key] = xm
	e.Size += m.Length
	return xm
}

// RemoveExeMap drops e's association with the mapping keyed by key,
// decrementing its refcount and unregistering it if the refcount reaches
// zero.
func (s *State) RemoveExeMap(e *Exe, key MappingKey) {
	xm, ok := e.ExeMaps[key]
	if !ok {
		return
	}
	delete(e.ExeMaps, key)
	e.Size -= xm.Map.Length

	xm.Map.RefCount--
	if xm.Map.RefCount <= 0 {
		s.unregisterMapping(xm.Map)
	}
}

// ---- Families ----------------------------------------------------

// PriorityExes returns every priority-pool exe, sorted by path for
// deterministic iteration (used by statistics top-N and by tests).
func (s *State) PriorityExes() []*Exe {
	var out []*Exe
	for _, e := range s.exes {
		if e.Pool == PoolPriority {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// FamilyFor returns the Family containing path, or nil.
func (s *State) FamilyFor(path string) *Family {
	for _, f := range s.Families {
		if f.HasMember(path) {
			return f
		}
	}
	return nil
}

// RecomputeFamilyAggregates recomputes WeightedLaunches/RawLaunches/
// LastUsed for every family from its member Exes. Aggregation is lazy by
// design: call this immediately before using the fields.
func (s *State) RecomputeFamilyAggregates() {
	for _, f := range s.Families {
		f.WeightedLaunches = 0
		f.RawLaunches = 0
		var last time.Time
		for _, member := range f.Members {
			e := s.exes[member]
			if e == nil {
				continue
			}
			f.WeightedLaunches += e.WeightedLaunches
			f.RawLaunches += e.RawLaunches
			if e.LastProbed.After(last) {
				last = e.LastProbed
			}
		}
		f.LastUsed = last
	}
}

// EvictStale removes any Exe with WeightedLaunches <= threshold and a
// RunningTimestamp older than olderThan daemon-seconds, tearing down its
// Markov chains along with it: an evicted Exe's co-occurrence history
// has no surviving endpoint to mean anything for, so eviction takes the
// whole chain rather than leaving it dangling.
func (s *State) EvictStale(threshold float64, olderThanSec int64) []string {
	var evicted []string
	cutoff := s.Time - olderThanSec
	for path, e := range s.exes {
		if e.WeightedLaunches <= threshold && e.RunningTimestamp < cutoff {
			evicted = append(evicted, path)
		}
	}
	for _, path := range evicted {
		s.RemoveExe(s.exes[path])
	}
	return evicted
}
