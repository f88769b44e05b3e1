package engine

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ftahirops/preheatd/model"
)

// Stats is the in-process counter set plus one small per-app table: a
// was-recently-preloaded flag per tracked exe. Per-exe launch counts are
// not kept here; they live on model.Exe.
// Counters are atomics so Observer/Dispatcher can update them from
// whichever goroutine calls them without taking a lock; the per-app
// table is guarded by one mutex since it's only touched from the daemon's
// single event-loop goroutine, the dispatch goroutines, and occasional dumps.
type Stats struct {
	start time.Time

	preloadsTotal        atomic.Uint64
	hits                 atomic.Uint64
	misses               atomic.Uint64
	memoryPressureEvents atomic.Uint64

	mu        sync.Mutex
	preloaded map[string]bool
}

// NewStats returns a Stats with its uptime clock started now.
func NewStats(start time.Time) *Stats {
	return &Stats{
		start:     start,
		preloaded: make(map[string]bool),
	}
}

// RecordLaunch implements the Observer.OnLaunch callback: classifies a
// user-initiated launch as a hit or miss. Per-exe launch counts
// themselves live on model.Exe (WeightedLaunches/RawLaunches), not here.
func (s *Stats) RecordLaunch(exePath string, hit bool) {
	if hit {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
}

// Preloaded implements the Observer.Preloaded predicate.
func (s *Stats) Preloaded(exePath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preloaded[exePath]
}

// RecordPreload implements readahead.Reporter: one prefetch window was
// dispatched for path.
func (s *Stats) RecordPreload(path string) {
	s.preloadsTotal.Add(1)
}

// RecordExePreloaded implements readahead.Reporter: exePath owns an
// ExeMap referencing a just-dispatched path, so its next launch should
// count as a hit.
func (s *Stats) RecordExePreloaded(exePath string) {
	s.mu.Lock()
	s.preloaded[exePath] = true
	s.mu.Unlock()
}

// ClearPreloadedFlags resets the was-recently-preloaded table at the
// start of a new cycle, so a hit can only be credited to a preload that
// happened since the last scan.
func (s *Stats) ClearPreloadedFlags() {
	s.mu.Lock()
	s.preloaded = make(map[string]bool)
	s.mu.Unlock()
}

// RecordMemoryPressure tallies one memory-pressure event (a cycle where
// the computed budget was clamped to zero or below).
func (s *Stats) RecordMemoryPressure() {
	s.memoryPressureEvents.Add(1)
}

// TopApp is one row of the top-N-by-family-then-by-exe ranking.
type TopApp struct {
	Name      string
	Weighted  float64
	Raw       uint64
	Preloaded bool
	Pool      model.Pool
}

// Summary is the derived snapshot produced on a "dump statistics"
// request.
type Summary struct {
	UptimeSeconds        int64
	PreloadsTotal        uint64
	Hits                 uint64
	Misses               uint64
	HitRate              float64
	AppsTracked          int
	PriorityPool         int
	ObservationPool      int
	TotalBytes           uint64
	MemoryPressureEvents uint64
	TopApps              []TopApp
}

const topAppLimit = 20

// Summarize computes a Summary from the current state and counters.
func (s *Stats) Summarize(state *model.State, now time.Time) Summary {
	state.RecomputeFamilyAggregates()

	hits := s.hits.Load()
	misses := s.misses.Load()
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses) * 100
	}

	sum := Summary{
		UptimeSeconds:        int64(now.Sub(s.start).Seconds()),
		PreloadsTotal:        s.preloadsTotal.Load(),
		Hits:                 hits,
		Misses:               misses,
		HitRate:              hitRate,
		MemoryPressureEvents: s.memoryPressureEvents.Load(),
	}

	familyMembers := make(map[string]bool)
	for _, f := range state.Families {
		for _, m := range f.Members {
			familyMembers[m] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range state.Exes() {
		sum.AppsTracked++
		if e.Pool == model.PoolPriority {
			sum.PriorityPool++
		} else {
			sum.ObservationPool++
		}
		sum.TotalBytes += e.Size
	}

	var top []TopApp
	for _, f := range state.Families {
		top = append(top, TopApp{Name: f.ID, Weighted: f.WeightedLaunches, Raw: f.RawLaunches})
	}
	for _, e := range state.PriorityExes() {
		if familyMembers[e.Path] {
			continue
		}
		top = append(top, TopApp{
			Name: e.Path, Weighted: e.WeightedLaunches, Raw: e.RawLaunches,
			Preloaded: s.preloaded[e.Path], Pool: e.Pool,
		})
	}
	sort.Slice(top, func(i, j int) bool { return top[i].Weighted > top[j].Weighted })
	if len(top) > topAppLimit {
		top = top[:topAppLimit]
	}
	sum.TopApps = top
	return sum
}

// WriteFile renders sum as the key=value statistics file at path,
// opened with symlink-following disabled and replaced atomically.
func WriteFile(path string, sum Summary) error {
	var b []byte
	b = appendKV(b, "uptime_seconds", sum.UptimeSeconds)
	b = appendKV(b, "preloads_total", sum.PreloadsTotal)
	b = appendKV(b, "hits", sum.Hits)
	b = appendKV(b, "misses", sum.Misses)
	b = appendKV(b, "hit_rate", fmt.Sprintf("%.1f", sum.HitRate))
	b = appendKV(b, "apps_tracked", sum.AppsTracked)
	b = appendKV(b, "priority_pool", sum.PriorityPool)
	b = appendKV(b, "observation_pool", sum.ObservationPool)
	b = appendKV(b, "total_preloaded_mb", fmt.Sprintf("%.1f", float64(sum.TotalBytes)/(1024*1024)))
	b = appendKV(b, "memory_pressure_events", sum.MemoryPressureEvents)
	for i, app := range sum.TopApps {
		preloaded := 0
		if app.Preloaded {
			preloaded = 1
		}
		b = appendKV(b, fmt.Sprintf("top_app_%d", i+1),
			fmt.Sprintf("%s:%g:%d:%d:%d", app.Name, app.Weighted, app.Raw, preloaded, app.Pool))
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|syscall.O_NOFOLLOW, 0644)
	if err != nil {
		return fmt.Errorf("open temp stats file: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp stats file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp stats file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp stats file: %w", err)
	}
	return nil
}

func appendKV(b []byte, key string, value interface{}) []byte {
	return append(b, []byte(fmt.Sprintf("%s=%v\n", key, value))...)
}

// ReadStatsFile parses the key=value statistics file written by
// WriteFile, for preheatctl's stats/apps/watch subcommands.
func ReadStatsFile(path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("read stats file: %w", err)
	}

	var sum Summary
	top := make(map[int]TopApp)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch {
		case key == "uptime_seconds":
			sum.UptimeSeconds, _ = strconv.ParseInt(val, 10, 64)
		case key == "preloads_total":
			sum.PreloadsTotal, _ = strconv.ParseUint(val, 10, 64)
		case key == "hits":
			sum.Hits, _ = strconv.ParseUint(val, 10, 64)
		case key == "misses":
			sum.Misses, _ = strconv.ParseUint(val, 10, 64)
		case key == "hit_rate":
			sum.HitRate, _ = strconv.ParseFloat(val, 64)
		case key == "apps_tracked":
			n, _ := strconv.Atoi(val)
			sum.AppsTracked = n
		case key == "priority_pool":
			n, _ := strconv.Atoi(val)
			sum.PriorityPool = n
		case key == "observation_pool":
			n, _ := strconv.Atoi(val)
			sum.ObservationPool = n
		case key == "total_preloaded_mb":
			mb, _ := strconv.ParseFloat(val, 64)
			sum.TotalBytes = uint64(mb * 1024 * 1024)
		case key == "memory_pressure_events":
			sum.MemoryPressureEvents, _ = strconv.ParseUint(val, 10, 64)
		case strings.HasPrefix(key, "top_app_"):
			idx, err := strconv.Atoi(strings.TrimPrefix(key, "top_app_"))
			if err != nil {
				continue
			}
			app, ok := parseTopApp(val)
			if ok {
				top[idx] = app
			}
		}
	}

	indices := make([]int, 0, len(top))
	for i := range top {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		sum.TopApps = append(sum.TopApps, top[i])
	}
	return sum, nil
}

// parseTopApp reverses the "name:weighted:raw:preloaded:pool" encoding
// WriteFile emits. Name may itself contain ":" (an absolute path never
// does on Linux, but a family ID is free-form), so only the last four
// fields are split off from the right.
func parseTopApp(s string) (TopApp, bool) {
	parts := strings.Split(s, ":")
	if len(parts) < 5 {
		return TopApp{}, false
	}
	n := len(parts)
	name := strings.Join(parts[:n-4], ":")
	weighted, err1 := strconv.ParseFloat(parts[n-4], 64)
	raw, err2 := strconv.ParseUint(parts[n-3], 10, 64)
	preloaded, err3 := strconv.Atoi(parts[n-2])
	pool, err4 := strconv.Atoi(parts[n-1])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return TopApp{}, false
	}
	return TopApp{
		Name: name, Weighted: weighted, Raw: raw,
		Preloaded: preloaded != 0, Pool: model.Pool(pool),
	}, true
}
