package engine

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/ftahirops/preheatd/config"
	"github.com/ftahirops/preheatd/model"
)

// Budget computes the readahead budget in kilobytes from a memory
// snapshot and the configured percentages.
func Budget(mem model.MemorySnapshot, cfg config.ModelConfig) uint64 {
	avail := pctOf(cfg.MemTotalPct, mem.TotalKB) + pctOf(cfg.MemFreePct, mem.FreeKB)
	if avail < 0 {
		avail = 0
	}
	avail += pctOf(cfg.MemCachedPct, mem.CachedKB)
	if avail < 0 {
		return 0
	}
	return uint64(avail)
}

func pctOf(pct int, total uint64) int64 {
	if pct > 100 {
		pct = 100
	}
	if pct < -100 {
		pct = -100
	}
	return int64(pct) * int64(total) / 100
}

// Select walks maps in lnprob-ascending order, taking while lnprob < 0
// and the map fits the remaining budget; it stops at the first map that
// doesn't fit or whose lnprob >= 0.
func Select(sorted []*model.Mapping, budgetKB uint64) []*model.Mapping {
	var out []*model.Mapping
	avail := budgetKB
	for _, m := range sorted {
		if m.LnProb >= 0 {
			break
		}
		size := m.SizeKB()
		if size > avail {
			break
		}
		out = append(out, m)
		avail -= size
	}
	return out
}

// window is one merged, dispatch-ready file region.
type window struct {
	Path   string
	Offset uint64
	Length uint64
}

// Reporter receives readahead completion events, wired to the statistics counters.
type Reporter interface {
	RecordPreload(path string)
	RecordExePreloaded(exePath string)
}

// Dispatcher drives stage 1 (sort) through stage 3 (dispatch) of
// readahead dispatch over a selected map list.
type Dispatcher struct {
	Strategy config.SortStrategy
	MaxProcs int
	Reporter Reporter

	mu sync.Mutex
}

// NewDispatcher returns a Dispatcher for the given sort strategy and
// bounded-parallelism degree.
func NewDispatcher(strategy config.SortStrategy, maxProcs int, reporter Reporter) *Dispatcher {
	return &Dispatcher{Strategy: strategy, MaxProcs: maxProcs, Reporter: reporter}
}

// Run sorts, merges, and dispatches selected, crediting the exes that
// ownersByPath lists for each dispatched path (so the Reporter's
// "exe preloaded" events fire correctly).
func (d *Dispatcher) Run(ctx context.Context, selected []*model.Mapping, ownersByPath map[string][]*model.Exe) {
	ordered := d.sort(selected)
	windows := mergeWindows(ordered)
	d.dispatch(ctx, windows, ownersByPath)
}

func (d *Dispatcher) sort(maps []*model.Mapping) []*model.Mapping {
	out := make([]*model.Mapping, len(maps))
	copy(out, maps)

	switch d.Strategy {
	case config.SortNone:
		return out
	case config.SortPath:
		sortByPath(out)
		return out
	case config.SortInode, config.SortBlock:
		sortByPath(out)
		d.populateHints(out)
		sort.SliceStable(out, func(i, j int) bool {
			hi, hj := d.hintFor(out[i]), d.hintFor(out[j])
			if hi.Block != hj.Block {
				return hi.Block < hj.Block
			}
			return lessPath(out[i], out[j])
		})
		sortByPath(out) // final path-only re-sort
		return out
	default:
		sortByPath(out)
		return out
	}
}

func sortByPath(out []*model.Mapping) {
	sort.SliceStable(out, func(i, j int) bool { return lessPath(out[i], out[j]) })
}

func lessPath(a, b *model.Mapping) bool {
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	if a.Offset != b.Offset {
		return a.Offset < b.Offset
	}
	return a.Length > b.Length
}

// populateHints fills the physical-block hint for any map whose hint is
// unknown. preheatd has no portable FIBMAP equivalent wired, so both
// "inode" and "block" strategies key on the inode number.
func (d *Dispatcher) populateHints(maps []*model.Mapping) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range maps {
		if m.Hint.Known {
			continue
		}
		ino, err := inodeOf(m.Path)
		if err != nil {
			continue
		}
		m.Hint = model.BlockHint{Known: true, Block: ino}
	}
}

func (d *Dispatcher) hintFor(m *model.Mapping) model.BlockHint {
	return m.Hint
}

func inodeOf(path string) (uint64, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return 0, err
	}
	return st.Ino, nil
}

// mergeWindows coalesces adjacent or overlapping mappings in the same
// file into a single contiguous prefetch window.
func mergeWindows(sorted []*model.Mapping) []window {
	var out []window
	for _, m := range sorted {
		if n := len(out); n > 0 {
			cur := &out[n-1]
			if cur.Path == m.Path && m.Offset <= cur.Offset+cur.Length {
				if end := m.Offset + m.Length; end > cur.Offset+cur.Length {
					cur.Length = end - cur.Offset
				}
				continue
			}
		}
		out = append(out, window{Path: m.Path, Offset: m.Offset, Length: m.Length})
	}
	return out
}

// dispatch issues the readahead syscall for each window. With MaxProcs > 0, windows run on a
// goroutine pool bounded by a weighted semaphore; with MaxProcs == 0,
// synchronously in the calling goroutine. Go cannot safely fork a bare
// child in a multi-threaded runtime, so the bounded-subprocess design of
// the original daemon is reexpressed here as bounded concurrency rather
// than bounded parallel processes (see DESIGN.md).
func (d *Dispatcher) dispatch(ctx context.Context, windows []window, ownersByPath map[string][]*model.Exe) {
	if d.MaxProcs <= 0 {
		for _, w := range windows {
			d.prefetchOne(w, ownersByPath)
		}
		return
	}

	sem := semaphore.NewWeighted(int64(d.MaxProcs))
	var wg sync.WaitGroup
	for _, w := range windows {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(w window) {
			defer wg.Done()
			defer sem.Release(1)
			d.prefetchOne(w, ownersByPath)
		}(w)
	}
	wg.Wait()
}

// prefetchOne opens path read-only with symlink-following and
// atime-update disabled, issues a willneed advisory over [offset,
// offset+length), and reports the event. Any open error is silently
// skipped: it is not fatal to the daemon.
func (d *Dispatcher) prefetchOne(w window, ownersByPath map[string][]*model.Exe) {
	flags := os.O_RDONLY | unix.O_NOFOLLOW
	if hasNoAtime() {
		flags |= unix.O_NOATIME
	}
	f, err := os.OpenFile(w.Path, flags, 0)
	if err != nil {
		return
	}
	defer f.Close()

	if err := unix.Fadvise(int(f.Fd()), int64(w.Offset), int64(w.Length), unix.FADV_WILLNEED); err != nil {
		log.Printf("preheatd: readahead: fadvise %s: %v", w.Path, err)
		return
	}
	log.Printf("preheatd: readahead: prefetched %s (%s)", w.Path, humanize.Bytes(w.Length))

	if d.Reporter != nil {
		d.Reporter.RecordPreload(w.Path)
		for _, e := range ownersByPath[w.Path] {
			d.Reporter.RecordExePreloaded(e.Path)
		}
	}
}

// hasNoAtime reports whether O_NOATIME is safe to request. Unprivileged
// callers may only use it on files they own; preheatd best-effort tries
// it and lets prefetchOne's open-error path absorb an EPERM.
func hasNoAtime() bool { return true }

// OwnersByPath indexes every ExeMap referencing path, across all tracked
// exes, so the dispatcher can credit the right exes on a hit.
func OwnersByPath(state *model.State, selected []*model.Mapping) map[string][]*model.Exe {
	paths := make(map[string]bool, len(selected))
	for _, m := range selected {
		paths[m.Path] = true
	}
	owners := make(map[string][]*model.Exe)
	for _, e := range state.Exes() {
		for _, xm := range e.ExeMaps {
			if paths[xm.Map.Path] {
				owners[xm.Map.Path] = append(owners[xm.Map.Path], e)
			}
		}
	}
	return owners
}
