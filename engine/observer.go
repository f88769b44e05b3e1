package engine

import (
	"log"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ftahirops/preheatd/config"
	"github.com/ftahirops/preheatd/identity"
	"github.com/ftahirops/preheatd/model"
	"github.com/ftahirops/preheatd/scanner"
)

// userInitiatedParents is the small whitelist of shell/terminal/desktop-
// launcher basenames whose children are considered user-initiated.
// Cron/anacron/init-style supervisors are excluded by omission, not by
// a negative list.
var userInitiatedParents = map[string]bool{
	"bash": true, "zsh": true, "fish": true, "sh": true, "dash": true,
	"gnome-terminal-server": true, "konsole": true, "xterm": true,
	"alacritty": true, "kitty": true, "tmux": true, "tmux: server": true,
	"gnome-shell": true, "plasmashell": true, "kwin_x11": true, "kwin_wayland": true,
	"systemd-user": false, // present to document the exclusion explicitly
}

func isUserInitiatedParent(comm string) bool {
	return userInitiatedParents[comm]
}

// Observer implements the two-phase scan: ScanPhase runs
// at t=0 of a cycle and marks the running set; UpdatePhase runs at
// t=cycle/2 and evaluates newcomers, drives Markov transitions, and
// performs time accounting.
type Observer struct {
	Scanner    scanner.Scanner
	ManualApps []string

	// OnLaunch is invoked for every user-initiated launch of a tracked
	// exe, wired to the statistics counters for hit/miss accounting. May be nil.
	// Preloaded reports whether a recent readahead dispatch covered one
	// of exePath's mappings (the page cache itself is not queried); nil
	// is treated as "never preloaded" (always a miss).
	OnLaunch  func(exePath string, hit bool)
	Preloaded func(exePath string) bool
}

// ScanResult carries the bookkeeping produced by one ScanPhase call that
// UpdatePhase needs later in the same cycle.
type ScanResult struct {
	StateChanged []*model.Exe
	// PendingNew maps an unseen, sanitize-accepted path to one PID that
	// was observed running it, to be re-probed in the update phase.
	PendingNew map[string]int
}

// ScanPhase runs at t=0 of a cycle: it walks the process list and
// marks the running set.
func (o *Observer) ScanPhase(state *model.State, cfg *config.Config) (*ScanResult, error) {
	procs, err := o.Scanner.ListProcesses()
	if err != nil {
		log.Printf("preheatd: observer: scan phase skipped: %v", err)
		return &ScanResult{PendingNew: map[string]int{}}, nil
	}

	res := &ScanResult{PendingNew: make(map[string]int)}
	var running []*model.Exe
	seenPaths := make(map[string]bool)

	for _, proc := range procs {
		path, ok := scanner.Sanitize(proc.ExePath)
		if !ok {
			continue
		}
		if !cfg.System.ExePrefix.Allows(path) {
			continue
		}
		seenPaths[path] = true

		e := state.FindExe(path)
		if e == nil {
			if _, queued := res.PendingNew[path]; !queued {
				if _, bad := state.BadExes[path]; !bad {
					res.PendingNew[path] = proc.PID
				}
			}
			continue
		}

		wasRunning := e.IsRunning(state.LastRunningTimestamp)
		e.RunningTimestamp = state.Time
		running = append(running, e)
		if !wasRunning {
			res.StateChanged = append(res.StateChanged, e)
		}

		o.trackPID(e, cfg, proc, state.Time)
	}

	// Exes that were running but are no longer seen: state_changed only,
	// dropped from the running list by omission above.
	for _, e := range state.Exes() {
		wasRunning := e.IsRunning(state.LastRunningTimestamp)
		if wasRunning && !seenPaths[e.Path] {
			res.StateChanged = append(res.StateChanged, e)
		}
		o.reapDeadPIDs(e, procs, state.Time)
	}

	state.Running = running
	state.LastRunningTimestamp = state.Time
	return res, nil
}

// trackPID records a new RunningPID instance (with user-initiated
// classification) or accumulates weighted-launch credit for one already
// tracked.
func (o *Observer) trackPID(e *model.Exe, cfg *config.Config, proc scanner.ProcessInfo, now int64) {
	if rp, ok := e.RunningPIDs[proc.PID]; ok {
		dt := float64(now - rp.LastWeightAt.Unix())
		duration := now - rp.Start.Unix()
		penalty := 1.0
		if duration < 5 {
			penalty = 0.3
		}
		mult := 1.0
		if rp.UserInitiated {
			mult = cfg.Model.UserMultiplier
		}
		e.WeightedLaunches += math.Log(1+dt/cfg.Model.Divisor) * mult * penalty
		rp.LastWeightAt = time.Unix(now, 0)
		return
	}

	comm, _ := o.Scanner.Comm(proc.ParentPID)
	userInitiated := isUserInitiatedParent(comm)
	if !userInitiated && identity.HasDesktopEntry(e.Path) {
		// Fallback for sandboxed launchers whose immediate parent is a
		// container supervisor.
		userInitiated = true
	}

	e.RunningPIDs[proc.PID] = &model.RunningPID{
		PID:           proc.PID,
		ParentPID:     proc.ParentPID,
		Start:         time.Unix(now, 0),
		LastWeightAt:  time.Unix(now, 0),
		UserInitiated: userInitiated,
	}

	if userInitiated {
		e.RawLaunches++
		if o.OnLaunch != nil {
			hit := o.Preloaded != nil && o.Preloaded(e.Path)
			o.OnLaunch(e.Path, hit)
		}
	}
}

// reapDeadPIDs removes RunningPID entries for PIDs no longer present in
// the latest process list, crediting their elapsed duration.
func (o *Observer) reapDeadPIDs(e *model.Exe, procs []scanner.ProcessInfo, now int64) {
	live := make(map[int]bool, len(procs))
	for _, p := range procs {
		if p.ExePath == e.Path {
			live[p.PID] = true
		}
	}
	for pid, rp := range e.RunningPIDs {
		if live[pid] {
			continue
		}
		e.TotalDurationSec += now - rp.Start.Unix()
		delete(e.RunningPIDs, pid)
	}
}

// UpdatePhase runs at t=cycle/2: it evaluates newcomers, drives Markov
// transitions, and performs time accounting.
func (o *Observer) UpdatePhase(state *model.State, cfg *config.Config, scan *ScanResult) {
	for path, pid := range scan.PendingNew {
		o.evaluateNewcomer(state, cfg, path, pid)
	}

	for _, e := range scan.StateChanged {
		e.StateChangeTimestamp = state.Time
		running := e.IsRunning(state.LastRunningTimestamp)
		for _, m := range e.Markovs {
			other := m.Other(e)
			otherRunning := other.IsRunning(state.LastRunningTimestamp)
			var aRunning, bRunning bool
			if m.A == e {
				aRunning, bRunning = running, otherRunning
			} else {
				aRunning, bRunning = otherRunning, running
			}
			MarkovStateChanged(m, state.Time, aRunning, bRunning)
		}
	}

	period := state.Time - state.LastAccountingTimestamp
	if period > 0 {
		for _, e := range state.Running {
			e.TotalRuntimeSec += period
		}
		for _, e := range state.Exes() {
			for _, m := range e.Markovs {
				if m.A == e && m.State == model.MarkovBoth {
					m.CoObservationTime += period
				}
			}
		}
	}
	state.LastAccountingTimestamp = state.Time

	state.Time += int64(cfg.Model.CycleSec) / 2
	state.ModelDirty = false
}

// evaluateNewcomer re-queries the scanner for pid's mapped size; if it
// clears minsize, the exe is registered along with one ExeMap per
// accepted region.
func (o *Observer) evaluateNewcomer(state *model.State, cfg *config.Config, path string, pid int) {
	size, err := o.Scanner.MapSize(pid)
	if err != nil || size < cfg.Model.MinSize {
		state.BadExes[path] = &model.BadExe{Path: path, ObservedSize: size, UpdateTime: state.Time}
		return
	}

	regions, err := o.Scanner.Regions(pid)
	if err != nil {
		state.BadExes[path] = &model.BadExe{Path: path, ObservedSize: size, UpdateTime: state.Time}
		return
	}

	pool := identity.Classify(path, o.ManualApps, &cfg.System)
	e := state.RegisterExe(path, pool)
	for _, r := range regions {
		if !cfg.System.MapPrefix.Allows(r.Path) {
			continue
		}
		state.AddExeMap(e, r.Path, r.Offset, r.Length, defaultExeMapProb(r, path))
	}
	e.RunningTimestamp = state.Time
	state.Running = append(state.Running, e)

	if pool == model.PoolPriority {
		o.proposeFamily(state, path)
	}
}

// proposeFamily checks a newly-registered priority-pool exe against every
// other tracked priority-pool exe for an ESR-style variant relationship. A
// match joins path into the other exe's existing Family, or creates a new
// one with a generated ID if neither is a member of one yet.
func (o *Observer) proposeFamily(state *model.State, path string) {
	for _, other := range state.PriorityExes() {
		if other.Path == path || !identity.ProposeFamily(path, other.Path) {
			continue
		}

		if f := state.FamilyFor(other.Path); f != nil {
			if !f.HasMember(path) {
				f.Members = append(f.Members, path)
			}
			return
		}

		id := uuid.NewString()
		state.Families[id] = &model.Family{
			ID:      id,
			Members: []string{other.Path, path},
			Method:  model.DiscoveryAutoESRVariant,
		}
		return
	}
}

// defaultExeMapProb seeds a newly-observed ExeMap's static probability:
// 1.0 for the exe's own binary image (always touched when it runs), 0.5
// for everything else until enough observations accrue to refine it.
// preheatd does not refine this estimate online.
func defaultExeMapProb(r scanner.Region, exePath string) float64 {
	if filepath.Clean(r.Path) == filepath.Clean(exePath) {
		return 1.0
	}
	return 0.5
}
