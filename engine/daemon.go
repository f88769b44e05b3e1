package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ftahirops/preheatd/config"
	"github.com/ftahirops/preheatd/model"
	"github.com/ftahirops/preheatd/persist"
	"github.com/ftahirops/preheatd/scanner"
)

// sessionBootWindow is how long after a per-UID runtime directory's
// creation the session-boot boost stays eligible.
const sessionBootWindow = 180 * time.Second

// sessionBootMinAvailPct is the minimum available-memory percentage the
// session-boot boost requires before it fires.
const sessionBootMinAvailPct = 20.0

// evictionPressureExes is the tracked-exe count above which autosave
// evicts stale exes before saving.
const evictionPressureExes = 1500

// evictionThresholdWeighted is the eviction policy's weighted-launch
// floor: an exe at or below this, and older than evictionOlderThan, is
// evicted under pressure.
const evictionThresholdWeighted = 0.1

var evictionOlderThan = int64(30 * 24 * time.Hour / time.Second)

// Daemon is the single event-loop goroutine that owns State and
// drives scan, update, predict, readahead, autosave, and signal handling
// in a fixed order each iteration.
type Daemon struct {
	Scanner  scanner.Scanner
	State    *model.State
	Observer *Observer
	Stats    *Stats

	ConfigPath string
	StateFile  string
	PauseFile  string
	StatsFile  string
	LogPath    string

	ManualApps []string

	preloadTimes        map[string]int64
	sessionBootDeadline time.Time
	logFile             *os.File
}

// NewDaemon wires a Daemon around an already-loaded State and a Scanner.
// ManualApps is loaded from the current configuration's manual-apps file.
func NewDaemon(scn scanner.Scanner, state *model.State, preloadTimes map[string]int64, configPath, stateFile, pauseFile, statsFile, logPath string) *Daemon {
	cfg := config.Current()
	stats := NewStats(time.Now())
	d := &Daemon{
		Scanner:    scn,
		State:      state,
		Stats:      stats,
		ConfigPath: configPath,
		StateFile:  stateFile,
		PauseFile:  pauseFile,
		StatsFile:  statsFile,
		LogPath:    logPath,
		ManualApps: config.LoadManualApps(cfg.System.ManualAppsFile),
	}
	d.preloadTimes = preloadTimes
	if d.preloadTimes == nil {
		d.preloadTimes = make(map[string]int64)
	}
	d.Observer = &Observer{
		Scanner:    scn,
		ManualApps: d.ManualApps,
		OnLaunch:   stats.RecordLaunch,
		Preloaded:  stats.Preloaded,
	}
	d.sessionBootDeadline = detectSessionBootDeadline()
	return d
}

// Run is the event loop. It returns when ctx is cancelled or a TERM/INT
// signal arrives, having attempted one final save.
func (d *Daemon) Run(ctx context.Context) error {
	d.reopenLog()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	cfg := config.Current()
	ticker := newCycleTicker(
		time.Duration(cfg.Model.CycleSec)*time.Second/2,
		time.Duration(cfg.System.AutosaveSec)*time.Second,
	)
	defer ticker.stop()

	log.Printf("preheatd: daemon started (pid=%d, cycle=%ds, autosave=%ds)",
		os.Getpid(), cfg.Model.CycleSec, cfg.System.AutosaveSec)

	var lastScan *ScanResult
	scanDue := true

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				d.reload()
			case syscall.SIGUSR1:
				d.dumpStats()
			case syscall.SIGUSR2:
				d.saveNow()
			case syscall.SIGTERM, syscall.SIGINT:
				d.shutdown()
				return nil
			}

		case <-ticker.cycle.C:
			cfg = config.Current()
			if scanDue {
				lastScan = d.runScan(cfg)
			} else {
				d.runUpdate(ctx, cfg, lastScan)
			}
			scanDue = !scanDue
			ticker.rearmCycle(time.Duration(cfg.Model.CycleSec) * time.Second / 2)

		case <-ticker.autosave.C:
			cfg = config.Current()
			d.autosave(cfg)
			ticker.rearmAutosave(time.Duration(cfg.System.AutosaveSec) * time.Second)
		}
	}
}

func (d *Daemon) runScan(cfg *config.Config) *ScanResult {
	if !cfg.System.DoScan {
		return nil
	}
	res, err := d.Observer.ScanPhase(d.State, cfg)
	if err != nil {
		log.Printf("preheatd: scan: %v", err)
		return nil
	}
	d.State.Dirty = true
	return res
}

func (d *Daemon) runUpdate(ctx context.Context, cfg *config.Config, scan *ScanResult) {
	if cfg.System.DoScan && scan != nil {
		d.Observer.UpdatePhase(d.State, cfg, scan)
		d.State.Dirty = true
	}

	if !cfg.System.DoPredict || d.paused() {
		return
	}
	d.predictAndDispatch(ctx, cfg)
}

func (d *Daemon) predictAndDispatch(ctx context.Context, cfg *config.Config) {
	mem, err := d.Scanner.MemorySnapshot()
	if err != nil {
		log.Printf("preheatd: memory snapshot: %v", err)
		return
	}
	d.State.Memory = model.MemorySnapshot{TotalKB: mem.TotalKB, FreeKB: mem.FreeKB, CachedKB: mem.CachedKB}

	sorted := Predict(d.State, cfg, d.ManualApps)
	if d.sessionBoostActive(mem) {
		sorted = applySessionBoost(d.State, cfg, sorted, defaultSessionBootTopN)
	}

	budget := Budget(d.State.Memory, cfg.Model)
	if budget == 0 {
		d.Stats.RecordMemoryPressure()
	}
	selected := Select(sorted, budget)
	owners := OwnersByPath(d.State, selected)

	d.Stats.ClearPreloadedFlags()
	dispatcher := NewDispatcher(cfg.System.SortStrategy, cfg.System.MaxProcs, d.Stats)
	dispatcher.Run(ctx, selected, owners)

	now := time.Now().Unix()
	for _, m := range selected {
		d.preloadTimes[m.Path] = now
	}
}

func (d *Daemon) sessionBoostActive(mem scanner.Memory) bool {
	if !time.Now().Before(d.sessionBootDeadline) {
		return false
	}
	return availMemPct(mem) >= sessionBootMinAvailPct
}

func availMemPct(mem scanner.Memory) float64 {
	if mem.TotalKB == 0 {
		return 0
	}
	return float64(mem.FreeKB+mem.CachedKB) / float64(mem.TotalKB) * 100
}

// detectSessionBootDeadline uses the modification time of the calling
// user's per-UID runtime directory as a proxy for login time. The
// directory's creation time is not read, so any later change to the
// directory's entries moves the window. A missing directory (e.g. a
// system-wide daemon instance, or a non-systemd-logind host) disables
// the boost entirely: time.Now() is never before the zero Time returned.
func detectSessionBootDeadline() time.Time {
	dir := fmt.Sprintf("/run/user/%d", os.Getuid())
	info, err := os.Stat(dir)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime().Add(sessionBootWindow)
}

func (d *Daemon) autosave(cfg *config.Config) {
	if len(d.State.Exes()) > evictionPressureExes {
		evicted := d.State.EvictStale(evictionThresholdWeighted, evictionOlderThan)
		if len(evicted) > 0 {
			log.Printf("preheatd: autosave: evicted %d stale exes", len(evicted))
		}
	}
	d.saveNow()
}

func (d *Daemon) saveNow() {
	if err := persist.Save(d.StateFile, d.State, d.preloadTimes, time.Now().Unix()); err != nil {
		log.Printf("preheatd: save %s: %v", d.StateFile, err)
		return
	}
	d.State.Dirty = false
}

func (d *Daemon) dumpStats() {
	sum := d.Stats.Summarize(d.State, time.Now())
	log.Printf("preheatd: stats: uptime=%ds preloads=%d hits=%d misses=%d hit_rate=%.1f%% apps=%d (priority=%d observation=%d)",
		sum.UptimeSeconds, sum.PreloadsTotal, sum.Hits, sum.Misses, sum.HitRate,
		sum.AppsTracked, sum.PriorityPool, sum.ObservationPool)
	if err := WriteFile(d.StatsFile, sum); err != nil {
		log.Printf("preheatd: write stats file %s: %v", d.StatsFile, err)
	}
}

func (d *Daemon) reload() {
	config.Reload(d.ConfigPath)
	cfg := config.Current()
	d.ManualApps = config.LoadManualApps(cfg.System.ManualAppsFile)
	d.Observer.ManualApps = d.ManualApps
	d.reopenLog()
}

func (d *Daemon) reopenLog() {
	if d.LogPath == "" {
		return
	}
	f, err := os.OpenFile(d.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("preheatd: reopen log %s: %v", d.LogPath, err)
		return
	}
	old := d.logFile
	log.SetOutput(f)
	d.logFile = f
	if old != nil {
		old.Close()
	}
}

// paused reports whether the pause-gate file disables prediction. The
// file is read-only to the daemon: its absence, an unparsable
// timestamp, or any read error all mean "not paused".
func (d *Daemon) paused() bool {
	data, err := os.ReadFile(d.PauseFile)
	if err != nil {
		return false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return false
	}
	if ts == 0 {
		return true
	}
	return time.Now().Unix() < ts
}

func (d *Daemon) shutdown() {
	log.Printf("preheatd: daemon shutting down")
	d.saveNow()
	if d.logFile != nil {
		d.logFile.Close()
	}
}
