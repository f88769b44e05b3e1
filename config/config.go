// Package config holds preheatd's typed configuration: enumerated option
// groups with defaults, range validation, and whitelist/blacklist/family
// file parsing. Values outside their documented range are clamped to the
// default and a warning is logged — loading never aborts on an
// out-of-range value.
package config

import (
	"log"
	"sync/atomic"
)

// SortStrategy selects how the readahead scheduler orders selected
// mappings before dispatch.
type SortStrategy string

const (
	SortNone  SortStrategy = "none"
	SortPath  SortStrategy = "path"
	SortInode SortStrategy = "inode"
	SortBlock SortStrategy = "block"
)

func validSortStrategy(s SortStrategy) bool {
	switch s {
	case SortNone, SortPath, SortInode, SortBlock:
		return true
	}
	return false
}

// PrefixRules is an include/exclude prefix list for a path-like config
// value. A leading "!" in the raw semicolon-separated string denotes an
// exclusion entry.
type PrefixRules struct {
	Include []string
	Exclude []string
}

// Allows reports whether path is accepted by the rules: excluded iff any
// exclude prefix matches; included iff either no include rules are set,
// or some include prefix matches.
func (r PrefixRules) Allows(path string) bool {
	for _, pfx := range r.Exclude {
		if hasPrefix(path, pfx) {
			return false
		}
	}
	if len(r.Include) == 0 {
		return true
	}
	for _, pfx := range r.Include {
		if hasPrefix(path, pfx) {
			return true
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// ModelConfig is the [model] INI group.
type ModelConfig struct {
	CycleSec       int // 5..300
	MemTotalPct    int // -100..100
	MemFreePct     int // -100..100
	MemCachedPct   int // -100..100
	UseCorrelation bool
	MinSize        uint64 // bytes

	// Divisor and UserMultiplier shape the per-launch weight a process
	// contributes to its exe's running average: a longer-lived process
	// logs in more weight (divided by Divisor before the log), and a
	// user-initiated launch counts UserMultiplier times as much as one
	// started by init/systemd.
	Divisor        float64
	UserMultiplier float64
}

// SystemConfig is the [system] INI group.
type SystemConfig struct {
	DoScan      bool
	DoPredict   bool
	AutosaveSec int
	MaxProcs    int // 0..100
	SortStrategy SortStrategy

	MapPrefix PrefixRules
	ExePrefix PrefixRules

	ManualAppsFile string

	PoolPriorityPatterns []string
	PoolExcludePatterns  []string
}

// Config is the full, validated configuration: the [model] and [system]
// groups plus [families] seed entries (id -> member paths).
type Config struct {
	Model    ModelConfig
	System   SystemConfig
	Families map[string][]string
}

// Default returns a Config with sensible out-of-the-box defaults.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			CycleSec:       20,
			MemTotalPct:    0,
			MemFreePct:     50,
			MemCachedPct:   0,
			UseCorrelation: true,
			MinSize:        2000000,
			Divisor:        60,
			UserMultiplier: 2.0,
		},
		System: SystemConfig{
			DoScan:       true,
			DoPredict:    true,
			AutosaveSec:  3600,
			MaxProcs:     5,
			SortStrategy: SortBlock,
		},
		Families: make(map[string][]string),
	}
}

// clampInt clamps v to [lo, hi], logging a warning with name if it had to.
func clampInt(name string, v, lo, hi, def int) int {
	if v >= lo && v <= hi {
		return v
	}
	log.Printf("preheatd: config: %s=%d out of range [%d,%d], using default %d", name, v, lo, hi, def)
	return def
}

// Validate clamps every range-bound field to its default when out of
// range, logging a warning for each. Called after parsing, both on
// initial load and on reload.
func (c *Config) Validate() {
	def := Default()

	c.Model.CycleSec = clampInt("model.cycle", c.Model.CycleSec, 5, 300, def.Model.CycleSec)
	c.Model.MemTotalPct = clampInt("model.memtotal", c.Model.MemTotalPct, -100, 100, def.Model.MemTotalPct)
	c.Model.MemFreePct = clampInt("model.memfree", c.Model.MemFreePct, -100, 100, def.Model.MemFreePct)
	c.Model.MemCachedPct = clampInt("model.memcached", c.Model.MemCachedPct, -100, 100, def.Model.MemCachedPct)
	if c.Model.MinSize == 0 {
		c.Model.MinSize = def.Model.MinSize
	}
	if c.Model.Divisor <= 0 {
		log.Printf("preheatd: config: model.divisor=%g invalid, using default %g", c.Model.Divisor, def.Model.Divisor)
		c.Model.Divisor = def.Model.Divisor
	}
	if c.Model.UserMultiplier <= 0 {
		log.Printf("preheatd: config: model.usermultiplier=%g invalid, using default %g", c.Model.UserMultiplier, def.Model.UserMultiplier)
		c.Model.UserMultiplier = def.Model.UserMultiplier
	}

	c.System.MaxProcs = clampInt("system.maxprocs", c.System.MaxProcs, 0, 100, def.System.MaxProcs)
	if c.System.AutosaveSec <= 0 {
		log.Printf("preheatd: config: system.autosave=%d invalid, using default %d", c.System.AutosaveSec, def.System.AutosaveSec)
		c.System.AutosaveSec = def.System.AutosaveSec
	}
	if !validSortStrategy(c.System.SortStrategy) {
		log.Printf("preheatd: config: system.sortstrategy=%q invalid, using default %q", c.System.SortStrategy, def.System.SortStrategy)
		c.System.SortStrategy = def.System.SortStrategy
	}
}

// current holds the live, atomically-swapped configuration. Reload
// replaces the whole pointer rather than mutating fields in place, so a
// reader mid-cycle never observes a half-updated Config.
var current atomic.Pointer[Config]

func init() {
	current.Store(Default())
}

// Current returns the live configuration.
func Current() *Config {
	return current.Load()
}

// swap installs cfg as the live configuration.
func swap(cfg *Config) {
	current.Store(cfg)
}
