package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/ini.v1"
)

// Load parses path as an INI configuration file with [model], [system],
// and [families] groups. A missing file yields defaults. A malformed
// file is a hard error — the caller (initial startup) treats that as
// fatal; Reload instead logs and keeps the previously-live config.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	// Inline-comment stripping is off: ';' separates list entries.
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if sec := f.Section("model"); sec != nil {
		cfg.Model.CycleSec = sec.Key("cycle").MustInt(cfg.Model.CycleSec)
		cfg.Model.MemTotalPct = sec.Key("memtotal").MustInt(cfg.Model.MemTotalPct)
		cfg.Model.MemFreePct = sec.Key("memfree").MustInt(cfg.Model.MemFreePct)
		cfg.Model.MemCachedPct = sec.Key("memcached").MustInt(cfg.Model.MemCachedPct)
		cfg.Model.UseCorrelation = sec.Key("use_correlation").MustBool(cfg.Model.UseCorrelation)
		cfg.Model.MinSize = uint64(sec.Key("minsize").MustInt64(int64(cfg.Model.MinSize)))
		cfg.Model.Divisor = sec.Key("divisor").MustFloat64(cfg.Model.Divisor)
		cfg.Model.UserMultiplier = sec.Key("usermultiplier").MustFloat64(cfg.Model.UserMultiplier)
	}

	if sec := f.Section("system"); sec != nil {
		cfg.System.DoScan = sec.Key("doscan").MustBool(cfg.System.DoScan)
		cfg.System.DoPredict = sec.Key("dopredict").MustBool(cfg.System.DoPredict)
		cfg.System.AutosaveSec = sec.Key("autosave").MustInt(cfg.System.AutosaveSec)
		cfg.System.MaxProcs = sec.Key("maxprocs").MustInt(cfg.System.MaxProcs)
		cfg.System.SortStrategy = SortStrategy(sec.Key("sortstrategy").MustString(string(cfg.System.SortStrategy)))
		cfg.System.MapPrefix = parsePrefixRules(sec.Key("mapprefix").String())
		cfg.System.ExePrefix = parsePrefixRules(sec.Key("exeprefix").String())
		cfg.System.ManualAppsFile = expandHome(sec.Key("manualappsfile").String())
		cfg.System.PoolPriorityPatterns = splitSemicolon(sec.Key("poolpriority").String())
		cfg.System.PoolExcludePatterns = splitSemicolon(sec.Key("poolexclude").String())
	}

	if sec := f.Section("families"); sec != nil {
		for _, key := range sec.Keys() {
			paths := splitSemicolon(key.Value())
			if len(paths) > 0 {
				cfg.Families[key.Name()] = paths
			}
		}
	}

	if p := os.Getenv("PRELOAD_MANUAL_APPS"); p != "" {
		cfg.System.ManualAppsFile = expandHome(p)
	}

	cfg.Validate()
	return cfg, nil
}

// Reload re-parses path and, on success, atomically installs the result
// as the live configuration. A parse failure is logged and ignored —
// the previously-live configuration keeps running.
func Reload(path string) {
	cfg, err := Load(path)
	if err != nil {
		log.Printf("preheatd: config: reload failed, keeping previous config: %v", err)
		return
	}
	swap(cfg)
	log.Printf("preheatd: config: reloaded from %s", path)
}

func splitSemicolon(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parsePrefixRules(s string) PrefixRules {
	var r PrefixRules
	for _, entry := range splitSemicolon(s) {
		if strings.HasPrefix(entry, "!") {
			r.Exclude = append(r.Exclude, expandHome(entry[1:]))
		} else {
			r.Include = append(r.Include, expandHome(entry))
		}
	}
	return r
}

// expandHome expands a leading "~/" to the calling user's home directory.
func expandHome(s string) string {
	if !strings.HasPrefix(s, "~/") {
		return s
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return s
	}
	return home + s[1:]
}
