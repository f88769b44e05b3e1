package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("expected no error for a missing config file, got %v", err)
	}
	if cfg.Model.CycleSec != Default().Model.CycleSec {
		t.Fatalf("expected defaults, got %+v", cfg.Model)
	}
}

func TestLoadEmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error for an empty path, got %v", err)
	}
	if cfg.Model.CycleSec != Default().Model.CycleSec {
		t.Fatal("expected defaults for an empty path")
	}
}

func TestLoadParsesModelSystemAndFamiliesGroups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preheatd.conf")
	content := `
[model]
cycle = 45
memtotal = 5
memfree = 60
use_correlation = false
minsize = 123456
divisor = 45.5
usermultiplier = 2.5

[system]
doscan = true
dopredict = false
autosave = 120
maxprocs = 8
sortstrategy = path
poolpriority = /opt/custom/*
poolexclude = *esr*;*beta*

[families]
browsers = /usr/bin/firefox;/usr/bin/firefox-esr
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Model.CycleSec != 45 {
		t.Fatalf("expected cycle 45, got %d", cfg.Model.CycleSec)
	}
	if cfg.Model.UseCorrelation {
		t.Fatal("expected use_correlation=false to parse as false")
	}
	if cfg.Model.MinSize != 123456 {
		t.Fatalf("expected minsize 123456, got %d", cfg.Model.MinSize)
	}
	if cfg.Model.Divisor != 45.5 {
		t.Fatalf("expected divisor 45.5, got %g", cfg.Model.Divisor)
	}
	if cfg.Model.UserMultiplier != 2.5 {
		t.Fatalf("expected usermultiplier 2.5, got %g", cfg.Model.UserMultiplier)
	}
	if cfg.System.AutosaveSec != 120 {
		t.Fatalf("expected autosave 120, got %d", cfg.System.AutosaveSec)
	}
	if cfg.System.SortStrategy != SortPath {
		t.Fatalf("expected sortstrategy path, got %q", cfg.System.SortStrategy)
	}
	if len(cfg.System.PoolExcludePatterns) != 2 {
		t.Fatalf("expected 2 exclude patterns, got %v", cfg.System.PoolExcludePatterns)
	}
	if len(cfg.Families["browsers"]) != 2 {
		t.Fatalf("expected 2 family members, got %v", cfg.Families["browsers"])
	}
}

func TestLoadMalformedFileIsHardError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.conf")
	if err := os.WriteFile(path, []byte("[model\nbroken"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected a malformed INI file to be a hard error")
	}
}

func TestParsePrefixRulesSplitsIncludeAndExclude(t *testing.T) {
	r := parsePrefixRules("/usr/bin;!/usr/bin/bad;/opt")
	if len(r.Include) != 2 || len(r.Exclude) != 1 {
		t.Fatalf("expected 2 include and 1 exclude, got %+v", r)
	}
	if r.Exclude[0] != "/usr/bin/bad" {
		t.Fatalf("expected exclude entry to have its leading ! stripped, got %q", r.Exclude[0])
	}
}

func TestLoadManualAppsSkipsCommentsBlankLinesAndRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manualapps")
	content := "# a comment\n\n/usr/bin/ok\nrelative/bad\n  /usr/bin/trimmed  \n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	apps := LoadManualApps(path)
	if len(apps) != 2 {
		t.Fatalf("expected 2 accepted entries, got %v", apps)
	}
	if apps[0] != "/usr/bin/ok" || apps[1] != "/usr/bin/trimmed" {
		t.Fatalf("unexpected entries: %v", apps)
	}
}

func TestLoadManualAppsMissingFileReturnsNil(t *testing.T) {
	if apps := LoadManualApps(filepath.Join(t.TempDir(), "nope")); apps != nil {
		t.Fatalf("expected nil for a missing manual-apps file, got %v", apps)
	}
}
