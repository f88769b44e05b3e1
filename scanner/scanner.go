// Package scanner defines the external /proc-scanner collaborator,
// deliberately kept out of the core: the core only consumes
// (pid, exe_path, file-backed map regions) tuples plus a memory snapshot.
// This package also ships the default Linux implementation so preheatd
// is runnable standalone; tests back the core with a fake implementing
// the same interface.
package scanner

import "time"

// Region is one file-backed byte range found in a process's memory map.
type Region struct {
	Path   string
	Offset uint64
	Length uint64
}

// ProcessInfo is one running process as seen by a single scan pass.
type ProcessInfo struct {
	PID      int
	ParentPID int
	ExePath  string
}

// Memory is the (total, free, cached) snapshot in kilobytes the
// readahead budget is computed from.
type Memory struct {
	TotalKB  uint64
	FreeKB   uint64
	CachedKB uint64
}

// Scanner is the interface the core's Observer depends on. Nothing
// above this interface knows /proc exists.
type Scanner interface {
	// ListProcesses returns every running process visible to the
	// daemon, excluding the daemon's own PID. Implementations should
	// omit entries whose exe path cannot be determined at all (neither
	// /proc/PID/exe nor a cmdline fallback resolves).
	ListProcesses() ([]ProcessInfo, error)

	// MapSize returns the total length of all of pid's file-backed map
	// regions (the mapprefix rules are applied later, when ExeMaps are
	// created) — used by the update phase's "does this newcomer clear
	// minsize" check before the region list is requested. ProcScanner
	// computes it by summing its own Regions result.
	MapSize(pid int) (uint64, error)

	// Regions returns pid's full file-backed map region list.
	Regions(pid int) ([]Region, error)

	// MemorySnapshot samples system-wide memory statistics.
	MemorySnapshot() (Memory, error)

	// Comm returns pid's /proc/PID/comm (trimmed, no embedded newline) —
	// used to classify a newcomer's parent as a shell/terminal/launcher
	// for the user-initiated heuristic.
	Comm(pid int) (string, error)
}

// Clock abstracts wall-clock time for testability.
type Clock func() time.Time
