package scanner

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ftahirops/preheatd/util"
)

// ProcScanner is the default Linux implementation of Scanner, reading
// directly from /proc. It locates the last ')' before splitting a stat
// line to defend against the comm-field hazard, and stays tolerant of
// missing files: a process that vanished mid-scan is skipped, not an
// error.
type ProcScanner struct {
	// SelfPID is excluded from ListProcesses results.
	SelfPID int
}

// NewProcScanner returns a ProcScanner that excludes the calling
// process's own PID.
func NewProcScanner() *ProcScanner {
	return &ProcScanner{SelfPID: os.Getpid()}
}

func (p *ProcScanner) ListProcesses() ([]ProcessInfo, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("read /proc: %w", err)
	}

	var procs []ProcessInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 || pid == p.SelfPID {
			continue
		}
		exe, err := resolveExePath(pid)
		if err != nil {
			continue // process may have exited, or is unreadable; skip
		}
		ppid, _ := readPPID(pid)
		procs = append(procs, ProcessInfo{PID: pid, ParentPID: ppid, ExePath: exe})
	}
	return procs, nil
}

// ResolveExe is resolveExePath exported for the load protocol's PID-validation hook: on
// load, a persisted RunningPID whose process is alive but now runs a
// different executable is dropped as stale.
func ResolveExe(pid int) (string, error) {
	return resolveExePath(pid)
}

// resolveExePath follows /proc/PID/exe; on EACCES/ENOENT (e.g. a
// sandboxed container whose image the daemon cannot read) it falls back
// to the first NUL-delimited argument of /proc/PID/cmdline if that
// argument is an absolute path.
func resolveExePath(pid int) (string, error) {
	dir := fmt.Sprintf("/proc/%d", pid)
	if link, err := os.Readlink(dir + "/exe"); err == nil {
		return link, nil
	}

	data, err := os.ReadFile(dir + "/cmdline")
	if err != nil {
		return "", err
	}
	fields := strings.Split(string(data), "\x00")
	if len(fields) == 0 || fields[0] == "" {
		return "", fmt.Errorf("empty cmdline for pid %d", pid)
	}
	if !strings.HasPrefix(fields[0], "/") {
		return "", fmt.Errorf("cmdline token %q is not absolute", fields[0])
	}
	return fields[0], nil
}

// readPPID parses /proc/PID/stat for the parent PID field. The comm
// field is parenthesized and may itself contain spaces or parens, so we
// split on the *last* ')' rather than naively splitting on spaces.
func readPPID(pid int) (int, error) {
	content, err := util.ReadFileString(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	closeIdx := strings.LastIndex(content, ")")
	if closeIdx < 0 || closeIdx+2 > len(content) {
		return 0, fmt.Errorf("bad stat format for pid %d", pid)
	}
	rest := strings.Fields(content[closeIdx+2:])
	if len(rest) < 2 {
		return 0, fmt.Errorf("stat too short for pid %d", pid)
	}
	return util.ParseInt(rest[1]), nil
}

func (p *ProcScanner) Comm(pid int) (string, error) {
	data, err := util.ReadFileString(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(data), nil
}

func (p *ProcScanner) MapSize(pid int) (uint64, error) {
	regions, err := p.Regions(pid)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, r := range regions {
		total += r.Length
	}
	return total, nil
}

func (p *ProcScanner) Regions(pid int) ([]Region, error) {
	lines, err := util.ReadFileLines(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}

	// Merge consecutive /proc/PID/maps lines for the same file, since
	// the kernel splits one mmap'd file into multiple rows (distinct
	// protection flags for BSS vs. text, for instance).
	var regions []Region
	for _, line := range lines {
		region, ok := parseMapsLine(line)
		if !ok {
			continue
		}
		if n := len(regions); n > 0 && regions[n-1].Path == region.Path &&
			regions[n-1].Offset+regions[n-1].Length == region.Offset {
			regions[n-1].Length += region.Length
			continue
		}
		regions = append(regions, region)
	}
	return regions, nil
}

// parseMapsLine parses one /proc/PID/maps line:
//
//	address           perms offset  dev   inode       pathname
//	00400000-00452000 r-xp  00000000 08:02 173521      /usr/bin/dbus-daemon
//
// Only file-backed mappings (a pathname starting with "/") are kept;
// anonymous, heap, stack, and vdso/vsyscall regions are not prefetch
// candidates.
func parseMapsLine(line string) (Region, bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return Region{}, false
	}
	path := strings.Join(fields[5:], " ")
	if !strings.HasPrefix(path, "/") {
		return Region{}, false
	}

	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return Region{}, false
	}
	start, err1 := strconv.ParseUint(addrs[0], 16, 64)
	end, err2 := strconv.ParseUint(addrs[1], 16, 64)
	if err1 != nil || err2 != nil || end < start {
		return Region{}, false
	}

	fileOffset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return Region{}, false
	}

	return Region{Path: path, Offset: fileOffset, Length: end - start}, true
}
