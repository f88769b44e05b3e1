package identity

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// desktopAppDirs are the standard locations for .desktop entries.
// Resolving a user-typed application name (snap wrappers, shebang
// scripts) to its real binary is explicitly out of scope;
// this package only needs to know *whether* some desktop entry's Exec=
// line references a given executable path, for pool classification and
// for the sandboxed-launcher fallback in the Observer.
var desktopAppDirs = []string{
	"/usr/share/applications",
	"/usr/local/share/applications",
}

var (
	desktopOnce  sync.Once
	desktopExecs map[string]bool // basename(Exec= target) -> true
)

func loadDesktopEntries() map[string]bool {
	desktopOnce.Do(func() {
		desktopExecs = make(map[string]bool)
		for _, dir := range desktopAppDirs {
			entries, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !strings.HasSuffix(e.Name(), ".desktop") {
					continue
				}
				scanDesktopFile(filepath.Join(dir, e.Name()), desktopExecs)
			}
		}
	})
	return desktopExecs
}

func scanDesktopFile(path string, into map[string]bool) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Exec=") {
			continue
		}
		exec := strings.TrimPrefix(line, "Exec=")
		fields := strings.Fields(exec)
		if len(fields) == 0 {
			continue
		}
		// Strip desktop-entry field codes (%f, %U, ...) and any leading
		// path, keeping just the command name.
		cmd := strings.TrimSpace(fields[0])
		into[filepath.Base(cmd)] = true
	}
}

// HasDesktopEntry reports whether some .desktop file's Exec= line
// references the executable at path (matched by basename, since Exec=
// rarely carries the full resolved path for wrapped/shimmed launchers).
func HasDesktopEntry(path string) bool {
	return loadDesktopEntries()[filepath.Base(path)]
}

// ResetDesktopCache forces the next HasDesktopEntry call to re-scan.
// Exposed for tests.
func ResetDesktopCache() {
	desktopOnce = sync.Once{}
	desktopExecs = nil
}
