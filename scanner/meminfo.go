package scanner

import (
	"fmt"
	"strings"

	"github.com/ftahirops/preheatd/util"
)

// MemorySnapshot reads the subset of /proc/meminfo the readahead budget
// needs: total, free, and page-cache ("Cached") sizes in kilobytes.
func (p *ProcScanner) MemorySnapshot() (Memory, error) {
	kv, err := util.ParseKeyValueFile("/proc/meminfo")
	if err != nil {
		return Memory{}, fmt.Errorf("read /proc/meminfo: %w", err)
	}
	return Memory{
		TotalKB:  parseKB(kv["MemTotal"]),
		FreeKB:   parseKB(kv["MemFree"]),
		CachedKB: parseKB(kv["Cached"]),
	}, nil
}

// parseKB parses a meminfo value like "1234 kB" and returns kilobytes.
func parseKB(s string) uint64 {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, " kB")
	s = strings.TrimSuffix(s, "kB")
	s = strings.TrimSpace(s)
	return util.ParseUint64(s)
}
