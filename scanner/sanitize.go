package scanner

import (
	"regexp"
	"strings"
)

var prelinkSuffix = regexp.MustCompile(`\.#prelink#\.\d+$`)

// Sanitize applies the path acceptance rule: the path must start with
// "/", must not be a kernel-appended "(deleted)" marker, and a prelink
// suffix ".#prelink#.NNNNN" is stripped before acceptance so a
// prelinked rebuild of the same binary is recognized as the same Exe.
// Returns the sanitized path and whether it is acceptable at all.
func Sanitize(path string) (string, bool) {
	if !strings.HasPrefix(path, "/") {
		return "", false
	}
	if strings.HasSuffix(path, " (deleted)") {
		return "", false
	}
	if loc := prelinkSuffix.FindStringIndex(path); loc != nil {
		path = path[:loc[0]]
	}
	return path, true
}
