// Package persist implements preheatd's line-oriented state file format:
// a leading-tag-per-line text grammar with file:// URIs for paths and a
// trailing CRC32 footer, saved via temp-file-then-atomic-rename and
// loaded with corrupt-file quarantine. Tokenizing is manual (the grammar
// is TAB-delimited, not CSV) and net/url renders the file URIs.
package persist

// FormatVersion is written as the first PRELOAD record's version field.
const FormatVersion = "2.0"

const (
	tagPreload      = "PRELOAD"
	tagMap          = "MAP"
	tagBadExe       = "BADEXE"
	tagExe          = "EXE"
	tagPIDs         = "PIDS"
	tagPID          = "PID"
	tagExeMap       = "EXEMAP"
	tagMarkov       = "MARKOV"
	tagFamily       = "FAMILY"
	tagPreloadTimes = "PRELOAD_TIMES"
	tagCRC32        = "CRC32"
)
