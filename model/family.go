package model

import "time"

// DiscoveryMethod records how a Family came to exist.
type DiscoveryMethod int

const (
	DiscoveryManual DiscoveryMethod = iota
	DiscoveryAutoESRVariant
	DiscoveryAutoSeeded
)

// Family is a user- or auto-discovered group of executable paths treated
// as one app for reporting (e.g. a browser plus its ESR variant).
type Family struct {
	ID      string
	Members []string
	Method  DiscoveryMethod

	// Aggregates are recomputed lazily from member Exes before use; they
	// are not authoritative between recomputations.
	WeightedLaunches float64
	RawLaunches      uint64
	LastUsed         time.Time
}

// HasMember reports whether path is a member of the family.
func (f *Family) HasMember(path string) bool {
	for _, m := range f.Members {
		if m == path {
			return true
		}
	}
	return false
}
