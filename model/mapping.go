package model

import "time"

// BlockHint is the cached on-disk block/inode hint used by the "inode" and
// "block" sort strategies. It starts Unknown and is populated lazily the
// first time a sort strategy that needs it runs.
type BlockHint struct {
	Known bool
	Block uint64
}

// Mapping is a file-backed byte region identified by (Path, Offset, Length).
// It is named "Mapping" rather than "Map" to avoid colliding with the
// builtin map type in every signature that touches it.
//
// Mapping is refcounted: it lives in State's map table iff RefCount > 0.
// Do not add a back-pointer to the ExeMaps that reference it — ownership
// flows Exe -> ExeMap -> Mapping, never the other way.
type Mapping struct {
	Path   string
	Offset uint64
	Length uint64

	Seq        uint64 // monotonic, assigned on first registration
	RefCount   int
	Hint       BlockHint
	LastProbed time.Time

	// LnProb is scratch state recomputed every prediction pass. It is
	// not persisted.
	LnProb float64
}

// Key identifies a Mapping within State's map table.
type MappingKey struct {
	Path   string
	Offset uint64
	Length uint64
}

func (m *Mapping) Key() MappingKey {
	return MappingKey{Path: m.Path, Offset: m.Offset, Length: m.Length}
}

// SizeKB returns the mapping's length rounded up to the nearest kilobyte,
// the unit the readahead budget is expressed in.
func (m *Mapping) SizeKB() uint64 {
	return (m.Length + 1023) / 1024
}
