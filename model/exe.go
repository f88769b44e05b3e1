package model

import "time"

// Pool classifies a tracked Exe. Only priority-pool exes participate in
// Markov chains and are candidates for preloading; observation-pool exes
// are tracked (for statistics and future promotion) but never bid.
type Pool int

const (
	PoolObservation Pool = iota
	PoolPriority
)

func (p Pool) String() string {
	if p == PoolPriority {
		return "priority"
	}
	return "observation"
}

// RunningPID is one currently-live instance of a tracked Exe.
type RunningPID struct {
	PID           int
	ParentPID     int
	Start         time.Time
	LastWeightAt  time.Time
	UserInitiated bool
}

// Exe is a tracked executable identified by its absolute path.
type Exe struct {
	Path string

	Seq  uint64
	Pool Pool

	// Runtime accounting (state-time seconds, see State.Time).
	TotalRuntimeSec int64
	LastProbed      time.Time

	// Size is derived: sum of mapped Mapping lengths across ExeMaps.
	Size uint64

	// Running/state-change bookkeeping. RunningTimestamp advances only
	// while the exe is observed running; StateChangeTimestamp advances
	// whenever the running flag flips (see Observer).
	RunningTimestamp     int64
	StateChangeTimestamp int64

	// Weighted-launch accounting.
	WeightedLaunches float64
	RawLaunches      uint64
	TotalDurationSec int64

	RunningPIDs map[int]*RunningPID

	ExeMaps map[MappingKey]*ExeMap
	Markovs map[*Exe]*Markov // keyed by the *other* endpoint

	// Blacklisted means the exe is unreachable regardless of evidence
	// (always assigned lnprob = 1 during prediction reset).
	Blacklisted bool

	// Scratch state recomputed every prediction pass; not persisted.
	LnProb float64
}

func newExe(path string, seq uint64) *Exe {
	return &Exe{
		Path:        path,
		Seq:         seq,
		Pool:        PoolObservation,
		RunningPIDs: make(map[int]*RunningPID),
		ExeMaps:     make(map[MappingKey]*ExeMap),
		Markovs:     make(map[*Exe]*Markov),
	}
}

// IsRunning reports whether the exe is currently considered running: its
// running-timestamp is at least as new as the state's last-running
// timestamp.
func (e *Exe) IsRunning(stateLastRunning int64) bool {
	return e.RunningTimestamp >= stateLastRunning
}
