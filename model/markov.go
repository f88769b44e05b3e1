package model

// Markov states: the joint running state of two exes A and B.
const (
	MarkovNeither = 0 // neither running
	MarkovAOnly   = 1 // A only
	MarkovBOnly   = 2 // B only
	MarkovBoth    = 3 // both running
)

// Markov models the joint 4-state continuous-time process over a pair of
// distinct priority-pool exes. A and B are non-owning references: Markov
// is jointly owned by its two endpoints (removing either endpoint removes
// the Markov, see State.RemoveExe), never the reverse.
type Markov struct {
	A, B *Exe

	// CoObservationTime is the cumulative state-time both A and B were
	// running (state 3).
	CoObservationTime int64

	// TimeToLeave[state] is the streaming mean sojourn time in that state.
	TimeToLeave [4]float64

	// Weight[from][to] are transition counts; the diagonal Weight[s][s]
	// is repurposed to count total visits to state s.
	Weight [4][4]int64

	State           int
	ChangeTimestamp int64
}

// NewMarkov creates a Markov between a and b with both endpoints
// registered but never yet observed (state = neither).
func NewMarkov(a, b *Exe) *Markov {
	return &Markov{A: a, B: b}
}

// Other returns the endpoint that is not e.
func (m *Markov) Other(e *Exe) *Exe {
	if m.A == e {
		return m.B
	}
	return m.A
}
