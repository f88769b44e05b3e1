package engine

import "time"

// cycleTicker drives the scheduler's two independent timers: the
// half-cycle scan/update alternation and the autosave timer. Both are
// re-armed after firing rather than using time.Ticker, because either
// period can change on a config reload, and only a time.Timer can be
// reset to a new duration — a time.Ticker cannot.
type cycleTicker struct {
	cycle    *time.Timer
	autosave *time.Timer
}

func newCycleTicker(halfCycle, autosaveEvery time.Duration) *cycleTicker {
	return &cycleTicker{
		cycle:    time.NewTimer(halfCycle),
		autosave: time.NewTimer(autosaveEvery),
	}
}

func (t *cycleTicker) rearmCycle(d time.Duration)    { t.cycle.Reset(d) }
func (t *cycleTicker) rearmAutosave(d time.Duration) { t.autosave.Reset(d) }

func (t *cycleTicker) stop() {
	t.cycle.Stop()
	t.autosave.Stop()
}
