package retry

import (
	"sort"
	"sync"
)

// OpState tracks attempts for one named operation (e.g. "capture.start",
// "capture.step") across an exploration run.
type OpState struct {
	Op        string `json:"op"`
	Calls     int    `json:"calls"`
	Attempts  int    `json:"attempts"`
	Failures  int    `json:"failures"` // attempts that did not succeed
	Skips     int    `json:"skips"`
	Exhausted int    `json:"exhausted"` // fatal exhaustions
	LastError string `json:"last_error,omitempty"`
}

// Tracker aggregates Outcomes per operation. It is safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	states map[string]*OpState
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]*OpState)}
}

// Record folds one finished loop into the state for op. err is the error
// returned by Policy.Do, if any.
func (t *Tracker) Record(op string, out Outcome, err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[op]
	if !ok {
		state = &OpState{Op: op}
		t.states[op] = state
	}
	state.Calls++
	state.Attempts += out.Attempts
	failures := out.Attempts
	if err == nil && !out.Skipped {
		failures--
	}
	state.Failures += failures
	if out.Skipped {
		state.Skips++
	}
	if err != nil {
		state.Exhausted++
	}
	if out.LastErr != nil {
		state.LastError = out.LastErr.Error()
	}
}

// State returns a copy of the state for op, or nil if never recorded.
func (t *Tracker) State(op string) *OpState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[op]
	if !ok {
		return nil
	}
	c := *s
	return &c
}

// Snapshot returns copies of all states sorted by operation name.
func (t *Tracker) Snapshot() []OpState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]OpState, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out
}

// Reset clears all state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = make(map[string]*OpState)
}
