// Package action defines the fixed table of discrete camera actions the
// policy chooses from. The policy's output layer has exactly Count values,
// one per table entry, so the table size is part of the model contract.
package action

import (
	"fmt"
	"math"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
)

// Count is the number of actions the policy model scores.
const Count = 21

// Action is one discrete relative motion, expressed in unmodulated units.
type Action struct {
	Name string  `mapstructure:"name" yaml:"name"`
	Pan  float64 `mapstructure:"pan" yaml:"pan"`
	Tilt float64 `mapstructure:"tilt" yaml:"tilt"`
	Zoom float64 `mapstructure:"zoom" yaml:"zoom"`
}

// IsNoop reports whether the action moves nothing.
func (a Action) IsNoop() bool {
	return a.Pan == 0 && a.Tilt == 0 && a.Zoom == 0
}

// String formats the action for logs.
func (a Action) String() string {
	return fmt.Sprintf("%s(%.2f,%.2f,%.2f)", a.Name, a.Pan, a.Tilt, a.Zoom)
}

// Table is the validated, fixed-size action set.
type Table [Count]Action

// Magnitudes of the reference table.
const (
	shortStep = 1.0
	longStep  = 5.0
	jumpStep  = 15.0
	shortZoom = 1.0
	longZoom  = 2.0
)

// Default returns the reference table: noop, ten short moves, six long
// moves and four jumps.
func Default() Table {
	return Table{
		{Name: "noop"},
		{Name: "short_left", Pan: -shortStep},
		{Name: "short_right", Pan: shortStep},
		{Name: "short_left_up", Pan: -shortStep, Tilt: shortStep},
		{Name: "short_right_up", Pan: shortStep, Tilt: shortStep},
		{Name: "short_left_down", Pan: -shortStep, Tilt: -shortStep},
		{Name: "short_right_down", Pan: shortStep, Tilt: -shortStep},
		{Name: "short_up", Tilt: shortStep},
		{Name: "short_down", Tilt: -shortStep},
		{Name: "short_zoom_in", Zoom: shortZoom},
		{Name: "short_zoom_out", Zoom: -shortZoom},
		{Name: "long_left", Pan: -longStep},
		{Name: "long_right", Pan: longStep},
		{Name: "long_up", Tilt: longStep},
		{Name: "long_down", Tilt: -longStep},
		{Name: "long_zoom_in", Zoom: longZoom},
		{Name: "long_zoom_out", Zoom: -longZoom},
		{Name: "jump_left", Pan: -jumpStep},
		{Name: "jump_right", Pan: jumpStep},
		{Name: "jump_up", Tilt: jumpStep},
		{Name: "jump_down", Tilt: -jumpStep},
	}
}

// New builds a Table from configured entries. It fails unless there are
// exactly Count entries with unique non-empty names and finite deltas.
func New(entries []Action) (Table, error) {
	var t Table
	if len(entries) != Count {
		return t, errors.NewValidationError(
			fmt.Sprintf("action table needs %d entries, got %d", Count, len(entries)),
		).WithField("actions")
	}

	seen := make(map[string]int, Count)
	for i, a := range entries {
		field := fmt.Sprintf("actions[%d]", i)
		if a.Name == "" {
			return t, errors.NewValidationError("action name is empty").WithField(field)
		}
		if prev, dup := seen[a.Name]; dup {
			return t, errors.NewValidationError(
				fmt.Sprintf("duplicate action name (also at index %d)", prev),
			).WithField(field).WithValue(a.Name)
		}
		seen[a.Name] = i
		for _, v := range []float64{a.Pan, a.Tilt, a.Zoom} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return t, errors.NewValidationError("action delta is not finite").WithField(field).WithValue(v)
			}
		}
		t[i] = a
	}
	return t, nil
}

// At returns the action at index i.
func (t *Table) At(i int) (Action, error) {
	if i < 0 || i >= Count {
		return Action{}, errors.NewValidationError(
			fmt.Sprintf("action index must be in [0, %d)", Count),
		).WithField("index").WithValue(i)
	}
	return t[i], nil
}

// Index returns the position of the named action, or -1.
func (t *Table) Index(name string) int {
	for i, a := range t {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// Entries returns the table as a slice, e.g. for writing configuration.
func (t *Table) Entries() []Action {
	out := make([]Action, Count)
	copy(out, t[:])
	return out
}
