package explore

import (
	"time"

	"github.com/Iron-Ham/ptzexplore/internal/device"
)

// Phase is a state of the exploration state machine.
type Phase string

// Phases in the order a successful run visits them. A failing run goes
// to PhaseAbort instead of PhaseDrain and never reaches PhasePersist.
const (
	PhaseInit      Phase = "INIT"
	PhaseSeekStart Phase = "SEEK_START"
	PhaseStep      Phase = "STEP"
	PhaseDrain     Phase = "DRAIN"
	PhaseAbort     Phase = "ABORT"
	PhasePersist   Phase = "PERSIST"
	PhaseDone      Phase = "DONE"
)

// Observation is the model input for one step.
type Observation struct {
	Embedding []float64
	Position  []float64
}

// Episode is what one iteration recorded. Positions are read from the
// camera after each verified capture and have one more entry than
// Commands: the start pose comes first.
type Episode struct {
	Positions  []device.Position
	Commands   []string
	Embeddings [][]float64
	Rewards    [][]float64
	Skipped    int
	Images     int
}

// Result summarizes a run.
type Result struct {
	RunID      string
	Agent      string
	Phase      Phase
	Episodes   []Episode
	NumImages  int
	Skipped    int
	FirstImage time.Time
	LastImage  time.Time
	// RestartCreated is true when this run created restart 0.
	RestartCreated bool
}
