package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "run.started", "step.skipped")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeRunStarted          = "run.started"
	TypeRunPersisted        = "run.persisted"
	TypeRunAborted          = "run.aborted"
	TypePhaseChanged        = "phase.changed"
	TypeIterationStarted    = "iteration.started"
	TypeStepApplied         = "step.applied"
	TypeStepSkipped         = "step.skipped"
	TypeCameraConnectFailed = "camera.connect_failed"
	TypeLockAcquired        = "lock.acquired"
	TypeLockReleased        = "lock.released"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Run Lifecycle Events
// -----------------------------------------------------------------------------

// RunStartedEvent is emitted once the camera is connected and the loop
// is about to begin.
type RunStartedEvent struct {
	baseEvent
	RunID      string `json:"run_id"`
	Agent      string `json:"agent"`
	Iterations int    `json:"iterations"`
	Movements  int    `json:"movements"`
}

// NewRunStartedEvent creates a RunStartedEvent.
func NewRunStartedEvent(runID, agent string, iterations, movements int) RunStartedEvent {
	return RunStartedEvent{
		baseEvent:  newBaseEvent(TypeRunStarted),
		RunID:      runID,
		Agent:      agent,
		Iterations: iterations,
		Movements:  movements,
	}
}

// RunPersistedEvent is emitted after the ledger was rewritten.
type RunPersistedEvent struct {
	baseEvent
	RunID      string    `json:"run_id"`
	Agent      string    `json:"agent"`
	NumImages  int       `json:"num_images"`
	FirstImage time.Time `json:"first_image"`
	LastImage  time.Time `json:"last_image"`
}

// NewRunPersistedEvent creates a RunPersistedEvent.
func NewRunPersistedEvent(runID, agent string, numImages int, first, last time.Time) RunPersistedEvent {
	return RunPersistedEvent{
		baseEvent:  newBaseEvent(TypeRunPersisted),
		RunID:      runID,
		Agent:      agent,
		NumImages:  numImages,
		FirstImage: first,
		LastImage:  last,
	}
}

// RunAbortedEvent is emitted when a run stops without persisting.
type RunAbortedEvent struct {
	baseEvent
	RunID  string `json:"run_id"`
	Agent  string `json:"agent"`
	Phase  string `json:"phase"`
	Reason string `json:"reason"`
}

// NewRunAbortedEvent creates a RunAbortedEvent.
func NewRunAbortedEvent(runID, agent, phase, reason string) RunAbortedEvent {
	return RunAbortedEvent{
		baseEvent: newBaseEvent(TypeRunAborted),
		RunID:     runID,
		Agent:     agent,
		Phase:     phase,
		Reason:    reason,
	}
}

// PhaseChangedEvent is emitted on every controller phase transition.
type PhaseChangedEvent struct {
	baseEvent
	RunID string `json:"run_id"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// NewPhaseChangedEvent creates a PhaseChangedEvent.
func NewPhaseChangedEvent(runID, from, to string) PhaseChangedEvent {
	return PhaseChangedEvent{
		baseEvent: newBaseEvent(TypePhaseChanged),
		RunID:     runID,
		From:      from,
		To:        to,
	}
}

// -----------------------------------------------------------------------------
// Episode Progress Events
// -----------------------------------------------------------------------------

// IterationStartedEvent is emitted at the start of each iteration.
type IterationStartedEvent struct {
	baseEvent
	RunID     string `json:"run_id"`
	Iteration int    `json:"iteration"`
}

// NewIterationStartedEvent creates an IterationStartedEvent.
func NewIterationStartedEvent(runID string, iteration int) IterationStartedEvent {
	return IterationStartedEvent{
		baseEvent: newBaseEvent(TypeIterationStarted),
		RunID:     runID,
		Iteration: iteration,
	}
}

// StepAppliedEvent is emitted after an action was applied and its image
// verified.
type StepAppliedEvent struct {
	baseEvent
	RunID     string `json:"run_id"`
	Iteration int    `json:"iteration"`
	Step      int    `json:"step"`
	Action    string `json:"action"`
	Mode      string `json:"mode"`    // "sampled" or "greedy"
	Command   string `json:"command"` // applied deltas, "pan,tilt,zoom"
}

// NewStepAppliedEvent creates a StepAppliedEvent.
func NewStepAppliedEvent(runID string, iteration, step int, action, mode, command string) StepAppliedEvent {
	return StepAppliedEvent{
		baseEvent: newBaseEvent(TypeStepApplied),
		RunID:     runID,
		Iteration: iteration,
		Step:      step,
		Action:    action,
		Mode:      mode,
		Command:   command,
	}
}

// StepSkippedEvent is emitted when a step's capture was exhausted.
type StepSkippedEvent struct {
	baseEvent
	RunID     string `json:"run_id"`
	Iteration int    `json:"iteration"`
	Step      int    `json:"step"`
	Reason    string `json:"reason"`
}

// NewStepSkippedEvent creates a StepSkippedEvent.
func NewStepSkippedEvent(runID string, iteration, step int, reason string) StepSkippedEvent {
	return StepSkippedEvent{
		baseEvent: newBaseEvent(TypeStepSkipped),
		RunID:     runID,
		Iteration: iteration,
		Step:      step,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Infrastructure Events
// -----------------------------------------------------------------------------

// CameraConnectFailedEvent is emitted when the driver cannot be
// constructed. It never carries credentials.
type CameraConnectFailedEvent struct {
	baseEvent
	Brand   string `json:"brand"`
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// NewCameraConnectFailedEvent creates a CameraConnectFailedEvent.
func NewCameraConnectFailedEvent(brand, address, reason string) CameraConnectFailedEvent {
	return CameraConnectFailedEvent{
		baseEvent: newBaseEvent(TypeCameraConnectFailed),
		Brand:     brand,
		Address:   address,
		Reason:    reason,
	}
}

// LockAcquiredEvent is emitted when a lock slot is taken.
type LockAcquiredEvent struct {
	baseEvent
	Slot   int    `json:"slot"`
	Holder string `json:"holder"`
}

// NewLockAcquiredEvent creates a LockAcquiredEvent.
func NewLockAcquiredEvent(slot int, holder string) LockAcquiredEvent {
	return LockAcquiredEvent{
		baseEvent: newBaseEvent(TypeLockAcquired),
		Slot:      slot,
		Holder:    holder,
	}
}

// LockReleasedEvent is emitted after a release attempt.
type LockReleasedEvent struct {
	baseEvent
	Slot     int    `json:"slot"`
	Holder   string `json:"holder"`
	Released bool   `json:"released"` // false when the slot had expired or changed hands
}

// NewLockReleasedEvent creates a LockReleasedEvent.
func NewLockReleasedEvent(slot int, holder string, released bool) LockReleasedEvent {
	return LockReleasedEvent{
		baseEvent: newBaseEvent(TypeLockReleased),
		Slot:      slot,
		Holder:    holder,
		Released:  released,
	}
}
