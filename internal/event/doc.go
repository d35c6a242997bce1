// Package event provides a pub-sub event bus for the exploration loop.
//
// The episode controller and run driver publish what happens (run start,
// iterations, applied and skipped steps, persistence, aborts); the
// telemetry bridge and the run log subscribe. Publishers never know who
// listens.
//
// # Main Types
//
//   - [Event]: interface all events implement, providing EventType() and Timestamp()
//   - [Bus]: synchronous pub-sub dispatcher, safe for concurrent use
//   - [Handler]: function type for event handlers (func(Event))
//
// # Event Categories
//
// Run lifecycle:
//   - [RunStartedEvent], [RunPersistedEvent], [RunAbortedEvent]
//   - [PhaseChangedEvent]: controller phase transitions
//
// Episode progress:
//   - [IterationStartedEvent], [StepAppliedEvent], [StepSkippedEvent]
//
// Infrastructure:
//   - [CameraConnectFailedEvent]: carries the address only, never credentials
//   - [LockAcquiredEvent], [LockReleasedEvent]
//
// # Thread Safety
//
// Subscriptions select events by exact type ("step.skipped"), by category
// ("lock.*") or all of them ([Wildcard]).
//
// Handlers are called synchronously on the publishing goroutine and are
// protected by panic recovery, so a misbehaving subscriber cannot stop the
// loop. Handlers that do I/O should hand work off to their own goroutine.
package event
