// Package errors provides centralized error definitions and error handling utilities
// for ptzexplore. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - DeviceError: camera connection, motion, capture and position reads
//   - LockError: coordination store and lock slot failures
//   - LedgerError: restart ledger reads and writes
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found (agents, checkpoints, world models)
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Error Classification
//
// Exploration runs sort failures into three buckets:
//   - Fatal: the run aborts and nothing is persisted (IsFatal)
//   - Retryable: transient errors handled inside a component (IsRetryable)
//   - Everything else is reported upward as a plain failure
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that abort an exploration run.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Device-related sentinel errors
var (
	// ErrDeviceConnect indicates the camera driver handle could not be constructed.
	ErrDeviceConnect = New("camera connection failed")
	// ErrUnknownBrand indicates no driver is registered for the configured brand.
	ErrUnknownBrand = New("unknown camera brand")
	// ErrCaptureExhausted indicates every capture attempt failed verification.
	ErrCaptureExhausted = New("capture attempts exhausted")
	// ErrCorruptImage indicates a captured artifact could not be decoded.
	ErrCorruptImage = New("captured image is corrupt")
	// ErrPositionUnavailable indicates the device position could not be read.
	ErrPositionUnavailable = New("device position unavailable")
)

// Lock-related sentinel errors
var (
	// ErrNotAcquired indicates a lock slot could not be acquired before the timeout.
	ErrNotAcquired = New("lock not acquired")
	// ErrInvalidSlot indicates a lock slot outside the configured range.
	ErrInvalidSlot = New("invalid lock slot")
	// ErrTxConflict indicates an optimistic transaction kept losing to concurrent writers.
	ErrTxConflict = New("optimistic transaction conflict")
)

// Ledger and model sentinel errors
var (
	// ErrLedgerCorrupted indicates the ledger file could not be parsed.
	ErrLedgerCorrupted = New("ledger corrupted")
	// ErrNoParentModel indicates the active restart names no parent world model.
	ErrNoParentModel = New("no parent world model")
	// ErrCheckpointInvalid indicates a checkpoint file failed validation.
	ErrCheckpointInvalid = New("checkpoint invalid")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrPrecondition indicates required directories or files are missing.
	ErrPrecondition = New("precondition failed")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ExploreError is the base interface for all ptzexplore errors.
type ExploreError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

func formatPrefix(kind string, parts []string) string {
	if len(parts) == 0 {
		return kind
	}
	return fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// DeviceError represents errors raised while talking to the camera.
// The formatted message carries the brand and address only; credentials
// never appear in it.
//
// Example:
//
//	err := errors.NewDeviceError("connect", errors.ErrDeviceConnect).
//		WithBrand("axis").WithAddress("10.0.0.12")
type DeviceError struct {
	baseError
	Op       string
	Brand    string
	Address  string
	Attempts int
}

// NewDeviceError creates a new DeviceError for the named operation.
func NewDeviceError(op string, cause error) *DeviceError {
	return &DeviceError{
		baseError: baseError{
			message:  op + " failed",
			cause:    cause,
			severity: SeverityError,
		},
		Op: op,
	}
}

// WithBrand adds the camera brand to the error context.
func (e *DeviceError) WithBrand(brand string) *DeviceError {
	e.Brand = brand
	return e
}

// WithAddress adds the camera address to the error context.
func (e *DeviceError) WithAddress(addr string) *DeviceError {
	e.Address = addr
	return e
}

// WithAttempts records how many attempts were made.
func (e *DeviceError) WithAttempts(n int) *DeviceError {
	e.Attempts = n
	return e
}

// WithSeverity sets the error severity.
func (e *DeviceError) WithSeverity(s Severity) *DeviceError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *DeviceError) WithRetryable(r bool) *DeviceError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *DeviceError) Error() string {
	var parts []string
	if e.Brand != "" {
		parts = append(parts, fmt.Sprintf("brand=%s", e.Brand))
	}
	if e.Address != "" {
		parts = append(parts, fmt.Sprintf("addr=%s", e.Address))
	}
	if e.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("attempts=%d", e.Attempts))
	}
	prefix := formatPrefix("device error", parts)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *DeviceError) Is(target error) bool {
	if _, ok := target.(*DeviceError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// LockError represents coordination store and lock slot failures.
type LockError struct {
	baseError
	Slot int
	Key  string
}

// NewLockError creates a new LockError.
func NewLockError(message string, cause error) *LockError {
	return &LockError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
		Slot: -1,
	}
}

// WithSlot adds the lock slot to the error context.
func (e *LockError) WithSlot(slot int) *LockError {
	e.Slot = slot
	return e
}

// WithKey adds the store key to the error context.
func (e *LockError) WithKey(key string) *LockError {
	e.Key = key
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *LockError) WithRetryable(r bool) *LockError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *LockError) Error() string {
	var parts []string
	if e.Slot >= 0 {
		parts = append(parts, fmt.Sprintf("slot=%d", e.Slot))
	}
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%s", e.Key))
	}
	prefix := formatPrefix("lock error", parts)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *LockError) Is(target error) bool {
	if _, ok := target.(*LockError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// LedgerError represents restart ledger read and write failures.
type LedgerError struct {
	baseError
	Agent string
	Path  string
}

// NewLedgerError creates a new LedgerError.
func NewLedgerError(message string, cause error) *LedgerError {
	return &LedgerError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithAgent adds the agent name to the error context.
func (e *LedgerError) WithAgent(agent string) *LedgerError {
	e.Agent = agent
	return e
}

// WithPath adds the ledger path to the error context.
func (e *LedgerError) WithPath(path string) *LedgerError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *LedgerError) Error() string {
	var parts []string
	if e.Agent != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.Agent))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	prefix := formatPrefix("ledger error", parts)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *LedgerError) Is(target error) bool {
	if _, ok := target.(*LedgerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("agent", "agent-07")
//	fmt.Println(err) // "agent 'agent-07' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity: SeverityWarning,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if errors.Is(target, ErrPrecondition) {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			severity: SeverityWarning,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	prefix := formatPrefix("validation error", parts)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   operation,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var exploreErr ExploreError
	if As(err, &exploreErr) {
		return exploreErr.IsRetryable()
	}

	return Is(err, ErrTimeout) || Is(err, ErrTxConflict)
}

// IsFatal reports whether err must abort an exploration run without
// persisting ledger changes: connection failures, exhausted start captures
// and cancellation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrDeviceConnect) || Is(err, ErrUnknownBrand) ||
		Is(err, ErrCaptureExhausted) || Is(err, ErrCanceled) {
		return true
	}
	return GetSeverity(err) == SeverityCritical
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ExploreError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var exploreErr ExploreError
	if As(err, &exploreErr) {
		return exploreErr.Severity()
	}

	return SeverityError
}
