package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/ptzexplore/internal/collect"
	"github.com/Iron-Ham/ptzexplore/internal/device"
	"github.com/Iron-Ham/ptzexplore/internal/observability"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "lock.num_slots")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidBrands returns the camera brands accepted in camera.brand
func ValidBrands() []string {
	return []string{device.BrandHanwha, device.BrandAxis, device.BrandSimulated}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateCamera()...)
	errors = append(errors, c.validateCapture()...)
	errors = append(errors, c.validateExplore()...)
	errors = append(errors, c.validateActions()...)
	errors = append(errors, c.validatePolicy()...)
	errors = append(errors, c.validateModel()...)
	errors = append(errors, c.validateTracking()...)
	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateLock()...)
	errors = append(errors, c.validateTelemetry()...)
	errors = append(errors, c.validateMount()...)
	errors = append(errors, c.validateTracing()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateCamera() []ValidationError {
	var errors []ValidationError

	brand := device.NormalizeBrand(c.Camera.Brand)
	if !slices.Contains(ValidBrands(), brand) {
		errors = append(errors, ValidationError{
			Field:   "camera.brand",
			Value:   c.Camera.Brand,
			Message: fmt.Sprintf("must be one of: %s (or 0, 1)", strings.Join(ValidBrands(), ", ")),
		})
	}
	if c.Camera.HomeSettle < 0 {
		errors = append(errors, ValidationError{
			Field:   "camera.home_settle",
			Value:   c.Camera.HomeSettle,
			Message: "must be non-negative",
		})
	}
	m := c.Camera.Modulation
	if m != (device.Modulation{}) && (m.Pan <= 0 || m.Tilt <= 0 || m.Zoom <= 0) {
		errors = append(errors, ValidationError{
			Field:   "camera.modulation",
			Value:   m,
			Message: "all factors must be positive when set",
		})
	}

	return errors
}

func (c *Config) validateCapture() []ValidationError {
	var errors []ValidationError

	if c.Capture.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "capture.max_attempts",
			Value:   c.Capture.MaxAttempts,
			Message: "must be at least 1",
		})
	}
	if c.Capture.Backoff < 0 {
		errors = append(errors, ValidationError{
			Field:   "capture.backoff",
			Value:   c.Capture.Backoff,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateExplore() []ValidationError {
	var errors []ValidationError

	if c.Explore.Iterations < 1 {
		errors = append(errors, ValidationError{
			Field:   "explore.iterations",
			Value:   c.Explore.Iterations,
			Message: "must be at least 1",
		})
	}
	if c.Explore.Movements < 0 {
		errors = append(errors, ValidationError{
			Field:   "explore.movements",
			Value:   c.Explore.Movements,
			Message: "must be non-negative",
		})
	}
	if err := c.Explore.Bounds.Validate(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "explore.bounds",
			Value:   c.Explore.Bounds,
			Message: err.Error(),
		})
	}
	if c.Explore.Interval < 0 {
		errors = append(errors, ValidationError{
			Field:   "explore.interval",
			Value:   c.Explore.Interval,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateActions() []ValidationError {
	if _, err := c.ActionTable(); err != nil {
		return []ValidationError{{
			Field:   "actions.table",
			Value:   len(c.Actions.Table),
			Message: err.Error(),
		}}
	}
	return nil
}

func (c *Config) validatePolicy() []ValidationError {
	p := c.Policy.GreedyProbability
	if p < 0 || p > 1 {
		return []ValidationError{{
			Field:   "policy.greedy_probability",
			Value:   p,
			Message: "must be between 0 and 1",
		}}
	}
	return nil
}

func (c *Config) validateModel() []ValidationError {
	if strings.TrimSpace(c.Model.Tag) == "" {
		return []ValidationError{{
			Field:   "model.tag",
			Value:   c.Model.Tag,
			Message: "must not be empty",
		}}
	}
	return nil
}

func (c *Config) validateTracking() []ValidationError {
	if _, err := collect.ParseMode(c.Tracking.Mode); err != nil {
		return []ValidationError{{
			Field:   "tracking.mode",
			Value:   c.Tracking.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(collect.ValidModes(), ", ")),
		}}
	}
	return nil
}

func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	paths := []struct{ field, value string }{
		{"paths.persist", c.Paths.Persist},
		{"paths.collection", c.Paths.Collection},
		{"paths.tmp", c.Paths.Tmp},
	}
	for _, p := range paths {
		if strings.TrimSpace(p.value) == "" {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "must not be empty",
			})
		}
	}
	if c.Paths.Tmp != "" && (c.Paths.Tmp == c.Paths.Collection || c.Paths.Tmp == c.Paths.Persist) {
		errors = append(errors, ValidationError{
			Field:   "paths.tmp",
			Value:   c.Paths.Tmp,
			Message: "must differ from paths.persist and paths.collection, it is deleted after every iteration",
		})
	}

	return errors
}

func (c *Config) validateLock() []ValidationError {
	var errors []ValidationError
	if !c.Lock.Enabled {
		return nil
	}

	if strings.TrimSpace(c.Lock.Address) == "" {
		errors = append(errors, ValidationError{
			Field:   "lock.address",
			Value:   c.Lock.Address,
			Message: "is required when locking is enabled",
		})
	}
	if c.Lock.NumSlots < 1 {
		errors = append(errors, ValidationError{
			Field:   "lock.num_slots",
			Value:   c.Lock.NumSlots,
			Message: "must be at least 1",
		})
	} else if c.Lock.Slot < 0 || c.Lock.Slot >= c.Lock.NumSlots {
		errors = append(errors, ValidationError{
			Field:   "lock.slot",
			Value:   c.Lock.Slot,
			Message: fmt.Sprintf("must be in [0, %d)", c.Lock.NumSlots),
		})
	}
	durations := []struct {
		field string
		value any
		ok    bool
	}{
		{"lock.ttl", c.Lock.TTL, c.Lock.TTL > 0},
		{"lock.acquire_timeout", c.Lock.AcquireTimeout, c.Lock.AcquireTimeout > 0},
		{"lock.retry_interval", c.Lock.RetryInterval, c.Lock.RetryInterval > 0},
	}
	for _, d := range durations {
		if !d.ok {
			errors = append(errors, ValidationError{
				Field:   d.field,
				Value:   d.value,
				Message: "must be positive",
			})
		}
	}
	if c.Lock.MaxReleaseConflicts < 1 {
		errors = append(errors, ValidationError{
			Field:   "lock.max_release_conflicts",
			Value:   c.Lock.MaxReleaseConflicts,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateTelemetry() []ValidationError {
	var errors []ValidationError
	if !c.Telemetry.Enabled {
		return nil
	}

	if strings.TrimSpace(c.Telemetry.Broker) == "" {
		errors = append(errors, ValidationError{
			Field:   "telemetry.broker",
			Value:   c.Telemetry.Broker,
			Message: "is required when telemetry is enabled",
		})
	}
	if c.Telemetry.QoS < 0 || c.Telemetry.QoS > 2 {
		errors = append(errors, ValidationError{
			Field:   "telemetry.qos",
			Value:   c.Telemetry.QoS,
			Message: "must be 0, 1 or 2",
		})
	}
	if c.Telemetry.QueueSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "telemetry.queue_size",
			Value:   c.Telemetry.QueueSize,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateMount() []ValidationError {
	var errors []ValidationError
	if !c.Mount.Enabled {
		return nil
	}

	required := []struct{ field, value string }{
		{"mount.user", c.Mount.User},
		{"mount.host", c.Mount.Host},
		{"mount.remote_dir", c.Mount.RemoteDir},
		{"mount.local_dir", c.Mount.LocalDir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errors = append(errors, ValidationError{
				Field:   r.field,
				Value:   r.value,
				Message: "is required when mounting is enabled",
			})
		}
	}
	if c.Mount.Settle < 0 {
		errors = append(errors, ValidationError{
			Field:   "mount.settle",
			Value:   c.Mount.Settle,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateTracing() []ValidationError {
	var errors []ValidationError

	exp := strings.ToLower(strings.TrimSpace(c.Tracing.Exporter))
	if exp != "" && !slices.Contains(observability.ValidExporters(), exp) {
		errors = append(errors, ValidationError{
			Field:   "tracing.exporter",
			Value:   c.Tracing.Exporter,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(observability.ValidExporters(), ", ")),
		})
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errors = append(errors, ValidationError{
			Field:   "tracing.sample_ratio",
			Value:   c.Tracing.SampleRatio,
			Message: "must be between 0 and 1",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
