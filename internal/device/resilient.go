package device

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
	"github.com/Iron-Ham/ptzexplore/internal/logging"
	"github.com/Iron-Ham/ptzexplore/internal/retry"
)

// Defaults for the resilient wrapper.
const (
	DefaultMaxAttempts = 10
	DefaultBackoff     = time.Second
	DefaultHomeSettle  = time.Second
)

// Operation names recorded in the retry tracker.
const (
	OpCaptureStart = "capture.start"
	OpCaptureStep  = "capture.step"
	OpPosition     = "position"
)

// ResilientOptions configures a Resilient wrapper.
type ResilientOptions struct {
	MaxAttempts int
	Backoff     time.Duration
	Brand       string
	Address     string
	Logger      *logging.Logger
	Tracker     *retry.Tracker
	// Sleep overrides backoff waits, mostly for tests.
	Sleep retry.SleepFunc
}

// Resilient wraps a Driver with bounded retries and verification.
type Resilient struct {
	drv     Driver
	policy  retry.Policy
	brand   string
	address string
	logger  *logging.Logger
	tracker *retry.Tracker
}

// NewResilient wraps drv.
func NewResilient(drv Driver, opts ResilientOptions) *Resilient {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Tracker == nil {
		opts.Tracker = retry.NewTracker()
	}
	return &Resilient{
		drv: drv,
		policy: retry.Policy{
			MaxAttempts: opts.MaxAttempts,
			Backoff:     opts.Backoff,
			Sleep:       opts.Sleep,
		},
		brand:   opts.Brand,
		address: opts.Address,
		logger:  opts.Logger,
		tracker: opts.Tracker,
	}
}

// Driver returns the wrapped driver.
func (r *Resilient) Driver() Driver { return r.drv }

// Tracker returns the retry tracker.
func (r *Resilient) Tracker() *retry.Tracker { return r.tracker }

// Home moves to the reference pose (1, 1, 1) and waits settle.
func (r *Resilient) Home(ctx context.Context, settle time.Duration) error {
	if err := r.drv.MoveAbsolute(ctx, Position{Pan: 1, Tilt: 1, Zoom: 1}); err != nil {
		return r.deviceError("home", err)
	}
	if err := retry.Sleep(ctx, settle); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrCanceled, err)
	}
	return nil
}

// MoveAbsolute moves to p. Motion is attempted once.
func (r *Resilient) MoveAbsolute(ctx context.Context, p Position) error {
	if err := r.drv.MoveAbsolute(ctx, p); err != nil {
		return r.deviceError("move_absolute", err)
	}
	return nil
}

// MoveRelative moves by the given device-unit deltas. Motion is attempted
// once; the following capture reveals whether the camera responded.
func (r *Resilient) MoveRelative(ctx context.Context, pan, tilt, zoom float64) error {
	if err := r.drv.MoveRelative(ctx, pan, tilt, zoom); err != nil {
		return r.deviceError("move_relative", err)
	}
	return nil
}

// CaptureVerified captures an image into dir and verifies it decodes,
// retrying up to MaxAttempts times. Every failed artifact is deleted.
//
// On exhaustion a Fatal policy returns an error matching
// errors.ErrCaptureExhausted; a Skip policy returns skipped = true and no
// error.
func (r *Resilient) CaptureVerified(ctx context.Context, dir string, onExhausted retry.Exhaustion) (string, bool, error) {
	op := OpCaptureStep
	if onExhausted == retry.Fatal {
		op = OpCaptureStart
	}

	var good string
	out, err := r.policy.WithExhaustion(onExhausted).Do(ctx, func(attempt int) error {
		path, err := r.drv.CapturePhoto(ctx, dir)
		if err == nil {
			err = VerifyImage(path)
		}
		if err != nil {
			if path != "" {
				if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
					r.logger.Warn("failed to remove bad capture", "path", path, "error", rmErr)
				}
			}
			r.logger.Debug("capture attempt failed", "op", op, "attempt", attempt, "error", err)
			return err
		}
		good = path
		return nil
	})
	r.tracker.Record(op, out, err)

	if err != nil {
		if errors.Is(err, errors.ErrCanceled) {
			return "", false, err
		}
		return "", false, errors.NewDeviceError("capture", fmt.Errorf("%w: %w", errors.ErrCaptureExhausted, out.LastErr)).
			WithBrand(r.brand).
			WithAddress(r.address).
			WithAttempts(out.Attempts).
			WithSeverity(errors.SeverityCritical)
	}
	if out.Skipped {
		r.logger.Warn("capture skipped after exhausting attempts",
			"op", op,
			"attempts", out.Attempts,
			"reason", out.LastErr,
		)
		return "", true, nil
	}
	return good, false, nil
}

// ReadPosition reads the current pose with bounded retries. Exhaustion
// returns an error matching errors.ErrPositionUnavailable.
func (r *Resilient) ReadPosition(ctx context.Context) (Position, error) {
	var pos Position
	out, err := r.policy.WithExhaustion(retry.Fatal).Do(ctx, func(int) error {
		p, err := r.drv.ReadPosition(ctx)
		if err != nil {
			return err
		}
		pos = p
		return nil
	})
	r.tracker.Record(OpPosition, out, err)

	if err != nil {
		if errors.Is(err, errors.ErrCanceled) {
			return Position{}, err
		}
		return Position{}, errors.NewDeviceError("read_position", fmt.Errorf("%w: %w", errors.ErrPositionUnavailable, out.LastErr)).
			WithBrand(r.brand).
			WithAddress(r.address).
			WithAttempts(out.Attempts)
	}
	return pos, nil
}

// Close closes the wrapped driver.
func (r *Resilient) Close() error {
	return r.drv.Close()
}

func (r *Resilient) deviceError(op string, err error) error {
	return errors.NewDeviceError(op, err).WithBrand(r.brand).WithAddress(r.address).WithAttempts(1)
}
