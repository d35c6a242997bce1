// Package locker implements named lock slots shared by independent worker
// processes through the coordination store.
//
// A slot is a single store key "<prefix>:<slot>" whose value is the holder's
// identity. Acquisition is set-if-absent with an expiry so a crashed holder
// never blocks a slot for longer than the TTL. Release is owner-checked: a
// holder whose lease expired and was taken over cannot delete the new
// holder's key.
//
// There is no fairness. Waiters poll independently and are not ordered, so
// a waiter can starve under sustained contention.
package locker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
	"github.com/Iron-Ham/ptzexplore/internal/logging"
	"github.com/Iron-Ham/ptzexplore/internal/retry"
)

// Defaults used when Options fields are zero.
const (
	DefaultPrefix              = "ptz"
	DefaultNumSlots            = 1
	DefaultTTL                 = 1800 * time.Second
	DefaultAcquireTimeout      = 10 * time.Second
	DefaultRetryInterval       = 100 * time.Millisecond
	DefaultMaxReleaseConflicts = 16
)

// Store is the subset of the coordination store the locker uses.
type Store interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string, maxConflicts int) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Identity names a lock holder. It must be unique per process run.
type Identity string

// NewIdentity returns a fresh identity of the form host:pid:uuid.
func NewIdentity() Identity {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	host = strings.ReplaceAll(host, ":", "-")
	return Identity(fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()))
}

// Options configures a Locker.
type Options struct {
	Prefix              string
	NumSlots            int
	TTL                 time.Duration
	AcquireTimeout      time.Duration
	RetryInterval       time.Duration
	MaxReleaseConflicts int
	Logger              *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.NumSlots <= 0 {
		o.NumSlots = DefaultNumSlots
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = DefaultAcquireTimeout
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.MaxReleaseConflicts <= 0 {
		o.MaxReleaseConflicts = DefaultMaxReleaseConflicts
	}
	if o.Logger == nil {
		o.Logger = logging.NopLogger()
	}
	return o
}

// Handle is an acquired slot.
type Handle struct {
	Slot       int
	Key        string
	Holder     Identity
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// SlotStatus describes one slot for status views.
type SlotStatus struct {
	Slot      int
	Key       string
	Held      bool
	Holder    Identity
	Remaining time.Duration
}

// Locker hands out lock slots.
type Locker struct {
	store Store
	opts  Options
}

// New creates a Locker over store.
func New(store Store, opts Options) *Locker {
	return &Locker{store: store, opts: opts.withDefaults()}
}

// Options returns the effective options.
func (l *Locker) Options() Options { return l.opts }

// Key returns the store key for slot.
func (l *Locker) Key(slot int) string {
	return fmt.Sprintf("%s:%d", l.opts.Prefix, slot)
}

func (l *Locker) checkSlot(slot int) error {
	if slot < 0 || slot >= l.opts.NumSlots {
		return errors.NewLockError(
			fmt.Sprintf("slot must be in [0, %d)", l.opts.NumSlots),
			errors.ErrInvalidSlot,
		).WithSlot(slot)
	}
	return nil
}

// Acquire takes slot for holder, polling every RetryInterval until
// AcquireTimeout elapses. A timeout returns an error matching
// errors.ErrNotAcquired.
func (l *Locker) Acquire(ctx context.Context, holder Identity, slot int) (*Handle, error) {
	if err := l.checkSlot(slot); err != nil {
		return nil, err
	}
	if holder == "" {
		return nil, errors.NewValidationError("holder identity is empty").WithField("holder")
	}

	key := l.Key(slot)
	logger := l.opts.Logger.With("slot", slot, "holder", string(holder))
	start := time.Now()
	attempts := 0

	var acquiredAt time.Time
	err := retry.Poll(ctx, l.opts.AcquireTimeout, l.opts.RetryInterval, func(ctx context.Context) (bool, error) {
		attempts++
		ok, err := l.store.SetNX(ctx, key, string(holder), l.opts.TTL)
		if err != nil {
			return false, err
		}
		if ok {
			acquiredAt = time.Now()
		}
		return ok, nil
	})

	switch {
	case err == nil:
		logger.Debug("lock acquired", "attempts", attempts, "waited_ms", time.Since(start).Milliseconds())
		return &Handle{
			Slot:       slot,
			Key:        key,
			Holder:     holder,
			AcquiredAt: acquiredAt,
			ExpiresAt:  acquiredAt.Add(l.opts.TTL),
		}, nil
	case errors.Is(err, errors.ErrTimeout):
		logger.Warn("lock not acquired", "attempts", attempts, "timeout", l.opts.AcquireTimeout.String())
		return nil, errors.NewLockError(
			fmt.Sprintf("timed out after %s", l.opts.AcquireTimeout),
			errors.ErrNotAcquired,
		).WithSlot(slot).WithKey(key)
	default:
		return nil, err
	}
}

// Release deletes the slot key if it is still held by h.Holder. It returns
// false, nil when the key is gone or belongs to someone else.
func (l *Locker) Release(ctx context.Context, h *Handle) (bool, error) {
	if h == nil {
		return false, nil
	}
	deleted, err := l.store.CompareAndDelete(ctx, h.Key, string(h.Holder), l.opts.MaxReleaseConflicts)
	if err != nil {
		return false, err
	}
	if !deleted {
		l.opts.Logger.Warn("lock release skipped, not held by us",
			"slot", h.Slot,
			"holder", string(h.Holder),
		)
	}
	return deleted, nil
}

// Holder returns the current holder of slot.
func (l *Locker) Holder(ctx context.Context, slot int) (Identity, bool, error) {
	if err := l.checkSlot(slot); err != nil {
		return "", false, err
	}
	val, ok, err := l.store.Get(ctx, l.Key(slot))
	if err != nil {
		return "", false, err
	}
	return Identity(val), ok, nil
}

// Slots returns the status of every slot.
func (l *Locker) Slots(ctx context.Context) ([]SlotStatus, error) {
	out := make([]SlotStatus, 0, l.opts.NumSlots)
	for slot := 0; slot < l.opts.NumSlots; slot++ {
		key := l.Key(slot)
		holder, held, err := l.Holder(ctx, slot)
		if err != nil {
			return nil, err
		}
		st := SlotStatus{Slot: slot, Key: key, Held: held, Holder: holder}
		if held {
			ttl, err := l.store.TTL(ctx, key)
			if err != nil {
				return nil, err
			}
			if ttl > 0 {
				st.Remaining = ttl
			}
		}
		out = append(out, st)
	}
	return out, nil
}
