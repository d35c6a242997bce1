package event

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/Iron-Ham/ptzexplore/internal/logging"
)

// Handler receives published events.
type Handler func(Event)

// Wildcard matches every event type.
const Wildcard = "*"

type subscription struct {
	seq     uint64
	pattern string
	handler Handler
}

// matches reports whether the subscription pattern selects eventType.
// Patterns are an exact type, a category such as "lock.*", or Wildcard.
func (s subscription) matches(eventType string) bool {
	switch {
	case s.pattern == Wildcard:
		return true
	case strings.HasSuffix(s.pattern, ".*"):
		return strings.HasPrefix(eventType, strings.TrimSuffix(s.pattern, "*"))
	default:
		return s.pattern == eventType
	}
}

// Bus dispatches events synchronously on the publishing goroutine, in
// subscription order. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	seq    uint64
	logger *logging.Logger
}

// NewBus creates a Bus. Handler panics are reported to logger; a nil
// logger discards them.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Bus{logger: logger}
}

// Subscribe registers handler for events matching pattern and returns a
// function that removes it. Calling the function more than once is safe.
func (b *Bus) Subscribe(pattern string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.subs = append(b.subs, subscription{seq: seq, pattern: pattern, handler: handler})
	b.mu.Unlock()

	return func() { b.remove(seq) }
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	return b.Subscribe(Wildcard, handler)
}

func (b *Bus) remove(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.seq == seq {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish calls every matching handler. Publishing on a nil Bus does
// nothing. A panicking handler is logged and the remaining handlers still
// run.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	eventType := e.EventType()

	b.mu.RLock()
	var matched []Handler
	for _, s := range b.subs {
		if s.matches(eventType) {
			matched = append(matched, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		b.dispatch(h, e)
	}
}

func (b *Bus) dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", e.EventType(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	h(e)
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
