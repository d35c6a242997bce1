package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/ptzexplore/internal/logging"
)

func collect(bus *Bus, pattern string) *[]string {
	var got []string
	bus.Subscribe(pattern, func(e Event) { got = append(got, e.EventType()) })
	return &got
}

func TestBus_Patterns(t *testing.T) {
	published := []Event{
		NewLockAcquiredEvent(0, "h"),
		NewStepSkippedEvent("r", 0, 1, "capture exhausted"),
		NewLockReleasedEvent(0, "h", true),
		NewStepAppliedEvent("r", 0, 2, "noop", "greedy", "0.00,0.00,0.00"),
	}

	tests := []struct {
		pattern string
		want    []string
	}{
		{Wildcard, []string{TypeLockAcquired, TypeStepSkipped, TypeLockReleased, TypeStepApplied}},
		{"lock.*", []string{TypeLockAcquired, TypeLockReleased}},
		{"step.*", []string{TypeStepSkipped, TypeStepApplied}},
		{TypeStepSkipped, []string{TypeStepSkipped}},
		{"run.*", nil},
		{"lock", nil},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			bus := NewBus(nil)
			got := collect(bus, tt.pattern)
			for _, e := range published {
				bus.Publish(e)
			}
			if strings.Join(*got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("pattern %q got %v, want %v", tt.pattern, *got, tt.want)
			}
		})
	}
}

func TestBus_SubscriptionOrder(t *testing.T) {
	bus := NewBus(nil)
	var order []string
	bus.SubscribeAll(func(Event) { order = append(order, "all") })
	bus.Subscribe(TypeRunStarted, func(Event) { order = append(order, "exact") })
	bus.Subscribe("run.*", func(Event) { order = append(order, "category") })

	bus.Publish(NewRunStartedEvent("r", "a", 1, 2))

	if got := strings.Join(order, ","); got != "all,exact,category" {
		t.Errorf("dispatch order = %s, want all,exact,category", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	var a, b int
	stopA := bus.SubscribeAll(func(Event) { a++ })
	bus.SubscribeAll(func(Event) { b++ })
	if bus.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", bus.Len())
	}

	bus.Publish(NewIterationStartedEvent("r", 0))
	stopA()
	stopA()
	bus.Publish(NewIterationStartedEvent("r", 1))

	if a != 1 || b != 2 {
		t.Errorf("calls a=%d b=%d, want 1 and 2", a, b)
	}
	if bus.Len() != 1 {
		t.Errorf("Len() = %d after unsubscribe, want 1", bus.Len())
	}
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus(nil)
	var calls int
	var stop func()
	stop = bus.SubscribeAll(func(Event) {
		calls++
		stop()
	})
	second := 0
	bus.SubscribeAll(func(Event) { second++ })

	bus.Publish(NewIterationStartedEvent("r", 0))
	bus.Publish(NewIterationStartedEvent("r", 1))

	if calls != 1 || second != 2 {
		t.Errorf("calls=%d second=%d, want 1 and 2", calls, second)
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(logging.NewWithWriter(&buf, logging.LevelDebug))

	reached := false
	bus.Subscribe(TypeStepSkipped, func(Event) { panic("boom") })
	bus.Subscribe(TypeStepSkipped, func(Event) { reached = true })

	bus.Publish(NewStepSkippedEvent("r", 0, 3, "capture exhausted"))

	if !reached {
		t.Error("handler after the panicking one was not called")
	}
	out := buf.String()
	if !strings.Contains(out, "event handler panicked") || !strings.Contains(out, TypeStepSkipped) {
		t.Errorf("panic not logged with event type:\n%s", out)
	}
}

func TestBus_Concurrent(t *testing.T) {
	bus := NewBus(nil)
	var mu sync.Mutex
	count := 0
	bus.Subscribe("iteration.*", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			bus.Publish(NewIterationStartedEvent("r", i))
		}(i)
		go func() {
			defer wg.Done()
			stop := bus.SubscribeAll(func(Event) {})
			stop()
		}()
	}
	wg.Wait()

	if count != 20 {
		t.Errorf("count = %d, want 20", count)
	}
	if bus.Len() != 1 {
		t.Errorf("Len() = %d, want 1", bus.Len())
	}
}

func TestBus_NilPublishIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(NewIterationStartedEvent("run-1", 0))
}

func TestEventConstructors(t *testing.T) {
	events := []struct {
		event Event
		want  string
	}{
		{NewRunStartedEvent("r", "a", 10, 20), TypeRunStarted},
		{NewRunPersistedEvent("r", "a", 8, time.Now(), time.Now()), TypeRunPersisted},
		{NewRunAbortedEvent("r", "a", "SEEK_START", "capture exhausted"), TypeRunAborted},
		{NewPhaseChangedEvent("r", "INIT", "SEEK_START"), TypePhaseChanged},
		{NewIterationStartedEvent("r", 0), TypeIterationStarted},
		{NewStepAppliedEvent("r", 0, 1, "short_left", "sampled", "-2.00,0.00,0.00"), TypeStepApplied},
		{NewStepSkippedEvent("r", 0, 1, "capture exhausted"), TypeStepSkipped},
		{NewCameraConnectFailedEvent("axis", "10.0.0.12", "refused"), TypeCameraConnectFailed},
		{NewLockAcquiredEvent(0, "h"), TypeLockAcquired},
		{NewLockReleasedEvent(0, "h", true), TypeLockReleased},
	}
	for _, tt := range events {
		if tt.event.EventType() != tt.want {
			t.Errorf("EventType = %q, want %q", tt.event.EventType(), tt.want)
		}
		if tt.event.Timestamp().IsZero() {
			t.Errorf("%s has zero timestamp", tt.want)
		}
	}
}
