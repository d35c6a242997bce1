package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Iron-Ham/ptzexplore/internal/event"
)

type fakeToken struct {
	err   error
	block chan struct{}
}

func (t *fakeToken) Wait() bool { return t.WaitTimeout(time.Hour) }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	if t.block == nil {
		return true
	}
	select {
	case <-t.block:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} {
	if t.block != nil {
		return t.block
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	payload map[string]any
}

type fakeClient struct {
	mu           sync.Mutex
	msgs         []published
	err          error
	block        chan struct{}
	disconnected bool
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	var m map[string]any
	_ = json.Unmarshal(payload.([]byte), &m)
	c.mu.Lock()
	c.msgs = append(c.msgs, published{topic: topic, payload: m})
	c.mu.Unlock()
	return &fakeToken{err: c.err, block: c.block}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.msgs...)
}

func TestRedactor(t *testing.T) {
	r := NewRedactor("hunter2", "")
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"password hunter2 leaked", "password *** leaked"},
		{"dial http://admin:pw@10.0.0.12/cgi: refused", "dial http://***@10.0.0.12/cgi: refused"},
		{"tcp://broker:1883", "tcp://broker:1883"},
	}
	for _, tt := range tests {
		if got := r.String(tt.in); got != tt.want {
			t.Errorf("String(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	v := r.Value(map[string]any{
		"reason": "hunter2",
		"nested": []any{"x hunter2", 3.0},
	}).(map[string]any)
	if v["reason"] != Mask || v["nested"].([]any)[0] != "x "+Mask || v["nested"].([]any)[1] != 3.0 {
		t.Errorf("Value() = %v", v)
	}
}

func TestMQTT_PublishAndClose(t *testing.T) {
	client := &fakeClient{}
	m := NewMQTT(client, Config{ClientID: "worker-1", Password: "brokerpw"}, NewRedactor("campw"), nil)

	m.Publish("run.started", map[string]any{"agent": "agent-01", "note": "brokerpw campw"})
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	msgs := client.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "ptzexplore/worker-1/run.started" {
		t.Errorf("topic = %q", msgs[0].topic)
	}
	if note := msgs[0].payload["note"]; note != "*** ***" {
		t.Errorf("note = %q, secrets should be masked", note)
	}
	if !client.disconnected {
		t.Error("Close should disconnect")
	}
	if s := m.Stats(); s.Published != 1 || s.Dropped != 0 {
		t.Errorf("Stats = %+v", s)
	}

	m.Publish("late", nil)
	if m.Stats().Dropped != 1 {
		t.Error("publish after close should be dropped")
	}
	if err := m.Close(context.Background()); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestMQTT_QueueFullDrops(t *testing.T) {
	block := make(chan struct{})
	client := &fakeClient{block: block}
	m := NewMQTT(client, Config{QueueSize: 2, PublishTimeout: time.Minute}, nil, nil)

	start := time.Now()
	for i := 0; i < 20; i++ {
		m.Publish("iteration.started", map[string]any{"iteration": i})
	}
	if time.Since(start) > time.Second {
		t.Error("Publish should never block")
	}
	if m.Stats().Dropped == 0 {
		t.Error("a full queue should drop messages")
	}

	close(block)
	if err := m.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := m.Stats()
	if s.Published+s.Dropped != 20 {
		t.Errorf("published %d + dropped %d != 20", s.Published, s.Dropped)
	}
}

func TestMQTT_PublishErrorsCounted(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	m := NewMQTT(client, Config{}, nil, nil)
	m.Publish("run.started", map[string]any{})
	_ = m.Close(context.Background())
	if s := m.Stats(); s.Errors != 1 || s.Published != 0 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestMQTT_CloseHonorsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	client := &fakeClient{block: block}
	m := NewMQTT(client, Config{PublishTimeout: time.Minute}, nil, nil)
	m.Publish("run.started", map[string]any{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Close(ctx); err == nil {
		t.Error("Close should report an interrupted flush")
	}
}

type capture struct {
	mu   sync.Mutex
	msgs []published
}

func (c *capture) Publish(topic string, payload map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, payload: payload})
}

func (c *capture) Close(context.Context) error { return nil }

func TestBridge(t *testing.T) {
	bus := event.NewBus(nil)
	pub := &capture{}
	detach := Bridge(bus, pub)

	bus.Publish(event.NewRunStartedEvent("run-1", "agent-01", 2, 3))
	bus.Publish(event.NewCameraConnectFailedEvent("axis", "10.0.0.12", "refused"))
	detach()
	bus.Publish(event.NewIterationStartedEvent("run-1", 0))

	if len(pub.msgs) != 2 {
		t.Fatalf("bridged %d events, want 2", len(pub.msgs))
	}
	start := pub.msgs[0]
	if start.topic != event.TypeRunStarted || start.payload["iterations"] != 2.0 || start.payload["movements"] != 3.0 {
		t.Errorf("run.started payload = %v", start.payload)
	}
	if start.payload["type"] != event.TypeRunStarted || start.payload["timestamp"] == "" {
		t.Errorf("payload missing type or timestamp: %v", start.payload)
	}
	failed := pub.msgs[1].payload
	if failed["address"] != "10.0.0.12" {
		t.Errorf("connect_failed payload = %v", failed)
	}
	for k := range failed {
		if strings.Contains(strings.ToLower(k), "password") {
			t.Errorf("payload has credential field %q", k)
		}
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	p.Publish("x", nil)
	if err := p.Close(context.Background()); err != nil {
		t.Error(err)
	}
}
