package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Iron-Ham/ptzexplore/internal/logging"
)

// Defaults for Config.
const (
	DefaultTopicPrefix    = "ptzexplore"
	DefaultQueueSize      = 64
	DefaultConnectTimeout = 5 * time.Second
	DefaultPublishTimeout = 2 * time.Second
)

// Publisher sends telemetry messages.
type Publisher interface {
	// Publish queues payload under topic. It never blocks.
	Publish(topic string, payload map[string]any)
	// Close flushes queued messages until ctx is done.
	Close(ctx context.Context) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(string, map[string]any) {}
func (Nop) Close(context.Context) error    { return nil }

// Config configures the MQTT publisher.
type Config struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	Username       string
	Password       string
	QoS            byte
	QueueSize      int
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	return c
}

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Stats counts publisher outcomes.
type Stats struct {
	Published uint64
	Dropped   uint64
	Errors    uint64
}

type message struct {
	topic   string
	payload map[string]any
}

// MQTT publishes JSON messages to "<prefix>/<client id>/<topic>".
type MQTT struct {
	cfg      Config
	client   Client
	redactor *Redactor
	logger   *logging.Logger

	queue chan message
	done  chan struct{}

	mu     sync.Mutex
	closed bool
	stats  Stats
}

// Dial connects to cfg.Broker and starts a publisher. The broker password
// and redactor secrets are masked in every payload.
func Dial(ctx context.Context, cfg Config, redactor *Redactor, logger *logging.Logger) (*MQTT, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.NopLogger()
	}
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("telemetry connection lost", "broker", cfg.Broker, "error", redactor.String(err.Error()))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, fmt.Errorf("telemetry connect canceled: %w", ctx.Err())
	case <-time.After(cfg.ConnectTimeout):
		return nil, fmt.Errorf("telemetry connect to %s timed out after %s", cfg.Broker, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("telemetry connect to %s failed: %s", cfg.Broker, redactor.String(err.Error()))
	}
	logger.Info("telemetry connected", "broker", cfg.Broker, "client_id", cfg.ClientID)

	return NewMQTT(client, cfg, redactor, logger), nil
}

// NewMQTT starts a publisher over an already connected client.
func NewMQTT(client Client, cfg Config, redactor *Redactor, logger *logging.Logger) *MQTT {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.NopLogger()
	}
	if redactor == nil {
		redactor = NewRedactor()
	}
	if cfg.Password != "" {
		redactor = NewRedactor(append([]string{cfg.Password}, redactor.secrets...)...)
	}
	m := &MQTT{
		cfg:      cfg,
		client:   client,
		redactor: redactor,
		logger:   logger,
		queue:    make(chan message, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	go m.loop()
	return m
}

// Topic returns the full topic for a suffix.
func (m *MQTT) Topic(suffix string) string {
	parts := []string{m.cfg.TopicPrefix}
	if m.cfg.ClientID != "" {
		parts = append(parts, m.cfg.ClientID)
	}
	return strings.Join(append(parts, suffix), "/")
}

// Publish queues a message, dropping it when the queue is full or the
// publisher is closed.
func (m *MQTT) Publish(topic string, payload map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.stats.Dropped++
		return
	}
	select {
	case m.queue <- message{topic: topic, payload: payload}:
	default:
		m.stats.Dropped++
		m.logger.Debug("telemetry queue full, dropping message", "topic", topic)
	}
}

func (m *MQTT) loop() {
	defer close(m.done)
	for msg := range m.queue {
		m.send(msg)
	}
}

func (m *MQTT) send(msg message) {
	payload, _ := m.redactor.Value(msg.payload).(map[string]any)
	data, err := json.Marshal(payload)
	if err != nil {
		m.fail(msg.topic, err)
		return
	}
	topic := m.Topic(msg.topic)
	token := m.client.Publish(topic, m.cfg.QoS, false, data)
	if !token.WaitTimeout(m.cfg.PublishTimeout) {
		m.fail(msg.topic, fmt.Errorf("publish timeout"))
		return
	}
	if err := token.Error(); err != nil {
		m.fail(msg.topic, err)
		return
	}
	m.mu.Lock()
	m.stats.Published++
	m.mu.Unlock()
}

func (m *MQTT) fail(topic string, err error) {
	m.mu.Lock()
	m.stats.Errors++
	m.mu.Unlock()
	m.logger.Debug("telemetry publish failed", "topic", topic, "error", m.redactor.String(err.Error()))
}

// Stats returns a snapshot of the counters.
func (m *MQTT) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Close stops accepting messages, waits for the queue to drain or ctx to
// end, then disconnects.
func (m *MQTT) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	var err error
	select {
	case <-m.done:
	case <-ctx.Done():
		err = fmt.Errorf("telemetry flush interrupted: %w", ctx.Err())
	}
	m.client.Disconnect(250)
	return err
}
