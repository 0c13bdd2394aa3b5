package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/akriventsev/hotdeal/framework/core"
	"github.com/akriventsev/hotdeal/framework/events"

	"github.com/nats-io/nats.go"
)

// NATSEventConfig конфигурация журнала событий на NATS JetStream
type NATSEventConfig struct {
	Conn          *nats.Conn
	SubjectPrefix string
	Replicas      int
	MaxMsgs       int64
	CallTimeout   time.Duration
}

// DefaultNATSEventConfig возвращает конфигурацию NATS по умолчанию
func DefaultNATSEventConfig() NATSEventConfig {
	return NATSEventConfig{
		SubjectPrefix: "hotdeal",
		Replicas:      1,
		MaxMsgs:       -1,
		CallTimeout:   2 * time.Second,
	}
}

// NATSEventAdapter журнал событий на JetStream.
// На каждый топик создается stream с одним subject, id записи - sequence из PubAck.
type NATSEventAdapter struct {
	config  NATSEventConfig
	conn    *nats.Conn
	js      nats.JetStreamContext
	mu      sync.Mutex
	streams map[string]bool
	running bool
}

// NewNATSEventAdapter создает новый адаптер
func NewNATSEventAdapter(config NATSEventConfig) (*NATSEventAdapter, error) {
	if config.Conn == nil {
		return nil, fmt.Errorf("NATS connection is required")
	}
	if config.SubjectPrefix == "" {
		return nil, fmt.Errorf("subject prefix cannot be empty")
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 2 * time.Second
	}

	js, err := config.Conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NATSEventAdapter{
		config:  config,
		conn:    config.Conn,
		js:      js,
		streams: make(map[string]bool),
	}, nil
}

// Subject возвращает subject топика
func (n *NATSEventAdapter) Subject(topic string) string {
	return n.config.SubjectPrefix + "." + topic
}

// StreamName возвращает имя stream топика
func (n *NATSEventAdapter) StreamName(topic string) string {
	name := strings.ToUpper(n.config.SubjectPrefix + "_" + topic)
	return strings.NewReplacer("-", "_", ".", "_").Replace(name)
}

// Publish публикует запись и ждет подтверждения JetStream
func (n *NATSEventAdapter) Publish(ctx context.Context, topic string, fields map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.config.CallTimeout)
	defer cancel()

	if err := n.ensureStream(ctx, topic); err != nil {
		return "", fmt.Errorf("%w: %v", events.ErrPublishUnavailable, err)
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to serialize event fields: %w", err)
	}

	msg := nats.NewMsg(n.Subject(topic))
	msg.Data = data
	msg.Header.Set("Hotdeal-Topic", topic)

	ack, err := n.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: publish %s: %v", events.ErrPublishUnavailable, n.Subject(topic), err)
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

// ensureStream создает stream топика, если его еще нет
func (n *NATSEventAdapter) ensureStream(ctx context.Context, topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.streams[topic] {
		return nil
	}

	name := n.StreamName(topic)
	_, err := n.js.StreamInfo(name, nats.Context(ctx))
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = n.js.AddStream(&nats.StreamConfig{
			Name:      name,
			Subjects:  []string{n.Subject(topic)},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
			Replicas:  n.config.Replicas,
			MaxMsgs:   n.config.MaxMsgs,
		}, nats.Context(ctx))
	}
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", name, err)
	}

	n.streams[topic] = true
	return nil
}

// Start запускает адаптер (реализация core.Lifecycle)
func (n *NATSEventAdapter) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.running = true
	return nil
}

// Stop останавливает адаптер и сбрасывает буферы соединения (реализация core.Lifecycle)
func (n *NATSEventAdapter) Stop(ctx context.Context) error {
	n.mu.Lock()
	n.running = false
	n.mu.Unlock()

	if n.conn != nil && !n.conn.IsClosed() {
		return n.conn.Drain()
	}
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (n *NATSEventAdapter) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// Name возвращает имя компонента (реализация core.Component)
func (n *NATSEventAdapter) Name() string {
	return "nats-event-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (n *NATSEventAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет состояние соединения
func (n *NATSEventAdapter) HealthCheck(ctx context.Context) error {
	if !n.conn.IsConnected() {
		return fmt.Errorf("nats connection status: %s", n.conn.Status())
	}
	return nil
}
