package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/akriventsev/hotdeal/framework/core"
	"github.com/akriventsev/hotdeal/framework/events"

	"github.com/segmentio/kafka-go"
)

// KafkaEventConfig конфигурация журнала событий на Kafka
type KafkaEventConfig struct {
	Brokers     []string
	TopicPrefix string
	Compression string // none, gzip, snappy, lz4, zstd
	Timeout     time.Duration
	// Transport транспорт клиента; nil - kafka.DefaultTransport
	Transport kafka.RoundTripper
}

// DefaultKafkaEventConfig возвращает конфигурацию Kafka по умолчанию
func DefaultKafkaEventConfig() KafkaEventConfig {
	return KafkaEventConfig{
		Brokers:     []string{"localhost:9092"},
		TopicPrefix: "hotdeal",
		Compression: "snappy",
		Timeout:     5 * time.Second,
	}
}

// Validate проверяет корректность конфигурации
func (c KafkaEventConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one broker is required")
	}
	if c.TopicPrefix == "" {
		return fmt.Errorf("topic prefix cannot be empty")
	}
	return nil
}

// KafkaEventAdapter журнал событий на Kafka.
// Все записи топика идут в партицию 0, поэтому offset строго возрастает в пределах топика.
type KafkaEventAdapter struct {
	config  KafkaEventConfig
	client  *kafka.Client
	mu      sync.RWMutex
	running bool
}

// NewKafkaEventAdapter создает новый адаптер
func NewKafkaEventAdapter(config KafkaEventConfig) (*KafkaEventAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka event config: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	client := &kafka.Client{
		Addr:      kafka.TCP(config.Brokers...),
		Timeout:   config.Timeout,
		Transport: config.Transport,
	}

	return &KafkaEventAdapter{config: config, client: client}, nil
}

// getKafkaCompression преобразует строку в kafka.Compression
func getKafkaCompression(compression string) kafka.Compression {
	switch compression {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0) // zero value - no compression
	}
}

// Topic возвращает имя Kafka топика
func (k *KafkaEventAdapter) Topic(topic string) string {
	return k.config.TopicPrefix + "." + topic
}

// Publish записывает событие и возвращает его offset
func (k *KafkaEventAdapter) Publish(ctx context.Context, topic string, fields map[string]string) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to serialize event fields: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, k.config.Timeout)
	defer cancel()

	resp, err := k.client.Produce(ctx, &kafka.ProduceRequest{
		Topic:        k.Topic(topic),
		Partition:    0,
		RequiredAcks: kafka.RequireAll,
		Compression:  getKafkaCompression(k.config.Compression),
		Records: kafka.NewRecordReader(kafka.Record{
			Time:  time.Now(),
			Key:   kafka.NewBytes([]byte(topic)),
			Value: kafka.NewBytes(data),
		}),
	})
	if err != nil {
		return "", fmt.Errorf("%w: produce %s: %v", events.ErrPublishUnavailable, k.Topic(topic), err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%w: produce %s: %v", events.ErrPublishUnavailable, k.Topic(topic), resp.Error)
	}
	if len(resp.RecordErrors) > 0 {
		return "", fmt.Errorf("%w: produce %s: %d record(s) rejected", events.ErrPublishUnavailable, k.Topic(topic), len(resp.RecordErrors))
	}

	return strconv.FormatInt(resp.BaseOffset, 10), nil
}

// Start запускает адаптер (реализация core.Lifecycle)
func (k *KafkaEventAdapter) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.running = true
	return nil
}

// Stop останавливает адаптер (реализация core.Lifecycle)
func (k *KafkaEventAdapter) Stop(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.running = false
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (k *KafkaEventAdapter) IsRunning() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.running
}

// Name возвращает имя компонента (реализация core.Component)
func (k *KafkaEventAdapter) Name() string {
	return "kafka-event-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (k *KafkaEventAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}
