// Package events предоставляет бэкенды журнала событий: Redis Streams, NATS JetStream, Kafka и in-memory.
package events

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/akriventsev/hotdeal/framework/events"
	"github.com/akriventsev/hotdeal/framework/metrics"
)

// Драйверы журнала событий
const (
	DriverRedis  = "redis"
	DriverNATS   = "nats"
	DriverKafka  = "kafka"
	DriverMemory = "memory"
)

// PublisherFactory фабрика бэкендов журнала событий
type PublisherFactory struct {
	creators map[string]func(config interface{}) (events.Publisher, error)
	mu       sync.RWMutex
}

// NewPublisherFactory создает фабрику с зарегистрированными встроенными драйверами
func NewPublisherFactory() *PublisherFactory {
	factory := &PublisherFactory{
		creators: make(map[string]func(config interface{}) (events.Publisher, error)),
	}

	// Регистрируем built-in адаптеры
	_ = factory.Register(DriverRedis, func(config interface{}) (events.Publisher, error) {
		cfg, ok := config.(RedisEventConfig)
		if !ok {
			return nil, fmt.Errorf("invalid Redis event config type: %T", config)
		}
		return NewRedisEventAdapter(cfg)
	})

	_ = factory.Register(DriverNATS, func(config interface{}) (events.Publisher, error) {
		cfg, ok := config.(NATSEventConfig)
		if !ok {
			return nil, fmt.Errorf("invalid NATS event config type: %T", config)
		}
		return NewNATSEventAdapter(cfg)
	})

	_ = factory.Register(DriverKafka, func(config interface{}) (events.Publisher, error) {
		cfg, ok := config.(KafkaEventConfig)
		if !ok {
			return nil, fmt.Errorf("invalid Kafka event config type: %T", config)
		}
		return NewKafkaEventAdapter(cfg)
	})

	_ = factory.Register(DriverMemory, func(config interface{}) (events.Publisher, error) {
		return events.NewInMemoryLog(), nil
	})

	return factory
}

// Create создает бэкенд указанного типа
func (f *PublisherFactory) Create(driver string, config interface{}) (events.Publisher, error) {
	f.mu.RLock()
	creator, exists := f.creators[driver]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown event log driver: %s", driver)
	}

	publisher, err := creator(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s event publisher: %w", driver, err)
	}

	return publisher, nil
}

// Register регистрирует custom адаптер
func (f *PublisherFactory) Register(name string, creator func(config interface{}) (events.Publisher, error)) error {
	if name == "" {
		return fmt.Errorf("adapter name cannot be empty")
	}
	if creator == nil {
		return fmt.Errorf("creator function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.creators[name]; exists {
		return fmt.Errorf("adapter %s already registered", name)
	}

	f.creators[name] = creator
	return nil
}

// ListRegistered возвращает отсортированный список зарегистрированных драйверов
func (f *PublisherFactory) ListRegistered() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.creators))
	for name := range f.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstrumentedPublisher записывает метрики каждой публикации
type InstrumentedPublisher struct {
	next    events.Publisher
	metrics *metrics.Metrics
}

// Instrument оборачивает publisher метриками
func Instrument(next events.Publisher, m *metrics.Metrics) *InstrumentedPublisher {
	return &InstrumentedPublisher{next: next, metrics: m}
}

// Publish реализует events.Publisher
func (p *InstrumentedPublisher) Publish(ctx context.Context, topic string, fields map[string]string) (string, error) {
	id, err := p.next.Publish(ctx, topic, fields)
	p.metrics.RecordEvent(ctx, topic, err == nil)
	return id, err
}

// Unwrap возвращает исходный publisher
func (p *InstrumentedPublisher) Unwrap() events.Publisher {
	return p.next
}
