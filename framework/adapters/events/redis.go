package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/akriventsev/hotdeal/framework/core"
	"github.com/akriventsev/hotdeal/framework/events"
	"github.com/redis/go-redis/v9"
)

// RedisEventConfig конфигурация журнала событий на Redis Streams
type RedisEventConfig struct {
	Client       redis.Cmdable
	StreamPrefix string
	// StreamMaxLen приблизительный предел длины stream (0 = без ограничений)
	StreamMaxLen int64
	CallTimeout  time.Duration
}

// DefaultRedisEventConfig возвращает конфигурацию по умолчанию
func DefaultRedisEventConfig() RedisEventConfig {
	return RedisEventConfig{
		StreamPrefix: "",
		StreamMaxLen: 100000,
		CallTimeout:  2 * time.Second,
	}
}

// Validate проверяет корректность конфигурации
func (c RedisEventConfig) Validate() error {
	if c.Client == nil {
		return fmt.Errorf("redis client is required")
	}
	if c.StreamMaxLen < 0 {
		return fmt.Errorf("stream max len cannot be negative")
	}
	return nil
}

// RedisEventAdapter журнал событий на Redis Streams.
// Каждый топик - отдельный stream, id записи выдает XADD "*" и строго возрастает в пределах stream.
type RedisEventAdapter struct {
	config  RedisEventConfig
	client  redis.Cmdable
	mu      sync.RWMutex
	running bool
}

// NewRedisEventAdapter создает новый адаптер
func NewRedisEventAdapter(config RedisEventConfig) (*RedisEventAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis event config: %w", err)
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 2 * time.Second
	}
	return &RedisEventAdapter{config: config, client: config.Client}, nil
}

// Stream возвращает имя stream для топика
func (r *RedisEventAdapter) Stream(topic string) string {
	return r.config.StreamPrefix + topic
}

// Publish добавляет запись в stream топика
func (r *RedisEventAdapter) Publish(ctx context.Context, topic string, fields map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()

	values := make([]interface{}, 0, len(fields)*2)
	for _, k := range events.SortedKeys(fields) {
		values = append(values, k, fields[k])
	}

	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.Stream(topic),
		MaxLen: r.config.StreamMaxLen,
		Approx: r.config.StreamMaxLen > 0,
		ID:     "*",
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: xadd %s: %v", events.ErrPublishUnavailable, r.Stream(topic), err)
	}
	return id, nil
}

// Start запускает адаптер (реализация core.Lifecycle)
func (r *RedisEventAdapter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = true
	return nil
}

// Stop останавливает адаптер (реализация core.Lifecycle).
// Клиент принадлежит вызывающей стороне и здесь не закрывается.
func (r *RedisEventAdapter) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (r *RedisEventAdapter) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Name возвращает имя компонента (реализация core.Component)
func (r *RedisEventAdapter) Name() string {
	return "redis-event-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (r *RedisEventAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}
