// Package cache предоставляет подключение к Redis, используемому как кэш леджеров и журнал событий.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/akriventsev/hotdeal/framework/core"
	"github.com/redis/go-redis/v9"
)

// RedisConfig конфигурация подключения к Redis
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	PingTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Validate проверяет корректность конфигурации
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if c.DB < 0 {
		return fmt.Errorf("db cannot be negative")
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("pool size cannot be negative")
	}
	return nil
}

// DefaultRedisConfig возвращает конфигурацию Redis по умолчанию
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		PingTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisClient управляемое подключение к Redis (реализация core.Lifecycle)
type RedisClient struct {
	name    string
	config  RedisConfig
	client  *redis.Client
	mu      sync.RWMutex
	running bool
}

// NewRedisClient создает клиент и проверяет подключение
func NewRedisClient(name string, config RedisConfig) (*RedisClient, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, fmt.Sprintf("invalid redis config for %s", name))
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	pingTimeout := config.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}

	// Проверяем подключение
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis %s at %s: %w", name, config.Addr, err)
	}

	return &RedisClient{name: name, config: config, client: client}, nil
}

// WrapRedisClient оборачивает уже созданный клиент (тесты, общий пул)
func WrapRedisClient(name string, client *redis.Client) *RedisClient {
	return &RedisClient{name: name, client: client}
}

// Client возвращает go-redis клиент
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

// Name возвращает имя подключения
func (r *RedisClient) Name() string {
	return r.name
}

// Type возвращает тип компонента
func (r *RedisClient) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Start запускает адаптер (реализация core.Lifecycle)
func (r *RedisClient) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = true
	return nil
}

// Stop закрывает подключение (реализация core.Lifecycle)
func (r *RedisClient) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}
	r.running = false

	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (r *RedisClient) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// HealthCheck проверяет доступность Redis
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s ping failed: %w", r.name, err)
	}
	return nil
}

// Pool разделяет клиентов между ролями с одинаковым адресом.
// Роли с одинаковыми Addr, DB и Password получают один и тот же клиент.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*RedisClient
	order   []*RedisClient
}

// NewPool создает пул клиентов
func NewPool() *Pool {
	return &Pool{clients: make(map[string]*RedisClient)}
}

// Get возвращает клиент для роли, создавая его при необходимости
func (p *Pool) Get(role string, config RedisConfig) (*RedisClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := fmt.Sprintf("%s/%d/%s", config.Addr, config.DB, config.Password)
	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	c, err := NewRedisClient(role, config)
	if err != nil {
		return nil, err
	}
	p.clients[key] = c
	p.order = append(p.order, c)
	return c, nil
}

// Clients возвращает уникальные клиенты в порядке создания
func (p *Pool) Clients() []*RedisClient {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*RedisClient, len(p.order))
	copy(out, p.order)
	return out
}
