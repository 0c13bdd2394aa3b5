package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akriventsev/hotdeal/framework/metrics"
	"github.com/redis/go-redis/v9"
)

// ErrStoreNotFound магазина нет ни в кэше, ни в origin store
var ErrStoreNotFound = errors.New("store not found")

const (
	existsValue  = "1"
	missingValue = "0"
)

// ExistenceSource проверка существования магазина в origin store
type ExistenceSource interface {
	StoreExists(ctx context.Context, storeID StoreID) (bool, error)
}

// ExistenceSourceFunc адаптер функции к ExistenceSource
type ExistenceSourceFunc func(ctx context.Context, storeID StoreID) (bool, error)

// StoreExists реализует ExistenceSource
func (f ExistenceSourceFunc) StoreExists(ctx context.Context, storeID StoreID) (bool, error) {
	return f(ctx, storeID)
}

// ExistenceConfig конфигурация кэша существования
type ExistenceConfig struct {
	KeyPrefix   string
	CallTimeout time.Duration
	// NegativeTTL время жизни отрицательного результата; 0 - без истечения.
	// Положительный результат кэшируется без истечения.
	NegativeTTL time.Duration
}

// DefaultExistenceConfig возвращает конфигурацию по умолчанию
func DefaultExistenceConfig() ExistenceConfig {
	return ExistenceConfig{
		KeyPrefix:   "store:",
		CallTimeout: 2 * time.Second,
		NegativeTTL: 30 * time.Second,
	}
}

// ExistenceCache cache-aside проверка существования магазина.
// Отрицательный результат тоже кэшируется: магазин, созданный после него, не виден до истечения NegativeTTL.
type ExistenceCache struct {
	config  ExistenceConfig
	client  redis.Cmdable
	source  ExistenceSource
	metrics *metrics.Metrics
}

// NewExistenceCache создает кэш существования
func NewExistenceCache(client redis.Cmdable, source ExistenceSource, config ExistenceConfig, opts ...Option) *ExistenceCache {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 2 * time.Second
	}
	return &ExistenceCache{
		config:  config,
		client:  client,
		source:  source,
		metrics: o.metrics,
	}
}

// Key возвращает ключ Redis для магазина
func (c *ExistenceCache) Key(storeID StoreID) string {
	return fmt.Sprintf("%s%d", c.config.KeyPrefix, storeID)
}

// EnsureExists возвращает nil, если магазин существует, и ErrStoreNotFound иначе
func (c *ExistenceCache) EnsureExists(ctx context.Context, storeID StoreID) error {
	cached, err := c.get(ctx, storeID)
	if err != nil {
		return err
	}

	switch cached {
	case existsValue:
		c.metrics.RecordCacheLookup(ctx, "store", true)
		return nil
	case missingValue:
		c.metrics.RecordCacheLookup(ctx, "store", true)
		return fmt.Errorf("%w: %d", ErrStoreNotFound, storeID)
	}
	c.metrics.RecordCacheLookup(ctx, "store", false)

	exists, err := c.lookup(ctx, storeID)
	if err != nil {
		return err
	}

	if err := c.set(ctx, storeID, exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", ErrStoreNotFound, storeID)
	}
	return nil
}

// Invalidate удаляет закэшированный результат
func (c *ExistenceCache) Invalidate(ctx context.Context, storeID StoreID) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	if err := c.client.Del(ctx, c.Key(storeID)).Err(); err != nil {
		return fmt.Errorf("%w: invalidate %s: %v", ErrUnavailable, c.Key(storeID), err)
	}
	return nil
}

// get возвращает закэшированное значение или "" при промахе.
// Неизвестное значение считается промахом и перезаписывается.
func (c *ExistenceCache) get(ctx context.Context, storeID StoreID) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, c.Key(storeID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", ErrUnavailable, c.Key(storeID), err)
	}
	return val, nil
}

func (c *ExistenceCache) lookup(ctx context.Context, storeID StoreID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	exists, err := c.source.StoreExists(ctx, storeID)
	if err != nil {
		return false, fmt.Errorf("%w: origin lookup for store %d: %v", ErrUnavailable, storeID, err)
	}
	return exists, nil
}

func (c *ExistenceCache) set(ctx context.Context, storeID StoreID, exists bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	value, ttl := existsValue, time.Duration(0)
	if !exists {
		value, ttl = missingValue, c.config.NegativeTTL
	}

	if err := c.client.Set(ctx, c.Key(storeID), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, c.Key(storeID), err)
	}
	return nil
}
