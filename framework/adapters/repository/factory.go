package repository

import (
	"context"
	"fmt"
	"sync"
)

// Драйверы origin store
const (
	DriverPostgres = "postgres"
	DriverMongoDB  = "mongodb"
	DriverMemory   = "memory"
)

// OriginStoreFactory фабрика origin store
type OriginStoreFactory struct {
	creators map[string]func(ctx context.Context, config interface{}) (OriginStore, error)
	mu       sync.RWMutex
}

// NewOriginStoreFactory создает фабрику с зарегистрированными встроенными драйверами
func NewOriginStoreFactory() *OriginStoreFactory {
	factory := &OriginStoreFactory{
		creators: make(map[string]func(ctx context.Context, config interface{}) (OriginStore, error)),
	}

	// Регистрируем built-in адаптеры
	_ = factory.Register(DriverPostgres, func(ctx context.Context, config interface{}) (OriginStore, error) {
		cfg, ok := config.(PostgresConfig)
		if !ok {
			return nil, fmt.Errorf("invalid Postgres config type: %T", config)
		}
		return NewPostgresOriginStore(ctx, cfg)
	})

	_ = factory.Register(DriverMongoDB, func(ctx context.Context, config interface{}) (OriginStore, error) {
		cfg, ok := config.(MongoConfig)
		if !ok {
			return nil, fmt.Errorf("invalid Mongo config type: %T", config)
		}
		return NewMongoOriginStore(ctx, cfg)
	})

	_ = factory.Register(DriverMemory, func(ctx context.Context, config interface{}) (OriginStore, error) {
		if store, ok := config.(*InMemoryOriginStore); ok && store != nil {
			return store, nil
		}
		return NewInMemoryOriginStore(), nil
	})

	return factory
}

// Register регистрирует custom адаптер
func (f *OriginStoreFactory) Register(name string, creator func(ctx context.Context, config interface{}) (OriginStore, error)) error {
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

// Create создает origin store указанного типа
func (f *OriginStoreFactory) Create(ctx context.Context, driver string, config interface{}) (OriginStore, error) {
	f.mu.RLock()
	creator, exists := f.creators[driver]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}

	store, err := creator(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s origin store: %w", driver, err)
	}
	return store, nil
}
