package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akriventsev/hotdeal/framework/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig конфигурация MongoDB origin store
type MongoConfig struct {
	URI              string
	Database         string
	UsersCollection  string
	ItemsCollection  string
	StoresCollection string
	Timeout          time.Duration
	MaxPoolSize      uint64
	MinPoolSize      uint64
}

// Validate проверяет корректность конфигурации
func (c MongoConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("URI cannot be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("database cannot be empty")
	}
	if c.UsersCollection == "" || c.ItemsCollection == "" || c.StoresCollection == "" {
		return fmt.Errorf("collection names cannot be empty")
	}
	if c.MaxPoolSize == 0 {
		return fmt.Errorf("MaxPoolSize must be greater than 0")
	}
	return nil
}

// DefaultMongoConfig возвращает конфигурацию MongoDB по умолчанию
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Database:         "hotdeal",
		UsersCollection:  "users",
		ItemsCollection:  "items",
		StoresCollection: "stores",
		Timeout:          10 * time.Second,
		MaxPoolSize:      100,
		MinPoolSize:      10,
	}
}

// mongoQuantityDoc проекция документа пользователя или товара
type mongoQuantityDoc struct {
	Point   *int64 `bson:"point,omitempty"`
	Count   *int64 `bson:"count,omitempty"`
	Version *int64 `bson:"version,omitempty"`
}

// MongoOriginStore origin store поверх MongoDB.
// Документы: users {userId, point, version}, items {itemId, count, version}, stores {storeId}.
type MongoOriginStore struct {
	config  MongoConfig
	client  *mongo.Client
	users   *mongo.Collection
	items   *mongo.Collection
	stores  *mongo.Collection
	mu      sync.RWMutex
	running bool
}

// NewMongoOriginStore подключается к MongoDB и проверяет соединение
func NewMongoOriginStore(ctx context.Context, config MongoConfig) (*MongoOriginStore, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid mongodb config")
	}

	opts := options.Client().
		ApplyURI(config.URI).
		SetMaxPoolSize(config.MaxPoolSize).
		SetMinPoolSize(config.MinPoolSize)
	if config.Timeout > 0 {
		opts.SetTimeout(config.Timeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Проверяем подключение
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(config.Database)
	return &MongoOriginStore{
		config: config,
		client: client,
		users:  db.Collection(config.UsersCollection),
		items:  db.Collection(config.ItemsCollection),
		stores: db.Collection(config.StoresCollection),
	}, nil
}

// UserPointAndVersion возвращает баллы и версию пользователя
func (m *MongoOriginStore) UserPointAndVersion(ctx context.Context, userID int64) (*OriginRecord, error) {
	doc, err := m.findOne(ctx, m.users, bson.D{{Key: "userId", Value: userID}}, "point")
	if err != nil || doc == nil {
		return nil, err
	}
	return &OriginRecord{Quantity: doc.Point, Version: doc.Version}, nil
}

// ItemCountAndVersion возвращает остаток и версию товара
func (m *MongoOriginStore) ItemCountAndVersion(ctx context.Context, itemID int64) (*OriginRecord, error) {
	doc, err := m.findOne(ctx, m.items, bson.D{{Key: "itemId", Value: itemID}}, "count")
	if err != nil || doc == nil {
		return nil, err
	}
	return &OriginRecord{Quantity: doc.Count, Version: doc.Version}, nil
}

// StoreExists проверяет существование магазина
func (m *MongoOriginStore) StoreExists(ctx context.Context, storeID int64) (bool, error) {
	n, err := m.stores.CountDocuments(ctx, bson.D{{Key: "storeId", Value: storeID}}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check store %d: %w", storeID, err)
	}
	return n > 0, nil
}

func (m *MongoOriginStore) findOne(ctx context.Context, coll *mongo.Collection, filter bson.D, quantityField string) (*mongoQuantityDoc, error) {
	projection := bson.D{{Key: quantityField, Value: 1}, {Key: "version", Value: 1}, {Key: "_id", Value: 0}}

	var doc mongoQuantityDoc
	err := coll.FindOne(ctx, filter, options.FindOne().SetProjection(projection)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document in %s: %w", coll.Name(), err)
	}
	return &doc, nil
}

// Start запускает адаптер (реализация core.Lifecycle)
func (m *MongoOriginStore) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	return nil
}

// Stop отключается от MongoDB (реализация core.Lifecycle)
func (m *MongoOriginStore) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	if m.client != nil {
		return m.client.Disconnect(ctx)
	}
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (m *MongoOriginStore) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Name возвращает имя компонента (реализация core.Component)
func (m *MongoOriginStore) Name() string {
	return "mongodb-origin-store"
}

// Type возвращает тип компонента (реализация core.Component)
func (m *MongoOriginStore) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет подключение
func (m *MongoOriginStore) HealthCheck(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}
