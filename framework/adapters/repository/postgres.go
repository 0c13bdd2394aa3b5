package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akriventsev/hotdeal/framework/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig конфигурация PostgreSQL origin store
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	UsersTable      string
	ItemsTable      string
	StoresTable     string
}

// Validate проверяет корректность конфигурации
func (c PostgresConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("DSN cannot be empty")
	}
	if c.UsersTable == "" || c.ItemsTable == "" || c.StoresTable == "" {
		return fmt.Errorf("table names cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("MaxConns must be greater than 0")
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		return fmt.Errorf("MinConns must be between 0 and MaxConns")
	}
	return nil
}

// DefaultPostgresConfig возвращает конфигурацию PostgreSQL по умолчанию
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxConns:        25,
		MinConns:        2,
		ConnMaxLifetime: 5 * time.Minute,
		UsersTable:      "users",
		ItemsTable:      "items",
		StoresTable:     "stores",
	}
}

// postgresQueries SQL запросы с экранированными именами таблиц
type postgresQueries struct {
	userPoint   string
	itemCount   string
	storeExists string
}

func buildPostgresQueries(c PostgresConfig) postgresQueries {
	users := pgx.Identifier{c.UsersTable}.Sanitize()
	items := pgx.Identifier{c.ItemsTable}.Sanitize()
	stores := pgx.Identifier{c.StoresTable}.Sanitize()

	return postgresQueries{
		userPoint:   fmt.Sprintf(`SELECT point, version FROM %s WHERE "userId" = $1`, users),
		itemCount:   fmt.Sprintf(`SELECT count, version FROM %s WHERE "itemId" = $1`, items),
		storeExists: fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE "storeId" = $1)`, stores),
	}
}

// PostgresOriginStore origin store поверх пула pgx
type PostgresOriginStore struct {
	config  PostgresConfig
	pool    *pgxpool.Pool
	queries postgresQueries
	mu      sync.RWMutex
	running bool
}

// NewPostgresOriginStore создает пул соединений и проверяет подключение
func NewPostgresOriginStore(ctx context.Context, config PostgresConfig) (*PostgresOriginStore, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid postgres config")
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL DSN: %w", err)
	}
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Проверяем подключение
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgresOriginStore{
		config:  config,
		pool:    pool,
		queries: buildPostgresQueries(config),
	}, nil
}

// UserPointAndVersion возвращает баллы и версию пользователя
func (p *PostgresOriginStore) UserPointAndVersion(ctx context.Context, userID int64) (*OriginRecord, error) {
	return p.queryRecord(ctx, p.queries.userPoint, userID)
}

// ItemCountAndVersion возвращает остаток и версию товара
func (p *PostgresOriginStore) ItemCountAndVersion(ctx context.Context, itemID int64) (*OriginRecord, error) {
	return p.queryRecord(ctx, p.queries.itemCount, itemID)
}

// StoreExists проверяет существование магазина
func (p *PostgresOriginStore) StoreExists(ctx context.Context, storeID int64) (bool, error) {
	var exists bool
	if err := p.pool.QueryRow(ctx, p.queries.storeExists, storeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check store %d: %w", storeID, err)
	}
	return exists, nil
}

func (p *PostgresOriginStore) queryRecord(ctx context.Context, query string, id int64) (*OriginRecord, error) {
	var rec OriginRecord
	err := p.pool.QueryRow(ctx, query, id).Scan(&rec.Quantity, &rec.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record %d: %w", id, err)
	}
	return &rec, nil
}

// Start запускает адаптер (реализация core.Lifecycle)
func (p *PostgresOriginStore) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	return nil
}

// Stop закрывает пул (реализация core.Lifecycle)
func (p *PostgresOriginStore) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.pool.Close()
	}
	p.running = false
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (p *PostgresOriginStore) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Name возвращает имя компонента (реализация core.Component)
func (p *PostgresOriginStore) Name() string {
	return "postgres-origin-store"
}

// Type возвращает тип компонента (реализация core.Component)
func (p *PostgresOriginStore) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет подключение
func (p *PostgresOriginStore) HealthCheck(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
