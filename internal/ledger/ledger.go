// Package ledger хранит баллы пользователей и остатки товаров в Redis.
//
// Каждая запись - hash с полями quantity и version. Запись создается лениво: при промахе
// кэша значение загружается из origin store и досеивается в Redis. Все изменения выполняются
// одним Lua-скриптом, поэтому списания по одному ключу линеаризуемы.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/akriventsev/hotdeal/framework/metrics"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrInsufficientQuantity текущего количества меньше запрошенного; запись не изменена
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	// ErrSourceNotFound записи нет ни в кэше, ни в origin store (или quantity там null)
	ErrSourceNotFound = errors.New("source record not found")
	// ErrVersionCorrupt version в кэше не является неотрицательным целым
	ErrVersionCorrupt = errors.New("cached version is corrupt")
	// ErrQuantityCorrupt quantity в кэше не является неотрицательным целым
	ErrQuantityCorrupt = errors.New("cached quantity is corrupt")
	// ErrUnavailable кэш или origin store недоступны, либо истек таймаут
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrInvalidAmount отрицательное количество
	ErrInvalidAmount = errors.New("amount must not be negative")
)

// Идентификаторы ключей леджеров
type (
	UserID  int64
	ItemID  int64
	StoreID int64
)

// Key допустимые типы ключей
type Key interface {
	~int64 | ~string
}

// Record состояние записи леджера
type Record struct {
	Quantity int64
	Version  int64
}

// Source origin store для леджера.
// Load возвращает ErrSourceNotFound, если записи нет или quantity не задан.
type Source[K Key] interface {
	Load(ctx context.Context, key K) (Record, error)
}

// SourceFunc адаптер функции к Source
type SourceFunc[K Key] func(ctx context.Context, key K) (Record, error)

// Load реализует Source
func (f SourceFunc[K]) Load(ctx context.Context, key K) (Record, error) {
	return f(ctx, key)
}

// Config конфигурация леджера
type Config struct {
	// Name имя леджера в логах и метриках ("points", "inventory")
	Name string
	// KeyPrefix префикс ключей в Redis
	KeyPrefix string
	// CallTimeout ограничивает каждый вызов Redis и origin store
	CallTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig(name, prefix string) Config {
	return Config{
		Name:        name,
		KeyPrefix:   prefix,
		CallTimeout: 2 * time.Second,
	}
}

// Option опция леджера и кэша существования
type Option func(*options)

type options struct {
	metrics *metrics.Metrics
}

// WithMetrics включает запись метрик
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Ledger версионированный леджер поверх Redis
type Ledger[K Key] struct {
	config  Config
	client  redis.Scripter
	source  Source[K]
	metrics *metrics.Metrics
}

// New создает леджер
func New[K Key](client redis.Scripter, source Source[K], config Config, opts ...Option) *Ledger[K] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 2 * time.Second
	}
	return &Ledger[K]{
		config:  config,
		client:  client,
		source:  source,
		metrics: o.metrics,
	}
}

// NewPoints создает леджер баллов пользователей
func NewPoints(client redis.Scripter, source Source[UserID], config Config, opts ...Option) *Ledger[UserID] {
	return New[UserID](client, source, config, opts...)
}

// NewInventory создает леджер остатков товаров
func NewInventory(client redis.Scripter, source Source[ItemID], config Config, opts ...Option) *Ledger[ItemID] {
	return New[ItemID](client, source, config, opts...)
}

// Name возвращает имя леджера
func (l *Ledger[K]) Name() string {
	return l.config.Name
}

// Key возвращает ключ Redis для записи
func (l *Ledger[K]) Key(key K) string {
	return l.config.KeyPrefix + fmt.Sprint(key)
}

// LoadOrInit возвращает текущую запись, загружая ее из origin при промахе.
// Повторный вызов без изменений между ними возвращает ту же запись.
func (l *Ledger[K]) LoadOrInit(ctx context.Context, key K) (rec Record, err error) {
	defer l.observe(ctx, "load", time.Now(), &err)

	rec, err = l.runWithSeed(ctx, loadScript, key)
	return rec, err
}

// GuardedDecrement атомарно списывает amount, если его хватает, и увеличивает версию на 1.
// При нехватке возвращает ErrInsufficientQuantity и не меняет запись.
func (l *Ledger[K]) GuardedDecrement(ctx context.Context, key K, amount int64) (rec Record, err error) {
	defer l.observe(ctx, "decrement", time.Now(), &err)

	if amount < 0 {
		return Record{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return l.runWithSeed(ctx, decrementScript, key, strconv.FormatInt(amount, 10))
}

// Restore атомарно возвращает amount и увеличивает версию на 1.
// Используется компенсацией; отсутствующая запись не создается.
func (l *Ledger[K]) Restore(ctx context.Context, key K, amount int64) (rec Record, err error) {
	defer l.observe(ctx, "restore", time.Now(), &err)

	if amount < 0 {
		return Record{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	res, err := l.run(ctx, restoreScript, key, strconv.FormatInt(amount, 10))
	if err != nil {
		return Record{}, err
	}
	if res.status == scriptMiss {
		return Record{}, fmt.Errorf("%w: %s is not cached, nothing to restore", ErrSourceNotFound, l.Key(key))
	}
	return l.decode(key, res, amount)
}

// runWithSeed выполняет скрипт; при промахе загружает запись из origin и повторяет скрипт с seed.
// Скрипт досеивает запись только если она все еще отсутствует, поэтому конкурентные промахи
// не перезаписывают списания друг друга.
func (l *Ledger[K]) runWithSeed(ctx context.Context, script *redis.Script, key K, args ...interface{}) (Record, error) {
	res, err := l.run(ctx, script, key, args...)
	if err != nil {
		return Record{}, err
	}

	if res.status == scriptMiss {
		seed, err := l.loadSource(ctx, key)
		if err != nil {
			return Record{}, err
		}

		seeded := append(append([]interface{}{}, args...),
			strconv.FormatInt(seed.Quantity, 10),
			strconv.FormatInt(seed.Version, 10),
		)
		res, err = l.run(ctx, script, key, seeded...)
		if err != nil {
			return Record{}, err
		}
	}

	var amount int64
	if len(args) > 0 {
		amount, _ = strconv.ParseInt(args[0].(string), 10, 64)
	}
	return l.decode(key, res, amount)
}

func (l *Ledger[K]) run(ctx context.Context, script *redis.Script, key K, args ...interface{}) (scriptReply, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.CallTimeout)
	defer cancel()

	raw, err := script.Run(ctx, l.client, []string{l.Key(key)}, args...).StringSlice()
	if err != nil {
		return scriptReply{}, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, l.config.Name, l.Key(key), err)
	}
	res, err := parseReply(raw)
	if err != nil {
		return scriptReply{}, fmt.Errorf("%w: %s %s: malformed script reply %q", ErrUnavailable, l.config.Name, l.Key(key), raw)
	}
	return res, nil
}

func (l *Ledger[K]) loadSource(ctx context.Context, key K) (Record, error) {
	if l.source == nil {
		return Record{}, fmt.Errorf("%w: %s has no origin source", ErrSourceNotFound, l.config.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, l.config.CallTimeout)
	defer cancel()

	rec, err := l.source.Load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSourceNotFound) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("%w: %s origin lookup for %v: %v", ErrUnavailable, l.config.Name, key, err)
	}
	if rec.Quantity < 0 {
		return Record{}, fmt.Errorf("%w: origin quantity %d for %v", ErrQuantityCorrupt, rec.Quantity, key)
	}
	if rec.Version < 0 {
		return Record{}, fmt.Errorf("%w: origin version %d for %v", ErrVersionCorrupt, rec.Version, key)
	}
	return rec, nil
}

func (l *Ledger[K]) decode(key K, res scriptReply, amount int64) (Record, error) {
	switch res.status {
	case scriptOK:
		return Record{Quantity: res.quantity, Version: res.version}, nil
	case scriptInsufficient:
		return Record{}, fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientQuantity, l.Key(key), res.quantity, amount)
	case scriptBadVersion:
		return Record{}, fmt.Errorf("%w: %s", ErrVersionCorrupt, l.Key(key))
	case scriptBadQuantity:
		return Record{}, fmt.Errorf("%w: %s", ErrQuantityCorrupt, l.Key(key))
	case scriptMiss:
		// origin вернул запись, но она исчезла до повторного скрипта; вызывающий может повторить
		return Record{}, fmt.Errorf("%w: %s vanished while seeding", ErrUnavailable, l.Key(key))
	default:
		return Record{}, fmt.Errorf("%w: unknown script status %d", ErrUnavailable, res.status)
	}
}

func (l *Ledger[K]) observe(ctx context.Context, operation string, start time.Time, errp *error) {
	l.metrics.RecordLedger(ctx, l.config.Name, operation, time.Since(start), resultOf(*errp))
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientQuantity):
		return "insufficient"
	case errors.Is(err, ErrSourceNotFound):
		return "not_found"
	case errors.Is(err, ErrVersionCorrupt), errors.Is(err, ErrQuantityCorrupt):
		return "corrupt"
	default:
		return "unavailable"
	}
}
