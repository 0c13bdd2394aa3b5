// Package events предоставляет контракт append-only журнала событий.
package events

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Топики журнала, в которые пишет ядро заказов
const (
	TopicPointUpdated     = "point-updated"
	TopicInventoryUpdated = "inventory-updated"
	TopicOrderCreated     = "order-created"
)

// ErrPublishUnavailable возвращается, когда журнал недоступен на транспортном уровне
// (ошибка соединения, таймаут, отказ брокера).
var ErrPublishUnavailable = errors.New("event log unavailable")

// Record неизменяемая запись журнала
type Record struct {
	Topic      string
	SequenceID string
	Fields     map[string]string
	AppendedAt time.Time
}

// Publisher публикатор событий.
// Publish добавляет одну запись в упорядоченный журнал топика и возвращает
// идентификатор, строго возрастающий в пределах топика.
type Publisher interface {
	Publish(ctx context.Context, topic string, fields map[string]string) (string, error)
}

// PublisherFunc адаптер функции к Publisher
type PublisherFunc func(ctx context.Context, topic string, fields map[string]string) (string, error)

// Publish реализует Publisher
func (f PublisherFunc) Publish(ctx context.Context, topic string, fields map[string]string) (string, error) {
	return f(ctx, topic, fields)
}

// SortedKeys возвращает ключи полей в детерминированном порядке,
// чтобы одинаковые события сериализовались одинаково во всех бэкендах.
func SortedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CopyFields копирует поля события
func CopyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
