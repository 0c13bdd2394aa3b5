// Package events предоставляет реализации Publisher.
package events

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// InMemoryLog реализация журнала событий в памяти.
// Идентификаторы записей - десятичные счетчики, свои для каждого топика.
type InMemoryLog struct {
	mu      sync.RWMutex
	topics  map[string][]Record
	all     []Record
	seq     map[string]uint64
	failing error
}

// NewInMemoryLog создает новый in-memory журнал
func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{
		topics: make(map[string][]Record),
		seq:    make(map[string]uint64),
	}
}

// Publish добавляет запись в топик
func (l *InMemoryLog) Publish(ctx context.Context, topic string, fields map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublishUnavailable, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failing != nil {
		return "", fmt.Errorf("%w: %v", ErrPublishUnavailable, l.failing)
	}

	l.seq[topic]++
	id := strconv.FormatUint(l.seq[topic], 10)
	rec := Record{
		Topic:      topic,
		SequenceID: id,
		Fields:     CopyFields(fields),
		AppendedAt: time.Now(),
	}
	l.topics[topic] = append(l.topics[topic], rec)
	l.all = append(l.all, rec)
	return id, nil
}

// Records возвращает копию записей топика в порядке добавления
func (l *InMemoryLog) Records(topic string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, len(l.topics[topic]))
	copy(out, l.topics[topic])
	return out
}

// All возвращает записи всех топиков в глобальном порядке добавления
func (l *InMemoryLog) All() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, len(l.all))
	copy(out, l.all)
	return out
}

// Len возвращает общее количество записей
func (l *InMemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.all)
}

// FailWith переводит журнал в состояние недоступности (nil - восстановить)
func (l *InMemoryLog) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failing = err
}

// Start реализация core.Lifecycle
func (l *InMemoryLog) Start(ctx context.Context) error { return nil }

// Stop реализация core.Lifecycle
func (l *InMemoryLog) Stop(ctx context.Context) error { return nil }

// IsRunning реализация core.Lifecycle
func (l *InMemoryLog) IsRunning() bool { return true }
