package repository

import (
	"context"
	"sync"
)

// InMemoryOriginStore origin store в памяти (тесты, локальный запуск)
type InMemoryOriginStore struct {
	users   map[int64]*OriginRecord
	items   map[int64]*OriginRecord
	stores  map[int64]bool
	failing error
	mu      sync.RWMutex
}

// NewInMemoryOriginStore создает пустой origin store
func NewInMemoryOriginStore() *InMemoryOriginStore {
	return &InMemoryOriginStore{
		users:  make(map[int64]*OriginRecord),
		items:  make(map[int64]*OriginRecord),
		stores: make(map[int64]bool),
	}
}

// PutUser сохраняет баллы пользователя. nil удаляет пользователя.
func (s *InMemoryOriginStore) PutUser(userID int64, rec *OriginRecord) *InMemoryOriginStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec == nil {
		delete(s.users, userID)
	} else {
		s.users[userID] = rec
	}
	return s
}

// PutItem сохраняет остаток товара. nil удаляет товар.
func (s *InMemoryOriginStore) PutItem(itemID int64, rec *OriginRecord) *InMemoryOriginStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec == nil {
		delete(s.items, itemID)
	} else {
		s.items[itemID] = rec
	}
	return s
}

// PutStore регистрирует магазин
func (s *InMemoryOriginStore) PutStore(storeID int64) *InMemoryOriginStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[storeID] = true
	return s
}

// FailWith переводит хранилище в состояние ошибки (nil - восстановить)
func (s *InMemoryOriginStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = err
}

// UserPointAndVersion возвращает баллы и версию пользователя
func (s *InMemoryOriginStore) UserPointAndVersion(ctx context.Context, userID int64) (*OriginRecord, error) {
	return s.lookup(ctx, s.users, userID)
}

// ItemCountAndVersion возвращает остаток и версию товара
func (s *InMemoryOriginStore) ItemCountAndVersion(ctx context.Context, itemID int64) (*OriginRecord, error) {
	return s.lookup(ctx, s.items, itemID)
}

// StoreExists проверяет существование магазина
func (s *InMemoryOriginStore) StoreExists(ctx context.Context, storeID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing != nil {
		return false, s.failing
	}
	return s.stores[storeID], nil
}

func (s *InMemoryOriginStore) lookup(ctx context.Context, records map[int64]*OriginRecord, id int64) (*OriginRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing != nil {
		return nil, s.failing
	}
	rec, ok := records[id]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}
