// Package repository предоставляет origin store: read-only источник баллов, остатков и магазинов.
package repository

import (
	"context"
	"errors"
)

// ErrUnknownDriver неизвестный драйвер origin store
var ErrUnknownDriver = errors.New("unknown origin store driver")

// OriginRecord количество и версия в origin store. nil поле означает NULL в хранилище.
type OriginRecord struct {
	Quantity *int64
	Version  *int64
}

// NewOriginRecord создает запись с заданными значениями
func NewOriginRecord(quantity, version int64) *OriginRecord {
	return &OriginRecord{Quantity: &quantity, Version: &version}
}

// OriginStore запросы к origin store.
// UserPointAndVersion и ItemCountAndVersion возвращают nil, nil, если записи нет.
type OriginStore interface {
	UserPointAndVersion(ctx context.Context, userID int64) (*OriginRecord, error)
	ItemCountAndVersion(ctx context.Context, itemID int64) (*OriginRecord, error)
	StoreExists(ctx context.Context, storeID int64) (bool, error)
}
