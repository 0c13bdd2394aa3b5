package ledger

import (
	"context"
	"fmt"

	"github.com/akriventsev/hotdeal/framework/adapters/repository"
)

// PointSource источник баллов пользователей из origin store
func PointSource(store repository.OriginStore) Source[UserID] {
	return SourceFunc[UserID](func(ctx context.Context, key UserID) (Record, error) {
		rec, err := store.UserPointAndVersion(ctx, int64(key))
		if err != nil {
			return Record{}, err
		}
		return fromOrigin(rec, "user", int64(key))
	})
}

// InventorySource источник остатков товаров из origin store
func InventorySource(store repository.OriginStore) Source[ItemID] {
	return SourceFunc[ItemID](func(ctx context.Context, key ItemID) (Record, error) {
		rec, err := store.ItemCountAndVersion(ctx, int64(key))
		if err != nil {
			return Record{}, err
		}
		return fromOrigin(rec, "item", int64(key))
	})
}

// StoreSource источник существования магазинов из origin store
func StoreSource(store repository.OriginStore) ExistenceSource {
	return ExistenceSourceFunc(func(ctx context.Context, storeID StoreID) (bool, error) {
		return store.StoreExists(ctx, int64(storeID))
	})
}

// fromOrigin: нет записи или quantity NULL - ErrSourceNotFound; version NULL читается как 0
func fromOrigin(rec *repository.OriginRecord, kind string, id int64) (Record, error) {
	if rec == nil || rec.Quantity == nil {
		return Record{}, fmt.Errorf("%w: %s %d", ErrSourceNotFound, kind, id)
	}
	out := Record{Quantity: *rec.Quantity}
	if rec.Version != nil {
		out.Version = *rec.Version
	}
	return out, nil
}
