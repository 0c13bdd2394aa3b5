package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/hotdeal/framework/adapters/repository"
)

func TestOriginSources(t *testing.T) {
	ctx := context.Background()
	origin := repository.NewInMemoryOriginStore().
		PutUser(1, repository.NewOriginRecord(1000, 2)).
		PutUser(2, &repository.OriginRecord{}).
		PutItem(5, &repository.OriginRecord{Quantity: new(int64)}).
		PutStore(9)

	rec, err := PointSource(origin).Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Record{Quantity: 1000, Version: 2}, rec)

	_, err = PointSource(origin).Load(ctx, 2)
	assert.ErrorIs(t, err, ErrSourceNotFound, "NULL point is treated as missing")

	_, err = PointSource(origin).Load(ctx, 3)
	assert.ErrorIs(t, err, ErrSourceNotFound)

	rec, err = InventorySource(origin).Load(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, Record{Quantity: 0, Version: 0}, rec, "NULL version reads as 0")

	exists, err := StoreSource(origin).StoreExists(ctx, 9)
	require.NoError(t, err)
	assert.True(t, exists)

	origin.FailWith(errors.New("timeout"))
	_, err = InventorySource(origin).Load(ctx, 5)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSourceNotFound)
}
