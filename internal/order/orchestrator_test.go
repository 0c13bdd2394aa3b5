package order

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/hotdeal/framework/adapters/repository"
	"github.com/akriventsev/hotdeal/framework/core"
	"github.com/akriventsev/hotdeal/framework/events"
	"github.com/akriventsev/hotdeal/internal/ledger"
)

type fixture struct {
	orch      *Orchestrator
	log       *events.InMemoryLog
	origin    *repository.InMemoryOriginStore
	mr        *miniredis.Miniredis
	points    *ledger.Ledger[ledger.UserID]
	inventory *ledger.Ledger[ledger.ItemID]
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	origin := repository.NewInMemoryOriginStore().
		PutUser(1, repository.NewOriginRecord(1000, 0)).
		PutUser(2, repository.NewOriginRecord(100, 0)).
		PutItem(10, repository.NewOriginRecord(5, 0)).
		PutItem(11, repository.NewOriginRecord(1, 0)).
		PutStore(1)

	points := ledger.NewPoints(client, ledger.PointSource(origin), ledger.DefaultConfig("points", "point:"))
	inventory := ledger.NewInventory(client, ledger.InventorySource(origin), ledger.DefaultConfig("inventory", "stock:"))
	stores := ledger.NewExistenceCache(client, ledger.StoreSource(origin), ledger.DefaultExistenceConfig())
	log := events.NewInMemoryLog()

	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return &fixture{
		orch:      NewOrchestrator(stores, points, inventory, log, opts...),
		log:       log,
		origin:    origin,
		mr:        mr,
		points:    points,
		inventory: inventory,
	}
}

func (f *fixture) record(t *testing.T, key string) (string, string) {
	t.Helper()
	return f.mr.HGet(key, "quantity"), f.mr.HGet(key, "version")
}

func TestCreateOrder_Success(t *testing.T) {
	f := newFixture(t)

	req := Request{StoreID: 1, TotalPrice: 200, Items: []Item{{ItemID: 10, Count: 2}}}
	res, err := f.orch.CreateOrder(context.Background(), req, 1)
	require.NoError(t, err)
	assert.Equal(t, MessageCreated, res.Message)

	q, v := f.record(t, "point:1")
	assert.Equal(t, "800", q)
	assert.Equal(t, "1", v)
	q, v = f.record(t, "stock:10")
	assert.Equal(t, "3", q)
	assert.Equal(t, "1", v)

	all := f.log.All()
	require.Len(t, all, 3)
	assert.Equal(t, events.TopicPointUpdated, all[0].Topic)
	assert.Equal(t, map[string]string{"userId": "1", "remainingUserPoint": "800", "version": "1"}, all[0].Fields)
	assert.Equal(t, events.TopicInventoryUpdated, all[1].Topic)
	assert.Equal(t, map[string]string{"itemId": "10", "count": "2", "version": "1"}, all[1].Fields)
	assert.Equal(t, events.TopicOrderCreated, all[2].Topic)
	assert.Equal(t, "1", all[2].Fields["userId"])

	var details Request
	require.NoError(t, json.Unmarshal([]byte(all[2].Fields["details"]), &details))
	assert.Equal(t, req.StoreID, details.StoreID)
	assert.Equal(t, req.Items, details.Items)
}

func TestCreateOrder_MultipleItemsInInputOrder(t *testing.T) {
	f := newFixture(t)

	req := Request{StoreID: 1, TotalPrice: 10, Items: []Item{{ItemID: 11, Count: 1}, {ItemID: 10, Count: 4}}}
	_, err := f.orch.CreateOrder(context.Background(), req, 1)
	require.NoError(t, err)

	inv := f.log.Records(events.TopicInventoryUpdated)
	require.Len(t, inv, 2)
	assert.Equal(t, "11", inv[0].Fields["itemId"])
	assert.Equal(t, "10", inv[1].Fields["itemId"])
	assert.Equal(t, "1", inv[0].Fields["count"])
	assert.Equal(t, "4", inv[1].Fields["count"])
	assert.Equal(t, "1", inv[0].SequenceID)
	assert.Equal(t, "2", inv[1].SequenceID)
}

func TestCreateOrder_InsufficientPoints(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.CreateOrder(context.Background(), Request{StoreID: 1, TotalPrice: 500, Items: []Item{{ItemID: 10, Count: 1}}}, 2)
	require.Error(t, err)
	assert.Equal(t, core.ErrBadRequest, core.CodeOf(err))
	assert.Equal(t, MessageInsufficientPoint, core.MessageOf(err))
	assert.ErrorIs(t, err, ledger.ErrInsufficientQuantity)

	assert.Equal(t, 0, f.log.Len())
	q, v := f.record(t, "point:2")
	assert.Equal(t, "100", q)
	assert.Equal(t, "0", v)
	assert.False(t, f.mr.Exists("stock:10"), "inventory must not be touched")
}

func TestCreateOrder_UnknownStore(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.CreateOrder(context.Background(), Request{StoreID: 404, TotalPrice: 1, Items: []Item{{ItemID: 10, Count: 1}}}, 1)
	require.Error(t, err)
	assert.Equal(t, core.ErrNotFound, core.CodeOf(err))
	assert.Equal(t, MessageStoreNotFound, core.MessageOf(err))

	assert.False(t, f.mr.Exists("point:1"))
	assert.False(t, f.mr.Exists("stock:10"))
	assert.Equal(t, 0, f.log.Len())
}

func TestCreateOrder_ConcurrentLastUnit(t *testing.T) {
	f := newFixture(t)
	f.origin.PutUser(3, repository.NewOriginRecord(1000, 0))

	req := Request{StoreID: 1, TotalPrice: 10, Items: []Item{{ItemID: 11, Count: 1}}}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})
	for i, user := range []int64{1, 3} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = f.orch.CreateOrder(context.Background(), req, user)
		}()
	}
	close(start)
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrInsufficientQuantity):
			rejected++
			assert.Equal(t, MessageInsufficientStock, core.MessageOf(err))
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)

	q, _ := f.record(t, "stock:11")
	assert.Equal(t, "0", q)
	assert.Len(t, f.log.Records(events.TopicOrderCreated), 1)
}

func TestCreateOrder_OriginMisses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.CreateOrder(ctx, Request{StoreID: 1, TotalPrice: 1, Items: []Item{{ItemID: 10, Count: 1}}}, 99)
	assert.Equal(t, core.ErrBadRequest, core.CodeOf(err))
	assert.Equal(t, MessageUnknownUser, core.MessageOf(err))

	_, err = f.orch.CreateOrder(ctx, Request{StoreID: 1, TotalPrice: 1, Items: []Item{{ItemID: 99, Count: 1}}}, 1)
	assert.Equal(t, core.ErrBadRequest, core.CodeOf(err))
	assert.Equal(t, MessageUnknownItem, core.MessageOf(err))
}

func TestCreateOrder_CorruptVersion(t *testing.T) {
	f := newFixture(t)
	f.mr.HSet("point:1", "quantity", "1000", "version", "NaN")

	_, err := f.orch.CreateOrder(context.Background(), Request{StoreID: 1, TotalPrice: 1, Items: []Item{{ItemID: 10, Count: 1}}}, 1)
	assert.Equal(t, core.ErrInternal, core.CodeOf(err))
	assert.ErrorIs(t, err, ledger.ErrVersionCorrupt)
}

func TestCreateOrder_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]Request{
		"no items":       {StoreID: 1, TotalPrice: 1},
		"zero count":     {StoreID: 1, TotalPrice: 1, Items: []Item{{ItemID: 10, Count: 0}}},
		"negative price": {StoreID: 1, TotalPrice: -1, Items: []Item{{ItemID: 10, Count: 1}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.orch.CreateOrder(ctx, req, 1)
			assert.Equal(t, core.ErrBadRequest, core.CodeOf(err))
		})
	}

	_, err := f.orch.CreateOrder(ctx, Request{StoreID: 1, Items: []Item{{ItemID: 10, Count: 1}}}, 0)
	assert.Equal(t, core.ErrBadRequest, core.CodeOf(err))
	assert.False(t, f.mr.Exists("store:1"), "validation must run before any cache access")
}

func TestCreateOrder_PublishUnavailableKeepsReservations(t *testing.T) {
	f := newFixture(t)
	f.log.FailWith(errors.New("broker down"))

	_, err := f.orch.CreateOrder(context.Background(), Request{StoreID: 1, TotalPrice: 200, Items: []Item{{ItemID: 10, Count: 1}}}, 1)
	assert.Equal(t, core.ErrUnavailable, core.CodeOf(err))
	assert.ErrorIs(t, err, events.ErrPublishUnavailable)

	// Без компенсации списанные баллы не возвращаются
	q, v := f.record(t, "point:1")
	assert.Equal(t, "800", q)
	assert.Equal(t, "1", v)
	assert.False(t, f.mr.Exists("stock:10"))
}

func TestCreateOrder_NoCompensationByDefault(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.orch.CompensationEnabled())

	req := Request{StoreID: 1, TotalPrice: 100, Items: []Item{{ItemID: 10, Count: 2}, {ItemID: 11, Count: 5}}}
	_, err := f.orch.CreateOrder(context.Background(), req, 1)
	assert.Equal(t, MessageInsufficientStock, core.MessageOf(err))

	q, _ := f.record(t, "point:1")
	assert.Equal(t, "900", q)
	q, _ = f.record(t, "stock:10")
	assert.Equal(t, "3", q)
	assert.Len(t, f.log.Records(events.TopicOrderCreated), 0)
}

func TestCreateOrder_CompensationRestoresInReverseOrder(t *testing.T) {
	f := newFixture(t, WithCompensation(true))

	req := Request{StoreID: 1, TotalPrice: 100, Items: []Item{{ItemID: 10, Count: 2}, {ItemID: 11, Count: 5}}}
	_, err := f.orch.CreateOrder(context.Background(), req, 1)
	assert.Equal(t, core.ErrBadRequest, core.CodeOf(err))
	assert.Equal(t, MessageInsufficientStock, core.MessageOf(err))

	q, v := f.record(t, "point:1")
	assert.Equal(t, "1000", q)
	assert.Equal(t, "2", v, "restore bumps the version")
	q, v = f.record(t, "stock:10")
	assert.Equal(t, "5", q)
	assert.Equal(t, "2", v)

	all := f.log.All()
	require.Len(t, all, 4)
	assert.Equal(t, events.TopicPointUpdated, all[0].Topic)
	assert.Equal(t, map[string]string{"itemId": "10", "count": "2", "version": "1"}, all[1].Fields)
	assert.Equal(t, map[string]string{"itemId": "10", "count": "-2", "version": "2"}, all[2].Fields)
	assert.Equal(t, map[string]string{"userId": "1", "remainingUserPoint": "1000", "version": "2"}, all[3].Fields)
}

func TestCreateOrder_CompensationFailureIsJoined(t *testing.T) {
	f := newFixture(t, WithCompensation(true))

	req := Request{StoreID: 1, TotalPrice: 100, Items: []Item{{ItemID: 10, Count: 1}}}

	// Журнал отказывает на order-created, затем и на событиях компенсации
	publisher := events.PublisherFunc(func(ctx context.Context, topic string, fields map[string]string) (string, error) {
		if topic == events.TopicOrderCreated {
			f.log.FailWith(errors.New("broker down"))
		}
		return f.log.Publish(ctx, topic, fields)
	})
	f.orch.publisher = publisher

	_, err := f.orch.CreateOrder(context.Background(), req, 1)
	require.Error(t, err)
	assert.Equal(t, core.ErrUnavailable, core.CodeOf(err))
	assert.Contains(t, err.Error(), "compensation failed for step reserve-inventory-0")

	// Restore в кэше прошел, не удалась только публикация
	q, _ := f.record(t, "point:1")
	assert.Equal(t, "1000", q)
}
