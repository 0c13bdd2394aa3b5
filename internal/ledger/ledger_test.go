package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	records map[UserID]Record
	err     error
	calls   atomic.Int32
}

func (s *countingSource) Load(ctx context.Context, key UserID) (Record, error) {
	s.calls.Add(1)
	if s.err != nil {
		return Record{}, s.err
	}
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrSourceNotFound
	}
	return rec, nil
}

func newTestLedger(t *testing.T, source Source[UserID]) (*Ledger[UserID], *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewPoints(client, source, DefaultConfig("points", "point:")), mr
}

func TestGuardedDecrement_Sequential(t *testing.T) {
	src := &countingSource{records: map[UserID]Record{1: {Quantity: 1000, Version: 0}}}
	l, mr := newTestLedger(t, src)
	ctx := context.Background()

	for i, want := range []int64{700, 400, 100} {
		rec, err := l.GuardedDecrement(ctx, 1, 300)
		require.NoError(t, err)
		assert.Equal(t, want, rec.Quantity)
		assert.Equal(t, int64(i+1), rec.Version)
	}

	_, err := l.GuardedDecrement(ctx, 1, 300)
	require.ErrorIs(t, err, ErrInsufficientQuantity)

	// Неудачное списание не меняет запись
	assert.Equal(t, "100", mr.HGet("point:1", "quantity"))
	assert.Equal(t, "3", mr.HGet("point:1", "version"))
	assert.Equal(t, int32(1), src.calls.Load(), "origin should be read only on the first miss")
}

func TestGuardedDecrement_SeedsFromOriginVersion(t *testing.T) {
	src := &countingSource{records: map[UserID]Record{7: {Quantity: 50, Version: 41}}}
	l, _ := newTestLedger(t, src)

	rec, err := l.GuardedDecrement(context.Background(), 7, 50)
	require.NoError(t, err)
	assert.Equal(t, Record{Quantity: 0, Version: 42}, rec)
}

func TestGuardedDecrement_ZeroAmountBumpsVersion(t *testing.T) {
	src := &countingSource{records: map[UserID]Record{1: {Quantity: 10}}}
	l, _ := newTestLedger(t, src)

	rec, err := l.GuardedDecrement(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, Record{Quantity: 10, Version: 1}, rec)
}

func TestGuardedDecrement_NegativeAmount(t *testing.T) {
	l, _ := newTestLedger(t, &countingSource{})

	_, err := l.GuardedDecrement(context.Background(), 1, -5)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLoadOrInit_Idempotent(t *testing.T) {
	src := &countingSource{records: map[UserID]Record{3: {Quantity: 250, Version: 9}}}
	l, _ := newTestLedger(t, src)
	ctx := context.Background()

	first, err := l.LoadOrInit(ctx, 3)
	require.NoError(t, err)
	second, err := l.LoadOrInit(ctx, 3)
	require.NoError(t, err)

	assert.Equal(t, Record{Quantity: 250, Version: 9}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestLoadOrInit_DoesNotOverwriteCachedEntry(t *testing.T) {
	src := &countingSource{records: map[UserID]Record{3: {Quantity: 999, Version: 0}}}
	l, mr := newTestLedger(t, src)
	mr.HSet("point:3", "quantity", "12", "version", "4")

	rec, err := l.LoadOrInit(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, Record{Quantity: 12, Version: 4}, rec)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestGuardedDecrement_MissingVersionReadsAsZero(t *testing.T) {
	l, mr := newTestLedger(t, &countingSource{})
	mr.HSet("point:5", "quantity", "5")

	rec, err := l.GuardedDecrement(context.Background(), 5, 2)
	require.NoError(t, err)
	assert.Equal(t, Record{Quantity: 3, Version: 1}, rec)
}

func TestGuardedDecrement_CorruptEntries(t *testing.T) {
	l, mr := newTestLedger(t, &countingSource{})
	ctx := context.Background()

	mr.HSet("point:1", "quantity", "5", "version", "abc")
	_, err := l.GuardedDecrement(ctx, 1, 1)
	require.ErrorIs(t, err, ErrVersionCorrupt)
	assert.Equal(t, "5", mr.HGet("point:1", "quantity"))

	mr.HSet("point:2", "quantity", "5", "version", "-1")
	_, err = l.GuardedDecrement(ctx, 2, 1)
	require.ErrorIs(t, err, ErrVersionCorrupt)

	mr.HSet("point:3", "quantity", "many", "version", "1")
	_, err = l.GuardedDecrement(ctx, 3, 1)
	require.ErrorIs(t, err, ErrQuantityCorrupt)
}

func TestGuardedDecrement_ExactAboveFloatPrecision(t *testing.T) {
	const twoPow53 = int64(1) << 53
	src := &countingSource{records: map[UserID]Record{
		1: {Quantity: twoPow53},
		2: {Quantity: twoPow53 + 1},
		3: {Quantity: math.MaxInt64, Version: math.MaxInt64 - 1},
	}}
	l, mr := newTestLedger(t, src)
	ctx := context.Background()

	// 2^53 и 2^53+1 совпадают как double
	_, err := l.GuardedDecrement(ctx, 1, twoPow53+1)
	require.ErrorIs(t, err, ErrInsufficientQuantity)
	assert.Equal(t, "9007199254740992", mr.HGet("point:1", "quantity"))

	rec, err := l.GuardedDecrement(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, Record{Quantity: twoPow53, Version: 1}, rec)

	rec, err = l.LoadOrInit(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, Record{Quantity: math.MaxInt64, Version: math.MaxInt64 - 1}, rec)

	rec, err = l.GuardedDecrement(ctx, 3, math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, Record{Quantity: 0, Version: math.MaxInt64}, rec)
}

func TestGuardedDecrement_OutOfRangeEntries(t *testing.T) {
	l, mr := newTestLedger(t, &countingSource{})
	ctx := context.Background()

	mr.HSet("point:1", "quantity", "9223372036854775808", "version", "0")
	_, err := l.GuardedDecrement(ctx, 1, 1)
	require.ErrorIs(t, err, ErrQuantityCorrupt)

	mr.HSet("point:2", "quantity", "007", "version", "0")
	_, err = l.GuardedDecrement(ctx, 2, 1)
	require.ErrorIs(t, err, ErrQuantityCorrupt)

	mr.HSet("point:3", "quantity", "5", "version", "99999999999999999999")
	_, err = l.GuardedDecrement(ctx, 3, 1)
	require.ErrorIs(t, err, ErrVersionCorrupt)
	assert.Equal(t, "5", mr.HGet("point:3", "quantity"))
}

func TestGuardedDecrement_SourceErrors(t *testing.T) {
	ctx := context.Background()

	l, mr := newTestLedger(t, &countingSource{records: map[UserID]Record{}})
	_, err := l.GuardedDecrement(ctx, 404, 1)
	require.ErrorIs(t, err, ErrSourceNotFound)
	assert.False(t, mr.Exists("point:404"), "missing origin record must not be cached")

	l, _ = newTestLedger(t, &countingSource{err: errors.New("connection refused")})
	_, err = l.GuardedDecrement(ctx, 1, 1)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestGuardedDecrement_CacheUnavailable(t *testing.T) {
	l, mr := newTestLedger(t, &countingSource{records: map[UserID]Record{1: {Quantity: 10}}})
	mr.SetError("LOADING Redis is loading the dataset in memory")

	_, err := l.GuardedDecrement(context.Background(), 1, 1)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestGuardedDecrement_Concurrent(t *testing.T) {
	const (
		initial = 10
		amount  = 3
		workers = 50
	)
	src := &countingSource{records: map[UserID]Record{1: {Quantity: initial}}}
	l, mr := newTestLedger(t, src)

	var (
		wg           sync.WaitGroup
		successes    atomic.Int32
		insufficient atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.GuardedDecrement(context.Background(), 1, amount)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrInsufficientQuantity):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(initial/amount), successes.Load())
	assert.Equal(t, int32(workers-initial/amount), insufficient.Load())
	assert.Equal(t, "1", mr.HGet("point:1", "quantity"))
	assert.Equal(t, "3", mr.HGet("point:1", "version"))
}

func TestRestore(t *testing.T) {
	src := &countingSource{records: map[UserID]Record{1: {Quantity: 100}}}
	l, _ := newTestLedger(t, src)
	ctx := context.Background()

	_, err := l.GuardedDecrement(ctx, 1, 40)
	require.NoError(t, err)

	rec, err := l.Restore(ctx, 1, 40)
	require.NoError(t, err)
	assert.Equal(t, Record{Quantity: 100, Version: 2}, rec)

	_, err = l.Restore(ctx, 2, 10)
	require.ErrorIs(t, err, ErrSourceNotFound)
}

func TestInventoryLedgerKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	src := SourceFunc[ItemID](func(ctx context.Context, key ItemID) (Record, error) {
		return Record{Quantity: 5, Version: 0}, nil
	})
	inv := NewInventory(client, src, DefaultConfig("inventory", "stock:"))

	rec, err := inv.GuardedDecrement(context.Background(), 12, 2)
	require.NoError(t, err)
	assert.Equal(t, Record{Quantity: 3, Version: 1}, rec)
	assert.Equal(t, "stock:12", inv.Key(12))
	assert.Equal(t, "3", mr.HGet("stock:12", "quantity"))
}

func TestParseReply(t *testing.T) {
	reply, err := parseReply([]string{"1", "9223372036854775807", "3"})
	require.NoError(t, err)
	assert.Equal(t, scriptReply{status: scriptOK, quantity: math.MaxInt64, version: 3}, reply)

	reply, err = parseReply([]string{"-1"})
	require.NoError(t, err)
	assert.Equal(t, scriptMiss, reply.status)

	for _, raw := range [][]string{nil, {"x"}, {"1"}, {"1", "1.5", "0"}, {"-2", "5"}} {
		_, err := parseReply(raw)
		assert.Error(t, err, "reply %q", raw)
	}
}
