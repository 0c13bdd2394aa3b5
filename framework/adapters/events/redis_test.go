package events

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/akriventsev/hotdeal/framework/events"
)

func newTestRedisAdapter(t *testing.T) (*RedisEventAdapter, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultRedisEventConfig()
	cfg.Client = client
	cfg.StreamMaxLen = 1000

	adapter, err := NewRedisEventAdapter(cfg)
	if err != nil {
		t.Fatalf("Failed to create adapter: %v", err)
	}
	return adapter, mr, client
}

func TestRedisEventAdapter_PublishAppendsToTopicStream(t *testing.T) {
	adapter, _, client := newTestRedisAdapter(t)
	ctx := context.Background()

	first, err := adapter.Publish(ctx, events.TopicPointUpdated, map[string]string{
		"userId": "1", "remainingUserPoint": "800", "version": "1",
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	second, err := adapter.Publish(ctx, events.TopicPointUpdated, map[string]string{
		"userId": "1", "remainingUserPoint": "600", "version": "2",
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	entries, err := client.XRange(ctx, events.TopicPointUpdated, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != first || entries[1].ID != second {
		t.Errorf("Expected ids %s, %s; got %s, %s", first, second, entries[0].ID, entries[1].ID)
	}
	if entries[1].Values["remainingUserPoint"] != "600" {
		t.Errorf("Expected remainingUserPoint 600, got %v", entries[1].Values["remainingUserPoint"])
	}
}

func TestRedisEventAdapter_Unavailable(t *testing.T) {
	adapter, mr, _ := newTestRedisAdapter(t)
	mr.SetError("LOADING")

	_, err := adapter.Publish(context.Background(), events.TopicOrderCreated, map[string]string{"userId": "1"})
	if !errors.Is(err, events.ErrPublishUnavailable) {
		t.Errorf("Expected ErrPublishUnavailable, got %v", err)
	}
}

func TestRedisEventAdapter_StreamPrefix(t *testing.T) {
	cfg := DefaultRedisEventConfig()
	cfg.Client = redis.NewClient(&redis.Options{Addr: "localhost:0"})
	cfg.StreamPrefix = "hotdeal:"

	adapter, err := NewRedisEventAdapter(cfg)
	if err != nil {
		t.Fatalf("Failed to create adapter: %v", err)
	}
	if got := adapter.Stream(events.TopicInventoryUpdated); got != "hotdeal:inventory-updated" {
		t.Errorf("Expected hotdeal:inventory-updated, got %s", got)
	}
}
