package events

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/akriventsev/hotdeal/framework/events"
)

func TestPublisherFactory_Memory(t *testing.T) {
	f := NewPublisherFactory()

	p, err := f.Create(DriverMemory, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	id, err := p.Publish(context.Background(), events.TopicOrderCreated, map[string]string{"userId": "1"})
	if err != nil || id != "1" {
		t.Errorf("Expected id 1, got %q (%v)", id, err)
	}
}

func TestPublisherFactory_Errors(t *testing.T) {
	f := NewPublisherFactory()

	if _, err := f.Create("rabbitmq", nil); err == nil {
		t.Error("Expected error for unknown driver")
	}
	if _, err := f.Create(DriverRedis, "not-a-config"); err == nil {
		t.Error("Expected error for wrong config type")
	}
	if _, err := f.Create(DriverNATS, DefaultNATSEventConfig()); err == nil {
		t.Error("Expected error for missing NATS connection")
	}
	if _, err := f.Create(DriverKafka, KafkaEventConfig{}); err == nil {
		t.Error("Expected error for empty broker list")
	}
	if err := f.Register(DriverMemory, func(config interface{}) (events.Publisher, error) { return nil, nil }); err == nil {
		t.Error("Expected duplicate registration error")
	}

	want := []string{DriverKafka, DriverMemory, DriverNATS, DriverRedis}
	got := f.ListRegistered()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, got[i])
		}
	}
}

func TestKafkaEventAdapter_TopicNaming(t *testing.T) {
	a, err := NewKafkaEventAdapter(DefaultKafkaEventConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if got := a.Topic(events.TopicPointUpdated); got != "hotdeal.point-updated" {
		t.Errorf("Expected hotdeal.point-updated, got %s", got)
	}
	if got := getKafkaCompression("gzip"); got != kafka.Gzip {
		t.Errorf("Expected gzip codec, got %v", got)
	}
}

func TestNATSEventAdapter_Naming(t *testing.T) {
	// Имена считаются без соединения
	a := &NATSEventAdapter{config: NATSEventConfig{SubjectPrefix: "hotdeal"}}
	if got := a.Subject(events.TopicInventoryUpdated); got != "hotdeal.inventory-updated" {
		t.Errorf("Expected hotdeal.inventory-updated, got %s", got)
	}
	if got := a.StreamName(events.TopicInventoryUpdated); got != "HOTDEAL_INVENTORY_UPDATED" {
		t.Errorf("Expected HOTDEAL_INVENTORY_UPDATED, got %s", got)
	}
}

func TestInstrumentedPublisher(t *testing.T) {
	log := events.NewInMemoryLog()
	p := Instrument(log, nil)

	if _, err := p.Publish(context.Background(), events.TopicPointUpdated, map[string]string{"userId": "1"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if log.Len() != 1 {
		t.Errorf("Expected 1 record, got %d", log.Len())
	}
	if p.Unwrap() != events.Publisher(log) {
		t.Error("Expected Unwrap to return inner publisher")
	}
}
