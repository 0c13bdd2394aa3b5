// Package metrics предоставляет систему метрик на основе OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics сборщик метрик ядра заказов
type Metrics struct {
	meter            metric.Meter
	ordersTotal      metric.Int64Counter
	orderDuration    metric.Float64Histogram
	activeOrders     metric.Int64UpDownCounter
	ledgerOpsTotal   metric.Int64Counter
	ledgerDuration   metric.Float64Histogram
	cacheLookups     metric.Int64Counter
	eventsTotal      metric.Int64Counter
	errorsTotal      metric.Int64Counter
	compensatedTotal metric.Int64Counter
}

// NewMetrics создает новый сборщик метрик
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("hotdeal")

	ordersTotal, err := meter.Int64Counter(
		"orders_total",
		metric.WithDescription("Total number of order creation attempts"),
	)
	if err != nil {
		return nil, err
	}

	orderDuration, err := meter.Float64Histogram(
		"order_duration_seconds",
		metric.WithDescription("Order creation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	activeOrders, err := meter.Int64UpDownCounter(
		"active_orders",
		metric.WithDescription("Number of orders being processed"),
	)
	if err != nil {
		return nil, err
	}

	ledgerOpsTotal, err := meter.Int64Counter(
		"ledger_operations_total",
		metric.WithDescription("Total number of ledger operations by ledger, operation and result"),
	)
	if err != nil {
		return nil, err
	}

	ledgerDuration, err := meter.Float64Histogram(
		"ledger_operation_duration_seconds",
		metric.WithDescription("Ledger operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"cache_lookups_total",
		metric.WithDescription("Cache lookups split by hit and miss"),
	)
	if err != nil {
		return nil, err
	}

	eventsTotal, err := meter.Int64Counter(
		"events_published_total",
		metric.WithDescription("Total number of events appended to the event log"),
	)
	if err != nil {
		return nil, err
	}

	errorsTotal, err := meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Total number of errors by code"),
	)
	if err != nil {
		return nil, err
	}

	compensatedTotal, err := meter.Int64Counter(
		"compensations_total",
		metric.WithDescription("Total number of compensating ledger restores"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		meter:            meter,
		ordersTotal:      ordersTotal,
		orderDuration:    orderDuration,
		activeOrders:     activeOrders,
		ledgerOpsTotal:   ledgerOpsTotal,
		ledgerDuration:   ledgerDuration,
		cacheLookups:     cacheLookups,
		eventsTotal:      eventsTotal,
		errorsTotal:      errorsTotal,
		compensatedTotal: compensatedTotal,
	}, nil
}

// RecordOrder записывает метрику заказа. code пустой при успехе.
func (m *Metrics) RecordOrder(ctx context.Context, duration time.Duration, code string) {
	if m == nil {
		return
	}
	success := code == ""
	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}

	m.ordersTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.orderDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if !success {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "order"),
			attribute.String("code", code),
		))
	}
}

// IncrementActiveOrders увеличивает счетчик заказов в обработке
func (m *Metrics) IncrementActiveOrders(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeOrders.Add(ctx, 1)
}

// DecrementActiveOrders уменьшает счетчик заказов в обработке
func (m *Metrics) DecrementActiveOrders(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeOrders.Add(ctx, -1)
}

// RecordLedger записывает метрику операции над леджером
func (m *Metrics) RecordLedger(ctx context.Context, ledger, operation string, duration time.Duration, result string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("ledger", ledger),
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.ledgerOpsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.ledgerDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCacheLookup записывает попадание или промах кэша
func (m *Metrics) RecordCacheLookup(ctx context.Context, cache string, hit bool) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.Bool("hit", hit),
	))
}

// RecordEvent записывает метрику события
func (m *Metrics) RecordEvent(ctx context.Context, topic string, success bool) {
	if m == nil {
		return
	}
	m.eventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.Bool("success", success),
	))
}

// RecordCompensation записывает метрику компенсирующего действия
func (m *Metrics) RecordCompensation(ctx context.Context, step string, success bool) {
	if m == nil {
		return
	}
	m.compensatedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.Bool("success", success),
	))
}
