package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/akriventsev/hotdeal/framework/core"
	"github.com/akriventsev/hotdeal/framework/events"
	"github.com/akriventsev/hotdeal/framework/metrics"
	"github.com/akriventsev/hotdeal/framework/observability"
	"github.com/akriventsev/hotdeal/framework/saga"
	"github.com/akriventsev/hotdeal/internal/ledger"
)

// StoreChecker проверка существования магазина
type StoreChecker interface {
	EnsureExists(ctx context.Context, storeID ledger.StoreID) error
}

// PointLedger леджер баллов пользователей
type PointLedger interface {
	GuardedDecrement(ctx context.Context, key ledger.UserID, amount int64) (ledger.Record, error)
	Restore(ctx context.Context, key ledger.UserID, amount int64) (ledger.Record, error)
}

// InventoryLedger леджер остатков товаров
type InventoryLedger interface {
	GuardedDecrement(ctx context.Context, key ledger.ItemID, amount int64) (ledger.Record, error)
	Restore(ctx context.Context, key ledger.ItemID, amount int64) (ledger.Record, error)
}

// Option опция оркестратора
type Option func(*Orchestrator)

// WithCompensation включает откат списаний при ошибке следующего шага
func WithCompensation(enabled bool) Option {
	return func(o *Orchestrator) {
		o.compensate = enabled
	}
}

// WithLogger устанавливает логгер
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics включает метрики
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithStepTimeout ограничивает каждый шаг заказа
func WithStepTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		o.stepTimeout = timeout
	}
}

// Orchestrator выполняет создание заказа.
// Шаги идут строго последовательно и прерываются на первой ошибке; по умолчанию
// уже выполненные списания не откатываются.
type Orchestrator struct {
	stores      StoreChecker
	points      PointLedger
	inventory   InventoryLedger
	publisher   events.Publisher
	logger      *slog.Logger
	metrics     *metrics.Metrics
	compensate  bool
	stepTimeout time.Duration
}

// NewOrchestrator создает оркестратор
func NewOrchestrator(stores StoreChecker, points PointLedger, inventory InventoryLedger, publisher events.Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stores:    stores,
		points:    points,
		inventory: inventory,
		publisher: publisher,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CompensationEnabled сообщает, включена ли компенсация
func (o *Orchestrator) CompensationEnabled() bool {
	return o.compensate
}

// CreateOrder создает заказ пользователя userID
func (o *Orchestrator) CreateOrder(ctx context.Context, req Request, userID int64) (result Result, err error) {
	start := time.Now()
	o.metrics.IncrementActiveOrders(ctx)

	ctx, span := observability.StartOrderSpan(ctx, userID, req.StoreID, len(req.Items))

	defer func() {
		o.metrics.DecrementActiveOrders(ctx)
		o.metrics.RecordOrder(ctx, time.Since(start), core.CodeOf(err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, core.MessageOf(err))
		}
		span.End()
	}()

	logger := o.logger.With("user_id", userID, "store_id", req.StoreID)
	if id := observability.ExtractCorrelationID(ctx); id != "" {
		logger = logger.With("correlation_id", id)
	}

	if err := req.Validate(); err != nil {
		logger.Warn("order rejected", "error", err)
		return Result{}, err
	}
	if userID <= 0 {
		logger.Warn("order rejected", "error", "invalid user id")
		return Result{}, core.NewError(core.ErrBadRequest, MessageUnknownUser)
	}

	details, err := json.Marshal(req)
	if err != nil {
		return Result{}, core.Wrap(err, core.ErrInternal, "failed to serialize order")
	}

	pipeline := o.buildPipeline(req, ledger.UserID(userID), string(details))

	execErr := pipeline.Execute(ctx)
	if execErr == nil {
		logger.Info("order created", "items", len(req.Items), "total_price", req.TotalPrice)
		return Result{Message: MessageCreated}, nil
	}

	return Result{}, o.fail(logger, execErr)
}

// fail логирует ошибку шага и возвращает ее вызывающей стороне
func (o *Orchestrator) fail(logger *slog.Logger, execErr error) error {
	var stepErr *saga.StepError
	if !errors.As(execErr, &stepErr) {
		logger.Error("order failed", "error", execErr)
		return mapTransportError(execErr)
	}

	failure := stepErr.Err
	code := core.CodeOf(failure)
	attrs := []any{"step", stepErr.Step, "code", code, "error", failure}
	if len(stepErr.Compensated) > 0 {
		attrs = append(attrs, "compensated", stepErr.Compensated)
	}

	switch code {
	case core.ErrBadRequest, core.ErrNotFound:
		logger.Warn("order rejected", attrs...)
	default:
		logger.Error("order failed", attrs...)
	}

	if stepErr.CompensationErr != nil {
		logger.Error("order compensation failed", "step", stepErr.Step, "error", stepErr.CompensationErr)
		return errors.Join(failure, stepErr.CompensationErr)
	}
	return failure
}

func (o *Orchestrator) buildPipeline(req Request, userID ledger.UserID, details string) *saga.Pipeline {
	p := saga.NewPipeline("create-order").
		WithCompensation(o.compensate).
		WithStepWrapper(observability.TraceStep).
		OnCompensation(func(ctx context.Context, stepName string, err error) {
			o.metrics.RecordCompensation(ctx, stepName, err == nil)
		})

	p.AddStep(o.step("validate-store").WithExecute(func(ctx context.Context) error {
		if err := o.stores.EnsureExists(ctx, ledger.StoreID(req.StoreID)); err != nil {
			return mapStoreError(err)
		}
		return nil
	}))

	var point ledger.Record
	p.AddStep(o.step("reserve-points").
		WithExecute(func(ctx context.Context) error {
			rec, err := o.points.GuardedDecrement(ctx, userID, req.TotalPrice)
			if err != nil {
				return mapPointError(err)
			}
			point = rec
			return nil
		}).
		WithCompensate(func(ctx context.Context) error {
			rec, err := o.points.Restore(ctx, userID, req.TotalPrice)
			if err != nil {
				return err
			}
			_, err = o.publisher.Publish(ctx, events.TopicPointUpdated, pointFields(userID, rec))
			return err
		}))

	p.AddStep(o.step("publish-point-event").WithExecute(func(ctx context.Context) error {
		return o.publish(ctx, events.TopicPointUpdated, pointFields(userID, point))
	}))

	for i, item := range req.Items {
		itemID := ledger.ItemID(item.ItemID)

		var stock ledger.Record
		p.AddStep(o.step(fmt.Sprintf("reserve-inventory-%d", i)).
			WithExecute(func(ctx context.Context) error {
				rec, err := o.inventory.GuardedDecrement(ctx, itemID, item.Count)
				if err != nil {
					return mapStockError(err)
				}
				stock = rec
				return nil
			}).
			WithCompensate(func(ctx context.Context) error {
				rec, err := o.inventory.Restore(ctx, itemID, item.Count)
				if err != nil {
					return err
				}
				// Отрицательный count: потребитель, вычитающий count, вернет остаток
				_, err = o.publisher.Publish(ctx, events.TopicInventoryUpdated, stockFields(itemID, -item.Count, rec))
				return err
			}))

		p.AddStep(o.step(fmt.Sprintf("publish-inventory-event-%d", i)).WithExecute(func(ctx context.Context) error {
			return o.publish(ctx, events.TopicInventoryUpdated, stockFields(itemID, item.Count, stock))
		}))
	}

	p.AddStep(o.step("publish-order-event").WithExecute(func(ctx context.Context) error {
		return o.publish(ctx, events.TopicOrderCreated, map[string]string{
			"userId":  strconv.FormatInt(int64(userID), 10),
			"details": details,
		})
	}))

	return p
}

func (o *Orchestrator) step(name string) *saga.BaseStep {
	return saga.NewBaseStep(name).WithTimeout(o.stepTimeout)
}

func (o *Orchestrator) publish(ctx context.Context, topic string, fields map[string]string) error {
	if _, err := o.publisher.Publish(ctx, topic, fields); err != nil {
		return mapTransportError(err)
	}
	return nil
}

func pointFields(userID ledger.UserID, rec ledger.Record) map[string]string {
	return map[string]string{
		"userId":             strconv.FormatInt(int64(userID), 10),
		"remainingUserPoint": strconv.FormatInt(rec.Quantity, 10),
		"version":            strconv.FormatInt(rec.Version, 10),
	}
}

// stockFields count содержит списанное количество, а не остаток
func stockFields(itemID ledger.ItemID, count int64, rec ledger.Record) map[string]string {
	return map[string]string{
		"itemId":  strconv.FormatInt(int64(itemID), 10),
		"count":   strconv.FormatInt(count, 10),
		"version": strconv.FormatInt(rec.Version, 10),
	}
}
