// Package api предоставляет REST и gRPC входы в создание заказов.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/akriventsev/hotdeal/framework/core"
	"github.com/akriventsev/hotdeal/framework/observability"
	"github.com/akriventsev/hotdeal/internal/order"
)

// UserIDHeader заголовок с идентификатором пользователя, который выставляет шлюз аутентификации
const UserIDHeader = "X-User-ID"

// OrderService точка входа в создание заказа
type OrderService interface {
	CreateOrder(ctx context.Context, req order.Request, userID int64) (order.Result, error)
}

// RESTConfig конфигурация для REST адаптера
type RESTConfig struct {
	Port             int
	BasePath         string
	ServiceName      string
	ValidateRequests bool
	ShutdownTimeout  time.Duration
}

// DefaultRESTConfig возвращает конфигурацию REST по умолчанию
func DefaultRESTConfig() RESTConfig {
	return RESTConfig{
		Port:             8080,
		BasePath:         "/api/v1",
		ServiceName:      "hotdeal",
		ValidateRequests: true,
		ShutdownTimeout:  30 * time.Second,
	}
}

// RESTOption опция REST адаптера
type RESTOption func(*RESTAdapter)

// WithRESTLogger устанавливает логгер запросов
func WithRESTLogger(logger *slog.Logger) RESTOption {
	return func(r *RESTAdapter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithHealth публикует /health
func WithHealth(registry *observability.HealthRegistry) RESTOption {
	return func(r *RESTAdapter) {
		r.health = registry
	}
}

// WithMetricsHandler публикует /metrics
func WithMetricsHandler(handler http.Handler) RESTOption {
	return func(r *RESTAdapter) {
		r.metricsHandler = handler
	}
}

// RESTAdapter HTTP вход в создание заказов
type RESTAdapter struct {
	config         RESTConfig
	router         *gin.Engine
	orders         OrderService
	logger         *slog.Logger
	health         *observability.HealthRegistry
	metricsHandler http.Handler
	running        atomic.Bool
	server         *http.Server
}

// NewRESTAdapter создает новый REST адаптер
func NewRESTAdapter(config RESTConfig, orders OrderService, opts ...RESTOption) (*RESTAdapter, error) {
	if orders == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "order service is required")
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	adapter := &RESTAdapter{
		config: config,
		orders: orders,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(adapter)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		observability.HTTPTracingMiddleware(config.ServiceName),
		observability.CorrelationIDMiddleware(),
		observability.RequestLogger(adapter.logger),
	)

	if adapter.health != nil {
		router.GET("/health", adapter.health.Handler())
	}
	if adapter.metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(adapter.metricsHandler))
	}

	api := router.Group(config.BasePath)
	if config.ValidateRequests {
		validator, err := NewOrderAPIValidator(&ValidationOptions{
			ValidateRequest: true,
			MultiError:      true,
			Logger:          adapter.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create request validator: %w", err)
		}
		api.Use(validator.Middleware())
	}
	api.POST("/orders", adapter.createOrder)

	adapter.router = router
	return adapter, nil
}

// Handler возвращает http.Handler адаптера
func (r *RESTAdapter) Handler() http.Handler {
	return r.router
}

// Start запускает адаптер (реализация core.Lifecycle)
func (r *RESTAdapter) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", r.config.Port, err)
	}

	r.server = &http.Server{
		Handler:           r.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	r.running.Store(true)

	go func() {
		if err := r.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server stopped", "error", err)
		}
		r.running.Store(false)
	}()

	r.logger.Info("http server started", "addr", lis.Addr().String())
	return nil
}

// Stop останавливает адаптер (реализация core.Lifecycle)
func (r *RESTAdapter) Stop(ctx context.Context) error {
	r.running.Store(false)

	if r.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, r.config.ShutdownTimeout)
	defer cancel()
	return r.server.Shutdown(shutdownCtx)
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (r *RESTAdapter) IsRunning() bool {
	return r.running.Load()
}

// Name возвращает имя компонента (реализация core.Component)
func (r *RESTAdapter) Name() string {
	return "rest-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (r *RESTAdapter) Type() core.ComponentType {
	return core.ComponentTypeTransport
}

func (r *RESTAdapter) createOrder(c *gin.Context) {
	userID, err := parseUserID(c.GetHeader(UserIDHeader))
	if err != nil {
		writeError(c, err)
		return
	}

	var req order.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, core.Wrap(err, core.ErrBadRequest, "invalid order request"))
		return
	}

	result, err := r.orders.CreateOrder(c.Request.Context(), req, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// parseUserID разбирает идентификатор пользователя из доверенного заголовка
func parseUserID(raw string) (int64, error) {
	if raw == "" {
		return 0, core.NewError(core.ErrUnauthorized, order.MessageUnknownUser)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, core.NewError(core.ErrUnauthorized, order.MessageUnknownUser)
	}
	return id, nil
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(HTTPStatus(err), gin.H{
		"code":    core.CodeOf(err),
		"message": core.MessageOf(err),
	})
}

// HTTPStatus переводит код ошибки в HTTP статус
func HTTPStatus(err error) int {
	switch core.CodeOf(err) {
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrBadRequest:
		return http.StatusBadRequest
	case core.ErrUnauthorized:
		return http.StatusUnauthorized
	case core.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
