package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/akriventsev/hotdeal/framework/core"
	"github.com/akriventsev/hotdeal/framework/observability"
	"github.com/akriventsev/hotdeal/internal/order"
)

const (
	// OrderServiceName полное имя gRPC сервиса заказов
	OrderServiceName = "hotdeal.v1.OrderService"
	// CreateOrderMethod полное имя метода создания заказа
	CreateOrderMethod = "/" + OrderServiceName + "/CreateOrder"
	// UserIDMetadataKey ключ метаданных с идентификатором пользователя
	UserIDMetadataKey = "x-user-id"
)

// GRPCConfig конфигурация для gRPC адаптера
type GRPCConfig struct {
	Port                  int
	MaxConcurrentStreams  uint32
	MaxReceiveMessageSize int
	ShutdownTimeout       time.Duration
}

// DefaultGRPCConfig возвращает конфигурацию gRPC по умолчанию
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Port:                  50051,
		MaxConcurrentStreams:  100,
		MaxReceiveMessageSize: 4 * 1024 * 1024, // 4MB
		ShutdownTimeout:       30 * time.Second,
	}
}

// orderServiceServer серверная сторона hotdeal.v1.OrderService.
// Запрос и ответ передаются как google.protobuf.Struct с теми же полями, что и REST.
type orderServiceServer interface {
	CreateOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var orderServiceDesc = grpc.ServiceDesc{
	ServiceName: OrderServiceName,
	HandlerType: (*orderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateOrder",
			Handler:    createOrderHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hotdeal/v1/order.proto",
}

func createOrderHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(orderServiceServer).CreateOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: CreateOrderMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(orderServiceServer).CreateOrder(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCAdapter gRPC вход в создание заказов
type GRPCAdapter struct {
	config  GRPCConfig
	server  *grpc.Server
	orders  OrderService
	logger  *slog.Logger
	running atomic.Bool
}

// NewGRPCAdapter создает новый gRPC адаптер и регистрирует сервис заказов
func NewGRPCAdapter(config GRPCConfig, orders OrderService, logger *slog.Logger) (*GRPCAdapter, error) {
	if orders == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "order service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	opts := []grpc.ServerOption{
		grpc.MaxConcurrentStreams(config.MaxConcurrentStreams),
		grpc.MaxRecvMsgSize(config.MaxReceiveMessageSize),
		grpc.ChainUnaryInterceptor(
			observability.GRPCTracingInterceptor(),
			loggingInterceptor(logger),
		),
	}

	adapter := &GRPCAdapter{
		config: config,
		server: grpc.NewServer(opts...),
		orders: orders,
		logger: logger,
	}
	adapter.server.RegisterService(&orderServiceDesc, adapter)

	return adapter, nil
}

// Start запускает адаптер (реализация core.Lifecycle)
func (g *GRPCAdapter) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", g.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", g.config.Port, err)
	}
	g.Serve(lis)
	g.logger.Info("grpc server started", "addr", lis.Addr().String())
	return nil
}

// Serve обслуживает соединения переданного listener в фоне
func (g *GRPCAdapter) Serve(lis net.Listener) {
	g.running.Store(true)
	go func() {
		if err := g.server.Serve(lis); err != nil {
			g.logger.Error("grpc server stopped", "error", err)
		}
		g.running.Store(false)
	}()
}

// Stop останавливает адаптер (реализация core.Lifecycle).
// Если активные вызовы не завершились за ShutdownTimeout, соединения закрываются принудительно.
func (g *GRPCAdapter) Stop(ctx context.Context) error {
	g.running.Store(false)

	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(g.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-ctx.Done():
		g.server.Stop()
	case <-timer.C:
		g.server.Stop()
	}
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (g *GRPCAdapter) IsRunning() bool {
	return g.running.Load()
}

// Name возвращает имя компонента (реализация core.Component)
func (g *GRPCAdapter) Name() string {
	return "grpc-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (g *GRPCAdapter) Type() core.ComponentType {
	return core.ComponentTypeTransport
}

// CreateOrder обрабатывает hotdeal.v1.OrderService/CreateOrder
func (g *GRPCAdapter) CreateOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFromMetadata(ctx)
	if err != nil {
		return nil, GRPCStatus(err).Err()
	}

	req, err := decodeOrderRequest(in)
	if err != nil {
		return nil, GRPCStatus(err).Err()
	}

	result, err := g.orders.CreateOrder(ctx, req, userID)
	if err != nil {
		return nil, GRPCStatus(err).Err()
	}

	out, err := structpb.NewStruct(map[string]interface{}{"message": result.Message})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

func userIDFromMetadata(ctx context.Context) (int64, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(UserIDMetadataKey)
	if len(values) == 0 {
		return parseUserID("")
	}
	return parseUserID(values[0])
}

// decodeOrderRequest переводит Struct в запрос через JSON, чтобы имена полей совпадали с REST
func decodeOrderRequest(in *structpb.Struct) (order.Request, error) {
	var req order.Request
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return req, core.Wrap(err, core.ErrBadRequest, "invalid order request")
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, core.Wrap(err, core.ErrBadRequest, "invalid order request")
	}
	return req, nil
}

// GRPCStatus переводит ошибку в gRPC статус
func GRPCStatus(err error) *status.Status {
	var code codes.Code
	switch core.CodeOf(err) {
	case core.ErrNotFound:
		code = codes.NotFound
	case core.ErrBadRequest:
		code = codes.InvalidArgument
	case core.ErrUnauthorized:
		code = codes.Unauthenticated
	case core.ErrUnavailable:
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.New(code, core.MessageOf(err))
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		attrs := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"duration", time.Since(start),
		}
		if id := observability.ExtractCorrelationID(ctx); id != "" {
			attrs = append(attrs, "correlation_id", id)
		}
		switch code {
		case codes.OK, codes.InvalidArgument, codes.NotFound, codes.Unauthenticated:
			logger.Debug("grpc request", attrs...)
		default:
			logger.Error("grpc request", append(attrs, "error", err)...)
		}
		return resp, err
	}
}

// OrderClient клиент hotdeal.v1.OrderService
type OrderClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderClient создает клиента поверх соединения
func NewOrderClient(cc grpc.ClientConnInterface) *OrderClient {
	return &OrderClient{cc: cc}
}

// CreateOrder вызывает создание заказа от имени userID
func (c *OrderClient) CreateOrder(ctx context.Context, userID int64, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, UserIDMetadataKey, strconv.FormatInt(userID, 10))
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CreateOrderMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
