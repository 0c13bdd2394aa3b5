// Copyright 2024 Potter Framework Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/akriventsev/hotdeal/framework/core"
)

// Имена tracer'ов сервиса
const (
	OrderTracer = "hotdeal.order"
	StepTracer  = "hotdeal.step"
	HTTPTracer  = "hotdeal.http"
	GRPCTracer  = "hotdeal.grpc"
)

// TracingConfig конфигурация трассировки
type TracingConfig struct {
	Enabled          bool
	ServiceName      string
	ServiceVersion   string
	Exporter         string // "jaeger", "zipkin", "otlp", "stdout"
	ExporterEndpoint string
	SamplingRate     float64 // 0.0 - 1.0
	Environment      string
}

// exporters конструкторы exporter'ов по имени
var exporters = map[string]func(cfg TracingConfig) (sdktrace.SpanExporter, error){
	"jaeger": func(cfg TracingConfig) (sdktrace.SpanExporter, error) {
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.ExporterEndpoint)))
	},
	"zipkin": func(cfg TracingConfig) (sdktrace.SpanExporter, error) {
		return zipkin.New(cfg.ExporterEndpoint)
	},
	"otlp": func(cfg TracingConfig) (sdktrace.SpanExporter, error) {
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.ExporterEndpoint),
			otlptracehttp.WithInsecure(),
		))
	},
	"stdout": func(TracingConfig) (sdktrace.SpanExporter, error) {
		return stdouttrace.New()
	},
}

// Validate проверяет конфигурацию; выключенная трассировка всегда валидна
func (c TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, ok := exporters[c.Exporter]; !ok {
		return core.NewError(core.ErrInvalidConfig, fmt.Sprintf("unknown trace exporter: %s", c.Exporter))
	}
	if c.Exporter != "stdout" && c.ExporterEndpoint == "" {
		return core.NewError(core.ErrInvalidConfig, fmt.Sprintf("trace exporter %s requires an endpoint", c.Exporter))
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return core.NewError(core.ErrInvalidConfig, "sampling rate must be within [0, 1]")
	}
	return nil
}

// TracingManager владеет TracerProvider сервиса.
// Выключенный менеджер ничего не регистрирует: глобальный provider остается no-op.
type TracingManager struct {
	config   TracingConfig
	provider *sdktrace.TracerProvider
	running  atomic.Bool
}

// NewTracingManager создает менеджер и регистрирует глобальные provider и propagator
func NewTracingManager(config TracingConfig) (*TracingManager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	tm := &TracingManager{config: config}
	if !config.Enabled {
		return tm, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := exporters[config.Exporter](config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s exporter: %w", config.Exporter, err)
	}

	tm.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(samplerFor(config.SamplingRate))),
	)
	otel.SetTracerProvider(tm.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tm, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Name возвращает имя компонента
func (tm *TracingManager) Name() string { return "tracing" }

// Type возвращает тип компонента
func (tm *TracingManager) Type() core.ComponentType { return core.ComponentTypeAdapter }

// Enabled сообщает, экспортируются ли спаны
func (tm *TracingManager) Enabled() bool { return tm.provider != nil }

// Start запускает менеджер (реализация core.Lifecycle)
func (tm *TracingManager) Start(ctx context.Context) error {
	tm.running.Store(true)
	return nil
}

// Stop сбрасывает накопленные спаны и закрывает exporter
func (tm *TracingManager) Stop(ctx context.Context) error {
	tm.running.Store(false)
	if tm.provider == nil {
		return nil
	}
	if err := tm.provider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("failed to flush spans: %w", err)
	}
	return tm.provider.Shutdown(ctx)
}

// IsRunning проверяет статус
func (tm *TracingManager) IsRunning() bool {
	return tm.running.Load()
}

// StartOrderSpan открывает корневой спан создания заказа.
// Correlation id запроса, если он есть в контексте, попадает в атрибуты спана.
func StartOrderSpan(ctx context.Context, userID, storeID int64, items int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(OrderTracer).Start(ctx, "order.create")
	span.SetAttributes(
		attribute.Int64("order.user_id", userID),
		attribute.Int64("order.store_id", storeID),
		attribute.Int("order.items", items),
	)
	tagCorrelationID(ctx, span)
	return ctx, span
}

// TraceStep оборачивает шаг заказа в дочерний спан (saga.StepWrapper)
func TraceStep(ctx context.Context, stepName string, fn func(context.Context) error) error {
	ctx, span := otel.Tracer(StepTracer).Start(ctx, "order.step."+stepName)
	defer span.End()
	span.SetAttributes(attribute.String("order.step", stepName))
	tagCorrelationID(ctx, span)

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("order.error_code", core.CodeOf(err)))
		span.SetStatus(codes.Error, core.MessageOf(err))
	}
	return err
}

// HTTPTracingMiddleware Gin middleware: серверный спан на запрос с trace context из заголовков
func HTTPTracingMiddleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		// Шаблон маршрута вместо пути: меньше кардинальность имен спанов
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := otel.Tracer(HTTPTracer).Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.ServiceNameKey.String(serviceName),
				semconv.HTTPMethodKey.String(c.Request.Method),
				semconv.HTTPRouteKey.String(route),
			))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		statusCode := c.Writer.Status()
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(statusCode))
		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last())
		}
		if statusCode >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(c.Writer.Header()))
	}
}

// GRPCTracingInterceptor серверный спан на unary вызов.
// Trace context и correlation id берутся из metadata; correlation id возвращается в заголовке ответа.
func GRPCTracingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		ctx = otel.GetTextMapPropagator().Extract(ctx, metadataCarrier(md))

		service, method := splitFullMethod(info.FullMethod)
		ctx, span := otel.Tracer(GRPCTracer).Start(ctx, info.FullMethod,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.RPCSystemGRPC,
				semconv.RPCServiceKey.String(service),
				semconv.RPCMethodKey.String(method),
			))
		defer span.End()

		correlationID := firstValue(md, CorrelationIDMetadataKey)
		if correlationID == "" {
			correlationID = newCorrelationID(ctx)
		}
		ctx = InjectCorrelationID(ctx, correlationID)
		tagCorrelationID(ctx, span)
		_ = grpc.SetHeader(ctx, metadata.Pairs(CorrelationIDMetadataKey, correlationID))

		resp, err := handler(ctx, req)

		st := status.Convert(err)
		span.SetAttributes(semconv.RPCGRPCStatusCodeKey.Int(int(st.Code())))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, st.Message())
		}
		return resp, err
	}
}

// splitFullMethod "/pkg.Service/Method" -> ("pkg.Service", "Method")
func splitFullMethod(fullMethod string) (string, string) {
	name := strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// metadataCarrier propagation.TextMapCarrier поверх gRPC metadata
type metadataCarrier metadata.MD

func (m metadataCarrier) Get(key string) string {
	return firstValue(metadata.MD(m), key)
}

func (m metadataCarrier) Set(key, value string) {
	metadata.MD(m).Set(key, value)
}

func (m metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func firstValue(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
