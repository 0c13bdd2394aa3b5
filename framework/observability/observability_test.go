package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/akriventsev/hotdeal/framework/core"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("Expected level %v for %q, got %v", want, in, got)
		}
	}
}

func TestNewLoggerToFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "info", "json").Info("order created", "user_id", 1)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "order created" {
		t.Errorf("Expected msg 'order created', got %v", entry["msg"])
	}

	buf.Reset()
	NewLoggerTo(&buf, "warn", "text").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered at warn level, got %q", buf.String())
	}
}

func TestHealthRegistry(t *testing.T) {
	gin.SetMode(gin.TestMode)

	reg := NewHealthRegistry(0)
	reg.Register(HealthCheckFunc{CheckName: "redis", Fn: func(ctx context.Context) error { return nil }})

	router := gin.New()
	router.GET("/health", reg.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	reg.Register(HealthCheckFunc{CheckName: "origin", Fn: func(ctx context.Context) error { return errors.New("connection refused") }})

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "connection refused") {
		t.Errorf("Expected failing check message in body, got %s", w.Body.String())
	}
}

func TestCorrelationIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var seen string
	router := gin.New()
	router.Use(CorrelationIDMiddleware())
	router.GET("/ping", func(c *gin.Context) {
		seen = ExtractCorrelationID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if seen != "abc-123" {
		t.Errorf("Expected correlation id abc-123 in context, got %q", seen)
	}
	if got := w.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("Expected correlation id echoed in response, got %q", got)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("Expected generated correlation id")
	}
}

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return rec
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTraceStepRecordsFailure(t *testing.T) {
	rec := recordSpans(t)

	want := core.NewError(core.ErrBadRequest, "insufficient stock")
	ctx := InjectCorrelationID(context.Background(), "req-42")
	err := TraceStep(ctx, "reserve-inventory-0", func(ctx context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("Expected step error to be returned, got %v", err)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "order.step.reserve-inventory-0" {
		t.Errorf("Unexpected span name %q", span.Name())
	}
	if span.Status().Code != codes.Error {
		t.Errorf("Expected error status, got %v", span.Status())
	}
	if v, _ := spanAttr(span, "order.error_code"); v.AsString() != core.ErrBadRequest {
		t.Errorf("Expected error code attribute, got %q", v.AsString())
	}
	if v, _ := spanAttr(span, "correlation.id"); v.AsString() != "req-42" {
		t.Errorf("Expected correlation id attribute, got %q", v.AsString())
	}
}

func TestStartOrderSpanAttributes(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartOrderSpan(context.Background(), 7, 1, 2)
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Name() != "order.create" {
		t.Fatalf("Expected order.create span, got %v", spans)
	}
	if v, _ := spanAttr(spans[0], "order.user_id"); v.AsInt64() != 7 {
		t.Errorf("Expected user id 7, got %d", v.AsInt64())
	}
	// Без baggage correlation id совпадает с trace id спана
	if v, _ := spanAttr(spans[0], "correlation.id"); v.AsString() != spans[0].SpanContext().TraceID().String() {
		t.Errorf("Expected trace id as correlation id, got %q", v.AsString())
	}
}

func TestHTTPTracingMiddlewareMarksServerErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := recordSpans(t)

	router := gin.New()
	router.Use(HTTPTracingMiddleware("hotdeal"), CorrelationIDMiddleware())
	router.POST("/api/v1/orders", func(c *gin.Context) {
		c.Status(http.StatusServiceUnavailable)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	router.ServeHTTP(httptest.NewRecorder(), req)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "POST /api/v1/orders" {
		t.Errorf("Expected route based span name, got %q", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("Expected error status for 503")
	}
	if v, _ := spanAttr(spans[0], "correlation.id"); v.AsString() != "abc-123" {
		t.Errorf("Expected correlation id on request span, got %q", v.AsString())
	}
}

func TestGRPCTracingInterceptorCorrelationID(t *testing.T) {
	rec := recordSpans(t)

	ctx := metadata.NewIncomingContext(context.Background(),
		metadata.Pairs(CorrelationIDMetadataKey, "grpc-7"))
	info := &grpc.UnaryServerInfo{FullMethod: "/hotdeal.v1.OrderService/CreateOrder"}

	var seen string
	_, err := GRPCTracingInterceptor()(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = ExtractCorrelationID(ctx)
		return nil, status.Error(grpccodes.Unavailable, "cache unavailable")
	})
	if status.Code(err) != grpccodes.Unavailable {
		t.Fatalf("Expected handler error to pass through, got %v", err)
	}
	if seen != "grpc-7" {
		t.Errorf("Expected correlation id from metadata, got %q", seen)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if v, _ := spanAttr(spans[0], "rpc.service"); v.AsString() != "hotdeal.v1.OrderService" {
		t.Errorf("Expected rpc.service attribute, got %q", v.AsString())
	}
	if v, _ := spanAttr(spans[0], "rpc.method"); v.AsString() != "CreateOrder" {
		t.Errorf("Expected rpc.method attribute, got %q", v.AsString())
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("Expected error status")
	}
}

func TestTracingConfigValidate(t *testing.T) {
	valid := []TracingConfig{
		{Enabled: false, Exporter: "bogus"},
		{Enabled: true, Exporter: "stdout", SamplingRate: 0.5},
		{Enabled: true, Exporter: "otlp", ExporterEndpoint: "collector:4318", SamplingRate: 1},
	}
	for _, cfg := range valid {
		if err := cfg.Validate(); err != nil {
			t.Errorf("Expected %+v to be valid, got %v", cfg, err)
		}
	}

	invalid := []TracingConfig{
		{Enabled: true, Exporter: "bogus"},
		{Enabled: true, Exporter: "jaeger"},
		{Enabled: true, Exporter: "stdout", SamplingRate: 1.5},
	}
	for _, cfg := range invalid {
		if err := cfg.Validate(); !core.HasCode(err, core.ErrInvalidConfig) {
			t.Errorf("Expected INVALID_CONFIG for %+v, got %v", cfg, err)
		}
	}
}

func TestDisabledTracingManagerLifecycle(t *testing.T) {
	tm, err := NewTracingManager(TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Expected disabled manager, got %v", err)
	}
	if tm.Enabled() {
		t.Error("Expected no provider for disabled tracing")
	}
	if err := tm.Start(context.Background()); err != nil || !tm.IsRunning() {
		t.Fatalf("Expected manager to start, err=%v", err)
	}
	if err := tm.Stop(context.Background()); err != nil || tm.IsRunning() {
		t.Fatalf("Expected manager to stop, err=%v", err)
	}
}
