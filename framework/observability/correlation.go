package observability

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CorrelationIDHeader HTTP заголовок correlation id
	CorrelationIDHeader = "X-Correlation-ID"
	// CorrelationIDMetadataKey ключ correlation id в gRPC metadata
	CorrelationIDMetadataKey = "x-correlation-id"

	correlationBaggageKey = "correlation_id"
	correlationAttr       = attribute.Key("correlation.id")
)

// ExtractCorrelationID возвращает correlation id из baggage контекста, иначе trace id
func ExtractCorrelationID(ctx context.Context) string {
	if member := baggage.FromContext(ctx).Member(correlationBaggageKey); member.Value() != "" {
		return member.Value()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.TraceID().IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// InjectCorrelationID кладет correlation id в baggage.
// Значение, недопустимое для baggage, игнорируется.
func InjectCorrelationID(ctx context.Context, correlationID string) context.Context {
	member, err := baggage.NewMemberRaw(correlationBaggageKey, correlationID)
	if err != nil {
		return ctx
	}
	b, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, b)
}

// CorrelationIDMiddleware Gin middleware: берет correlation id из заголовка или выдает новый,
// кладет его в контекст и текущий спан и возвращает в ответе
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		correlationID := c.GetHeader(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = newCorrelationID(ctx)
		}
		ctx = InjectCorrelationID(ctx, correlationID)
		tagCorrelationID(ctx, trace.SpanFromContext(ctx))

		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(CorrelationIDHeader, correlationID)
		c.Next()
	}
}

// newCorrelationID trace id текущего спана, если он записывается, иначе UUID
func newCorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.TraceID().IsValid() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}

func tagCorrelationID(ctx context.Context, span trace.Span) {
	if id := ExtractCorrelationID(ctx); id != "" {
		span.SetAttributes(correlationAttr.String(id))
	}
}
