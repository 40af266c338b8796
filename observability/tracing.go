package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/hookline"

// Tracer provides OpenTelemetry tracing for Hookline.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return NewTracerFrom(otel.GetTracerProvider())
}

// NewTracerFrom creates a tracer from tp.
func NewTracerFrom(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

// StartEmitSpan starts a span covering the fan-out of one event.
func (t *Tracer) StartEmitSpan(ctx context.Context, eventType, tenantID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "hookline.emit",
		trace.WithAttributes(
			attribute.String("hookline.event_type", eventType),
			attribute.String("hookline.tenant_id", tenantID),
		),
	)
}

// StartDeliverySpan starts a span for one try of an attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, deliveryID, subscriptionID, eventType string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "hookline.delivery",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("hookline.delivery_id", deliveryID),
			attribute.String("hookline.subscription_id", subscriptionID),
			attribute.String("hookline.event_type", eventType),
			attribute.Int("hookline.attempt", attempt),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("hookline.latency_ms", latencyMs),
	)
	if err != "" {
		span.SetAttributes(attribute.String("hookline.error", err))
		span.SetStatus(codes.Error, err)
	}
	span.End()
}
