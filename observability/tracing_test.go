package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"
)

func TestDeliverySpanLifecycle(t *testing.T) {
	tr := NewTracerFrom(noop.NewTracerProvider())

	ctx, span := tr.StartDeliverySpan(context.Background(), "d-1", "sub_1", "quest.completed", 1)
	if ctx == nil || span == nil {
		t.Fatal("expected context and span")
	}
	tr.EndDeliverySpan(span, 500, 12, "unexpected status 500")

	_, emit := tr.StartEmitSpan(context.Background(), "quest.completed", "t1")
	emit.End()
}
