package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSpanIDs(t *testing.T) {
	t.Run("no tracer", func(t *testing.T) {
		SetTracer(nil)

		ctx, span := StartSpan(context.Background(), "merge.Service.Merge")
		defer span.End()

		assert.Empty(t, GetTraceID(ctx))
		assert.Empty(t, GetSpanID(ctx))
	})

	t.Run("active span", func(t *testing.T) {
		provider := sdktrace.NewTracerProvider()
		defer func() { _ = provider.Shutdown(context.Background()) }()
		SetTracer(provider.Tracer("fern"))
		defer SetTracer(nil)

		ctx, span := StartSpan(context.Background(), "merge.Service.Merge")
		defer span.End()

		assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
		assert.Equal(t, span.SpanContext().SpanID().String(), GetSpanID(ctx))
		assert.NotEqual(t, GetTraceID(ctx), GetSpanID(ctx))
		assert.Contains(t, GetTraceParent(ctx), GetSpanID(ctx))
	})
}
