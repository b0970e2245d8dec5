package messaging

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier_PropagatesTraceContext(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := amqp.Table{HeaderEventType: "rent.order.created"}
	prop := propagation.TraceContext{}
	prop.Inject(ctx, HeaderCarrier(headers))

	assert.Contains(t, headers, "traceparent")
	assert.ElementsMatch(t, []string{HeaderEventType, "traceparent"}, HeaderCarrier(headers).Keys())

	extracted := trace.SpanContextFromContext(prop.Extract(context.Background(), HeaderCarrier(headers)))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.Equal(t, spanID, extracted.SpanID())
	assert.True(t, extracted.IsRemote())
}

func TestHeaderCarrier_IgnoresNonStringValues(t *testing.T) {
	carrier := HeaderCarrier(amqp.Table{"x-retry": int32(3)})
	assert.Equal(t, "", carrier.Get("x-retry"))
	assert.Equal(t, "", carrier.Get("missing"))
}
