package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/swarmsh/swarmsh/internal/model"
)

// OTLPForwarder mirrors locally persisted spans to an OTel tracer whose
// provider exports over OTLP. The handoff is to the SDK's in-memory
// batch processor, so forwarding never blocks the local append path.
type OTLPForwarder struct {
	tracer oteltrace.Tracer
}

// NewOTLPForwarder wraps an OTel tracer as a span Forwarder.
func NewOTLPForwarder(tracer oteltrace.Tracer) *OTLPForwarder {
	return &OTLPForwarder{tracer: tracer}
}

// Forward re-emits one finished span, preserving its trace identity via
// a remote parent context so collectors correlate with local state.
func (f *OTLPForwarder) Forward(span model.Span) {
	traceID, traceErr := oteltrace.TraceIDFromHex(span.TraceID)
	if traceErr != nil {
		return
	}

	parentHex := span.ParentSpanID
	if parentHex == "" {
		parentHex = span.SpanID
	}

	parentID, spanErr := oteltrace.SpanIDFromHex(parentHex)
	if spanErr != nil {
		return
	}

	parentCtx := oteltrace.ContextWithSpanContext(context.Background(), oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     parentID,
		TraceFlags: oteltrace.FlagsSampled,
		Remote:     true,
	}))

	start := time.Unix(0, span.StartTimeNS)
	end := start.Add(time.Duration(span.DurationMS * float64(time.Millisecond)))

	_, mirrored := f.tracer.Start(parentCtx, span.OperationName,
		oteltrace.WithTimestamp(start),
		oteltrace.WithAttributes(attributeSet(span)...),
	)

	if span.Status == model.SpanError {
		kind, _ := span.Attributes["error.kind"].(string)
		mirrored.SetStatus(codes.Error, kind)
	}

	mirrored.End(oteltrace.WithTimestamp(end))
}

func attributeSet(span model.Span) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(span.Attributes)+1)
	attrs = append(attrs, attribute.String("span.status", string(span.Status)))

	for key, value := range span.Attributes {
		switch v := value.(type) {
		case string:
			attrs = append(attrs, attribute.String(key, v))
		case bool:
			attrs = append(attrs, attribute.Bool(key, v))
		case int:
			attrs = append(attrs, attribute.Int(key, v))
		case int64:
			attrs = append(attrs, attribute.Int64(key, v))
		case float64:
			attrs = append(attrs, attribute.Float64(key, v))
		default:
			attrs = append(attrs, attribute.String(key, fmt.Sprint(v)))
		}
	}

	return attrs
}
