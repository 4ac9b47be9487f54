// Package telemetry builds spans describing every coordination event,
// correlates them into traces, and persists them to the span log.
package telemetry

import "context"

type spanContextKey struct{}

// SpanContext carries trace correlation across operation boundaries.
// It is propagated via context values, never via process globals.
type SpanContext struct {
	TraceID string
	SpanID  string
}

// ContextWithSpan attaches a span context for child operations.
func ContextWithSpan(ctx context.Context, sc SpanContext) context.Context {
	return context.WithValue(ctx, spanContextKey{}, sc)
}

// SpanFromContext returns the active span context, if any.
func SpanFromContext(ctx context.Context) (SpanContext, bool) {
	sc, ok := ctx.Value(spanContextKey{}).(SpanContext)

	return sc, ok
}
