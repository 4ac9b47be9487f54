package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/swarmsh/swarmsh/internal/telemetry"
)

const (
	attrTraceID = "trace_id"
	attrSpanID  = "span_id"
	attrService = "service"
	attrMode    = "mode"
)

// TracingHandler is an [slog.Handler] that injects the active
// coordination trace context (trace_id, span_id) and service metadata
// into every log record, correlating logs with the span log.
type TracingHandler struct {
	inner slog.Handler
}

// NewTracingHandler wraps an [slog.Handler], injecting trace context
// and service metadata. Service attributes are pre-attached to the
// inner handler so they stay at the top level under WithGroup.
func NewTracingHandler(inner slog.Handler, service string, appMode AppMode) *TracingHandler {
	attrs := []slog.Attr{
		slog.String(attrService, service),
		slog.String(attrMode, string(appMode)),
	}

	return &TracingHandler{
		inner: inner.WithAttrs(attrs),
	}
}

// Enabled delegates to the inner handler.
func (th *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return th.inner.Enabled(ctx, level)
}

// Handle adds trace correlation attributes from the context, then
// delegates.
func (th *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc, ok := telemetry.SpanFromContext(ctx); ok {
		record.AddAttrs(
			slog.String(attrTraceID, sc.TraceID),
			slog.String(attrSpanID, sc.SpanID),
		)
	}

	err := th.inner.Handle(ctx, record)
	if err != nil {
		return fmt.Errorf("tracing handler: %w", err)
	}

	return nil
}

// WithAttrs returns a new TracingHandler with additional attributes on
// the inner handler.
func (th *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{
		inner: th.inner.WithAttrs(attrs),
	}
}

// WithGroup returns a new TracingHandler with a group prefix on the
// inner handler.
func (th *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{
		inner: th.inner.WithGroup(name),
	}
}
