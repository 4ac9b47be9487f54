package telemetry

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	microbatch "github.com/joeycumines/go-microbatch"

	"github.com/swarmsh/swarmsh/internal/model"
	"github.com/swarmsh/swarmsh/pkg/ids"
)

// Mailbox tuning for the single-writer span appender. One drain
// goroutine serializes appends so spans land in start-time order even
// under concurrent emitters.
const (
	mailboxBatchSize     = 64
	mailboxFlushInterval = 50 * time.Millisecond
)

// Sink receives finished spans. The store's span log satisfies it.
type Sink interface {
	AppendAll(ctx context.Context, records []model.Span) error
}

// Tracer builds and persists spans for coordination operations. Span
// emission is best effort: a failing sink is logged and counted, never
// surfaced to the operation that emitted the span.
type Tracer struct {
	service      string
	version      string
	forceTraceID string
	sampler      Sampler
	sink         Sink
	minter       *ids.Minter
	logger       *slog.Logger
	now          func() time.Time
	forwarder    Forwarder
	batchSize    int
	flushEvery   time.Duration
	failures     atomic.Int64
	mailbox      *microbatch.Batcher[model.Span]
}

// Forwarder mirrors spans to an external collector, best effort.
type Forwarder interface {
	Forward(span model.Span)
}

// Option adjusts Tracer construction.
type Option func(*Tracer)

// WithService sets the service identity stamped on every span.
func WithService(name, version string) Option {
	return func(t *Tracer) {
		t.service = name
		t.version = version
	}
}

// WithSampler installs a sampling policy. Default records all spans.
func WithSampler(sampler Sampler) Option {
	return func(t *Tracer) {
		t.sampler = sampler
	}
}

// WithForceTraceID pins the trace ID minted for parentless spans,
// correlating separate invocations during debugging.
func WithForceTraceID(traceID string) Option {
	return func(t *Tracer) {
		t.forceTraceID = traceID
	}
}

// WithLogger routes emission failures to a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracer) {
		t.logger = logger
	}
}

// WithClock substitutes the span timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracer) {
		t.now = now
	}
}

// WithForwarder mirrors persisted spans to an external collector.
func WithForwarder(forwarder Forwarder) Option {
	return func(t *Tracer) {
		t.forwarder = forwarder
	}
}

// WithMailbox tunes span batching. Short-lived invocations want small
// batches flushed fast; the daemon coalesces more per write.
func WithMailbox(maxSize int, flushInterval time.Duration) Option {
	return func(t *Tracer) {
		t.batchSize = maxSize
		t.flushEvery = flushInterval
	}
}

// New builds a Tracer draining into sink.
func New(sink Sink, minter *ids.Minter, opts ...Option) *Tracer {
	t := &Tracer{
		service:    "swarmsh",
		sampler:    allSampler{},
		sink:       sink,
		minter:     minter,
		logger:     slog.Default(),
		now:        time.Now,
		batchSize:  mailboxBatchSize,
		flushEvery: mailboxFlushInterval,
	}

	for _, opt := range opts {
		opt(t)
	}

	t.mailbox = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:        t.batchSize,
		FlushInterval:  t.flushEvery,
		MaxConcurrency: 1,
	}, t.writeBatch)

	return t
}

// Close drains pending spans. The Tracer accepts no spans afterwards.
func (t *Tracer) Close(ctx context.Context) error {
	shutdownErr := t.mailbox.Shutdown(ctx)
	if shutdownErr != nil {
		return fmt.Errorf("drain span mailbox: %w", shutdownErr)
	}

	return nil
}

// Failures reports how many spans were lost to sink errors.
func (t *Tracer) Failures() int64 {
	return t.failures.Load()
}

// Start begins a span. The returned context carries it as the parent
// for child operations; spans of one trace share its trace ID.
func (t *Tracer) Start(ctx context.Context, operation string) (context.Context, *Span) {
	parent, hasParent := SpanFromContext(ctx)
	started := t.now()

	span := &Span{
		tracer:  t,
		started: started,
		record: model.Span{
			OperationName:  operation,
			ServiceName:    t.service,
			ServiceVersion: t.version,
			StartTimeNS:    started.UnixNano(),
			Status:         model.SpanCompleted,
		},
	}

	switch {
	case hasParent:
		span.record.TraceID = parent.TraceID
		span.record.ParentSpanID = parent.SpanID
	case t.forceTraceID != "":
		span.record.TraceID = t.forceTraceID
	default:
		span.record.TraceID = t.mintTraceID()
	}

	span.record.SpanID = t.mintSpanID()

	return ContextWithSpan(ctx, SpanContext{TraceID: span.record.TraceID, SpanID: span.record.SpanID}), span
}

// Event emits one point-in-time span with the given status, parented
// under the context's active span.
func (t *Tracer) Event(ctx context.Context, operation string, status model.SpanStatus, attrs map[string]any) {
	_, span := t.Start(ctx, operation)
	span.record.Status = status

	for key, value := range attrs {
		span.SetAttribute(key, value)
	}

	span.End()
}

func (t *Tracer) mintTraceID() string {
	traceID, err := t.minter.TraceID()
	if err != nil {
		t.logger.Warn("trace id mint failed, using clock fallback", "error", err)

		return fmt.Sprintf("%032x", t.now().UnixNano())
	}

	return traceID
}

func (t *Tracer) mintSpanID() string {
	spanID, err := t.minter.SpanID()
	if err != nil {
		t.logger.Warn("span id mint failed, using clock fallback", "error", err)

		return fmt.Sprintf("%016x", t.now().UnixNano()&0x7fffffffffffffff)
	}

	return spanID
}

// record enqueues a finished span on the mailbox.
func (t *Tracer) record(span model.Span) {
	if !t.sampler.Sample(span.TraceID) {
		return
	}

	_, submitErr := t.mailbox.Submit(context.Background(), span)
	if submitErr != nil {
		t.failures.Add(1)
		t.logger.Warn("span dropped, mailbox closed", "operation", span.OperationName, "error", submitErr)
	}
}

// writeBatch is the single writer draining the mailbox. Batches are
// sorted by start time so the on-disk log stays totally ordered.
func (t *Tracer) writeBatch(ctx context.Context, spans []model.Span) error {
	slices.SortStableFunc(spans, func(a, b model.Span) int {
		return cmp.Compare(a.StartTimeNS, b.StartTimeNS)
	})

	appendErr := t.sink.AppendAll(ctx, spans)
	if appendErr != nil {
		t.failures.Add(int64(len(spans)))
		t.logger.Warn("span append failed", "dropped", len(spans), "error", appendErr)

		return nil
	}

	if t.forwarder != nil {
		for _, span := range spans {
			t.forwarder.Forward(span)
		}
	}

	return nil
}

// Span is a live handle on one unfinished telemetry record.
type Span struct {
	tracer  *Tracer
	started time.Time

	mu     sync.Mutex
	record model.Span
	ended  bool
}

// TraceID returns the trace this span belongs to.
func (s *Span) TraceID() string {
	return s.record.TraceID
}

// SpanID returns the span's own ID.
func (s *Span) SpanID() string {
	return s.record.SpanID
}

// SetAttribute records one attribute. Entity IDs, counters, and
// before/after metrics all travel here.
func (s *Span) SetAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record.Attributes == nil {
		s.record.Attributes = make(map[string]any)
	}

	s.record.Attributes[key] = value
}

// RecordError marks the span failed with an error kind attribute.
func (s *Span) RecordError(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record.Status = model.SpanError

	if s.record.Attributes == nil {
		s.record.Attributes = make(map[string]any)
	}

	s.record.Attributes["error.kind"] = kind
}

// End finishes the span and hands it to the emitter. Repeated calls
// are no-ops.
func (s *Span) End() {
	s.mu.Lock()

	if s.ended {
		s.mu.Unlock()

		return
	}

	s.ended = true
	s.record.DurationMS = float64(s.tracer.now().Sub(s.started)) / float64(time.Millisecond)
	record := s.record

	s.mu.Unlock()

	s.tracer.record(record)
}
