package model

// SpanStatus is the lifecycle state recorded on a telemetry span.
type SpanStatus string

// Span statuses.
const (
	SpanStarted   SpanStatus = "started"
	SpanCompleted SpanStatus = "completed"
	SpanError     SpanStatus = "error"
)

// Span is one telemetry record for one operation or sub-operation.
// Spans are written as compact single-line JSON to the span log.
type Span struct {
	TraceID        string         `json:"trace_id"`
	SpanID         string         `json:"span_id"`
	ParentSpanID   string         `json:"parent_span_id,omitempty"`
	OperationName  string         `json:"operation_name"`
	ServiceName    string         `json:"service.name"`
	ServiceVersion string         `json:"service.version,omitempty"`
	StartTimeNS    int64          `json:"start_time_ns"`
	DurationMS     float64        `json:"duration_ms"`
	Status         SpanStatus     `json:"status"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// Root reports whether the span has no parent within its trace.
func (s Span) Root() bool {
	return s.ParentSpanID == ""
}

// FastClaim is the compact fast-path record appended per successful claim.
type FastClaim struct {
	WorkID    string `json:"work_id"`
	AgentID   string `json:"agent_id"`
	Team      string `json:"team,omitempty"`
	ClaimedAt Time   `json:"claimed_at"`
	TraceID   string `json:"trace_id,omitempty"`
}
