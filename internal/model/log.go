package model

// Audit log actions recorded by the coordination engine and the optimizer.
const (
	ActionRegister  = "register"
	ActionClaim     = "claim"
	ActionProgress  = "progress"
	ActionComplete  = "complete"
	ActionRelease   = "release"
	ActionReassign  = "reassign"
	ActionRebalance = "rebalance"
)

// LogEntry is one append-only audit record for a coordination transition.
type LogEntry struct {
	TraceID    string `json:"trace_id,omitempty"`
	SpanID     string `json:"span_id,omitempty"`
	Actor      string `json:"actor"`
	Target     string `json:"target"`
	Action     string `json:"action"`
	FromState  string `json:"from_state,omitempty"`
	ToState    string `json:"to_state,omitempty"`
	RecordedAt Time   `json:"recorded_at"`
}
