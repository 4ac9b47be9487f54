package model

// Priority classifies the urgency of a work item.
type Priority string

// Work item priorities, ordered from least to most urgent.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Urgent reports whether p counts toward priority inflation.
func (p Priority) Urgent() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// WorkStatus is a work item's position in the coordination state machine.
type WorkStatus string

// Work item statuses. Completed and failed are terminal.
const (
	StatusPending    WorkStatus = "pending"
	StatusActive     WorkStatus = "active"
	StatusInProgress WorkStatus = "in_progress"
	StatusCompleted  WorkStatus = "completed"
	StatusFailed     WorkStatus = "failed"
)

// Valid reports whether s is a known work status.
func (s WorkStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s admits no further transitions.
func (s WorkStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the state machine permits moving from s to
// next. Non-terminal self-transitions are allowed (progress updates that keep
// the status). The pending transitions out of active/in_progress are the
// optimizer's release path.
func (s WorkStatus) CanTransition(next WorkStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}

	if s.Terminal() {
		return false
	}

	if s == next {
		return true
	}

	switch s {
	case StatusPending:
		return next == StatusActive
	case StatusActive:
		return next == StatusInProgress || next == StatusCompleted ||
			next == StatusFailed || next == StatusPending
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed || next == StatusPending
	default:
		return false
	}
}

// ProgressMax is the upper bound of a work item's progress percentage.
const ProgressMax = 100

// WorkItem is a unit of coordinated effort. At most one agent holds an item
// in active or in_progress at any time.
type WorkItem struct {
	WorkID          string     `json:"work_id"`
	WorkType        string     `json:"work_type"`
	Description     string     `json:"description,omitempty"`
	Priority        Priority   `json:"priority"`
	Team            string     `json:"team,omitempty"`
	AgentID         string     `json:"agent_id,omitempty"`
	Status          WorkStatus `json:"status"`
	ProgressPercent int        `json:"progress_percent"`
	ClaimedAt       Time       `json:"claimed_at,omitzero"`
	UpdatedAt       Time       `json:"updated_at,omitzero"`
	CompletedAt     Time       `json:"completed_at,omitzero"`
	VelocityPoints  int        `json:"velocity_points,omitempty"`
	Result          string     `json:"result,omitempty"`
	TraceID         string     `json:"trace_id,omitempty"`
}

// Open reports whether the item currently occupies agent capacity.
func (w WorkItem) Open() bool {
	return w.Status == StatusActive || w.Status == StatusInProgress
}
