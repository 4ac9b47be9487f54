package model

// AgentStatus describes an agent's availability.
type AgentStatus string

// Agent statuses. Draining agents finish held work but accept no new claims.
const (
	AgentActive   AgentStatus = "active"
	AgentInactive AgentStatus = "inactive"
	AgentDraining AgentStatus = "draining"
)

// Valid reports whether s is a known agent status.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentActive, AgentInactive, AgentDraining:
		return true
	default:
		return false
	}
}

// DefaultCapacity is the capacity_max assigned when registration omits one.
const DefaultCapacity = 100

// Agent is a registered worker identity authorized to claim work.
// current_workload mirrors the count of open items assigned to the agent and
// is maintained by the coordination engine under the store lock.
type Agent struct {
	AgentID         string             `json:"agent_id"`
	Team            string             `json:"team,omitempty"`
	Specialization  string             `json:"specialization,omitempty"`
	CapacityMax     int                `json:"capacity_max"`
	CurrentWorkload int                `json:"current_workload"`
	Status          AgentStatus        `json:"status"`
	LastHeartbeat   Time               `json:"last_heartbeat,omitzero"`
	Performance     map[string]float64 `json:"performance,omitempty"`
}

// AcceptsWork reports whether the agent may take one more open item.
func (a Agent) AcceptsWork() bool {
	return a.Status == AgentActive && a.CurrentWorkload < a.CapacityMax
}
