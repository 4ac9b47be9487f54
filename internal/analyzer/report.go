package analyzer

import (
	"github.com/swarmsh/swarmsh/internal/model"
)

// Severity ranks how urgently a bottleneck needs attention.
type Severity string

// Bottleneck severities.
const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// rank orders severities for sorting, highest first.
func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// BottleneckKind names a classified coordination bottleneck.
type BottleneckKind string

// Bottleneck kinds, one per classification rule.
const (
	AgentOverutilization  BottleneckKind = "agent_overutilization"
	AgentUnderutilization BottleneckKind = "agent_underutilization"
	TeamLoadImbalance     BottleneckKind = "team_load_imbalance"
	PriorityInflation     BottleneckKind = "priority_inflation"
	WorkFragmentation     BottleneckKind = "work_fragmentation"
	CoordinationLatency   BottleneckKind = "coordination_latency"
	TelemetryBloat        BottleneckKind = "telemetry_bloat"
	StaleLocks            BottleneckKind = "stale_locks"
)

// Bottleneck is one classified finding with its severity.
type Bottleneck struct {
	Kind     BottleneckKind `json:"kind" yaml:"kind"`
	Severity Severity       `json:"severity" yaml:"severity"`
	Detail   string         `json:"detail" yaml:"detail"`
}

// Report is the observable system state computed from store snapshots,
// plus the ordered bottleneck classification.
type Report struct {
	GeneratedAt model.Time `json:"generated_at" yaml:"generated_at"`

	TotalWork     int `json:"total_work" yaml:"total_work"`
	ActiveWork    int `json:"active_work" yaml:"active_work"`
	CompletedWork int `json:"completed_work" yaml:"completed_work"`
	TotalAgents   int `json:"total_agents" yaml:"total_agents"`
	ActiveAgents  int `json:"active_agents" yaml:"active_agents"`

	WorkPerAgent   float64 `json:"work_per_agent" yaml:"work_per_agent"`
	CompletionRate float64 `json:"completion_rate" yaml:"completion_rate"`

	TeamLoad               map[string]int `json:"team_load" yaml:"team_load"`
	TeamLoadVariance       float64        `json:"team_load_variance" yaml:"team_load_variance"`
	TeamLoadImbalanceRatio float64        `json:"team_load_imbalance_ratio" yaml:"team_load_imbalance_ratio"`

	PriorityDistribution   map[string]int `json:"priority_distribution" yaml:"priority_distribution"`
	PriorityInflationRatio float64        `json:"priority_inflation_ratio" yaml:"priority_inflation_ratio"`

	WorkTypeFragmentationRatio float64 `json:"work_type_fragmentation_ratio" yaml:"work_type_fragmentation_ratio"`

	CoordinationLatencyMS float64 `json:"coordination_latency_ms" yaml:"coordination_latency_ms"`
	TelemetryVolume       int     `json:"telemetry_volume" yaml:"telemetry_volume"`
	StaleWorkCount        int     `json:"stale_work_count" yaml:"stale_work_count"`

	Bottlenecks []Bottleneck `json:"bottlenecks" yaml:"bottlenecks"`
}
