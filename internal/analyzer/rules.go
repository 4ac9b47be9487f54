package analyzer

import (
	"fmt"
	"sort"
	"time"
)

// Default classification thresholds.
const (
	DefaultAgentOverutilization  = 2.0
	DefaultAgentUnderutilization = 0.5
	DefaultTeamImbalanceHigh     = 3.0
	DefaultTeamImbalanceMedium   = 2.0
	DefaultPriorityInflation     = 0.6
	DefaultWorkFragmentation     = 0.3
	DefaultLatencyMS             = 50.0
	DefaultTelemetryBloat        = 10000
	DefaultStaleWorkTTL          = 24 * time.Hour
)

// Thresholds tune the bottleneck classification rules.
type Thresholds struct {
	AgentOverutilization  float64
	AgentUnderutilization float64
	TeamImbalanceHigh     float64
	TeamImbalanceMedium   float64
	PriorityInflation     float64
	WorkFragmentation     float64
	LatencyMS             float64
	TelemetryBloat        int
	StaleWorkTTL          time.Duration
}

// DefaultThresholds returns the stock classification thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AgentOverutilization:  DefaultAgentOverutilization,
		AgentUnderutilization: DefaultAgentUnderutilization,
		TeamImbalanceHigh:     DefaultTeamImbalanceHigh,
		TeamImbalanceMedium:   DefaultTeamImbalanceMedium,
		PriorityInflation:     DefaultPriorityInflation,
		WorkFragmentation:     DefaultWorkFragmentation,
		LatencyMS:             DefaultLatencyMS,
		TelemetryBloat:        DefaultTelemetryBloat,
		StaleWorkTTL:          DefaultStaleWorkTTL,
	}
}

// rule inspects a computed report and reports a bottleneck, or nil.
// Rules are pure over their inputs.
type rule func(rep Report, th Thresholds) *Bottleneck

// ruleRegistry fixes rule evaluation order.
var ruleRegistry = []rule{
	ruleAgentOverutilization,
	ruleAgentUnderutilization,
	ruleTeamLoadImbalance,
	rulePriorityInflation,
	ruleWorkFragmentation,
	ruleCoordinationLatency,
	ruleTelemetryBloat,
	ruleStaleLocks,
}

// classify runs every rule and returns findings ordered by severity,
// preserving registry order within equal severity.
func classify(rep Report, th Thresholds) []Bottleneck {
	var found []Bottleneck

	for _, r := range ruleRegistry {
		if b := r(rep, th); b != nil {
			found = append(found, *b)
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Severity.rank() > found[j].Severity.rank()
	})

	return found
}

func ruleAgentOverutilization(rep Report, th Thresholds) *Bottleneck {
	if rep.WorkPerAgent <= th.AgentOverutilization {
		return nil
	}

	return &Bottleneck{
		Kind:     AgentOverutilization,
		Severity: SeverityHigh,
		Detail:   fmt.Sprintf("%.2f open items per agent exceeds %.2f", rep.WorkPerAgent, th.AgentOverutilization),
	}
}

func ruleAgentUnderutilization(rep Report, th Thresholds) *Bottleneck {
	if rep.TotalAgents == 0 || rep.WorkPerAgent >= th.AgentUnderutilization {
		return nil
	}

	return &Bottleneck{
		Kind:     AgentUnderutilization,
		Severity: SeverityMedium,
		Detail:   fmt.Sprintf("%.2f open items per agent below %.2f", rep.WorkPerAgent, th.AgentUnderutilization),
	}
}

func ruleTeamLoadImbalance(rep Report, th Thresholds) *Bottleneck {
	switch {
	case rep.TeamLoadImbalanceRatio > th.TeamImbalanceHigh:
		return &Bottleneck{
			Kind:     TeamLoadImbalance,
			Severity: SeverityHigh,
			Detail:   fmt.Sprintf("max/mean team load %.2f exceeds %.2f", rep.TeamLoadImbalanceRatio, th.TeamImbalanceHigh),
		}
	case rep.TeamLoadImbalanceRatio > th.TeamImbalanceMedium:
		return &Bottleneck{
			Kind:     TeamLoadImbalance,
			Severity: SeverityMedium,
			Detail:   fmt.Sprintf("max/mean team load %.2f exceeds %.2f", rep.TeamLoadImbalanceRatio, th.TeamImbalanceMedium),
		}
	default:
		return nil
	}
}

func rulePriorityInflation(rep Report, th Thresholds) *Bottleneck {
	if rep.PriorityInflationRatio <= th.PriorityInflation {
		return nil
	}

	return &Bottleneck{
		Kind:     PriorityInflation,
		Severity: SeverityMedium,
		Detail:   fmt.Sprintf("%.0f%% of items are high or critical", rep.PriorityInflationRatio*100),
	}
}

func ruleWorkFragmentation(rep Report, th Thresholds) *Bottleneck {
	if rep.WorkTypeFragmentationRatio <= th.WorkFragmentation {
		return nil
	}

	return &Bottleneck{
		Kind:     WorkFragmentation,
		Severity: SeverityLow,
		Detail:   fmt.Sprintf("distinct work types are %.0f%% of total items", rep.WorkTypeFragmentationRatio*100),
	}
}

func ruleCoordinationLatency(rep Report, th Thresholds) *Bottleneck {
	if rep.CoordinationLatencyMS <= th.LatencyMS {
		return nil
	}

	return &Bottleneck{
		Kind:     CoordinationLatency,
		Severity: SeverityMedium,
		Detail:   fmt.Sprintf("store round-trip %.1f ms exceeds %.1f ms", rep.CoordinationLatencyMS, th.LatencyMS),
	}
}

func ruleTelemetryBloat(rep Report, th Thresholds) *Bottleneck {
	if rep.TelemetryVolume <= th.TelemetryBloat {
		return nil
	}

	return &Bottleneck{
		Kind:     TelemetryBloat,
		Severity: SeverityHigh,
		Detail:   fmt.Sprintf("%d spans exceed the %d cap", rep.TelemetryVolume, th.TelemetryBloat),
	}
}

func ruleStaleLocks(rep Report, th Thresholds) *Bottleneck {
	if rep.StaleWorkCount == 0 {
		return nil
	}

	return &Bottleneck{
		Kind:     StaleLocks,
		Severity: SeverityMedium,
		Detail:   fmt.Sprintf("%d open items idle past %s", rep.StaleWorkCount, th.StaleWorkTTL),
	}
}
