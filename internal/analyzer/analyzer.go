// Package analyzer computes observable coordination metrics from store
// snapshots and classifies bottlenecks with a fixed rule set. It never
// mutates state.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/swarmsh/swarmsh/internal/engine"
	"github.com/swarmsh/swarmsh/internal/model"
	"github.com/swarmsh/swarmsh/internal/store"
	"github.com/swarmsh/swarmsh/internal/telemetry"
)

// opAnalyzerRun is the span emitted once per analysis run.
const opAnalyzerRun = "8020.analyzer.run"

// Analyzer computes an analysis report from shared store snapshots.
type Analyzer struct {
	store      *store.Store
	tracer     *telemetry.Tracer
	logger     *slog.Logger
	thresholds Thresholds
	now        func() time.Time
}

// Option adjusts analyzer construction.
type Option func(*Analyzer)

// WithThresholds overrides the classification thresholds.
func WithThresholds(th Thresholds) Option {
	return func(a *Analyzer) { a.thresholds = th }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = logger }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// New creates an analyzer over the given store.
func New(st *store.Store, tracer *telemetry.Tracer, opts ...Option) *Analyzer {
	a := &Analyzer{
		store:      st,
		tracer:     tracer,
		logger:     slog.Default(),
		thresholds: DefaultThresholds(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Thresholds returns the active classification thresholds.
func (a *Analyzer) Thresholds() Thresholds {
	return a.thresholds
}

// Run takes shared snapshots, computes the report, and classifies
// bottlenecks. One span is emitted per run.
func (a *Analyzer) Run(ctx context.Context) (Report, error) {
	ctx, span := a.tracer.Start(ctx, opAnalyzerRun)
	defer span.End()

	rep, err := a.run(ctx)
	if err != nil {
		span.RecordError(engine.Kind(err))

		return Report{}, err
	}

	span.SetAttribute("active_work", rep.ActiveWork)
	span.SetAttribute("work_per_agent", rep.WorkPerAgent)
	span.SetAttribute("team_load_imbalance_ratio", rep.TeamLoadImbalanceRatio)
	span.SetAttribute("telemetry_volume", rep.TelemetryVolume)
	span.SetAttribute("coordination_latency_ms", rep.CoordinationLatencyMS)
	span.SetAttribute("bottlenecks", len(rep.Bottlenecks))

	a.logger.InfoContext(ctx, "analysis complete",
		"active_work", rep.ActiveWork,
		"bottlenecks", len(rep.Bottlenecks),
		"latency_ms", rep.CoordinationLatencyMS)

	return rep, nil
}

// Observe computes the report without emitting a span. The health
// monitor derives its sub-scores from it on cadences where an extra
// analyzer span would be noise.
func (a *Analyzer) Observe(ctx context.Context) (Report, error) {
	return a.run(ctx)
}

func (a *Analyzer) run(ctx context.Context) (Report, error) {
	latencyMS, err := a.probeLatency(ctx)
	if err != nil {
		return Report{}, err
	}

	work, err := a.store.Work().Snapshot(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("snapshot work: %w", err)
	}

	agents, err := a.store.Agents().Snapshot(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("snapshot agents: %w", err)
	}

	spanCount, err := a.store.Spans().Count(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("count spans: %w", err)
	}

	rep := compute(work, agents, spanCount, latencyMS, a.thresholds, a.now())
	rep.Bottlenecks = classify(rep, a.thresholds)

	return rep, nil
}

// probeLatency times one benign shared read of the work collection,
// measuring the lock acquire + parse round trip a coordination
// operation pays.
func (a *Analyzer) probeLatency(ctx context.Context) (float64, error) {
	started := a.now()

	err := a.store.Work().View(ctx, func([]model.WorkItem) error { return nil })
	if err != nil {
		return 0, fmt.Errorf("latency probe: %w", err)
	}

	return float64(a.now().Sub(started)) / float64(time.Millisecond), nil
}

// compute derives every report metric from the snapshots. Pure.
func compute(
	work []model.WorkItem,
	agents []model.Agent,
	spanCount int,
	latencyMS float64,
	th Thresholds,
	now time.Time,
) Report {
	rep := Report{
		GeneratedAt:           model.NewTime(now),
		TotalWork:             len(work),
		TotalAgents:           len(agents),
		TeamLoad:              map[string]int{},
		PriorityDistribution:  map[string]int{},
		CoordinationLatencyMS: latencyMS,
		TelemetryVolume:       spanCount,
	}

	workTypes := map[string]struct{}{}
	urgent := 0
	staleBefore := now.Add(-th.StaleWorkTTL)

	for _, item := range work {
		rep.PriorityDistribution[string(item.Priority)]++
		workTypes[item.WorkType] = struct{}{}

		if item.Priority.Urgent() {
			urgent++
		}

		if item.Status == model.StatusCompleted {
			rep.CompletedWork++
		}

		if !item.Status.Terminal() && item.Team != "" {
			rep.TeamLoad[item.Team]++
		}

		if item.Open() {
			rep.ActiveWork++

			if item.UpdatedAt.Time.Before(staleBefore) {
				rep.StaleWorkCount++
			}
		}
	}

	for _, agent := range agents {
		if agent.Status == model.AgentActive {
			rep.ActiveAgents++
		}
	}

	denom := rep.TotalAgents
	if denom == 0 {
		denom = 1
	}

	rep.WorkPerAgent = float64(rep.ActiveWork) / float64(denom)

	if rep.TotalWork > 0 {
		rep.CompletionRate = float64(rep.CompletedWork) / float64(rep.TotalWork)
		rep.PriorityInflationRatio = float64(urgent) / float64(rep.TotalWork)
		rep.WorkTypeFragmentationRatio = float64(len(workTypes)) / float64(rep.TotalWork)
	}

	rep.TeamLoadVariance, rep.TeamLoadImbalanceRatio = teamSpread(rep.TeamLoad)

	return rep
}

// teamSpread returns the population variance and max/mean ratio of team
// load counts.
func teamSpread(load map[string]int) (variance, imbalance float64) {
	if len(load) == 0 {
		return 0, 0
	}

	total := 0
	maxLoad := 0

	for _, count := range load {
		total += count

		if count > maxLoad {
			maxLoad = count
		}
	}

	mean := float64(total) / float64(len(load))

	for _, count := range load {
		diff := float64(count) - mean
		variance += diff * diff
	}

	variance /= float64(len(load))

	if mean > 0 {
		imbalance = float64(maxLoad) / mean
	}

	return variance, imbalance
}
