package optimizer_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmsh/swarmsh/internal/advisor"
	"github.com/swarmsh/swarmsh/internal/analyzer"
	"github.com/swarmsh/swarmsh/internal/model"
	"github.com/swarmsh/swarmsh/internal/optimizer"
	"github.com/swarmsh/swarmsh/internal/store"
	"github.com/swarmsh/swarmsh/internal/telemetry"
	"github.com/swarmsh/swarmsh/pkg/ids"
)

// advisorFunc adapts a function to the Advisor interface.
type advisorFunc func(ctx context.Context, req advisor.Request) (advisor.Recommendation, error)

func (f advisorFunc) Advise(ctx context.Context, req advisor.Request) (advisor.Recommendation, error) {
	return f(ctx, req)
}

// newTestOptimizer wires an optimizer over a fresh store with a
// fast-flushing tracer writing to the store's span log.
func newTestOptimizer(t *testing.T, opts ...optimizer.Option) (*optimizer.Optimizer, *store.Store, *telemetry.Tracer) {
	t.Helper()

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)

	tracer := telemetry.New(st.Spans(), ids.New(),
		telemetry.WithService("swarmsh-test", "0.0.0-test"),
		telemetry.WithMailbox(64, 10*time.Millisecond),
	)

	return optimizer.New(st, tracer, opts...), st, tracer
}

func seedWork(t *testing.T, st *store.Store, items []model.WorkItem) {
	t.Helper()

	err := st.Work().Update(context.Background(), func([]model.WorkItem) ([]model.WorkItem, error) {
		return items, nil
	})
	require.NoError(t, err)
}

func seedAgents(t *testing.T, st *store.Store, agents []model.Agent) {
	t.Helper()

	err := st.Agents().Update(context.Background(), func([]model.Agent) ([]model.Agent, error) {
		return agents, nil
	})
	require.NoError(t, err)
}

// drainSpans flushes the tracer and returns everything in the span log.
func drainSpans(t *testing.T, st *store.Store, tracer *telemetry.Tracer) []model.Span {
	t.Helper()

	require.NoError(t, tracer.Close(context.Background()))

	spans, err := st.Spans().Read(context.Background())
	require.NoError(t, err)

	return spans
}

func spansNamed(spans []model.Span, operation string) []model.Span {
	var out []model.Span

	for _, span := range spans {
		if span.OperationName == operation {
			out = append(out, span)
		}
	}

	return out
}

func reportWith(bottlenecks ...analyzer.Bottleneck) analyzer.Report {
	return analyzer.Report{Bottlenecks: bottlenecks}
}

func TestRun_AgentLoadRebalance(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	opt, st, tracer := newTestOptimizer(t, optimizer.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	agents := make([]model.Agent, 6)
	for i := range agents {
		agents[i] = model.Agent{
			AgentID:     fmt.Sprintf("agent_%d", i+1),
			Team:        "ops",
			Status:      model.AgentActive,
			CapacityMax: 10,
		}
	}

	agents[0].CurrentWorkload = 5
	seedAgents(t, st, agents)

	items := make([]model.WorkItem, 5)
	for i := range items {
		items[i] = model.WorkItem{
			WorkID:    fmt.Sprintf("work_%d", i+1),
			WorkType:  "feature",
			Priority:  model.PriorityMedium,
			Team:      "ops",
			AgentID:   "agent_1",
			Status:    model.StatusActive,
			ClaimedAt: model.NewTime(now.Add(time.Duration(i-10) * time.Hour)),
			UpdatedAt: model.NewTime(now.Add(-time.Minute)),
		}
	}

	seedWork(t, st, items)

	seedErr := st.Log().Update(ctx, func([]model.LogEntry) ([]model.LogEntry, error) {
		return []model.LogEntry{{
			Actor:      "agent_1",
			Target:     "agent_1",
			Action:     model.ActionRegister,
			ToState:    string(model.AgentActive),
			RecordedAt: model.NewTime(now.Add(-time.Hour)),
		}}, nil
	})
	require.NoError(t, seedErr)

	res, err := opt.Run(ctx, reportWith(analyzer.Bottleneck{
		Kind:     analyzer.AgentOverutilization,
		Severity: analyzer.SeverityHigh,
	}))
	require.NoError(t, err)

	assert.Equal(t, "fallback", res.Advisor)
	require.Len(t, res.Applied, 1)

	change := res.Applied[0]
	assert.Equal(t, "optimizer.agent_load_rebalance", change.Op)
	assert.Equal(t, []string{"work_1"}, change.Moved)
	assert.Equal(t, 5, change.Before)
	assert.Equal(t, 4, change.After)

	work, err := st.Work().Snapshot(ctx)
	require.NoError(t, err)

	perAgent := map[string]int{}
	for _, item := range work {
		perAgent[item.AgentID]++
	}

	assert.Equal(t, map[string]int{"agent_1": 4, "agent_2": 1}, perAgent)

	after, err := st.Agents().Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, after[0].CurrentWorkload)
	assert.Equal(t, 1, after[1].CurrentWorkload)

	// One rebalance span for the cycle, parented by the run span.
	spans := drainSpans(t, st, tracer)
	moves := spansNamed(spans, "optimizer.agent_load_rebalance")
	require.Len(t, moves, 1)

	runs := spansNamed(spans, "8020.optimizer.run")
	require.Len(t, runs, 1)
	assert.Equal(t, runs[0].SpanID, moves[0].ParentSpanID)
	assert.Equal(t, runs[0].TraceID, moves[0].TraceID)
	assert.EqualValues(t, 1, moves[0].Attributes["moved"])

	entries, err := st.Log().Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	moveEntry := entries[1]
	assert.Equal(t, "optimizer", moveEntry.Actor)
	assert.Equal(t, model.ActionRebalance, moveEntry.Action)
	assert.Equal(t, "work_1", moveEntry.Target)
	assert.Equal(t, "agent_1", moveEntry.FromState)
	assert.Equal(t, "agent_2", moveEntry.ToState)
	assert.Equal(t, moves[0].TraceID, moveEntry.TraceID)
	assert.Equal(t, moves[0].SpanID, moveEntry.SpanID)

	require.Len(t, res.Backups, 3)

	for _, path := range res.Backups {
		_, statErr := os.Stat(path)
		assert.NoError(t, statErr)
	}
}

func TestRun_StaleLockRelease(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	opt, st, tracer := newTestOptimizer(t, optimizer.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	seedAgents(t, st, []model.Agent{
		{AgentID: "agent_1", Team: "ops", Status: model.AgentActive, CapacityMax: 10, CurrentWorkload: 1},
	})
	seedWork(t, st, []model.WorkItem{
		{
			WorkID:    "work_1",
			WorkType:  "feature",
			Priority:  model.PriorityMedium,
			AgentID:   "agent_1",
			Status:    model.StatusActive,
			ClaimedAt: model.NewTime(now.Add(-26 * time.Hour)),
			UpdatedAt: model.NewTime(now.Add(-25 * time.Hour)),
		},
	})

	res, err := opt.Run(ctx, reportWith(analyzer.Bottleneck{
		Kind:     analyzer.StaleLocks,
		Severity: analyzer.SeverityMedium,
	}))
	require.NoError(t, err)

	require.Len(t, res.Applied, 1)
	assert.Equal(t, "optimizer.stale_lock_release", res.Applied[0].Op)
	assert.Equal(t, []string{"work_1"}, res.Applied[0].Moved)

	work, err := st.Work().Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, work, 1)
	assert.Equal(t, model.StatusPending, work[0].Status)
	assert.Empty(t, work[0].AgentID)
	assert.Equal(t, now, work[0].UpdatedAt.Time)

	agents, err := st.Agents().Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, agents[0].CurrentWorkload)

	spans := drainSpans(t, st, tracer)
	released := spansNamed(spans, "optimizer.stale_lock_release")
	require.Len(t, released, 1)
	assert.Equal(t, "work_1", released[0].Attributes["work_ids"])

	entries, err := st.Log().Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "optimizer", entries[0].Actor)
	assert.Equal(t, model.ActionRelease, entries[0].Action)
	assert.Equal(t, string(model.StatusActive), entries[0].FromState)
	assert.Equal(t, string(model.StatusPending), entries[0].ToState)
}

func TestRun_TeamLoadRebalance(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	opt, st, tracer := newTestOptimizer(t, optimizer.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	// agent_3 brings an otherwise empty team into the candidate set.
	seedAgents(t, st, []model.Agent{
		{AgentID: "agent_1", Team: "team_x", Status: model.AgentActive, CapacityMax: 10},
		{AgentID: "agent_2", Team: "team_y", Status: model.AgentActive, CapacityMax: 10},
		{AgentID: "agent_3", Team: "team_z", Status: model.AgentActive, CapacityMax: 10},
	})

	items := []model.WorkItem{
		{WorkID: "work_1", WorkType: "feature", Priority: model.PriorityMedium, Team: "team_x", AgentID: "agent_1", Status: model.StatusActive, ClaimedAt: model.NewTime(now.Add(-4 * time.Hour))},
		{WorkID: "work_2", WorkType: "feature", Priority: model.PriorityMedium, Team: "team_x", AgentID: "agent_1", Status: model.StatusActive, ClaimedAt: model.NewTime(now.Add(-3 * time.Hour))},
		{WorkID: "work_3", WorkType: "feature", Priority: model.PriorityMedium, Team: "team_x", AgentID: "agent_1", Status: model.StatusActive, ClaimedAt: model.NewTime(now.Add(-2 * time.Hour))},
		{WorkID: "work_4", WorkType: "feature", Priority: model.PriorityMedium, Team: "team_x", AgentID: "agent_1", Status: model.StatusInProgress, ClaimedAt: model.NewTime(now.Add(-time.Hour))},
		{WorkID: "work_5", WorkType: "feature", Priority: model.PriorityMedium, Team: "team_y", AgentID: "agent_2", Status: model.StatusActive, ClaimedAt: model.NewTime(now)},
	}
	seedWork(t, st, items)

	rep := reportWith(analyzer.Bottleneck{
		Kind:     analyzer.TeamLoadImbalance,
		Severity: analyzer.SeverityHigh,
	})
	rep.TeamLoadVariance = 2.25

	res, err := opt.Run(ctx, rep)
	require.NoError(t, err)

	require.Len(t, res.Applied, 1)
	change := res.Applied[0]
	assert.Equal(t, "optimizer.team_load_rebalance", change.Op)
	assert.Equal(t, []string{"work_1"}, change.Moved)
	assert.Equal(t, 4, change.Before)
	assert.Equal(t, 3, change.After)

	work, err := st.Work().Snapshot(ctx)
	require.NoError(t, err)

	teams := map[string]int{}
	for _, item := range work {
		teams[item.Team]++
	}

	assert.Equal(t, map[string]int{"team_x": 3, "team_y": 1, "team_z": 1}, teams)

	// The item changed team, not owner.
	for _, item := range work {
		if item.WorkID == "work_1" {
			assert.Equal(t, "team_z", item.Team)
			assert.Equal(t, "agent_1", item.AgentID)
		}
	}

	spans := drainSpans(t, st, tracer)
	require.Len(t, spansNamed(spans, "optimizer.team_load_rebalance"), 1)

	entries, err := st.Log().Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionRebalance, entries[0].Action)
	assert.Equal(t, "team_x", entries[0].FromState)
	assert.Equal(t, "team_z", entries[0].ToState)
}

func TestPlan_TeamVarianceFloor(t *testing.T) {
	t.Parallel()

	opt, _, _ := newTestOptimizer(t, optimizer.WithTeamVariance(2))
	ctx := context.Background()

	rep := reportWith(
		analyzer.Bottleneck{Kind: analyzer.TeamLoadImbalance, Severity: analyzer.SeverityHigh},
		analyzer.Bottleneck{Kind: analyzer.StaleLocks, Severity: analyzer.SeverityLow},
	)
	rep.TeamLoadVariance = 1.9

	res, err := opt.Plan(ctx, rep)
	require.NoError(t, err)

	// Below the floor only the stale lock release qualifies.
	require.Len(t, res.Plan, 1)
	assert.Equal(t, analyzer.StaleLocks, res.Plan[0].Kind)

	rep.TeamLoadVariance = 2

	res, err = opt.Plan(ctx, rep)
	require.NoError(t, err)

	require.Len(t, res.Plan, 2)
	assert.Equal(t, analyzer.TeamLoadImbalance, res.Plan[0].Kind)
	assert.Equal(t, analyzer.StaleLocks, res.Plan[1].Kind)
}

func TestRun_FreshWorkStaysLocked(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	opt, st, _ := newTestOptimizer(t, optimizer.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	seedWork(t, st, []model.WorkItem{
		{
			WorkID:    "work_1",
			WorkType:  "feature",
			Priority:  model.PriorityMedium,
			AgentID:   "agent_1",
			Status:    model.StatusInProgress,
			UpdatedAt: model.NewTime(now.Add(-23 * time.Hour)),
		},
	})

	res, err := opt.Run(ctx, reportWith(analyzer.Bottleneck{
		Kind:     analyzer.StaleLocks,
		Severity: analyzer.SeverityMedium,
	}))
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	assert.Empty(t, res.Applied[0].Moved)

	work, err := st.Work().Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, work[0].Status)
	assert.Equal(t, "agent_1", work[0].AgentID)
}

func TestRun_AppliesTopTwo(t *testing.T) {
	t.Parallel()

	opt, st, tracer := newTestOptimizer(t, optimizer.WithRetainSpans(10))
	ctx := context.Background()

	res, err := opt.Run(ctx, reportWith(
		analyzer.Bottleneck{Kind: analyzer.TelemetryBloat, Severity: analyzer.SeverityHigh},
		analyzer.Bottleneck{Kind: analyzer.StaleLocks, Severity: analyzer.SeverityMedium},
		analyzer.Bottleneck{Kind: analyzer.AgentOverutilization, Severity: analyzer.SeverityHigh},
	))
	require.NoError(t, err)

	// Scores: bloat 3/1, stale 2/1, overutilization 3/2. Top two win.
	require.Len(t, res.Plan, 2)
	assert.Equal(t, analyzer.TelemetryBloat, res.Plan[0].Kind)
	assert.Equal(t, analyzer.StaleLocks, res.Plan[1].Kind)

	require.Len(t, res.Applied, 2)
	assert.Equal(t, "optimizer.telemetry_compaction", res.Applied[0].Op)
	assert.Equal(t, "optimizer.stale_lock_release", res.Applied[1].Op)

	spans := drainSpans(t, st, tracer)
	assert.Empty(t, spansNamed(spans, "optimizer.agent_load_rebalance"))
}

func TestRun_DeduplicatesMutations(t *testing.T) {
	t.Parallel()

	opt, _, _ := newTestOptimizer(t)

	res, err := opt.Plan(context.Background(), reportWith(
		analyzer.Bottleneck{Kind: analyzer.AgentOverutilization, Severity: analyzer.SeverityHigh},
		analyzer.Bottleneck{Kind: analyzer.AgentUnderutilization, Severity: analyzer.SeverityMedium},
	))
	require.NoError(t, err)

	// Both bottlenecks map to the same rebalance mutation.
	require.Len(t, res.Plan, 1)
	assert.Equal(t, analyzer.AgentOverutilization, res.Plan[0].Kind)
}

func TestPlan_DryRun(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	opt, st, tracer := newTestOptimizer(t, optimizer.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	seedWork(t, st, []model.WorkItem{
		{
			WorkID:    "work_1",
			WorkType:  "feature",
			Priority:  model.PriorityMedium,
			AgentID:   "agent_1",
			Status:    model.StatusActive,
			UpdatedAt: model.NewTime(now.Add(-25 * time.Hour)),
		},
	})

	res, err := opt.Plan(ctx, reportWith(analyzer.Bottleneck{
		Kind:     analyzer.StaleLocks,
		Severity: analyzer.SeverityMedium,
	}))
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	require.Len(t, res.Plan, 1)
	assert.Empty(t, res.Applied)
	assert.Empty(t, res.Backups)

	work, err := st.Work().Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, work[0].Status)

	spans := drainSpans(t, st, tracer)
	require.Len(t, spans, 1)
	assert.Equal(t, "8020.optimizer.run", spans[0].OperationName)
	assert.Equal(t, true, spans[0].Attributes["dry_run"])
}

func TestRun_NoBottlenecks(t *testing.T) {
	t.Parallel()

	opt, _, _ := newTestOptimizer(t)

	res, err := opt.Run(context.Background(), analyzer.Report{})
	require.NoError(t, err)

	assert.Empty(t, res.Plan)
	assert.Empty(t, res.Applied)
	assert.Empty(t, res.Backups)
}

func TestRun_ExternalAdvisorOrdersPlan(t *testing.T) {
	t.Parallel()

	adv := advisorFunc(func(_ context.Context, req advisor.Request) (advisor.Recommendation, error) {
		// Reverse the deterministic order and sneak in an unoffered kind.
		return advisor.Recommendation{
			Plan: []advisor.Candidate{
				{Kind: analyzer.WorkFragmentation, Score: 9},
				{Kind: analyzer.StaleLocks, Score: 1},
				{Kind: analyzer.TelemetryBloat, Score: 0.5},
			},
			Confidence: 0.9,
		}, nil
	})

	opt, _, _ := newTestOptimizer(t, optimizer.WithAdvisor(adv), optimizer.WithRetainSpans(10))

	res, err := opt.Run(context.Background(), reportWith(
		analyzer.Bottleneck{Kind: analyzer.TelemetryBloat, Severity: analyzer.SeverityHigh},
		analyzer.Bottleneck{Kind: analyzer.StaleLocks, Severity: analyzer.SeverityMedium},
	))
	require.NoError(t, err)

	assert.Equal(t, "external", res.Advisor)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	require.Len(t, res.Plan, 2)
	assert.Equal(t, analyzer.StaleLocks, res.Plan[0].Kind)
	assert.Equal(t, analyzer.TelemetryBloat, res.Plan[1].Kind)
}

func TestRun_AdvisorFailureFallsBack(t *testing.T) {
	t.Parallel()

	adv := advisorFunc(func(context.Context, advisor.Request) (advisor.Recommendation, error) {
		return advisor.Recommendation{}, errors.New("endpoint down")
	})

	opt, _, _ := newTestOptimizer(t, optimizer.WithAdvisor(adv), optimizer.WithRetainSpans(10))

	res, err := opt.Run(context.Background(), reportWith(
		analyzer.Bottleneck{Kind: analyzer.StaleLocks, Severity: analyzer.SeverityMedium},
		analyzer.Bottleneck{Kind: analyzer.TelemetryBloat, Severity: analyzer.SeverityHigh},
	))
	require.NoError(t, err)

	assert.Equal(t, "fallback", res.Advisor)
	assert.Zero(t, res.Confidence)
	require.Len(t, res.Plan, 2)
	assert.Equal(t, analyzer.TelemetryBloat, res.Plan[0].Kind)
}

func TestRun_TelemetryCompaction(t *testing.T) {
	t.Parallel()

	opt, st, _ := newTestOptimizer(t, optimizer.WithRetainSpans(10))
	ctx := context.Background()

	seed := make([]model.Span, 60)
	for i := range seed {
		seed[i] = model.Span{
			TraceID:       "0102030405060708090a0b0c0d0e0f10",
			SpanID:        fmt.Sprintf("%016x", i+1),
			OperationName: "coordination.claim",
			ServiceName:   "swarmsh-test",
			StartTimeNS:   int64(i),
			Status:        model.SpanCompleted,
		}
	}
	require.NoError(t, st.Spans().AppendAll(ctx, seed))

	res, err := opt.Run(ctx, reportWith(analyzer.Bottleneck{
		Kind:     analyzer.TelemetryBloat,
		Severity: analyzer.SeverityHigh,
	}))
	require.NoError(t, err)

	require.Len(t, res.Applied, 1)
	assert.Equal(t, 60, res.Applied[0].Before)
	assert.Equal(t, 10, res.Applied[0].After)
	assert.Contains(t, res.Applied[0].Detail, "archived 50 spans")

	// The newest lines survive in order.
	kept, err := st.Spans().Read(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(kept), 10)
	assert.EqualValues(t, 50, kept[0].StartTimeNS)
}

func TestRun_Convergence(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	opt, st, _ := newTestOptimizer(t,
		optimizer.WithClock(func() time.Time { return now }),
		optimizer.WithMoveCap(3),
	)
	ctx := context.Background()

	seedAgents(t, st, []model.Agent{
		{AgentID: "agent_1", Status: model.AgentActive, CapacityMax: 10, CurrentWorkload: 6},
		{AgentID: "agent_2", Status: model.AgentActive, CapacityMax: 10, CurrentWorkload: 1},
		{AgentID: "agent_3", Status: model.AgentActive, CapacityMax: 10},
	})

	items := make([]model.WorkItem, 7)
	for i := range items {
		items[i] = model.WorkItem{
			WorkID:    fmt.Sprintf("work_%d", i+1),
			WorkType:  "feature",
			Priority:  model.PriorityMedium,
			AgentID:   "agent_1",
			Status:    model.StatusActive,
			ClaimedAt: model.NewTime(now.Add(time.Duration(i-10) * time.Hour)),
			UpdatedAt: model.NewTime(now.Add(-time.Minute)),
		}
	}

	items[6].AgentID = "agent_2"
	seedWork(t, st, items)

	res, err := opt.Run(ctx, reportWith(analyzer.Bottleneck{
		Kind:     analyzer.AgentOverutilization,
		Severity: analyzer.SeverityHigh,
	}))
	require.NoError(t, err)

	require.Len(t, res.Applied, 1)
	assert.Len(t, res.Applied[0].Moved, 2)

	work, err := st.Work().Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, work, 7)

	perAgent := map[string]int{}

	for _, item := range work {
		require.True(t, item.Open())
		perAgent[item.AgentID]++
	}

	// Max load never grows and no pair crosses the bounds anymore.
	assert.Equal(t, 4, perAgent["agent_1"])
	assert.Equal(t, 2, perAgent["agent_2"])
	assert.Equal(t, 1, perAgent["agent_3"])
}

func TestArchiveWork(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	opt, st, _ := newTestOptimizer(t,
		optimizer.WithClock(func() time.Time { return now }),
		optimizer.WithFastPathMax(2),
	)
	ctx := context.Background()

	seedWork(t, st, []model.WorkItem{
		{
			WorkID:      "work_1",
			WorkType:    "feature",
			Priority:    model.PriorityMedium,
			Status:      model.StatusCompleted,
			CompletedAt: model.NewTime(now.Add(-48 * time.Hour)),
		},
		{
			WorkID:      "work_2",
			WorkType:    "feature",
			Priority:    model.PriorityMedium,
			Status:      model.StatusCompleted,
			CompletedAt: model.NewTime(now.Add(-time.Hour)),
		},
		{
			WorkID:   "work_3",
			WorkType: "feature",
			Priority: model.PriorityMedium,
			AgentID:  "agent_1",
			Status:   model.StatusActive,
		},
	})

	for i := range 5 {
		require.NoError(t, st.FastPath().Append(ctx, model.FastClaim{
			WorkID:    fmt.Sprintf("work_%d", i),
			AgentID:   "agent_1",
			ClaimedAt: model.NewTime(now),
		}))
	}

	change, err := opt.ArchiveWork(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, change.Before)
	assert.Equal(t, 2, change.After)
	assert.Contains(t, change.Detail, "archived 1 terminal items")
	assert.Contains(t, change.Detail, "trimmed 3 fast-path lines")

	work, err := st.Work().Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, work, 2)

	for _, item := range work {
		assert.NotEqual(t, "work_1", item.WorkID)
	}

	left, err := st.FastPath().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, left)
}
