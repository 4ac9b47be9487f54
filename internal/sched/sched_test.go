package sched_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmsh/swarmsh/internal/analyzer"
	"github.com/swarmsh/swarmsh/internal/health"
	"github.com/swarmsh/swarmsh/internal/isolation"
	"github.com/swarmsh/swarmsh/internal/model"
	"github.com/swarmsh/swarmsh/internal/optimizer"
	"github.com/swarmsh/swarmsh/internal/sched"
	"github.com/swarmsh/swarmsh/internal/store"
	"github.com/swarmsh/swarmsh/internal/telemetry"
	"github.com/swarmsh/swarmsh/pkg/ids"
)

const (
	eventuallyWait = 5 * time.Second
	eventuallyPoll = 2 * time.Millisecond
)

func newTestStore(t *testing.T) (*store.Store, *telemetry.Tracer) {
	t.Helper()

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)

	tracer := telemetry.New(st.Spans(), ids.New(),
		telemetry.WithService("swarmsh-test", "0.0.0-test"),
		telemetry.WithMailbox(64, 10*time.Millisecond),
	)

	return st, tracer
}

// startScheduler runs the dispatcher until test cleanup.
func startScheduler(t *testing.T, s *sched.Scheduler) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return cancel
}

// seedState pre-writes the completion ledger so specific kinds look
// recently or long finished.
func seedState(t *testing.T, st *store.Store, last map[string]time.Time) {
	t.Helper()

	completed := make(map[string]model.Time, len(last))
	for kind, at := range last {
		completed[kind] = model.NewTime(at)
	}

	payload, err := json.Marshal(map[string]any{"last_completed": completed})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(st.Root(), sched.StateFile), payload, 0o644))
}

func TestRun_ExecutesOnCadenceAndPersistsState(t *testing.T) {
	t.Parallel()

	st, tracer := newTestStore(t)

	var runs atomic.Int32

	jobs := []sched.Job{{
		Kind:  "tick",
		Every: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)

			return nil
		},
	}}

	s := sched.New(st, tracer, jobs, sched.WithTick(time.Millisecond))
	cancel := startScheduler(t, s)

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, eventuallyWait, eventuallyPoll)
	cancel()

	assert.Empty(t, s.Failures())

	// Completions are persisted for the next process.
	raw, err := os.ReadFile(filepath.Join(st.Root(), sched.StateFile))
	require.NoError(t, err)

	var state struct {
		LastCompleted map[string]model.Time `json:"last_completed"`
	}
	require.NoError(t, json.Unmarshal(raw, &state))
	assert.Contains(t, state.LastCompleted, "tick")

	// Every run got a span naming the job.
	require.NoError(t, tracer.Close(context.Background()))

	spans, err := st.Spans().Read(context.Background())
	require.NoError(t, err)

	var jobSpans int

	for _, span := range spans {
		if span.OperationName != "scheduler.job" {
			continue
		}

		jobSpans++

		assert.Equal(t, "tick", span.Attributes["job"])
		assert.NotEmpty(t, span.Attributes["run_id"])
	}

	assert.GreaterOrEqual(t, jobSpans, 3)
}

func TestRun_CatchesUpOnceAfterDowntime(t *testing.T) {
	t.Parallel()

	st, tracer := newTestStore(t)

	now := time.Now()
	seedState(t, st, map[string]time.Time{
		"overdue": now.Add(-2 * time.Hour),
		"fresh":   now,
	})

	var overdue, fresh atomic.Int32

	jobs := []sched.Job{
		{Kind: "overdue", Every: time.Hour, Run: func(context.Context) error {
			overdue.Add(1)

			return nil
		}},
		{Kind: "fresh", Every: time.Hour, Run: func(context.Context) error {
			fresh.Add(1)

			return nil
		}},
	}

	s := sched.New(st, tracer, jobs, sched.WithTick(time.Millisecond))
	startScheduler(t, s)

	require.Eventually(t, func() bool { return overdue.Load() == 1 }, eventuallyWait, eventuallyPoll)

	// The missed hours are not backfilled as a burst, and recently
	// completed kinds wait out their interval.
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, overdue.Load())
	assert.Zero(t, fresh.Load())
}

func TestRun_SuppressesOverlappingRuns(t *testing.T) {
	t.Parallel()

	st, tracer := newTestStore(t)

	var (
		inflight atomic.Int32
		peak     atomic.Int32
		runs     atomic.Int32
	)

	jobs := []sched.Job{{
		Kind:  "slow",
		Every: 2 * time.Millisecond,
		Run: func(context.Context) error {
			cur := inflight.Add(1)
			defer inflight.Add(-1)

			for {
				seen := peak.Load()
				if cur <= seen || peak.CompareAndSwap(seen, cur) {
					break
				}
			}

			time.Sleep(15 * time.Millisecond)
			runs.Add(1)

			return nil
		},
	}}

	s := sched.New(st, tracer, jobs, sched.WithTick(time.Millisecond))
	startScheduler(t, s)

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, eventuallyWait, eventuallyPoll)
	assert.EqualValues(t, 1, peak.Load())
}

func TestRun_BoundsWorkerPool(t *testing.T) {
	t.Parallel()

	st, tracer := newTestStore(t)

	var (
		inflight atomic.Int32
		peak     atomic.Int32
		runs     atomic.Int32
	)

	run := func(context.Context) error {
		cur := inflight.Add(1)
		defer inflight.Add(-1)

		for {
			seen := peak.Load()
			if cur <= seen || peak.CompareAndSwap(seen, cur) {
				break
			}
		}

		time.Sleep(10 * time.Millisecond)
		runs.Add(1)

		return nil
	}

	jobs := []sched.Job{
		{Kind: "a", Every: time.Hour, Run: run},
		{Kind: "b", Every: time.Hour, Run: run},
	}

	s := sched.New(st, tracer, jobs,
		sched.WithTick(time.Millisecond),
		sched.WithWorkers(1),
	)
	startScheduler(t, s)

	// Both kinds are due at startup but the single worker serializes
	// them.
	require.Eventually(t, func() bool { return runs.Load() == 2 }, eventuallyWait, eventuallyPoll)
	assert.EqualValues(t, 1, peak.Load())
}

func TestRun_TimeoutCountsAsFailure(t *testing.T) {
	t.Parallel()

	st, tracer := newTestStore(t)

	var runs atomic.Int32

	jobs := []sched.Job{{
		Kind:  "hang",
		Every: 2 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			<-ctx.Done()

			return ctx.Err()
		},
	}}

	s := sched.New(st, tracer, jobs,
		sched.WithTick(time.Millisecond),
		sched.WithJobTimeout(10*time.Millisecond),
	)
	startScheduler(t, s)

	require.Eventually(t, func() bool {
		return s.Failures()["hang"] >= 2
	}, eventuallyWait, eventuallyPoll)

	// The kind keeps rerunning once each timed-out run returns.
	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestRun_RemediationAdvancesOptimizer(t *testing.T) {
	t.Parallel()

	st, tracer := newTestStore(t)

	// A fresh completion keeps the hourly cadence far away, so only
	// the remediation signal can trigger a run.
	seedState(t, st, map[string]time.Time{sched.JobOptimize: time.Now()})

	var runs atomic.Int32

	jobs := []sched.Job{{
		Kind:  sched.JobOptimize,
		Every: time.Hour,
		Run: func(context.Context) error {
			runs.Add(1)

			return nil
		},
	}}

	remedy := make(chan struct{}, 1)
	s := sched.New(st, tracer, jobs,
		sched.WithTick(time.Millisecond),
		sched.WithRemediation(remedy),
	)
	startScheduler(t, s)

	time.Sleep(30 * time.Millisecond)
	require.Zero(t, runs.Load())

	remedy <- struct{}{}

	require.Eventually(t, func() bool { return runs.Load() == 1 }, eventuallyWait, eventuallyPoll)
}

func TestFailures_ResetOnSuccess(t *testing.T) {
	t.Parallel()

	st, tracer := newTestStore(t)

	var flaky atomic.Int32

	jobs := []sched.Job{{
		Kind:  "flaky",
		Every: 2 * time.Millisecond,
		Run: func(context.Context) error {
			if flaky.Add(1) <= 2 {
				return assert.AnError
			}

			return nil
		},
	}}

	s := sched.New(st, tracer, jobs, sched.WithTick(time.Millisecond))
	startScheduler(t, s)

	require.Eventually(t, func() bool { return flaky.Load() >= 3 }, eventuallyWait, eventuallyPoll)

	require.Eventually(t, func() bool {
		_, ok := s.Failures()["flaky"]

		return !ok
	}, eventuallyWait, eventuallyPoll)
}

func TestDefaultJobs_TableShape(t *testing.T) {
	t.Parallel()

	st, tracer := newTestStore(t)
	deps := testDeps(st, tracer)

	jobs := sched.DefaultJobs(deps, sched.Cadence{})
	require.Len(t, jobs, 6)

	byKind := make(map[string]sched.Job, len(jobs))
	for _, job := range jobs {
		byKind[job.Kind] = job
	}

	assert.Equal(t, 2*time.Hour, byKind[sched.JobHealth].Every)
	assert.Equal(t, time.Hour, byKind[sched.JobOptimize].Every)
	assert.Equal(t, 6*time.Hour, byKind[sched.JobAnalyze].Every)
	assert.Equal(t, 4*time.Hour, byKind[sched.JobTelemetryArchive].Every)
	assert.Equal(t, 30*time.Minute, byKind[sched.JobStaleLockClean].Every)

	archive := byKind[sched.JobWorkArchive]
	assert.True(t, archive.Daily)
	assert.Equal(t, 3, archive.AtHour)
	assert.Equal(t, 0, archive.AtMinute)
}

func TestDefaultJobs_CadenceOverrides(t *testing.T) {
	t.Parallel()

	st, tracer := newTestStore(t)
	deps := testDeps(st, tracer)

	jobs := sched.DefaultJobs(deps, sched.Cadence{
		Health:           45 * time.Minute,
		Optimize:         20 * time.Minute,
		TelemetryArchive: time.Hour,
		WorkArchiveAt:    "01:30",
	})

	byKind := make(map[string]sched.Job, len(jobs))
	for _, job := range jobs {
		byKind[job.Kind] = job
	}

	assert.Equal(t, 45*time.Minute, byKind[sched.JobHealth].Every)
	assert.Equal(t, 20*time.Minute, byKind[sched.JobOptimize].Every)
	assert.Equal(t, time.Hour, byKind[sched.JobTelemetryArchive].Every)

	// Unset fields keep the standard cadence.
	assert.Equal(t, 6*time.Hour, byKind[sched.JobAnalyze].Every)
	assert.Equal(t, 30*time.Minute, byKind[sched.JobStaleLockClean].Every)

	archive := byKind[sched.JobWorkArchive]
	assert.Equal(t, 1, archive.AtHour)
	assert.Equal(t, 30, archive.AtMinute)

	// Aggressive mode wins over a configured health interval.
	aggressive := sched.DefaultJobs(deps, sched.Cadence{
		Aggressive: true,
		Health:     45 * time.Minute,
	})
	for _, job := range aggressive {
		if job.Kind == sched.JobHealth {
			assert.Equal(t, 15*time.Minute, job.Every)
		}
	}
}

func TestDefaultJobs_RunAgainstStore(t *testing.T) {
	t.Parallel()

	st, tracer := newTestStore(t)
	deps := testDeps(st, tracer)
	ctx := context.Background()

	for _, job := range sched.DefaultJobs(deps, sched.Cadence{}) {
		require.NoError(t, job.Run(ctx), "job %s", job.Kind)
	}

	// The health and analyze jobs leave report documents behind.
	healthReports, err := filepath.Glob(filepath.Join(st.Root(), "health_report_*.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, healthReports)

	metricsReports, err := filepath.Glob(filepath.Join(st.Root(), "metrics_*.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, metricsReports)
}

func testDeps(st *store.Store, tracer *telemetry.Tracer) sched.Deps {
	anl := analyzer.New(st, tracer)

	return sched.Deps{
		Store:     st,
		Analyzer:  anl,
		Optimizer: optimizer.New(st, tracer),
		Health:    health.New(st, anl, tracer),
		Isolation: isolation.NoopProvider{},
	}
}
