package sched

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/swarmsh/swarmsh/internal/analyzer"
	"github.com/swarmsh/swarmsh/internal/health"
	"github.com/swarmsh/swarmsh/internal/isolation"
	"github.com/swarmsh/swarmsh/internal/optimizer"
	"github.com/swarmsh/swarmsh/internal/store"
)

// Kinds of the standard maintenance table.
const (
	JobHealth           = "health"
	JobOptimize         = "optimize"
	JobAnalyze          = "analyze"
	JobTelemetryArchive = "telemetry_archive"
	JobWorkArchive      = "work_archive"
	JobStaleLockClean   = "stale_lock_clean"
)

// Standard cadences. Aggressive mode tightens the health cadence; the
// daemon pairs it with a shorter optimizer stale TTL.
const (
	HealthInterval           = 2 * time.Hour
	HealthIntervalAggressive = 15 * time.Minute
	OptimizeInterval         = time.Hour
	AnalyzeInterval          = 6 * time.Hour
	TelemetryArchiveInterval = 4 * time.Hour
	WorkArchiveHour          = 3
	StaleLockCleanInterval   = 30 * time.Minute

	// DefaultEnvironmentTTL bounds isolation lease age before the
	// work-archive sweep releases it.
	DefaultEnvironmentTTL = 24 * time.Hour
)

// reportTimeFormat stamps metrics report file names.
const reportTimeFormat = "20060102T150405"

// clockFormat parses daily "HH:MM" schedule times.
const clockFormat = "15:04"

// Deps carries the maintenance surfaces the standard job table drives.
type Deps struct {
	Store          *store.Store
	Analyzer       *analyzer.Analyzer
	Optimizer      *optimizer.Optimizer
	Health         *health.Monitor
	Isolation      isolation.Provider
	EnvironmentTTL time.Duration
}

// Cadence overrides the standard job intervals. Zero fields keep the
// standard table; Aggressive wins over a configured health interval.
type Cadence struct {
	Aggressive bool

	Health           time.Duration
	Optimize         time.Duration
	Analyze          time.Duration
	TelemetryArchive time.Duration
	StaleLockClean   time.Duration

	// WorkArchiveAt is the daily "HH:MM" of the work archive run.
	WorkArchiveAt string
}

// DefaultJobs builds the standard maintenance table.
func DefaultJobs(deps Deps, cad Cadence) []Job {
	healthEvery := orStandard(cad.Health, HealthInterval)
	if cad.Aggressive {
		healthEvery = HealthIntervalAggressive
	}

	envTTL := deps.EnvironmentTTL
	if envTTL <= 0 {
		envTTL = DefaultEnvironmentTTL
	}

	archiveHour, archiveMinute := archiveClock(cad.WorkArchiveAt)

	return []Job{
		{
			Kind:  JobHealth,
			Every: healthEvery,
			Run: func(ctx context.Context) error {
				_, err := deps.Health.Check(ctx)

				return err
			},
		},
		{
			Kind:  JobOptimize,
			Every: orStandard(cad.Optimize, OptimizeInterval),
			Run: func(ctx context.Context) error {
				// Observe instead of Run keeps the hourly cadence to a
				// single optimizer span; the analyze job owns the
				// spanful report.
				rep, err := deps.Analyzer.Observe(ctx)
				if err != nil {
					return err
				}

				_, err = deps.Optimizer.Run(ctx, rep)

				return err
			},
		},
		{
			Kind:  JobAnalyze,
			Every: orStandard(cad.Analyze, AnalyzeInterval),
			Run: func(ctx context.Context) error {
				return writeMetricsReport(ctx, deps)
			},
		},
		{
			Kind:  JobTelemetryArchive,
			Every: orStandard(cad.TelemetryArchive, TelemetryArchiveInterval),
			Run: func(ctx context.Context) error {
				_, err := deps.Optimizer.CompactTelemetry(ctx)

				return err
			},
		},
		{
			Kind:     JobWorkArchive,
			Daily:    true,
			AtHour:   archiveHour,
			AtMinute: archiveMinute,
			Run: func(ctx context.Context) error {
				_, archiveErr := deps.Optimizer.ArchiveWork(ctx)

				var sweepErr error
				if deps.Isolation != nil {
					_, sweepErr = deps.Isolation.Sweep(ctx, envTTL)
				}

				return errors.Join(archiveErr, sweepErr)
			},
		},
		{
			Kind:  JobStaleLockClean,
			Every: orStandard(cad.StaleLockClean, StaleLockCleanInterval),
			Run: func(ctx context.Context) error {
				_, err := deps.Optimizer.ReleaseStaleLocks(ctx)

				return err
			},
		},
	}
}

// orStandard returns the override when positive, else the standard
// cadence.
func orStandard(override, standard time.Duration) time.Duration {
	if override > 0 {
		return override
	}

	return standard
}

// archiveClock parses the daily "HH:MM" schedule time. Empty or
// malformed values keep the 03:00 standard.
func archiveClock(at string) (hour, minute int) {
	if at == "" {
		return WorkArchiveHour, 0
	}

	parsed, err := time.Parse(clockFormat, at)
	if err != nil {
		return WorkArchiveHour, 0
	}

	return parsed.Hour(), parsed.Minute()
}

// writeMetricsReport runs a full analysis and persists the report
// document next to the collections.
func writeMetricsReport(ctx context.Context, deps Deps) error {
	rep, err := deps.Analyzer.Run(ctx)
	if err != nil {
		return err
	}

	payload, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metrics report: %w", err)
	}

	payload = append(payload, '\n')
	name := fmt.Sprintf("metrics_%s.json", rep.GeneratedAt.UTC().Format(reportTimeFormat))

	_, err = deps.Store.WriteReport(name, payload)

	return err
}
