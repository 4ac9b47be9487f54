// Package health computes a composite coordination health score from
// the analyzer's observable metrics, persists a report per check, and
// signals remediation when the system goes critical.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/swarmsh/swarmsh/internal/analyzer"
	"github.com/swarmsh/swarmsh/internal/engine"
	"github.com/swarmsh/swarmsh/internal/model"
	"github.com/swarmsh/swarmsh/internal/store"
	"github.com/swarmsh/swarmsh/internal/telemetry"
)

// opHealthCheck is the span emitted once per health check.
const opHealthCheck = "health.check"

// Score bands. Scores at or above HealthyFloor are healthy, at or
// above DegradedFloor degraded, anything lower critical.
const (
	HealthyFloor  = 70.0
	DegradedFloor = 50.0
)

// Sub-score weights. They sum to one.
const (
	weightCompletion   = 0.30
	weightAvailability = 0.20
	weightQueue        = 0.20
	weightLatency      = 0.15
	weightTelemetry    = 0.15
)

// latencyCeilingMS is the store round-trip above which latency health
// bottoms out.
const latencyCeilingMS = 100.0

// Defaults for the pressure denominators.
const (
	// DefaultTargetCapacity matches the engine's active work limit.
	DefaultTargetCapacity = 100
	// DefaultMaxSpans matches the analyzer's telemetry bloat threshold.
	DefaultMaxSpans = 10000
)

// reportTimeFormat stamps health report file names.
const reportTimeFormat = "20060102T150405"

// Status classifies a composite score.
type Status string

// Health statuses.
const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// statusFor maps a composite score to its band.
func statusFor(score float64) Status {
	switch {
	case score >= HealthyFloor:
		return StatusHealthy
	case score >= DegradedFloor:
		return StatusDegraded
	default:
		return StatusCritical
	}
}

// Subscores are the normalized score inputs, each in [0, 1].
type Subscores struct {
	Completion    float64 `json:"completion" yaml:"completion"`
	Availability  float64 `json:"agent_availability" yaml:"agent_availability"`
	QueuePressure float64 `json:"queue_pressure" yaml:"queue_pressure"`
	Latency       float64 `json:"latency" yaml:"latency"`
	Telemetry     float64 `json:"telemetry" yaml:"telemetry"`
}

// Report is one health check outcome, persisted as
// health_report_{ts}.json under the store root.
type Report struct {
	GeneratedAt model.Time `json:"generated_at" yaml:"generated_at"`
	Score       float64    `json:"score" yaml:"score"`
	Status      Status     `json:"status" yaml:"status"`
	Subscores   Subscores  `json:"subscores" yaml:"subscores"`

	TotalWork     int `json:"total_work" yaml:"total_work"`
	ActiveWork    int `json:"active_work" yaml:"active_work"`
	CompletedWork int `json:"completed_work" yaml:"completed_work"`
	TotalAgents   int `json:"total_agents" yaml:"total_agents"`
	ActiveAgents  int `json:"active_agents" yaml:"active_agents"`

	LatencyMS       float64 `json:"coordination_latency_ms" yaml:"coordination_latency_ms"`
	TelemetryVolume int     `json:"telemetry_volume" yaml:"telemetry_volume"`

	JobFailures map[string]int `json:"job_failures,omitempty" yaml:"job_failures,omitempty"`

	// Path is where the report was written. Not part of the document.
	Path string `json:"-" yaml:"-"`
}

// Monitor computes, persists, and signals coordination health.
type Monitor struct {
	store          *store.Store
	analyzer       *analyzer.Analyzer
	tracer         *telemetry.Tracer
	logger         *slog.Logger
	targetCapacity int
	maxSpans       int
	jobFailures    func() map[string]int
	remedy         chan struct{}
	lastScore      atomic.Int64
	now            func() time.Time
}

// Option adjusts monitor construction.
type Option func(*Monitor)

// WithTargetCapacity sets the active work level treated as full queue
// pressure.
func WithTargetCapacity(n int) Option {
	return func(m *Monitor) { m.targetCapacity = n }
}

// WithMaxSpans sets the span volume treated as full telemetry pressure.
func WithMaxSpans(n int) Option {
	return func(m *Monitor) { m.maxSpans = n }
}

// WithJobFailures supplies the scheduler's consecutive job failure
// counts for inclusion in the report.
func WithJobFailures(fn func() map[string]int) Option {
	return func(m *Monitor) { m.jobFailures = fn }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor deriving its readings from the analyzer.
func New(st *store.Store, anl *analyzer.Analyzer, tracer *telemetry.Tracer, opts ...Option) *Monitor {
	m := &Monitor{
		store:          st,
		analyzer:       anl,
		tracer:         tracer,
		logger:         slog.Default(),
		targetCapacity: DefaultTargetCapacity,
		maxSpans:       DefaultMaxSpans,
		remedy:         make(chan struct{}, 1),
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Remediation signals critical reports. The monitor never blocks on
// it; the scheduler reads it to advance the next optimizer run.
func (m *Monitor) Remediation() <-chan struct{} {
	return m.remedy
}

// Score returns the rounded composite score of the most recent check,
// for gauge export. Zero before the first check.
func (m *Monitor) Score() int64 {
	return m.lastScore.Load()
}

// Check computes the composite score, writes the report file, and
// emits one span. Critical reports raise the remediation signal.
func (m *Monitor) Check(ctx context.Context) (Report, error) {
	ctx, span := m.tracer.Start(ctx, opHealthCheck)
	defer span.End()

	obs, err := m.analyzer.Observe(ctx)
	if err != nil {
		span.RecordError(engine.Kind(err))

		return Report{}, fmt.Errorf("observe state: %w", err)
	}

	report := m.evaluate(obs)
	if m.jobFailures != nil {
		report.JobFailures = m.jobFailures()
	}

	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		span.RecordError(engine.Kind(err))

		return Report{}, fmt.Errorf("encode health report: %w", err)
	}

	payload = append(payload, '\n')
	name := fmt.Sprintf("health_report_%s.json", m.now().UTC().Format(reportTimeFormat))

	path, err := m.store.WriteReport(name, payload)
	if err != nil {
		span.RecordError(engine.Kind(err))

		return Report{}, err
	}

	report.Path = path
	m.lastScore.Store(int64(math.Round(report.Score)))

	span.SetAttribute("score", report.Score)
	span.SetAttribute("status", string(report.Status))
	span.SetAttribute("active_work", report.ActiveWork)

	if report.Status == StatusCritical {
		select {
		case m.remedy <- struct{}{}:
		default:
		}

		m.logger.WarnContext(ctx, "health critical, remediation signaled",
			"score", report.Score,
			"active_work", report.ActiveWork)
	} else {
		m.logger.InfoContext(ctx, "health check complete",
			"score", report.Score,
			"status", string(report.Status))
	}

	return report, nil
}

// evaluate derives the weighted composite score from one observation.
func (m *Monitor) evaluate(obs analyzer.Report) Report {
	sub := Subscores{
		Completion:    1,
		QueuePressure: 1 - clamp01(float64(obs.ActiveWork)/float64(m.targetCapacity)),
		Latency:       1 - clamp01(obs.CoordinationLatencyMS/latencyCeilingMS),
		Telemetry:     1 - clamp01(float64(obs.TelemetryVolume)/float64(m.maxSpans)),
	}

	if obs.TotalWork > 0 {
		sub.Completion = float64(obs.CompletedWork) / float64(obs.TotalWork)
	}

	if obs.TotalAgents > 0 {
		sub.Availability = float64(obs.ActiveAgents) / float64(obs.TotalAgents)
	}

	score := 100 * (weightCompletion*sub.Completion +
		weightAvailability*sub.Availability +
		weightQueue*sub.QueuePressure +
		weightLatency*sub.Latency +
		weightTelemetry*sub.Telemetry)

	return Report{
		GeneratedAt:     model.NewTime(m.now()),
		Score:           score,
		Status:          statusFor(score),
		Subscores:       sub,
		TotalWork:       obs.TotalWork,
		ActiveWork:      obs.ActiveWork,
		CompletedWork:   obs.CompletedWork,
		TotalAgents:     obs.TotalAgents,
		ActiveAgents:    obs.ActiveAgents,
		LatencyMS:       obs.CoordinationLatencyMS,
		TelemetryVolume: obs.TelemetryVolume,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}
