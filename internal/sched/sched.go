// Package sched drives periodic maintenance: a cron-like dispatcher
// with a bounded worker pool, per-kind overlap suppression, persisted
// completion state, and at most one catch-up run per kind after
// downtime.
package sched

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmsh/swarmsh/internal/engine"
	"github.com/swarmsh/swarmsh/internal/model"
	"github.com/swarmsh/swarmsh/internal/store"
	"github.com/swarmsh/swarmsh/internal/telemetry"
)

// opSchedulerJob is the span emitted around every job run.
const opSchedulerJob = "scheduler.job"

// StateFile persists last completion times under the store root.
const StateFile = "schedule_state.json"

// Dispatcher defaults.
const (
	// DefaultWorkers bounds how many jobs run at once.
	DefaultWorkers = 4
	// DefaultJobTimeout bounds a single run.
	DefaultJobTimeout = 10 * time.Minute
	// DefaultTick is the due-job scan cadence.
	DefaultTick = time.Second
)

// Job is one periodic maintenance task.
type Job struct {
	// Kind names the job. At most one run per kind is in flight.
	Kind string

	// Every is the cadence between runs.
	Every time.Duration

	// Daily pins the job to AtHour:AtMinute local once a day instead
	// of the Every cadence.
	Daily bool

	// AtHour and AtMinute are the local wall-clock time for Daily jobs.
	AtHour   int
	AtMinute int

	// Run does the work under the scheduler's job timeout.
	Run func(ctx context.Context) error
}

// interval is the cadence used for the catch-up decision.
func (j Job) interval() time.Duration {
	if j.Daily {
		return 24 * time.Hour
	}

	return j.Every
}

// next computes the run following from.
func (j Job) next(from time.Time) time.Time {
	if !j.Daily {
		return from.Add(j.Every)
	}

	at := time.Date(from.Year(), from.Month(), from.Day(), j.AtHour, j.AtMinute, 0, 0, from.Location())
	if !at.After(from) {
		at = at.AddDate(0, 0, 1)
	}

	return at
}

// scheduleState is the persisted completion ledger.
type scheduleState struct {
	LastCompleted map[string]model.Time `json:"last_completed"`
}

// Scheduler dispatches the job table until its context ends.
type Scheduler struct {
	store      *store.Store
	tracer     *telemetry.Tracer
	logger     *slog.Logger
	jobs       []Job
	workers    int
	jobTimeout time.Duration
	tick       time.Duration
	remedy     <-chan struct{}
	now        func() time.Time

	mu       sync.Mutex
	running  map[string]bool
	nextRun  map[string]time.Time
	lastDone map[string]time.Time
	failures map[string]int

	sem chan struct{}
	wg  sync.WaitGroup
}

// Option adjusts scheduler construction.
type Option func(*Scheduler)

// WithWorkers bounds concurrent job runs.
func WithWorkers(n int) Option {
	return func(s *Scheduler) { s.workers = n }
}

// WithJobTimeout bounds a single job run.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.jobTimeout = d }
}

// WithTick sets the due-job scan cadence.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// WithRemediation subscribes the dispatcher to critical health
// signals; each one advances the next optimizer run to now.
func WithRemediation(ch <-chan struct{}) Option {
	return func(s *Scheduler) { s.remedy = ch }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithClock overrides the wall clock used for due checks.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler over the given job table.
func New(st *store.Store, tracer *telemetry.Tracer, jobs []Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      st,
		tracer:     tracer,
		logger:     slog.Default(),
		jobs:       jobs,
		workers:    DefaultWorkers,
		jobTimeout: DefaultJobTimeout,
		tick:       DefaultTick,
		now:        time.Now,
		running:    make(map[string]bool, len(jobs)),
		nextRun:    make(map[string]time.Time, len(jobs)),
		lastDone:   make(map[string]time.Time, len(jobs)),
		failures:   make(map[string]int, len(jobs)),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.sem = make(chan struct{}, s.workers)

	return s
}

// Failures returns the consecutive failure count per job kind,
// omitting kinds currently healthy. The health monitor folds it into
// its report.
func (s *Scheduler) Failures() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.failures))

	for kind, count := range s.failures {
		if count > 0 {
			out[kind] = count
		}
	}

	return out
}

// Run dispatches jobs until ctx ends, then waits for in-flight runs.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.loadState(); err != nil {
		s.logger.WarnContext(ctx, "schedule state unreadable, starting fresh", "error", err)
	}

	s.plan()
	s.dispatchDue(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()

			return nil
		case <-ticker.C:
			s.dispatchDue(ctx)
		case <-s.remedy:
			s.logger.InfoContext(ctx, "critical health report, optimizer advanced")
			s.advance(JobOptimize)
			s.dispatchDue(ctx)
		}
	}
}

// plan seeds next-run times. Kinds whose last completion is missing or
// older than one interval get a single catch-up run now.
func (s *Scheduler) plan() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		last, ok := s.lastDone[job.Kind]
		if !ok || now.Sub(last) >= job.interval() {
			s.nextRun[job.Kind] = now

			continue
		}

		s.nextRun[job.Kind] = job.next(last)
	}
}

// advance marks kind due immediately if it is in the table.
func (s *Scheduler) advance(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nextRun[kind]; ok {
		s.nextRun[kind] = s.now()
	}
}

// dispatchDue starts every due job the pool has room for. Saturated
// or overlapping kinds stay due and are retried on the next tick.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()

	var due []Job

	for _, job := range s.jobs {
		if s.running[job.Kind] || now.Before(s.nextRun[job.Kind]) {
			continue
		}

		select {
		case s.sem <- struct{}{}:
		default:
			continue
		}

		s.running[job.Kind] = true
		s.nextRun[job.Kind] = job.next(now)

		due = append(due, job)
	}

	s.mu.Unlock()

	for _, job := range due {
		s.wg.Add(1)

		go s.execute(ctx, job)
	}
}

// execute runs one job with its span, timeout, and accounting.
func (s *Scheduler) execute(ctx context.Context, job Job) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running[job.Kind] = false
		s.mu.Unlock()

		<-s.sem
	}()

	runID := uuid.NewString()

	ctx, span := s.tracer.Start(ctx, opSchedulerJob)
	defer span.End()

	span.SetAttribute("job", job.Kind)
	span.SetAttribute("run_id", runID)

	jobCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	err := job.Run(jobCtx)

	if err != nil {
		span.RecordError(engine.Kind(err))

		s.mu.Lock()
		s.failures[job.Kind]++
		count := s.failures[job.Kind]
		s.mu.Unlock()

		s.logger.WarnContext(ctx, "job failed",
			"job", job.Kind,
			"run_id", runID,
			"consecutive_failures", count,
			"error", err)

		return
	}

	s.mu.Lock()
	s.failures[job.Kind] = 0
	s.lastDone[job.Kind] = s.now().UTC()
	s.mu.Unlock()

	if err := s.saveState(); err != nil {
		s.logger.WarnContext(ctx, "persist schedule state", "error", err)
	}

	s.logger.InfoContext(ctx, "job complete",
		"job", job.Kind,
		"run_id", runID,
		"elapsed", time.Since(start).String())
}

// loadState restores last completion times from the store root.
func (s *Scheduler) loadState() error {
	raw, err := os.ReadFile(filepath.Join(s.store.Root(), StateFile))
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return err
	}

	var state scheduleState
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("decode %s: %w", StateFile, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for kind, at := range state.LastCompleted {
		s.lastDone[kind] = at.Time
	}

	return nil
}

// saveState persists last completion times atomically.
func (s *Scheduler) saveState() error {
	s.mu.Lock()
	state := scheduleState{LastCompleted: make(map[string]model.Time, len(s.lastDone))}

	for kind, at := range s.lastDone {
		state.LastCompleted[kind] = model.NewTime(at)
	}
	s.mu.Unlock()

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schedule state: %w", err)
	}

	payload = append(payload, '\n')

	_, err = s.store.WriteReport(StateFile, payload)

	return err
}
