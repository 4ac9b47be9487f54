// Package engine implements the coordination state machine: agent
// registration and the claim, progress, complete, release, and reassign
// transitions over the locked store. Every operation is atomic, audited,
// and traced.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/swarmsh/swarmsh/internal/model"
	"github.com/swarmsh/swarmsh/internal/observability"
	"github.com/swarmsh/swarmsh/internal/store"
	"github.com/swarmsh/swarmsh/internal/telemetry"
	"github.com/swarmsh/swarmsh/pkg/ids"
)

// Span operation names, one per coordination operation.
const (
	opRegister  = "coordination.register"
	opClaim     = "coordination.claim"
	opProgress  = "coordination.progress"
	opComplete  = "coordination.complete"
	opRelease   = "coordination.release"
	opReassign  = "coordination.reassign"
	opHeartbeat = "coordination.heartbeat"
)

const (
	// defaultMaxWorkActive caps open work items system-wide.
	defaultMaxWorkActive = 100

	// defaultMaxRetries bounds transparent retries of lock timeouts and
	// lost races.
	defaultMaxRetries = 3

	// defaultRetryInterval seeds the exponential backoff between
	// retries.
	defaultRetryInterval = 50 * time.Millisecond
)

// statusCompleted and statusError label operation outcomes on metrics.
const (
	statusCompleted = "completed"
	statusError     = "error"
)

// Engine executes coordination operations against the store. All public
// operations take a context, run under exclusive collection locks, emit
// one span, and append one audit entry per committed transition.
type Engine struct {
	store   *store.Store
	tracer  *telemetry.Tracer
	minter  *ids.Minter
	logger  *slog.Logger
	metrics *observability.CoordinationMetrics

	maxWorkActive int
	maxRetries    int
	retryInterval time.Duration
	now           func() time.Time

	conflicts atomic.Int64
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics attaches coordination metric instruments.
func WithMetrics(metrics *observability.CoordinationMetrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithMaxWorkActive caps the number of open work items system-wide.
func WithMaxWorkActive(limit int) Option {
	return func(e *Engine) { e.maxWorkActive = limit }
}

// WithMaxRetries bounds transparent retries of retryable errors. Zero
// disables retrying.
func WithMaxRetries(retries int) Option {
	return func(e *Engine) { e.maxRetries = retries }
}

// WithRetryInterval sets the initial backoff interval between retries.
func WithRetryInterval(interval time.Duration) Option {
	return func(e *Engine) { e.retryInterval = interval }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a coordination engine over the given store.
func New(st *store.Store, tracer *telemetry.Tracer, minter *ids.Minter, opts ...Option) *Engine {
	e := &Engine{
		store:         st,
		tracer:        tracer,
		minter:        minter,
		logger:        slog.Default(),
		maxWorkActive: defaultMaxWorkActive,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Conflicts returns the count of lock-timeout and lost-race errors
// surfaced to callers since the engine was created.
func (e *Engine) Conflicts() int64 {
	return e.conflicts.Load()
}

// RegisterRequest carries agent registration parameters.
type RegisterRequest struct {
	AgentID        string
	Team           string
	Capacity       int
	Specialization string
	// Status defaults to active when empty.
	Status model.AgentStatus
}

// Register adds an agent to the roster. A zero capacity defaults to
// [model.DefaultCapacity]; a negative capacity and an unknown status
// are rejected.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (model.Agent, error) {
	ctx, span := e.tracer.Start(ctx, opRegister)
	started := e.now()
	span.SetAttribute("agent_id", req.AgentID)

	agent, err := e.doRegister(ctx, span, req)
	e.finish(ctx, span, opRegister, started, err)

	if err != nil {
		return model.Agent{}, err
	}

	return agent, nil
}

func (e *Engine) doRegister(ctx context.Context, span *telemetry.Span, req RegisterRequest) (model.Agent, error) {
	if req.AgentID == "" {
		return model.Agent{}, fmt.Errorf("%w: agent_id is required", ErrValidation)
	}

	if req.Capacity < 0 {
		return model.Agent{}, fmt.Errorf("%w: capacity %d must be positive", ErrValidation, req.Capacity)
	}

	capacity := req.Capacity
	if capacity == 0 {
		capacity = model.DefaultCapacity
	}

	status := req.Status
	if status == "" {
		status = model.AgentActive
	}

	if !status.Valid() {
		return model.Agent{}, fmt.Errorf("%w: unknown agent status %q", ErrValidation, req.Status)
	}

	now := model.NewTime(e.now())
	agent := model.Agent{
		AgentID:        req.AgentID,
		Team:           req.Team,
		Specialization: req.Specialization,
		CapacityMax:    capacity,
		Status:         status,
		LastHeartbeat:  now,
	}

	return withRetry(ctx, e, func(ctx context.Context) (model.Agent, error) {
		mutErr := e.store.Mutate(ctx, func(tx *store.Tx) error {
			if findAgent(tx.Agents, req.AgentID) >= 0 {
				return fmt.Errorf("%w: %s", ErrDuplicateAgent, req.AgentID)
			}

			tx.SetAgents(append(tx.Agents, agent))
			tx.AppendLog(e.logEntry(span, req.AgentID, req.AgentID, model.ActionRegister, "", string(status)))

			return nil
		})
		if mutErr != nil {
			return model.Agent{}, mutErr
		}

		return agent, nil
	})
}

// Heartbeat refreshes the agent's last_heartbeat. Claim, progress, and
// complete refresh it implicitly; daemon-resident agents call this
// between operations.
func (e *Engine) Heartbeat(ctx context.Context, agentID string) error {
	ctx, span := e.tracer.Start(ctx, opHeartbeat)
	started := e.now()
	span.SetAttribute("agent_id", agentID)

	_, err := withRetry(ctx, e, func(ctx context.Context) (struct{}, error) {
		updErr := e.store.Agents().Update(ctx, func(agents []model.Agent) ([]model.Agent, error) {
			idx := findAgent(agents, agentID)
			if idx < 0 {
				return nil, fmt.Errorf("%w: agent %s", ErrNotFound, agentID)
			}

			agents[idx].LastHeartbeat = model.NewTime(e.now())

			return agents, nil
		})

		return struct{}{}, updErr
	})

	e.finish(ctx, span, opHeartbeat, started, err)

	return err
}

// withRetry runs op, transparently retrying retryable failures with
// exponential backoff up to the configured retry budget. All attempts
// run under the span already present in ctx, so the trace ID is stable
// across retries.
func withRetry[T any](ctx context.Context, e *Engine, op func(ctx context.Context) (T, error)) (T, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = e.retryInterval

	attempt := 0

	return backoff.Retry(ctx, func() (T, error) {
		attempt++

		val, err := op(ctx)
		if err == nil {
			return val, nil
		}

		if Retryable(err) {
			e.logger.DebugContext(ctx, "retryable coordination failure",
				"attempt", attempt, "error", err)

			return val, err
		}

		return val, backoff.Permanent(err)
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(uint(e.maxRetries)+1))
}

// finish stamps the operation outcome on its span, metrics, and the
// conflict counter, then ends the span.
func (e *Engine) finish(ctx context.Context, span *telemetry.Span, op string, started time.Time, err error) {
	status := statusCompleted

	if err != nil {
		status = statusError
		kind := Kind(err)
		span.RecordError(kind)

		if kind == KindLockTimeout || kind == KindConflict {
			span.SetAttribute("work_conflicts", e.conflicts.Add(1))

			if e.metrics != nil {
				e.metrics.RecordConflict(ctx, op)
			}
		}

		e.logger.WarnContext(ctx, "coordination operation failed", "op", op, "error", err)
	}

	span.End()

	if e.metrics != nil {
		e.metrics.RecordOperation(ctx, op, status, e.now().Sub(started))
	}
}

// logEntry builds one audit record stamped with the span's trace.
func (e *Engine) logEntry(span *telemetry.Span, actor, target, action, from, to string) model.LogEntry {
	return model.LogEntry{
		TraceID:    span.TraceID(),
		SpanID:     span.SpanID(),
		Actor:      actor,
		Target:     target,
		Action:     action,
		FromState:  from,
		ToState:    to,
		RecordedAt: model.NewTime(e.now()),
	}
}

// findAgent returns the index of agentID in agents, or -1.
func findAgent(agents []model.Agent, agentID string) int {
	for idx := range agents {
		if agents[idx].AgentID == agentID {
			return idx
		}
	}

	return -1
}

// findWork returns the index of workID in items, or -1.
func findWork(items []model.WorkItem, workID string) int {
	for idx := range items {
		if items[idx].WorkID == workID {
			return idx
		}
	}

	return -1
}

// countOpen tallies items currently occupying agent capacity.
func countOpen(items []model.WorkItem) int {
	open := 0

	for idx := range items {
		if items[idx].Open() {
			open++
		}
	}

	return open
}
