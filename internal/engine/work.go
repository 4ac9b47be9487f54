package engine

import (
	"context"
	"fmt"

	"github.com/swarmsh/swarmsh/internal/model"
	"github.com/swarmsh/swarmsh/internal/store"
	"github.com/swarmsh/swarmsh/internal/telemetry"
)

// releaseActor labels optimizer-driven transitions in the audit log.
const releaseActor = "optimizer"

// ClaimRequest carries the parameters for claiming new work.
type ClaimRequest struct {
	// AgentID identifies the claiming agent, normally injected from the
	// ambient CLI context.
	AgentID     string
	WorkType    string
	Description string
	// Priority defaults to medium when empty.
	Priority model.Priority
	Team     string
}

// Claim atomically creates a work item in status active assigned to the
// requesting agent. Unregistered agents are added to the roster with
// default capacity on first claim.
func (e *Engine) Claim(ctx context.Context, req ClaimRequest) (model.WorkItem, error) {
	ctx, span := e.tracer.Start(ctx, opClaim)
	started := e.now()
	span.SetAttribute("agent_id", req.AgentID)
	span.SetAttribute("work_type", req.WorkType)

	item, err := e.doClaim(ctx, span, req)
	e.finish(ctx, span, opClaim, started, err)

	if err != nil {
		return model.WorkItem{}, err
	}

	return item, nil
}

func (e *Engine) doClaim(ctx context.Context, span *telemetry.Span, req ClaimRequest) (model.WorkItem, error) {
	if req.AgentID == "" {
		return model.WorkItem{}, ErrNoAgentContext
	}

	if req.WorkType == "" {
		return model.WorkItem{}, fmt.Errorf("%w: work_type is required", ErrValidation)
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}

	if !priority.Valid() {
		return model.WorkItem{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, req.Priority)
	}

	workID, mintErr := e.minter.WorkID()
	if mintErr != nil {
		return model.WorkItem{}, fmt.Errorf("mint work id: %w", mintErr)
	}

	span.SetAttribute("work_id", workID)
	span.SetAttribute("priority", string(priority))

	now := model.NewTime(e.now())
	item := model.WorkItem{
		WorkID:      workID,
		WorkType:    req.WorkType,
		Description: req.Description,
		Priority:    priority,
		Team:        req.Team,
		AgentID:     req.AgentID,
		Status:      model.StatusActive,
		ClaimedAt:   now,
		UpdatedAt:   now,
		TraceID:     span.TraceID(),
	}

	claimed, err := withRetry(ctx, e, func(ctx context.Context) (model.WorkItem, error) {
		mutErr := e.store.Mutate(ctx, func(tx *store.Tx) error {
			if open := countOpen(tx.Work); open >= e.maxWorkActive {
				return fmt.Errorf("%w: %d open items at cap %d", ErrCapacityExceeded, open, e.maxWorkActive)
			}

			idx := findAgent(tx.Agents, req.AgentID)
			if idx < 0 {
				tx.Agents = append(tx.Agents, model.Agent{
					AgentID:       req.AgentID,
					Team:          req.Team,
					CapacityMax:   model.DefaultCapacity,
					Status:        model.AgentActive,
					LastHeartbeat: now,
				})
				idx = len(tx.Agents) - 1
			}

			agent := tx.Agents[idx]
			if !agent.AcceptsWork() {
				return fmt.Errorf("%w: %s holds %d of %d (%s)",
					ErrAgentAtCapacity, agent.AgentID, agent.CurrentWorkload, agent.CapacityMax, agent.Status)
			}

			agent.CurrentWorkload++
			agent.LastHeartbeat = now
			tx.Agents[idx] = agent
			tx.SetAgents(tx.Agents)

			tx.SetWork(append(tx.Work, item))
			tx.AppendLog(e.logEntry(span, req.AgentID, workID, model.ActionClaim, "", string(model.StatusActive)))

			return nil
		})
		if mutErr != nil {
			return model.WorkItem{}, mutErr
		}

		return item, nil
	})
	if err != nil {
		return model.WorkItem{}, err
	}

	// The fast-path mirror is advisory; a failed append never unwinds a
	// committed claim.
	fastErr := e.store.FastPath().Append(ctx, model.FastClaim{
		WorkID:    workID,
		AgentID:   req.AgentID,
		Team:      req.Team,
		ClaimedAt: now,
		TraceID:   span.TraceID(),
	})
	if fastErr != nil {
		e.logger.WarnContext(ctx, "fast-path append failed", "work_id", workID, "error", fastErr)
	}

	e.logger.InfoContext(ctx, "work claimed",
		"work_id", workID, "agent_id", req.AgentID, "work_type", req.WorkType, "priority", priority)

	return claimed, nil
}

// ProgressRequest carries a progress update for an owned work item.
type ProgressRequest struct {
	AgentID string
	WorkID  string
	Percent int
	// Status optionally overrides the post-update status; only active
	// and in_progress are accepted. Empty advances to in_progress.
	Status model.WorkStatus
}

// Progress updates completion percentage and status of a work item. The
// caller must be the owning agent.
func (e *Engine) Progress(ctx context.Context, req ProgressRequest) (model.WorkItem, error) {
	ctx, span := e.tracer.Start(ctx, opProgress)
	started := e.now()
	span.SetAttribute("agent_id", req.AgentID)
	span.SetAttribute("work_id", req.WorkID)
	span.SetAttribute("progress_percent", req.Percent)

	item, err := e.doProgress(ctx, span, req)
	e.finish(ctx, span, opProgress, started, err)

	if err != nil {
		return model.WorkItem{}, err
	}

	return item, nil
}

func (e *Engine) doProgress(ctx context.Context, span *telemetry.Span, req ProgressRequest) (model.WorkItem, error) {
	if req.AgentID == "" {
		return model.WorkItem{}, ErrNoAgentContext
	}

	if req.Percent < 0 || req.Percent > model.ProgressMax {
		return model.WorkItem{}, fmt.Errorf("%w: percent %d outside 0-%d", ErrValidation, req.Percent, model.ProgressMax)
	}

	target := req.Status
	if target == "" {
		target = model.StatusInProgress
	}

	if target != model.StatusActive && target != model.StatusInProgress {
		return model.WorkItem{}, fmt.Errorf("%w: progress cannot set status %q", ErrValidation, req.Status)
	}

	return withRetry(ctx, e, func(ctx context.Context) (model.WorkItem, error) {
		var updated model.WorkItem

		mutErr := e.store.Mutate(ctx, func(tx *store.Tx) error {
			idx := findWork(tx.Work, req.WorkID)
			if idx < 0 {
				return fmt.Errorf("%w: work item %s", ErrNotFound, req.WorkID)
			}

			item := tx.Work[idx]
			if item.AgentID != req.AgentID {
				return fmt.Errorf("%w: %s belongs to %s", ErrNotOwner, req.WorkID, item.AgentID)
			}

			if !item.Status.CanTransition(target) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, item.Status, target)
			}

			from := item.Status
			item.Status = target
			item.ProgressPercent = req.Percent
			item.UpdatedAt = model.NewTime(e.now())
			tx.Work[idx] = item
			tx.SetWork(tx.Work)

			e.touchAgent(tx, req.AgentID)
			tx.AppendLog(e.logEntry(span, req.AgentID, req.WorkID, model.ActionProgress, string(from), string(target)))

			updated = item

			return nil
		})
		if mutErr != nil {
			return model.WorkItem{}, mutErr
		}

		return updated, nil
	})
}

// CompleteRequest carries the terminal transition for an owned work item.
type CompleteRequest struct {
	AgentID        string
	WorkID         string
	Result         string
	VelocityPoints int
	// Failed marks the item failed instead of completed.
	Failed bool
}

// Complete moves a work item to its terminal state. Completing an
// already-terminal item with identical arguments is a no-op success;
// differing arguments fail.
func (e *Engine) Complete(ctx context.Context, req CompleteRequest) (model.WorkItem, error) {
	ctx, span := e.tracer.Start(ctx, opComplete)
	started := e.now()
	span.SetAttribute("agent_id", req.AgentID)
	span.SetAttribute("work_id", req.WorkID)

	item, err := e.doComplete(ctx, span, req)
	e.finish(ctx, span, opComplete, started, err)

	if err != nil {
		return model.WorkItem{}, err
	}

	return item, nil
}

func (e *Engine) doComplete(ctx context.Context, span *telemetry.Span, req CompleteRequest) (model.WorkItem, error) {
	if req.AgentID == "" {
		return model.WorkItem{}, ErrNoAgentContext
	}

	if req.VelocityPoints < 0 {
		return model.WorkItem{}, fmt.Errorf("%w: velocity points %d must not be negative", ErrValidation, req.VelocityPoints)
	}

	target := model.StatusCompleted
	if req.Failed {
		target = model.StatusFailed
	}

	span.SetAttribute("target_status", string(target))

	return withRetry(ctx, e, func(ctx context.Context) (model.WorkItem, error) {
		var updated model.WorkItem

		mutErr := e.store.Mutate(ctx, func(tx *store.Tx) error {
			idx := findWork(tx.Work, req.WorkID)
			if idx < 0 {
				return fmt.Errorf("%w: work item %s", ErrNotFound, req.WorkID)
			}

			item := tx.Work[idx]
			if item.AgentID != req.AgentID {
				return fmt.Errorf("%w: %s belongs to %s", ErrNotOwner, req.WorkID, item.AgentID)
			}

			if item.Status.Terminal() {
				if item.Status == target && item.Result == req.Result && item.VelocityPoints == req.VelocityPoints {
					// Re-completion with identical arguments is a no-op.
					updated = item

					return nil
				}

				return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, req.WorkID, item.Status)
			}

			if !item.Status.CanTransition(target) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, item.Status, target)
			}

			from := item.Status
			now := model.NewTime(e.now())
			item.Status = target
			item.Result = req.Result
			item.VelocityPoints = req.VelocityPoints
			item.CompletedAt = now
			item.UpdatedAt = now

			if target == model.StatusCompleted {
				item.ProgressPercent = model.ProgressMax
			}

			tx.Work[idx] = item
			tx.SetWork(tx.Work)

			e.releaseCapacity(tx, req.AgentID)
			tx.AppendLog(e.logEntry(span, req.AgentID, req.WorkID, model.ActionComplete, string(from), string(target)))

			updated = item

			return nil
		})
		if mutErr != nil {
			return model.WorkItem{}, mutErr
		}

		return updated, nil
	})
}

// Release returns a work item to the pending pool, clearing its agent.
// Reserved for the optimizer's rebalance and stale-lock recovery paths.
func (e *Engine) Release(ctx context.Context, workID, reason string) (model.WorkItem, error) {
	ctx, span := e.tracer.Start(ctx, opRelease)
	started := e.now()
	span.SetAttribute("work_id", workID)
	span.SetAttribute("reason", reason)

	item, err := withRetry(ctx, e, func(ctx context.Context) (model.WorkItem, error) {
		var updated model.WorkItem

		mutErr := e.store.Mutate(ctx, func(tx *store.Tx) error {
			idx := findWork(tx.Work, workID)
			if idx < 0 {
				return fmt.Errorf("%w: work item %s", ErrNotFound, workID)
			}

			item := tx.Work[idx]
			if item.Status.Terminal() {
				return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, workID, item.Status)
			}

			from := item.Status
			if item.AgentID != "" {
				e.releaseCapacity(tx, item.AgentID)
			}

			item.AgentID = ""
			item.Status = model.StatusPending
			item.UpdatedAt = model.NewTime(e.now())
			tx.Work[idx] = item
			tx.SetWork(tx.Work)

			tx.AppendLog(e.logEntry(span, releaseActor, workID, model.ActionRelease, string(from), string(model.StatusPending)))

			updated = item

			return nil
		})
		if mutErr != nil {
			return model.WorkItem{}, mutErr
		}

		return updated, nil
	})

	e.finish(ctx, span, opRelease, started, err)

	if err != nil {
		return model.WorkItem{}, err
	}

	return item, nil
}

// Reassign hands a pending work item to a new agent. Racing reassigns of
// the same item resolve to exactly one winner; losers see a conflict
// once the item has left pending.
func (e *Engine) Reassign(ctx context.Context, workID, newAgentID string) (model.WorkItem, error) {
	ctx, span := e.tracer.Start(ctx, opReassign)
	started := e.now()
	span.SetAttribute("work_id", workID)
	span.SetAttribute("agent_id", newAgentID)

	item, err := e.doReassign(ctx, span, workID, newAgentID)
	e.finish(ctx, span, opReassign, started, err)

	if err != nil {
		return model.WorkItem{}, err
	}

	return item, nil
}

func (e *Engine) doReassign(ctx context.Context, span *telemetry.Span, workID, newAgentID string) (model.WorkItem, error) {
	if newAgentID == "" {
		return model.WorkItem{}, ErrNoAgentContext
	}

	return withRetry(ctx, e, func(ctx context.Context) (model.WorkItem, error) {
		var updated model.WorkItem

		mutErr := e.store.Mutate(ctx, func(tx *store.Tx) error {
			idx := findWork(tx.Work, workID)
			if idx < 0 {
				return fmt.Errorf("%w: work item %s", ErrNotFound, workID)
			}

			item := tx.Work[idx]
			if item.Status.Terminal() {
				return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, workID, item.Status)
			}

			if item.Status != model.StatusPending {
				return fmt.Errorf("%w: %s already %s by %s", ErrConflict, workID, item.Status, item.AgentID)
			}

			agentIdx := findAgent(tx.Agents, newAgentID)
			if agentIdx < 0 {
				return fmt.Errorf("%w: agent %s", ErrNotFound, newAgentID)
			}

			agent := tx.Agents[agentIdx]
			if !agent.AcceptsWork() {
				return fmt.Errorf("%w: %s holds %d of %d (%s)",
					ErrAgentAtCapacity, agent.AgentID, agent.CurrentWorkload, agent.CapacityMax, agent.Status)
			}

			now := model.NewTime(e.now())
			agent.CurrentWorkload++
			agent.LastHeartbeat = now
			tx.Agents[agentIdx] = agent
			tx.SetAgents(tx.Agents)

			item.AgentID = newAgentID
			item.Status = model.StatusActive
			item.ClaimedAt = now
			item.UpdatedAt = now
			item.TraceID = span.TraceID()
			tx.Work[idx] = item
			tx.SetWork(tx.Work)

			tx.AppendLog(e.logEntry(span, newAgentID, workID, model.ActionReassign, string(model.StatusPending), string(model.StatusActive)))

			updated = item

			return nil
		})
		if mutErr != nil {
			return model.WorkItem{}, mutErr
		}

		return updated, nil
	})
}

// touchAgent refreshes last_heartbeat for an agent present in the
// transaction.
func (e *Engine) touchAgent(tx *store.Tx, agentID string) {
	idx := findAgent(tx.Agents, agentID)
	if idx < 0 {
		return
	}

	tx.Agents[idx].LastHeartbeat = model.NewTime(e.now())
	tx.SetAgents(tx.Agents)
}

// releaseCapacity returns one unit of workload to the agent and
// refreshes its heartbeat.
func (e *Engine) releaseCapacity(tx *store.Tx, agentID string) {
	idx := findAgent(tx.Agents, agentID)
	if idx < 0 {
		return
	}

	if tx.Agents[idx].CurrentWorkload > 0 {
		tx.Agents[idx].CurrentWorkload--
	}

	tx.Agents[idx].LastHeartbeat = model.NewTime(e.now())
	tx.SetAgents(tx.Agents)
}
