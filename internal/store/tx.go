package store

import (
	"context"

	"github.com/swarmsh/swarmsh/internal/model"
)

// Tx is one exclusive pass over the coordination collections. The work,
// agent, and log locks are held in that canonical order for the whole
// callback, so a committed transaction is observed atomically by any
// reader honoring the same order.
type Tx struct {
	Work   []model.WorkItem
	Agents []model.Agent

	workDirty   bool
	agentsDirty bool
	appends     []model.LogEntry
}

// SetWork replaces the work snapshot to be persisted on commit.
func (tx *Tx) SetWork(items []model.WorkItem) {
	tx.Work = items
	tx.workDirty = true
}

// SetAgents replaces the agent snapshot to be persisted on commit.
func (tx *Tx) SetAgents(agents []model.Agent) {
	tx.Agents = agents
	tx.agentsDirty = true
}

// AppendLog queues audit entries for the commit.
func (tx *Tx) AppendLog(entries ...model.LogEntry) {
	tx.appends = append(tx.appends, entries...)
}

// Mutate runs fn with all coordination locks held, then persists what
// the callback marked dirty. When fn errors, nothing is written.
func (s *Store) Mutate(ctx context.Context, fn func(tx *Tx) error) error {
	releaseWork, workLockErr := s.acquire(ctx, WorkClaimsFile, true)
	if workLockErr != nil {
		return workLockErr
	}
	defer releaseWork()

	releaseAgents, agentLockErr := s.acquire(ctx, AgentStatusFile, true)
	if agentLockErr != nil {
		return agentLockErr
	}
	defer releaseAgents()

	releaseLog, logLockErr := s.acquire(ctx, CoordinationLogFile, true)
	if logLockErr != nil {
		return logLockErr
	}
	defer releaseLog()

	work, workErr := s.Work().load()
	if workErr != nil {
		return workErr
	}

	agents, agentsErr := s.Agents().load()
	if agentsErr != nil {
		return agentsErr
	}

	tx := &Tx{Work: work, Agents: agents}

	fnErr := fn(tx)
	if fnErr != nil {
		return fnErr
	}

	if tx.workDirty {
		saveErr := s.Work().save(tx.Work)
		if saveErr != nil {
			return saveErr
		}
	}

	if tx.agentsDirty {
		saveErr := s.Agents().save(tx.Agents)
		if saveErr != nil {
			return saveErr
		}
	}

	if len(tx.appends) > 0 {
		entries, loadErr := s.Log().load()
		if loadErr != nil {
			return loadErr
		}

		entries = append(entries, tx.appends...)

		saveErr := s.Log().save(entries)
		if saveErr != nil {
			return saveErr
		}
	}

	return nil
}
