package optimizer

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/swarmsh/swarmsh/internal/analyzer"
	"github.com/swarmsh/swarmsh/internal/engine"
	"github.com/swarmsh/swarmsh/internal/model"
	"github.com/swarmsh/swarmsh/internal/store"
)

// rebalanceAgents moves open items from overloaded agents to
// underutilized ones, one exclusive transaction for the whole pass.
// Earliest claimed_at moves first; the item's team is untouched.
func (o *Optimizer) rebalanceAgents(ctx context.Context, kind analyzer.BottleneckKind) (Change, error) {
	ctx, span := o.tracer.Start(ctx, opAgentRebalance)
	defer span.End()

	change := Change{Kind: kind, Op: opAgentRebalance}
	now := o.now()

	err := o.store.Mutate(ctx, func(tx *store.Tx) error {
		counts := openCounts(tx.Work)
		change.Before = maxCount(counts)

		for len(change.Moved) < o.moveCap {
			src := o.mostLoadedAgent(counts)
			dst := o.leastLoadedAgent(tx.Agents, counts)

			if src == "" || dst == "" || src == dst {
				break
			}

			idx := earliestOpenItem(tx.Work, src)
			if idx < 0 {
				break
			}

			tx.Work[idx].AgentID = dst
			tx.Work[idx].UpdatedAt = model.NewTime(now)
			shiftWorkload(tx.Agents, src, dst)
			counts[src]--
			counts[dst]++

			change.Moved = append(change.Moved, tx.Work[idx].WorkID)
			tx.AppendLog(auditEntry(span, tx.Work[idx].WorkID, model.ActionRebalance, src, dst, now))
		}

		if len(change.Moved) == 0 {
			return nil
		}

		change.After = maxCount(counts)
		tx.SetWork(tx.Work)
		tx.SetAgents(tx.Agents)

		return nil
	})
	if err != nil {
		span.RecordError(engine.Kind(err))

		return Change{}, fmt.Errorf("agent load rebalance: %w", err)
	}

	if len(change.Moved) == 0 {
		change.After = change.Before
		change.Detail = "no eligible overloaded/underutilized agent pair"
	} else {
		change.Detail = fmt.Sprintf("max open items per agent %d -> %d", change.Before, change.After)
	}

	span.SetAttribute("moved", len(change.Moved))
	span.SetAttribute("before", change.Before)
	span.SetAttribute("after", change.After)

	if len(change.Moved) > 0 {
		span.SetAttribute("work_ids", strings.Join(change.Moved, ","))
	}

	return change, nil
}

// rebalanceTeams moves open items from the most-loaded team to the
// least-loaded one by retagging the item's team.
func (o *Optimizer) rebalanceTeams(ctx context.Context) (Change, error) {
	ctx, span := o.tracer.Start(ctx, opTeamRebalance)
	defer span.End()

	change := Change{Kind: analyzer.TeamLoadImbalance, Op: opTeamRebalance}
	now := o.now()

	err := o.store.Mutate(ctx, func(tx *store.Tx) error {
		counts := teamCounts(tx.Work, tx.Agents)
		change.Before = maxCount(counts)

		for len(change.Moved) < o.moveCap {
			src, dst := spreadTeams(counts)
			if src == "" || dst == "" || src == dst || counts[src]-counts[dst] < 2 {
				break
			}

			idx := earliestOpenTeamItem(tx.Work, src)
			if idx < 0 {
				break
			}

			tx.Work[idx].Team = dst
			tx.Work[idx].UpdatedAt = model.NewTime(now)
			counts[src]--
			counts[dst]++

			change.Moved = append(change.Moved, tx.Work[idx].WorkID)
			tx.AppendLog(auditEntry(span, tx.Work[idx].WorkID, model.ActionRebalance, src, dst, now))
		}

		if len(change.Moved) == 0 {
			return nil
		}

		change.After = maxCount(counts)
		tx.SetWork(tx.Work)

		return nil
	})
	if err != nil {
		span.RecordError(engine.Kind(err))

		return Change{}, fmt.Errorf("team load rebalance: %w", err)
	}

	if len(change.Moved) == 0 {
		change.After = change.Before
		change.Detail = "no team pair with a movable spread"
	} else {
		change.Detail = fmt.Sprintf("max team load %d -> %d", change.Before, change.After)
	}

	span.SetAttribute("moved", len(change.Moved))
	span.SetAttribute("before", change.Before)
	span.SetAttribute("after", change.After)

	return change, nil
}

// ReleaseStaleLocks returns every open item whose updated_at is older
// than the stale TTL to pending and clears its agent. One span carries
// the full released set; the scheduler also calls this directly.
func (o *Optimizer) ReleaseStaleLocks(ctx context.Context) (Change, error) {
	ctx, span := o.tracer.Start(ctx, opStaleRelease)
	defer span.End()

	change := Change{Kind: analyzer.StaleLocks, Op: opStaleRelease}
	now := o.now()
	staleBefore := now.Add(-o.staleTTL)

	err := o.store.Mutate(ctx, func(tx *store.Tx) error {
		for i := range tx.Work {
			item := &tx.Work[i]
			if !item.Open() || !item.UpdatedAt.Time.Before(staleBefore) {
				continue
			}

			from := item.Status

			if item.AgentID != "" {
				dropWorkload(tx.Agents, item.AgentID)
			}

			item.AgentID = ""
			item.Status = model.StatusPending
			item.UpdatedAt = model.NewTime(now)

			change.Moved = append(change.Moved, item.WorkID)
			tx.AppendLog(auditEntry(span, item.WorkID, model.ActionRelease, string(from), string(model.StatusPending), now))
		}

		if len(change.Moved) == 0 {
			return nil
		}

		tx.SetWork(tx.Work)
		tx.SetAgents(tx.Agents)

		return nil
	})
	if err != nil {
		span.RecordError(engine.Kind(err))

		return Change{}, fmt.Errorf("stale lock release: %w", err)
	}

	change.Before = len(change.Moved)
	change.After = 0
	change.Detail = fmt.Sprintf("%d stale items released to pending", len(change.Moved))

	span.SetAttribute("released", len(change.Moved))

	if len(change.Moved) > 0 {
		span.SetAttribute("work_ids", strings.Join(change.Moved, ","))
	}

	return change, nil
}

// CompactTelemetry archives all but the newest retained span log lines.
func (o *Optimizer) CompactTelemetry(ctx context.Context) (Change, error) {
	ctx, span := o.tracer.Start(ctx, opCompaction)
	defer span.End()

	res, err := o.store.ArchiveSpans(ctx, o.retainSpans)
	if err != nil {
		span.RecordError(engine.Kind(err))

		return Change{}, fmt.Errorf("telemetry compaction: %w", err)
	}

	change := Change{
		Kind:   analyzer.TelemetryBloat,
		Op:     opCompaction,
		Before: res.Archived + res.Retained,
		After:  res.Retained,
	}

	if res.Archived == 0 {
		change.Detail = "span volume within retention"
	} else {
		change.Detail = fmt.Sprintf("archived %d spans to %s", res.Archived, filepath.Base(res.Path))
	}

	span.SetAttribute("archived", res.Archived)
	span.SetAttribute("retained", res.Retained)

	return change, nil
}

// ArchiveWork moves old terminal items into the day-stamped archive and
// trims the fast-path log.
func (o *Optimizer) ArchiveWork(ctx context.Context) (Change, error) {
	ctx, span := o.tracer.Start(ctx, opArchival)
	defer span.End()

	cutoff := o.now().Add(-o.archiveAge)

	res, err := o.store.ArchiveCompletedWork(ctx, cutoff)
	if err != nil {
		span.RecordError(engine.Kind(err))

		return Change{}, fmt.Errorf("work archival: %w", err)
	}

	trimmed, err := o.store.TrimFastPath(ctx, o.fastPathMax)
	if err != nil {
		span.RecordError(engine.Kind(err))

		return Change{}, fmt.Errorf("trim fast path: %w", err)
	}

	change := Change{
		Kind:   analyzer.CoordinationLatency,
		Op:     opArchival,
		Before: res.Archived + res.Retained,
		After:  res.Retained,
		Detail: fmt.Sprintf("archived %d terminal items, trimmed %d fast-path lines", res.Archived, trimmed),
	}

	span.SetAttribute("archived", res.Archived)
	span.SetAttribute("retained", res.Retained)
	span.SetAttribute("fastpath_trimmed", trimmed)

	return change, nil
}

// openCounts tallies open items per assigned agent.
func openCounts(work []model.WorkItem) map[string]int {
	counts := map[string]int{}

	for _, item := range work {
		if item.Open() && item.AgentID != "" {
			counts[item.AgentID]++
		}
	}

	return counts
}

// teamCounts tallies open items per team, including zero-load teams
// known only from agent registrations.
func teamCounts(work []model.WorkItem, agents []model.Agent) map[string]int {
	counts := map[string]int{}

	for _, agent := range agents {
		if agent.Team != "" {
			counts[agent.Team] = 0
		}
	}

	for _, item := range work {
		if item.Open() && item.Team != "" {
			counts[item.Team]++
		}
	}

	return counts
}

// mostLoadedAgent returns the agent holding the most open items, only
// when it is past the overload bound. Ties break on lexical order.
func (o *Optimizer) mostLoadedAgent(counts map[string]int) string {
	best := ""

	for id, count := range counts {
		if count <= o.loadMax {
			continue
		}

		if best == "" || count > counts[best] || (count == counts[best] && id < best) {
			best = id
		}
	}

	return best
}

// leastLoadedAgent returns the active agent with spare capacity holding
// the fewest open items, only when it is under the underutilized bound.
// Agent slice order breaks ties.
func (o *Optimizer) leastLoadedAgent(agents []model.Agent, counts map[string]int) string {
	best := ""
	bestCount := 0

	for _, agent := range agents {
		count := counts[agent.AgentID]
		if count >= o.loadMin || !agent.AcceptsWork() {
			continue
		}

		if best == "" || count < bestCount {
			best = agent.AgentID
			bestCount = count
		}
	}

	return best
}

// spreadTeams returns the most- and least-loaded team names. Ties break
// on lexical order for a deterministic pick.
func spreadTeams(counts map[string]int) (src, dst string) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if src == "" || counts[name] > counts[src] {
			src = name
		}

		if dst == "" || counts[name] < counts[dst] {
			dst = name
		}
	}

	return src, dst
}

// earliestOpenItem finds the agent's open item with the earliest
// claimed_at.
func earliestOpenItem(work []model.WorkItem, agentID string) int {
	best := -1

	for i, item := range work {
		if !item.Open() || item.AgentID != agentID {
			continue
		}

		if best < 0 || item.ClaimedAt.Time.Before(work[best].ClaimedAt.Time) {
			best = i
		}
	}

	return best
}

// earliestOpenTeamItem finds the team's open item with the earliest
// claimed_at.
func earliestOpenTeamItem(work []model.WorkItem, team string) int {
	best := -1

	for i, item := range work {
		if !item.Open() || item.Team != team {
			continue
		}

		if best < 0 || item.ClaimedAt.Time.Before(work[best].ClaimedAt.Time) {
			best = i
		}
	}

	return best
}

// maxCount returns the largest tally, zero for an empty map.
func maxCount(counts map[string]int) int {
	most := 0

	for _, count := range counts {
		if count > most {
			most = count
		}
	}

	return most
}

// shiftWorkload moves one unit of workload from src to dst, keeping the
// counters consistent with the open items each agent holds. Heartbeats
// are untouched; rebalancing says nothing about agent liveness.
func shiftWorkload(agents []model.Agent, src, dst string) {
	for i := range agents {
		switch agents[i].AgentID {
		case src:
			if agents[i].CurrentWorkload > 0 {
				agents[i].CurrentWorkload--
			}
		case dst:
			agents[i].CurrentWorkload++
		}
	}
}

// dropWorkload releases one unit of the agent's workload.
func dropWorkload(agents []model.Agent, agentID string) {
	for i := range agents {
		if agents[i].AgentID != agentID {
			continue
		}

		if agents[i].CurrentWorkload > 0 {
			agents[i].CurrentWorkload--
		}

		return
	}
}
