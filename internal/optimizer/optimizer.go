// Package optimizer applies targeted low-risk mutations that restore
// coordination balance: agent and team load rebalancing, stale lock
// release, telemetry compaction, and work archival. Selection is 80/20:
// bottlenecks are ranked by severity weight over mutation cost and only
// the top slice is applied per cycle.
package optimizer

import (
	"context"
	"log/slog"
	"time"

	"github.com/swarmsh/swarmsh/internal/advisor"
	"github.com/swarmsh/swarmsh/internal/analyzer"
	"github.com/swarmsh/swarmsh/internal/engine"
	"github.com/swarmsh/swarmsh/internal/model"
	"github.com/swarmsh/swarmsh/internal/store"
	"github.com/swarmsh/swarmsh/internal/telemetry"
)

// Span operations emitted by the optimizer. The run span parents one
// child span per applied mutation.
const (
	opRun            = "8020.optimizer.run"
	opAgentRebalance = "optimizer.agent_load_rebalance"
	opTeamRebalance  = "optimizer.team_load_rebalance"
	opStaleRelease   = "optimizer.stale_lock_release"
	opCompaction     = "optimizer.telemetry_compaction"
	opArchival       = "optimizer.work_archival"
)

// auditActor labels optimizer-driven transitions in the audit log.
const auditActor = "optimizer"

// Advisor labels recorded on the run span and result.
const (
	advisorFallback = "fallback"
	advisorExternal = "external"
)

// Optimizer defaults.
const (
	// DefaultLoadMax is the open-item count above which an agent is
	// overloaded.
	DefaultLoadMax = 4
	// DefaultLoadMin is the open-item count below which an agent is
	// underutilized.
	DefaultLoadMin = 2
	// DefaultMoveCap bounds rebalancing moves per cycle.
	DefaultMoveCap = 1
	// DefaultStaleTTL is how long an open item may go without an update
	// before its lock is considered stale.
	DefaultStaleTTL = 24 * time.Hour
	// DefaultRetainSpans is how many span log lines compaction keeps.
	DefaultRetainSpans = 500
	// DefaultArchiveAge is how old a terminal item must be before work
	// archival moves it out of the primary collection.
	DefaultArchiveAge = 24 * time.Hour
	// DefaultFastPathMax bounds the fast-path log during work archival.
	DefaultFastPathMax = 1000
	// DefaultMaxChanges is how many ranked mutations one cycle applies.
	DefaultMaxChanges = 2
	// DefaultTeamVariance is the minimum team load variance before
	// team rebalancing moves anything.
	DefaultTeamVariance = 1.0
)

// mutation maps a bottleneck kind to its span operation and relative
// cost. Kinds absent from this table are advice-only.
type mutation struct {
	op   string
	cost float64
}

var mutations = map[analyzer.BottleneckKind]mutation{
	analyzer.StaleLocks:            {op: opStaleRelease, cost: 1},
	analyzer.TelemetryBloat:        {op: opCompaction, cost: 1},
	analyzer.AgentOverutilization:  {op: opAgentRebalance, cost: 2},
	analyzer.AgentUnderutilization: {op: opAgentRebalance, cost: 2},
	analyzer.TeamLoadImbalance:     {op: opTeamRebalance, cost: 2},
	analyzer.CoordinationLatency:   {op: opArchival, cost: 3},
}

// severityWeights feed the 80/20 candidate score.
var severityWeights = map[analyzer.Severity]float64{
	analyzer.SeverityHigh:   3,
	analyzer.SeverityMedium: 2,
	analyzer.SeverityLow:    1,
}

// Change records one applied mutation with its before and after counts
// of the metric the mutation targets.
type Change struct {
	Kind   analyzer.BottleneckKind `json:"kind" yaml:"kind"`
	Op     string                  `json:"op" yaml:"op"`
	Moved  []string                `json:"moved,omitempty" yaml:"moved,omitempty"`
	Before int                     `json:"before" yaml:"before"`
	After  int                     `json:"after" yaml:"after"`
	Detail string                  `json:"detail" yaml:"detail"`
}

// Result reports one optimization cycle.
type Result struct {
	RanAt      model.Time          `json:"ran_at" yaml:"ran_at"`
	DryRun     bool                `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Advisor    string              `json:"advisor" yaml:"advisor"`
	Confidence float64             `json:"confidence" yaml:"confidence"`
	Plan       []advisor.Candidate `json:"plan" yaml:"plan"`
	Backups    []string            `json:"backups,omitempty" yaml:"backups,omitempty"`
	Applied    []Change            `json:"applied,omitempty" yaml:"applied,omitempty"`
}

// Optimizer plans and applies balance-restoring mutations over the
// shared store.
type Optimizer struct {
	store        *store.Store
	tracer       *telemetry.Tracer
	advisor      advisor.Advisor
	logger       *slog.Logger
	loadMax      int
	loadMin      int
	moveCap      int
	staleTTL     time.Duration
	retainSpans  int
	archiveAge   time.Duration
	fastPathMax  int
	maxChanges   int
	teamVariance float64
	now          func() time.Time
}

// Option adjusts optimizer construction.
type Option func(*Optimizer)

// WithAdvisor sets an external advisor consulted before applying
// mutations. Advisor failure falls back to the deterministic ranking.
func WithAdvisor(adv advisor.Advisor) Option {
	return func(o *Optimizer) { o.advisor = adv }
}

// WithLoadBounds sets the underutilized and overloaded open-item
// bounds for agent rebalancing.
func WithLoadBounds(loadMin, loadMax int) Option {
	return func(o *Optimizer) {
		o.loadMin = loadMin
		o.loadMax = loadMax
	}
}

// WithMoveCap bounds rebalancing moves per cycle.
func WithMoveCap(moves int) Option {
	return func(o *Optimizer) { o.moveCap = moves }
}

// WithStaleTTL sets the idle age after which an open item's lock is
// stale.
func WithStaleTTL(ttl time.Duration) Option {
	return func(o *Optimizer) { o.staleTTL = ttl }
}

// WithRetainSpans sets how many span log lines compaction keeps.
func WithRetainSpans(retain int) Option {
	return func(o *Optimizer) { o.retainSpans = retain }
}

// WithArchiveAge sets how old a terminal item must be before archival.
func WithArchiveAge(age time.Duration) Option {
	return func(o *Optimizer) { o.archiveAge = age }
}

// WithFastPathMax bounds the fast-path log during work archival.
func WithFastPathMax(maxLines int) Option {
	return func(o *Optimizer) { o.fastPathMax = maxLines }
}

// WithMaxChanges sets how many ranked mutations one cycle applies.
func WithMaxChanges(n int) Option {
	return func(o *Optimizer) { o.maxChanges = n }
}

// WithTeamVariance sets the minimum team load variance before team
// rebalancing is considered.
func WithTeamVariance(floor float64) Option {
	return func(o *Optimizer) { o.teamVariance = floor }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Optimizer) { o.logger = logger }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) { o.now = now }
}

// New creates an optimizer over the given store.
func New(st *store.Store, tracer *telemetry.Tracer, opts ...Option) *Optimizer {
	o := &Optimizer{
		store:        st,
		tracer:       tracer,
		logger:       slog.Default(),
		loadMax:      DefaultLoadMax,
		loadMin:      DefaultLoadMin,
		moveCap:      DefaultMoveCap,
		staleTTL:     DefaultStaleTTL,
		retainSpans:  DefaultRetainSpans,
		archiveAge:   DefaultArchiveAge,
		fastPathMax:  DefaultFastPathMax,
		maxChanges:   DefaultMaxChanges,
		teamVariance: DefaultTeamVariance,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run applies the top-ranked mutations for the report's bottlenecks.
// The primary collections are backed up before the first mutation.
func (o *Optimizer) Run(ctx context.Context, rep analyzer.Report) (Result, error) {
	return o.cycle(ctx, rep, false)
}

// Plan ranks and consults without mutating anything.
func (o *Optimizer) Plan(ctx context.Context, rep analyzer.Report) (Result, error) {
	return o.cycle(ctx, rep, true)
}

func (o *Optimizer) cycle(ctx context.Context, rep analyzer.Report, dry bool) (Result, error) {
	ctx, span := o.tracer.Start(ctx, opRun)
	defer span.End()

	res := Result{RanAt: model.NewTime(o.now()), DryRun: dry}
	res.Plan, res.Advisor, res.Confidence = o.consult(ctx, rep, o.candidates(rep))

	if len(res.Plan) > o.maxChanges {
		res.Plan = res.Plan[:o.maxChanges]
	}

	span.SetAttribute("advisor", res.Advisor)
	span.SetAttribute("dry_run", dry)
	span.SetAttribute("plan", len(res.Plan))

	if dry || len(res.Plan) == 0 {
		return res, nil
	}

	backups, err := o.backup(ctx)
	if err != nil {
		span.RecordError(engine.Kind(err))

		return Result{}, err
	}

	res.Backups = backups

	for _, cand := range res.Plan {
		change, applyErr := o.apply(ctx, cand.Kind)
		if applyErr != nil {
			span.RecordError(engine.Kind(applyErr))

			return Result{}, applyErr
		}

		res.Applied = append(res.Applied, change)
	}

	span.SetAttribute("applied", len(res.Applied))
	o.logger.InfoContext(ctx, "optimization cycle complete",
		"advisor", res.Advisor,
		"plan", len(res.Plan),
		"applied", len(res.Applied))

	return res, nil
}

// candidates maps actionable bottlenecks to scored candidates, one per
// mutation operation. Team rebalancing only qualifies once the measured
// team load variance reaches the configured minimum.
func (o *Optimizer) candidates(rep analyzer.Report) []advisor.Candidate {
	var out []advisor.Candidate

	seen := map[string]bool{}

	for _, b := range rep.Bottlenecks {
		if b.Kind == analyzer.TeamLoadImbalance && rep.TeamLoadVariance < o.teamVariance {
			continue
		}

		mut, ok := mutations[b.Kind]
		if !ok || seen[mut.op] {
			continue
		}

		seen[mut.op] = true
		out = append(out, advisor.Candidate{
			Kind:  b.Kind,
			Score: severityWeights[b.Severity] / mut.cost,
		})
	}

	return out
}

// consult asks the configured advisor to order the candidates. Any
// advisor failure falls back to the deterministic ranking.
func (o *Optimizer) consult(
	ctx context.Context,
	rep analyzer.Report,
	candidates []advisor.Candidate,
) (plan []advisor.Candidate, label string, confidence float64) {
	req := advisor.Request{Report: rep, Candidates: candidates}
	fallback, _ := advisor.Fallback{}.Advise(ctx, req)

	if o.advisor == nil {
		return fallback.Plan, advisorFallback, 0
	}

	rec, err := o.advisor.Advise(ctx, req)
	if err != nil {
		o.logger.WarnContext(ctx, "advisor unavailable, using fallback ranking", "error", err)

		return fallback.Plan, advisorFallback, 0
	}

	plan = restrict(rec.Plan, candidates)
	if len(plan) == 0 {
		return fallback.Plan, advisorFallback, 0
	}

	return plan, advisorExternal, rec.Confidence
}

// restrict keeps only recommended candidates that were actually
// offered, deduplicated, in recommendation order.
func restrict(plan, offered []advisor.Candidate) []advisor.Candidate {
	allowed := map[analyzer.BottleneckKind]bool{}
	for _, cand := range offered {
		allowed[cand.Kind] = true
	}

	var out []advisor.Candidate

	for _, cand := range plan {
		if !allowed[cand.Kind] {
			continue
		}

		allowed[cand.Kind] = false
		out = append(out, cand)
	}

	return out
}

// backup snapshots the primary collections before the first mutation of
// a cycle.
func (o *Optimizer) backup(ctx context.Context) ([]string, error) {
	names := []string{store.WorkClaimsFile, store.AgentStatusFile, store.CoordinationLogFile}
	paths := make([]string, 0, len(names))

	for _, name := range names {
		path, err := o.store.Backup(ctx, name)
		if err != nil {
			return nil, err
		}

		if path != "" {
			paths = append(paths, path)
		}
	}

	return paths, nil
}

// apply dispatches one ranked candidate to its mutation.
func (o *Optimizer) apply(ctx context.Context, kind analyzer.BottleneckKind) (Change, error) {
	switch mutations[kind].op {
	case opAgentRebalance:
		return o.rebalanceAgents(ctx, kind)
	case opTeamRebalance:
		return o.rebalanceTeams(ctx)
	case opStaleRelease:
		return o.ReleaseStaleLocks(ctx)
	case opCompaction:
		return o.CompactTelemetry(ctx)
	default:
		return o.ArchiveWork(ctx)
	}
}

// auditEntry builds one audit record stamped with the span's trace.
func auditEntry(span *telemetry.Span, target, action, from, to string, at time.Time) model.LogEntry {
	return model.LogEntry{
		TraceID:    span.TraceID(),
		SpanID:     span.SpanID(),
		Actor:      auditActor,
		Target:     target,
		Action:     action,
		FromState:  from,
		ToState:    to,
		RecordedAt: model.NewTime(at),
	}
}
