// Package advisor ranks candidate optimizer mutations. The deterministic
// Fallback is always available; CommandAdvisor consults an external
// process and Breaker guards it with a circuit breaker. Advisor failure
// is never fatal to an optimization cycle.
package advisor

import (
	"context"
	"errors"
	"sort"

	"github.com/swarmsh/swarmsh/internal/analyzer"
)

// ErrUnavailable marks advisor failures the caller should absorb by
// falling back to its own ranking.
var ErrUnavailable = errors.New("advisor unavailable")

// Candidate is one mutation the optimizer could apply, scored by
// severity weight over cost. Higher scores run first.
type Candidate struct {
	Kind  analyzer.BottleneckKind `json:"kind" yaml:"kind"`
	Score float64                 `json:"score" yaml:"score"`
}

// Request carries the analysis report and the optimizer's candidate
// mutations to an advisor.
type Request struct {
	Report     analyzer.Report `json:"report" yaml:"report"`
	Candidates []Candidate     `json:"candidates" yaml:"candidates"`
}

// Recommendation orders and filters the candidates. Confidence is in
// [0, 1]; the fallback reports 0.
type Recommendation struct {
	Plan       []Candidate `json:"plan" yaml:"plan"`
	Confidence float64     `json:"confidence" yaml:"confidence"`
	Rationale  string      `json:"rationale,omitempty" yaml:"rationale,omitempty"`
}

// Advisor recommends which candidate mutations to apply and in what
// order.
type Advisor interface {
	Advise(ctx context.Context, req Request) (Recommendation, error)
}

// Fallback is the deterministic advisor of last resort: it echoes the
// candidates ordered by score, highest first, with zero confidence.
type Fallback struct{}

// Advise implements Advisor.
func (Fallback) Advise(_ context.Context, req Request) (Recommendation, error) {
	plan := make([]Candidate, len(req.Candidates))
	copy(plan, req.Candidates)

	sort.SliceStable(plan, func(i, j int) bool {
		return plan[i].Score > plan[j].Score
	})

	return Recommendation{
		Plan:      plan,
		Rationale: "deterministic severity ranking",
	}, nil
}
