package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker circuit defaults.
const (
	defaultBreakerFailures = 3
	defaultBreakerCooldown = time.Minute
)

// Breaker guards an advisor with a circuit breaker. Consecutive
// failures open the circuit; while open, calls fail fast with
// ErrUnavailable until the cool-down expires.
type Breaker struct {
	inner    Advisor
	cb       *gobreaker.CircuitBreaker
	logger   *slog.Logger
	failures uint32
	cooldown time.Duration
}

// BreakerOption adjusts Breaker construction.
type BreakerOption func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the
// circuit.
func WithFailureThreshold(n uint32) BreakerOption {
	return func(b *Breaker) { b.failures = n }
}

// WithCooldown sets how long the circuit stays open before probing the
// advisor again.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.cooldown = d }
}

// WithBreakerLogger sets the structured logger.
func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(b *Breaker) { b.logger = logger }
}

// NewBreaker wraps inner with a circuit breaker.
func NewBreaker(inner Advisor, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		inner:    inner,
		logger:   slog.Default(),
		failures: defaultBreakerFailures,
		cooldown: defaultBreakerCooldown,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "advisor",
		Timeout: b.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("advisor circuit state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})

	return b
}

// Advise implements Advisor.
func (b *Breaker) Advise(ctx context.Context, req Request) (Recommendation, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Advise(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Recommendation{}, fmt.Errorf("advisor circuit open: %w", ErrUnavailable)
		}

		return Recommendation{}, err
	}

	rec, ok := out.(Recommendation)
	if !ok {
		return Recommendation{}, fmt.Errorf("advisor circuit returned %T: %w", out, ErrUnavailable)
	}

	return rec, nil
}
