package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// defaultCommandTimeout bounds one external advisor call.
const defaultCommandTimeout = 30 * time.Second

// CommandAdvisor consults an external process. The request is written
// to the process's stdin as JSON and the recommendation is read from
// its stdout. Every failure mode wraps ErrUnavailable.
type CommandAdvisor struct {
	command string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// CommandOption adjusts CommandAdvisor construction.
type CommandOption func(*CommandAdvisor)

// WithArgs sets fixed arguments passed on every invocation.
func WithArgs(args ...string) CommandOption {
	return func(c *CommandAdvisor) { c.args = args }
}

// WithTimeout overrides the per-call deadline.
func WithTimeout(d time.Duration) CommandOption {
	return func(c *CommandAdvisor) { c.timeout = d }
}

// WithCommandLogger sets the structured logger.
func WithCommandLogger(logger *slog.Logger) CommandOption {
	return func(c *CommandAdvisor) { c.logger = logger }
}

// NewCommandAdvisor creates an advisor invoking the given command. An
// empty command yields an advisor that always reports ErrUnavailable.
func NewCommandAdvisor(command string, opts ...CommandOption) *CommandAdvisor {
	c := &CommandAdvisor{
		command: command,
		timeout: defaultCommandTimeout,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Advise implements Advisor.
func (c *CommandAdvisor) Advise(ctx context.Context, req Request) (Recommendation, error) {
	if c.command == "" {
		return Recommendation{}, fmt.Errorf("no advisor command configured: %w", ErrUnavailable)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Recommendation{}, fmt.Errorf("encode advisor request: %w: %w", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.command, c.args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Orphaned children holding the stdout pipe must not stall the call
	// past its deadline.
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			c.logger.WarnContext(ctx, "advisor command failed",
				"command", c.command,
				"stderr", stderr.String())
		}

		return Recommendation{}, fmt.Errorf("run %q: %w: %w", c.command, ErrUnavailable, err)
	}

	var rec Recommendation
	if err := json.Unmarshal(stdout.Bytes(), &rec); err != nil {
		return Recommendation{}, fmt.Errorf("decode advisor response: %w: %w", ErrUnavailable, err)
	}

	if rec.Confidence < 0 {
		rec.Confidence = 0
	}

	if rec.Confidence > 1 {
		rec.Confidence = 1
	}

	return rec, nil
}
