package commands

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmsh/swarmsh/internal/analyzer"
	"github.com/swarmsh/swarmsh/internal/model"
	"github.com/swarmsh/swarmsh/internal/optimizer"
)

func TestOptimizeCommand_PrintsResult(t *testing.T) {
	t.Parallel()

	exec := func(_ context.Context, _ *rootOptions, dryRun bool) (optimizer.Result, error) {
		assert.False(t, dryRun)

		return optimizer.Result{
			RanAt:      model.Now(),
			Advisor:    "fallback",
			Confidence: 0.5,
			Applied: []optimizer.Change{
				{Kind: analyzer.AgentOverutilization, Op: "rebalance_agents", Before: 6, After: 4},
			},
		}, nil
	}

	cmd := newOptimizeCommandWithDeps(&rootOptions{}, exec)

	out, err := execute(t, cmd)
	require.NoError(t, err)

	var res optimizer.Result

	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "fallback", res.Advisor)
	require.Len(t, res.Applied, 1)
	assert.Equal(t, "rebalance_agents", res.Applied[0].Op)
}

func TestOptimizeCommand_DryRun(t *testing.T) {
	t.Parallel()

	var sawDryRun bool

	exec := func(_ context.Context, _ *rootOptions, dryRun bool) (optimizer.Result, error) {
		sawDryRun = dryRun

		return optimizer.Result{DryRun: dryRun}, nil
	}

	cmd := newOptimizeCommandWithDeps(&rootOptions{}, exec)

	out, err := execute(t, cmd, "--dry-run")
	require.NoError(t, err)
	assert.True(t, sawDryRun)
	assert.Contains(t, out, `"dry_run": true`)
}

func TestOptimizeCommand_PropagatesError(t *testing.T) {
	t.Parallel()

	exec := func(context.Context, *rootOptions, bool) (optimizer.Result, error) {
		return optimizer.Result{}, context.DeadlineExceeded
	}

	cmd := newOptimizeCommandWithDeps(&rootOptions{}, exec)

	_, err := execute(t, cmd)
	require.Error(t, err)
	assert.Equal(t, 70, ExitCode(err))
}
