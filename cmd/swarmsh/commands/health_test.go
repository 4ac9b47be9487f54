package commands

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmsh/swarmsh/internal/health"
	"github.com/swarmsh/swarmsh/internal/model"
)

func TestHealthCommand_PrintsReport(t *testing.T) {
	t.Parallel()

	exec := func(context.Context, *rootOptions) (health.Report, error) {
		return health.Report{
			GeneratedAt: model.Now(),
			Score:       82.5,
			Status:      health.StatusHealthy,
			Subscores:   health.Subscores{Completion: 0.8, Availability: 1.0},
			TotalAgents: 3,
		}, nil
	}

	cmd := newHealthCommandWithDeps(&rootOptions{}, exec)

	out, err := execute(t, cmd)
	require.NoError(t, err)

	var rep health.Report

	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.InDelta(t, 82.5, rep.Score, 0.001)
	assert.Equal(t, health.StatusHealthy, rep.Status)
	assert.InDelta(t, 0.8, rep.Subscores.Completion, 0.001)
}

func TestHealthCommand_PropagatesError(t *testing.T) {
	t.Parallel()

	exec := func(context.Context, *rootOptions) (health.Report, error) {
		return health.Report{}, context.Canceled
	}

	cmd := newHealthCommandWithDeps(&rootOptions{}, exec)

	_, err := execute(t, cmd)
	require.Error(t, err)
}
