package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/swarmsh/swarmsh/internal/health"
)

// healthExecutor runs one health check against a wired monitor.
type healthExecutor func(ctx context.Context, opts *rootOptions) (health.Report, error)

// HealthCommand holds the dependencies for the health command.
type HealthCommand struct {
	opts *rootOptions

	exec healthExecutor
}

// NewHealthCommand creates the health command.
func NewHealthCommand(opts *rootOptions) *cobra.Command {
	return newHealthCommandWithDeps(opts, runHealth)
}

func newHealthCommandWithDeps(opts *rootOptions, exec healthExecutor) *cobra.Command {
	hc := &HealthCommand{opts: opts, exec: exec}

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Score coordination health and persist the report",
		Args:  exactArgs(0),
		RunE:  hc.run,
	}

	return cmd
}

func (hc *HealthCommand) run(cmd *cobra.Command, _ []string) error {
	rep, err := hc.exec(cmd.Context(), hc.opts)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), rep)
}

func runHealth(ctx context.Context, opts *rootOptions) (health.Report, error) {
	var rep health.Report

	err := withApp(ctx, opts, func(app *App) error {
		mon := health.New(app.Store, app.analyzer(), app.Tracer,
			health.WithTargetCapacity(app.Config.Engine.MaxWorkActive),
			health.WithMaxSpans(app.Config.Telemetry.MaxSpans),
			health.WithLogger(app.Logger),
		)

		var opErr error
		rep, opErr = mon.Check(ctx)

		return opErr
	})

	return rep, err
}
