package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/swarmsh/swarmsh/internal/optimizer"
)

// optimizeExecutor runs one optimization cycle against a wired optimizer.
type optimizeExecutor func(ctx context.Context, opts *rootOptions, dryRun bool) (optimizer.Result, error)

// OptimizeCommand holds the flags for the optimize command.
type OptimizeCommand struct {
	opts   *rootOptions
	dryRun bool

	exec optimizeExecutor
}

// NewOptimizeCommand creates the optimize command.
func NewOptimizeCommand(opts *rootOptions) *cobra.Command {
	return newOptimizeCommandWithDeps(opts, runOptimize)
}

func newOptimizeCommandWithDeps(opts *rootOptions, exec optimizeExecutor) *cobra.Command {
	oc := &OptimizeCommand{opts: opts, exec: exec}

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Rebalance load and reclaim store space",
		Args:  exactArgs(0),
		RunE:  oc.run,
	}

	cmd.Flags().BoolVar(&oc.dryRun, "dry-run", false, "plan mutations without applying them")

	return cmd
}

func (oc *OptimizeCommand) run(cmd *cobra.Command, _ []string) error {
	res, err := oc.exec(cmd.Context(), oc.opts, oc.dryRun)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), res)
}

func runOptimize(ctx context.Context, opts *rootOptions, dryRun bool) (optimizer.Result, error) {
	var res optimizer.Result

	err := withApp(ctx, opts, func(app *App) error {
		// Observe keeps the invocation to the optimizer's own spans;
		// the analyze command owns the spanful report.
		rep, opErr := app.analyzer().Observe(ctx)
		if opErr != nil {
			return opErr
		}

		opt := app.optimizer()

		if dryRun {
			res, opErr = opt.Plan(ctx, rep)
		} else {
			res, opErr = opt.Run(ctx, rep)
		}

		return opErr
	})

	return res, err
}
