package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/swarmsh/swarmsh/internal/engine"
	"github.com/swarmsh/swarmsh/internal/model"
)

// progressExecutor performs the progress update against a wired engine.
type progressExecutor func(ctx context.Context, opts *rootOptions, req engine.ProgressRequest) (model.WorkItem, error)

// ProgressCommand holds the flags for the progress command.
type ProgressCommand struct {
	opts *rootOptions

	status string

	exec progressExecutor
}

// NewProgressCommand creates the progress command.
func NewProgressCommand(opts *rootOptions) *cobra.Command {
	return newProgressCommandWithDeps(opts, runProgress)
}

func newProgressCommandWithDeps(opts *rootOptions, exec progressExecutor) *cobra.Command {
	pc := &ProgressCommand{opts: opts, exec: exec}

	cmd := &cobra.Command{
		Use:   "progress <work_id> <percent>",
		Short: "Update completion percentage of an owned work item",
		Args:  exactArgs(2),
		RunE:  pc.run,
	}

	cmd.Flags().StringVar(&pc.status, "status", "", "post-update status: active or in_progress (default in_progress)")

	return cmd
}

func (pc *ProgressCommand) run(cmd *cobra.Command, args []string) error {
	percent, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("%w: percent %q is not a number", errUsage, args[1])
	}

	item, err := pc.exec(cmd.Context(), pc.opts, engine.ProgressRequest{
		AgentID: pc.opts.agent(),
		WorkID:  args[0],
		Percent: percent,
		Status:  model.WorkStatus(pc.status),
	})
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), item)
}

func runProgress(ctx context.Context, opts *rootOptions, req engine.ProgressRequest) (model.WorkItem, error) {
	var item model.WorkItem

	err := withApp(ctx, opts, func(app *App) error {
		var opErr error
		item, opErr = app.Engine.Progress(ctx, req)

		return opErr
	})

	return item, err
}
