package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/swarmsh/swarmsh/internal/engine"
	"github.com/swarmsh/swarmsh/internal/model"
)

// completeExecutor performs the completion against a wired engine.
type completeExecutor func(ctx context.Context, opts *rootOptions, req engine.CompleteRequest) (model.WorkItem, error)

// CompleteCommand holds the flags for the complete command.
type CompleteCommand struct {
	opts *rootOptions

	result   string
	velocity int
	failed   bool

	exec completeExecutor
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(opts *rootOptions) *cobra.Command {
	return newCompleteCommandWithDeps(opts, runComplete)
}

func newCompleteCommandWithDeps(opts *rootOptions, exec completeExecutor) *cobra.Command {
	cc := &CompleteCommand{opts: opts, exec: exec}

	cmd := &cobra.Command{
		Use:   "complete <work_id>",
		Short: "Move an owned work item to its terminal state",
		Args:  exactArgs(1),
		RunE:  cc.run,
	}

	cmd.Flags().StringVar(&cc.result, "result", "", "outcome summary recorded on the item")
	cmd.Flags().IntVar(&cc.velocity, "velocity", 0, "velocity points earned")
	cmd.Flags().BoolVar(&cc.failed, "failed", false, "mark the item failed instead of completed")

	return cmd
}

func (cc *CompleteCommand) run(cmd *cobra.Command, args []string) error {
	item, err := cc.exec(cmd.Context(), cc.opts, engine.CompleteRequest{
		AgentID:        cc.opts.agent(),
		WorkID:         args[0],
		Result:         cc.result,
		VelocityPoints: cc.velocity,
		Failed:         cc.failed,
	})
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), item)
}

func runComplete(ctx context.Context, opts *rootOptions, req engine.CompleteRequest) (model.WorkItem, error) {
	var item model.WorkItem

	err := withApp(ctx, opts, func(app *App) error {
		var opErr error
		item, opErr = app.Engine.Complete(ctx, req)

		return opErr
	})

	return item, err
}
