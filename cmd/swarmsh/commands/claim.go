package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/swarmsh/swarmsh/internal/engine"
	"github.com/swarmsh/swarmsh/internal/model"
)

// claimExecutor performs the claim against a wired engine.
type claimExecutor func(ctx context.Context, opts *rootOptions, req engine.ClaimRequest) (model.WorkItem, error)

// ClaimCommand holds the flags for the claim command.
type ClaimCommand struct {
	opts *rootOptions

	priority string
	team     string

	exec claimExecutor
}

// NewClaimCommand creates the claim command.
func NewClaimCommand(opts *rootOptions) *cobra.Command {
	return newClaimCommandWithDeps(opts, runClaim)
}

func newClaimCommandWithDeps(opts *rootOptions, exec claimExecutor) *cobra.Command {
	cc := &ClaimCommand{opts: opts, exec: exec}

	cmd := &cobra.Command{
		Use:   "claim <work_type> <description>",
		Short: "Claim a new work item for the acting agent",
		Args:  exactArgs(2),
		RunE:  cc.run,
	}

	cmd.Flags().StringVar(&cc.priority, "priority", "", "work priority: low, medium, high, or critical (default medium)")
	cmd.Flags().StringVar(&cc.team, "team", "", "team the work belongs to")

	return cmd
}

func (cc *ClaimCommand) run(cmd *cobra.Command, args []string) error {
	item, err := cc.exec(cmd.Context(), cc.opts, engine.ClaimRequest{
		AgentID:     cc.opts.agent(),
		WorkType:    args[0],
		Description: args[1],
		Priority:    model.Priority(cc.priority),
		Team:        cc.team,
	})
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), item)
}

func runClaim(ctx context.Context, opts *rootOptions, req engine.ClaimRequest) (model.WorkItem, error) {
	var item model.WorkItem

	err := withApp(ctx, opts, func(app *App) error {
		var opErr error
		item, opErr = app.Engine.Claim(ctx, req)

		return opErr
	})

	return item, err
}
