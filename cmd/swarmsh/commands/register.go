package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/swarmsh/swarmsh/internal/engine"
	"github.com/swarmsh/swarmsh/internal/model"
)

// registerExecutor performs the registration against a wired engine.
type registerExecutor func(ctx context.Context, opts *rootOptions, req engine.RegisterRequest) (model.Agent, error)

// RegisterCommand holds the flags for the register command.
type RegisterCommand struct {
	opts *rootOptions

	team           string
	capacity       int
	specialization string
	status         string

	exec registerExecutor
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(opts *rootOptions) *cobra.Command {
	return newRegisterCommandWithDeps(opts, runRegister)
}

func newRegisterCommandWithDeps(opts *rootOptions, exec registerExecutor) *cobra.Command {
	rc := &RegisterCommand{opts: opts, exec: exec}

	cmd := &cobra.Command{
		Use:   "register <agent_id>",
		Short: "Register an agent in the coordination roster",
		Args:  exactArgs(1),
		RunE:  rc.run,
	}

	cmd.Flags().StringVar(&rc.team, "team", "", "team the agent joins")
	cmd.Flags().IntVar(&rc.capacity, "capacity", 0, "max open work items (0 = default)")
	cmd.Flags().StringVar(&rc.specialization, "specialization", "", "agent specialization label")
	cmd.Flags().StringVar(&rc.status, "status", "", "initial status: active, inactive, or draining (default active)")

	return cmd
}

func (rc *RegisterCommand) run(cmd *cobra.Command, args []string) error {
	agent, err := rc.exec(cmd.Context(), rc.opts, engine.RegisterRequest{
		AgentID:        args[0],
		Team:           rc.team,
		Capacity:       rc.capacity,
		Specialization: rc.specialization,
		Status:         model.AgentStatus(rc.status),
	})
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), agent)
}

func runRegister(ctx context.Context, opts *rootOptions, req engine.RegisterRequest) (model.Agent, error) {
	var agent model.Agent

	err := withApp(ctx, opts, func(app *App) error {
		var opErr error
		agent, opErr = app.Engine.Register(ctx, req)

		return opErr
	})

	return agent, err
}
