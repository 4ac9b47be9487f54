package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swarmsh/swarmsh/pkg/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the swarmsh version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "swarmsh %s\n", version.String())

			return err
		},
	}
}
