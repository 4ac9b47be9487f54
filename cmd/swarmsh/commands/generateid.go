package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swarmsh/swarmsh/pkg/ids"
)

// GenerateIDCommand holds the flags for the generate-id command.
type GenerateIDCommand struct {
	prefix string
	trace  bool
	span   bool
}

// NewGenerateIDCommand creates the generate-id command. It needs no
// wired App: minting touches the clock and the entropy source only.
func NewGenerateIDCommand() *cobra.Command {
	gc := &GenerateIDCommand{}

	cmd := &cobra.Command{
		Use:   "generate-id",
		Short: "Mint an entity, trace, or span ID",
		Args:  exactArgs(0),
		RunE:  gc.run,
	}

	cmd.Flags().StringVar(&gc.prefix, "prefix", ids.WorkPrefix, "entity ID prefix")
	cmd.Flags().BoolVar(&gc.trace, "trace", false, "mint a 32-hex trace ID instead of an entity ID")
	cmd.Flags().BoolVar(&gc.span, "span", false, "mint a 16-hex span ID instead of an entity ID")

	return cmd
}

func (gc *GenerateIDCommand) run(cmd *cobra.Command, _ []string) error {
	if gc.trace && gc.span {
		return fmt.Errorf("%w: --trace and --span are mutually exclusive", errUsage)
	}

	minter := ids.New()

	var (
		id  string
		err error
	)

	switch {
	case gc.trace:
		id, err = minter.TraceID()
	case gc.span:
		id, err = minter.SpanID()
	default:
		id, err = minter.EntityID(gc.prefix)
	}

	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), id)

	return err
}
