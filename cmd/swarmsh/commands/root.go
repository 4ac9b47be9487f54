// Package commands implements the swarmsh CLI command handlers.
package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/swarmsh/swarmsh/internal/engine"
)

// agentEnvVar is the environment fallback for the ambient agent identity.
const agentEnvVar = "SWARMSH_AGENT_ID"

// errUsage marks command line mistakes: unknown flags, wrong argument
// counts, malformed flag values.
var errUsage = errors.New("usage error")

// Exit codes, one per error taxonomy bucket. Usage and internal errors
// follow sysexits.
const (
	exitOK           = 0
	exitValidation   = 1
	exitNotFound     = 2
	exitStateMachine = 3
	exitLockTimeout  = 4
	exitCorruption   = 5
	exitUsage        = 64
	exitInternal     = 70
)

// ExitCode maps an error returned by Execute onto the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}

	if errors.Is(err, errUsage) {
		return exitUsage
	}

	switch engine.Kind(err) {
	case engine.KindValidation, engine.KindCapacity:
		return exitValidation
	case engine.KindNotFound:
		return exitNotFound
	case engine.KindStateMachine, engine.KindOwnership:
		return exitStateMachine
	case engine.KindLockTimeout, engine.KindConflict:
		return exitLockTimeout
	case engine.KindCorruption:
		return exitCorruption
	default:
		return exitInternal
	}
}

// PrintError writes the single line every failed invocation ends with.
func PrintError(w io.Writer, err error) {
	color.New(color.FgRed).Fprintf(w, "operation failed: %v\n", err)
}

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	dir        string
	agentID    string
}

// agent resolves the ambient agent identity: the --agent flag first,
// then the SWARMSH_AGENT_ID environment variable. Empty means no
// identity; the engine rejects operations that require one.
func (o *rootOptions) agent() string {
	if o.agentID != "" {
		return o.agentID
	}

	return os.Getenv(agentEnvVar)
}

// exactArgs validates the positional argument count, tagging mismatches
// as usage errors.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}

		return nil
	}
}

// NewRootCommand assembles the swarmsh command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "swarmsh",
		Short: "SwarmSH agent work coordination",
		Long: `SwarmSH coordinates autonomous agents over a file-backed store:
registration, work claiming, progress, completion, analysis,
optimization, and health checks, every operation traced end to end.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: .swarmsh.yaml in the working directory)")
	rootCmd.PersistentFlags().StringVar(&opts.dir, "dir", "", "coordination directory (overrides COORDINATION_DIR)")
	rootCmd.PersistentFlags().StringVar(&opts.agentID, "agent", "", "acting agent ID (default: $SWARMSH_AGENT_ID)")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	rootCmd.AddCommand(
		NewRegisterCommand(opts),
		NewClaimCommand(opts),
		NewProgressCommand(opts),
		NewCompleteCommand(opts),
		NewDashboardCommand(opts),
		NewAnalyzeCommand(opts),
		NewOptimizeCommand(opts),
		NewHealthCommand(opts),
		NewGenerateIDCommand(),
		NewDaemonCommand(opts),
		NewVersionCommand(),
	)

	return rootCmd
}
