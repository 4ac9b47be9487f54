// Package main provides the entry point for the swarmsh coordination CLI.
package main

import (
	"os"

	"github.com/swarmsh/swarmsh/cmd/swarmsh/commands"
)

func main() {
	rootCmd := commands.NewRootCommand()

	err := rootCmd.Execute()
	if err != nil {
		commands.PrintError(os.Stderr, err)
		os.Exit(commands.ExitCode(err))
	}
}
