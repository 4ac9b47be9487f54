// Package version exposes build metadata stamped at link time.
package version

import "fmt"

// Version is the semantic version of the binary, set via
// -ldflags "-X github.com/swarmsh/swarmsh/pkg/version.Version=...".
var Version = "dev"

// Commit is the Git commit the binary was built from.
var Commit = "<unknown>"

// Date is the build timestamp.
var Date = "<unknown>"

// String renders the version triple in the form used by the CLI.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
