// Package version carries maomao-mcp build metadata, set with
// -ldflags "-X github.com/kailas-cloud/maomao/internal/version.Version=...".
package version

import "fmt"

//nolint:gochecknoglobals // ldflags targets
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String is the one-line build description printed by the version command.
func String() string {
	return fmt.Sprintf("maomao-mcp %s (commit %s, built %s)", Version, Commit, Date)
}
