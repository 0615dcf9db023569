// Package version carries build metadata injected with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release version of the ring filter.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for startup logs.
func String() string {
	return fmt.Sprintf("ringfilter %s (%s, built %s)", Version, GitSHA, BuildTime)
}
