// Package version exposes build metadata injected at link time.
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags.
var (
	Release   = "dev"
	GitCommit = "unknown"
)

// Full returns the version string in the format "release (commit: x)".
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Release, GitCommit)
}

// FullWithPlatform returns the version string with the build platform.
func FullWithPlatform() string {
	return fmt.Sprintf(
		"%s (commit: %s, %s/%s, %s)",
		Release, GitCommit, runtime.GOOS, runtime.GOARCH, runtime.Version(),
	)
}

// UserAgent is sent with every outbound API request.
func UserAgent() string {
	return "poolspy/" + Release
}
