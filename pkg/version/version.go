// Package version holds build information set with -ldflags, for example
//
//	go build -ldflags "-X github.com/chriscow/soundmix/pkg/version.Version=v0.3.0"
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GetVersionInfo returns a one-line description of the build.
func GetVersionInfo() string {
	return fmt.Sprintf("soundmix version %s (commit: %s, built: %s, go: %s, %s/%s)",
		Version, GitCommit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
