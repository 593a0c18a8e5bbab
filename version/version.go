// Package version holds build metadata injected at link time via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// GitRelease is the release tag, set by the build.
	GitRelease = "dev"
	// GitCommit is the short commit hash, set by the build.
	GitCommit = "unknown"
	// GitCommitDate is the commit date, set by the build.
	GitCommitDate = "unknown"
	// GoInfo describes the toolchain and platform.
	GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
)
