package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "0.1.0-dev"
	// Commit is the short git SHA embedded at build time. When left empty the
	// VCS stamp of the Go toolchain is used.
	Commit = ""
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = ""

	stampOnce sync.Once
)

// shortCommitLength is how many characters of the revision are printed.
const shortCommitLength = 12

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns the version line printed by `relpack version`.
func Full() string {
	stampOnce.Do(stampFromBuildInfo)

	return fmt.Sprintf("relpack %s (commit %s, built %s, %s)",
		Version, orUnknown(Commit), orUnknown(BuildTime), runtime.Version())
}

// stampFromBuildInfo fills Commit and BuildTime from the VCS settings the
// toolchain records, unless ldflags already set them.
func stampFromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if Commit == "" {
				Commit = setting.Value
				if len(Commit) > shortCommitLength {
					Commit = Commit[:shortCommitLength]
				}
			}
		case "vcs.time":
			if BuildTime == "" {
				BuildTime = setting.Value
			}
		}
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}

	return s
}
