package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Name is the program name printed with the version.
const Name = "dist-zipper"

const unset = "unknown"

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA embedded at build time.
	Commit = unset
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = unset
)

// shortCommitLength is how much of a VCS revision is shown.
const shortCommitLength = 12

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit, build time and platform.
func Full() string {
	commit, buildTime := Commit, BuildTime
	if commit == unset || buildTime == unset {
		vcsCommit, vcsTime := fromBuildInfo(debug.ReadBuildInfo)
		if commit == unset {
			commit = vcsCommit
		}

		if buildTime == unset {
			buildTime = vcsTime
		}
	}

	return fmt.Sprintf("%s %s (commit: %s, built at: %s, %s %s/%s)",
		Name, Version, commit, buildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func fromBuildInfo(read func() (*debug.BuildInfo, bool)) (string, string) {
	commit, buildTime := unset, unset

	info, ok := read()
	if !ok {
		return commit, buildTime
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
			if len(commit) > shortCommitLength {
				commit = commit[:shortCommitLength]
			}
		case "vcs.time":
			buildTime = setting.Value
		}
	}

	return commit, buildTime
}
