package version

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Set at build time via -ldflags "-X github.com/ehsaniara/flowq/pkg/version.Version=..."
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	Component = "flowq"
)

// BuildInfo is what `flowq version --json` prints
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	Component string `json:"component"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   GetVersion(),
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		Component: Component,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// GetVersion returns Version, or dev-<commit> for untagged builds.
func GetVersion() string {
	if Version != "dev" && Version != "" {
		return Version
	}
	return fmt.Sprintf("dev-%s", shortCommit())
}

func shortCommit() string {
	if len(GitCommit) > 7 && GitCommit != "unknown" {
		return GitCommit[:7]
	}
	return GitCommit
}

// GetLongVersion returns the multi-line text printed by `flowq version`.
func GetLongVersion() string {
	info := GetBuildInfo()

	var b strings.Builder
	fmt.Fprintf(&b, "%s version %s\n", info.Component, info.Version)
	if info.BuildDate != "unknown" {
		fmt.Fprintf(&b, "Built: %s\n", info.BuildDate)
	}
	if info.GitCommit != "unknown" {
		fmt.Fprintf(&b, "Commit: %s\n", info.GitCommit)
	}
	fmt.Fprintf(&b, "Go: %s\n", info.GoVersion)
	fmt.Fprintf(&b, "Platform: %s\n", info.Platform)
	return b.String()
}
