// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/hostbridge/agentsdk/internal/version.Version=0.3.0 \
//	                   -X github.com/hostbridge/agentsdk/internal/version.Commit=$(git rev-parse --short HEAD)" \
//	    ./cmd/agentctl
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables (set via ldflags)
var (
	// Version is the semantic version (e.g., "0.3.0")
	Version = "dev"

	// Commit is the git commit hash (short form)
	Commit = "unknown"
)

// Info is the version record printed by agentctl.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

// Get returns the current build's version record.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		GoVersion: runtime.Version(),
	}
}

// String returns a formatted version string.
func String() string {
	i := Get()
	return fmt.Sprintf("agentsdk %s (%s, %s)", i.Version, i.Commit, i.GoVersion)
}
