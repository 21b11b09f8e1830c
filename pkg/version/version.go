// Package version provides version information for the watchdog binary.
// These variables are set via ldflags during the build process.
package version

import "runtime"

// Version is the current version of the binary.
// Set via -ldflags "-X github.com/cicd-ai-toolkit/watchdog/pkg/version.Version=..."
var Version = "dev"

// BuildDate is the date when the binary was built.
// Set via -ldflags "-X github.com/cicd-ai-toolkit/watchdog/pkg/version.BuildDate=..."
var BuildDate = "unknown"

// GitCommit is the git commit hash used to build the binary.
// Set via -ldflags "-X github.com/cicd-ai-toolkit/watchdog/pkg/version.GitCommit=..."
var GitCommit = "unknown"

// UserAgent identifies watchdog in outbound requests.
func UserAgent() string {
	return "watchdog/" + Version
}

// FullString returns a detailed version string including build info.
func FullString() string {
	if Version == "dev" {
		return "watchdog development version (" + runtime.Version() + ")"
	}
	return "watchdog " + Version + " (commit " + GitCommit + ", built " + BuildDate + ", " + runtime.Version() + ")"
}

// Info returns all version information as a map.
func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"buildDate": BuildDate,
		"gitCommit": GitCommit,
		"goVersion": runtime.Version(),
	}
}
