// Package version exposes build version information, set via -ldflags.
package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X .../internal/version.Version=0.2.0 -X .../internal/version.Commit=abc123"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns the bare version string.
func Short() string {
	return Version
}

// Info returns a human-readable version line.
func Info() string {
	return fmt.Sprintf("netopshub %s (commit %s, built %s)", Version, Commit, Date)
}

// Map returns version fields for JSON responses.
func Map() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
	}
}
