// Package version resolves the lionlock release version stamped into
// telemetry rows and deployment snapshots.
package version

import (
	"runtime/debug"
	"strings"
)

const fallback = "0.0.0-dev"

// Resolve returns the lionlock version for the given telemetry version
// mode. "manual" trusts the configured value; anything else asks the Go
// build info and falls back to the dev placeholder.
func Resolve(mode, configured string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "manual":
		if v := strings.TrimSpace(configured); v != "" {
			return v
		}
		return fallback
	default:
		return fromBuildInfo()
	}
}

func fromBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return fallback
	}
	return info.Main.Version
}
