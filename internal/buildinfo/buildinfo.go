// Package buildinfo carries version stamps injected at link time.
package buildinfo

import "time"

// Set via -ldflags "-X github.com/xelth-com/propcount/internal/buildinfo.Version=..."
var (
	Version    = "dev"
	CommitHash string
	BuildTime  string
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC().Format(time.RFC3339)

// Fields returns the stamps for health and startup logging, omitting empty ones.
func Fields() map[string]string {
	out := map[string]string{"version": Version, "started": StartTime}
	if CommitHash != "" {
		out["commit"] = CommitHash
	}
	if BuildTime != "" {
		out["built"] = BuildTime
	}
	return out
}
