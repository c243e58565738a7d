// Package version carries build metadata and the client identity reported to
// the agent during the initialize handshake.
package version

import (
	"fmt"
	"runtime"
)

// Name is the client name sent to the agent.
const Name = "codexm"

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/soyeahso/codexm/internal/version.Version=1.0.0
//	  -X github.com/soyeahso/codexm/internal/version.Commit=abc123
//	  -X github.com/soyeahso/codexm/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// ClientInfo is the identity block of the initialize request.
type ClientInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// Client returns the identity this build reports to the agent.
func Client() ClientInfo {
	return ClientInfo{Name: Name, Title: "codexm", Version: Version}
}

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, %s/%s)",
		Name, Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
