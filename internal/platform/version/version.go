// Package version exposes build metadata injected at link time. It is
// reported once at startup and by the readiness endpoint.
package version

import "runtime"

// Overridden via -ldflags "-X .../version.Version=v1.2.3 ..." at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build metadata snapshot handed to callers.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}
