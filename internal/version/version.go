/*
Package version reports build metadata for astraguard.

Values are injected with ldflags at release time:

	-X github.com/astraguard/astraguard-cli/internal/version.Version=v0.3.0
	-X github.com/astraguard/astraguard-cli/internal/version.Commit=1a2b3c4
	-X github.com/astraguard/astraguard-cli/internal/version.Date=2026-10-01

A plain `go build` leaves Version as "dev" and falls back to the VCS
revision recorded by the Go toolchain, when there is one.
*/
package version

import "runtime/debug"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info is the build metadata of the running binary.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Get returns the injected metadata, completed from debug.ReadBuildInfo for
// development builds.
func Get() Info {
	info := Info{Version: Version, Commit: Commit, Date: Date}
	if info.Version != "dev" {
		return info
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "none" && len(s.Value) >= 7 {
				info.Commit = s.Value[:7]
			}
		case "vcs.time":
			if info.Date == "unknown" && len(s.Value) >= 10 {
				info.Date = s.Value[:10]
			}
		}
	}
	return info
}

func (i Info) String() string {
	if i.Version == "dev" {
		if i.Commit != "none" {
			return "dev (development build, commit: " + i.Commit + ")"
		}
		return "dev (development build)"
	}
	return i.Version + " (commit: " + i.Commit + ", built: " + i.Date + ")"
}
