// Package version provides build-time version information for cachepool.
//
// Version is set at build time using ldflags:
//
//	go build -ldflags "-X github.com/go-i2p/cachepool/version.Version=1.0.0"
//
// For development builds, the default "dev" version is used.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time via ldflags.
var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `toml:"version"`
	GitCommit string `toml:"git_commit,omitempty"`
	BuildTime string `toml:"build_time,omitempty"`
	GoVersion string `toml:"go_version"`
}

// Get returns the build information of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// Full returns the version with the commit and build time appended when set.
func (i Info) Full() string {
	v := i.Version
	if i.GitCommit != "" {
		v += "-" + i.GitCommit
	}
	if i.BuildTime != "" {
		v += " (" + i.BuildTime + ")"
	}
	return v
}

// String formats the info for a -version flag.
func (i Info) String() string {
	return fmt.Sprintf("%s %s/%s", i.Full(), i.GoVersion, runtime.GOARCH)
}

// Full returns the full version string of the running binary.
func Full() string {
	return Get().Full()
}
