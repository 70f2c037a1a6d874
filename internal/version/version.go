// Package version carries build identification stamped in via -ldflags at
// release time; dev builds report the defaults.
package version

var (
	// Version is the current scand release.
	Version = "dev"
	// GitSHA is the git commit SHA of the build.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
