// Package version carries build metadata, set with
// -ldflags "-X streamwatcher/internal/version.Version=...".
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata on one line for logs and health output.
func String() string {
	return Version + " (" + Commit + ", " + BuildDate + ")"
}
