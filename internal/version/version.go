// Package version holds build metadata set through -ldflags.
package version

// Set at build time with -ldflags "-X github.com/sydlexius/massaction/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns a one-line build description.
func String() string {
	return Version + " (" + Commit + ", " + Date + ")"
}
