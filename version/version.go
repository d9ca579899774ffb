// Package version holds build-time information about fsd.
package version

// Default build-time variables, overridden on build with
// -ldflags "-X github.com/moby/fsd/version.Version=...".
var (
	GitCommit = "library-import"
	Version   = "library-import"
	BuildTime = "library-import"
)

// ServerName is the value of the Server header sent with every response.
func ServerName() string {
	return "fsd/" + Version
}
