package common

// Version information, overridable at build time via
// -ldflags "-X github.com/tessari/passport/internal/common.Version=..."
var (
	Version = "0.3.0"
	Build   = "dev"
)

// GetVersion returns the application version string
func GetVersion() string {
	return Version
}
