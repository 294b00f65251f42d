package config

// Linker-injected build metadata variables. These are set at compile time via
// -ldflags, for example:
//
//	go build -ldflags "-X eventdigest/internal/config.version=1.2.3 \
//	    -X eventdigest/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X eventdigest/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Default values are used during local development when ldflags are not set.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo constructs a BuildInfo from the linker-injected global variables.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// String renders the build metadata for version output.
func (b BuildInfo) String() string {
	return b.Version + " (" + b.Commit + ", built " + b.BuildTime + ")"
}
