package api

// Build metadata, overridden with -ldflags "-X".
var (
	ServerVersion = "dev"
	GitCommit     = "unknown"
	BuildTime     = "unknown"
)

// GetVersionInfo reports the build metadata served by GET /version.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		ServerVersion: ServerVersion,
		GitCommit:     GitCommit,
		BuildTime:     BuildTime,
	}
}
