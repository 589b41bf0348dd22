package buildinfo

import (
	"fmt"
	"runtime/debug"

	"github.com/refereehq/referee/core/infra/logging"
)

// Set at link time with -ldflags "-X .../buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a single-line build summary. A missing commit falls back to the
// VCS revision stamped by the Go toolchain.
func Info() string {
	commit := Commit
	if commit == "unknown" {
		if rev := vcsRevision(); rev != "" {
			commit = rev
		}
	}
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, commit, Date)
}

// Log writes the build summary with the service name.
func Log(service string) {
	logging.Info(service, "starting", "build", Info())
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return ""
}
