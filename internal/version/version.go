package version

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Version and Commit can be set at build time:
//
//	go build -ldflags="-X github.com/gkumurzhi/ExperimentalServer/internal/version.Version=v1.0.0 \
//	                   -X github.com/gkumurzhi/ExperimentalServer/internal/version.Commit=abc123"
//
// Unset values are filled from the embedded build info: the module version
// for `go install ...@vX`, else a dev-<vcs date> stamp and the VCS revision.
var (
	Version = ""
	Commit  = ""
)

// Product is the server identity reported to clients outside decoy mode.
const Product = "ExperimentalHTTPServer"

func init() {
	if Version == "" || Commit == "" {
		fromBuildInfo()
	}
	if Version == "" {
		Version = "dev-" + time.Now().Format("20060102-150405")
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func fromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}

	if rev := settings["vcs.revision"]; Commit == "" && rev != "" {
		if len(rev) > 7 {
			rev = rev[:7]
		}
		if settings["vcs.modified"] == "true" {
			rev += "-dirty"
		}
		Commit = rev
	}
	if Version == "" {
		if t, err := time.Parse(time.RFC3339, settings["vcs.time"]); err == nil {
			Version = "dev-" + t.Format("20060102")
		}
	}
}

// Full returns the version with its commit.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// ServerString returns the "Product/Version" identity used by PING and mDNS.
func ServerString() string {
	return Product + "/" + Version
}
