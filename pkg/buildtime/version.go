// Package buildtime tells the version of the binary.
//
// Release builds set them by -ldflags:
//
//	go build -ldflags "-X github.com/opst/taskmon/pkg/buildtime.version=v1.2.3 -X github.com/opst/taskmon/pkg/buildtime.revision=abcdef0"
//
// Otherwise, they are read from the build info embedded by the go command.
package buildtime

import (
	"runtime/debug"
	"sync"
)

var (
	version  = ""
	revision = ""
)

var load = sync.OnceFunc(func() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if version == "" && info.Main.Version != "" {
		version = info.Main.Version
	}
	if revision == "" {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				revision = s.Value
			}
		}
	}
})

// VERSION is the version of this binary, or "(devel)" when unknown.
func VERSION() string {
	load()
	if version == "" {
		return "(devel)"
	}
	return version
}

// GIT_REVISION is the commit built, or "unknown".
func GIT_REVISION() string {
	load()
	if revision == "" {
		return "unknown"
	}
	return revision
}

func VersionString() string {
	return VERSION() + " (commit: " + GIT_REVISION() + ")"
}
