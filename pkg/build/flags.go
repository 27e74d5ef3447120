// SPDX-License-Identifier: MIT
//
// Package build exposes the metadata embedded into the binary at link time:
//
//	go build -ldflags "-X spectra/pkg/build.buildVersion=0.3.0 -X spectra/pkg/build.buildCommit=$(git rev-parse --short HEAD)"
//
// Values missing from the ldflags are taken from the module build info when
// the toolchain recorded it.
package build

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

const unknown = "unknown"

// Info describes the running binary.
type Info struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// Package-level variables for build information, populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildInfo    = defaultInfo()

	readBuildInfo = debug.ReadBuildInfo
)

func defaultInfo() *Info {
	return &Info{
		Name:        "spectra",
		Description: "Real-time spectrum analyzer and tonal/noise separator",
		Time:        unknown,
		Commit:      unknown,
		Version:     unknown,
	}
}

// Initialize fills the build information from the ldflags, falling back to
// the module build info. It returns an error naming every value that is
// still unknown; the remaining fields are usable either way.
func Initialize() error {
	info := defaultInfo()
	if buildName != "" {
		info.Name = buildName
	}
	info.Time = buildTime
	info.Commit = buildCommit
	info.Version = buildVersion

	if bi, ok := readBuildInfo(); ok && bi != nil {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.Commit == "":
				info.Commit = s.Value
			case s.Key == "vcs.time" && info.Time == "":
				info.Time = s.Value
			}
		}
	}

	var missing []string
	for _, f := range []struct {
		name string
		val  *string
	}{
		{"BuildTime", &info.Time},
		{"BuildCommit", &info.Commit},
		{"BuildVersion", &info.Version},
	} {
		if *f.val == "" {
			*f.val = unknown
			missing = append(missing, f.name)
		}
	}

	buildInfo = info
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingBuildInfo, strings.Join(missing, ", "))
	}
	return nil
}

// ErrMissingBuildInfo is returned by Initialize when some build values are
// unknown.
var ErrMissingBuildInfo = errors.New("build information missing")

// GetBuildFlags returns the current build information.
func GetBuildFlags() *Info {
	return buildInfo
}

// String formats the information for --version output.
func (i *Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", i.Version, i.Commit, i.Time)
}
