// SPDX-License-Identifier: MIT
//
// Package build holds the application metadata embedded at link time:
//
//	go build -ldflags "-X hotswap/pkg/build.buildName=hotswap \
//	    -X hotswap/pkg/build.buildVersion=0.3.0 ..."
//
// Development builds without ldflags keep the defaults below.
package build

import (
	"errors"
	"fmt"
	"strings"
)

const Description = "Hot-reloading host for native audio processor modules"

// ErrIncomplete is returned by Initialize when some ldflags are missing.
var ErrIncomplete = errors.New("incomplete build flags")

// Info describes the running binary.
type Info struct {
	Name    string
	Time    string
	Commit  string
	Version string
	// Dev is set while the development defaults are in use.
	Dev bool
}

// Set at link time.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
)

var devInfo = Info{
	Name:    "hotswap",
	Time:    "unknown",
	Commit:  "unknown",
	Version: "dev",
	Dev:     true,
}

var current = devInfo

// Initialize adopts the ldflags values. They are taken all or nothing: if
// any is missing the development defaults stay in place and the error
// names every missing flag.
func Initialize() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"buildName", buildName},
		{"buildTime", buildTime},
		{"buildCommit", buildCommit},
		{"buildVersion", buildVersion},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		current = devInfo
		return fmt.Errorf("%w: %s not set", ErrIncomplete, strings.Join(missing, ", "))
	}

	current = Info{
		Name:    buildName,
		Time:    buildTime,
		Commit:  buildCommit,
		Version: buildVersion,
	}
	return nil
}

// Current returns the build information.
func Current() Info {
	return current
}

// String formats the build information for version output.
func (i Info) String() string {
	if i.Dev {
		return fmt.Sprintf("%s %s (development build)", i.Name, i.Version)
	}
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}
