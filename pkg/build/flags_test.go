// SPDX-License-Identifier: MIT
package build

import (
	"errors"
	"strings"
	"testing"
)

// setFlags stands in for -ldflags and restores the prior state afterwards.
func setFlags(t *testing.T, name, time, commit, version string) {
	t.Helper()
	saved := [4]string{buildName, buildTime, buildCommit, buildVersion}
	savedInfo := current
	t.Cleanup(func() {
		buildName, buildTime, buildCommit, buildVersion = saved[0], saved[1], saved[2], saved[3]
		current = savedInfo
	})
	buildName, buildTime, buildCommit, buildVersion = name, time, commit, version
}

func TestInitializeDevelopmentDefaults(t *testing.T) {
	setFlags(t, "", "", "", "")

	err := Initialize()
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Initialize() error = %v, want ErrIncomplete", err)
	}
	for _, name := range []string{"buildName", "buildTime", "buildCommit", "buildVersion"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}

	info := Current()
	if !info.Dev || info.Name != "hotswap" || info.Version != "dev" {
		t.Errorf("Current() = %+v, want development defaults", info)
	}
	if got := info.String(); got != "hotswap dev (development build)" {
		t.Errorf("String() = %q", got)
	}
}

func TestInitializePartialFlagsKeepDefaults(t *testing.T) {
	setFlags(t, "hotswap", "2026-01-02", "", "1.2.0")

	err := Initialize()
	if !errors.Is(err, ErrIncomplete) || !strings.Contains(err.Error(), "buildCommit") {
		t.Fatalf("Initialize() error = %v, want missing buildCommit", err)
	}
	if strings.Contains(err.Error(), "buildName") {
		t.Errorf("error %q names a flag that was set", err)
	}
	if info := Current(); !info.Dev || info.Version != "dev" {
		t.Errorf("partial flags leaked into Current(): %+v", info)
	}
}

func TestInitializeLinkedFlags(t *testing.T) {
	setFlags(t, "hotswap", "2026-01-02T03:04:05Z", "abc1234", "1.2.0")

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	want := Info{Name: "hotswap", Time: "2026-01-02T03:04:05Z", Commit: "abc1234", Version: "1.2.0"}
	if got := Current(); got != want {
		t.Errorf("Current() = %+v, want %+v", got, want)
	}
	if got := Current().String(); got != "hotswap 1.2.0 (commit abc1234, built 2026-01-02T03:04:05Z)" {
		t.Errorf("String() = %q", got)
	}

	// Losing a flag afterwards falls back rather than mixing old and new.
	buildCommit = ""
	if err := Initialize(); err == nil {
		t.Fatal("Initialize() with a cleared flag succeeded")
	}
	if !Current().Dev {
		t.Error("Current() kept linked values after a failed Initialize")
	}
}
