// SPDX-License-Identifier: MIT
package cmd

import (
	"testing"

	"hotswap/internal/config"
)

func TestParseArgsCommands(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		command string
		wantErr bool
	}{
		{"Default is run", nil, CommandRun, false},
		{"Explicit run", []string{"run", "-L", "gain.so"}, CommandRun, false},
		{"List", []string{"list"}, CommandList, false},
		{"Find", []string{"find", "./gain"}, CommandFind, false},
		{"Find needs a dir", []string{"find"}, "", true},
		{"Version", []string{"version"}, CommandVersion, false},
		{"Unknown flag", []string{"--bogus"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := ParseArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseArgs(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if err == nil && opts.Command != tt.command {
				t.Errorf("Command = %q, want %q", opts.Command, tt.command)
			}
		})
	}
}

func TestApplyOnlyChangedFlags(t *testing.T) {
	opts, err := ParseArgs([]string{"run", "--library", "/build/gain.so", "--backend", "headless",
		"-b", "128", "--no-watch", "--record", "-v", "--ws", "127.0.0.1:9000"})
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Audio.SampleRate = 48000
	opts.Apply(&cfg)

	if cfg.Host.Library != "/build/gain.so" || cfg.Audio.Backend != "headless" || cfg.Audio.FramesPerBuffer != 128 {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.Host.Watch || !cfg.Recording.Enabled || cfg.LogLevel != "debug" || !cfg.Debug {
		t.Errorf("boolean flags not applied: watch=%v record=%v level=%s", cfg.Host.Watch, cfg.Recording.Enabled, cfg.LogLevel)
	}
	if !cfg.Transport.WSEnabled || cfg.Transport.WSAddress != "127.0.0.1:9000" {
		t.Errorf("ws = %v %s", cfg.Transport.WSEnabled, cfg.Transport.WSAddress)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("unset flag overrode sample rate: %v", cfg.Audio.SampleRate)
	}
	if cfg.Audio.OutputDevice != config.MinDeviceID || !cfg.Host.RestoreState {
		t.Error("unset flags changed the configuration")
	}
}

func TestPersistentFlags(t *testing.T) {
	opts, err := ParseArgs([]string{"list", "--tui", "-C", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}
	if !opts.TUIMode || opts.ConfigPath != "custom.yaml" {
		t.Errorf("persistent flags = tui %v config %q", opts.TUIMode, opts.ConfigPath)
	}
	if opts.FindDir != "" {
		t.Error("FindDir set for list")
	}
}
