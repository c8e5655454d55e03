// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"hotswap/internal/config"
	"hotswap/pkg/build"
)

// Commands.
const (
	CommandRun     = "run"
	CommandList    = "list"
	CommandFind    = "find"
	CommandVersion = "version"
)

// Options are the parsed command line. Flags the user did not set leave
// the configuration file values alone.
type Options struct {
	Command    string
	ConfigPath string
	FindDir    string

	Library    string
	Project    string
	Backend    string
	SampleRate float64
	Frames     int
	Device     int
	Verbose    bool
	StrictMidi bool
	NoWatch    bool
	Record     bool
	OutputDir  string
	Parameters string
	WebSocket  string
	TUIMode    bool
	FreshState bool

	changed map[string]bool
}

// Apply overlays the flags the user set onto cfg.
func (o *Options) Apply(cfg *config.Config) {
	set := func(name string) bool { return o.changed[name] }

	if set("library") {
		cfg.Host.Library = o.Library
	}
	if set("project") {
		cfg.Host.Project = o.Project
	}
	if set("backend") {
		cfg.Audio.Backend = o.Backend
	}
	if set("sample-rate") {
		cfg.Audio.SampleRate = o.SampleRate
	}
	if set("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = o.Frames
	}
	if set("device") {
		cfg.Audio.OutputDevice = o.Device
	}
	if set("verbose") && o.Verbose {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	if set("strict-midi") {
		cfg.Host.StrictMidi = o.StrictMidi
	}
	if set("no-watch") && o.NoWatch {
		cfg.Host.Watch = false
	}
	if set("record") {
		cfg.Recording.Enabled = o.Record
	}
	if set("output") {
		cfg.Recording.OutputDir = o.OutputDir
	}
	if set("parameters") {
		cfg.Host.ParametersFile = o.Parameters
	}
	if set("ws") {
		cfg.Transport.WSEnabled = o.WebSocket != ""
		cfg.Transport.WSAddress = o.WebSocket
	}
	if set("fresh") && o.FreshState {
		cfg.Host.RestoreState = false
	}
}

// overridable are the flags Apply knows about.
var overridable = []string{
	"library", "project", "backend", "sample-rate", "frames-per-buffer", "device",
	"verbose", "strict-midi", "no-watch", "record", "output", "parameters", "ws", "fresh",
}

// ParseArgs parses args, usually os.Args[1:].
func ParseArgs(args []string) (*Options, error) {
	buildInfo := build.Current()
	options := &Options{Command: CommandRun, changed: map[string]bool{}}

	markChanged := func(cmd *cobra.Command) {
		for _, name := range overridable {
			if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
				options.changed[name] = true
			}
		}
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         build.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandRun
			markChanged(cmd)
			return nil
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Host a processor library (default)",
		Args:  cobra.NoArgs,
		RunE:  rootCmd.RunE,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandList
			markChanged(cmd)
			return nil
		},
	}

	findCmd := &cobra.Command{
		Use:   "find <project-dir>",
		Short: "Print the library a project directory builds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandFind
			options.FindDir = args[0]
			markChanged(cmd)
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print build and ABI versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandVersion
			return nil
		},
	}
	rootCmd.AddCommand(runCmd, listCmd, findCmd, versionCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&options.ConfigPath, "config", "C", "",
		"Configuration file (default config.yaml or hotswap.yaml in the working directory)")
	pf.BoolVarP(&options.Verbose, "verbose", "v", false,
		"Show verbose output")
	pf.BoolVarP(&options.TUIMode, "tui", "t", false,
		"Interactive terminal UI")

	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		f := c.Flags()
		f.StringVarP(&options.Library, "library", "L", "",
			"Processor library to load")
		f.StringVarP(&options.Project, "project", "p", "",
			"Project directory; loads the <dirname> library found inside it")
		f.StringVarP(&options.Backend, "backend", "B", "",
			fmt.Sprintf("Audio backend %v", config.Backends))
		f.Float64VarP(&options.SampleRate, "sample-rate", "s", 0,
			"Sample rate, measured in Hertz (Hz)")
		f.IntVarP(&options.Frames, "frames-per-buffer", "b", 0,
			"The number of frames per buffer (affects latency)")
		f.IntVarP(&options.Device, "device", "d", config.MinDeviceID,
			"Output device ID. Use 'list' to see available devices.")
		f.BoolVar(&options.StrictMidi, "strict-midi", false,
			"Panic on MIDI packets longer than three bytes")
		f.BoolVar(&options.NoWatch, "no-watch", false,
			"Do not reload the library when it is rebuilt")
		f.BoolVarP(&options.Record, "record", "r", false,
			"Record processed output to WAV")
		f.StringVarP(&options.OutputDir, "output", "o", "",
			"Recording directory")
		f.StringVarP(&options.Parameters, "parameters", "P", "",
			"Parameter layout YAML")
		f.StringVar(&options.WebSocket, "ws", "",
			"Serve the websocket control endpoint on this address")
		f.BoolVar(&options.FreshState, "fresh", false,
			"Ignore the saved project")
	}

	if args == nil {
		args = []string{} // cobra falls back to os.Args on nil
	}
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return options, nil
}
