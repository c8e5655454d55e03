// SPDX-License-Identifier: MIT
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"hotswap/cmd"
	"hotswap/internal/abi"
	"hotswap/internal/audio"
	"hotswap/internal/config"
	"hotswap/internal/host"
	"hotswap/internal/loader"
	"hotswap/internal/log"
	"hotswap/internal/params"
	"hotswap/internal/state"
	"hotswap/internal/transport"
	"hotswap/internal/transport/udp"
	"hotswap/internal/tui"
	"hotswap/pkg/build"
)

// main runs in three phases:
//
// 1. Startup (cold path): build info, arguments, configuration, the
// parameter layout, persisted state, and the first library.
//
// 2. Running (hot path): the backend drives host.Process while the
// watcher, transports and UI act on the host from their own goroutines.
//
// 3. Shutdown (cold path): stop the clock first so no block is in
// flight, then recording and transports, then save state and unload.
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		log.Debugf("Build: %v, using development build info", err)
	}

	opts, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	switch opts.Command {
	case cmd.CommandVersion:
		fmt.Printf("%s\nprocessor ABI %s\n", build.Current(), abi.VersionString(abi.Version))
		return
	case cmd.CommandFind:
		path, err := loader.FindLibrary(opts.FindDir, "")
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(path)
		return
	case cmd.CommandList:
		if err := listDevices(opts.TUIMode); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	opts.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if !log.Configure(cfg.LogLevel, cfg.Debug) {
		log.Warnf("Config: unknown log level %q, using INFO", cfg.LogLevel)
	}

	if opts.TUIMode {
		// The alternate screen owns the terminal.
		f, err := os.Create(filepath.Join(os.TempDir(), "hotswap.log"))
		if err == nil {
			log.SetOutput(f)
			defer f.Close()
		}
	}

	if err := run(cfg, opts.TUIMode); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(cfg *config.Config, tuiMode bool) error {
	var layout *params.Layout
	if cfg.Host.ParametersFile != "" {
		l, err := params.LoadLayout(cfg.Host.ParametersFile)
		if err != nil {
			return err
		}
		layout = l
		log.Infof("Params: %d parameters from %s", layout.Len(), cfg.Host.ParametersFile)
	}

	var store state.Store = &state.MemoryStore{}
	if cfg.Host.StateFile != "" {
		fs, err := state.Open(cfg.Host.StateFile)
		if err != nil {
			log.Warnf("State: %v, starting fresh", err)
		} else {
			store = fs
		}
	}

	var (
		recorder *audio.Recorder
		tap      host.Tap
	)
	if cfg.Recording.Enabled {
		recorder = audio.NewRecorder(int(cfg.Audio.SampleRate), cfg.Audio.OutputChannels,
			cfg.Audio.FramesPerBuffer, cfg.Recording.BitDepth, cfg.Recording.Blocks)
		tap = recorder
	}

	l := loader.New(
		loader.WithABIConstraint(cfg.Host.ABIConstraint),
		loader.WithTempSuffix(cfg.Host.TempSuffix),
	)
	h := host.New(l, host.Options{
		ParamCapacity: cfg.Host.ParamQueueCapacity,
		MidiCapacity:  cfg.Host.MidiQueueCapacity,
		InboxCapacity: cfg.Host.MidiInboxCapacity,
		StrictMidi:    cfg.Host.StrictMidi,
		InputChannels: cfg.Audio.InputChannels,
		Layout:        layout,
		Store:         store,
		Tap:           tap,
		Watch:         cfg.Host.Watch,
		PollInterval:  cfg.Host.PollInterval,
		Debounce:      cfg.Host.Debounce,
	})
	defer h.Close()

	// A library that fails to load leaves the host running silent; another
	// one can be loaded later through the control transport.
	switch {
	case cfg.Host.Library != "":
		if err := h.SetNewLibrary(cfg.Host.Library); err != nil {
			log.Errorf("Host: %v", err)
		}
	case cfg.Host.Project != "":
		if err := h.LoadProject(cfg.Host.Project); err != nil {
			log.Errorf("Host: %v", err)
		}
	case cfg.Host.RestoreState:
		if err := h.RestoreState(nil); err != nil {
			log.Warnf("Host: %v", err)
		}
	}

	// ==================== RUNNING PHASE (Hot Path) ====================

	backend, err := audio.NewBackend(cfg.Audio.Backend, audio.SettingsFromConfig(cfg.Audio), h)
	if err != nil {
		return err
	}
	defer backend.Close()

	// CRITICAL: from here on the backend calls h.Process on the audio thread.
	if err := backend.Start(); err != nil {
		return err
	}

	if recorder != nil {
		if err := recorder.StartRecording(audio.RecordingPath(cfg.Recording.OutputDir, time.Now())); err != nil {
			return err
		}
		defer recorder.Close()
	}

	source := transport.HostStatus(h)
	var transports []transport.Transport
	if log.Enabled(log.LevelDebug) {
		transports = append(transports, transport.NewLoggingTransport())
	}
	if cfg.Transport.WSEnabled {
		ws := transport.NewWebSocketServer(cfg.Transport.WSAddress, h)
		if err := ws.Start(); err != nil {
			return fmt.Errorf("websocket server: %w", err)
		}
		defer ws.Close()
		transports = append(transports, ws)
	}
	if len(transports) > 0 {
		status := transport.NewStatusPublisher(cfg.Transport.WSStatusInterval, source, transports...)
		status.Start()
		defer status.Close()
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return err
		}
		defer sender.Close()
		meters, err := udp.NewMeterPublisher(cfg.Transport.UDPSendInterval, sender, h)
		if err != nil {
			return err
		}
		meters.Start()
		defer meters.Close()
	}

	if tuiMode {
		if err := tui.StartStatusUI(source, h); err != nil {
			return err
		}
	} else {
		fmt.Printf("%s running on %s. Press Ctrl+C to stop.\n", build.Current().Name, backend.Name())
		done := make(chan os.Signal, 1)
		signal.Notify(done, os.Interrupt, syscall.SIGTERM)
		<-done
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	// Deferred closes run in reverse: publishers and transports, the
	// recorder, the backend, then the host. The clock is stopped here so
	// nothing renders while they unwind.
	if err := backend.Stop(); err != nil {
		log.Warnf("Audio: stop: %v", err)
	}
	if recorder != nil && recorder.IsRecording() {
		if err := recorder.StopRecording(); err != nil {
			log.Errorf("Recorder: %v", err)
		}
	}
	if err := h.SaveParameters(); err != nil {
		log.Warnf("State: %v", err)
	}
	return nil
}

func listDevices(interactive bool) error {
	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	if !interactive {
		return audio.ListDevices()
	}
	sel, err := tui.StartDeviceListUI(audio.HostDevices)
	if err != nil || sel == nil {
		return err
	}
	fmt.Printf("audio:\n  output_device: %d\n  sample_rate: %.0f\n", sel.Device.ID, sel.SampleRate)
	return nil
}
