// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MinDeviceID selects the system default device.
const MinDeviceID = -1

// Backends understood by audio.NewBackend.
var Backends = []string{"portaudio", "oto", "headless"}

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug mode (verbose logging, strict MIDI checks).
	LogLevel  string          `yaml:"log_level"` // Logging level (e.g., "debug", "info", "warn", "error").
	Audio     AudioConfig     `yaml:"audio"`     // Audio device settings.
	Host      HostConfig      `yaml:"host"`      // Processor host and library settings.
	Recording RecordingConfig `yaml:"recording"` // Output recording settings.
	Transport TransportConfig `yaml:"transport"` // Control and meter transports.
}

// AudioConfig holds settings related to the audio device.
type AudioConfig struct {
	Backend         string  `yaml:"backend"`           // portaudio, oto or headless.
	OutputDevice    int     `yaml:"output_device"`     // PortAudio device index for output (-1 for default).
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index for input (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz (e.g., 44100, 48000).
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Block size handed to the processor.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio device.
	InputChannels   int     `yaml:"input_channels"`    // Channels captured and passed through to the processor (0 for none).
	OutputChannels  int     `yaml:"output_channels"`   // Channels rendered by the processor.
	Ceiling         float64 `yaml:"ceiling"`           // Output clip level, 0 disables the output guard.
}

// HostConfig holds settings for the processor library and its queues.
type HostConfig struct {
	Library            string        `yaml:"library"`              // Library to load at startup.
	Project            string        `yaml:"project"`              // Project directory searched for <dirname><ext>, used when library is empty.
	Watch              bool          `yaml:"watch"`                // Reload the library when it is rebuilt.
	PollInterval       time.Duration `yaml:"poll_interval"`        // Modification time poll interval.
	Debounce           time.Duration `yaml:"debounce"`             // Quiet period before a change triggers a reload.
	ParamQueueCapacity int           `yaml:"param_queue_capacity"` // Parameter FIFO capacity.
	MidiQueueCapacity  int           `yaml:"midi_queue_capacity"`  // MIDI FIFO capacity.
	MidiInboxCapacity  int           `yaml:"midi_inbox_capacity"`  // Raw MIDI packets buffered between blocks.
	StrictMidi         bool          `yaml:"strict_midi"`          // Panic on packets longer than three bytes.
	ABIConstraint      string        `yaml:"abi_constraint"`       // Semver constraint on native module ABI versions.
	TempSuffix         string        `yaml:"temp_suffix"`          // Suffix of the private library copy.
	ParametersFile     string        `yaml:"parameters_file"`      // Parameter layout YAML.
	StateFile          string        `yaml:"state_file"`           // Persisted state YAML.
	RestoreState       bool          `yaml:"restore_state"`        // Load the last project on startup when no library is given.
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`    // Record processed output to file.
	OutputDir string `yaml:"output_dir"` // Directory to save recorded audio files.
	BitDepth  int    `yaml:"bit_depth"`  // Bit depth for recorded audio (16, 24 or 32).
	Blocks    int    `yaml:"blocks"`     // Blocks buffered between the audio thread and the writer.
}

// TransportConfig holds settings related to control and meter transports.
type TransportConfig struct {
	WSEnabled        bool          `yaml:"ws_enabled"`         // Serve the websocket control endpoint.
	WSAddress        string        `yaml:"ws_address"`         // Listen address of the websocket server.
	WSStatusInterval time.Duration `yaml:"ws_status_interval"` // Interval between status broadcasts.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending meter packets over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between sending UDP packets.
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Debug:    false,
		LogLevel: "info",
		Audio: AudioConfig{
			Backend:         "portaudio",
			OutputDevice:    MinDeviceID,
			InputDevice:     MinDeviceID,
			SampleRate:      44100,
			FramesPerBuffer: 512,
			LowLatency:      false,
			InputChannels:   0,
			OutputChannels:  2,
			Ceiling:         1,
		},
		Host: HostConfig{
			Watch:              true,
			PollInterval:       500 * time.Millisecond,
			Debounce:           100 * time.Millisecond,
			ParamQueueCapacity: 100,
			MidiQueueCapacity:  100,
			MidiInboxCapacity:  256,
			ABIConstraint:      "~1",
			TempSuffix:         "_temp",
			StateFile:          defaultStateFile(),
			RestoreState:       true,
		},
		Recording: RecordingConfig{
			Enabled:   false,
			OutputDir: "./recordings",
			BitDepth:  16,
			Blocks:    64,
		},
		Transport: TransportConfig{
			WSEnabled:        false,
			WSAddress:        "127.0.0.1:8080",
			WSStatusInterval: 250 * time.Millisecond,
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  33 * time.Millisecond, // Default ~30Hz.
		},
	}
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".hotswap/state.yaml"
	}
	return dir + string(os.PathSeparator) + "hotswap" + string(os.PathSeparator) + "state.yaml"
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{"config.yaml", "hotswap.yaml"}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid default configuration: %w", err)
			}
			return &cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for values the host cannot run with.
func (c *Config) Validate() error {
	if !validBackend(c.Audio.Backend) {
		return fmt.Errorf("audio.backend %q must be one of %s", c.Audio.Backend, strings.Join(Backends, ", "))
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %v", c.Audio.SampleRate)
	}
	if c.Audio.FramesPerBuffer <= 0 {
		return fmt.Errorf("audio.frames_per_buffer must be positive, got %d", c.Audio.FramesPerBuffer)
	}
	if c.Audio.OutputChannels <= 0 {
		return fmt.Errorf("audio.output_channels must be positive, got %d", c.Audio.OutputChannels)
	}
	if c.Audio.InputChannels < 0 || c.Audio.InputChannels > c.Audio.OutputChannels {
		return fmt.Errorf("audio.input_channels must be between 0 and output_channels (%d), got %d",
			c.Audio.OutputChannels, c.Audio.InputChannels)
	}
	if c.Audio.Ceiling < 0 {
		return fmt.Errorf("audio.ceiling must not be negative, got %v", c.Audio.Ceiling)
	}

	if c.Host.ParamQueueCapacity <= 0 || c.Host.MidiQueueCapacity <= 0 || c.Host.MidiInboxCapacity <= 0 {
		return fmt.Errorf("host queue capacities must be positive")
	}
	if c.Host.Watch && c.Host.PollInterval <= 0 {
		return fmt.Errorf("host.poll_interval must be positive when watching")
	}
	if c.Host.Debounce < 0 {
		return fmt.Errorf("host.debounce must not be negative")
	}
	if c.Host.TempSuffix == "" {
		return fmt.Errorf("host.temp_suffix must not be empty, the copy would overwrite the library")
	}

	if c.Recording.Enabled {
		switch c.Recording.BitDepth {
		case 16, 24, 32:
		default:
			return fmt.Errorf("recording.bit_depth must be 16, 24 or 32, got %d", c.Recording.BitDepth)
		}
		if c.Recording.OutputDir == "" {
			return fmt.Errorf("recording.output_dir must be set when recording is enabled")
		}
		if c.Recording.Blocks <= 0 {
			return fmt.Errorf("recording.blocks must be positive")
		}
	}

	if c.Transport.WSEnabled && c.Transport.WSAddress == "" {
		return fmt.Errorf("transport.ws_address must be set when the websocket server is enabled")
	}
	if c.Transport.UDPEnabled {
		if c.Transport.UDPTargetAddress == "" {
			return fmt.Errorf("transport.udp_target_address must be set when UDP is enabled")
		}
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			return fmt.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", c.Transport.UDPTargetAddress)
		}
		if c.Transport.UDPSendInterval <= 0 {
			return fmt.Errorf("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}

	return nil
}

func validBackend(name string) bool {
	for _, b := range Backends {
		if b == name {
			return true
		}
	}
	return false
}

// applyEnvOverrides applies ENV_* variables on top of the file values.
func (cfg *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
	}

	// ENV_AUDIO_{...}

	// ENV_AUDIO_BACKEND
	if val, ok := os.LookupEnv("ENV_AUDIO_BACKEND"); ok {
		cfg.Audio.Backend = strings.ToLower(val)
	}

	// ENV_HOST_{...}

	// ENV_HOST_LIBRARY
	if val, ok := os.LookupEnv("ENV_HOST_LIBRARY"); ok {
		cfg.Host.Library = val
	}
	// ENV_HOST_WATCH
	if val, ok := os.LookupEnv("ENV_HOST_WATCH"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Host.Watch = bVal
		}
	}
	// ENV_HOST_STRICT_MIDI
	if val, ok := os.LookupEnv("ENV_HOST_STRICT_MIDI"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Host.StrictMidi = bVal
		}
	}

	// ENV_WS_{...}

	// ENV_WS_ENABLED
	if val, ok := os.LookupEnv("ENV_WS_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.WSEnabled = bVal
		}
	}
	// ENV_WS_ADDRESS
	if val, ok := os.LookupEnv("ENV_WS_ADDRESS"); ok {
		cfg.Transport.WSAddress = val
	}

	// ENV_UDP_{...}

	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
		}
	}
}
