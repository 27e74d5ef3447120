// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"spectra/internal/analysis"
	"spectra/internal/log"
	"spectra/internal/separator"
	"spectra/pkg/bitint"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug logging.
	LogLevel  string          `yaml:"log_level"` // "debug", "info", "warn" or "error".
	Audio     AudioConfig     `yaml:"audio"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Separator SeparatorConfig `yaml:"separator"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`

	// Set at load time or from the command line only.
	ConfigPath string `yaml:"-"` // File the values were loaded from, if any.
	Command    string `yaml:"-"` // Command selected on the command line, such as "list".
	TUIMode    bool   `yaml:"-"`
}

// AudioConfig holds settings related to the host audio stream.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index (-1 for default).
	OutputDevice    int     `yaml:"output_device"`     // PortAudio device index (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Hz
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Host block size.
	LowLatency      bool    `yaml:"low_latency"`       // Request the device's low latency settings.
	InputChannels   int     `yaml:"input_channels"`    // 1 or 2; mono is duplicated.
	OutputChannels  int     `yaml:"output_channels"`   // 0 disables output.
}

// AnalyzerConfig holds the spectrum analyzer settings.
type AnalyzerConfig struct {
	Order           int           `yaml:"order"`              // Transform size is 1<<order.
	FloorDb         float64       `yaml:"floor_db"`           // Lowest displayed level.
	ChannelMode     string        `yaml:"channel_mode"`       // mid_side, left_right or mono.
	TiltDbPerOctave float64       `yaml:"tilt_db_per_octave"` // Slope around 1 kHz.
	Decay           float64       `yaml:"decay"`              // Release coefficient in [0, 1].
	Smoothing       string        `yaml:"smoothing"`          // none, 1/3, 1/6 or 1/12.
	Window          string        `yaml:"window"`             // Analysis window name.
	RollingSize     int           `yaml:"rolling_size"`       // Samples per channel kept for analysis.
	FifoCapacity    int           `yaml:"fifo_capacity"`      // Staging ring between the audio thread and the monitor; 0 derives it.
	RefreshInterval time.Duration `yaml:"refresh_interval"`   // Monitor tick.
}

// SeparatorConfig holds the tonal/noise separator settings.
type SeparatorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Order    int    `yaml:"order"`     // Transform size is 1<<order.
	GateMode string `yaml:"gate_mode"` // pass, tonal or noise.
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled     bool   `yaml:"enabled"`              // Record the processed output.
	OutputDir   string `yaml:"output_dir"`           // Directory for generated file names.
	OutputFile  string `yaml:"output_file"`          // Explicit path; overrides OutputDir.
	Format      string `yaml:"format"`               // Only "wav".
	BitDepth    int    `yaml:"bit_depth"`            // 16, 24 or 32.
	MaxDuration int    `yaml:"max_duration_seconds"` // 0 for unlimited.
}

// TransportConfig holds settings related to sending spectrum frames over the network.
type TransportConfig struct {
	UDPEnabled       bool   `yaml:"udp_enabled"`
	UDPTargetAddress string `yaml:"udp_target_address"` // e.g. "127.0.0.1:9090".
	WSEnabled        bool   `yaml:"ws_enabled"`
	WSAddress        string `yaml:"ws_address"` // Listen address, e.g. ":8080".
	LogEvery         int    `yaml:"log_every"`  // Logging transport cadence in frames; 0 disables it.
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches the working directory for DefaultConfigFile. If no file is found, it uses
// built-in defaults. Environment overrides are applied last, then the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.ConfigPath = path
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section and returns an error wrapping
// ErrInvalidConfig for the first problem found.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, ok := log.ParseLevel(c.LogLevel); !ok {
			return invalid("log_level '%s' is not a known level", c.LogLevel)
		}
	}
	for _, check := range []func() error{
		c.Audio.validate,
		c.Analyzer.validate,
		c.Separator.validate,
		c.Recording.validate,
		c.Transport.validate,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	if fifo := c.Analyzer.FifoCapacity; fifo < 0 || (fifo > 0 && fifo <= c.Audio.FramesPerBuffer) {
		return invalid("analyzer.fifo_capacity %d must be 0 (auto) or exceed audio.frames_per_buffer %d",
			fifo, c.Audio.FramesPerBuffer)
	}
	return nil
}

// StagingCapacity returns analyzer.fifo_capacity, or when it is 0 the
// smallest power of two holding FifoBlocks host blocks.
func (c *Config) StagingCapacity() int {
	if c.Analyzer.FifoCapacity != 0 {
		return c.Analyzer.FifoCapacity
	}
	return bitint.NextPowerOfTwo(c.Audio.FramesPerBuffer * FifoBlocks)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func (a AudioConfig) validate() error {
	switch {
	case a.InputDevice < MinDeviceID:
		return invalid("audio.input_device %d (use %d for the default device)", a.InputDevice, MinDeviceID)
	case a.OutputDevice < MinDeviceID:
		return invalid("audio.output_device %d (use %d for the default device)", a.OutputDevice, MinDeviceID)
	case a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate:
		return invalid("audio.sample_rate %.0f outside [%d, %d]", a.SampleRate, MinSampleRate, MaxSampleRate)
	case a.FramesPerBuffer <= 0 || a.FramesPerBuffer > MaxBufferFrames:
		return invalid("audio.frames_per_buffer %d outside [1, %d]", a.FramesPerBuffer, MaxBufferFrames)
	case a.InputChannels < 1 || a.InputChannels > MaxChannels:
		return invalid("audio.input_channels %d outside [1, %d]", a.InputChannels, MaxChannels)
	case a.OutputChannels < 0 || a.OutputChannels > MaxChannels:
		return invalid("audio.output_channels %d outside [0, %d]", a.OutputChannels, MaxChannels)
	}
	return nil
}

func (a AnalyzerConfig) validate() error {
	if err := analysis.ValidateOrder(a.Order); err != nil {
		return invalid("analyzer.order: %v", err)
	}
	if !(a.FloorDb < 0) || math.IsInf(a.FloorDb, -1) {
		return invalid("analyzer.floor_db %v must be negative and finite", a.FloorDb)
	}
	if _, err := a.Settings(DefaultSampleRate); err != nil {
		return invalid("analyzer: %v", err)
	}
	if a.RollingSize < 1<<a.Order {
		return invalid("analyzer.rolling_size %d is shorter than the %d-sample transform", a.RollingSize, 1<<a.Order)
	}
	if a.RefreshInterval <= 0 {
		return invalid("analyzer.refresh_interval must be positive")
	}
	return nil
}

// Settings converts the analyzer section into analysis.Settings for the
// given sample rate.
func (a AnalyzerConfig) Settings(sampleRate float64) (analysis.Settings, error) {
	s := analysis.Settings{
		SampleRate:      sampleRate,
		TiltDbPerOctave: a.TiltDbPerOctave,
		Decay:           a.Decay,
	}
	var err error
	if s.ChannelMode, err = analysis.ParseChannelMode(a.ChannelMode); err != nil {
		return s, err
	}
	if s.Smoothing, err = analysis.ParseSmoothing(a.Smoothing); err != nil {
		return s, err
	}
	if s.Window, err = analysis.ParseWindowFunc(a.Window); err != nil {
		return s, err
	}
	return s, s.Validate()
}

func (s SeparatorConfig) validate() error {
	if s.Order < separator.MinOrder || s.Order > separator.MaxOrder {
		return invalid("separator.order %d outside [%d, %d]", s.Order, separator.MinOrder, separator.MaxOrder)
	}
	if _, err := s.Mode(); err != nil {
		return invalid("separator.gate_mode: %v", err)
	}
	return nil
}

// Mode parses the configured gate mode.
func (s SeparatorConfig) Mode() (separator.GateMode, error) {
	return separator.ParseGateMode(s.GateMode)
}

func (r RecordingConfig) validate() error {
	switch {
	case !strings.EqualFold(r.Format, DefaultFormat):
		return invalid("recording.format '%s' (only %s is supported)", r.Format, DefaultFormat)
	case r.BitDepth != 16 && r.BitDepth != 24 && r.BitDepth != 32:
		return invalid("recording.bit_depth %d (want 16, 24 or 32)", r.BitDepth)
	case r.MaxDuration < 0:
		return invalid("recording.max_duration_seconds %d is negative", r.MaxDuration)
	}
	return nil
}

func (t TransportConfig) validate() error {
	if t.UDPEnabled {
		if _, _, err := net.SplitHostPort(t.UDPTargetAddress); err != nil {
			return invalid("transport.udp_target_address '%s': %v", t.UDPTargetAddress, err)
		}
	}
	if t.WSEnabled {
		if _, _, err := net.SplitHostPort(t.WSAddress); err != nil {
			return invalid("transport.ws_address '%s': %v", t.WSAddress, err)
		}
	}
	if t.LogEvery < 0 {
		return invalid("transport.log_every %d is negative", t.LogEvery)
	}
	return nil
}

// RecordingPath returns the explicit output file, or a timestamped name in
// OutputDir.
func (c *Config) RecordingPath(now time.Time) string {
	if c.Recording.OutputFile != "" {
		return c.Recording.OutputFile
	}
	name := "recording-" + now.UTC().Format("02-01-2006-150405") + "." + strings.ToLower(c.Recording.Format)
	return filepath.Join(c.Recording.OutputDir, name)
}

// applyEnvOverrides applies the ENV_* variables on top of the file values.
// Unparseable values are ignored with a warning.
func (c *Config) applyEnvOverrides() {
	envBool("ENV_DEBUG", &c.Debug)
	envString("ENV_LOG_LEVEL", &c.LogLevel)
	envString("ENV_GATE_MODE", &c.Separator.GateMode)
	envBool("ENV_UDP_ENABLED", &c.Transport.UDPEnabled)
	envString("ENV_UDP_TARGET_ADDRESS", &c.Transport.UDPTargetAddress)
	envBool("ENV_WS_ENABLED", &c.Transport.WSEnabled)
	envString("ENV_WS_ADDRESS", &c.Transport.WSAddress)
}

func envBool(name string, dst *bool) {
	val, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		log.Warnf("configuration: ignoring %s=%q: %v", name, val, err)
		return
	}
	*dst = b
	log.Debugf("configuration: %s overrides value with %v", name, b)
}

func envString(name string, dst *string) {
	if val, ok := os.LookupEnv(name); ok {
		*dst = val
		log.Debugf("configuration: %s overrides value with %q", name, val)
	}
}
