// SPDX-License-Identifier: MIT
package config

import (
	"time"

	"spectra/internal/analysis"
	"spectra/internal/separator"
)

// Core configuration constants that define the boundaries and defaults
// for the engine.
const (
	DefaultConfigFile = "config.yaml"

	// Audio device defaults.
	DefaultDeviceID        = MinDeviceID // System default device.
	DefaultInputChannels   = 2
	DefaultOutputChannels  = 2
	DefaultFramesPerBuffer = 512
	DefaultLowLatency      = false
	DefaultSampleRate      = 48000

	// Analyzer defaults.
	DefaultAnalyzerOrder   = analysis.DefaultOrder
	DefaultFloorDb         = analysis.DefaultFloorDb
	DefaultRollingSize     = 1 << analysis.MaxOrder
	DefaultFifoCapacity    = 0 // Derived from frames_per_buffer.
	FifoBlocks             = 64
	DefaultRefreshInterval = 16 * time.Millisecond

	// Separator defaults.
	DefaultSeparatorOrder = separator.DefaultOrder
	DefaultGateMode       = "pass"

	// Recording defaults.
	DefaultFormat      = "wav"
	DefaultOutputDir   = "./recordings"
	DefaultBitDepth    = 16
	DefaultOutputFile  = "" // Auto-generated filename.
	DefaultRecordInput = false

	// Transport defaults.
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultWSAddress        = ":8080"

	// Hardware and processing limits.
	MinDeviceID     = -1     // -1 represents the system default device.
	MinSampleRate   = 8000   // Hz
	MaxSampleRate   = 192000 // Hz
	MaxBufferFrames = 8192
	MaxChannels     = 2

	// Recording stops after this many consecutive failed writes.
	DefaultMaxConsecutiveWriteFailures = 5
)

// NewConfig returns a Config populated with the built-in defaults.
func NewConfig() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			OutputDevice:    DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      DefaultLowLatency,
			InputChannels:   DefaultInputChannels,
			OutputChannels:  DefaultOutputChannels,
		},
		Analyzer: AnalyzerConfig{
			Order:           DefaultAnalyzerOrder,
			FloorDb:         DefaultFloorDb,
			ChannelMode:     analysis.MidSide.String(),
			Decay:           analysis.DefaultDecay,
			Smoothing:       analysis.SmoothingNone.String(),
			Window:          analysis.Hann.String(),
			RollingSize:     DefaultRollingSize,
			FifoCapacity:    DefaultFifoCapacity,
			RefreshInterval: DefaultRefreshInterval,
		},
		Separator: SeparatorConfig{
			Enabled:  false,
			Order:    DefaultSeparatorOrder,
			GateMode: DefaultGateMode,
		},
		Recording: RecordingConfig{
			Enabled:   DefaultRecordInput,
			OutputDir: DefaultOutputDir,
			Format:    DefaultFormat,
			BitDepth:  DefaultBitDepth,
		},
		Transport: TransportConfig{
			UDPTargetAddress: DefaultUDPTargetAddress,
			WSAddress:        DefaultWSAddress,
		},
	}
}
