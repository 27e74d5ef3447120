// SPDX-License-Identifier: MIT
package cmd

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"spectra/internal/config"
	"spectra/pkg/build"
)

// Commands selected on the command line. An empty Command means cobra
// already handled the invocation (help or version output).
const (
	CommandRun  = "run"
	CommandList = "list"
)

// flagValues holds the raw flag values before they are merged into the
// loaded configuration.
type flagValues struct {
	configPath      string
	device          int
	outputDevice    int
	channels        int
	sampleRate      float64
	framesPerBuffer int
	lowLatency      bool
	record          bool
	output          string
	gate            string
	separate        bool
	order           int
	verbose         bool
	tui             bool
}

// ParseArgs parses args (without the program name), loads the configuration
// file and applies the flags the user set explicitly on top of it.
func ParseArgs(args []string, stdout io.Writer) (*config.Config, error) {
	buildInfo := build.GetBuildFlags()
	var (
		flags   flagValues
		command string
	)

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			command = CommandRun
			return nil
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			command = CommandList
		},
	}
	rootCmd.AddCommand(listCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "",
		"Path to the YAML configuration file (default: ./"+config.DefaultConfigFile+" if present)")

	// Audio Device Configuration
	pf.IntVarP(&flags.device, "device", "d", config.DefaultDeviceID,
		"Input device ID. Use the 'list' command to see available devices.")
	pf.IntVar(&flags.outputDevice, "output-device", config.DefaultDeviceID,
		"Output device ID")
	pf.IntVarP(&flags.channels, "channels", "c", config.DefaultInputChannels,
		"Number of input channels (1=mono, 2=stereo)")
	pf.Float64VarP(&flags.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&flags.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	pf.BoolVarP(&flags.lowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Use the devices' low latency settings")

	// Processing Configuration
	pf.StringVarP(&flags.gate, "gate", "g", config.DefaultGateMode,
		"Separator gate mode: pass, tonal or noise")
	pf.BoolVar(&flags.separate, "separate", false,
		"Engage the tonal/noise separator")
	pf.IntVar(&flags.order, "order", config.DefaultAnalyzerOrder,
		"Analyzer transform order (size is 2^order)")

	// Recording Configuration
	pf.BoolVarP(&flags.record, "record", "r", config.DefaultRecordInput,
		"Record the processed stream to a WAV file")
	pf.StringVarP(&flags.output, "output", "o", config.DefaultOutputFile,
		"Output file name. Default is recording-DD-MM-YYYY-HHMMSS.wav in the output directory")

	// Interface
	pf.BoolVarP(&flags.verbose, "verbose", "v", false,
		"Show verbose output")
	pf.BoolVarP(&flags.tui, "tui", "t", false,
		"Show the live terminal monitor")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if command == "" {
		return &config.Config{}, nil
	}

	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}
	flags.apply(pf, cfg)
	cfg.Command = command
	cfg.TUIMode = flags.tui

	// Flags are validated with the same rules as the file.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// apply copies every flag the user set onto cfg.
func (f *flagValues) apply(fs *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("device", func() { cfg.Audio.InputDevice = f.device })
	set("output-device", func() { cfg.Audio.OutputDevice = f.outputDevice })
	set("channels", func() { cfg.Audio.InputChannels = f.channels })
	set("sample-rate", func() { cfg.Audio.SampleRate = f.sampleRate })
	set("frames-per-buffer", func() { cfg.Audio.FramesPerBuffer = f.framesPerBuffer })
	set("low-latency", func() { cfg.Audio.LowLatency = f.lowLatency })
	set("gate", func() { cfg.Separator.GateMode = f.gate })
	set("separate", func() { cfg.Separator.Enabled = f.separate })
	set("order", func() { cfg.Analyzer.Order = f.order })
	set("record", func() { cfg.Recording.Enabled = f.record })
	set("output", func() { cfg.Recording.OutputFile = f.output })
	set("verbose", func() { cfg.Debug = cfg.Debug || f.verbose })
}
