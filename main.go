// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"spectra/cmd"
	"spectra/internal/analysis"
	"spectra/internal/audio"
	"spectra/internal/config"
	"spectra/internal/log"
	"spectra/internal/monitor"
	"spectra/internal/separator"
	"spectra/internal/transport"
	"spectra/internal/transport/udp"
	"spectra/internal/tui"
	"spectra/pkg/build"
)

// main is the entry point for the spectrum engine.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load the configuration
//   - Initialize PortAudio
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Start the duplex stream (separator + transfer buffer)
//   - Start the monitor (analysis + transports)
//   - Start recording and the config watcher if enabled
//   - Run the TUI or wait for a signal
//
// 3. Shutdown Phase (Cold Path):
//   - Stop the monitor, recording and stream
//   - Close transports
func main() {
	if err := run(); err != nil {
		log.Fatalf("%v", err)
	}
}

func run() error {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		log.Debugf("Build: %v", err)
	}

	cfg, err := cmd.ParseArgs(os.Args[1:], os.Stdout)
	if err != nil {
		return err
	}
	if cfg.Command == "" {
		return nil // Help or version output.
	}
	if !log.Configure(cfg.LogLevel, cfg.Debug) {
		log.Warnf("Unknown log level %q, using INFO", cfg.LogLevel)
	}

	if err := audio.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := audio.Terminate(); err != nil {
			log.Errorf("%v", err)
		}
	}()

	if cfg.Command == cmd.CommandList {
		return listDevices(cfg.TUIMode)
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := audio.NewEngine(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Errorf("Error closing audio engine: %v", err)
		}
	}()

	transports, err := newTransports(cfg.Transport)
	if err != nil {
		return err
	}
	defer func() {
		if err := transports.Close(); err != nil {
			log.Errorf("Error closing transports: %v", err)
		}
	}()

	mon, err := newMonitor(cfg, engine, transports)
	if err != nil {
		return err
	}
	defer mon.Close()

	// CRITICAL: Start of real-time audio processing.
	if err := engine.StartStream(); err != nil {
		return err
	}
	mon.Start()

	var recordingPath string
	if cfg.Recording.Enabled {
		recordingPath = cfg.RecordingPath(time.Now())
		if err := engine.StartRecording(recordingPath); err != nil {
			return err
		}
	}

	if cfg.ConfigPath != "" {
		r := &reloader{current: cfg, engine: engine, monitor: mon}
		go func() {
			if err := config.Watch(ctx, cfg.ConfigPath, r.apply); err != nil && !errors.Is(err, context.Canceled) {
				log.Warnf("Configuration: hot reload disabled: %v", err)
			}
		}()
	}

	if cfg.TUIMode {
		// The TUI owns the terminal; keep log output out of it.
		log.SetOutput(io.Discard)
		err := tui.StartMonitorUI(engine, mon, 0)
		log.SetOutput(os.Stderr)
		if err != nil {
			return err
		}
	} else {
		log.Infof("Running: gate %s, separation %v, latency %d samples. Ctrl+C to stop.",
			engine.GateMode(), engine.Separation(), engine.LatencySamples())
		<-ctx.Done()
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================
	// The remaining teardown is deferred: monitor, transports, stream, then
	// PortAudio.

	if recordingPath != "" {
		if err := engine.StopRecording(); err != nil {
			log.Errorf("Error stopping recording: %v", err)
		}
		fmt.Printf("\nRecording saved to: %s\n", recordingPath)
	}
	return nil
}

func listDevices(interactive bool) error {
	if !interactive {
		return audio.ListDevices(os.Stdout)
	}
	sel, ok, err := tui.StartDeviceListUI()
	if err != nil || !ok {
		return err
	}
	fmt.Printf("Selected %s: --device %d --sample-rate %.0f\n", sel.Device.Name, sel.Device.ID, sel.SampleRate)
	return nil
}

// newTransports builds every enabled transport.
func newTransports(cfg config.TransportConfig) (transport.Multi, error) {
	var ts transport.Multi
	if cfg.UDPEnabled {
		p, err := udp.Dial(cfg.UDPTargetAddress)
		if err != nil {
			return nil, err
		}
		ts = append(ts, p)
	}
	if cfg.WSEnabled {
		ts = append(ts, transport.NewWebSocketTransport(cfg.WSAddress))
	}
	if cfg.LogEvery > 0 {
		ts = append(ts, transport.NewLoggingTransport(cfg.LogEvery))
	}
	return ts, nil
}

func newMonitor(cfg *config.Config, engine *audio.Engine, transports transport.Multi) (*monitor.Monitor, error) {
	settings, err := cfg.Analyzer.Settings(engine.SampleRate())
	if err != nil {
		return nil, err
	}
	analyzer, err := analysis.NewAnalyzer(cfg.Analyzer.Order, cfg.Analyzer.FloorDb, settings)
	if err != nil {
		return nil, err
	}
	return monitor.New(engine.AnalysisBuffer(), analyzer, monitor.Options{
		Interval:   cfg.Analyzer.RefreshInterval,
		Transports: transports,
		Status:     engine,
	})
}

// reloadTarget is the part of the engine a config reload can change live.
type reloadTarget interface {
	SetGateMode(separator.GateMode)
	SetSeparation(bool)
	SampleRate() float64
}

// reconfigurer queues analyzer changes; *monitor.Monitor implements it.
type reconfigurer interface {
	Reconfigure(settings analysis.Settings, order, rollingSize int) error
}

// reloader applies hot-reloaded configuration. Sections that need a new
// stream or new transports only take effect after a restart.
type reloader struct {
	current *config.Config
	engine  reloadTarget
	monitor reconfigurer
}

func (r *reloader) apply(next *config.Config) {
	if !log.Configure(next.LogLevel, next.Debug) {
		log.Warnf("Configuration: unknown log level %q", next.LogLevel)
	}

	if mode, err := next.Separator.Mode(); err == nil {
		r.engine.SetGateMode(mode)
	}
	r.engine.SetSeparation(next.Separator.Enabled)

	settings, err := next.Analyzer.Settings(r.engine.SampleRate())
	if err == nil {
		err = r.monitor.Reconfigure(settings, next.Analyzer.Order, next.Analyzer.RollingSize)
	}
	if err != nil {
		log.Warnf("Configuration: analyzer settings not applied: %v", err)
	}

	if pending := restartOnly(r.current, next); len(pending) > 0 {
		log.Infof("Configuration: %s changes apply after a restart", strings.Join(pending, ", "))
	}

	// current tracks what is live, so restart-only sections keep their
	// running values.
	live := *next
	live.Audio = r.current.Audio
	live.Transport = r.current.Transport
	live.Separator.Order = r.current.Separator.Order
	live.Analyzer.FifoCapacity = r.current.Analyzer.FifoCapacity
	r.current = &live
}

// restartOnly names the sections of next that differ from cur and cannot
// be applied to a running stream.
func restartOnly(cur, next *config.Config) []string {
	var pending []string
	if next.Audio != cur.Audio {
		pending = append(pending, "audio")
	}
	if next.Transport != cur.Transport {
		pending = append(pending, "transport")
	}
	if next.Separator.Order != cur.Separator.Order {
		pending = append(pending, "separator order")
	}
	if next.Analyzer.FifoCapacity != cur.Analyzer.FifoCapacity {
		pending = append(pending, "fifo capacity")
	}
	return pending
}
