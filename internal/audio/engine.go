// SPDX-License-Identifier: MIT
/*
Package audio hosts the real-time side of the engine on a PortAudio duplex
stream:
  - the spectral separator runs in place on every block when engaged;
  - processed samples are pushed into the analysis transfer buffer;
  - while recording, they are also pushed into a second transfer buffer that
    a writer goroutine drains into a WAV file;
  - the processed block is written to the output device.

Thread Safety:
  - The stream callback never allocates, locks, logs or blocks.
  - Gate mode, separation and recording state are atomics and may be changed
    from any goroutine.
  - Scratch buffers are pre-allocated for FramesPerBuffer frames; larger host
    blocks are processed in chunks.
*/
package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"spectra/internal/config"
	"spectra/internal/log"
	"spectra/internal/separator"
	"spectra/internal/transfer"
)

type Engine struct {
	// Core configuration and state.
	config     *config.Config
	sampleRate float64

	// Host stream.
	inputDevice   *portaudio.DeviceInfo
	outputDevice  *portaudio.DeviceInfo
	inputLatency  time.Duration
	outputLatency time.Duration
	inChannels    int
	outChannels   int
	stream        *portaudio.Stream

	// Spectral separation.
	separator      *separator.Separator
	separate       atomic.Bool
	resetSeparator atomic.Bool

	// Analysis hand-off and recording.
	analysis  *transfer.Buffer
	record    *transfer.Buffer
	recording atomic.Bool
	recMu     sync.Mutex
	recorder  *recorder

	// Planar scratch for one chunk.
	left, right []float32

	dropped       atomic.Uint64 // Samples the analysis buffer could not take.
	recordDropped atomic.Uint64
}

// NewEngine resolves the configured devices and builds an Engine. The
// stream is not opened until StartStream.
func NewEngine(cfg *config.Config) (*Engine, error) {
	inputDevice, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, err
	}
	var outputDevice *portaudio.DeviceInfo
	if cfg.Audio.OutputChannels > 0 {
		if outputDevice, err = OutputDevice(cfg.Audio.OutputDevice); err != nil {
			return nil, err
		}
	}

	e, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	e.inputDevice, e.outputDevice = inputDevice, outputDevice

	if cfg.Audio.LowLatency {
		e.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		e.inputLatency = inputDevice.DefaultHighInputLatency
	}
	if outputDevice != nil {
		if cfg.Audio.LowLatency {
			e.outputLatency = outputDevice.DefaultLowOutputLatency
		} else {
			e.outputLatency = outputDevice.DefaultHighOutputLatency
		}
	}
	return e, nil
}

// newEngine builds the processing state without touching the host.
func newEngine(cfg *config.Config) (*Engine, error) {
	sep, err := separator.New(cfg.Separator.Order)
	if err != nil {
		return nil, err
	}
	mode, err := cfg.Separator.Mode()
	if err != nil {
		return nil, err
	}
	sep.SetMode(mode)

	analysisBuf, err := transfer.NewBuffer(cfg.StagingCapacity(), cfg.Analyzer.RollingSize)
	if err != nil {
		return nil, fmt.Errorf("analysis buffer: %w", err)
	}
	// One second of headroom for the WAV writer; it keeps no rolling window.
	recordBuf, err := transfer.NewBuffer(max(cfg.StagingCapacity(), int(cfg.Audio.SampleRate)), 1)
	if err != nil {
		return nil, fmt.Errorf("recording buffer: %w", err)
	}

	e := &Engine{
		config:      cfg,
		sampleRate:  cfg.Audio.SampleRate,
		inChannels:  cfg.Audio.InputChannels,
		outChannels: cfg.Audio.OutputChannels,
		separator:   sep,
		analysis:    analysisBuf,
		record:      recordBuf,
		left:        make([]float32, cfg.Audio.FramesPerBuffer),
		right:       make([]float32, cfg.Audio.FramesPerBuffer),
	}
	e.separate.Store(cfg.Separator.Enabled)
	return e, nil
}

// StartStream opens and starts the duplex host stream.
func (e *Engine) StartStream() error {
	if e.stream != nil {
		return fmt.Errorf("stream already running")
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.inChannels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: e.outChannels,
			Device:   e.outputDevice,
			Latency:  e.outputLatency,
		},
		FramesPerBuffer: e.config.Audio.FramesPerBuffer,
		SampleRate:      e.sampleRate,
	}

	var callback any = e.processStream
	if e.outChannels == 0 {
		callback = e.processInputStream
	}
	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start stream: %w", err)
	}
	e.stream = stream

	info := stream.Info()
	log.Infof("Engine: stream started (%.0f Hz, %d in / %d out, input latency %s, output latency %s)",
		info.SampleRate, e.inChannels, e.outChannels, info.InputLatency, info.OutputLatency)
	return nil
}

// StopStream stops and closes the host stream.
func (e *Engine) StopStream() error {
	if e.stream == nil {
		return nil
	}
	if err := e.stream.Stop(); err != nil {
		return err
	}
	if err := e.stream.Close(); err != nil {
		return err
	}
	e.stream = nil
	log.Infof("Engine: stream stopped (%d analysis samples dropped)", e.dropped.Load())
	return nil
}

// processStream is the duplex stream callback.
func (e *Engine) processStream(in, out []float32) {
	e.process(in, out)
}

// processInputStream is the stream callback when output is disabled.
func (e *Engine) processInputStream(in []float32) {
	e.process(in, nil)
}

// process runs one host block. in and out are interleaved; out may be nil.
// Performance Critical (Hot Path): no allocations, locks or logging.
func (e *Engine) process(in, out []float32) {
	inCh, outCh := e.inChannels, e.outChannels
	frames := len(in) / inCh
	if outCh > 0 {
		frames = min(frames, len(out)/outCh)
	}

	if e.resetSeparator.Swap(false) {
		e.separator.Reset()
	}
	separate := e.separate.Load()
	recording := e.recording.Load()

	chunk := len(e.left)
	for off := 0; off < frames; off += chunk {
		n := min(chunk, frames-off)
		l, r := e.left[:n], e.right[:n]
		deinterleave(in[off*inCh:(off+n)*inCh], inCh, l, r)

		if separate {
			e.separator.Process(l, r)
		}
		if pushed := e.analysis.Push(l, r); pushed < n {
			e.dropped.Add(uint64(n - pushed))
		}
		if recording {
			if pushed := e.record.Push(l, r); pushed < n {
				e.recordDropped.Add(uint64(n - pushed))
			}
		}
		if outCh > 0 {
			interleave(out[off*outCh:(off+n)*outCh], outCh, l, r)
		}
	}
	if outCh > 0 {
		clear(out[frames*outCh:])
	}
}

// deinterleave splits in into left and right. Mono input is duplicated.
func deinterleave(in []float32, channels int, left, right []float32) {
	if channels == 1 {
		copy(left, in)
		copy(right, in)
		return
	}
	for i := range left {
		left[i] = in[i*channels]
		right[i] = in[i*channels+1]
	}
}

// interleave writes left and right into out. Mono output is their average.
func interleave(out []float32, channels int, left, right []float32) {
	if channels == 1 {
		for i := range left {
			out[i] = 0.5 * (left[i] + right[i])
		}
		return
	}
	for i := range left {
		frame := out[i*channels : (i+1)*channels]
		frame[0], frame[1] = left[i], right[i]
		clear(frame[2:])
	}
}

// AnalysisBuffer returns the transfer buffer the monitor consumes.
func (e *Engine) AnalysisBuffer() *transfer.Buffer {
	return e.analysis
}

// SampleRate returns the stream sample rate in Hz.
func (e *Engine) SampleRate() float64 {
	return e.sampleRate
}

// Dropped returns the number of samples the analysis buffer could not take.
func (e *Engine) Dropped() uint64 {
	return e.dropped.Load()
}

// Close stops recording and the host stream.
func (e *Engine) Close() error {
	recErr := e.StopRecording()
	if err := e.StopStream(); err != nil {
		return err
	}
	return recErr
}
