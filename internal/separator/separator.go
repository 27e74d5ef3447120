// SPDX-License-Identifier: MIT
/*
Package separator splits an audio stream into tonal and noise-like content
with a short-time Fourier transform and overlap-add resynthesis.

Every channel accumulates samples into an N-sample input ring. Each N/4
samples (75% overlap) one frame runs:
 1. the newest N samples are windowed with a periodic Hann window;
 2. a forward transform gives the bin magnitudes;
 3. each bin's noise floor is the minimum of 16 probes across its
    ±half-octave neighbourhood;
 4. bins are kept or zeroed against twice their floor according to the
    gate mode, always together with their Hermitian mirror;
 5. the inverse transform is overlap-added into the output ring.

The output trails the input by exactly N samples in every mode, which is
what LatencySamples reports.

Thread Safety:
  - Process, ProcessChannel and Reset belong to the audio thread.
  - SetMode and Mode may be called from any goroutine. A mode change is
    picked up by the next frame; intent may lag by one frame.
  - Prepare allocates and must not run concurrently with Process.
*/
package separator

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"sync/atomic"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"spectra/internal/log"
	"spectra/pkg/bitint"
	"spectra/pkg/ring"
)

// Transform order limits. Order o selects a transform size of 1<<o.
const (
	MinOrder     = 10
	MaxOrder     = 14
	DefaultOrder = 11
)

// NumChannels is the number of channels a Separator keeps state for.
const NumChannels = 2

const (
	floorProbes = 16
	// tonalRatio is the magnitude-to-floor ratio above which a bin is tonal (~6 dB).
	tonalRatio = 2.0
	// olaGain is the summed gain of a periodic Hann window at 75% overlap.
	olaGain = 2.0
)

// ErrInvalidOrder is returned when a transform order is outside [MinOrder, MaxOrder].
var ErrInvalidOrder = errors.New("separator: invalid transform order")

// GateMode selects which part of the spectrum survives the gate.
type GateMode int32

const (
	// PassThrough keeps every bin; the STFT round trip still runs.
	PassThrough GateMode = iota
	// TonalOnly keeps bins that stand out from their noise floor.
	TonalOnly
	// NoiseOnly keeps bins that do not.
	NoiseOnly
)

// Valid reports whether m is a known gate mode.
func (m GateMode) Valid() bool {
	return m >= PassThrough && m <= NoiseOnly
}

func (m GateMode) String() string {
	switch m {
	case PassThrough:
		return "pass"
	case TonalOnly:
		return "tonal"
	case NoiseOnly:
		return "noise"
	default:
		return fmt.Sprintf("GateMode(%d)", int32(m))
	}
}

// ParseGateMode converts a config name to a GateMode.
func ParseGateMode(name string) (GateMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pass", "passthrough", "pass_through", "off", "":
		return PassThrough, nil
	case "tonal", "tonal_only", "tonalonly":
		return TonalOnly, nil
	case "noise", "noise_only", "noiseonly":
		return NoiseOnly, nil
	default:
		return PassThrough, fmt.Errorf("unknown gate mode: '%s'", name)
	}
}

type channelState struct {
	input   []float64
	inWrite ring.Index
	hop     int

	ola      []float64
	olaRead  ring.Index
	olaWrite ring.Index // Always olaRead + size.
}

// Separator is a stereo STFT tonal/noise gate.
type Separator struct {
	mode atomic.Int32

	order   int
	size    int
	hop     int
	numBins int
	scale   float64

	fft    *fourier.CmplxFFT
	window []float64
	probes []int32 // floorProbes bin indices per bin.

	// Scratch shared by both channels; frames run one at a time.
	time  []complex128
	freq  []complex128
	mag   []float64
	floor []float64

	channels [NumChannels]channelState
}

// New returns a Separator prepared for the given transform order.
func New(order int) (*Separator, error) {
	s := &Separator{}
	if err := s.Prepare(order); err != nil {
		return nil, err
	}
	return s, nil
}

// Prepare allocates every table and buffer for a transform of 1<<order
// samples and clears all channel state. The gate mode is kept.
func (s *Separator) Prepare(order int) error {
	if order < MinOrder || order > MaxOrder {
		return fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidOrder, order, MinOrder, MaxOrder)
	}

	size := bitint.OrderSize(order)
	numBins := size/2 + 1

	s.order = order
	s.size = size
	s.hop = size / 4
	s.numBins = numBins
	s.scale = 1 / (float64(size) * olaGain)

	s.fft = fourier.NewCmplxFFT(size)
	s.window = periodicHann(size)
	s.probes = floorProbeTable(numBins)

	s.time = make([]complex128, size)
	s.freq = make([]complex128, size)
	s.mag = make([]float64, numBins)
	s.floor = make([]float64, numBins)

	for ch := range s.channels {
		s.channels[ch] = channelState{
			input:   make([]float64, size),
			ola:     make([]float64, 2*size),
			inWrite: ring.NewIndex(size),
			olaRead: ring.NewIndex(2 * size),
		}
	}
	s.Reset()

	log.Debugf("Separator: prepared order %d (size %d, hop %d, latency %d samples)", order, size, s.hop, size)
	return nil
}

// periodicHann returns w[i] = 0.5·(1 − cos(2πi/n)), whose copies spaced
// n/4 apart sum to exactly 2.
func periodicHann(n int) []float64 {
	w := make([]float64, n+1)
	for i := range w {
		w[i] = 1
	}
	window.Hann(w)
	return w[:n:n]
}

// floorProbeTable precomputes, for every bin k ≥ 1, floorProbes indices
// spread evenly across [max(1, k/√2), min(numBins−1, k·√2)]. Bin 0 probes
// itself.
func floorProbeTable(numBins int) []int32 {
	probes := make([]int32, numBins*floorProbes)
	last := float64(numBins - 1)
	for k := 1; k < numBins; k++ {
		lo := math.Max(1, float64(k)/math.Sqrt2)
		hi := math.Min(last, float64(k)*math.Sqrt2)
		step := (hi - lo) / (floorProbes - 1)
		for p := 0; p < floorProbes; p++ {
			idx := int(lo + step*float64(p))
			probes[k*floorProbes+p] = int32(min(max(idx, 1), numBins-1))
		}
	}
	return probes
}

// Reset clears the input and output rings of every channel. The output
// cursor is placed size samples ahead of the read cursor.
func (s *Separator) Reset() {
	for ch := range s.channels {
		st := &s.channels[ch]
		clear(st.input)
		clear(st.ola)
		st.inWrite.Reset()
		st.hop = 0
		st.olaRead.Reset()
		st.olaWrite = st.olaRead
		st.olaWrite.Advance(s.size)
	}
}

// SetMode sets the gate mode. Unknown modes select PassThrough.
func (s *Separator) SetMode(m GateMode) {
	if !m.Valid() {
		m = PassThrough
	}
	s.mode.Store(int32(m))
}

// Mode returns the current gate mode.
func (s *Separator) Mode() GateMode {
	return GateMode(s.mode.Load())
}

// LatencySamples returns the delay between input and output, which is the
// transform size.
func (s *Separator) LatencySamples() int { return s.size }

// Order returns the transform order.
func (s *Separator) Order() int { return s.order }

// Process runs left through channel 0 and right through channel 1 in
// place. A nil or empty right slice leaves channel 1 idle.
//
// Process does not allocate, lock or block.
func (s *Separator) Process(left, right []float32) {
	s.ProcessChannel(0, left)
	if len(right) > 0 {
		s.ProcessChannel(1, right)
	}
}

// ProcessChannel runs samples through the given channel in place. Calls
// for an unknown channel, or before Prepare, leave samples untouched.
func (s *Separator) ProcessChannel(ch int, samples []float32) {
	if ch < 0 || ch >= NumChannels || s.size == 0 {
		return
	}
	st := &s.channels[ch]

	for i, x := range samples {
		st.input[st.inWrite.Pos()] = float64(x)
		st.inWrite.Next()

		st.hop++
		if st.hop >= s.hop {
			st.hop = 0
			s.frame(st)
		}

		p := st.olaRead.Pos()
		samples[i] = float32(st.ola[p])
		st.ola[p] = 0
		st.olaRead.Next()
		st.olaWrite.Next()
	}
}

// frame analyses the newest size samples of st, gates them and
// overlap-adds the result so that it ends at the output write cursor.
func (s *Separator) frame(st *channelState) {
	n := s.size

	idx := st.inWrite
	for i := 0; i < n; i++ {
		s.time[i] = complex(st.input[idx.Pos()]*s.window[i], 0)
		idx.Next()
	}

	s.fft.Coefficients(s.freq, s.time)

	if mode := GateMode(s.mode.Load()); mode != PassThrough {
		for k := 0; k < s.numBins; k++ {
			s.mag[k] = cmplx.Abs(s.freq[k])
		}
		s.estimateNoiseFloor()
		s.gate(mode)
	}

	s.fft.Sequence(s.time, s.freq)

	// The frame covers the n output slots ending at the write cursor.
	start, size1, size2 := ring.Runs(st.olaWrite.Offset(1-n), n, len(st.ola))
	out := st.ola[start : start+size1]
	for j := range out {
		out[j] += real(s.time[j]) * s.scale
	}
	for j := 0; j < size2; j++ {
		st.ola[j] += real(s.time[size1+j]) * s.scale
	}
}

// estimateNoiseFloor fills s.floor with the minimum magnitude found by the
// probes of each bin.
func (s *Separator) estimateNoiseFloor() {
	s.floor[0] = s.mag[0]
	for k := 1; k < s.numBins; k++ {
		m := math.Inf(1)
		for _, p := range s.probes[k*floorProbes : (k+1)*floorProbes] {
			if v := s.mag[p]; v < m {
				m = v
			}
		}
		s.floor[k] = m
	}
}

// gate zeroes the bins the mode rejects, mirroring every zeroed bin
// 0 < k < n/2 onto n−k so the inverse transform stays real.
func (s *Separator) gate(mode GateMode) {
	n := s.size
	half := n / 2
	keepTonal := mode == TonalOnly
	for k := 0; k < s.numBins; k++ {
		tonal := s.mag[k] > tonalRatio*s.floor[k]
		if tonal == keepTonal {
			continue
		}
		s.freq[k] = 0
		if k > 0 && k < half {
			s.freq[n-k] = 0
		}
	}
}
