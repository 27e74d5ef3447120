// SPDX-License-Identifier: MIT
/*
Package analysis turns the rolling window of a transfer buffer into a pair of
per-bin decibel spectra for display.

Each call to Analyzer.Process:
 1. unwraps the newest N samples of the rolling window, decodes each
    left/right pair into the two analysis channels and applies the window;
 2. runs a forward transform per channel and takes bin magnitudes;
 3. applies the spectral tilt relative to 1 kHz;
 4. converts to dB against the floor and applies fast-attack/slow-release
    smoothing whose state persists across calls;
 5. optionally averages across a fractional-octave window per bin.

An Analyzer owns all of its scratch memory. It is not safe for concurrent
use; Configure and the setters must not run concurrently with Process.
*/
package analysis

import (
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"

	"spectra/internal/log"
	"spectra/pkg/bitint"
	"spectra/pkg/ring"
)

// maxDb caps instantaneous levels so non-finite input cannot pin the
// smoothing state at +Inf.
const maxDb = 200.0

type binRange struct {
	lo, hi int
}

// Analyzer computes smoothed dB spectra from a stereo rolling window.
type Analyzer struct {
	settings Settings
	order    int
	size     int
	numBins  int
	floorDb  float64

	plan   *algofft.Plan[complex128]
	window []float64

	timeA, timeB []complex128
	freq         []complex128
	re, im, mag  []float64

	slope  []float64
	ranges []binRange
	prefix []float64

	// Smoothed dB state per analysis channel.
	smoothA, smoothB []float64
}

var _ SpectrumProvider = (*Analyzer)(nil)

// NewAnalyzer creates an analyzer for the given transform order, dB floor
// and settings.
func NewAnalyzer(order int, floorDb float64, settings Settings) (*Analyzer, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	a := &Analyzer{settings: settings}
	if err := a.Configure(order, floorDb); err != nil {
		return nil, err
	}
	return a, nil
}

// Configure rebuilds every per-order table and resets the smoothing state to
// the floor. It allocates and must not be called from the audio thread.
func (a *Analyzer) Configure(order int, floorDb float64) error {
	if err := ValidateOrder(order); err != nil {
		return err
	}
	if !(floorDb < 0) || math.IsInf(floorDb, -1) {
		return fmt.Errorf("%w: floor %v dB must be finite and negative", ErrInvalidSettings, floorDb)
	}

	size := bitint.OrderSize(order)
	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return fmt.Errorf("analysis: create transform plan for size %d: %w", size, err)
	}
	numBins := size/2 + 1

	a.order = order
	a.size = size
	a.numBins = numBins
	a.floorDb = floorDb
	a.plan = plan

	a.window = make([]float64, size)
	fillWindow(a.window, a.settings.Window)

	a.timeA = make([]complex128, size)
	a.timeB = make([]complex128, size)
	a.freq = make([]complex128, size)
	a.re = make([]float64, numBins)
	a.im = make([]float64, numBins)
	a.mag = make([]float64, numBins)
	a.slope = make([]float64, numBins)
	a.ranges = make([]binRange, numBins)
	a.prefix = make([]float64, numBins+1)
	a.smoothA = make([]float64, numBins)
	a.smoothB = make([]float64, numBins)

	a.rebuildSlope()
	a.rebuildRanges()
	a.ResetSmoothing()

	log.Debugf("Analysis: configured order %d (size %d, %d bins, floor %.1f dB, window %s)",
		order, size, numBins, floorDb, a.settings.Window)
	return nil
}

// ApplySettings validates and installs new settings, rebuilding whatever
// derived tables depend on them. The smoothing state is kept.
func (a *Analyzer) ApplySettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	prev := a.settings
	a.settings = s
	if s.Window != prev.Window && a.window != nil {
		fillWindow(a.window, s.Window)
	}
	if s.SampleRate != prev.SampleRate || s.TiltDbPerOctave != prev.TiltDbPerOctave {
		a.rebuildSlope()
	}
	if s.SampleRate != prev.SampleRate || s.Smoothing != prev.Smoothing {
		a.rebuildRanges()
	}
	return nil
}

// Settings returns the active settings.
func (a *Analyzer) Settings() Settings { return a.settings }

// SetSampleRate changes the sample rate used for bin frequencies.
func (a *Analyzer) SetSampleRate(sampleRate float64) error {
	s := a.settings
	s.SampleRate = sampleRate
	return a.ApplySettings(s)
}

// SetChannelMode changes the channel decode rule.
func (a *Analyzer) SetChannelMode(mode ChannelMode) error {
	s := a.settings
	s.ChannelMode = mode
	return a.ApplySettings(s)
}

// SetTilt sets the spectral tilt in dB per octave, clamped to ±MaxTiltDb.
// NaN is rejected and leaves the tilt unchanged.
func (a *Analyzer) SetTilt(dbPerOctave float64) error {
	if math.IsNaN(dbPerOctave) {
		return fmt.Errorf("%w: tilt is NaN", ErrInvalidSettings)
	}
	s := a.settings
	s.TiltDbPerOctave = clamp(dbPerOctave, -MaxTiltDb, MaxTiltDb)
	return a.ApplySettings(s)
}

// SetDecay sets the release coefficient, clamped to [0, 1]. NaN is
// rejected and leaves the decay unchanged.
func (a *Analyzer) SetDecay(decay float64) error {
	if math.IsNaN(decay) {
		return fmt.Errorf("%w: decay is NaN", ErrInvalidSettings)
	}
	s := a.settings
	s.Decay = clamp(decay, 0, 1)
	return a.ApplySettings(s)
}

// SetSmoothing changes the fractional-octave smoothing.
func (a *Analyzer) SetSmoothing(smoothing Smoothing) error {
	s := a.settings
	s.Smoothing = smoothing
	return a.ApplySettings(s)
}

// SetWindow changes the analysis window.
func (a *Analyzer) SetWindow(w WindowFunc) error {
	s := a.settings
	s.Window = w
	return a.ApplySettings(s)
}

// ResetSmoothing forgets the smoothing history.
func (a *Analyzer) ResetSmoothing() {
	for k := range a.smoothA {
		a.smoothA[k] = a.floorDb
		a.smoothB[k] = a.floorDb
	}
}

func (a *Analyzer) Order() int { return a.order }
func (a *Analyzer) Size() int { return a.size }
func (a *Analyzer) NumBins() int { return a.numBins }
func (a *Analyzer) FloorDb() float64 { return a.floorDb }
func (a *Analyzer) SampleRate() float64 { return a.settings.SampleRate }
func (a *Analyzer) BinWidth() float64 { return a.settings.SampleRate / float64(a.size) }
func (a *Analyzer) Window() WindowFunc { return a.settings.Window }
func (a *Analyzer) Smoothing() Smoothing { return a.settings.Smoothing }

// BinFrequency returns the centre frequency (Hz) of bin k, or 0 when k is
// out of range.
func (a *Analyzer) BinFrequency(k int) float64 {
	if k < 0 || k >= a.numBins {
		return 0
	}
	return float64(k) * a.BinWidth()
}

// rebuildSlope computes gain(k) = 10^(tilt·log2(f/1kHz)/20); bin 0 stays at unity.
func (a *Analyzer) rebuildSlope() {
	if len(a.slope) == 0 {
		return
	}
	tilt := a.settings.TiltDbPerOctave
	bw := a.BinWidth()
	a.slope[0] = 1
	for k := 1; k < len(a.slope); k++ {
		octaves := math.Log2(float64(k) * bw / PivotHz)
		a.slope[k] = math.Pow(10, tilt*octaves/20)
	}
}

// rebuildRanges computes the averaging window of every bin for
// 1/n-octave smoothing: [f/r, f·r] with r = 2^(1/(2n)).
func (a *Analyzer) rebuildRanges() {
	if len(a.ranges) == 0 {
		return
	}
	n := a.settings.Smoothing.Fraction()
	last := len(a.ranges) - 1
	a.ranges[0] = binRange{0, 0}
	if n == 0 {
		for k := 1; k <= last; k++ {
			a.ranges[k] = binRange{k, k}
		}
		return
	}

	ratio := math.Pow(2, 1/(2*float64(n)))
	bw := a.BinWidth()
	for k := 1; k <= last; k++ {
		f := float64(k) * bw
		lo := max(1, int(math.Floor(f/ratio/bw)))
		hi := min(last, int(math.Floor(f*ratio/bw)))
		if hi < lo {
			hi = lo
		}
		a.ranges[k] = binRange{lo, hi}
	}
}

// Process analyses the newest Size() samples of the rolling window, which
// ends just before writePos, and writes NumBins() dB values per channel to
// outPrimary and outSecondary. It returns false and leaves the outputs
// untouched when the inputs cannot hold a full frame.
//
// Process does not allocate.
func (a *Analyzer) Process(rollL, rollR []float32, writePos int, outPrimary, outSecondary []float64) bool {
	n, nb := a.size, a.numBins
	rolling := len(rollL)
	if n == 0 || len(a.window) != n || len(a.smoothA) != nb ||
		rolling < n || len(rollR) < rolling || writePos < 0 || writePos >= rolling ||
		len(outPrimary) < nb || len(outSecondary) < nb {
		return false
	}

	mode := a.settings.ChannelMode
	idx := ring.At(writePos-n, rolling)
	for i := 0; i < n; i++ {
		p := idx.Pos()
		l, r := float64(rollL[p]), float64(rollR[p])
		var x, y float64
		switch mode {
		case LeftRight:
			x, y = l, r
		case Mono:
			x = 0.5 * (l + r)
			y = x
		default:
			x, y = 0.5*(l+r), 0.5*(l-r)
		}
		w := a.window[i]
		a.timeA[i] = complex(x*w, 0)
		a.timeB[i] = complex(y*w, 0)
		idx.Next()
	}

	a.spectrum(a.timeA, a.smoothA, outPrimary[:nb])
	a.spectrum(a.timeB, a.smoothB, outSecondary[:nb])
	return true
}

// spectrum transforms one windowed channel, folds the result into its
// smoothing state and writes the displayed values to out.
func (a *Analyzer) spectrum(time []complex128, state, out []float64) {
	if err := a.plan.Forward(a.freq, time); err != nil {
		a.smoothInto(out, state)
		return
	}

	nb := a.numBins
	for k := 0; k < nb; k++ {
		c := a.freq[k]
		a.re[k] = real(c)
		a.im[k] = imag(c)
	}
	vecmath.Magnitude(a.mag, a.re, a.im)

	if a.settings.TiltDbPerOctave != 0 {
		vecmath.MulBlockInPlace(a.mag, a.slope)
	}

	// 4/N undoes the Hann coherent gain and folds in the negative frequencies.
	norm := 4.0 / float64(a.size)
	floor := a.floorDb
	decay := a.settings.Decay
	for k, m := range a.mag {
		v := 20 * math.Log10(m*norm)
		if !(v >= floor) {
			v = floor
		} else if v > maxDb {
			v = maxDb
		}
		s := state[k]
		if v > s {
			s = v
		} else {
			s = v + decay*(s-v)
		}
		state[k] = s
	}

	a.smoothInto(out, state)
}

// smoothInto writes src to dst, averaged across each bin's octave window
// when smoothing is enabled. dst and src may be the same slice.
func (a *Analyzer) smoothInto(dst, src []float64) {
	nb := a.numBins
	if a.settings.Smoothing == SmoothingNone || len(a.ranges) != nb {
		copy(dst[:nb], src[:nb])
		return
	}

	a.prefix[0] = 0
	for k := 0; k < nb; k++ {
		a.prefix[k+1] = a.prefix[k] + src[k]
	}
	for k, r := range a.ranges {
		dst[k] = (a.prefix[r.hi+1] - a.prefix[r.lo]) / float64(r.hi-r.lo+1)
	}
}

// ApplyOctaveSmoothing smooths data in place using the configured
// fractional-octave window. It is a no-op when smoothing is disabled or
// data is shorter than NumBins().
func (a *Analyzer) ApplyOctaveSmoothing(data []float64) {
	if a.settings.Smoothing == SmoothingNone || len(data) < a.numBins {
		return
	}
	a.smoothInto(data, data)
}
