// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
)

// FrequencyBand defines the name and frequency range [LowHz, HighHz) of a band.
type FrequencyBand struct {
	Name   string  `json:"name"`
	LowHz  float64 `json:"lowHz"`
	HighHz float64 `json:"highHz"`
}

// DefaultBands returns the six display bands, with treble running up to Nyquist.
func DefaultBands(sampleRate float64) []FrequencyBand {
	return []FrequencyBand{
		{Name: "sub", LowHz: 20, HighHz: 60},
		{Name: "bass", LowHz: 60, HighHz: 250},
		{Name: "lowMid", LowHz: 250, HighHz: 500},
		{Name: "mid", LowHz: 500, HighHz: 2000},
		{Name: "highMid", LowHz: 2000, HighHz: 4000},
		{Name: "treble", LowHz: 4000, HighHz: sampleRate / 2},
	}
}

// BandMeter reduces a per-bin dB spectrum to one level per band by
// averaging power across the bins whose centre falls inside the band.
type BandMeter struct {
	bands   []FrequencyBand
	lo, hi  []int // Bin range per band, hi exclusive.
	floorDb float64
}

// NewBandMeter maps bands onto the bin layout of provider. Levels of bands
// that contain no bins report floorDb.
func NewBandMeter(provider SpectrumProvider, bands []FrequencyBand, floorDb float64) *BandMeter {
	m := &BandMeter{
		bands:   append([]FrequencyBand(nil), bands...),
		lo:      make([]int, len(bands)),
		hi:      make([]int, len(bands)),
		floorDb: floorDb,
	}

	numBins := provider.NumBins()
	for i, band := range m.bands {
		m.lo[i], m.hi[i] = numBins, numBins
		for k := 0; k < numBins; k++ {
			f := provider.BinFrequency(k)
			if f >= band.LowHz && m.lo[i] == numBins {
				m.lo[i] = k
			}
			if f >= band.HighHz {
				m.hi[i] = k
				break
			}
		}
		if m.hi[i] < m.lo[i] {
			m.hi[i] = m.lo[i]
		}
	}
	return m
}

// Bands returns the configured bands.
func (m *BandMeter) Bands() []FrequencyBand { return m.bands }

// Measure writes one dB level per band to out, which must hold at least
// len(Bands()) values. It does not allocate.
func (m *BandMeter) Measure(db []float64, out []float64) {
	for i := range m.bands {
		if i >= len(out) {
			return
		}
		lo, hi := m.lo[i], min(m.hi[i], len(db))
		if hi <= lo {
			out[i] = m.floorDb
			continue
		}

		var power float64
		for _, v := range db[lo:hi] {
			power += math.Pow(10, v/10)
		}
		level := 10 * math.Log10(power/float64(hi-lo))
		if !(level >= m.floorDb) {
			level = m.floorDb
		}
		out[i] = level
	}
}
