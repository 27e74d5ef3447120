// SPDX-License-Identifier: MIT
package analysis

// SpectrumProvider describes the bin layout of a spectrum producer. It lets
// consumers like BandMeter map bins to frequencies without depending on the
// concrete Analyzer.
type SpectrumProvider interface {
	NumBins() int                 // NumBins returns the number of unique bins (size/2+1).
	BinFrequency(bin int) float64 // BinFrequency returns the centre frequency (Hz) of a bin.
	Size() int                    // Size returns the transform size.
	SampleRate() float64          // SampleRate returns the sample rate the bins refer to.
}
