// SPDX-License-Identifier: MIT
package transport

import (
	"spectra/internal/log"
)

// LoggingTransport writes a one-line summary of every spectrum frame at
// debug level. It is the fallback when no network transport is enabled.
type LoggingTransport struct {
	every uint32
}

// NewLoggingTransport returns a LoggingTransport that logs every n-th frame.
// n < 1 logs every frame.
func NewLoggingTransport(n int) *LoggingTransport {
	if n < 1 {
		n = 1
	}
	log.Infof("Transport: Using LoggingTransport (every %d frames)", n)
	return &LoggingTransport{every: uint32(n)}
}

// Send logs the frame summary. Payloads other than spectrum frames are
// rejected with ErrUnsupportedPayload.
func (lt *LoggingTransport) Send(data any) error {
	f, err := AsFrame(data)
	if err != nil {
		return err
	}
	if f.Sequence%lt.every != 0 {
		return nil
	}
	peak, peakDb := PeakBin(f.Primary)
	log.Debugf("LoggingTransport: frame %d peak %.1f Hz (%.1f dB) corr %.2f gate %s latency %d",
		f.Sequence, float32(peak)*f.BinHz, peakDb, f.Correlation, f.GateMode, f.LatencySamples)
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	log.Debugf("LoggingTransport: Close called.")
	return nil
}

// PeakBin returns the index and value of the largest entry of db, or
// (-1, 0) for an empty slice.
func PeakBin(db []float32) (int, float32) {
	if len(db) == 0 {
		return -1, 0
	}
	best := 0
	for i, v := range db {
		if v > db[best] {
			best = i
		}
	}
	return best, db[best]
}

var _ Transport = (*LoggingTransport)(nil)
