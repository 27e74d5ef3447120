// SPDX-License-Identifier: MIT
package audio

import "spectra/internal/separator"

// SetGateMode selects which spectral component the separator keeps. It is
// safe to call while the stream runs.
func (e *Engine) SetGateMode(m separator.GateMode) {
	e.separator.SetMode(m)
}

// GateMode returns the separator's current gate mode.
func (e *Engine) GateMode() separator.GateMode {
	return e.separator.Mode()
}

// SetSeparation engages or bypasses the separator. Engaging it clears the
// separator state on the next block so stale audio is not replayed.
func (e *Engine) SetSeparation(enabled bool) {
	if enabled && !e.separate.Load() {
		e.resetSeparator.Store(true)
	}
	e.separate.Store(enabled)
}

// Separation reports whether the separator is engaged.
func (e *Engine) Separation() bool {
	return e.separate.Load()
}

// LatencySamples returns the delay the engine adds to the signal: the
// separator's transform size while it is engaged, otherwise zero.
func (e *Engine) LatencySamples() int32 {
	if !e.separate.Load() {
		return 0
	}
	return int32(e.separator.LatencySamples())
}
