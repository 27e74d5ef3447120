// SPDX-License-Identifier: MIT
package audio

import (
	"sync"
	"testing"

	"spectra/internal/config"
	"spectra/internal/separator"
)

func TestGateModeFromConfig(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) { c.Separator.GateMode = "noise" })
	if e.GateMode() != separator.NoiseOnly {
		t.Errorf("GateMode = %v, want noise", e.GateMode())
	}
}

func TestSetGateMode(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		in, want separator.GateMode
	}{
		{separator.TonalOnly, separator.TonalOnly},
		{separator.NoiseOnly, separator.NoiseOnly},
		{separator.PassThrough, separator.PassThrough},
		{separator.GateMode(42), separator.PassThrough},
	}
	for _, tt := range tests {
		e.SetGateMode(tt.in)
		if got := e.GateMode(); got != tt.want {
			t.Errorf("SetGateMode(%d): GateMode = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetSeparation(t *testing.T) {
	e := newTestEngine(t)
	if e.Separation() || e.LatencySamples() != 0 {
		t.Fatal("separation should start disabled")
	}

	e.SetSeparation(true)
	if !e.Separation() || e.LatencySamples() != testSepSize {
		t.Errorf("enabled: separation %v latency %d", e.Separation(), e.LatencySamples())
	}
	if !e.resetSeparator.Load() {
		t.Error("engaging separation should request a reset")
	}

	e.process(make([]float32, 2*testFrameSize), make([]float32, 2*testFrameSize))
	if e.resetSeparator.Load() {
		t.Error("reset request should be consumed by the next block")
	}

	// Enabling again while engaged does not reset.
	e.SetSeparation(true)
	if e.resetSeparator.Load() {
		t.Error("idempotent enable requested a reset")
	}

	e.SetSeparation(false)
	if e.Separation() || e.LatencySamples() != 0 {
		t.Errorf("disabled: separation %v latency %d", e.Separation(), e.LatencySamples())
	}
}

func TestGateControlsConcurrentWithProcess(t *testing.T) {
	e := newTestEngine(t)
	in := make([]float32, 2*testFrameSize)
	out := make([]float32, len(in))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 500 {
			e.process(in, out)
			e.AnalysisBuffer().DrainSilently()
		}
	}()

	modes := []separator.GateMode{separator.PassThrough, separator.TonalOnly, separator.NoiseOnly}
	for i := range 500 {
		e.SetGateMode(modes[i%len(modes)])
		e.SetSeparation(i%2 == 0)
		_ = e.LatencySamples()
	}
	wg.Wait()
}

func BenchmarkSetGateMode(b *testing.B) {
	e := newTestEngine(b)
	b.ReportAllocs()
	for b.Loop() {
		e.SetGateMode(separator.TonalOnly)
		_ = e.GateMode()
	}
}
