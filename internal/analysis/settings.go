// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Transform order limits. Order o selects a transform size of 1<<o.
const (
	MinOrder     = 10
	MaxOrder     = 14
	DefaultOrder = 13
)

// Defaults and limits for the analyzer controls.
const (
	DefaultFloorDb    = -90.0
	DefaultSampleRate = 44100.0
	DefaultDecay      = 0.85
	MaxTiltDb         = 9.0
	PivotHz           = 1000.0
)

var (
	// ErrInvalidOrder is returned when a transform order is outside [MinOrder, MaxOrder].
	ErrInvalidOrder = errors.New("analysis: invalid transform order")
	// ErrInvalidSettings is returned when Settings fail validation.
	ErrInvalidSettings = errors.New("analysis: invalid settings")
)

// ChannelMode selects how a left/right pair is decoded into the two
// analysis channels.
type ChannelMode int

const (
	// MidSide analyses (L+R)/2 and (L-R)/2.
	MidSide ChannelMode = iota
	// LeftRight analyses the raw pair.
	LeftRight
	// Mono analyses (L+R)/2 on both channels.
	Mono
)

func (m ChannelMode) String() string {
	switch m {
	case MidSide:
		return "mid_side"
	case LeftRight:
		return "left_right"
	case Mono:
		return "mono"
	default:
		return fmt.Sprintf("ChannelMode(%d)", int(m))
	}
}

// ParseChannelMode converts a config name to a ChannelMode.
func ParseChannelMode(name string) (ChannelMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mid_side", "midside", "ms", "":
		return MidSide, nil
	case "left_right", "leftright", "lr", "stereo":
		return LeftRight, nil
	case "mono":
		return Mono, nil
	default:
		return MidSide, fmt.Errorf("%w: unknown channel mode '%s'", ErrInvalidSettings, name)
	}
}

// Smoothing selects fractional-octave smoothing along the frequency axis.
type Smoothing int

const (
	SmoothingNone Smoothing = iota
	SmoothingThird
	SmoothingSixth
	SmoothingTwelfth
)

// Fraction returns n for 1/n-octave smoothing, or 0 when disabled.
func (s Smoothing) Fraction() int {
	switch s {
	case SmoothingThird:
		return 3
	case SmoothingSixth:
		return 6
	case SmoothingTwelfth:
		return 12
	default:
		return 0
	}
}

func (s Smoothing) String() string {
	switch s {
	case SmoothingNone:
		return "none"
	case SmoothingThird:
		return "1/3"
	case SmoothingSixth:
		return "1/6"
	case SmoothingTwelfth:
		return "1/12"
	default:
		return fmt.Sprintf("Smoothing(%d)", int(s))
	}
}

// ParseSmoothing converts a config name ("none", "1/3", "1/6", "1/12") to a Smoothing.
func ParseSmoothing(name string) (Smoothing, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "off", "":
		return SmoothingNone, nil
	case "1/3", "third":
		return SmoothingThird, nil
	case "1/6", "sixth":
		return SmoothingSixth, nil
	case "1/12", "twelfth":
		return SmoothingTwelfth, nil
	default:
		return SmoothingNone, fmt.Errorf("%w: unknown smoothing '%s'", ErrInvalidSettings, name)
	}
}

// Settings holds the analyzer controls that can change without a new
// transform order.
type Settings struct {
	SampleRate      float64
	ChannelMode     ChannelMode
	TiltDbPerOctave float64
	Decay           float64 // 0 = no memory, 1 = hold forever.
	Smoothing       Smoothing
	Window          WindowFunc
}

// DefaultSettings returns the settings a fresh analyzer starts with.
func DefaultSettings() Settings {
	return Settings{
		SampleRate:  DefaultSampleRate,
		ChannelMode: MidSide,
		Decay:       DefaultDecay,
		Smoothing:   SmoothingNone,
		Window:      Hann,
	}
}

// Validate rejects settings that could not be applied.
func (s Settings) Validate() error {
	switch {
	case !(s.SampleRate > 0) || math.IsInf(s.SampleRate, 1):
		return fmt.Errorf("%w: sample rate %v", ErrInvalidSettings, s.SampleRate)
	case s.ChannelMode < MidSide || s.ChannelMode > Mono:
		return fmt.Errorf("%w: channel mode %d", ErrInvalidSettings, int(s.ChannelMode))
	case !(s.TiltDbPerOctave >= -MaxTiltDb && s.TiltDbPerOctave <= MaxTiltDb):
		return fmt.Errorf("%w: tilt %v dB/oct outside [-%v, %v]", ErrInvalidSettings, s.TiltDbPerOctave, MaxTiltDb, MaxTiltDb)
	case !(s.Decay >= 0 && s.Decay <= 1):
		return fmt.Errorf("%w: decay %v outside [0, 1]", ErrInvalidSettings, s.Decay)
	case s.Smoothing < SmoothingNone || s.Smoothing > SmoothingTwelfth:
		return fmt.Errorf("%w: smoothing %d", ErrInvalidSettings, int(s.Smoothing))
	case s.Window < Hann || s.Window > Nuttall:
		return fmt.Errorf("%w: window %d", ErrInvalidSettings, int(s.Window))
	}
	return nil
}

// ValidateOrder reports whether order selects a supported transform size.
func ValidateOrder(order int) error {
	if order < MinOrder || order > MaxOrder {
		return fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidOrder, order, MinOrder, MaxOrder)
	}
	return nil
}

// clamp limits v to [lo, hi]. Callers reject NaN first.
func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
