// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"fmt"
)

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe and must not retain data after Send
// returns; publishers reuse their frames.
type Transport interface {
	Send(data any) error
	Close() error
}

// SpectrumFrame is one analysis result as published to visualizers.
type SpectrumFrame struct {
	Sequence       uint32    `json:"seq"`
	Timestamp      int64     `json:"ts"` // Unix nanoseconds.
	SampleRate     float64   `json:"sampleRate"`
	BinHz          float32   `json:"binHz"`
	FloorDb        float32   `json:"floorDb"`
	Primary        []float32 `json:"primary"`
	Secondary      []float32 `json:"secondary"`
	Correlation    float32   `json:"correlation"`
	LatencySamples int32     `json:"latencySamples"`
	GateMode       string    `json:"gateMode"`
}

// ErrUnsupportedPayload is returned by transports that only carry spectrum frames.
var ErrUnsupportedPayload = errors.New("transport: unsupported payload")

// AsFrame extracts a *SpectrumFrame from a Send payload.
func AsFrame(data any) (*SpectrumFrame, error) {
	switch f := data.(type) {
	case *SpectrumFrame:
		if f == nil {
			return nil, fmt.Errorf("%w: nil frame", ErrUnsupportedPayload)
		}
		return f, nil
	case SpectrumFrame:
		return &f, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPayload, data)
	}
}

// Multi fans a payload out to several transports. Send returns the first
// error but always tries every transport.
type Multi []Transport

func (m Multi) Send(data any) error {
	var first error
	for _, t := range m {
		if err := t.Send(data); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every transport and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, t := range m {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = Multi(nil)
