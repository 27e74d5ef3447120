// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"spectra/internal/log"
	"spectra/internal/transport"
)

/*
Packet layout (big endian):

|<- 4 ->|<-- 8 -->|<- 4 ->|<- 2 ->|<- 4 ->|<- 4 ->|<-- N*4 -->|<-- N*4 -->|
+-------+---------+-------+-------+-------+-------+-----------+-----------+
|  Seq  |Timestamp|Latency| Count | BinHz | Corr  |  Primary  | Secondary |
|uint32 |  int64  | int32 |uint16 |float32|float32|N × float32|N × float32|
+-------+---------+-------+-------+-------+-------+-----------+-----------+

Timestamp is Unix nanoseconds, Latency is in samples, Count is the number of
bins N in each of the two spectra.
*/

// HeaderSize is the size of the fixed packet header in bytes.
const HeaderSize = 4 + 8 + 4 + 2 + 4 + 4

// MaxPayload is the largest UDP payload over IPv4.
const MaxPayload = 65507

// MaxBins is the largest bin count that fits one datagram.
const MaxBins = (MaxPayload - HeaderSize) / 8

var (
	// ErrFrameTooLarge is returned for frames with more than MaxBins bins.
	ErrFrameTooLarge = errors.New("udp: frame does not fit one datagram")
	// ErrShortPacket is returned by DecodeFrame for truncated packets.
	ErrShortPacket = errors.New("udp: short packet")
)

// PacketSender delivers encoded packets.
type PacketSender interface {
	Send(data []byte) error
	Close() error
}

// Publisher is a transport.Transport that encodes spectrum frames into the
// binary packet layout and hands them to a PacketSender.
type Publisher struct {
	sender PacketSender

	mu     sync.Mutex
	packet []byte // Reused across frames.
	sent   uint64
	failed uint64
}

// NewPublisher wraps sender.
func NewPublisher(sender PacketSender) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: sender cannot be nil")
	}
	return &Publisher{sender: sender}, nil
}

// Dial connects a Sender to targetAddress and wraps it in a Publisher.
func Dial(targetAddress string) (*Publisher, error) {
	sender, err := NewSender(targetAddress)
	if err != nil {
		return nil, err
	}
	return NewPublisher(sender)
}

// Send encodes and transmits one frame.
func (p *Publisher) Send(data any) error {
	f, err := transport.AsFrame(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.packet, err = AppendFrame(p.packet[:0], f)
	if err != nil {
		p.failed++
		return err
	}
	if err := p.sender.Send(p.packet); err != nil {
		p.failed++
		// A missing listener is routine; keep it out of the info log.
		log.Debugf("UDPPublisher: frame %d: %v", f.Sequence, err)
		return err
	}
	p.sent++
	return nil
}

// Stats returns the number of frames sent and failed.
func (p *Publisher) Stats() (sent, failed uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent, p.failed
}

// Close closes the underlying sender.
func (p *Publisher) Close() error {
	p.mu.Lock()
	sent, failed := p.sent, p.failed
	p.mu.Unlock()
	log.Infof("UDPPublisher: Closing (%d frames sent, %d failed)", sent, failed)
	return p.sender.Close()
}

// AppendFrame appends the packet encoding of f to dst. Primary and
// Secondary must have the same length; a shorter Secondary is padded with
// the floor.
func AppendFrame(dst []byte, f *transport.SpectrumFrame) ([]byte, error) {
	n := len(f.Primary)
	if n > MaxBins {
		return dst, fmt.Errorf("%w: %d bins (max %d)", ErrFrameTooLarge, n, MaxBins)
	}

	be := binary.BigEndian
	dst = be.AppendUint32(dst, f.Sequence)
	dst = be.AppendUint64(dst, uint64(f.Timestamp))
	dst = be.AppendUint32(dst, uint32(f.LatencySamples))
	dst = be.AppendUint16(dst, uint16(n))
	dst = be.AppendUint32(dst, math.Float32bits(f.BinHz))
	dst = be.AppendUint32(dst, math.Float32bits(f.Correlation))
	for _, v := range f.Primary {
		dst = be.AppendUint32(dst, math.Float32bits(v))
	}
	for i := 0; i < n; i++ {
		v := f.FloorDb
		if i < len(f.Secondary) {
			v = f.Secondary[i]
		}
		dst = be.AppendUint32(dst, math.Float32bits(v))
	}
	return dst, nil
}

// DecodeFrame parses a packet produced by AppendFrame into f, reusing f's
// slices when they are large enough. SampleRate, FloorDb and GateMode are
// not carried and are left untouched.
func DecodeFrame(packet []byte, f *transport.SpectrumFrame) error {
	if len(packet) < HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrShortPacket, len(packet))
	}
	be := binary.BigEndian
	f.Sequence = be.Uint32(packet[0:])
	f.Timestamp = int64(be.Uint64(packet[4:]))
	f.LatencySamples = int32(be.Uint32(packet[12:]))
	n := int(be.Uint16(packet[16:]))
	f.BinHz = math.Float32frombits(be.Uint32(packet[18:]))
	f.Correlation = math.Float32frombits(be.Uint32(packet[22:]))

	if want := HeaderSize + 8*n; len(packet) < want {
		return fmt.Errorf("%w: %d bytes for %d bins (want %d)", ErrShortPacket, len(packet), n, want)
	}
	f.Primary = decodeFloats(f.Primary, packet[HeaderSize:], n)
	f.Secondary = decodeFloats(f.Secondary, packet[HeaderSize+4*n:], n)
	return nil
}

func decodeFloats(dst []float32, src []byte, n int) []float32 {
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = math.Float32frombits(binary.BigEndian.Uint32(src[4*i:]))
	}
	return dst
}

var _ transport.Transport = (*Publisher)(nil)
