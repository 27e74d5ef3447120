// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"spectra/internal/transport"
)

func testFrame(bins int) *transport.SpectrumFrame {
	f := &transport.SpectrumFrame{
		Sequence:       42,
		Timestamp:      1_700_000_000_123_456_789,
		SampleRate:     48000,
		BinHz:          11.71875,
		FloorDb:        -90,
		Primary:        make([]float32, bins),
		Secondary:      make([]float32, bins),
		Correlation:    -0.25,
		LatencySamples: 2048,
		GateMode:       "tonal",
	}
	for i := range f.Primary {
		f.Primary[i] = -float32(i) / 10
		f.Secondary[i] = -90 + float32(i)
	}
	return f
}

func TestAppendFrame_Layout(t *testing.T) {
	f := testFrame(3)
	packet, err := AppendFrame(nil, f)
	if err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	if want := HeaderSize + 3*8; len(packet) != want {
		t.Fatalf("packet length = %d, want %d", len(packet), want)
	}

	be := binary.BigEndian
	checks := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"sequence", uint64(be.Uint32(packet[0:])), 42},
		{"timestamp", be.Uint64(packet[4:]), uint64(f.Timestamp)},
		{"latency", uint64(be.Uint32(packet[12:])), 2048},
		{"count", uint64(be.Uint16(packet[16:])), 3},
		{"binHz", uint64(be.Uint32(packet[18:])), uint64(math.Float32bits(11.71875))},
		{"correlation", uint64(be.Uint32(packet[22:])), uint64(math.Float32bits(-0.25))},
		{"primary[2]", uint64(be.Uint32(packet[HeaderSize+8:])), uint64(math.Float32bits(-0.2))},
		{"secondary[0]", uint64(be.Uint32(packet[HeaderSize+12:])), uint64(math.Float32bits(-90))},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %#x, want %#x", c.name, c.got, c.want)
		}
	}
}

func TestDecodeFrame(t *testing.T) {
	f := testFrame(513)
	packet, err := AppendFrame(nil, f)
	if err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}

	var got transport.SpectrumFrame
	if err := DecodeFrame(packet, &got); err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got.Sequence != f.Sequence || got.Timestamp != f.Timestamp || got.LatencySamples != f.LatencySamples ||
		got.BinHz != f.BinHz || got.Correlation != f.Correlation {
		t.Errorf("header mismatch: got %+v", got)
	}
	for i := range f.Primary {
		if got.Primary[i] != f.Primary[i] || got.Secondary[i] != f.Secondary[i] {
			t.Fatalf("bin %d = (%v, %v), want (%v, %v)", i, got.Primary[i], got.Secondary[i], f.Primary[i], f.Secondary[i])
		}
	}

	if err := DecodeFrame(packet[:HeaderSize-1], &got); !errors.Is(err, ErrShortPacket) {
		t.Errorf("truncated header: err = %v, want ErrShortPacket", err)
	}
	if err := DecodeFrame(packet[:len(packet)-1], &got); !errors.Is(err, ErrShortPacket) {
		t.Errorf("truncated payload: err = %v, want ErrShortPacket", err)
	}
}

func TestAppendFrame_Edges(t *testing.T) {
	t.Run("short secondary padded with floor", func(t *testing.T) {
		f := testFrame(4)
		f.Secondary = f.Secondary[:1]
		packet, err := AppendFrame(nil, f)
		if err != nil {
			t.Fatalf("AppendFrame: %v", err)
		}
		var got transport.SpectrumFrame
		if err := DecodeFrame(packet, &got); err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if got.Secondary[3] != f.FloorDb {
			t.Errorf("padded bin = %v, want %v", got.Secondary[3], f.FloorDb)
		}
	})

	t.Run("too many bins", func(t *testing.T) {
		_, err := AppendFrame(nil, testFrame(MaxBins+1))
		if !errors.Is(err, ErrFrameTooLarge) {
			t.Errorf("err = %v, want ErrFrameTooLarge", err)
		}
		if _, err := AppendFrame(nil, testFrame(MaxBins)); err != nil {
			t.Errorf("MaxBins frame rejected: %v", err)
		}
	})

	t.Run("no allocations with capacity", func(t *testing.T) {
		f := testFrame(4097)
		buf := make([]byte, 0, HeaderSize+8*4097)
		allocs := testing.AllocsPerRun(100, func() {
			buf, _ = AppendFrame(buf[:0], f)
		})
		if allocs > 0 {
			t.Errorf("Expected zero allocations in AppendFrame, got %.1f", allocs)
		}
	})
}

type recordingSender struct {
	mu      sync.Mutex
	packets [][]byte
	err     error
	closed  bool
}

func (r *recordingSender) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.packets = append(r.packets, append([]byte(nil), data...))
	return nil
}

func (r *recordingSender) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestPublisher(t *testing.T) {
	if _, err := NewPublisher(nil); err == nil {
		t.Error("expected error for nil sender")
	}

	rec := &recordingSender{}
	p, err := NewPublisher(rec)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}

	f := testFrame(8)
	if err := p.Send(f); err != nil {
		t.Fatalf("Send(*frame): %v", err)
	}
	if err := p.Send(*f); err != nil {
		t.Fatalf("Send(frame): %v", err)
	}
	if err := p.Send("hello"); !errors.Is(err, transport.ErrUnsupportedPayload) {
		t.Errorf("Send(string) err = %v, want ErrUnsupportedPayload", err)
	}

	rec.err = errors.New("network down")
	if err := p.Send(f); err == nil {
		t.Error("expected sender error to propagate")
	}

	sent, failed := p.Stats()
	if sent != 2 || failed != 1 {
		t.Errorf("Stats = (%d, %d), want (2, 1)", sent, failed)
	}
	if len(rec.packets) != 2 || len(rec.packets[0]) != HeaderSize+8*8 {
		t.Errorf("recorded %d packets", len(rec.packets))
	}

	if err := p.Close(); err != nil || !rec.closed {
		t.Errorf("Close = %v, closed = %v", err, rec.closed)
	}
}

func TestPublisher_Loopback(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("no loopback UDP: %v", err)
	}
	defer listener.Close()

	p, err := Dial(listener.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer p.Close()

	f := testFrame(1025)
	if err := p.Send(f); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, MaxPayload)
	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := listener.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}

	var got transport.SpectrumFrame
	if err := DecodeFrame(buf[:n], &got); err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got.Sequence != f.Sequence || len(got.Primary) != 1025 || got.Primary[1024] != f.Primary[1024] {
		t.Errorf("received frame %d with %d bins", got.Sequence, len(got.Primary))
	}
}

func TestSender_Closed(t *testing.T) {
	s, err := NewSender("127.0.0.1:9")
	if err != nil {
		t.Skipf("cannot dial loopback: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := s.Send([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close err = %v, want ErrClosed", err)
	}
}

func TestNewSender_BadAddress(t *testing.T) {
	if _, err := NewSender("not-an-address"); err == nil {
		t.Error("expected resolve error")
	}
}

func BenchmarkAppendFrame(b *testing.B) {
	f := testFrame(4097)
	buf := make([]byte, 0, HeaderSize+8*4097)
	b.ReportAllocs()
	for b.Loop() {
		buf, _ = AppendFrame(buf[:0], f)
	}
}
