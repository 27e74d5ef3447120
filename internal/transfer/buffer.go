// SPDX-License-Identifier: MIT
/*
Package transfer moves stereo sample streams from the real-time audio
callback to a non-real-time consumer without locks.

A Buffer has two regions:
  - a staging ring written by exactly one producer (the audio callback) and
    read by exactly one consumer, coordinated by two monotonically increasing
    atomic counters;
  - a rolling window, a longer circular history owned by the consumer and
    refreshed from the staging ring by Drain. Analyzers read the rolling window.

Thread Safety:
  - Push is the only producer operation. It never allocates, locks or blocks.
  - Drain, DrainSilently and Pop are consumer operations; only one goroutine
    may call them at a time.
  - ResizeRolling and ResetFifo run on the consumer goroutine while the
    producer is quiescent. ResetFifo never reallocates staging storage.
*/
package transfer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"spectra/pkg/ring"
)

// ErrInvalidSize is returned for non-positive or oversize buffer dimensions.
var ErrInvalidSize = errors.New("transfer: invalid buffer size")

// Buffer is a single-producer/single-consumer stereo transfer buffer.
type Buffer struct {
	// Staging ring, backing storage sized once at construction.
	stageL   []float32
	stageR   []float32
	capacity atomic.Int64  // Active capacity, <= len(stageL).
	written  atomic.Uint64 // Total samples committed by the producer.
	read     atomic.Uint64 // Total samples released by the consumer.

	// Rolling window, consumer owned.
	rollL     []float32
	rollR     []float32
	rollWrite ring.Index
}

// NewBuffer allocates a Buffer whose staging ring can hold up to
// maxCapacity samples per channel and whose rolling window holds
// rollingSize samples per channel. The active staging capacity starts at
// maxCapacity.
func NewBuffer(maxCapacity, rollingSize int) (*Buffer, error) {
	if maxCapacity <= 0 {
		return nil, fmt.Errorf("%w: staging capacity %d", ErrInvalidSize, maxCapacity)
	}

	b := &Buffer{
		stageL: make([]float32, maxCapacity),
		stageR: make([]float32, maxCapacity),
	}
	b.capacity.Store(int64(maxCapacity))

	if err := b.ResizeRolling(rollingSize); err != nil {
		return nil, err
	}
	return b, nil
}

// Push copies up to len(left) samples into the staging ring and returns the
// number of samples written. A nil or short right channel is replaced by the
// left channel so mono sources degrade to a duplicated pair. Samples that do
// not fit are not written.
//
// Push is real-time safe.
func (b *Buffer) Push(left, right []float32) int {
	if len(right) < len(left) {
		right = left
	}

	capacity := int(b.capacity.Load())
	written := b.written.Load()
	used, ok := pending(written, b.read.Load(), capacity)
	if !ok {
		return 0
	}
	n := min(len(left), capacity-used)
	if n <= 0 {
		return 0
	}

	start, size1, size2 := ring.Runs(int(written%uint64(capacity)), n, capacity)
	copy(b.stageL[start:start+size1], left[:size1])
	copy(b.stageR[start:start+size1], right[:size1])
	if size2 > 0 {
		copy(b.stageL[:size2], left[size1:n])
		copy(b.stageR[:size2], right[size1:n])
	}

	b.written.Store(written + uint64(n))
	return n
}

// pending returns the staged sample count and whether the counters agree
// with the active capacity. They disagree only when ResetFifo raced with
// the producer; the consumer then resynchronises by discarding.
func pending(written, read uint64, capacity int) (int, bool) {
	n := int64(written - read)
	return int(n), n >= 0 && n <= int64(capacity)
}

// claim returns the consumer's read counter and the number of staged
// samples. Inconsistent counters are resolved by discarding everything.
func (b *Buffer) claim() (read uint64, n int) {
	read = b.read.Load()
	written := b.written.Load()
	n, ok := pending(written, read, int(b.capacity.Load()))
	if !ok {
		b.read.Store(written)
		return written, 0
	}
	return read, n
}

// Available returns the number of staged samples waiting for the consumer.
func (b *Buffer) Available() int {
	n, ok := pending(b.written.Load(), b.read.Load(), int(b.capacity.Load()))
	if !ok {
		return 0
	}
	return n
}

// Capacity returns the active staging capacity.
func (b *Buffer) Capacity() int {
	return int(b.capacity.Load())
}

// Drain moves every staged sample into the rolling window and returns the
// number of samples moved. If the rolling window is unusable the staged
// data is discarded and Drain returns 0.
func (b *Buffer) Drain() int {
	read, n := b.claim()
	if n <= 0 {
		return 0
	}

	rollSize := len(b.rollL)
	if rollSize <= 0 || len(b.rollR) != rollSize || !b.rollWrite.Valid(rollSize) {
		b.read.Store(read + uint64(n))
		return 0
	}

	capacity := int(b.capacity.Load())
	start, size1, size2 := ring.Runs(int(read%uint64(capacity)), n, capacity)
	b.appendRolling(b.stageL[start:start+size1], b.stageR[start:start+size1])
	if size2 > 0 {
		b.appendRolling(b.stageL[:size2], b.stageR[:size2])
	}

	b.read.Store(read + uint64(n))
	return n
}

// appendRolling writes a contiguous staged run into the rolling window at
// its cursor, wrapping as often as needed.
func (b *Buffer) appendRolling(left, right []float32) {
	for len(left) > 0 {
		pos := b.rollWrite.Pos()
		chunk := min(len(left), len(b.rollL)-pos)
		copy(b.rollL[pos:pos+chunk], left[:chunk])
		copy(b.rollR[pos:pos+chunk], right[:chunk])
		b.rollWrite.Advance(chunk)
		left = left[chunk:]
		right = right[chunk:]
	}
}

// DrainSilently discards every staged sample without touching the rolling
// window and returns the number discarded. Consumers call it while paused
// so the producer never finds the ring full.
func (b *Buffer) DrainSilently() int {
	read, n := b.claim()
	if n <= 0 {
		return 0
	}
	b.read.Store(read + uint64(n))
	return n
}

// Pop copies up to len(left) staged samples into left and right, releases
// them and returns the count. It is the consumer operation for readers that
// want the linear stream (e.g. a file writer) rather than the rolling window.
func (b *Buffer) Pop(left, right []float32) int {
	read, n := b.claim()
	n = min(n, len(left), len(right))
	if n <= 0 {
		return 0
	}

	capacity := int(b.capacity.Load())
	start, size1, size2 := ring.Runs(int(read%uint64(capacity)), n, capacity)
	copy(left[:size1], b.stageL[start:start+size1])
	copy(right[:size1], b.stageR[start:start+size1])
	if size2 > 0 {
		copy(left[size1:n], b.stageL[:size2])
		copy(right[size1:n], b.stageR[:size2])
	}

	b.read.Store(read + uint64(n))
	return n
}

// ResizeRolling replaces the rolling window with a zeroed one of newSize
// samples per channel and resets its cursor.
func (b *Buffer) ResizeRolling(newSize int) error {
	if newSize <= 0 {
		return fmt.Errorf("%w: rolling size %d", ErrInvalidSize, newSize)
	}
	b.rollL = make([]float32, newSize)
	b.rollR = make([]float32, newSize)
	b.rollWrite = ring.NewIndex(newSize)
	return nil
}

// ResetFifo changes the active staging capacity and empties the staging
// ring. Backing storage is reused, so newCapacity may not exceed the
// capacity the Buffer was created with.
func (b *Buffer) ResetFifo(newCapacity int) error {
	if newCapacity <= 0 || newCapacity > len(b.stageL) {
		return fmt.Errorf("%w: staging capacity %d (max %d)", ErrInvalidSize, newCapacity, len(b.stageL))
	}
	b.capacity.Store(int64(newCapacity))
	b.read.Store(0)
	b.written.Store(0)
	return nil
}

// Rolling returns the rolling window channels. The slices are owned by the
// Buffer and are only stable between calls to Drain on the consumer goroutine.
func (b *Buffer) Rolling() (left, right []float32) {
	return b.rollL, b.rollR
}

// RollingWritePos returns the index in the rolling window that the next
// drained sample will occupy, which is also the oldest sample held.
func (b *Buffer) RollingWritePos() int {
	return b.rollWrite.Pos()
}

// RollingSize returns the rolling window length per channel.
func (b *Buffer) RollingSize() int {
	return b.rollWrite.Size()
}
