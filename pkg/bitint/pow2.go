// SPDX-License-Identifier: MIT
/*
Package bitint converts between transform orders and power-of-two sizes.

Usage:

	// Staging ring capacity for a host block size
	capacity := bitint.NextPowerOfTwo(blockSize * 64)

	// Transform size for an analysis order
	size := bitint.OrderSize(13) // 8192

NextPowerOfTwo subtracts one before taking the bit length so that an
exact power of two maps to itself: for 8, bits.Len64(7) = 3 and 1<<3 = 8,
where bits.Len64(8) would give 16.
*/
package bitint

import "math/bits"

// MaxOrder bounds OrderSize so the shift never overflows a 32-bit int.
const MaxOrder = 30

// NextPowerOfTwo returns the smallest power of two >= size, and 1 for
// size <= 0.
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len64(uint64(size-1))
}

// OrderSize returns 1 << order. Orders outside [0, MaxOrder] yield 0 so
// callers can reject them with a single size check.
func OrderSize(order int) int {
	if order < 0 || order > MaxOrder {
		return 0
	}
	return 1 << order
}
