// SPDX-License-Identifier: MIT

// Package ring provides the cursor arithmetic shared by every circular
// buffer in the engine. Call sites never apply the modulo operator to a
// cursor themselves; they hold an Index and advance or offset it.
//
// All operations are allocation free and safe to use on the real-time
// audio thread. An Index is a plain value and is not safe for concurrent
// mutation; each cursor has exactly one owning goroutine.
package ring

// Wrap maps any integer position, including negative ones, into [0, size).
// A non-positive size yields 0.
func Wrap(pos, size int) int {
	if size <= 0 {
		return 0
	}
	pos %= size
	if pos < 0 {
		pos += size
	}
	return pos
}

// Index is a cursor into a circular buffer of a fixed size.
type Index struct {
	pos  int
	size int
}

// NewIndex returns a cursor at position 0 for a buffer of the given size.
func NewIndex(size int) Index {
	return Index{size: size}
}

// At returns a cursor at pos (wrapped) for a buffer of the given size.
func At(pos, size int) Index {
	return Index{pos: Wrap(pos, size), size: size}
}

// Pos returns the current position.
func (i Index) Pos() int { return i.pos }

// Size returns the size of the buffer the cursor walks.
func (i Index) Size() int { return i.size }

// Valid reports whether the cursor can be used to index a buffer of length n.
func (i Index) Valid(n int) bool {
	return i.size > 0 && i.size <= n && i.pos >= 0 && i.pos < i.size
}

// Offset returns the position n steps away from the cursor without moving it.
func (i Index) Offset(n int) int {
	return Wrap(i.pos+n, i.size)
}

// Advance moves the cursor n steps. Negative steps move it backwards.
func (i *Index) Advance(n int) {
	i.pos = Wrap(i.pos+n, i.size)
}

// Next moves the cursor one step forward. It is the hot-path form of
// Advance(1) and avoids the division.
func (i *Index) Next() {
	i.pos++
	if i.pos >= i.size {
		i.pos = 0
	}
}

// Reset moves the cursor back to position 0.
func (i *Index) Reset() { i.pos = 0 }

// Runs splits a span of n elements starting at pos into at most two
// contiguous runs inside a buffer of the given size. The second run always
// starts at 0.
func Runs(pos, n, size int) (start1, size1, size2 int) {
	if size <= 0 || n <= 0 {
		return 0, 0, 0
	}
	start1 = Wrap(pos, size)
	if n > size {
		n = size
	}
	size1 = min(n, size-start1)
	size2 = n - size1
	return start1, size1, size2
}
