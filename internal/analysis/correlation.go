// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"spectra/pkg/ring"
)

type correlationSums struct {
	n                     float64
	sx, sy, sxx, syy, sxy float64
}

func (c *correlationSums) add(left, right []float32) {
	for i := range left {
		x, y := float64(left[i]), float64(right[i])
		c.sx += x
		c.sy += y
		c.sxx += x * x
		c.syy += y * y
		c.sxy += x * y
	}
	c.n += float64(len(left))
}

func (c *correlationSums) value() float64 {
	if c.n == 0 {
		return 0
	}
	vx := c.n*c.sxx - c.sx*c.sx
	vy := c.n*c.syy - c.sy*c.sy
	den := math.Sqrt(vx * vy)
	if !(den > 1e-24) {
		return 0
	}
	r := (c.n*c.sxy - c.sx*c.sy) / den
	if math.IsNaN(r) {
		return 0
	}
	return math.Max(-1, math.Min(1, r))
}

// Correlation returns the Pearson correlation of the two channels in
// [-1, 1]: 1 for identical signals, -1 for inverted ones. Silence and
// constant signals report 0.
func Correlation(left, right []float32) float64 {
	n := min(len(left), len(right))
	var c correlationSums
	c.add(left[:n], right[:n])
	return c.value()
}

// RingCorrelation computes Correlation over the n newest samples of a
// circular window whose oldest sample sits at writePos.
func RingCorrelation(left, right []float32, writePos, n int) float64 {
	size := min(len(left), len(right))
	start, size1, size2 := ring.Runs(writePos-n, n, size)

	var c correlationSums
	c.add(left[start:start+size1], right[start:start+size1])
	c.add(left[:size2], right[:size2])
	return c.value()
}
