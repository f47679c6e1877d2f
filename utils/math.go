// Package utils contains small helpers shared across the alignment code.
package utils

// RunningSum is a Kahan compensated accumulator. Summing many small
// contributions (point coordinates, cubed projections) loses low-order bits
// with a naive sum once clouds get large.
type RunningSum struct {
	sum  float64
	comp float64
}

// Digest adds a value to the running sum.
func (rs *RunningSum) Digest(v float64) {
	y := v - rs.comp
	t := rs.sum + y
	rs.comp = (t - rs.sum) - y
	rs.sum = t
}

// Sum returns the current compensated sum.
func (rs *RunningSum) Sum() float64 {
	return rs.sum
}

// Cube returns x^3, preserving sign.
func Cube(x float64) float64 {
	return x * x * x
}

// MaxInt returns the larger of a and b.
func MaxInt(a, b int) int {
	if a < b {
		return b
	}
	return a
}

// MinInt returns the smaller of a and b.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
