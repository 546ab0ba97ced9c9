// Package mathx holds the small numeric helpers shared by the synthesizer and calibration code.
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	if unit < 1 {
		// dividing by the exact power of ten keeps values like 9.0 exact
		scale := math.Round(1 / unit)
		return math.Round(x*scale) / scale
	}
	return math.Round(x/unit) * unit
}

// Linspace returns n evenly spaced samples over [start, stop], both ends included.
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// Interp is piecewise linear interpolation of x on the table (xp, fp).
// xp must be increasing.  Values outside of xp are clamped to the end values of fp.
func Interp(x float64, xp, fp []float64) float64 {
	n := len(xp)
	if n == 0 {
		return 0
	}
	if x <= xp[0] {
		return fp[0]
	}
	if x >= xp[n-1] {
		return fp[n-1]
	}
	// find the first xp strictly greater than x
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if xp[mid] > x {
			hi = mid
		} else {
			lo = mid
		}
	}
	dx := xp[hi] - xp[lo]
	if dx == 0 {
		return fp[hi]
	}
	return fp[lo] + (fp[hi]-fp[lo])*(x-xp[lo])/dx
}

// Poly evaluates c[0] + c[1]x + c[2]x^2 + ... with Horner's method
func Poly(x float64, c ...float64) float64 {
	var acc float64
	for i := len(c) - 1; i >= 0; i-- {
		acc = acc*x + c[i]
	}
	return acc
}
