package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Hamming returns a symmetric Hamming window of length n. A window of one
// sample is {1}; n <= 0 yields nil.
func Hamming(n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{1}
	}
	win := make([]float64, n)
	step := 2 * math.Pi / float64(n-1)
	for i := range win {
		win[i] = 0.54 - 0.46*math.Cos(step*float64(i))
	}
	return win
}

// CoherentGain is the window's mean, the amplitude factor it applies to a
// tone centered in a bin.
func CoherentGain(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	return floats.Sum(window) / float64(len(window))
}

// ApplyWindow returns samples multiplied elementwise by window, or nil when
// the lengths differ.
func ApplyWindow(samples, window []float64) []float64 {
	if len(samples) != len(window) {
		return nil
	}
	return floats.MulTo(make([]float64, len(samples)), samples, window)
}
