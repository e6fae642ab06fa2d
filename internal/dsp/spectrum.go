// Package dsp inspects sample buffers: spectral peaks of synthesized
// waveforms and conversion of raw digitizer codes to volts.
package dsp

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// DigitizerLSB is the weight of one digitizer code relative to full scale.
const DigitizerLSB = 1.0 / (1 << 14)

// Spectrum is a one-sided magnitude spectrum.
type Spectrum struct {
	Freqs []float64
	DB    []float64
}

// Analyzer caches a Hamming window and FFT plan for one buffer length so
// repeated inspections of equally sized buffers avoid re-planning.
type Analyzer struct {
	mu     sync.Mutex
	size   int
	window []float64
	gain   float64
	fft    *fourier.FFT
}

// NewAnalyzer prepares an analyzer for buffers of n samples.
func NewAnalyzer(n int) *Analyzer {
	a := &Analyzer{}
	a.resize(n)
	return a
}

func (a *Analyzer) resize(n int) {
	a.size = n
	a.window = Hamming(n)
	a.gain = CoherentGain(a.window)
	if n > 0 {
		a.fft = fourier.NewFFT(n)
	} else {
		a.fft = nil
	}
}

// Size reports the buffer length the analyzer is planned for.
func (a *Analyzer) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Spectrum windows samples and returns the one-sided magnitude spectrum in
// dB relative to a full-scale sinusoid. The plan is rebuilt when the length
// changes.
func (a *Analyzer) Spectrum(samples []float64, rate float64) Spectrum {
	if len(samples) == 0 || rate <= 0 {
		return Spectrum{}
	}
	a.mu.Lock()
	if len(samples) != a.size {
		a.resize(len(samples))
	}
	windowed := ApplyWindow(samples, a.window)
	coeffs := a.fft.Coefficients(nil, windowed)
	norm := a.gain * float64(len(samples)) / 2
	freqFn := a.fft.Freq
	a.mu.Unlock()

	out := Spectrum{Freqs: make([]float64, len(coeffs)), DB: make([]float64, len(coeffs))}
	for i, c := range coeffs {
		out.Freqs[i] = freqFn(i) * rate
		mag := cmplx.Abs(c) / norm
		if mag == 0 {
			out.DB[i] = math.Inf(-1)
			continue
		}
		out.DB[i] = 20 * math.Log10(mag)
	}
	return out
}

// PeakFrequency returns the frequency of the strongest non-DC bin.
func (a *Analyzer) PeakFrequency(samples []float64, rate float64) float64 {
	s := a.Spectrum(samples, rate)
	best := -1
	for i := 1; i < len(s.DB); i++ {
		if best < 0 || s.DB[i] > s.DB[best] {
			best = i
		}
	}
	if best < 0 {
		return 0
	}
	return s.Freqs[best]
}

// PeakFrequency is a one-shot helper around Analyzer.
func PeakFrequency(samples []float64, rate float64) float64 {
	return NewAnalyzer(len(samples)).PeakFrequency(samples, rate)
}

// Volts converts raw digitizer codes to volts at the given full-scale
// range, one code being DigitizerLSB of full scale.
func Volts(raw []int16, fullScale float64) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v) * DigitizerLSB * fullScale
	}
	return out
}
