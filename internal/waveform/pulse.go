// Package waveform synthesizes the shaped pulse buffers the generators play
// back and multiplexes sub-pulse buffers for time-interleaved playback.
package waveform

import (
	"math"

	"github.com/rjboer/quadlo/internal/fault"
)

// Samples is a real-valued buffer together with the time of each sample,
// measured from the start of the pulse window.
type Samples struct {
	Wave     []float64
	Timebase []float64
}

// Pulse builds one Gaussian-shaped rectangular pulse of the given width,
// starting at toa inside a window of length pri sampled at rate. bandwidth
// is the -3 dB bandwidth of the shaping filter.
func Pulse(rate, width, bandwidth, amplitude, pri, toa float64) (Samples, error) {
	switch {
	case rate <= 0:
		return Samples{}, fault.Config("sample_rate", "sample rate must be positive, got %g", rate)
	case width <= 0:
		return Samples{}, fault.Config("width", "width must be positive, got %g", width)
	case bandwidth <= 0:
		return Samples{}, fault.Config("bandwidth", "bandwidth must be positive, got %g", bandwidth)
	case pri <= 0:
		return Samples{}, fault.Config("pri", "pulse repetition interval must be positive, got %g", pri)
	}

	n := int(math.Round(pri * rate))
	// Gaussian filter: sigma_f = B/sqrt(ln 2), sigma_t = 1/(2*pi*sigma_f).
	sigma := math.Sqrt(math.Ln2) / (2 * math.Pi * bandwidth)
	scale := 1 / (sigma * math.Sqrt2)

	out := Samples{Wave: make([]float64, n), Timebase: make([]float64, n)}
	for i := range out.Wave {
		t := float64(i) / rate
		out.Timebase[i] = t
		rise := math.Erf((t - toa) * scale)
		fall := math.Erf((t - toa - width) * scale)
		out.Wave[i] = amplitude * 0.5 * (rise - fall)
	}
	return out, nil
}

// Tone samples cos(2*pi*freq*t + phase) at each time in timebase. A zero
// phase puts the carrier peak at the window origin.
func Tone(freq, phase float64, timebase []float64) []float64 {
	out := make([]float64, len(timebase))
	w := 2 * math.Pi * freq
	for i, t := range timebase {
		out[i] = math.Cos(w*t + phase)
	}
	return out
}
