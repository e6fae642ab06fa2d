package waveform

import (
	"github.com/rjboer/quadlo/internal/fault"
)

// InterleaveFactor is the number of sub-channels multiplexed onto one
// physical playback channel.
const InterleaveFactor = 5

// Interleave multiplexes equal-length buffers into one buffer sampled factor
// times faster: out[i*factor+k] = bufs[k][i]. Phase slots with no buffer are
// zero.
func Interleave(bufs [][]float64, factor int) ([]float64, error) {
	if factor <= 0 {
		return nil, fault.Config("interleave", "factor must be positive, got %d", factor)
	}
	if len(bufs) == 0 {
		return nil, fault.Config("interleave", "no buffers to interleave")
	}
	if len(bufs) > factor {
		return nil, fault.Config("interleave", "%d buffers exceed %d phase slots", len(bufs), factor)
	}
	n := len(bufs[0])
	for k, b := range bufs {
		if len(b) != n {
			return nil, fault.Config("interleave", "buffer %d has %d samples, want %d", k, len(b), n)
		}
	}

	out := make([]float64, n*factor)
	for k, b := range bufs {
		for i, v := range b {
			out[i*factor+k] = v
		}
	}
	return out, nil
}

// Deinterleave picks every factor-th sample starting at slot, recovering the
// buffer that was interleaved into that slot.
func Deinterleave(buf []float64, factor, slot int) []float64 {
	if factor <= 0 || slot < 0 || slot >= factor {
		return nil
	}
	out := make([]float64, 0, len(buf)/factor+1)
	for i := slot; i < len(buf); i += factor {
		out = append(out, buf[i])
	}
	return out
}
