package waveform

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/rjboer/quadlo/internal/config"
)

// FullScale is the channel output amplitude in volts; descriptor amplitudes
// are expressed against it.
const FullScale = 1.5

// Waveform is a buffer ready to be loaded onto a generator.
type Waveform struct {
	ID         int
	SampleRate float64
	Samples    []float64
	// SubPulses is the number of interleaved sub-pulses (1 when not interleaved).
	SubPulses int
}

// Synthesize renders a descriptor at the module sample rate. A single
// sub-pulse is shaped and mixed with its carrier directly; several
// sub-pulses are shaped at rate/InterleaveFactor and their bare envelopes
// interleaved, the per-slot carrier being supplied by the oscillator banks.
func Synthesize(desc config.PulseDescriptor, rate float64) (Waveform, error) {
	if err := desc.Validate(); err != nil {
		return Waveform{}, err
	}
	if len(desc.Pulses) == 1 {
		wave, err := render(desc.Pulses[0], desc.PRI, rate)
		if err != nil {
			return Waveform{}, fmt.Errorf("waveform %d: %w", desc.ID, err)
		}
		return Waveform{ID: desc.ID, SampleRate: rate, Samples: wave, SubPulses: 1}, nil
	}

	bufs, err := SubPulses(desc, rate)
	if err != nil {
		return Waveform{}, err
	}
	wave, err := Interleave(bufs, InterleaveFactor)
	if err != nil {
		return Waveform{}, fmt.Errorf("waveform %d: %w", desc.ID, err)
	}
	return Waveform{ID: desc.ID, SampleRate: rate, Samples: wave, SubPulses: len(bufs)}, nil
}

// SubPulses renders the envelope of each sub-pulse of desc independently at
// the reduced rate rate/InterleaveFactor. Carriers are not applied; the
// buffers are returned in descriptor order.
func SubPulses(desc config.PulseDescriptor, rate float64) ([][]float64, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	sub := rate / InterleaveFactor
	bufs := make([][]float64, len(desc.Pulses))
	for i, sp := range desc.Pulses {
		s, err := envelope(sp, desc.PRI, sub)
		if err != nil {
			return nil, fmt.Errorf("waveform %d sub-pulse %d: %w", desc.ID, i, err)
		}
		bufs[i] = s.Wave
	}
	return bufs, nil
}

func envelope(sp config.SubPulse, pri, rate float64) (Samples, error) {
	return Pulse(rate, sp.Width, sp.Bandwidth, sp.Amplitude/FullScale, pri, sp.TOA)
}

// render mixes a single sub-pulse with its carrier.
func render(sp config.SubPulse, pri, rate float64) ([]float64, error) {
	s, err := envelope(sp, pri, rate)
	if err != nil {
		return nil, err
	}
	if sp.Carrier == 0 {
		return s.Wave, nil
	}
	carrier := Tone(sp.Carrier, 0, s.Timebase)
	floats.Mul(carrier, s.Wave)
	return carrier, nil
}

// SynthesizeAll renders every descriptor concurrently and returns the
// waveforms in descriptor order. Synthesis is pure, so descriptors are
// independent.
func SynthesizeAll(ctx context.Context, descs []config.PulseDescriptor, rate float64) ([]Waveform, error) {
	out := make([]Waveform, len(descs))
	g, ctx := errgroup.WithContext(ctx)
	for i, d := range descs {
		i, d := i, d
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			w, err := Synthesize(d, rate)
			if err != nil {
				return err
			}
			out[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Peak returns the largest absolute sample value.
func Peak(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	hi := floats.Max(samples)
	lo := floats.Min(samples)
	if -lo > hi {
		return -lo
	}
	return hi
}
