// Package nco encodes oscillator frequency and phase into the fixed-point
// register values a generator channel's numeric oscillator consumes.
package nco

import (
	"errors"
	"fmt"
	"math"

	"github.com/rjboer/quadlo/internal/config"
	"github.com/rjboer/quadlo/internal/fault"
)

const (
	// S and T are the accumulator architecture ratio S/T.
	S = 5
	T = 8
	// AccumulatorBits is the width of the integer phase increment.
	AccumulatorBits = 25
	// FracBase is the modulus of the fractional accumulator (5^10).
	FracBase = 9765625
	// RefRate is the default oscillator reference rate in Hz.
	RefRate = 1e9
	// PhaseScale is the full-scale value of the I/Q phase registers.
	PhaseScale = 32767
)

// UnitsPerCycle is the number of whole accumulator units in one carrier cycle.
const UnitsPerCycle = (1 << AccumulatorBits) * S / T

// Increment is a phase increment split over the A (integer) and B
// (fractional, in units of 1/FracBase) registers.
type Increment struct {
	A int32
	B int32
}

// Value returns A + B/FracBase.
func (inc Increment) Value() float64 {
	return float64(inc.A) + float64(inc.B)/FracBase
}

// PhaseIncrement converts a frequency f relative to reference rate fs into
// the A/B register pair.
func PhaseIncrement(f, fs float64) (Increment, error) {
	if fs <= 0 {
		return Increment{}, fault.Config("reference", "reference rate must be positive, got %g", fs)
	}
	if f < 0 || f >= fs {
		return Increment{}, fault.Config("frequency", "frequency %g outside [0, %g)", f, fs)
	}
	k := f * S * (1 << AccumulatorBits) / (fs * T)
	a := math.Floor(k)
	b := math.Round((k - a) * FracBase)
	return Increment{A: int32(a), B: int32(b)}, nil
}

// PhaseIQ converts a phase in degrees to the signed 16-bit in-phase and
// quadrature register values.
func PhaseIQ(degrees float64) (i, q int16) {
	rad := degrees * math.Pi / 180
	return int16(math.Round(PhaseScale * math.Cos(rad))), int16(math.Round(PhaseScale * math.Sin(rad)))
}

// Bank holds the four encoded register values of one oscillator bank.
type Bank struct {
	Channel int
	Index   int
	Inc     Increment
	I, Q    int16
}

// Encode resolves a configured oscillator into its register values.
func Encode(osc config.Oscillator) (Bank, error) {
	fs := osc.Reference
	if fs == 0 {
		fs = RefRate
	}
	inc, err := PhaseIncrement(osc.Frequency, fs)
	if err != nil {
		return Bank{}, fmt.Errorf("oscillator ch%d bank %d: %w", osc.Channel, osc.Bank, err)
	}
	i, q := PhaseIQ(osc.Phase)
	return Bank{Channel: osc.Channel, Index: osc.Bank, Inc: inc, I: i, Q: q}, nil
}

// Registers expands the bank into named sandbox registers in the order the
// FPGA image expects them written: Q, I, then the increment pair.
func (b Bank) Registers() []config.Register {
	prefix := fmt.Sprintf("PC_CH%d_", b.Channel)
	return []config.Register{
		{Name: fmt.Sprintf("%sQ%d", prefix, b.Index), Value: int32(b.Q)},
		{Name: fmt.Sprintf("%sI%d", prefix, b.Index), Value: int32(b.I)},
		{Name: fmt.Sprintf("%sPhaseInc%dA", prefix, b.Index), Value: b.Inc.A},
		{Name: fmt.Sprintf("%sPhaseInc%dB", prefix, b.Index), Value: b.Inc.B},
	}
}

// ModuleRegisters encodes every oscillator of a module. Each failure is
// reported; successful banks are still returned.
func ModuleRegisters(m config.Module) ([]config.Register, error) {
	var (
		regs []config.Register
		errs []error
	)
	for _, osc := range m.Oscillators {
		bank, err := Encode(osc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		regs = append(regs, bank.Registers()...)
	}
	if len(errs) > 0 {
		return regs, fmt.Errorf("module %s: %w", m.EngineName(), errors.Join(errs...))
	}
	return regs, nil
}
