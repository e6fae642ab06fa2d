package nco

import (
	"math"
	"testing"

	"github.com/rjboer/quadlo/internal/config"
	"github.com/rjboer/quadlo/internal/fault"
)

func TestPhaseIncrementBoundaries(t *testing.T) {
	inc, err := PhaseIncrement(0, RefRate)
	if err != nil {
		t.Fatalf("f=0: %v", err)
	}
	if inc.A != 0 || inc.B != 0 {
		t.Fatalf("f=0: expected A=0 B=0, got %+v", inc)
	}

	unit := RefRate * T / S / (1 << AccumulatorBits)
	inc, err = PhaseIncrement(unit, RefRate)
	if err != nil {
		t.Fatalf("K=1: %v", err)
	}
	if inc.A != 1 || inc.B != 0 {
		t.Fatalf("K=1: expected A=1 B=0, got %+v", inc)
	}
}

func TestPhaseIncrementValues(t *testing.T) {
	cases := []struct {
		freq float64
		a, b int32
	}{
		{10e6, 209715, 1953125},
		{70e6, 1468006, 3906250},
		{12.345678e6, 258907, 6182525},
	}
	for _, tc := range cases {
		inc, err := PhaseIncrement(tc.freq, RefRate)
		if err != nil {
			t.Fatalf("%g: %v", tc.freq, err)
		}
		if inc.A != tc.a || inc.B != tc.b {
			t.Fatalf("%g: expected A=%d B=%d, got %+v", tc.freq, tc.a, tc.b, inc)
		}
	}
}

func TestPhaseIncrementRejects(t *testing.T) {
	for _, f := range []float64{-1, RefRate, 2 * RefRate} {
		if _, err := PhaseIncrement(f, RefRate); !fault.Is(err, fault.Configuration) {
			t.Fatalf("%g: expected configuration error, got %v", f, err)
		}
	}
	if _, err := PhaseIncrement(1e6, 0); err == nil {
		t.Fatalf("expected error for zero reference")
	}
}

func TestPhaseIQ(t *testing.T) {
	cases := []struct {
		deg  float64
		i, q int16
	}{
		{0, 32767, 0},
		{90, 0, 32767},
		{180, -32767, 0},
		{-90, 0, -32767},
		{45, 23170, 23170},
	}
	for _, tc := range cases {
		i, q := PhaseIQ(tc.deg)
		if i != tc.i || q != tc.q {
			t.Fatalf("%g deg: expected (%d,%d) got (%d,%d)", tc.deg, tc.i, tc.q, i, q)
		}
	}
}

func TestAccumulatorCumulativeDrift(t *testing.T) {
	const ticks = int64(1e9)
	for _, f := range []float64{10e6, 12.345678e6, 70e6} {
		inc, err := PhaseIncrement(f, RefRate)
		if err != nil {
			t.Fatalf("%g: %v", f, err)
		}
		acc := NewAccumulator(inc)
		acc.Advance(ticks)
		ideal := float64(ticks) * f / RefRate
		if drift := math.Abs(acc.Total() - ideal); drift > 1e-5 {
			t.Fatalf("%g Hz: drift %.3g cycles after %d ticks", f, drift, ticks)
		}

		// Without the fractional register the same run is off by many cycles.
		coarse := NewAccumulator(Increment{A: inc.A})
		coarse.Advance(ticks)
		if drift := math.Abs(coarse.Total() - ideal); drift < 1 {
			t.Fatalf("%g Hz: A-only accumulator should drift, got %.3g cycles", f, drift)
		}
	}
}

func TestAccumulatorChunkedMatchesSingleAdvance(t *testing.T) {
	inc, err := PhaseIncrement(12.345678e6, RefRate)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	whole := NewAccumulator(inc)
	whole.Advance(3_000_000_007)
	stepped := NewAccumulator(inc)
	for i := 0; i < 7; i++ {
		stepped.Advance(1)
	}
	for i := 0; i < 3; i++ {
		stepped.Advance(1_000_000_000)
	}
	if whole.Cycles() != stepped.Cycles() || whole.Phase() != stepped.Phase() {
		t.Fatalf("chunked advance diverged: %d+%g vs %d+%g",
			whole.Cycles(), whole.Phase(), stepped.Cycles(), stepped.Phase())
	}
	whole.Reset()
	if whole.Total() != 0 {
		t.Fatalf("reset should zero phase, got %g", whole.Total())
	}
	if p := stepped.Phase(); p < 0 || p >= 1 {
		t.Fatalf("phase out of range: %g", p)
	}
}

func TestBankRegisters(t *testing.T) {
	bank, err := Encode(config.Oscillator{Channel: 4, Bank: 2, Frequency: 10e6, Phase: 90})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	regs := bank.Registers()
	want := []config.Register{
		{Name: "PC_CH4_Q2", Value: 32767},
		{Name: "PC_CH4_I2", Value: 0},
		{Name: "PC_CH4_PhaseInc2A", Value: 209715},
		{Name: "PC_CH4_PhaseInc2B", Value: 1953125},
	}
	if len(regs) != len(want) {
		t.Fatalf("expected %d registers, got %d", len(want), len(regs))
	}
	for i := range want {
		if regs[i] != want[i] {
			t.Fatalf("register %d: expected %+v got %+v", i, want[i], regs[i])
		}
	}
}

func TestModuleRegistersReportsEveryBadBank(t *testing.T) {
	m := config.Module{Model: config.ModelGenerator, Slot: 2, Oscillators: []config.Oscillator{
		{Channel: 1, Bank: 0, Frequency: 10e6},
		{Channel: 1, Bank: 1, Frequency: 2e9},
		{Channel: 1, Bank: 2, Frequency: 5e6, Reference: 100e6},
		{Channel: 1, Bank: 3, Frequency: 200e6, Reference: 100e6},
	}}
	regs, err := ModuleRegisters(m)
	if !fault.Is(err, fault.Configuration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if len(regs) != 8 {
		t.Fatalf("expected registers for the two valid banks, got %d", len(regs))
	}
	if regs[6].Name != "PC_CH1_PhaseInc2A" || regs[6].Value != 1048576 {
		t.Fatalf("unexpected scaled increment %+v", regs[6])
	}
}
