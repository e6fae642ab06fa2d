package sequence

import (
	"github.com/rjboer/quadlo/internal/fault"
)

// MaxResetBanks is the number of phase-reset registers one engine exposes.
const MaxResetBanks = 2

// PhaseReset returns the oscillator phase-reset fragment for one engine:
// each reset register is pre-cleared, asserted and released, banks stepping
// together, followed by a settle delay. Every register ends at zero, so
// running the fragment again leaves the oscillators in the same state.
func PhaseReset(engine string, registers []string, settle Operand) ([]Instruction, error) {
	if len(registers) == 0 || len(registers) > MaxResetBanks {
		return nil, fault.Compile(engine, "phase reset needs 1 to %d registers, got %d", MaxResetBanks, len(registers))
	}
	steps := []struct {
		label string
		value int32
	}{
		{"pre-clear", 0},
		{"assert", 1},
		{"release", 0},
	}
	var out []Instruction
	for _, st := range steps {
		for _, r := range registers {
			out = append(out, Write(r+" "+st.label, r, st.value))
		}
	}
	return append(out, Delay("settle", settle)), nil
}
