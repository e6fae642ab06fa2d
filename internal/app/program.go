package app

import (
	"fmt"

	"github.com/rjboer/quadlo/internal/config"
	"github.com/rjboer/quadlo/internal/hw"
	"github.com/rjboer/quadlo/internal/sequence"
)

// Block and loop names and latencies of the standard program.
const (
	ProgramName      = "QuadLO"
	InitializeBlock  = "InitializeBlock"
	InitializeCycles = 30
	SyncWhile        = "SyncWhile"
	SyncWhileCycles  = 70
	ExecBlock        = "ExecBlock"
	ExecBlockCycles  = 260
)

// resetRegisters returns the phase-reset strobes a generator exposes, in
// configuration order.
func resetRegisters(m config.Module) []string {
	if m.Role() != config.RoleGenerator {
		return nil
	}
	var out []string
	for _, r := range m.FPGA.SyncRegisters {
		var ch int
		if n, _ := fmt.Sscanf(r.Name, "HVI_CH%d_PhaseReset", &ch); n == 1 {
			out = append(out, r.Name)
		}
	}
	return out
}

func triggerActions(channels int) []string {
	out := make([]string, channels)
	for i := range out {
		out[i] = hw.TriggerAction(i + 1)
	}
	return out
}

// BuildProgram assembles the standard sync program: an initialize block
// resetting every generator's oscillator phase, then a loop that on each
// iteration triggers every channel of every engine, decrements the loop
// counter and waits the gap. With the ResetPhase constant set the phase
// reset is repeated inside the loop.
func BuildProgram(cfg config.Config) (*sequence.Program, error) {
	p := sequence.New(ProgramName)
	for _, r := range cfg.Sync.Registers {
		p.Global(r.Name, r.Value)
	}
	resetInLoop := cfg.Sync.Constant(config.ResetPhaseKey) == 1

	init := sequence.NewBlock(InitializeBlock, InitializeCycles)
	body := sequence.NewBlock(ExecBlock, ExecBlockCycles)
	for _, m := range cfg.Modules {
		name := m.EngineName()
		actions := triggerActions(m.Channels)
		decl := sequence.EngineDecl{Name: name, Actions: actions}
		for _, r := range m.FPGA.SyncRegisters {
			decl.Registers = append(decl.Registers, sequence.RegisterDecl{Name: r.Name, Initial: r.Value, FPGA: true})
		}
		p.AddEngine(decl)

		var reset []sequence.Instruction
		if regs := resetRegisters(m); len(regs) > 0 {
			frag, err := sequence.PhaseReset(name, regs, sequence.Reg(config.GapRegister))
			if err != nil {
				return nil, err
			}
			reset = frag
			init.On(name, reset...)
		}

		body.On(name,
			sequence.Trigger("trigger all channels", actions...),
			sequence.Decrement("decrement loop counter", config.LoopCounter),
			sequence.Delay("gap time", sequence.Reg(config.GapRegister)),
		)
		if resetInLoop && len(reset) > 0 {
			body.On(name, reset...)
		}
	}
	p.Append(init, sequence.NewWhile(SyncWhile, SyncWhileCycles, config.LoopCounter, body))
	return p, nil
}
