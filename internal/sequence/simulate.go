package sequence

import (
	"errors"
	"fmt"

	"github.com/rjboer/quadlo/internal/fault"
)

// ErrDesync is reported when engines arrive at different barriers.
var ErrDesync = errors.New("engines desynchronized")

// ErrStepLimit is reported when an engine executes too many operations.
var ErrStepLimit = errors.New("step limit exceeded")

// DefaultStepLimit bounds the operations one engine may execute in a run.
const DefaultStepLimit = 1 << 24

// Fire is one action fired by an engine, at simulated time in nanoseconds.
type Fire struct {
	Engine string
	Action string
	Time   int64
}

// RegisterWrite is a write to an FPGA register.
type RegisterWrite struct {
	Engine   string
	Register string
	Value    int32
	Time     int64
}

// BarrierEvent records one barrier alignment. Skew is the spread of engine
// arrival times before alignment.
type BarrierEvent struct {
	Label string
	Time  int64
	Skew  int64
}

// Trace is the observable outcome of a simulated run.
type Trace struct {
	Fires    []Fire
	Writes   []RegisterWrite
	Barriers []BarrierEvent
	Final    map[string]map[string]int32
	Duration int64
}

// Count returns how many times engine fired action.
func (t *Trace) Count(engine, action string) int {
	n := 0
	for _, f := range t.Fires {
		if f.Engine == engine && f.Action == action {
			n++
		}
	}
	return n
}

// RisingEdges returns the times an FPGA register went from zero to non-zero.
func (t *Trace) RisingEdges(engine, register string) []int64 {
	var (
		out  []int64
		prev int32
	)
	for _, w := range t.Writes {
		if w.Engine != engine || w.Register != register {
			continue
		}
		if prev == 0 && w.Value != 0 {
			out = append(out, w.Time)
		}
		prev = w.Value
	}
	return out
}

// Exit returns the exit barrier event.
func (t *Trace) Exit() (BarrierEvent, bool) {
	for i := len(t.Barriers) - 1; i >= 0; i-- {
		if t.Barriers[i].Label == ExitBarrier {
			return t.Barriers[i], true
		}
	}
	return BarrierEvent{}, false
}

type engineState struct {
	stream *Stream
	pc     int
	clock  int64
	steps  int
	regs   map[string]int32
	fpga   map[string]bool
}

func (e *engineState) value(o Operand) int32 {
	if o.IsRegister() {
		return e.regs[o.Register]
	}
	return o.Literal
}

// Simulate executes the compiled streams in lockstep: each engine runs
// independently until its next barrier, then all engines must be waiting at
// the same barrier, which aligns their clocks. A mismatch is reported as a
// runtime fault wrapping ErrDesync.
func Simulate(c *Compiled, stepLimit int) (*Trace, error) {
	if stepLimit <= 0 {
		stepLimit = DefaultStepLimit
	}
	states := make([]*engineState, 0, len(c.Engines))
	for _, name := range c.Engines {
		s := c.Streams[name]
		st := &engineState{stream: s, regs: make(map[string]int32), fpga: make(map[string]bool)}
		for _, r := range s.Registers {
			st.regs[r.Name] = r.Initial
			st.fpga[r.Name] = r.FPGA
		}
		states = append(states, st)
	}
	tr := &Trace{Final: make(map[string]map[string]int32)}
	if len(states) == 0 {
		return tr, fault.Runtime("simulate", "", errors.New("no engines"))
	}

	for {
		for _, st := range states {
			if err := st.runToBarrier(tr, stepLimit); err != nil {
				return tr, err
			}
		}
		ref := states[0].stream.Ops[states[0].pc]
		var lo, hi int64 = states[0].clock, states[0].clock
		for _, st := range states[1:] {
			op := st.stream.Ops[st.pc]
			if op.Kind != ref.Kind || op.Label != ref.Label {
				return tr, fault.Runtime("simulate", st.stream.Engine,
					fmt.Errorf("%w: at %s, engine %s at %s", ErrDesync, describe(op), states[0].stream.Engine, describe(ref)))
			}
			lo = min(lo, st.clock)
			hi = max(hi, st.clock)
		}
		if ref.Kind == KindHalt {
			tr.Duration = hi
			break
		}
		at := hi + int64(ref.Latency)
		tr.Barriers = append(tr.Barriers, BarrierEvent{Label: ref.Label, Time: at, Skew: hi - lo})
		for _, st := range states {
			st.clock = at
			st.pc++
		}
	}
	for _, st := range states {
		final := make(map[string]int32, len(st.regs))
		for k, v := range st.regs {
			final[k] = v
		}
		tr.Final[st.stream.Engine] = final
	}
	return tr, nil
}

func describe(op Op) string {
	if op.Kind == KindHalt {
		return "halt"
	}
	return "barrier " + op.Label
}

func (e *engineState) runToBarrier(tr *Trace, limit int) error {
	name := e.stream.Engine
	for ; ; e.steps++ {
		if e.steps > limit {
			return fault.Runtime("simulate", name, ErrStepLimit)
		}
		if e.pc < 0 || e.pc >= len(e.stream.Ops) {
			return fault.Runtime("simulate", name, fmt.Errorf("program counter %d out of range", e.pc))
		}
		op := e.stream.Ops[e.pc]
		switch op.Kind {
		case KindBarrier, KindHalt:
			return nil
		case KindBranch:
			if e.regs[op.Cond] <= 0 {
				e.pc = op.Target
			} else {
				e.pc++
			}
		case KindJump:
			e.pc = op.Target
		case KindInstr:
			e.exec(tr, op.Instr)
			e.pc++
		default:
			return fault.Runtime("simulate", name, fmt.Errorf("unknown op kind %d", int(op.Kind)))
		}
	}
}

func (e *engineState) exec(tr *Trace, in Instruction) {
	name := e.stream.Engine
	switch in.Op {
	case OpTrigger:
		for _, a := range in.Actions {
			tr.Fires = append(tr.Fires, Fire{Engine: name, Action: a, Time: e.clock})
		}
	case OpWrite:
		e.regs[in.Dest] = in.Left.Literal
		if e.fpga[in.Dest] {
			tr.Writes = append(tr.Writes, RegisterWrite{Engine: name, Register: in.Dest, Value: in.Left.Literal, Time: e.clock})
		}
	case OpSubtract:
		v := e.value(in.Left) - e.value(in.Right)
		e.regs[in.Dest] = v
		if e.fpga[in.Dest] {
			tr.Writes = append(tr.Writes, RegisterWrite{Engine: name, Register: in.Dest, Value: v, Time: e.clock})
		}
	}
	e.clock += int64(in.Latency)
}
