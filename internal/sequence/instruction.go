// Package sequence models the synchronized multi-engine control program:
// a closed instruction set, register templates instantiated per engine, a
// block/loop tree built declaratively, and its lowering into per-engine
// instruction streams that stay aligned at barriers.
package sequence

import (
	"fmt"
	"strconv"
	"strings"
)

// Issue latencies in nanoseconds.
const (
	ActionLatency   = 20
	WriteLatency    = 10
	SubtractLatency = 10
)

// Opcode enumerates the instruction set.
type Opcode int

const (
	OpDelay Opcode = iota + 1
	OpTrigger
	OpWrite
	OpSubtract
)

func (o Opcode) String() string {
	switch o {
	case OpDelay:
		return "delay"
	case OpTrigger:
		return "trigger"
	case OpWrite:
		return "write"
	case OpSubtract:
		return "sub"
	default:
		return "op" + strconv.Itoa(int(o))
	}
}

// Operand is either a register reference or a literal.
type Operand struct {
	Register string
	Literal  int32
}

// Reg references a register by name.
func Reg(name string) Operand { return Operand{Register: name} }

// Lit is a literal operand.
func Lit(v int32) Operand { return Operand{Literal: v} }

// IsRegister reports whether the operand names a register.
func (o Operand) IsRegister() bool { return o.Register != "" }

func (o Operand) String() string {
	if o.IsRegister() {
		return o.Register
	}
	return "#" + strconv.FormatInt(int64(o.Literal), 10)
}

// Instruction is one atomic operation on an engine. Latency is the minimum
// issue time in nanoseconds; for Delay it is the delay itself once resolved.
type Instruction struct {
	Op      Opcode
	Label   string
	Dest    string
	Left    Operand
	Right   Operand
	Actions []string
	Latency int
}

// Delay waits for d nanoseconds. A register operand is resolved against the
// engine's initial register values at compile time.
func Delay(label string, d Operand) Instruction {
	return Instruction{Op: OpDelay, Label: label, Left: d}
}

// Trigger fires a set of actions at once.
func Trigger(label string, actions ...string) Instruction {
	return Instruction{Op: OpTrigger, Label: label, Actions: actions, Latency: ActionLatency}
}

// Write stores a literal into a register.
func Write(label, reg string, v int32) Instruction {
	return Instruction{Op: OpWrite, Label: label, Dest: reg, Left: Lit(v), Latency: WriteLatency}
}

// Subtract computes dest = left - right.
func Subtract(label, dest string, left, right Operand) Instruction {
	return Instruction{Op: OpSubtract, Label: label, Dest: dest, Left: left, Right: right, Latency: SubtractLatency}
}

// Decrement subtracts one from a register in place.
func Decrement(label, reg string) Instruction {
	return Subtract(label, reg, Reg(reg), Lit(1))
}

// registers lists every register the instruction reads or writes.
func (in Instruction) registers() []string {
	var out []string
	if in.Dest != "" {
		out = append(out, in.Dest)
	}
	for _, o := range []Operand{in.Left, in.Right} {
		if o.IsRegister() {
			out = append(out, o.Register)
		}
	}
	return out
}

// updates reports whether the instruction writes reg.
func (in Instruction) updates(reg string) bool {
	return (in.Op == OpWrite || in.Op == OpSubtract) && in.Dest == reg
}

func (in Instruction) equal(o Instruction) bool {
	if in.Op != o.Op || in.Dest != o.Dest || in.Left != o.Left || in.Right != o.Right || len(in.Actions) != len(o.Actions) {
		return false
	}
	for i := range in.Actions {
		if in.Actions[i] != o.Actions[i] {
			return false
		}
	}
	return true
}

func (in Instruction) String() string {
	var args string
	switch in.Op {
	case OpDelay:
		args = in.Left.String()
	case OpTrigger:
		args = strings.Join(in.Actions, ",")
	case OpWrite:
		args = fmt.Sprintf("%s, %s", in.Dest, in.Left)
	case OpSubtract:
		args = fmt.Sprintf("%s, %s, %s", in.Dest, in.Left, in.Right)
	}
	return fmt.Sprintf("%s %s", in.Op, args)
}
