package sequence

import (
	"fmt"
	"io"
	"strings"
)

// Listing renders the compiled program as text, one engine after another.
func (c *Compiled) Listing() string {
	var b strings.Builder
	c.WriteListing(&b)
	return b.String()
}

// WriteListing writes the listing to w.
func (c *Compiled) WriteListing(w io.Writer) {
	fmt.Fprintf(w, "program %s\n", c.Name)
	for _, name := range c.Engines {
		s := c.Streams[name]
		fmt.Fprintf(w, "\nengine %s\n", s.Engine)
		if len(s.Actions) > 0 {
			fmt.Fprintf(w, "  actions %s\n", strings.Join(s.Actions, " "))
		}
		for _, r := range s.Registers {
			kind := "reg"
			if r.FPGA {
				kind = "fpga"
			}
			fmt.Fprintf(w, "  %s %s = %d\n", kind, r.Name, r.Initial)
		}
		for pc, op := range s.Ops {
			fmt.Fprintf(w, "  %04d %s\n", pc, op)
		}
	}
}

func (op Op) String() string {
	switch op.Kind {
	case KindInstr:
		s := fmt.Sprintf("%s (%dns)", op.Instr, op.Instr.Latency)
		if op.Instr.Label != "" {
			s += " // " + op.Instr.Label
		}
		return s
	case KindBarrier:
		return fmt.Sprintf("barrier %s +%dns", op.Label, op.Latency)
	case KindBranch:
		return fmt.Sprintf("branch %s<=0 -> %04d", op.Cond, op.Target)
	case KindJump:
		return fmt.Sprintf("jump -> %04d", op.Target)
	case KindHalt:
		return "halt"
	default:
		return fmt.Sprintf("op(%d)", int(op.Kind))
	}
}
