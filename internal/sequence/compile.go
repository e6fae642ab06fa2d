package sequence

import (
	"errors"
	"fmt"

	"github.com/rjboer/quadlo/internal/fault"
)

// OpKind distinguishes the entries of a compiled stream.
type OpKind int

const (
	KindInstr OpKind = iota + 1
	KindBarrier
	KindBranch
	KindJump
	KindHalt
)

// ExitBarrier labels the final barrier every stream reaches before halting.
const ExitBarrier = "exit"

// Op is one entry of a compiled per-engine stream. Barriers carry the block
// name and alignment latency; branches jump to Target when Cond <= 0.
type Op struct {
	Kind    OpKind
	Instr   Instruction
	Label   string
	Latency int
	Cond    string
	Target  int
}

// Stream is the program one engine executes, with its instantiated register
// copies.
type Stream struct {
	Engine    string
	Actions   []string
	Registers []RegisterDecl
	Ops       []Op
}

// Register looks up the engine's copy of a register.
func (s *Stream) Register(name string) (RegisterDecl, bool) {
	for _, r := range s.Registers {
		if r.Name == name {
			return r, true
		}
	}
	return RegisterDecl{}, false
}

// Barriers returns the barrier labels in stream order.
func (s *Stream) Barriers() []string {
	var out []string
	for _, op := range s.Ops {
		if op.Kind == KindBarrier {
			out = append(out, op.Label)
		}
	}
	return out
}

// Compiled holds one stream per engine, in declaration order.
type Compiled struct {
	Name    string
	Engines []string
	Streams map[string]*Stream
}

// Stream returns an engine's stream, or nil.
func (c *Compiled) Stream(engine string) *Stream { return c.Streams[engine] }

type scope struct {
	name    string
	regs    map[string]RegisterDecl
	order   []RegisterDecl
	actions map[string]bool
}

type compiler struct {
	engines []*scope
	byName  map[string]*scope
	errs    []error
}

func (c *compiler) fail(engine, format string, args ...any) {
	c.errs = append(c.errs, fault.Compile(engine, format, args...))
}

// Compile validates the program and lowers it into per-engine streams. It
// may be called once; the whole program is rejected on any error.
func (p *Program) Compile() (*Compiled, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.compiled {
		return nil, ErrAlreadyCompiled
	}
	p.compiled = true

	c := &compiler{byName: make(map[string]*scope)}
	c.declare(p.engines, p.globals)
	if len(c.errs) > 0 {
		return nil, errors.Join(c.errs...)
	}
	for _, n := range p.nodes {
		c.check(n)
	}
	if len(c.errs) > 0 {
		return nil, errors.Join(c.errs...)
	}

	out := &Compiled{Name: p.Name, Streams: make(map[string]*Stream, len(c.engines))}
	for _, sc := range c.engines {
		s := &Stream{Engine: sc.name, Registers: append([]RegisterDecl(nil), sc.order...)}
		for _, e := range p.engines {
			if e.Name == sc.name {
				s.Actions = append([]string(nil), e.Actions...)
			}
		}
		for _, n := range p.nodes {
			lower(s, sc, n)
		}
		s.Ops = append(s.Ops, Op{Kind: KindBarrier, Label: ExitBarrier}, Op{Kind: KindHalt})
		out.Engines = append(out.Engines, sc.name)
		out.Streams[sc.name] = s
	}
	return out, nil
}

func (c *compiler) declare(engines []EngineDecl, globals []RegisterDecl) {
	if len(engines) == 0 {
		c.fail("", "no engines declared")
		return
	}
	seenGlobal := make(map[string]bool)
	for _, g := range globals {
		if seenGlobal[g.Name] {
			c.fail("", "global register %q declared twice", g.Name)
		}
		seenGlobal[g.Name] = true
	}
	for _, e := range engines {
		if e.Name == "" {
			c.fail("", "engine without a name")
			continue
		}
		if _, dup := c.byName[e.Name]; dup {
			c.fail(e.Name, "engine declared twice")
			continue
		}
		sc := &scope{name: e.Name, regs: make(map[string]RegisterDecl), actions: make(map[string]bool)}
		for _, g := range globals {
			sc.regs[g.Name] = g
			sc.order = append(sc.order, g)
		}
		for _, r := range e.Registers {
			if _, dup := sc.regs[r.Name]; dup {
				c.fail(e.Name, "register %q declared twice in scope", r.Name)
				continue
			}
			sc.regs[r.Name] = r
			sc.order = append(sc.order, r)
		}
		for _, a := range e.Actions {
			sc.actions[a] = true
		}
		c.engines = append(c.engines, sc)
		c.byName[e.Name] = sc
	}
}

func (c *compiler) check(n Node) {
	switch n := n.(type) {
	case *Block:
		for _, name := range n.order {
			sc, ok := c.byName[name]
			if !ok {
				c.fail(name, "block %q references undeclared engine", n.Name)
				continue
			}
			for _, in := range n.seqs[name] {
				c.checkInstr(sc, n.Name, in)
			}
		}
	case *While:
		c.checkWhile(n)
		for _, b := range n.Body {
			c.check(b)
		}
	default:
		c.fail("", "unsupported node %T", n)
	}
}

func (c *compiler) checkInstr(sc *scope, block string, in Instruction) {
	for _, r := range in.registers() {
		if _, ok := sc.regs[r]; !ok {
			c.fail(sc.name, "block %q: %s references undeclared register %q", block, in.Op, r)
		}
	}
	switch in.Op {
	case OpTrigger:
		if len(in.Actions) == 0 {
			c.fail(sc.name, "block %q: trigger without actions", block)
		}
		for _, a := range in.Actions {
			if !sc.actions[a] {
				c.fail(sc.name, "block %q: undeclared action %q", block, a)
			}
		}
	case OpDelay:
		if d, ok := resolve(sc, in.Left); ok && d < 0 {
			c.fail(sc.name, "block %q: negative delay %d", block, d)
		}
	case OpWrite, OpSubtract:
		if in.Dest == "" {
			c.fail(sc.name, "block %q: %s without destination", block, in.Op)
		}
	default:
		c.fail(sc.name, "block %q: unknown opcode %d", block, int(in.Op))
	}
}

func (c *compiler) checkWhile(w *While) {
	if w.Cond == "" {
		c.fail("", "loop %q has no condition register", w.Name)
		return
	}
	var (
		first    *scope
		initial  int32
		template []Instruction
	)
	for _, sc := range c.engines {
		reg, ok := sc.regs[w.Cond]
		if !ok {
			c.fail(sc.name, "loop %q: condition register %q missing from scope", w.Name, w.Cond)
			continue
		}
		updates := condUpdates(w.Body, sc.name, w.Cond)
		if len(updates) == 0 {
			c.fail(sc.name, "loop %q: body never updates condition register %q", w.Name, w.Cond)
			continue
		}
		for _, u := range updates {
			for _, r := range u.registers() {
				if r != w.Cond {
					c.fail(sc.name, "loop %q: condition update reads %q, only literals and %q are allowed", w.Name, r, w.Cond)
				}
			}
		}
		if first == nil {
			first, initial, template = sc, reg.Initial, updates
			continue
		}
		if reg.Initial != initial {
			c.fail(sc.name, "loop %q: condition register %q starts at %d, engine %s starts at %d",
				w.Name, w.Cond, reg.Initial, first.name, initial)
		}
		if !sameInstrs(updates, template) {
			c.fail(sc.name, "loop %q: condition register %q updated differently than on engine %s",
				w.Name, w.Cond, first.name)
		}
	}
}

func condUpdates(nodes []Node, engine, reg string) []Instruction {
	var out []Instruction
	for _, n := range nodes {
		switch n := n.(type) {
		case *Block:
			for _, in := range n.seqs[engine] {
				if in.updates(reg) {
					out = append(out, in)
				}
			}
		case *While:
			out = append(out, condUpdates(n.Body, engine, reg)...)
		}
	}
	return out
}

func sameInstrs(a, b []Instruction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].equal(b[i]) {
			return false
		}
	}
	return true
}

func resolve(sc *scope, o Operand) (int32, bool) {
	if !o.IsRegister() {
		return o.Literal, true
	}
	r, ok := sc.regs[o.Register]
	return r.Initial, ok
}

func lower(s *Stream, sc *scope, n Node) {
	switch n := n.(type) {
	case *Block:
		s.Ops = append(s.Ops, Op{Kind: KindBarrier, Label: n.Name, Latency: n.Latency})
		for _, in := range n.seqs[sc.name] {
			if in.Op == OpDelay {
				d, _ := resolve(sc, in.Left)
				in.Latency = int(d)
			}
			s.Ops = append(s.Ops, Op{Kind: KindInstr, Instr: in})
		}
	case *While:
		head := len(s.Ops)
		s.Ops = append(s.Ops, Op{Kind: KindBarrier, Label: n.Name, Latency: n.Latency})
		branch := len(s.Ops)
		s.Ops = append(s.Ops, Op{Kind: KindBranch, Cond: n.Cond})
		for _, b := range n.Body {
			lower(s, sc, b)
		}
		s.Ops = append(s.Ops, Op{Kind: KindJump, Target: head})
		s.Ops[branch].Target = len(s.Ops)
	default:
		panic(fmt.Sprintf("sequence: unchecked node %T", n))
	}
}
