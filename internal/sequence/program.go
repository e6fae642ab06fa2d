package sequence

import (
	"errors"
	"sync"
)

// ErrAlreadyCompiled is returned when Compile is called more than once.
var ErrAlreadyCompiled = errors.New("sequence: program already compiled")

// RegisterDecl declares a register and its initial value. FPGA registers are
// memory-mapped sandbox registers of the engine's image rather than
// sequencer-local storage.
type RegisterDecl struct {
	Name    string
	Initial int32
	FPGA    bool
}

// EngineDecl declares an engine, the actions it may fire, and its local
// registers.
type EngineDecl struct {
	Name      string
	Actions   []string
	Registers []RegisterDecl
}

// Node is an element of the program tree: a *Block or a *While.
type Node interface {
	nodeName() string
}

// Block is a barrier-aligned group of per-engine instruction sequences.
// Engines without a sequence idle until the next barrier.
type Block struct {
	Name    string
	Latency int
	order   []string
	seqs    map[string][]Instruction
}

// NewBlock starts an empty block. latency is the barrier alignment time in
// nanoseconds.
func NewBlock(name string, latency int) *Block {
	return &Block{Name: name, Latency: latency, seqs: make(map[string][]Instruction)}
}

// On appends instructions to an engine's sequence in the block.
func (b *Block) On(engine string, ins ...Instruction) *Block {
	if b.seqs == nil {
		b.seqs = make(map[string][]Instruction)
	}
	if _, ok := b.seqs[engine]; !ok {
		b.order = append(b.order, engine)
	}
	b.seqs[engine] = append(b.seqs[engine], ins...)
	return b
}

// Sequence returns the instructions an engine executes in the block.
func (b *Block) Sequence(engine string) []Instruction { return b.seqs[engine] }

// Engines lists the engines with a sequence, in the order first added.
func (b *Block) Engines() []string { return append([]string(nil), b.order...) }

func (b *Block) nodeName() string { return b.Name }

// While repeats its body on every engine while the engine-local register
// Cond is greater than zero.
type While struct {
	Name    string
	Latency int
	Cond    string
	Body    []Node
}

// NewWhile builds a synchronized loop.
func NewWhile(name string, latency int, cond string, body ...Node) *While {
	return &While{Name: name, Latency: latency, Cond: cond, Body: body}
}

func (w *While) nodeName() string { return w.Name }

// Program is the declarative form of a sync program. It is built once, then
// compiled once.
type Program struct {
	Name string

	mu       sync.Mutex
	engines  []EngineDecl
	globals  []RegisterDecl
	nodes    []Node
	compiled bool
}

// New creates an empty program.
func New(name string) *Program { return &Program{Name: name} }

// AddEngine declares an engine.
func (p *Program) AddEngine(e EngineDecl) *Program {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engines = append(p.engines, e)
	return p
}

// Global declares a register template replicated into every engine's scope
// at compile time. Each engine then owns an independent copy.
func (p *Program) Global(name string, initial int32) *Program {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.globals = append(p.globals, RegisterDecl{Name: name, Initial: initial})
	return p
}

// Append adds top-level nodes in execution order.
func (p *Program) Append(nodes ...Node) *Program {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes = append(p.nodes, nodes...)
	return p
}

// Engines returns the declared engine names in declaration order.
func (p *Program) Engines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.engines))
	for i, e := range p.engines {
		out[i] = e.Name
	}
	return out
}

// Nodes returns the top-level nodes.
func (p *Program) Nodes() []Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Node(nil), p.nodes...)
}
