package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rjboer/quadlo/internal/fault"
	"github.com/rjboer/quadlo/internal/logging"
)

// State is the lifecycle state of a sync program.
type State int

const (
	Defined State = iota
	// Lowered programs have been compiled into per-engine streams.
	Lowered
	Loaded
	Running
	StoppedClean
	Faulted
)

func (s State) String() string {
	switch s {
	case Defined:
		return "defined"
	case Lowered:
		return "compiled"
	case Loaded:
		return "loaded"
	case Running:
		return "running"
	case StoppedClean:
		return "stopped"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible except release.
func (s State) Terminal() bool { return s == StoppedClean || s == Faulted }

// ErrInvalidState is returned when a step is requested out of order.
var ErrInvalidState = errors.New("sequence: invalid state transition")

// Transport executes compiled streams on the engines.
type Transport interface {
	LoadProgram(ctx context.Context, engine string, s *Stream) error
	Run(ctx context.Context, engine string) error
	Wait(ctx context.Context, engine string) error
	Release(ctx context.Context, engine string) error
}

// Runner drives a program through its lifecycle on a transport.
type Runner struct {
	prog *Program
	tr   Transport
	log  logging.Logger

	mu       sync.Mutex
	state    State
	compiled *Compiled
	err      error
	released bool
	observe  []func(from, to State, err error)
}

// NewRunner prepares a runner in the Defined state.
func NewRunner(p *Program, tr Transport, log logging.Logger) *Runner {
	if log == nil {
		log = logging.Default()
	}
	return &Runner{prog: p, tr: tr, log: log.With(logging.Field{Key: "program", Value: p.Name})}
}

// Observe registers a callback invoked after every state transition.
func (r *Runner) Observe(fn func(from, to State, err error)) {
	r.mu.Lock()
	r.observe = append(r.observe, fn)
	r.mu.Unlock()
}

// State returns the current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the error that faulted the program, if any.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Program returns the compiled program, or nil before compilation.
func (r *Runner) Program() *Compiled {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.compiled
}

func (r *Runner) transition(to State, err error) {
	r.mu.Lock()
	from := r.state
	r.state = to
	if err != nil && r.err == nil {
		r.err = err
	}
	obs := append([]func(State, State, error){}, r.observe...)
	r.mu.Unlock()

	if to == Faulted {
		r.log.Error("program faulted", logging.Field{Key: "from", Value: from.String()}, logging.Err(err))
	} else {
		r.log.Info("program state", logging.Field{Key: "from", Value: from.String()}, logging.Field{Key: "to", Value: to.String()})
	}
	for _, fn := range obs {
		fn(from, to, err)
	}
}

func (r *Runner) expect(s State) error {
	if cur := r.State(); cur != s {
		return fmt.Errorf("%w: %s, want %s", ErrInvalidState, cur, s)
	}
	return nil
}

// Compile lowers the program. A compilation error faults the program.
func (r *Runner) Compile() (*Compiled, error) {
	if err := r.expect(Defined); err != nil {
		return nil, err
	}
	c, err := r.prog.Compile()
	if err != nil {
		r.transition(Faulted, err)
		return nil, err
	}
	r.mu.Lock()
	r.compiled = c
	r.mu.Unlock()
	r.transition(Lowered, nil)
	return c, nil
}

// Load transfers every stream to its engine. The whole program is compiled
// before any part of it is loaded.
func (r *Runner) Load(ctx context.Context) error {
	if err := r.expect(Lowered); err != nil {
		return err
	}
	c := r.Program()
	for _, name := range c.Engines {
		if err := r.tr.LoadProgram(ctx, name, c.Streams[name]); err != nil {
			err = fault.Runtime("load", name, err)
			r.transition(Faulted, err)
			return err
		}
	}
	r.transition(Loaded, nil)
	return nil
}

// Run starts every engine and waits for all of them to halt.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.expect(Loaded); err != nil {
		return err
	}
	c := r.Program()
	r.transition(Running, nil)
	for _, name := range c.Engines {
		if err := r.tr.Run(ctx, name); err != nil {
			err = fault.Runtime("run", name, err)
			r.transition(Faulted, err)
			return err
		}
	}
	var errs []error
	for _, name := range c.Engines {
		if err := r.tr.Wait(ctx, name); err != nil {
			errs = append(errs, fault.Runtime("wait", name, err))
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		r.transition(Faulted, err)
		return err
	}
	r.transition(StoppedClean, nil)
	return nil
}

// Execute compiles, loads and runs the program.
func (r *Runner) Execute(ctx context.Context) error {
	if _, err := r.Compile(); err != nil {
		return err
	}
	if err := r.Load(ctx); err != nil {
		return err
	}
	return r.Run(ctx)
}

// Fault moves the program to Faulted, e.g. when a capture after the run
// times out.
func (r *Runner) Fault(err error) {
	if r.State() == Faulted {
		return
	}
	r.transition(Faulted, err)
}

// Release frees the program on every engine of the compiled program,
// whichever state it reached. Release is attempted on all engines even if
// some fail; errors are joined. Later calls are no-ops.
func (r *Runner) Release(ctx context.Context) error {
	r.mu.Lock()
	var engines []string
	if r.compiled != nil && !r.released {
		engines = r.compiled.Engines
		r.released = true
	}
	r.mu.Unlock()

	var errs []error
	for _, name := range engines {
		if err := r.tr.Release(ctx, name); err != nil {
			r.log.Warn("release failed", logging.Engine(name), logging.Err(err))
			errs = append(errs, fault.Runtime("release", name, err))
		}
	}
	return errors.Join(errs...)
}
