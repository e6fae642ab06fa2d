// Package fault classifies errors raised while provisioning and sequencing
// the instrument. Every error carries enough context (engine, channel,
// waveform id, queue item) to attribute it to one piece of hardware.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the failure class of an error.
type Kind int

const (
	// Configuration errors are detected before any hardware interaction.
	Configuration Kind = iota + 1
	// Provisioning errors are single hardware rejections; provisioning continues.
	Provisioning
	// Compilation errors abort the sync program before it is loaded.
	Compilation
	// Execution errors move the sync program to the Faulted state.
	Execution
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Provisioning:
		return "provisioning"
	case Compilation:
		return "compilation"
	case Execution:
		return "runtime"
	default:
		return "unknown"
	}
}

// Error is an attributable failure. Zero-valued context fields are omitted
// from the message.
type Error struct {
	Kind     Kind
	Op       string
	Engine   string
	Channel  int
	Waveform int
	Item     int
	Field    string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	var ctx []string
	if e.Engine != "" {
		ctx = append(ctx, "engine="+e.Engine)
	}
	if e.Channel > 0 {
		ctx = append(ctx, fmt.Sprintf("channel=%d", e.Channel))
	}
	if e.Waveform > 0 {
		ctx = append(ctx, fmt.Sprintf("waveform=%d", e.Waveform))
	}
	if e.Item > 0 {
		ctx = append(ctx, fmt.Sprintf("item=%d", e.Item))
	}
	if e.Field != "" {
		ctx = append(ctx, "field="+e.Field)
	}
	if len(ctx) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(ctx, " "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Config reports an invalid configuration field.
func Config(field string, format string, args ...any) *Error {
	return &Error{Kind: Configuration, Field: field, Err: fmt.Errorf(format, args...)}
}

// Compile reports a sync program lowering failure on an engine.
func Compile(engine string, format string, args ...any) *Error {
	return &Error{Kind: Compilation, Engine: engine, Err: fmt.Errorf(format, args...)}
}

// Provision wraps a hardware rejection during provisioning.
func Provision(op, engine string, channel int, err error) *Error {
	return &Error{Kind: Provisioning, Op: op, Engine: engine, Channel: channel, Err: err}
}

// Runtime wraps a failure while the program is loaded or running.
func Runtime(op, engine string, err error) *Error {
	return &Error{Kind: Execution, Op: op, Engine: engine, Err: err}
}

// Is reports whether any error in err's tree is a fault of the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	if fe, ok := err.(*Error); ok && fe.Kind == kind {
		return true
	}
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range x.Unwrap() {
			if Is(inner, kind) {
				return true
			}
		}
		return false
	default:
		return Is(errors.Unwrap(err), kind)
	}
}

// All flattens joined errors and returns every attributable fault in err's
// tree, outermost first. Errors without a fault are skipped.
func All(err error) []*Error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*Error); ok {
		return []*Error{fe}
	}
	if x, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*Error
		for _, inner := range x.Unwrap() {
			out = append(out, All(inner)...)
		}
		return out
	}
	return All(errors.Unwrap(err))
}
