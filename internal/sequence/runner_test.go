package sequence

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/quadlo/internal/fault"
	"github.com/rjboer/quadlo/internal/logging"
)

type fakeTransport struct {
	loaded   []string
	ran      []string
	waited   []string
	released []string
	fail     map[string]error
}

func (f *fakeTransport) err(op, engine string) error { return f.fail[op+"/"+engine] }

func (f *fakeTransport) LoadProgram(_ context.Context, engine string, _ *Stream) error {
	if err := f.err("load", engine); err != nil {
		return err
	}
	f.loaded = append(f.loaded, engine)
	return nil
}

func (f *fakeTransport) Run(_ context.Context, engine string) error {
	f.ran = append(f.ran, engine)
	return f.err("run", engine)
}

func (f *fakeTransport) Wait(_ context.Context, engine string) error {
	f.waited = append(f.waited, engine)
	return f.err("wait", engine)
}

func (f *fakeTransport) Release(_ context.Context, engine string) error {
	f.released = append(f.released, engine)
	return f.err("release", engine)
}

func quiet() logging.Logger { return logging.New(logging.Error, logging.Text, io.Discard) }

func TestRunnerExecuteStopsClean(t *testing.T) {
	tr := &fakeTransport{}
	r := NewRunner(goldenProgram(), tr, quiet())
	var seen []State
	r.Observe(func(_, to State, _ error) { seen = append(seen, to) })

	require.NoError(t, r.Execute(context.Background()))
	assert.Equal(t, StoppedClean, r.State())
	assert.Equal(t, []State{Lowered, Loaded, Running, StoppedClean}, seen)
	assert.Equal(t, []string{gen, dig}, tr.loaded)
	assert.Equal(t, []string{gen, dig}, tr.ran)
	assert.Equal(t, []string{gen, dig}, tr.waited)
	assert.True(t, r.State().Terminal())

	require.NoError(t, r.Release(context.Background()))
	require.NoError(t, r.Release(context.Background()))
	assert.Equal(t, []string{gen, dig}, tr.released, "release runs once")
}

func TestRunnerCompileFailureFaults(t *testing.T) {
	p := New("bad")
	p.AddEngine(EngineDecl{Name: gen})
	p.Append(NewBlock("B", 10).On(gen, Write("w", "Missing", 1)))
	tr := &fakeTransport{}
	r := NewRunner(p, tr, quiet())

	err := r.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Compilation))
	assert.Equal(t, Faulted, r.State())
	assert.Empty(t, tr.loaded, "nothing is loaded when compilation fails")
	require.NoError(t, r.Release(context.Background()))
	assert.Empty(t, tr.released)
}

func TestRunnerLoadFailureReleasesEveryEngine(t *testing.T) {
	tr := &fakeTransport{fail: map[string]error{
		"load/" + dig:    errors.New("no such engine"),
		"release/" + gen: errors.New("busy"),
	}}
	r := NewRunner(goldenProgram(), tr, quiet())

	err := r.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Execution))
	assert.Equal(t, Faulted, r.State())
	assert.Equal(t, err, r.Err())

	relErr := r.Release(context.Background())
	require.Error(t, relErr)
	assert.Equal(t, []string{gen, dig}, tr.released, "release attempted on every engine")
	var fe *fault.Error
	require.True(t, errors.As(relErr, &fe))
	assert.Equal(t, gen, fe.Engine)
}

func TestRunnerWaitFailureFaults(t *testing.T) {
	tr := &fakeTransport{fail: map[string]error{"wait/" + gen: errors.New("timeout")}}
	r := NewRunner(goldenProgram(), tr, quiet())
	err := r.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, Faulted, r.State())
	assert.Equal(t, []string{gen, dig}, tr.waited, "every engine is waited on")
}

func TestRunnerRejectsOutOfOrderSteps(t *testing.T) {
	r := NewRunner(goldenProgram(), &fakeTransport{}, quiet())
	require.ErrorIs(t, r.Load(context.Background()), ErrInvalidState)
	require.ErrorIs(t, r.Run(context.Background()), ErrInvalidState)
	_, err := r.Compile()
	require.NoError(t, err)
	_, err = r.Compile()
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, Lowered, r.State())
}

func TestRunnerFaultAfterStop(t *testing.T) {
	r := NewRunner(goldenProgram(), &fakeTransport{}, quiet())
	require.NoError(t, r.Execute(context.Background()))
	capture := fault.Runtime("capture", dig, errors.New("short read"))
	r.Fault(capture)
	assert.Equal(t, Faulted, r.State())
	assert.Equal(t, capture, r.Err())
	r.Fault(errors.New("second"))
	assert.Equal(t, capture, r.Err())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "stopped", StoppedClean.String())
	assert.Equal(t, "faulted", Faulted.String())
	assert.False(t, Running.Terminal())
}

func TestStateNames(t *testing.T) {
	names := map[State]string{
		Defined: "defined", Lowered: "compiled", Loaded: "loaded",
		Running: "running", StoppedClean: "stopped", Faulted: "faulted",
	}
	for s, want := range names {
		assert.Equal(t, want, s.String())
	}
	assert.True(t, Faulted.Terminal())
	assert.False(t, Lowered.Terminal())
}
