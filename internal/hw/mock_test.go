package hw

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/quadlo/internal/config"
	"github.com/rjboer/quadlo/internal/logging"
	"github.com/rjboer/quadlo/internal/nco"
	"github.com/rjboer/quadlo/internal/queue"
	"github.com/rjboer/quadlo/internal/sequence"
)

func quiet() logging.Logger { return logging.New(logging.Error, logging.Text, io.Discard) }

func openPair(t *testing.T, m *Mock) (*MockEngine, *MockEngine) {
	t.Helper()
	ctx := context.Background()
	g, err := m.Open(ctx, config.ModelGenerator, 2)
	require.NoError(t, err)
	d, err := m.Open(ctx, config.ModelDigitizer, 7)
	require.NoError(t, err)
	return g.(*MockEngine), d.(*MockEngine)
}

func pairProgram(loops int32, reset bool) *sequence.Program {
	gen, dig := EngineName(config.ModelGenerator, 2), EngineName(config.ModelDigitizer, 7)
	p := sequence.New("pair")
	p.Global(config.LoopCounter, loops)
	p.Global(config.GapRegister, 1000)
	decl := sequence.EngineDecl{Name: gen, Actions: []string{TriggerAction(1)}}
	init := sequence.NewBlock("InitializeBlock", 30)
	if reset {
		decl.Registers = []sequence.RegisterDecl{{Name: "HVI_CH1_PhaseReset", FPGA: true}}
		frag, err := sequence.PhaseReset(gen, []string{"HVI_CH1_PhaseReset"}, sequence.Lit(100))
		if err != nil {
			panic(err)
		}
		init.On(gen, frag...)
	}
	p.AddEngine(decl)
	p.AddEngine(sequence.EngineDecl{Name: dig, Actions: []string{TriggerAction(1)}})
	body := sequence.NewBlock("ExecBlock", 260)
	for _, e := range []string{gen, dig} {
		body.On(e,
			sequence.Trigger("trigger all", TriggerAction(1)),
			sequence.Decrement("decrement", config.LoopCounter),
			sequence.Delay("gap", sequence.Reg(config.GapRegister)))
	}
	p.Append(init, sequence.NewWhile("SyncWhile", 70, config.LoopCounter, body))
	return p
}

func TestMockOpenByModel(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	_, err := m.Open(ctx, "M9999A", 3)
	require.Error(t, err)

	g, d := openPair(t, m)
	assert.Equal(t, "M3202A_2", g.Name())
	assert.Equal(t, 7, d.Slot())
	_, err = m.Open(ctx, config.ModelGenerator, 2)
	require.Error(t, err, "a module cannot be opened twice")

	require.NoError(t, g.Close(ctx))
	assert.True(t, g.Closed())
	require.Error(t, g.LoadImage(ctx, "x.k7z"), "closed modules reject calls")
}

func TestMockInjectedFailure(t *testing.T) {
	m := NewMock()
	g, _ := openPair(t, m)
	boom := errors.New("boom")
	m.Fail("wload", g.Name(), boom)
	err := g.LoadWaveform(context.Background(), 1, []float64{0})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"wload id=1 n=1"}, g.Calls())
}

func TestMockRunPlaysQueueAndCaptures(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	g, d := openPair(t, m)

	require.NoError(t, g.LoadWaveform(ctx, 1, []float64{0, 0.5, 0}))
	require.NoError(t, g.LoadWaveform(ctx, 2, []float64{0, -0.5, 0}))
	require.NoError(t, g.QueueWaveform(ctx, 1, 1, queue.Software, 0, 1))
	require.NoError(t, g.QueueWaveform(ctx, 1, 2, queue.Software, 10, 1))
	require.NoError(t, g.ConfigureQueue(ctx, 1, true))
	require.NoError(t, g.Start(ctx, 1))
	require.Error(t, g.QueueWaveform(ctx, 1, 9, queue.Software, 0, 1), "unknown waveform")

	require.NoError(t, d.ConfigureDAQ(ctx, 1, Acquisition{Points: 100, Cycles: 3, Mode: queue.Software}))
	require.NoError(t, d.StartDAQ(ctx, 1))

	r := sequence.NewRunner(pairProgram(5, false), m, quiet())
	require.NoError(t, r.Execute(ctx))

	q := g.Queue(1)
	require.Len(t, q.Plays, 5)
	ids := make([]int, len(q.Plays))
	for i, p := range q.Plays {
		ids[i] = p.WaveformID
	}
	assert.Equal(t, []int{1, 2, 1, 2, 1}, ids, "cyclic queue wraps")
	assert.Less(t, q.Plays[0].Time, q.Plays[1].Time)

	assert.Equal(t, 3, d.DAQ(1).Captured, "captures stop at the configured cycles")
	for i := 0; i < 3; i++ {
		buf, err := d.ReadDAQ(ctx, 1, 100, ReadTimeout)
		require.NoError(t, err)
		assert.Len(t, buf, 100)
	}
	buf, err := d.ReadDAQ(ctx, 1, 100, ReadTimeout)
	require.NoError(t, err)
	assert.Empty(t, buf, "no capture pending")

	tr := m.Trace()
	require.NotNil(t, tr)
	assert.Equal(t, 5, tr.Count(g.Name(), "trigger1"))
	require.NoError(t, r.Release(ctx))
}

func TestMockOneShotQueueExhausts(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	g, _ := openPair(t, m)
	require.NoError(t, g.LoadWaveform(ctx, 1, []float64{0.1}))
	require.NoError(t, g.QueueWaveform(ctx, 1, 1, queue.Software, 0, 1))
	require.NoError(t, g.ConfigureQueue(ctx, 1, false))
	require.NoError(t, g.Start(ctx, 1))

	require.NoError(t, sequence.NewRunner(pairProgram(4, false), m, quiet()).Execute(ctx))
	assert.Len(t, g.Queue(1).Plays, 1)
}

func TestMockQueueHonoursRepeatsAndDelay(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	g, _ := openPair(t, m)
	require.NoError(t, g.LoadWaveform(ctx, 1, []float64{0.1}))
	require.NoError(t, g.LoadWaveform(ctx, 2, []float64{0.2}))
	require.NoError(t, g.QueueWaveform(ctx, 1, 1, queue.Auto, 0, 2))
	require.NoError(t, g.QueueWaveform(ctx, 1, 2, queue.Software, 5, 3))
	require.NoError(t, g.ConfigureQueue(ctx, 1, false))
	require.NoError(t, g.Start(ctx, 1))
	assert.Equal(t, []Play{{WaveformID: 1, Time: 0, Repeat: 1}, {WaveformID: 1, Time: 0, Repeat: 2}}, g.Queue(1).Plays)

	require.NoError(t, sequence.NewRunner(pairProgram(2, false), m, quiet()).Execute(ctx))
	plays := g.Queue(1).Plays
	require.Len(t, plays, 5, "one-shot queue: auto item twice, triggered item three times")
	for i, p := range plays[2:] {
		assert.Equal(t, 2, p.WaveformID)
		assert.Equal(t, i+1, p.Repeat)
		assert.Equal(t, plays[2].Time, p.Time)
	}
	fire := m.Trace().Fires
	var first int64 = -1
	for _, f := range fire {
		if f.Engine == g.Name() && f.Action == TriggerAction(1) {
			first = f.Time
			break
		}
	}
	require.GreaterOrEqual(t, first, int64(0))
	assert.Equal(t, first+50, plays[2].Time, "start delay of 5 ticks is 50 ns")
}

func TestMockWaitSurfacesFailure(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	g, _ := openPair(t, m)
	m.Fail("wait", g.Name(), errors.New("timeout"))
	r := sequence.NewRunner(pairProgram(1, false), m, quiet())
	require.Error(t, r.Execute(ctx))
	assert.Equal(t, sequence.Faulted, r.State())
}

func TestMockPhaseResetZeroesOscillator(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	g, _ := openPair(t, m)
	inc, err := nco.PhaseIncrement(10e6, nco.RefRate)
	require.NoError(t, err)
	bank := nco.Bank{Channel: 1, Index: 0, Inc: inc}
	for _, reg := range bank.Registers() {
		require.NoError(t, g.WriteRegister(ctx, reg.Name, reg.Value))
	}

	require.NoError(t, sequence.NewRunner(pairProgram(1, true), m, quiet()).Execute(ctx))
	tr := m.Trace()
	edges := tr.RisingEdges(g.Name(), "HVI_CH1_PhaseReset")
	require.Len(t, edges, 1)

	// 10 MHz at 1 ns ticks completes a cycle every 100 ticks.
	want := float64((tr.Duration-edges[0])%100) / 100
	assert.InDelta(t, want, g.Phase(1, 0), 1e-6)
	assert.Equal(t, int32(0), g.Registers()["HVI_CH1_PhaseReset"])
}
