package hw

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rjboer/quadlo/internal/config"
	"github.com/rjboer/quadlo/internal/nco"
	"github.com/rjboer/quadlo/internal/queue"
	"github.com/rjboer/quadlo/internal/sequence"
)

// Mock is an in-memory chassis. Modules record every call; once every
// loaded program has been started the programs are executed by the lockstep
// simulator and the fired triggers drive queue playback and acquisition.
type Mock struct {
	mu        sync.Mutex
	engines   map[string]*MockEngine
	programs  map[string]*sequence.Stream
	loadOrder []string
	started   map[string]bool
	trace     *sequence.Trace
	simErr    error
	ran       bool
	failures  map[string]error
	closed    bool
}

var (
	_ Chassis   = (*Mock)(nil)
	_ Generator = (*MockEngine)(nil)
	_ Digitizer = (*MockEngine)(nil)
)

// NewMock returns an empty chassis.
func NewMock() *Mock {
	return &Mock{
		engines:  make(map[string]*MockEngine),
		programs: make(map[string]*sequence.Stream),
		started:  make(map[string]bool),
		failures: make(map[string]error),
	}
}

// Fail makes every later call of op on engine return err. Ops are named
// after the calls: open, image, write, wflush, wload, qflush, queue, qmode,
// output, start, stop, dflush, input, daq, dstart, dstop, read, load, run,
// wait, release, close.
func (m *Mock) Fail(op, engine string, err error) {
	m.mu.Lock()
	m.failures[op+"/"+engine] = err
	m.mu.Unlock()
}

func (m *Mock) failure(op, engine string) error {
	return m.failures[op+"/"+engine]
}

// Engine returns an opened module by name, or nil.
func (m *Mock) Engine(name string) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engines[name]
}

// Trace returns the simulated run, or nil before every program has started.
func (m *Mock) Trace() *sequence.Trace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trace
}

// Open implements Chassis.
func (m *Mock) Open(_ context.Context, model string, slot int) (Engine, error) {
	name := EngineName(model, slot)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("open", name); err != nil {
		return nil, err
	}
	switch model {
	case config.ModelGenerator, config.ModelDigitizer:
	default:
		return nil, fmt.Errorf("no module %s in slot %d", model, slot)
	}
	if e, ok := m.engines[name]; ok && !e.closed {
		return nil, fmt.Errorf("%s already open", name)
	}
	e := &MockEngine{
		m: m, name: name, model: model, slot: slot,
		registers: make(map[string]int32),
		waveforms: make(map[int][]float64),
		queues:    make(map[int]*QueueState),
		output:    make(map[int]float64),
		daqs:      make(map[int]*DAQState),
		incs:      make(map[[2]int]nco.Increment),
		accs:      make(map[[2]int]*nco.Accumulator),
	}
	m.engines[name] = e
	return e, nil
}

// Close implements Chassis.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether the chassis was closed.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// LoadProgram implements sequence.Transport.
func (m *Mock) LoadProgram(_ context.Context, engine string, s *sequence.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("load", engine); err != nil {
		return err
	}
	if _, ok := m.engines[engine]; !ok {
		return fmt.Errorf("engine %s not open", engine)
	}
	if _, ok := m.programs[engine]; !ok {
		m.loadOrder = append(m.loadOrder, engine)
	}
	m.programs[engine] = s
	return nil
}

// Run implements sequence.Transport. The simulation starts when the last
// loaded engine is started.
func (m *Mock) Run(_ context.Context, engine string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("run", engine); err != nil {
		return err
	}
	if _, ok := m.programs[engine]; !ok {
		return fmt.Errorf("no program loaded on %s", engine)
	}
	m.started[engine] = true
	for _, name := range m.loadOrder {
		if !m.started[name] {
			return nil
		}
	}
	m.simulate()
	return nil
}

// Wait implements sequence.Transport.
func (m *Mock) Wait(ctx context.Context, engine string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.failure("wait", engine); err != nil {
		return err
	}
	if !m.ran {
		return errors.New("program not running on every engine")
	}
	return m.simErr
}

// Release implements sequence.Transport.
func (m *Mock) Release(_ context.Context, engine string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("release", engine); err != nil {
		return err
	}
	delete(m.programs, engine)
	delete(m.started, engine)
	kept := m.loadOrder[:0]
	for _, name := range m.loadOrder {
		if name != engine {
			kept = append(kept, name)
		}
	}
	m.loadOrder = kept
	if len(m.loadOrder) == 0 {
		m.ran = false
	}
	return nil
}

func (m *Mock) simulate() {
	c := &sequence.Compiled{Name: "chassis", Streams: make(map[string]*sequence.Stream)}
	for _, name := range m.loadOrder {
		c.Engines = append(c.Engines, name)
		c.Streams[name] = m.programs[name]
	}
	m.trace, m.simErr = sequence.Simulate(c, 0)
	m.ran = true
	if m.trace == nil {
		return
	}

	for _, w := range m.trace.Writes {
		if e := m.engines[w.Engine]; e != nil {
			e.fpgaWrite(w)
		}
	}
	for _, f := range m.trace.Fires {
		e := m.engines[f.Engine]
		if e == nil {
			continue
		}
		var ch int
		if _, err := fmt.Sscanf(f.Action, "trigger%d", &ch); err != nil {
			continue
		}
		e.trigger(ch, f.Time)
	}
	for _, e := range m.engines {
		e.advanceTo(m.trace.Duration)
	}
}

// Play is one waveform started on a channel.
type Play struct {
	WaveformID int
	// Time is the playback start in ns, start delay included.
	Time int64
	// Repeat is the 1-based repetition of the queued item.
	Repeat int
}

// QueuedItem is a waveform queued on a channel.
type QueuedItem struct {
	WaveformID int
	Mode       queue.TriggerMode
	StartTicks int
	Repeats    int
}

// QueueState is the playback queue of one generator channel.
type QueueState struct {
	Items   []QueuedItem
	Cyclic  bool
	Started bool
	Plays   []Play
	cursor  int
}

// play plays the item at the cursor Repeats times back to back and advances
// the cursor. Waveform durations are not modelled, so repetitions share the
// start time.
func (q *QueueState) play(at int64) {
	item := q.Items[q.cursor]
	start := at + int64(item.StartTicks)*int64(queue.TickDuration*1e9)
	for r := 1; r <= max(item.Repeats, 1); r++ {
		q.Plays = append(q.Plays, Play{WaveformID: item.WaveformID, Time: start, Repeat: r})
	}
	q.cursor++
}

// DAQState is the acquisition state of one digitizer channel.
type DAQState struct {
	Acq       Acquisition
	FullScale float64
	Started   bool
	Captured  int
	Read      int
}

// MockEngine is a module of the mock chassis. It implements both Generator
// and Digitizer; which half is used follows the module model.
type MockEngine struct {
	m     *Mock
	name  string
	model string
	slot  int

	image     string
	closed    bool
	calls     []string
	registers map[string]int32
	waveforms map[int][]float64
	queues    map[int]*QueueState
	output    map[int]float64
	daqs      map[int]*DAQState

	incs     map[[2]int]nco.Increment
	accs     map[[2]int]*nco.Accumulator
	oscClock int64
}

var (
	_ Generator = (*MockEngine)(nil)
	_ Digitizer = (*MockEngine)(nil)
)

func (e *MockEngine) Name() string  { return e.name }
func (e *MockEngine) Model() string { return e.model }
func (e *MockEngine) Slot() int     { return e.slot }

// call records a call and returns the injected failure, if any. The caller
// holds the chassis lock.
func (e *MockEngine) call(op, format string, args ...any) error {
	e.calls = append(e.calls, op+" "+fmt.Sprintf(format, args...))
	if e.closed {
		return fmt.Errorf("%s is closed", e.name)
	}
	return e.m.failure(op, e.name)
}

func (e *MockEngine) lock() func() {
	e.m.mu.Lock()
	return e.m.mu.Unlock
}

// Calls returns the recorded calls in order.
func (e *MockEngine) Calls() []string {
	defer e.lock()()
	return append([]string(nil), e.calls...)
}

// Registers returns a copy of the sandbox register file.
func (e *MockEngine) Registers() map[string]int32 {
	defer e.lock()()
	out := make(map[string]int32, len(e.registers))
	for k, v := range e.registers {
		out[k] = v
	}
	return out
}

// Waveforms returns the loaded waveform ids and their lengths.
func (e *MockEngine) Waveforms() map[int]int {
	defer e.lock()()
	out := make(map[int]int, len(e.waveforms))
	for id, w := range e.waveforms {
		out[id] = len(w)
	}
	return out
}

// Queue returns a copy of a channel's queue state.
func (e *MockEngine) Queue(channel int) QueueState {
	defer e.lock()()
	q, ok := e.queues[channel]
	if !ok {
		return QueueState{}
	}
	out := *q
	out.Items = append([]QueuedItem(nil), q.Items...)
	out.Plays = append([]Play(nil), q.Plays...)
	return out
}

// DAQ returns a copy of a channel's acquisition state.
func (e *MockEngine) DAQ(channel int) DAQState {
	defer e.lock()()
	if d, ok := e.daqs[channel]; ok {
		return *d
	}
	return DAQState{}
}

// Image returns the loaded FPGA image path.
func (e *MockEngine) Image() string {
	defer e.lock()()
	return e.image
}

// Closed reports whether the module was closed.
func (e *MockEngine) Closed() bool {
	defer e.lock()()
	return e.closed
}

// Phase returns the oscillator phase of a channel bank in cycles.
func (e *MockEngine) Phase(channel, bank int) float64 {
	defer e.lock()()
	if a, ok := e.accs[[2]int{channel, bank}]; ok {
		return a.Phase()
	}
	return 0
}

func (e *MockEngine) LoadImage(_ context.Context, path string) error {
	defer e.lock()()
	if err := e.call("image", "%s", path); err != nil {
		return err
	}
	e.image = path
	return nil
}

func (e *MockEngine) WriteRegister(_ context.Context, name string, value int32) error {
	defer e.lock()()
	if err := e.call("write", "%s=%d", name, value); err != nil {
		return err
	}
	e.registers[name] = value
	var (
		ch, bank int
		half     rune
	)
	if n, _ := fmt.Sscanf(name, "PC_CH%d_PhaseInc%d%c", &ch, &bank, &half); n == 3 {
		key := [2]int{ch, bank}
		inc := e.incs[key]
		if half == 'A' {
			inc.A = value
		} else {
			inc.B = value
		}
		e.incs[key] = inc
		e.accs[key] = nco.NewAccumulator(inc)
	}
	return nil
}

func (e *MockEngine) Close(_ context.Context) error {
	defer e.lock()()
	if err := e.call("close", ""); err != nil {
		return err
	}
	e.closed = true
	return nil
}

func (e *MockEngine) FlushWaveforms(_ context.Context) error {
	defer e.lock()()
	if err := e.call("wflush", ""); err != nil {
		return err
	}
	e.waveforms = make(map[int][]float64)
	return nil
}

func (e *MockEngine) LoadWaveform(_ context.Context, id int, samples []float64) error {
	defer e.lock()()
	if err := e.call("wload", "id=%d n=%d", id, len(samples)); err != nil {
		return err
	}
	for _, v := range samples {
		if math.Abs(v) > 1 {
			return fmt.Errorf("waveform %d exceeds full scale", id)
		}
	}
	e.waveforms[id] = append([]float64(nil), samples...)
	return nil
}

func (e *MockEngine) FlushQueue(_ context.Context, channel int) error {
	defer e.lock()()
	if err := e.call("qflush", "ch=%d", channel); err != nil {
		return err
	}
	delete(e.queues, channel)
	return nil
}

func (e *MockEngine) queue(channel int) *QueueState {
	q, ok := e.queues[channel]
	if !ok {
		q = &QueueState{}
		e.queues[channel] = q
	}
	return q
}

func (e *MockEngine) QueueWaveform(_ context.Context, channel, id int, mode queue.TriggerMode, ticks, repeats int) error {
	defer e.lock()()
	if err := e.call("queue", "ch=%d id=%d mode=%s ticks=%d repeats=%d", channel, id, mode, ticks, repeats); err != nil {
		return err
	}
	if _, ok := e.waveforms[id]; !ok {
		return fmt.Errorf("waveform %d not loaded", id)
	}
	q := e.queue(channel)
	q.Items = append(q.Items, QueuedItem{WaveformID: id, Mode: mode, StartTicks: ticks, Repeats: repeats})
	return nil
}

func (e *MockEngine) ConfigureQueue(_ context.Context, channel int, cyclic bool) error {
	defer e.lock()()
	if err := e.call("qmode", "ch=%d cyclic=%t", channel, cyclic); err != nil {
		return err
	}
	e.queue(channel).Cyclic = cyclic
	return nil
}

func (e *MockEngine) ConfigureOutput(_ context.Context, channel int, amplitude float64) error {
	defer e.lock()()
	if err := e.call("output", "ch=%d amp=%g", channel, amplitude); err != nil {
		return err
	}
	e.output[channel] = amplitude
	return nil
}

func (e *MockEngine) Start(_ context.Context, channel int) error {
	defer e.lock()()
	if err := e.call("start", "ch=%d", channel); err != nil {
		return err
	}
	q := e.queue(channel)
	q.Started = true
	// Leading auto-triggered items play immediately.
	for q.cursor < len(q.Items) && q.Items[q.cursor].Mode == queue.Auto {
		q.play(0)
	}
	return nil
}

func (e *MockEngine) Stop(_ context.Context, channel int) error {
	defer e.lock()()
	if err := e.call("stop", "ch=%d", channel); err != nil {
		return err
	}
	if q, ok := e.queues[channel]; ok {
		q.Started = false
	}
	return nil
}

func (e *MockEngine) daq(channel int) *DAQState {
	d, ok := e.daqs[channel]
	if !ok {
		d = &DAQState{}
		e.daqs[channel] = d
	}
	return d
}

func (e *MockEngine) FlushDAQ(_ context.Context, channel int) error {
	defer e.lock()()
	if err := e.call("dflush", "ch=%d", channel); err != nil {
		return err
	}
	delete(e.daqs, channel)
	return nil
}

func (e *MockEngine) ConfigureInput(_ context.Context, channel int, fullScale float64) error {
	defer e.lock()()
	if err := e.call("input", "ch=%d fs=%g", channel, fullScale); err != nil {
		return err
	}
	e.daq(channel).FullScale = fullScale
	return nil
}

func (e *MockEngine) ConfigureDAQ(_ context.Context, channel int, acq Acquisition) error {
	defer e.lock()()
	if err := e.call("daq", "ch=%d points=%d cycles=%d delay=%d mode=%s",
		channel, acq.Points, acq.Cycles, acq.TriggerDelay, acq.Mode); err != nil {
		return err
	}
	e.daq(channel).Acq = acq
	return nil
}

func (e *MockEngine) StartDAQ(_ context.Context, channel int) error {
	defer e.lock()()
	if err := e.call("dstart", "ch=%d", channel); err != nil {
		return err
	}
	d := e.daq(channel)
	d.Started = true
	if d.Acq.Mode == queue.Auto {
		d.Captured = d.Acq.Cycles
	}
	return nil
}

func (e *MockEngine) StopDAQ(_ context.Context, channel int) error {
	defer e.lock()()
	if err := e.call("dstop", "ch=%d", channel); err != nil {
		return err
	}
	e.daq(channel).Started = false
	return nil
}

// ReadDAQ returns one captured cycle. Without a pending capture it returns
// an empty slice, as a hardware read does after its timeout expires.
func (e *MockEngine) ReadDAQ(ctx context.Context, channel, n int, _ time.Duration) ([]int16, error) {
	defer e.lock()()
	if err := e.call("read", "ch=%d n=%d", channel, n); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := e.daqs[channel]
	if !ok || d.Read >= d.Captured {
		return []int16{}, nil
	}
	d.Read++
	points := min(n, d.Acq.Points)
	out := make([]int16, points)
	for i := range out {
		out[i] = int16(4096 * math.Sin(2*math.Pi*float64(i)/50))
	}
	return out, nil
}

// trigger applies a fired sync action to channel. The caller holds the
// chassis lock.
func (e *MockEngine) trigger(channel int, at int64) {
	if q, ok := e.queues[channel]; ok && q.Started && len(q.Items) > 0 {
		if q.cursor >= len(q.Items) && q.Cyclic {
			q.cursor = 0
		}
		if q.cursor < len(q.Items) {
			q.play(at)
		}
	}
	if d, ok := e.daqs[channel]; ok && d.Started && d.Acq.Mode == queue.Software && d.Captured < d.Acq.Cycles {
		d.Captured++
	}
}

// fpgaWrite applies a program write to the sandbox registers. A rising
// edge on HVI_CH<n>_PhaseReset zeroes that channel's oscillators.
func (e *MockEngine) fpgaWrite(w sequence.RegisterWrite) {
	prev := e.registers[w.Register]
	e.registers[w.Register] = w.Value
	var ch int
	if n, _ := fmt.Sscanf(w.Register, "HVI_CH%d_PhaseReset", &ch); n != 1 {
		return
	}
	e.advanceTo(w.Time)
	if prev == 0 && w.Value != 0 {
		for key, acc := range e.accs {
			if key[0] == ch {
				acc.Reset()
			}
		}
	}
}

func (e *MockEngine) advanceTo(t int64) {
	if t <= e.oscClock {
		return
	}
	for _, acc := range e.accs {
		acc.Advance(t - e.oscClock)
	}
	e.oscClock = t
}
