// Package app runs the instrument end to end: it provisions every module of
// a configuration on a chassis, executes the sync program, reads the
// digitizer captures and tears the chassis back down.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rjboer/quadlo/internal/config"
	"github.com/rjboer/quadlo/internal/dsp"
	"github.com/rjboer/quadlo/internal/fault"
	"github.com/rjboer/quadlo/internal/hw"
	"github.com/rjboer/quadlo/internal/logging"
	"github.com/rjboer/quadlo/internal/nco"
	"github.com/rjboer/quadlo/internal/queue"
	"github.com/rjboer/quadlo/internal/sequence"
	"github.com/rjboer/quadlo/internal/telemetry"
	"github.com/rjboer/quadlo/internal/waveform"
)

// Options configures an Instrument.
type Options struct {
	Logger   logging.Logger
	Reporter telemetry.Reporter
	// RunID tags every reported event.
	RunID string
}

type module struct {
	cfg    config.Module
	engine hw.Engine
	image  bool
}

// Instrument drives one run of a configuration on a chassis.
type Instrument struct {
	cfg     config.Config
	chassis hw.Chassis
	log     logging.Logger
	rep     telemetry.Reporter
	runID   string

	mu       sync.Mutex
	modules  []*module
	faults   []error
	queues   []queue.Report
	runner   *sequence.Runner
	captures []Capture
}

// New prepares an instrument. The configuration is assumed validated.
func New(cfg config.Config, chassis hw.Chassis, opts Options) *Instrument {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Reporter == nil {
		opts.Reporter = telemetry.MultiReporter{}
	}
	return &Instrument{
		cfg:     cfg,
		chassis: chassis,
		log:     opts.Logger.With(logging.Run(opts.RunID)),
		rep:     opts.Reporter,
		runID:   opts.RunID,
	}
}

func (in *Instrument) report(e telemetry.Event) {
	e.Run = in.runID
	in.rep.Report(e)
}

// fail records a provisioning fault. Provisioning carries on.
func (in *Instrument) fail(err error) {
	in.mu.Lock()
	in.faults = append(in.faults, err)
	in.mu.Unlock()
	msg := err.Error()
	var fe *fault.Error
	e := telemetry.Event{Kind: telemetry.KindFault, Message: msg}
	if errors.As(err, &fe) {
		e.Engine, e.Channel = fe.Engine, fe.Channel
	}
	in.report(e)
}

// Faults returns every provisioning fault collected so far.
func (in *Instrument) Faults() []error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]error(nil), in.faults...)
}

// Degraded reports whether any provisioning step was rejected.
func (in *Instrument) Degraded() bool { return len(in.Faults()) > 0 }

// QueueReports returns the playback registrations per generator.
func (in *Instrument) QueueReports() []queue.Report {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]queue.Report(nil), in.queues...)
}

// Provision opens and configures every module. Hardware rejections are
// collected as provisioning faults and do not stop provisioning; only
// configuration errors (e.g. waveforms that cannot be synthesized) and
// cancellation are returned.
func (in *Instrument) Provision(ctx context.Context) error {
	for _, mc := range in.cfg.Modules {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := mc.EngineName()
		eng, err := in.chassis.Open(ctx, mc.Model, mc.Slot)
		if err != nil {
			in.fail(fault.Provision("open", name, 0, err))
			continue
		}
		m := &module{cfg: mc, engine: eng}
		in.mu.Lock()
		in.modules = append(in.modules, m)
		in.mu.Unlock()
		in.log.Info("module opened", logging.Engine(name), logging.Field{Key: "role", Value: mc.Role().String()})

		in.provisionCommon(ctx, m)
		switch mc.Role() {
		case config.RoleGenerator:
			gen, ok := eng.(hw.Generator)
			if !ok {
				in.fail(fault.Provision("open", name, 0, fmt.Errorf("%s is not a generator", name)))
				continue
			}
			if err := in.provisionGenerator(ctx, m, gen); err != nil {
				return err
			}
		case config.RoleDigitizer:
			dig, ok := eng.(hw.Digitizer)
			if !ok {
				in.fail(fault.Provision("open", name, 0, fmt.Errorf("%s is not a digitizer", name)))
				continue
			}
			in.provisionDigitizer(ctx, m, dig)
		}
		in.report(telemetry.Event{Kind: telemetry.KindProvision, Engine: name, Message: "module provisioned"})
	}
	if in.Degraded() {
		in.log.Warn("provisioning degraded", logging.Field{Key: "faults", Value: len(in.Faults())})
	}
	return nil
}

// provisionCommon loads the sandbox image and writes the host registers,
// including the oscillator bank expansions.
func (in *Instrument) provisionCommon(ctx context.Context, m *module) {
	name := m.cfg.EngineName()
	if m.cfg.FPGA.HasImage() {
		if err := m.engine.LoadImage(ctx, m.cfg.FPGA.ImageFile); err != nil {
			in.fail(fault.Provision("image", name, 0, err))
		} else {
			m.image = true
			in.log.Info("sandbox image loaded", logging.Engine(name), logging.Field{Key: "image", Value: m.cfg.FPGA.ImageFile})
		}
	}
	regs := append([]config.Register(nil), m.cfg.FPGA.PCRegisters...)
	oscRegs, err := nco.ModuleRegisters(m.cfg)
	if err != nil {
		in.fail(err)
	}
	regs = append(regs, oscRegs...)
	for _, r := range regs {
		if err := m.engine.WriteRegister(ctx, r.Name, r.Value); err != nil {
			fe := fault.Provision("register", name, 0, fmt.Errorf("%s: %w", r.Name, err))
			in.fail(fe)
			continue
		}
		in.log.Debug("register written", logging.Engine(name),
			logging.Field{Key: "register", Value: r.Name}, logging.Field{Key: "value", Value: r.Value})
	}
}

func (in *Instrument) provisionGenerator(ctx context.Context, m *module, gen hw.Generator) error {
	name := m.cfg.EngineName()
	waves, err := waveform.SynthesizeAll(ctx, m.cfg.Pulses, m.cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("synthesize waveforms for %s: %w", name, err)
	}

	if err := gen.FlushWaveforms(ctx); err != nil {
		in.fail(fault.Provision("flush-waveforms", name, 0, err))
	}
	for ch := 1; ch <= m.cfg.Channels; ch++ {
		if err := gen.FlushQueue(ctx, ch); err != nil {
			in.fail(fault.Provision("flush-queue", name, ch, err))
		}
		if err := gen.ConfigureOutput(ctx, ch, hw.OutputAmplitude); err != nil {
			in.fail(fault.Provision("output", name, ch, err))
		}
	}
	for _, w := range waves {
		if err := gen.LoadWaveform(ctx, w.ID, w.Samples); err != nil {
			fe := fault.Provision("load-waveform", name, 0, err)
			fe.Waveform = w.ID
			in.fail(fe)
			continue
		}
		in.log.Info("waveform loaded", logging.Engine(name), logging.Waveform(w.ID),
			logging.Field{Key: "samples", Value: len(w.Samples)}, logging.Field{Key: "sub_pulses", Value: w.SubPulses})
	}

	rep := queue.Provision(ctx, name, gen, m.cfg.Queues, in.log)
	in.mu.Lock()
	in.queues = append(in.queues, rep)
	in.mu.Unlock()
	for _, err := range rep.Errors {
		in.fail(err)
	}
	return nil
}

// Acquisition derives the digitizer settings of a capture.
func Acquisition(d config.DAQ, rate float64) hw.Acquisition {
	mode := queue.Auto
	if d.Trigger {
		mode = queue.Software
	}
	return hw.Acquisition{
		Points:       int(math.Round(d.CaptureTime * rate)),
		Cycles:       d.CaptureCount,
		TriggerDelay: int(math.Round(d.TriggerDelay * rate)),
		Mode:         mode,
	}
}

func (in *Instrument) provisionDigitizer(ctx context.Context, m *module, dig hw.Digitizer) {
	name := m.cfg.EngineName()
	for ch := 1; ch <= m.cfg.Channels; ch++ {
		if err := dig.FlushDAQ(ctx, ch); err != nil {
			in.fail(fault.Provision("flush-daq", name, ch, err))
		}
		if err := dig.ConfigureInput(ctx, ch, hw.InputFullScale); err != nil {
			in.fail(fault.Provision("input", name, ch, err))
		}
	}
	for _, d := range m.cfg.DAQs {
		acq := Acquisition(d, m.cfg.SampleRate)
		if err := dig.ConfigureDAQ(ctx, d.Channel, acq); err != nil {
			in.fail(fault.Provision("daq", name, d.Channel, err))
			continue
		}
		if err := dig.StartDAQ(ctx, d.Channel); err != nil {
			in.fail(fault.Provision("start-daq", name, d.Channel, err))
			continue
		}
		in.log.Info("acquisition armed", logging.Engine(name), logging.Channel(d.Channel),
			logging.Field{Key: "points", Value: acq.Points}, logging.Field{Key: "cycles", Value: acq.Cycles},
			logging.Field{Key: "mode", Value: acq.Mode.String()})
	}
}

// Run compiles, loads and executes the sync program. The returned error is
// a compilation or runtime fault; the program is released in Teardown.
func (in *Instrument) Run(ctx context.Context) error {
	p, err := BuildProgram(in.cfg)
	if err != nil {
		return err
	}
	r := sequence.NewRunner(p, in.chassis, in.log)
	r.Observe(func(from, to sequence.State, err error) {
		e := telemetry.Event{Kind: telemetry.KindState, From: from.String(), To: to.String()}
		if err != nil {
			e.Message = err.Error()
		}
		in.report(e)
	})
	in.mu.Lock()
	in.runner = r
	in.mu.Unlock()
	return r.Execute(ctx)
}

// Runner returns the program runner, or nil before Run.
func (in *Instrument) Runner() *sequence.Runner {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.runner
}

// Capture holds the cycles read from one digitizer channel, in volts.
type Capture struct {
	Engine     string
	Channel    int
	SampleRate float64
	Cycles     [][]float64
}

// Peak returns the largest absolute sample over all cycles.
func (c Capture) Peak() float64 {
	var peak float64
	for _, cyc := range c.Cycles {
		peak = math.Max(peak, waveform.Peak(cyc))
	}
	return peak
}

// Capture reads every configured acquisition after the program halted. A
// short or failed read is a runtime fault attributed to the channel and
// moves the program to Faulted; the remaining channels are still read.
func (in *Instrument) Capture(ctx context.Context) ([]Capture, error) {
	var errs []error
	var out []Capture
	for _, m := range in.opened() {
		dig, ok := m.engine.(hw.Digitizer)
		if !ok || m.cfg.Role() != config.RoleDigitizer {
			continue
		}
		name := m.cfg.EngineName()
		for _, d := range m.cfg.DAQs {
			acq := Acquisition(d, m.cfg.SampleRate)
			c := Capture{Engine: name, Channel: d.Channel, SampleRate: m.cfg.SampleRate}
			for cycle := 1; cycle <= acq.Cycles; cycle++ {
				raw, err := dig.ReadDAQ(ctx, d.Channel, acq.Points, hw.ReadTimeout)
				if err == nil && len(raw) < acq.Points {
					err = fmt.Errorf("cycle %d: short read, %d of %d points", cycle, len(raw), acq.Points)
				}
				if err != nil {
					fe := fault.Runtime("capture", name, err)
					fe.Channel = d.Channel
					errs = append(errs, fe)
					break
				}
				c.Cycles = append(c.Cycles, dsp.Volts(raw, hw.InputFullScale))
			}
			e := telemetry.Event{Kind: telemetry.KindCapture, Engine: name, Channel: d.Channel, Value: c.Peak(),
				Message: fmt.Sprintf("%d of %d cycles", len(c.Cycles), acq.Cycles)}
			if len(c.Cycles) > 0 {
				e.Message += fmt.Sprintf(", peak at %.3g Hz", dsp.PeakFrequency(c.Cycles[0], c.SampleRate))
			}
			in.report(e)
			out = append(out, c)
		}
	}
	in.mu.Lock()
	in.captures = out
	in.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		if r := in.Runner(); r != nil {
			r.Fault(err)
		}
	}
	return out, err
}

func (in *Instrument) opened() []*module {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]*module(nil), in.modules...)
}

// Teardown stops every channel, releases the program, restores the vanilla
// image where a custom one was loaded and closes every module. Every step is
// attempted on every module; errors are joined.
func (in *Instrument) Teardown(ctx context.Context) error {
	var errs []error
	for _, m := range in.opened() {
		name := m.cfg.EngineName()
		if gen, ok := m.engine.(hw.Generator); ok && m.cfg.Role() == config.RoleGenerator {
			for ch := 1; ch <= m.cfg.Channels; ch++ {
				if err := gen.Stop(ctx, ch); err != nil {
					errs = append(errs, fault.Runtime("stop", name, err))
				}
			}
		}
		if dig, ok := m.engine.(hw.Digitizer); ok && m.cfg.Role() == config.RoleDigitizer {
			for _, d := range m.cfg.DAQs {
				if err := dig.StopDAQ(ctx, d.Channel); err != nil {
					errs = append(errs, fault.Runtime("stop-daq", name, err))
				}
			}
		}
	}

	if r := in.Runner(); r != nil {
		if err := r.Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	for _, m := range in.opened() {
		name := m.cfg.EngineName()
		if m.image && m.cfg.FPGA.VanillaFile != "" {
			if err := m.engine.LoadImage(ctx, m.cfg.FPGA.VanillaFile); err != nil {
				errs = append(errs, fault.Runtime("restore-image", name, err))
			}
		}
		if err := m.engine.Close(ctx); err != nil {
			errs = append(errs, fault.Runtime("close", name, err))
		}
		in.log.Info("module closed", logging.Engine(name))
	}
	in.mu.Lock()
	in.modules = nil
	in.mu.Unlock()
	return errors.Join(errs...)
}

// Result summarizes a run.
type Result struct {
	State    sequence.State
	Degraded bool
	Faults   []error
	Captures []Capture
	Err      error
}

// Execute provisions, runs, captures and always tears down. The result
// error is the first fatal error joined with any teardown errors.
func (in *Instrument) Execute(ctx context.Context) Result {
	in.report(telemetry.Event{Kind: telemetry.KindRun, Message: "run started"})
	var res Result
	err := in.Provision(ctx)
	if err == nil {
		err = in.Run(ctx)
	}
	if err == nil {
		res.Captures, err = in.Capture(ctx)
	}
	if tdErr := in.Teardown(ctx); tdErr != nil {
		in.log.Warn("teardown incomplete", logging.Err(tdErr))
		err = errors.Join(err, tdErr)
	}

	res.Err = err
	res.Faults = in.Faults()
	res.Degraded = len(res.Faults) > 0
	res.State = sequence.Faulted
	if r := in.Runner(); r != nil {
		res.State = r.State()
	}
	in.report(telemetry.Event{Kind: telemetry.KindRun, To: res.State.String(), Message: "run finished"})
	return res
}
