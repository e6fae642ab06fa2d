package config

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/rjboer/quadlo/internal/fault"
)

// MaxSubPulses is the number of sub-pulses a waveform can interleave.
const MaxSubPulses = 5

// Validate checks the whole configuration and returns every violation
// joined into one error. Each violation is a fault.Configuration error.
func Validate(cfg Config) error {
	var errs []error
	if len(cfg.Modules) == 0 {
		errs = append(errs, fault.Config("modules", "at least one module is required"))
	}
	seen := make(map[string]bool)
	for i, m := range cfg.Modules {
		prefix := fmt.Sprintf("modules[%d]", i)
		if seen[m.EngineName()] {
			errs = append(errs, fault.Config(prefix, "duplicate module %s", m.EngineName()))
		}
		seen[m.EngineName()] = true
		errs = append(errs, validateModule(prefix, m)...)
	}
	errs = append(errs, validateSync(cfg.Sync)...)
	return errors.Join(errs...)
}

func validateModule(prefix string, m Module) []error {
	var errs []error
	add := func(field, format string, args ...any) {
		e := fault.Config(prefix+"."+field, format, args...)
		e.Engine = m.EngineName()
		errs = append(errs, e)
	}
	if m.Role() == RoleUnknown {
		add("model", "unknown model %q", m.Model)
	}
	if m.Slot <= 0 {
		add("slot", "slot must be positive, got %d", m.Slot)
	}
	if m.Channels <= 0 {
		add("channels", "channel count must be positive, got %d", m.Channels)
	}
	if m.SampleRate <= 0 {
		add("sample_rate", "sample rate must be positive, got %g", m.SampleRate)
	}
	if m.Role() == RoleDigitizer && (len(m.Pulses) > 0 || len(m.Queues) > 0) {
		add("queues", "digitizer modules cannot play waveforms")
	}
	if m.Role() == RoleGenerator && len(m.DAQs) > 0 {
		add("daqs", "generator modules cannot capture")
	}

	ids := make(map[int]bool)
	for i, p := range m.Pulses {
		if ids[p.ID] {
			add(fmt.Sprintf("pulses[%d].id", i), "duplicate waveform id %d", p.ID)
		}
		ids[p.ID] = true
		if err := p.Validate(); err != nil {
			for _, e := range splitJoined(err) {
				if fe, ok := e.(*fault.Error); ok {
					fe.Field = fmt.Sprintf("%s.pulses[%d].%s", prefix, i, fe.Field)
					fe.Engine = m.EngineName()
				}
				errs = append(errs, e)
			}
		}
	}
	for i, q := range m.Queues {
		field := fmt.Sprintf("queues[%d]", i)
		if q.Channel < 1 || q.Channel > m.Channels {
			add(field+".channel", "channel %d outside 1..%d", q.Channel, m.Channels)
		}
		for j, item := range q.Items {
			itemField := fmt.Sprintf("%s.items[%d]", field, j)
			if !ids[item.PulseID] {
				add(itemField+".pulse_id", "unknown waveform id %d", item.PulseID)
			}
			if item.StartTime < 0 {
				add(itemField+".start_time", "start time must not be negative")
			}
			if item.Repeats < 0 {
				add(itemField+".repeats", "repeats must not be negative")
			}
		}
	}
	for i, d := range m.DAQs {
		field := fmt.Sprintf("daqs[%d]", i)
		if d.Channel < 1 || d.Channel > m.Channels {
			add(field+".channel", "channel %d outside 1..%d", d.Channel, m.Channels)
		}
		if d.CaptureTime <= 0 {
			add(field+".capture_time", "capture time must be positive")
		}
		if d.CaptureCount <= 0 {
			add(field+".capture_count", "capture count must be positive")
		}
		if d.TriggerDelay < 0 {
			add(field+".trigger_delay", "trigger delay must not be negative")
		}
	}
	for i, o := range m.Oscillators {
		field := fmt.Sprintf("oscillators[%d]", i)
		if o.Channel < 1 || o.Channel > m.Channels {
			add(field+".channel", "channel %d outside 1..%d", o.Channel, m.Channels)
		}
		if o.Bank < 0 || o.Bank > 3 {
			add(field+".bank", "bank %d outside 0..3", o.Bank)
		}
		if o.Frequency < 0 {
			add(field+".frequency", "frequency must not be negative")
		}
	}
	return errs
}

// Validate checks a single waveform descriptor: positive window, one to
// five sub-pulses, positive width and bandwidth, and an amplitude sum
// strictly below 1.0 so the combined output cannot clip.
func (p PulseDescriptor) Validate() error {
	var errs []error
	if p.ID <= 0 {
		errs = append(errs, fault.Config("id", "waveform id must be positive, got %d", p.ID))
	}
	if p.PRI <= 0 {
		errs = append(errs, fault.Config("pri", "pulse repetition interval must be positive, got %g", p.PRI))
	}
	if len(p.Pulses) == 0 || len(p.Pulses) > MaxSubPulses {
		errs = append(errs, fault.Config("pulses", "need 1..%d sub-pulses, got %d", MaxSubPulses, len(p.Pulses)))
	}
	amps := make([]float64, len(p.Pulses))
	for i, sp := range p.Pulses {
		field := fmt.Sprintf("pulses[%d]", i)
		if sp.Width <= 0 {
			errs = append(errs, fault.Config(field+".width", "width must be positive, got %g", sp.Width))
		}
		if sp.Bandwidth <= 0 {
			errs = append(errs, fault.Config(field+".bandwidth", "bandwidth must be positive, got %g", sp.Bandwidth))
		}
		if sp.TOA < 0 {
			errs = append(errs, fault.Config(field+".toa", "time of arrival must not be negative"))
		}
		if p.PRI > 0 && sp.TOA+sp.Width > p.PRI {
			errs = append(errs, fault.Config(field+".toa", "pulse ends at %g, beyond the %g window", sp.TOA+sp.Width, p.PRI))
		}
		if sp.Amplitude < 0 {
			errs = append(errs, fault.Config(field+".amplitude", "amplitude must not be negative"))
		}
		if sp.Carrier < 0 {
			errs = append(errs, fault.Config(field+".carrier", "carrier must not be negative"))
		}
		amps[i] = sp.Amplitude
	}
	if sum := floats.Sum(amps); sum >= 1.0 {
		errs = append(errs, fault.Config("pulses", "amplitudes sum to %g, must be below 1.0", sum))
	}
	for _, err := range errs {
		if fe, ok := err.(*fault.Error); ok {
			fe.Waveform = p.ID
		}
	}
	return errors.Join(errs...)
}

func splitJoined(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func validateSync(s Sync) []error {
	var errs []error
	names := make(map[string]bool)
	for i, r := range s.Registers {
		if r.Name == "" {
			errs = append(errs, fault.Config(fmt.Sprintf("sync.registers[%d].name", i), "register name is required"))
		}
		if names[r.Name] {
			errs = append(errs, fault.Config(fmt.Sprintf("sync.registers[%d].name", i), "duplicate register %q", r.Name))
		}
		names[r.Name] = true
	}
	if r, ok := s.Register(LoopCounter); !ok {
		errs = append(errs, fault.Config("sync.registers", "loop counter %q is required", LoopCounter))
	} else if r.Value < 0 {
		errs = append(errs, fault.Config("sync.registers", "loop counter must not be negative"))
	}
	if r, ok := s.Register(GapRegister); !ok {
		errs = append(errs, fault.Config("sync.registers", "gap register %q is required", GapRegister))
	} else if r.Value < 0 {
		errs = append(errs, fault.Config("sync.registers", "gap must not be negative"))
	}
	return errs
}
