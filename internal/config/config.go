// Package config holds the static Instrument Configuration: the module list,
// pulse and queue descriptors, digitizer captures and sync program registers.
package config

import (
	"fmt"
	"strings"
)

// Known module models.
const (
	ModelGenerator = "M3202A"
	ModelDigitizer = "M3102A"
)

// Well-known sync register and constant names.
const (
	LoopCounter   = "NumberOfLoops"
	GapRegister   = "Gap"
	ResetPhaseKey = "ResetPhase"
)

// Role is the function an engine plays in the instrument.
type Role int

const (
	RoleUnknown Role = iota
	RoleGenerator
	RoleDigitizer
)

func (r Role) String() string {
	switch r {
	case RoleGenerator:
		return "generator"
	case RoleDigitizer:
		return "digitizer"
	default:
		return "unknown"
	}
}

// Config is the root of an instrument configuration file.
type Config struct {
	Modules []Module `yaml:"modules"`
	Sync    Sync     `yaml:"sync"`
}

// Module describes one chassis card. Each module contributes one engine.
type Module struct {
	Model       string            `yaml:"model"`
	Slot        int               `yaml:"slot"`
	Channels    int               `yaml:"channels"`
	SampleRate  float64           `yaml:"sample_rate"`
	FPGA        FPGA              `yaml:"fpga"`
	Oscillators []Oscillator      `yaml:"oscillators,omitempty"`
	Pulses      []PulseDescriptor `yaml:"pulses,omitempty"`
	Queues      []Queue           `yaml:"queues,omitempty"`
	DAQs        []DAQ             `yaml:"daqs,omitempty"`
}

// Role derives the engine role from the model number.
func (m Module) Role() Role {
	switch m.Model {
	case ModelGenerator:
		return RoleGenerator
	case ModelDigitizer:
		return RoleDigitizer
	default:
		return RoleUnknown
	}
}

// EngineName is the identifier used for the module's sequencing engine.
func (m Module) EngineName() string {
	return fmt.Sprintf("%s_%d", m.Model, m.Slot)
}

// Pulse returns the descriptor with the given waveform id.
func (m Module) Pulse(id int) (PulseDescriptor, bool) {
	for _, p := range m.Pulses {
		if p.ID == id {
			return p, true
		}
	}
	return PulseDescriptor{}, false
}

// FPGA describes the sandbox image and register values of a module.
type FPGA struct {
	ImageFile   string `yaml:"image_file,omitempty"`
	VanillaFile string `yaml:"vanilla_file,omitempty"`
	// PCRegisters are written by the host before the run.
	PCRegisters []Register `yaml:"pc_registers,omitempty"`
	// SyncRegisters are sandbox registers the sync program may write,
	// e.g. the phase-reset strobes.
	SyncRegisters []Register `yaml:"sync_registers,omitempty"`
}

// HasImage reports whether a custom image must be loaded (and later restored).
func (f FPGA) HasImage() bool { return strings.TrimSpace(f.ImageFile) != "" }

// Register is a named integer value.
type Register struct {
	Name  string `yaml:"name"`
	Value int32  `yaml:"value"`
}

// Oscillator is one numeric-oscillator bank of a channel.
type Oscillator struct {
	Channel   int     `yaml:"channel"`
	Bank      int     `yaml:"bank"`
	Frequency float64 `yaml:"frequency"`
	Phase     float64 `yaml:"phase"`
	// Reference is the oscillator clock rate; zero means 1 GHz.
	Reference float64 `yaml:"reference,omitempty"`
}

// PulseDescriptor is one waveform: a window of length PRI holding up to
// five sub-pulses.
type PulseDescriptor struct {
	ID     int        `yaml:"id"`
	PRI    float64    `yaml:"pri"`
	Pulses []SubPulse `yaml:"pulses"`
}

// SubPulse is an envelope-shaped pulse inside a waveform window.
type SubPulse struct {
	Carrier   float64 `yaml:"carrier"`
	Width     float64 `yaml:"width"`
	TOA       float64 `yaml:"toa"`
	Amplitude float64 `yaml:"amplitude"`
	Bandwidth float64 `yaml:"bandwidth"`
}

// Queue is the playback schedule of one generator channel.
type Queue struct {
	Channel int         `yaml:"channel"`
	Cyclic  bool        `yaml:"cyclic"`
	Items   []QueueItem `yaml:"items"`
}

// QueueItem references a waveform to play.
type QueueItem struct {
	PulseID int `yaml:"pulse_id"`
	// Trigger selects software/sync trigger; false plays automatically.
	Trigger   bool    `yaml:"trigger"`
	StartTime float64 `yaml:"start_time"`
	Repeats   int     `yaml:"repeats"`
}

// DAQ is one digitizer capture configuration.
type DAQ struct {
	Channel      int     `yaml:"channel"`
	CaptureTime  float64 `yaml:"capture_time"`
	CaptureCount int     `yaml:"capture_count"`
	Trigger      bool    `yaml:"trigger"`
	TriggerDelay float64 `yaml:"trigger_delay,omitempty"`
}

// Sync holds the declarations of the synchronized sequence program.
type Sync struct {
	Triggers  []int      `yaml:"triggers,omitempty"`
	Registers []Register `yaml:"registers"`
	Constants []Register `yaml:"constants,omitempty"`
}

// Register looks up a sync register by name.
func (s Sync) Register(name string) (Register, bool) {
	for _, r := range s.Registers {
		if r.Name == name {
			return r, true
		}
	}
	return Register{}, false
}

// Constant returns the value of a sync constant, or zero when absent.
func (s Sync) Constant(name string) int32 {
	for _, c := range s.Constants {
		if c.Name == name {
			return c.Value
		}
	}
	return 0
}
