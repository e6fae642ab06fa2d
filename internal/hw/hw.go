// Package hw declares the hardware capabilities the instrument needs from a
// chassis: opening modules, loading images, sandbox registers, waveform
// playback, acquisition and sync-program execution.
package hw

import (
	"context"
	"fmt"
	"time"

	"github.com/rjboer/quadlo/internal/queue"
	"github.com/rjboer/quadlo/internal/sequence"
)

// Output and input settings applied to every channel during provisioning.
const (
	OutputAmplitude = 1.5
	InputFullScale  = 2.0
	ReadTimeout     = 1000 * time.Millisecond
)

// Engine is an opened module.
type Engine interface {
	Name() string
	Model() string
	Slot() int
	LoadImage(ctx context.Context, path string) error
	WriteRegister(ctx context.Context, name string, value int32) error
	Close(ctx context.Context) error
}

// Generator is a waveform-playback module.
type Generator interface {
	Engine
	queue.Player
	FlushWaveforms(ctx context.Context) error
	LoadWaveform(ctx context.Context, id int, samples []float64) error
	FlushQueue(ctx context.Context, channel int) error
	ConfigureOutput(ctx context.Context, channel int, amplitude float64) error
	Stop(ctx context.Context, channel int) error
}

// Acquisition configures one digitizer channel.
type Acquisition struct {
	Points       int
	Cycles       int
	TriggerDelay int
	Mode         queue.TriggerMode
}

// Digitizer is an acquisition module.
type Digitizer interface {
	Engine
	FlushDAQ(ctx context.Context, channel int) error
	ConfigureInput(ctx context.Context, channel int, fullScale float64) error
	ConfigureDAQ(ctx context.Context, channel int, acq Acquisition) error
	StartDAQ(ctx context.Context, channel int) error
	StopDAQ(ctx context.Context, channel int) error
	ReadDAQ(ctx context.Context, channel, n int, timeout time.Duration) ([]int16, error)
}

// Chassis opens modules and executes sync programs across them.
type Chassis interface {
	sequence.Transport
	Open(ctx context.Context, model string, slot int) (Engine, error)
	Close() error
}

// EngineName is the name a module is known by in sync programs.
func EngineName(model string, slot int) string {
	return fmt.Sprintf("%s_%d", model, slot)
}

// TriggerAction names the sync action that triggers a channel.
func TriggerAction(channel int) string {
	return fmt.Sprintf("trigger%d", channel)
}
