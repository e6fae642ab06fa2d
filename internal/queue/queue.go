// Package queue schedules waveform playback on generator channels.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rjboer/quadlo/internal/config"
	"github.com/rjboer/quadlo/internal/fault"
	"github.com/rjboer/quadlo/internal/logging"
)

// TickDuration is the start-delay time grid of the playback hardware.
const TickDuration = 10e-9

// TriggerMode selects what releases a queued waveform.
type TriggerMode int

const (
	// Auto plays the waveform as soon as the previous one finishes.
	Auto TriggerMode = iota
	// Software waits for a trigger fired by the sync program.
	Software
)

func (m TriggerMode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Software:
		return "software"
	default:
		return fmt.Sprintf("TriggerMode(%d)", int(m))
	}
}

// ModeFor maps a queue item's trigger flag to a trigger mode.
func ModeFor(item config.QueueItem) TriggerMode {
	if item.Trigger {
		return Software
	}
	return Auto
}

// DelayTicks quantizes a start delay in seconds to the nearest tick.
func DelayTicks(seconds float64) (int, error) {
	if seconds < 0 || math.IsNaN(seconds) {
		return 0, fault.Config("start_time", "start delay must not be negative, got %g", seconds)
	}
	return int(math.Round(seconds / TickDuration)), nil
}

// Player is the channel playback capability of a generator.
type Player interface {
	QueueWaveform(ctx context.Context, channel, waveformID int, mode TriggerMode, startTicks, repeats int) error
	ConfigureQueue(ctx context.Context, channel int, cyclic bool) error
	Start(ctx context.Context, channel int) error
}

// Registration records one accepted queue item.
type Registration struct {
	Channel    int
	Item       int
	WaveformID int
	Mode       TriggerMode
	StartTicks int
	Repeats    int
}

// Report summarizes a best-effort provisioning pass.
type Report struct {
	Engine     string
	Registered []Registration
	Errors     []error
}

// Degraded reports whether any hardware call was rejected.
func (r Report) Degraded() bool { return len(r.Errors) > 0 }

// Err joins every recorded error, or returns nil.
func (r Report) Err() error { return errors.Join(r.Errors...) }

// Provision pushes queues to a player. Items are registered in order; a
// rejected item is recorded and the remaining items and queues are still
// provisioned. Context cancellation stops provisioning early.
func Provision(ctx context.Context, engine string, p Player, queues []config.Queue, log logging.Logger) Report {
	if log == nil {
		log = logging.Default()
	}
	log = log.With(logging.Engine(engine))
	rep := Report{Engine: engine}
	fail := func(op string, ch, item, id int, err error) {
		fe := fault.Provision(op, engine, ch, err)
		fe.Item = item
		fe.Waveform = id
		rep.Errors = append(rep.Errors, fe)
		log.Warn("provisioning rejected", logging.Channel(ch), logging.Waveform(id), logging.Field{Key: "op", Value: op}, logging.Err(err))
	}

	for _, q := range queues {
		for i, item := range q.Items {
			if err := ctx.Err(); err != nil {
				rep.Errors = append(rep.Errors, fault.Provision("queue", engine, q.Channel, err))
				return rep
			}
			ticks, err := DelayTicks(item.StartTime)
			if err != nil {
				fail("queue", q.Channel, i+1, item.PulseID, err)
				continue
			}
			repeats := item.Repeats
			if repeats == 0 {
				repeats = 1
			}
			mode := ModeFor(item)
			if err := p.QueueWaveform(ctx, q.Channel, item.PulseID, mode, ticks, repeats); err != nil {
				fail("queue", q.Channel, i+1, item.PulseID, err)
				continue
			}
			log.Info("queued waveform", logging.Channel(q.Channel), logging.Item(i+1), logging.Waveform(item.PulseID),
				logging.Field{Key: "mode", Value: mode.String()}, logging.Field{Key: "ticks", Value: ticks})
			rep.Registered = append(rep.Registered, Registration{
				Channel: q.Channel, Item: i + 1, WaveformID: item.PulseID,
				Mode: mode, StartTicks: ticks, Repeats: repeats,
			})
		}
		if err := p.ConfigureQueue(ctx, q.Channel, q.Cyclic); err != nil {
			fail("queue-mode", q.Channel, 0, 0, err)
		}
		if err := p.Start(ctx, q.Channel); err != nil {
			fail("start", q.Channel, 0, 0, err)
		}
	}
	return rep
}
