package remote

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rjboer/quadlo/internal/hw"
	"github.com/rjboer/quadlo/internal/logging"
	"github.com/rjboer/quadlo/internal/queue"
	"github.com/rjboer/quadlo/internal/sequence"
)

// Chassis is a hw.Chassis backed by a daemon connection.
type Chassis struct {
	conn     *Conn
	fallback RegisterWriter
	log      logging.Logger

	mu    sync.Mutex
	slots map[string]int
}

var _ hw.Chassis = (*Chassis)(nil)

// NewChassis wraps an established connection. fallback may be nil, in which
// case daemons without register support fail WriteRegister.
func NewChassis(conn *Conn, fallback RegisterWriter, log logging.Logger) *Chassis {
	if log == nil {
		log = logging.Default()
	}
	return &Chassis{conn: conn, fallback: fallback, log: log, slots: make(map[string]int)}
}

// Open implements hw.Chassis.
func (c *Chassis) Open(ctx context.Context, model string, slot int) (hw.Engine, error) {
	if _, err := c.conn.Command(ctx, fmt.Sprintf("OPEN %s %d", model, slot), nil, 0); err != nil {
		return nil, err
	}
	m := &Module{c: c, name: hw.EngineName(model, slot), model: model, slot: slot}
	c.mu.Lock()
	c.slots[m.name] = slot
	c.mu.Unlock()
	return m, nil
}

// Close implements hw.Chassis.
func (c *Chassis) Close() error {
	var errs []error
	if closer, ok := c.fallback.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	errs = append(errs, c.conn.Close())
	return errors.Join(errs...)
}

func (c *Chassis) slot(engine string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[engine]
	if !ok {
		return 0, fmt.Errorf("engine %s not open", engine)
	}
	return s, nil
}

// LoadProgram implements sequence.Transport. The stream is sent as JSON.
func (c *Chassis) LoadProgram(ctx context.Context, engine string, s *sequence.Stream) error {
	slot, err := c.slot(engine)
	if err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode program for %s: %w", engine, err)
	}
	_, err = c.conn.Command(ctx, fmt.Sprintf("PLOAD %d %d", slot, len(data)), data, 0)
	return err
}

func (c *Chassis) slotCommand(ctx context.Context, verb, engine string, timeout time.Duration) error {
	slot, err := c.slot(engine)
	if err != nil {
		return err
	}
	_, err = c.conn.Command(ctx, fmt.Sprintf("%s %d", verb, slot), nil, timeout)
	return err
}

// Run implements sequence.Transport.
func (c *Chassis) Run(ctx context.Context, engine string) error {
	return c.slotCommand(ctx, "PRUN", engine, 0)
}

// Wait implements sequence.Transport. The wait is bounded by ctx only.
func (c *Chassis) Wait(ctx context.Context, engine string) error {
	timeout := 24 * time.Hour
	if d, ok := ctx.Deadline(); ok {
		timeout = time.Until(d)
	}
	return c.slotCommand(ctx, "PWAIT", engine, timeout)
}

// Release implements sequence.Transport.
func (c *Chassis) Release(ctx context.Context, engine string) error {
	return c.slotCommand(ctx, "PRELEASE", engine, 0)
}

// Module is one opened card. It serves both generator and digitizer calls;
// the daemon rejects calls the card does not support.
type Module struct {
	c     *Chassis
	name  string
	model string
	slot  int
}

var (
	_ hw.Generator = (*Module)(nil)
	_ hw.Digitizer = (*Module)(nil)
)

func (m *Module) Name() string  { return m.name }
func (m *Module) Model() string { return m.model }
func (m *Module) Slot() int     { return m.slot }

func (m *Module) do(ctx context.Context, format string, args ...any) error {
	_, err := m.c.conn.Command(ctx, fmt.Sprintf(format, args...), nil, 0)
	return err
}

func (m *Module) LoadImage(ctx context.Context, path string) error {
	return m.do(ctx, "FPGALOAD %d %s", m.slot, path)
}

// WriteRegister writes a sandbox register, falling back to the SSH writer
// when the daemon reports ENOSYS.
func (m *Module) WriteRegister(ctx context.Context, name string, value int32) error {
	err := m.do(ctx, "WREG %d %s %d", m.slot, name, value)
	if err == nil || !errors.Is(err, ErrNotSupported) || m.c.fallback == nil {
		return err
	}
	m.c.log.Debug("register write via ssh fallback", logging.Engine(m.name),
		logging.Field{Key: "register", Value: name})
	return m.c.fallback.WriteRegister(ctx, m.name, name, value)
}

func (m *Module) Close(ctx context.Context) error {
	err := m.do(ctx, "CLOSE %d", m.slot)
	m.c.mu.Lock()
	delete(m.c.slots, m.name)
	m.c.mu.Unlock()
	return err
}

func (m *Module) FlushWaveforms(ctx context.Context) error {
	return m.do(ctx, "WFLUSH %d", m.slot)
}

// LoadWaveform sends samples as little-endian float64.
func (m *Module) LoadWaveform(ctx context.Context, id int, samples []float64) error {
	_, err := m.c.conn.Command(ctx, fmt.Sprintf("WLOAD %d %d %d", m.slot, id, len(samples)), encodeSamples(samples), 0)
	return err
}

func (m *Module) FlushQueue(ctx context.Context, channel int) error {
	return m.do(ctx, "QFLUSH %d %d", m.slot, channel)
}

func (m *Module) QueueWaveform(ctx context.Context, channel, id int, mode queue.TriggerMode, ticks, repeats int) error {
	return m.do(ctx, "QADD %d %d %d %d %d %d", m.slot, channel, id, int(mode), ticks, repeats)
}

func (m *Module) ConfigureQueue(ctx context.Context, channel int, cyclic bool) error {
	return m.do(ctx, "QCFG %d %d %d", m.slot, channel, boolInt(cyclic))
}

func (m *Module) ConfigureOutput(ctx context.Context, channel int, amplitude float64) error {
	return m.do(ctx, "OUTCFG %d %d %s", m.slot, channel, formatFloat(amplitude))
}

func (m *Module) Start(ctx context.Context, channel int) error {
	return m.do(ctx, "START %d %d", m.slot, channel)
}

func (m *Module) Stop(ctx context.Context, channel int) error {
	return m.do(ctx, "STOP %d %d", m.slot, channel)
}

func (m *Module) FlushDAQ(ctx context.Context, channel int) error {
	return m.do(ctx, "DFLUSH %d %d", m.slot, channel)
}

func (m *Module) ConfigureInput(ctx context.Context, channel int, fullScale float64) error {
	return m.do(ctx, "DINCFG %d %d %s", m.slot, channel, formatFloat(fullScale))
}

func (m *Module) ConfigureDAQ(ctx context.Context, channel int, acq hw.Acquisition) error {
	return m.do(ctx, "DCFG %d %d %d %d %d %d", m.slot, channel, acq.Points, acq.Cycles, acq.TriggerDelay, int(acq.Mode))
}

func (m *Module) StartDAQ(ctx context.Context, channel int) error {
	return m.do(ctx, "DSTART %d %d", m.slot, channel)
}

func (m *Module) StopDAQ(ctx context.Context, channel int) error {
	return m.do(ctx, "DSTOP %d %d", m.slot, channel)
}

// ReadDAQ reads up to n samples. The daemon's own timeout is sent along and
// the socket deadline extended past it.
func (m *Module) ReadDAQ(ctx context.Context, channel, n int, timeout time.Duration) ([]int16, error) {
	line := fmt.Sprintf("DREAD %d %d %d %d", m.slot, channel, n, timeout.Milliseconds())
	data, err := m.c.conn.Command(ctx, line, nil, timeout+m.c.conn.opts.IOTimeout)
	if err != nil {
		return nil, err
	}
	return decodeInt16(data)
}

func encodeSamples(samples []float64) []byte {
	out := make([]byte, 8*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

func decodeInt16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("odd sample payload length %d", len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
