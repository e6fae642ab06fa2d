package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/quadlo/internal/config"
	"github.com/rjboer/quadlo/internal/fault"
	"github.com/rjboer/quadlo/internal/logging"
)

type call struct {
	op      string
	channel int
	id      int
	mode    TriggerMode
	ticks   int
	repeats int
	cyclic  bool
}

type fakePlayer struct {
	calls  []call
	reject map[string]bool
}

func (f *fakePlayer) check(op string, ch, id int) error {
	if f.reject[fmt.Sprintf("%s/%d/%d", op, ch, id)] {
		return errors.New("rejected by hardware")
	}
	return nil
}

func (f *fakePlayer) QueueWaveform(_ context.Context, ch, id int, mode TriggerMode, ticks, repeats int) error {
	f.calls = append(f.calls, call{op: "queue", channel: ch, id: id, mode: mode, ticks: ticks, repeats: repeats})
	return f.check("queue", ch, id)
}

func (f *fakePlayer) ConfigureQueue(_ context.Context, ch int, cyclic bool) error {
	f.calls = append(f.calls, call{op: "mode", channel: ch, cyclic: cyclic})
	return f.check("mode", ch, 0)
}

func (f *fakePlayer) Start(_ context.Context, ch int) error {
	f.calls = append(f.calls, call{op: "start", channel: ch})
	return f.check("start", ch, 0)
}

func quiet() logging.Logger { return logging.New(logging.Error, logging.Text, io.Discard) }

func TestDelayTicks(t *testing.T) {
	cases := []struct {
		seconds float64
		ticks   int
	}{
		{0, 0},
		{10e-9, 1},
		{14e-9, 1},
		{15.1e-9, 2},
		{1e-6, 100},
	}
	for _, tc := range cases {
		got, err := DelayTicks(tc.seconds)
		require.NoError(t, err)
		assert.Equal(t, tc.ticks, got, "seconds=%g", tc.seconds)
	}
	_, err := DelayTicks(-1e-9)
	assert.True(t, fault.Is(err, fault.Configuration))
}

func TestProvisionSingleItem(t *testing.T) {
	p := &fakePlayer{}
	queues := []config.Queue{{Channel: 1, Items: []config.QueueItem{{PulseID: 1, Trigger: true, Repeats: 1}}}}

	rep := Provision(context.Background(), "M3202A_2", p, queues, quiet())
	require.False(t, rep.Degraded())
	require.NoError(t, rep.Err())

	require.Equal(t, []call{
		{op: "queue", channel: 1, id: 1, mode: Software, ticks: 0, repeats: 1},
		{op: "mode", channel: 1, cyclic: false},
		{op: "start", channel: 1},
	}, p.calls)
	require.Len(t, rep.Registered, 1)
	assert.Equal(t, Registration{Channel: 1, Item: 1, WaveformID: 1, Mode: Software, StartTicks: 0, Repeats: 1}, rep.Registered[0])
}

func TestProvisionContinuesAfterRejection(t *testing.T) {
	p := &fakePlayer{reject: map[string]bool{"queue/1/2": true, "mode/4/0": true}}
	queues := []config.Queue{
		{Channel: 1, Cyclic: true, Items: []config.QueueItem{
			{PulseID: 1, StartTime: 20e-9},
			{PulseID: 2},
			{PulseID: 3, Repeats: 4},
		}},
		{Channel: 4, Items: []config.QueueItem{{PulseID: 1, Trigger: true}}},
	}

	rep := Provision(context.Background(), "M3202A_2", p, queues, quiet())
	require.True(t, rep.Degraded())
	require.Len(t, rep.Errors, 2)
	assert.True(t, fault.Is(rep.Err(), fault.Provisioning))

	var fe *fault.Error
	require.True(t, errors.As(rep.Errors[0], &fe))
	assert.Equal(t, "M3202A_2", fe.Engine)
	assert.Equal(t, 1, fe.Channel)
	assert.Equal(t, 2, fe.Item)
	assert.Equal(t, 2, fe.Waveform)

	require.True(t, errors.As(rep.Errors[1], &fe))
	assert.Equal(t, 4, fe.Channel)
	assert.Equal(t, "queue-mode", fe.Op)

	// Item 3 and the second queue are still provisioned.
	require.Len(t, rep.Registered, 3)
	assert.Equal(t, 3, rep.Registered[1].WaveformID)
	assert.Equal(t, 4, rep.Registered[1].Repeats)
	assert.Equal(t, 2, rep.Registered[0].StartTicks)
	assert.Equal(t, Auto, rep.Registered[0].Mode)
	assert.Equal(t, "start", p.calls[len(p.calls)-1].op)
}

func TestProvisionStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &fakePlayer{}
	rep := Provision(ctx, "M3202A_2", p, []config.Queue{{Channel: 1, Items: []config.QueueItem{{PulseID: 1}}}}, quiet())
	assert.Empty(t, p.calls)
	require.Len(t, rep.Errors, 1)
	assert.ErrorIs(t, rep.Errors[0], context.Canceled)
}

func TestTriggerModeString(t *testing.T) {
	assert.Equal(t, "auto", Auto.String())
	assert.Equal(t, "software", Software.String())
	assert.Equal(t, "TriggerMode(7)", TriggerMode(7).String())
}
