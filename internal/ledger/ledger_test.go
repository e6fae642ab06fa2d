package ledger

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/quadlo/internal/fault"
	"github.com/rjboer/quadlo/internal/logging"
	"github.com/rjboer/quadlo/internal/telemetry"
)

func openTemp(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"), logging.New(logging.Error, logging.Text, io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	id := NewRunID()

	require.NoError(t, l.Begin(ctx, id, "config_default.yaml", "mock"))
	r, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "defined", r.State)
	assert.True(t, r.FinishedAt.IsZero())

	require.NoError(t, l.Finish(ctx, id, "stopped", true))
	r, err = l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "stopped", r.State)
	assert.True(t, r.Degraded)
	assert.False(t, r.FinishedAt.Before(r.StartedAt))

	require.ErrorIs(t, l.Finish(ctx, "missing", "stopped", false), sql.ErrNoRows)
	_, err = l.Get(ctx, "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	var ids []string
	for i := 0; i < 3; i++ {
		id := NewRunID()
		ids = append(ids, id)
		require.NoError(t, l.Begin(ctx, id, "c.yaml", "mock"))
		time.Sleep(time.Millisecond)
	}
	runs, err := l.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
}

func TestEventsAsReporter(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	id := NewRunID()
	require.NoError(t, l.Begin(ctx, id, "c.yaml", "mock"))

	var rep telemetry.Reporter = l
	rep.Report(telemetry.Event{Run: id, Kind: telemetry.KindState, From: "defined", To: "compiled"})
	rep.Report(telemetry.Event{Run: id, Kind: telemetry.KindCapture, Engine: "M3102A_7", Channel: 1, Value: 0.25})
	// Unknown runs violate the foreign key and are dropped with a warning.
	rep.Report(telemetry.Event{Run: "nope", Kind: telemetry.KindRun})

	events, err := l.Events(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "compiled", events[0].To)
	assert.Equal(t, telemetry.KindCapture, events[1].Kind)
	assert.Equal(t, 0.25, events[1].Value)
	assert.Equal(t, 1, events[1].Channel)
}

func TestRecordFaultsKeepsAttribution(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	id := NewRunID()
	require.NoError(t, l.Begin(ctx, id, "c.yaml", "mock"))

	qf := fault.Provision("queue", "M3202A_2", 1, errors.New("rejected"))
	qf.Waveform, qf.Item = 3, 2
	err := errors.Join(qf, fault.Runtime("capture", "M3102A_7", errors.New("short read")))
	require.NoError(t, l.RecordFaults(ctx, id, err))
	require.NoError(t, l.RecordFaults(ctx, id, errors.New("unattributed")))
	require.NoError(t, l.RecordFaults(ctx, id, nil))

	faults, err := l.Faults(ctx, id)
	require.NoError(t, err)
	require.Len(t, faults, 3)
	assert.Equal(t, Fault{Kind: "provisioning", Op: "queue", Engine: "M3202A_2", Channel: 1, Waveform: 3, Item: 2, Message: "rejected"}, faults[0])
	assert.Equal(t, "runtime", faults[1].Kind)
	assert.Equal(t, "unattributed", faults[2].Message)
}

func TestNewRunIDsAreOrdered(t *testing.T) {
	a := NewRunID()
	time.Sleep(2 * time.Millisecond)
	b := NewRunID()
	assert.Less(t, a, b)
}
