package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/quadlo/internal/fault"
)

func TestLoadSinglePulse(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "single_pulse.yaml"))
	require.NoError(t, err)

	require.Len(t, cfg.Modules, 1)
	m := cfg.Modules[0]
	assert.Equal(t, RoleGenerator, m.Role())
	assert.Equal(t, "M3202A_2", m.EngineName())
	assert.Equal(t, 1e9, m.SampleRate)

	p, ok := m.Pulse(1)
	require.True(t, ok)
	assert.Equal(t, 0.6, p.Pulses[0].Amplitude)

	loops, ok := cfg.Sync.Register(LoopCounter)
	require.True(t, ok)
	assert.EqualValues(t, 10, loops.Value)
	assert.EqualValues(t, 0, cfg.Sync.Constant(ResetPhaseKey))
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("modules: []\nsync: {}\nbogus: 1\n"))
	require.Error(t, err)
}

func TestExampleIsValid(t *testing.T) {
	require.NoError(t, Validate(Example()))
}

func TestValidateAmplitudeSum(t *testing.T) {
	p := PulseDescriptor{ID: 3, PRI: 60e-6, Pulses: []SubPulse{
		{Width: 10e-6, TOA: 1e-6, Amplitude: 0.6, Bandwidth: 1e6},
		{Width: 10e-6, TOA: 1e-6, Amplitude: 0.4, Bandwidth: 1e6},
	}}
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Configuration))
	assert.Contains(t, err.Error(), "waveform=3")
}

func TestValidateDescriptorFields(t *testing.T) {
	tests := []struct {
		name string
		sp   SubPulse
	}{
		{"zero width", SubPulse{Width: 0, Bandwidth: 1e6, Amplitude: 0.5}},
		{"negative bandwidth", SubPulse{Width: 1e-6, Bandwidth: -1, Amplitude: 0.5}},
		{"zero bandwidth", SubPulse{Width: 1e-6, Bandwidth: 0, Amplitude: 0.5}},
		{"past window", SubPulse{Width: 50e-6, TOA: 20e-6, Bandwidth: 1e6, Amplitude: 0.5}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			p := PulseDescriptor{ID: 1, PRI: 60e-6, Pulses: []SubPulse{tt.sp}}
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, fault.Is(err, fault.Configuration))
		})
	}
}

func TestValidateReportsEveryViolation(t *testing.T) {
	cfg := Example()
	cfg.Modules[0].Queues[0].Items[0].PulseID = 99
	cfg.Modules[2].DAQs[0].CaptureCount = 0
	cfg.Sync.Registers = cfg.Sync.Registers[:1]

	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "unknown waveform id 99")
	assert.Contains(t, msg, "capture count must be positive")
	assert.Contains(t, msg, `gap register "Gap" is required`)
}

func TestValidateRoleMismatch(t *testing.T) {
	cfg := Example()
	cfg.Modules[2].Queues = []Queue{{Channel: 1}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digitizer modules cannot play waveforms")
}

func TestSaveWritesHistory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, HistoryDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, HistoryDir, "config_4.yaml"), []byte("x"), 0o644))

	path, err := Save(root, Example())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, HistoryDir, "config_5.yaml"), path)

	loaded, err := Load(Resolve(root, "latest"))
	require.NoError(t, err)
	assert.Equal(t, Example(), loaded)

	again, err := Load(Resolve(root, "5"))
	require.NoError(t, err)
	assert.Equal(t, loaded, again)
}

func TestResolve(t *testing.T) {
	assert.Equal(t, filepath.Join("r", DefaultFile), Resolve("r", ""))
	assert.Equal(t, filepath.Join("r", HistoryDir, "config_3.yaml"), Resolve("r", "3"))
	assert.Equal(t, "my.yaml", Resolve("r", "my.yaml"))
}
