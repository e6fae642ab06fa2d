package config

// Example returns the reference quad-LO setup: two generators sharing one
// interleaved four-tone waveform, a single-tone waveform on the first
// generator, and a digitizer capturing each loop iteration.
func Example() Config {
	const (
		repeats  = 10
		pulseGap = 200e-6
	)
	control := Register{Name: "PC_CH1_Control", Value: 1}
	phaseReset := []Register{
		{Name: "HVI_CH1_PhaseReset", Value: 0},
		{Name: "HVI_CH4_PhaseReset", Value: 0},
	}
	los := []float64{10e6, 30e6, 50e6, 70e6}

	var oscA, oscB []Oscillator
	for bank, f := range los {
		oscA = append(oscA,
			Oscillator{Channel: 1, Bank: bank, Frequency: f},
			Oscillator{Channel: 4, Bank: bank, Frequency: f},
		)
		oscB = append(oscB, Oscillator{Channel: 1, Bank: bank, Frequency: f})
	}

	group := PulseDescriptor{ID: 1, PRI: 60e-6, Pulses: []SubPulse{
		{Carrier: 0, Width: 10e-6, TOA: 1e-6, Amplitude: 0.6, Bandwidth: 1e6},
		{Carrier: 0, Width: 10e-6, TOA: 1e-6, Amplitude: 0.2, Bandwidth: 1e6},
		{Carrier: 0, Width: 10e-6, TOA: 1e-6, Amplitude: 0.12, Bandwidth: 1e6},
		{Carrier: 0, Width: 10e-6, TOA: 1e-6, Amplitude: 0.06, Bandwidth: 1e6},
	}}
	tone := PulseDescriptor{ID: 2, PRI: 60e-6, Pulses: []SubPulse{
		{Carrier: 10e6, Width: 10e-6, TOA: 1e-6, Amplitude: 0.5, Bandwidth: 1e6},
	}}
	fpga := FPGA{
		ImageFile:     "FPGA/QuadLoCh1_4_00_95.k7z",
		VanillaFile:   "FPGA/M3202A_Vanilla_HVI2.k7z",
		PCRegisters:   []Register{control, {Name: "PC_CH4_Control", Value: 1}},
		SyncRegisters: phaseReset,
	}

	return Config{
		Modules: []Module{
			{
				Model: ModelGenerator, Slot: 2, Channels: 4, SampleRate: 1e9,
				FPGA:        fpga,
				Oscillators: oscA,
				Pulses:      []PulseDescriptor{group, tone},
				Queues: []Queue{
					{Channel: 1, Cyclic: true, Items: []QueueItem{{PulseID: 1, Trigger: true, Repeats: 1}}},
					{Channel: 4, Cyclic: true, Items: []QueueItem{{PulseID: 1, Trigger: true, Repeats: 1}}},
				},
			},
			{
				Model: ModelGenerator, Slot: 4, Channels: 4, SampleRate: 1e9,
				FPGA:        fpga,
				Oscillators: oscB,
				Pulses:      []PulseDescriptor{group},
				Queues: []Queue{
					{Channel: 1, Cyclic: true, Items: []QueueItem{{PulseID: 1, Trigger: true, Repeats: 1}}},
				},
			},
			{
				Model: ModelDigitizer, Slot: 7, Channels: 4, SampleRate: 500e6,
				DAQs: []DAQ{{Channel: 1, CaptureTime: 100e-6, CaptureCount: repeats, Trigger: true}},
			},
		},
		Sync: Sync{
			Triggers: []int{5, 6, 7},
			Registers: []Register{
				{Name: LoopCounter, Value: repeats},
				{Name: GapRegister, Value: int32(pulseGap / 1e-9)},
			},
			Constants: []Register{{Name: ResetPhaseKey, Value: 0}},
		},
	}
}
