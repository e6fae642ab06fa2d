package waveform

import (
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// WAVRate is the nominal header rate of exported files. The encoder
// preallocates a minute of PCM at the header rate, so the playback rate is
// carried in the file name instead.
const WAVRate = 48000

// WAVName names the export of wf for engine, carrying the playback rate.
func WAVName(engine string, wf Waveform) string {
	return fmt.Sprintf("%s_wave%d_%gMSps.wav", engine, wf.ID, wf.SampleRate/1e6)
}

// WriteWAV stores a waveform as a mono 16-bit PCM file, one sample per
// hardware sample, at the nominal WAVRate. Samples are clipped to [-1, 1]
// before quantization.
func WriteWAV(w io.WriteSeeker, wf Waveform) error {
	if wf.SampleRate <= 0 || math.IsNaN(wf.SampleRate) || math.IsInf(wf.SampleRate, 0) {
		return fmt.Errorf("waveform %d: invalid sample rate %g", wf.ID, wf.SampleRate)
	}
	const rate = WAVRate
	const maxInt = 1<<(wavBitDepth-1) - 1
	data := make([]int, len(wf.Samples))
	for i, v := range wf.Samples {
		v = math.Max(-1, math.Min(1, v))
		data[i] = int(math.Round(v * maxInt))
	}

	enc := wav.NewEncoder(w, rate, wavBitDepth, 1, 1)
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: rate, NumChannels: 1},
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("waveform %d: encode wav: %w", wf.ID, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("waveform %d: finalize wav: %w", wf.ID, err)
	}
	return nil
}
