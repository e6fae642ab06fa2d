package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rjboer/quadlo/internal/config"
	"github.com/rjboer/quadlo/internal/logging"
	"github.com/rjboer/quadlo/internal/waveform"
)

func newSynthCommand(opts *rootOptions) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "synth [config]",
		Short: "Synthesize every generator waveform to WAV files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig(args)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", outDir, err)
			}
			out := cmd.OutOrStdout()
			for _, m := range cfg.Modules {
				if m.Role() != config.RoleGenerator || len(m.Pulses) == 0 {
					continue
				}
				waves, err := waveform.SynthesizeAll(cmd.Context(), m.Pulses, m.SampleRate)
				if err != nil {
					return fmt.Errorf("%s: %w", m.EngineName(), err)
				}
				for _, wf := range waves {
					path := filepath.Join(outDir, waveform.WAVName(m.EngineName(), wf))
					if err := writeWAV(path, wf); err != nil {
						return err
					}
					opts.log.Debug("waveform written", logging.Engine(m.EngineName()), logging.Waveform(wf.ID),
						logging.Field{Key: "path", Value: path})
					fmt.Fprintf(out, "%s: %d samples, %d sub-pulse(s), peak %.3f\n",
						path, len(wf.Samples), wf.SubPulses, waveform.Peak(wf.Samples))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "waveforms", "output directory")
	return cmd
}

func writeWAV(path string, wf waveform.Waveform) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := waveform.WriteWAV(f, wf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
