package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rjboer/quadlo/internal/config"
	"github.com/rjboer/quadlo/internal/nco"
)

func newEncodeCommand(lookup lookupFunc) *cobra.Command {
	var osc config.Oscillator
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode an oscillator frequency and phase into register values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bank, err := nco.Encode(osc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "A=%d B=%d I=%d Q=%d\n", bank.Inc.A, bank.Inc.B, bank.I, bank.Q)
			for _, r := range bank.Registers() {
				fmt.Fprintf(out, "%s=%d\n", r.Name, r.Value)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Float64Var(&osc.Frequency, "freq", 0, "carrier frequency in Hz")
	f.Float64Var(&osc.Phase, "phase", 0, "phase offset in degrees")
	f.Float64Var(&osc.Reference, "ref", envFloat(lookup, "QUADLO_REF_RATE", nco.RefRate), "oscillator reference rate in Hz")
	f.IntVar(&osc.Channel, "channel", 1, "generator channel")
	f.IntVar(&osc.Bank, "bank", 0, "oscillator bank")
	return cmd
}
