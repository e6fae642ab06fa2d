package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rjboer/quadlo/internal/app"
	"github.com/rjboer/quadlo/internal/sequence"
)

func newCompileCommand(opts *rootOptions) *cobra.Command {
	var simulate bool
	cmd := &cobra.Command{
		Use:   "compile [config]",
		Short: "Compile the sync program and print its listing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig(args)
			if err != nil {
				return err
			}
			p, err := app.BuildProgram(cfg)
			if err != nil {
				return err
			}
			c, err := p.Compile()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			c.WriteListing(out)
			if !simulate {
				return nil
			}

			tr, err := sequence.Simulate(c, sequence.DefaultStepLimit)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			color.New(color.FgCyan).Fprintf(out, "simulated %d ns\n", tr.Duration)
			for _, name := range c.Engines {
				counts := map[string]int{}
				for _, f := range tr.Fires {
					if f.Engine == name {
						counts[f.Action]++
					}
				}
				actions := make([]string, 0, len(counts))
				for a := range counts {
					actions = append(actions, a)
				}
				sort.Strings(actions)
				for _, a := range actions {
					fmt.Fprintf(out, "  %s %s x%d\n", name, a, counts[a])
				}
			}
			for _, b := range tr.Barriers {
				fmt.Fprintf(out, "  barrier %s at %d ns skew %d\n", b.Label, b.Time, b.Skew)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&simulate, "simulate", false, "simulate the compiled program and summarize the trigger trace")
	return cmd
}
