package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rjboer/quadlo/internal/ledger"
)

func newRunsCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or show one run's faults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.ledger == "" {
				return errors.New("no ledger configured (--ledger or QUADLO_LEDGER)")
			}
			book, err := ledger.Open(opts.ledger, opts.log)
			if err != nil {
				return err
			}
			defer book.Close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				run, err := book.Get(ctx, args[0])
				if err != nil {
					return err
				}
				printRun(cmd, run)
				faults, err := book.Faults(ctx, run.ID)
				if err != nil {
					return err
				}
				for _, f := range faults {
					fmt.Fprintf(out, "  %s %s %s ch%d: %s\n", f.Kind, f.Op, f.Engine, f.Channel, f.Message)
				}
				return nil
			}

			runs, err := book.Runs(ctx, limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				printRun(cmd, r)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}

func printRun(cmd *cobra.Command, r ledger.Run) {
	out := cmd.OutOrStdout()
	state := color.New(color.FgGreen)
	switch r.State {
	case "faulted":
		state = color.New(color.FgRed)
	case "defined", "compiled", "loaded", "running":
		state = color.New(color.FgYellow)
	}
	fmt.Fprintf(out, "%s %s ", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"))
	state.Fprint(out, r.State)
	if r.Degraded {
		fmt.Fprint(out, " degraded")
	}
	fmt.Fprintf(out, " %s %s\n", r.Backend, r.Config)
}
