package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rjboer/quadlo/internal/app"
	"github.com/rjboer/quadlo/internal/config"
	"github.com/rjboer/quadlo/internal/ledger"
	"github.com/rjboer/quadlo/internal/logging"
	"github.com/rjboer/quadlo/internal/sequence"
	"github.com/rjboer/quadlo/internal/telemetry"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "run [config]",
		Short: "Provision the chassis, run the sync program and capture",
		Long: `Run loads a configuration (a path, a history number, or "latest"),
provisions every module, executes the sync program, reads the digitizer
captures and tears the chassis down. The command fails when the program
ends Faulted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runInstrument(ctx, opts, args, save, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "store the configuration as the next history snapshot before running")
	return cmd
}

func runInstrument(ctx context.Context, opts *rootOptions, args []string, save bool, out io.Writer) error {
	log := opts.log
	cfg, path, err := opts.loadConfig(args)
	if err != nil {
		return err
	}
	if save {
		snapshot, err := config.Save(opts.configRoot, cfg)
		if err != nil {
			return err
		}
		log.Info("configuration saved", logging.Field{Key: "path", Value: snapshot})
	}

	runID := ledger.NewRunID()
	reporters := telemetry.MultiReporter{telemetry.NewStdoutReporter(log)}

	var book *ledger.Ledger
	if opts.ledger != "" {
		book, err = ledger.Open(opts.ledger, log.With(logging.Run(runID)))
		if err != nil {
			return err
		}
		defer book.Close()
		if err := book.Begin(ctx, runID, path, opts.backend); err != nil {
			return err
		}
		reporters = append(reporters, book)
	}

	if opts.webAddr != "" {
		hub := telemetry.NewHub(telemetry.DefaultHistoryLimit)
		reporters = append(reporters, hub)
		webCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go telemetry.NewWebServer(opts.webAddr, hub, log).Start(webCtx)
	}

	chassis, err := opts.openChassis(ctx)
	if err != nil {
		if book != nil {
			recCtx := context.WithoutCancel(ctx)
			_ = book.RecordFaults(recCtx, runID, err)
			_ = book.Finish(recCtx, runID, sequence.Faulted.String(), false)
		}
		return err
	}
	defer func() {
		if err := chassis.Close(); err != nil {
			log.Warn("chassis close", logging.Err(err))
		}
	}()
	in := app.New(cfg, chassis, app.Options{Logger: log, Reporter: reporters, RunID: runID})
	res := in.Execute(ctx)

	if book != nil {
		// The run context may already be canceled; record the outcome anyway.
		recCtx := context.WithoutCancel(ctx)
		if err := book.RecordFaults(recCtx, runID, joinFaults(res)); err != nil {
			log.Warn("ledger faults not recorded", logging.Err(err))
		}
		if err := book.Finish(recCtx, runID, res.State.String(), res.Degraded); err != nil {
			log.Warn("ledger run not finished", logging.Err(err))
		}
	}

	printResult(out, runID, res)
	if res.State == sequence.Faulted {
		if res.Err != nil {
			return fmt.Errorf("run %s faulted: %w", runID, res.Err)
		}
		return fmt.Errorf("run %s faulted", runID)
	}
	return res.Err
}

// joinFaults combines provisioning faults with the fatal error.
func joinFaults(res app.Result) error {
	errs := append([]error(nil), res.Faults...)
	return errors.Join(append(errs, res.Err)...)
}

func printResult(out io.Writer, runID string, res app.Result) {
	state := color.New(color.FgGreen)
	if res.State == sequence.Faulted {
		state = color.New(color.FgRed)
	}
	fmt.Fprintf(out, "run %s: ", runID)
	state.Fprintln(out, res.State)
	if res.Degraded {
		color.New(color.FgYellow).Fprintf(out, "warning: degraded run, %d provisioning fault(s)\n", len(res.Faults))
		for _, f := range res.Faults {
			fmt.Fprintf(out, "  - %v\n", f)
		}
	}
	for _, c := range res.Captures {
		fmt.Fprintf(out, "capture %s ch%d: %d cycles, peak %.3f V\n", c.Engine, c.Channel, len(c.Cycles), c.Peak())
	}
}
