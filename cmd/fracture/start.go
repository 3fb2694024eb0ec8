package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/nftables"
	"github.com/spf13/cobra"

	"github.com/tturner/fracture/internal/config"
	"github.com/tturner/fracture/internal/diversion"
	"github.com/tturner/fracture/internal/logging"
	"github.com/tturner/fracture/internal/mods"
	"github.com/tturner/fracture/internal/nfqueue"
	"github.com/tturner/fracture/internal/plan"
	"github.com/tturner/fracture/internal/progress"
	"github.com/tturner/fracture/internal/results"
	"github.com/tturner/fracture/internal/runtime"
	"github.com/tturner/fracture/internal/trace"
)

type startFlags struct {
	seed       uint64
	from       int
	to         int
	dryRun     bool
	verbose    bool
	pcap       string
	logFile    string
	breadcrumb string
}

func newStartCmd() *cobra.Command {
	flags := &startFlags{}

	cmd := &cobra.Command{
		Use:   "start <config.json>",
		Short: "Run the modification suite described by a configuration file",
		Long: `start expands the suite's Cartesian test plan, then for every test in
[--from, --to) installs diversion rules, forks the target command, mangles
its traffic through the configured pipelines, and records a pass/fail
result.

Every test in [--from, --to) runs regardless of earlier failures; use
--dry-run to print the plan without touching netfilter or forking
anything.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return runStart(flags, args[0])
		},
	}

	cmd.Flags().Uint64Var(&flags.seed, "seed", 1, "suite-wide RNG seed for reproducible test runs")
	cmd.Flags().IntVar(&flags.from, "from", 0, "first test index to run (inclusive)")
	cmd.Flags().IntVar(&flags.to, "to", -1, "last test index to run (exclusive); -1 means the whole plan")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "print the expanded plan without installing rules or running anything")
	cmd.Flags().BoolVar(&flags.verbose, "verbose", false, "log every test's pipeline activity, not just failures")
	cmd.Flags().StringVar(&flags.pcap, "pcap", "", "write every mangled packet to this pcap file")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "additionally log to this file")
	cmd.Flags().StringVar(&flags.breadcrumb, "breadcrumb", "/var/run/fracture-breadcrumb.json", "path used to detect and clean up a previous crashed run")

	return cmd
}

func runStart(flags *startFlags, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	reg := mods.Default()
	expander, err := plan.New(cfg, reg)
	if err != nil {
		return err
	}

	to := flags.to
	if to < 0 || to > expander.Total() {
		to = expander.Total()
	}
	if flags.from < 0 || flags.from > to {
		return fmt.Errorf("--from %d is out of range for a plan of %d tests", flags.from, expander.Total())
	}

	level := logging.LogLevelInfo
	if flags.verbose {
		level = logging.LogLevelVerbose
	}
	logger, err := logging.NewLogger(level, flags.logFile)
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.LogStartup(configPath, flags.seed, expander.Total(), flags.from, to)

	if flags.dryRun {
		for i := flags.from; i < to; i++ {
			t, err := expander.Test(i)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "test %d: cmd=%q rules=%d input_stages=%d output_stages=%d\n",
				t.Index, t.Cmd, len(t.Rules), len(t.Input.Stages), len(t.Output.Stages))
		}
		return nil
	}

	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("connect to netfilter: %w", err)
	}
	controller := diversion.New(conn, flags.breadcrumb, logger)
	if err := controller.Sweep(); err != nil {
		logger.Error("pre-run sweep: %v", err)
	}

	var tracer *trace.Writer
	if flags.pcap != "" {
		tracer, err = trace.Open(flags.pcap)
		if err != nil {
			return fmt.Errorf("open pcap trace: %w", err)
		}
		defer tracer.Close()
	}

	rt := &runtime.Runtime{
		Diversion: controller,
		OpenQueue: nfqueue.Open,
		Logger:    logger,
		SuiteSeed: flags.seed,
		Tracer:    tracer,
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, diversion.SignalMask()...)
	go func() {
		<-sigCh
		logger.Info("signal received, cancelling suite")
		cancel()
	}()
	defer signal.Stop(sigCh)

	store := results.New()
	bar := progress.NewProgressBar(int64(to-flags.from), "fracture")
	if flags.verbose {
		bar.Disable()
	}

	for i := flags.from; i < to; i++ {
		if ctx.Err() != nil {
			break
		}
		t, err := expander.Test(i)
		if err != nil {
			return err
		}
		res := rt.Run(ctx, t)
		store.Add(res)
		logger.LogTestResult(res.Index, string(res.Status), res.ExitCode, res.ElapsedS, res.Notes)
		bar.Increment(string(res.Status))
	}
	bar.Finish()

	summary := store.Summarize()
	fmt.Fprintf(os.Stdout, "%d/%d passed, %d failed, %d setup-error, %d cancelled\n",
		summary.Passed, summary.Total, summary.Failed, summary.SetupError, summary.Cancelled)
	if !store.AllPassed() {
		os.Exit(1)
	}
	return nil
}
