// Command agentsim runs agent-driven EVM simulations described by scenario
// files.
//
// Usage:
//
//	agentsim run <scenario.toml> [flags]
//	agentsim validate <scenario.toml>
//	agentsim version
//
// Run flags:
//
//	--steps        Override the scenario step count
//	--seed         Override the scenario seed
//	--db           Persist the report into a LevelDB directory
//	--timeout      Wall-clock budget, checked between steps
//	--verbosity    Log level 0-5 (default: 3)
//	--log.format   json, text, console or color (default: json)
//	--metrics      Print the metrics registry after the run
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eth2030/agentsim/core/rawdb"
	"github.com/eth2030/agentsim/log"
	"github.com/eth2030/agentsim/metrics"
	"github.com/eth2030/agentsim/scenario"
	"github.com/eth2030/agentsim/sim"
	"github.com/spf13/cobra"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitFatal = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, args, os.Stdout, os.Stderr)
}

// exitCode carries a non-default exit status out of a command.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitError
}

type runFlags struct {
	steps     uint64
	seed      uint64
	db        string
	timeout   time.Duration
	verbosity int
	logFormat string
	metrics   bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "agentsim",
		Short:         "Deterministic agent-driven EVM simulation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(stdout)
	root.SetErr(stderr)

	var flags runFlags
	runCmd := &cobra.Command{
		Use:   "run <scenario.toml>",
		Short: "Run a scenario and print its report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, args[0], &flags)
		},
	}
	fs := runCmd.Flags()
	fs.Uint64Var(&flags.steps, "steps", 0, "override the scenario step count")
	fs.Uint64Var(&flags.seed, "seed", 0, "override the scenario seed")
	fs.StringVar(&flags.db, "db", "", "persist the report into this LevelDB directory")
	fs.DurationVar(&flags.timeout, "timeout", 0, "wall-clock budget, checked between steps")
	fs.IntVar(&flags.verbosity, "verbosity", 3, "log level 0-5")
	fs.StringVar(&flags.logFormat, "log.format", "json", "log format: json, text, console or color")
	fs.BoolVar(&flags.metrics, "metrics", false, "print the metrics registry after the run")

	validateCmd := &cobra.Command{
		Use:   "validate <scenario.toml>",
		Short: "Check a scenario file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.LoadScenario(args[0])
			if err != nil {
				return err
			}
			cfg, err := sc.Config(scenario.Options{})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scenario %q is valid: %d accounts, %d agents, %d steps\n",
				sc.Name, len(sc.Accounts), len(sc.Agents), cfg.Steps)
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentsim %s (commit %s)\n", version, commit)
		},
	}

	root.AddCommand(runCmd, validateCmd, versionCmd)
	return root
}

func runScenario(cmd *cobra.Command, path string, flags *runFlags) error {
	if flags.verbosity < 0 || flags.verbosity > 5 {
		return fmt.Errorf("verbosity %d outside 0-5", flags.verbosity)
	}
	logger, err := log.NewWriter(cmd.ErrOrStderr(), log.VerbosityToLevel(flags.verbosity), flags.logFormat)
	if err != nil {
		return err
	}
	log.SetDefault(logger)

	sc, err := scenario.LoadScenario(path)
	if err != nil {
		return err
	}
	opts := scenario.Options{Steps: flags.steps, Timeout: flags.timeout}
	if cmd.Flags().Changed("seed") {
		opts.Seed = &flags.seed
	}
	if flags.db != "" {
		db, err := rawdb.OpenLevelDB(flags.db)
		if err != nil {
			return fmt.Errorf("open report database: %w", err)
		}
		defer db.Close()
		cfg, err := sc.Config(opts)
		if err != nil {
			return err
		}
		opts.Sink = rawdb.NewReportSink(db, rawdb.RunMeta{Scenario: sc.Name, Seed: cfg.Seed})
	}

	s, err := sc.Build(opts)
	if err != nil {
		return err
	}
	report, runErr := s.Run(cmd.Context())
	if report != nil {
		printReport(cmd.OutOrStdout(), sc.Name, report)
	}
	if flags.metrics {
		if err := metrics.DefaultRegistry.WriteText(cmd.OutOrStdout(), "agentsim"); err != nil {
			return err
		}
	}
	var fatal *sim.FatalError
	if errors.As(runErr, &fatal) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Fatal:", fatal)
		return exitCode(exitFatal)
	}
	return runErr
}

func printReport(w io.Writer, name string, r *sim.Report) {
	fmt.Fprintf(w, "scenario %s\n", name)
	for _, step := range r.Steps {
		fmt.Fprintf(w, "step %d block %d txs %d root %s\n", step.Step, step.Block.Number, len(step.Results), step.Root)
		for _, res := range step.Results {
			line := fmt.Sprintf("  [%d] %s %s gas=%d", res.Index, res.Agent, res.Outcome.Status, res.Outcome.GasUsed)
			if res.Outcome.Err != nil {
				line += " err=" + res.Outcome.Err.Error()
			}
			fmt.Fprintln(w, line)
		}
		for _, ae := range step.AgentErrors {
			fmt.Fprintf(w, "  agent %s failed: %v\n", ae.Agent, ae.Err)
		}
	}
	fmt.Fprintf(w, "summary %s\n", r.Summary())
	fmt.Fprintf(w, "final root %s\n", r.FinalRoot)
	if r.Interrupted {
		fmt.Fprintln(w, "interrupted before all steps ran")
	}
	if r.Fatal != nil {
		fmt.Fprintf(w, "fatal at step %d: %s\n", r.Fatal.Step, r.Fatal.Reason)
	}
}
