// Command marabou is the CLI entry point for the neural network
// verification reasoning kernel (spec.md §6 "CLI surface"): it loads a
// query, preprocesses it, runs the search engine (directly, or through the
// CEGAR loop when nonlinear activations are present), and reports the
// verdict with the exit codes spec.md §6 names.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// options holds every flag value plus the exit code runSolve decides on;
// it is threaded through as a single struct rather than package globals,
// matching this module's EngineConfig convention (pkg/config).
type options struct {
	inputQuery     string
	network        string
	property       string
	numWorkers     int
	timeoutSeconds int
	verbosity      int
	seed           uint64
	soiInit        string
	soiSearch      string
	sbt            string
	milpTightening string

	exitCode int
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts := &options{exitCode: exitInternalError}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "marabou:", err)
		return exitInputError
	}
	return opts.exitCode
}

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marabou",
		Short: "Decide satisfiability of a piecewise-linear neural network query",
		RunE: func(cmd *cobra.Command, args []string) error {
			runSolve(context.Background(), opts)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.inputQuery, "input-query", "", "path to a query text file (pkg/query format)")
	flags.StringVar(&opts.network, "network", "", "path to an ONNX network file (paired with --property)")
	flags.StringVar(&opts.property, "property", "", "path to a VNN-LIB property file (paired with --network)")
	flags.IntVar(&opts.numWorkers, "num-workers", 1, "worker pool size for NLR simulation")
	flags.IntVar(&opts.timeoutSeconds, "timeout", 0, "wall-clock budget in seconds, 0 for unbounded")
	flags.IntVar(&opts.verbosity, "verbosity", 0, "log verbosity: 0, 1, or 2")
	flags.Uint64Var(&opts.seed, "seed", 1, "PRNG seed")
	flags.StringVar(&opts.soiInit, "soi-init", "input-assignment", "SoI phase-pattern seed: input-assignment or current-assignment")
	flags.StringVar(&opts.soiSearch, "soi-search", "walksat", "SoI proposal strategy: mcmc or walksat")
	flags.StringVar(&opts.sbt, "sbt", "sbt", "symbolic bound tightening: none or sbt")
	flags.StringVar(&opts.milpTightening, "milp-tightening", "none", "LP/MILP bound tightening: none, lp, milp, lp-inc, milp-inc, or backward-converge")

	return cmd
}
