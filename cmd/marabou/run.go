package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/cegar"
	"github.com/nnverify/marabou-go/pkg/config"
	"github.com/nnverify/marabou-go/pkg/engine"
	"github.com/nnverify/marabou-go/pkg/plconstraint"
	"github.com/nnverify/marabou-go/pkg/preprocess"
	"github.com/nnverify/marabou-go/pkg/query"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// Exit codes, spec.md §6 "CLI surface".
const (
	exitSAT              = 0
	exitUNSAT            = 10
	exitUnknownOrTimeout = 20
	exitInputError       = 1
	exitInternalError    = 2
)

// runSolve drives load -> preprocess -> search and prints spec.md §7's
// user-visible output, recording the process exit code on opts. It never
// returns an error to its caller: every failure is reported on stderr and
// mapped to an exit code here, so cobra's own usage/error printing never
// fires for a solve-time fault.
func runSolve(ctx context.Context, opts *options) {
	logger, err := buildLogger(opts.verbosity)
	if err != nil {
		fmt.Fprintln(os.Stderr, "marabou: building logger:", err)
		opts.exitCode = exitInternalError
		return
	}
	defer logger.Sync()

	cfg, err := buildEngineConfig(opts, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "marabou:", err)
		opts.exitCode = exitInputError
		return
	}

	q, store, err := loadQuery(opts, cfg.Epsilon)
	if err != nil {
		fmt.Fprintln(os.Stderr, "marabou:", err)
		opts.exitCode = exitInputError
		return
	}

	result, store, err := growAndPreprocess(q, store, cfg.Epsilon)
	if err != nil {
		if errors.Is(err, preprocess.ErrInfeasibleQuery) {
			fmt.Println("unsat")
			opts.exitCode = exitUNSAT
			return
		}
		fmt.Fprintln(os.Stderr, "marabou:", err)
		opts.exitCode = exitInternalError
		return
	}

	if opts.timeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.timeoutSeconds)*time.Second)
		defer cancel()
	}

	var linear []plconstraint.Constraint
	var nonlinear []plconstraint.NonlinearConstraint
	for _, c := range result.Constraints {
		if nc, ok := c.(plconstraint.NonlinearConstraint); ok {
			nonlinear = append(nonlinear, nc)
			continue
		}
		linear = append(linear, c)
	}

	var verdict string
	var assignment []float64
	var cause error

	if len(nonlinear) == 0 {
		st, asg, serr := engine.New(cfg, store, result.Equations, linear, q.Net).Solve(ctx)
		switch st {
		case engine.SAT:
			verdict, assignment = "sat", asg
		case engine.UNSAT:
			verdict = "unsat"
		default:
			verdict, cause = "unknown", serr
		}
	} else {
		loop := &cegar.Loop{
			Nonlinear: nonlinear,
			Logger:    logger,
			K:         10,
			G:         2.0,
			Solve: func(ctx context.Context, s *boundstore.Store, lin []plconstraint.Constraint, eqs []affine.AffineForm) (bool, bool, []float64, error) {
				return engine.New(cfg, s, eqs, lin, q.Net).SolveFunc(ctx, s, lin, eqs)
			},
		}
		var timeRemaining func() bool
		if opts.timeoutSeconds > 0 {
			deadline := time.Now().Add(time.Duration(opts.timeoutSeconds) * time.Second)
			timeRemaining = func() bool { return time.Now().Before(deadline) }
		}
		v, asg, verr := loop.Run(ctx, store, linear, result.Equations, timeRemaining)
		switch v {
		case cegar.VerdictSAT:
			verdict, assignment = "sat", asg
		case cegar.VerdictUNSAT:
			verdict = "unsat"
		default:
			verdict, cause = "unknown", verr
		}
	}

	switch verdict {
	case "sat":
		printAssignment(q, assignment)
		opts.exitCode = exitSAT
	case "unsat":
		fmt.Println("unsat")
		opts.exitCode = exitUNSAT
	default:
		if cause != nil {
			fmt.Printf("unknown %v\n", cause)
		} else {
			fmt.Println("unknown")
		}
		opts.exitCode = exitUnknownOrTimeout
	}
}

// loadQuery implements spec.md §6's "--input-query FILE | --network ONNX
// --property VNNLIB" alternative. The query-file path is fully supported
// via pkg/query.Load; the network/property path is accepted on the command
// line for surface completeness but rejected with a clear input error,
// since a full ONNX operator-set parser is out of scope (spec.md §1).
func loadQuery(opts *options, eps tolerance.Eps) (*query.Query, *boundstore.Store, error) {
	switch {
	case opts.inputQuery != "":
		f, err := os.Open(opts.inputQuery)
		if err != nil {
			return nil, nil, fmt.Errorf("opening input query: %w", err)
		}
		defer f.Close()
		q, store, err := query.Load(f, eps)
		if err != nil {
			return nil, nil, fmt.Errorf("loading input query: %w", err)
		}
		return q, store, nil
	case opts.network != "" || opts.property != "":
		return nil, nil, fmt.Errorf("--network/--property requires a full ONNX parser, which this build does not implement; use --input-query")
	default:
		return nil, nil, fmt.Errorf("one of --input-query or --network/--property is required")
	}
}

// growAndPreprocess grows store to the variable count pkg/preprocess needs
// once LE/GE equations gain slack variables, migrates every existing bound
// and constraint watch onto the larger store, and runs the fixed-point
// preprocessing pipeline (pkg/preprocess.Run requires its store pre-sized
// to NumVars plus one slack per non-EQ equation).
func growAndPreprocess(q *query.Query, store *boundstore.Store, eps tolerance.Eps) (*preprocess.Result, *boundstore.Store, error) {
	slack := 0
	for _, eq := range q.Equations {
		if eq.Relation() != affine.EQ {
			slack++
		}
	}

	grown := boundstore.New(q.NumVars+slack, eps)
	for v := 0; v < q.NumVars; v++ {
		if _, err := grown.TightenLB(v, store.GetLB(v)); err != nil {
			return nil, nil, fmt.Errorf("migrating bounds: %w", err)
		}
		if _, err := grown.TightenUB(v, store.GetUB(v)); err != nil {
			return nil, nil, fmt.Errorf("migrating bounds: %w", err)
		}
	}
	for _, c := range q.Constraints {
		c.Watch(grown)
	}

	result, err := preprocess.Run(grown, preprocess.Query{
		NumVars:     q.NumVars,
		Equations:   q.Equations,
		Constraints: q.Constraints,
	}, eps)
	if err != nil {
		return nil, nil, err
	}
	return result, grown, nil
}

// buildLogger maps --verbosity 0|1|2 to zap.Warn/Info/DebugLevel.
func buildLogger(verbosity int) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	switch verbosity {
	case 1:
		level = zapcore.InfoLevel
	case 2:
		level = zapcore.DebugLevel
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.DisableStacktrace = true
	return zcfg.Build()
}

// buildEngineConfig translates the CLI's flag surface into an
// *config.EngineConfig, rejecting unrecognized enum-flag values as an
// input error rather than silently defaulting.
func buildEngineConfig(opts *options, logger *zap.Logger) (*config.EngineConfig, error) {
	cfg := config.Default()
	cfg.Logger = logger
	cfg.Seed = opts.seed
	cfg.NumWorkers = opts.numWorkers
	if opts.timeoutSeconds > 0 {
		cfg.Timeout = time.Duration(opts.timeoutSeconds) * time.Second
	}

	switch opts.soiInit {
	case "input-assignment":
		cfg.SoIInit = config.SoIInitInputAssignment
	case "current-assignment":
		cfg.SoIInit = config.SoIInitCurrentAssignment
	default:
		return nil, fmt.Errorf("invalid --soi-init %q", opts.soiInit)
	}

	switch opts.soiSearch {
	case "mcmc":
		cfg.SoISearch = config.SoISearchMCMC
	case "walksat":
		cfg.SoISearch = config.SoISearchWalkSAT
	default:
		return nil, fmt.Errorf("invalid --soi-search %q", opts.soiSearch)
	}

	switch opts.sbt {
	case "none":
		cfg.SBT = config.SBTNone
	case "sbt":
		cfg.SBT = config.SBTEnabled
	default:
		return nil, fmt.Errorf("invalid --sbt %q", opts.sbt)
	}

	switch opts.milpTightening {
	case "none":
		cfg.MILPTightening = config.MILPTighteningNone
	case "lp", "milp":
		cfg.MILPTightening = config.MILPTighteningLP
	case "lp-inc", "milp-inc":
		cfg.MILPTightening = config.MILPTighteningLPIncremental
	case "backward-converge":
		cfg.MILPTightening = config.MILPTighteningBackwardConverge
	default:
		return nil, fmt.Errorf("invalid --milp-tightening %q", opts.milpTightening)
	}

	return cfg, nil
}

// printAssignment prints each input and output variable's value, per
// spec.md §7's "SAT prints each input/output variable's assignment to
// floating-point decimal".
func printAssignment(q *query.Query, assignment []float64) {
	for _, i := range sortedIntKeys(q.InputIndex) {
		fmt.Printf("x%d = %v\n", i, assignment[q.InputIndex[i]])
	}
	for _, i := range sortedIntKeys(q.OutputIndex) {
		fmt.Printf("y%d = %v\n", i, assignment[q.OutputIndex[i]])
	}
}

func sortedIntKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
