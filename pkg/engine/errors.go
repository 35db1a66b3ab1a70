package engine

import "errors"

// Sentinel error kinds the engine surfaces, matching spec.md §7's tagged
// error variants. Only InfeasibleBounds is recovered internally (via
// backtracking); every other kind propagates out of Solve.
var (
	// ErrInfeasibleQuery means the preprocessed query has no solution at
	// the root, before any decision is made. Solve does not return it;
	// cmd/marabou reports preprocess.ErrInfeasibleQuery as UNSAT.
	ErrInfeasibleQuery = errors.New("engine: query is infeasible")

	// ErrUnsupportedConstraint means the query referenced a PL/NL kind
	// this build of the engine does not implement.
	ErrUnsupportedConstraint = errors.New("engine: unsupported constraint kind")

	// ErrMalformedQuery means the query is structurally invalid: a
	// constraint references a variable index out of range, or NumVars
	// disagrees with the bound/equation arrays.
	ErrMalformedQuery = errors.New("engine: malformed query")

	// ErrExternalSolverError means the LP tableau reported a
	// non-recoverable fault; the current tightening pass aborts.
	ErrExternalSolverError = errors.New("engine: external solver error")

	// ErrTimeout means the wall-clock budget elapsed before a verdict was
	// reached.
	ErrTimeout = errors.New("engine: timed out")

	// ErrQuitRequested means Engine.Quit was called and observed at the
	// next cooperative check point.
	ErrQuitRequested = errors.New("engine: quit requested")

	// ErrInternal means an invariant the engine relies on was violated.
	ErrInternal = errors.New("engine: internal invariant violated")
)
