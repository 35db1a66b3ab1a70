// Package cegar implements the counterexample-guided incremental
// linearization loop over nonlinear constraints (spec.md §4.H): each round
// tightens every NonlinearConstraint's linear envelope, hands the resulting
// linear relaxation to a fresh search engine, and either accepts a genuine
// counterexample, proves UNSAT, or refines and tries again.
package cegar

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/plconstraint"
)

// Verdict is the outcome of one Loop.Run call.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictSAT
	VerdictUNSAT
)

// ErrTimeBudgetExhausted is returned when Run's time-remaining callback
// reports no budget left before a verdict was reached.
var ErrTimeBudgetExhausted = errors.New("cegar: time budget exhausted before a verdict")

// SolveFunc is the narrow hook into a fresh search engine instance: given a
// bound store, the PL constraint set, and the current round's linear
// equations (the query's own equations plus every nonlinear constraint's
// latest Refine envelope), it returns whether the relaxed problem is SAT
// (with a witness assignment), UNSAT, or UNKNOWN. pkg/engine's Engine.Solve
// satisfies this signature via a thin adapter, keeping pkg/cegar free of an
// import on pkg/engine (spec.md §9 "fresh-engine-per-round": each CEGAR
// round gets its own engine instance, never a reused one).
type SolveFunc func(ctx context.Context, store *boundstore.Store, linear []plconstraint.Constraint, equations []affine.AffineForm) (sat bool, unsat bool, assignment []float64, err error)

// Loop runs the incremental-linearization CEGAR search over a fixed set of
// nonlinear constraints. Every round refines all of them against the
// current bounds; K caps the number of rounds and G is not read by Run, so
// the number of constraints refined per round never changes.
type Loop struct {
	Nonlinear []plconstraint.NonlinearConstraint
	Solve     SolveFunc
	Logger    *zap.Logger

	// K is the maximum number of refinement rounds before giving up with
	// VerdictUnknown.
	K int
	// G is a growth factor for the per-round relaxation budget. Run does
	// not read it.
	G float64
}

// Run executes the CEGAR loop: Refine every nonlinear constraint against
// store's current bounds, append the resulting linear rows to the equations
// passed to a fresh Solve call, and check whether the
// witness it returns actually satisfies every nonlinear constraint. If it
// does, that witness is a genuine SAT answer; if the relaxation itself is
// UNSAT, the original problem is UNSAT; otherwise refine and retry.
func (l *Loop) Run(ctx context.Context, store *boundstore.Store, linear []plconstraint.Constraint, eqs []affine.AffineForm, timeRemaining func() bool) (Verdict, []float64, error) {
	rounds := l.K
	if rounds <= 0 {
		rounds = 10
	}
	for round := 0; round < rounds; round++ {
		if timeRemaining != nil && !timeRemaining() {
			return VerdictUnknown, nil, ErrTimeBudgetExhausted
		}

		relaxed := append([]affine.AffineForm(nil), eqs...)
		for _, nc := range l.Nonlinear {
			relaxed = append(relaxed, nc.Refine(store)...)
		}

		sat, unsat, assignment, err := l.Solve(ctx, store, linear, relaxed)
		if err != nil {
			return VerdictUnknown, nil, fmt.Errorf("cegar: round %d: %w", round, err)
		}
		if unsat {
			return VerdictUNSAT, nil, nil
		}
		if !sat {
			continue
		}

		allSatisfied := true
		for _, nc := range l.Nonlinear {
			if !nc.Satisfied(assignment, store.Eps()) {
				allSatisfied = false
				break
			}
		}
		if allSatisfied {
			return VerdictSAT, assignment, nil
		}
		if l.Logger != nil {
			l.Logger.Debug("cegar: witness violates a nonlinear constraint, refining", zap.Int("round", round))
		}
	}
	return VerdictUnknown, nil, nil
}
