package cegar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/config"
	"github.com/nnverify/marabou-go/pkg/plconstraint"
)

// TestRunAcceptsWitnessThatSatisfiesNonlinear exercises the happy path:
// the fake solver immediately returns a witness the Sigmoid constraint
// actually satisfies, so no refinement round is needed.
func TestRunAcceptsWitnessThatSatisfiesNonlinear(t *testing.T) {
	cfg := config.Default()
	store := boundstore.New(2, cfg.Epsilon)
	_, err := store.TightenLB(0, -1)
	require.NoError(t, err)
	_, err = store.TightenUB(0, 1)
	require.NoError(t, err)
	sg := plconstraint.NewSigmoid(store, cfg.Epsilon, 0, 1)

	witness := []float64{0, 0.5}
	solve := func(ctx context.Context, s *boundstore.Store, linear []plconstraint.Constraint, equations []affine.AffineForm) (bool, bool, []float64, error) {
		return true, false, witness, nil
	}

	loop := &Loop{
		Nonlinear: []plconstraint.NonlinearConstraint{sg},
		Solve:     solve,
		K:         3,
	}

	verdict, assignment, err := loop.Run(context.Background(), store, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictSAT, verdict)
	assert.Equal(t, witness, assignment)
}

// TestRunRefinesUntilWitnessSatisfiesNonlinear checks that a solver
// returning a sequence of witnesses, only the last of which actually
// satisfies the nonlinear constraint, still converges to SAT within the
// round budget rather than stopping at the first (bad) witness.
func TestRunRefinesUntilWitnessSatisfiesNonlinear(t *testing.T) {
	cfg := config.Default()
	store := boundstore.New(2, cfg.Epsilon)
	_, err := store.TightenLB(0, -1)
	require.NoError(t, err)
	_, err = store.TightenUB(0, 1)
	require.NoError(t, err)
	sg := plconstraint.NewSigmoid(store, cfg.Epsilon, 0, 1)

	calls := 0
	solve := func(ctx context.Context, s *boundstore.Store, linear []plconstraint.Constraint, equations []affine.AffineForm) (bool, bool, []float64, error) {
		calls++
		if calls < 3 {
			return true, false, []float64{0, 10}, nil
		}
		return true, false, []float64{0, 0.5}, nil
	}

	loop := &Loop{
		Nonlinear: []plconstraint.NonlinearConstraint{sg},
		Solve:     solve,
		K:         5,
	}

	verdict, assignment, err := loop.Run(context.Background(), store, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictSAT, verdict)
	assert.Equal(t, []float64{0, 0.5}, assignment)
	assert.Equal(t, 3, calls)
}

// TestRunReturnsUNSATImmediately asserts an UNSAT relaxation short-circuits
// the loop without consuming further rounds.
func TestRunReturnsUNSATImmediately(t *testing.T) {
	cfg := config.Default()
	store := boundstore.New(2, cfg.Epsilon)
	sg := plconstraint.NewSigmoid(store, cfg.Epsilon, 0, 1)

	calls := 0
	solve := func(ctx context.Context, s *boundstore.Store, linear []plconstraint.Constraint, equations []affine.AffineForm) (bool, bool, []float64, error) {
		calls++
		return false, true, nil, nil
	}

	loop := &Loop{
		Nonlinear: []plconstraint.NonlinearConstraint{sg},
		Solve:     solve,
		K:         5,
	}

	verdict, assignment, err := loop.Run(context.Background(), store, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictUNSAT, verdict)
	assert.Nil(t, assignment)
	assert.Equal(t, 1, calls)
}

// TestRunGivesUpAfterRoundBudget asserts VerdictUnknown (not an error) once
// K rounds pass without a genuinely satisfying witness.
func TestRunGivesUpAfterRoundBudget(t *testing.T) {
	cfg := config.Default()
	store := boundstore.New(2, cfg.Epsilon)
	sg := plconstraint.NewSigmoid(store, cfg.Epsilon, 0, 1)

	solve := func(ctx context.Context, s *boundstore.Store, linear []plconstraint.Constraint, equations []affine.AffineForm) (bool, bool, []float64, error) {
		return true, false, []float64{0, 10}, nil
	}

	loop := &Loop{
		Nonlinear: []plconstraint.NonlinearConstraint{sg},
		Solve:     solve,
		K:         2,
	}

	verdict, assignment, err := loop.Run(context.Background(), store, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictUnknown, verdict)
	assert.Nil(t, assignment)
}

// TestRunRespectsTimeBudget asserts the loop stops with
// ErrTimeBudgetExhausted the moment timeRemaining reports false, even if
// round budget K has not yet been exhausted.
func TestRunRespectsTimeBudget(t *testing.T) {
	cfg := config.Default()
	store := boundstore.New(2, cfg.Epsilon)
	sg := plconstraint.NewSigmoid(store, cfg.Epsilon, 0, 1)

	solve := func(ctx context.Context, s *boundstore.Store, linear []plconstraint.Constraint, equations []affine.AffineForm) (bool, bool, []float64, error) {
		t.Fatal("Solve should not be called once the time budget is exhausted")
		return false, false, nil, nil
	}

	loop := &Loop{
		Nonlinear: []plconstraint.NonlinearConstraint{sg},
		Solve:     solve,
		K:         5,
	}

	verdict, _, err := loop.Run(context.Background(), store, nil, nil, func() bool { return false })
	assert.ErrorIs(t, err, ErrTimeBudgetExhausted)
	assert.Equal(t, VerdictUnknown, verdict)
}
