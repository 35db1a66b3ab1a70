package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/config"
	"github.com/nnverify/marabou-go/pkg/plconstraint"
)

// TestEngineBranchesReluIntoActivePhaseSAT mirrors spec.md's S1-style
// scenario: a single ReLU forced positive by an equation converges to SAT
// with f = b, reached via the engine's branch-on-case-split path (the SoI
// cost component alone is not discriminating enough here, so this also
// exercises the branch fallback).
func TestEngineBranchesReluIntoActivePhaseSAT(t *testing.T) {
	cfg := config.Default()
	store := boundstore.New(2, cfg.Epsilon)
	r := plconstraint.NewRelu(store, cfg.Epsilon, 0, 1)
	r.Watch(store)

	_, err := store.TightenLB(0, -5)
	require.NoError(t, err)
	_, err = store.TightenUB(0, 5)
	require.NoError(t, err)

	eq := affine.NewEquation([]affine.Addend{{Coeff: 1, Var: 0}}, 3, affine.EQ)
	eng := New(cfg, store, []affine.AffineForm{eq}, []plconstraint.Constraint{r}, nil)

	state, assignment, err := eng.Solve(context.Background())
	require.NoError(t, err)
	require.Equal(t, SAT, state)
	assert.InDelta(t, 3, assignment[0], 1e-6)
	assert.InDelta(t, 3, assignment[1], 1e-6)
}

// TestEngineDetectsUNSATFromContradictoryEquations asserts the engine
// surfaces UNSAT (not an error) when the root relaxation itself has no
// feasible point.
func TestEngineDetectsUNSATFromContradictoryEquations(t *testing.T) {
	cfg := config.Default()
	store := boundstore.New(1, cfg.Epsilon)
	_, err := store.TightenLB(0, -10)
	require.NoError(t, err)
	_, err = store.TightenUB(0, 10)
	require.NoError(t, err)

	eqs := []affine.AffineForm{
		affine.NewEquation([]affine.Addend{{Coeff: 1, Var: 0}}, 3, affine.EQ),
		affine.NewEquation([]affine.Addend{{Coeff: 1, Var: 0}}, 5, affine.EQ),
	}
	eng := New(cfg, store, eqs, nil, nil)

	state, assignment, err := eng.Solve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UNSAT, state)
	assert.Nil(t, assignment)
}

// TestEngineQuitRequestedStopsImmediately asserts Quit is observed at the
// very next cooperative check point, before any decision is made.
func TestEngineQuitRequestedStopsImmediately(t *testing.T) {
	cfg := config.Default()
	store := boundstore.New(1, cfg.Epsilon)
	_, err := store.TightenLB(0, -1)
	require.NoError(t, err)
	_, err = store.TightenUB(0, 1)
	require.NoError(t, err)

	eng := New(cfg, store, nil, nil, nil)
	eng.Quit()

	state, assignment, err := eng.Solve(context.Background())
	assert.Equal(t, QuitRequested, state)
	assert.Nil(t, assignment)
	assert.True(t, errors.Is(err, ErrQuitRequested))
}

// TestStateString covers the lifecycle states' string rendering used by
// logging and the CLI's exit-code mapping.
func TestStateString(t *testing.T) {
	assert.Equal(t, "SAT", SAT.String())
	assert.Equal(t, "UNSAT", UNSAT.String())
	assert.Equal(t, "UNKNOWN", Unknown.String())
}
