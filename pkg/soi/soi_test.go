package soi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/config"
	"github.com/nnverify/marabou-go/pkg/plconstraint"
)

func newTestConfig() *config.EngineConfig {
	cfg := config.Default()
	cfg.Seed = 42
	return cfg
}

// TestWalkSATPicksLargestCostReduction mirrors spec.md's S5 scenario: three
// ReLUs and a Max, each currently pinned to Active/input-1, with one-step
// cost reductions of 2, 1, -2, and 1.5 respectively. WalkSAT must flip the
// constraint with the largest reduction (relu1, reduction 2) even though
// its current violation isn't the largest of the four (relu3's is) and the
// Max's reduction (1.5) is closer to relu1's than relu2's is.
func TestWalkSATPicksLargestCostReduction(t *testing.T) {
	cfg := newTestConfig()
	cfg.SoISearch = config.SoISearchWalkSAT
	store := boundstore.New(9, cfg.Epsilon)
	relu1 := plconstraint.NewRelu(store, cfg.Epsilon, 0, 1)
	relu2 := plconstraint.NewRelu(store, cfg.Epsilon, 2, 3)
	relu3 := plconstraint.NewRelu(store, cfg.Epsilon, 4, 5)
	max := plconstraint.NewMax(store, cfg.Epsilon, []int{6, 7}, 8)

	m := NewManager(cfg, []plconstraint.Constraint{relu1, relu2, relu3, max})
	// relu1: b=5, f=1.5 => |f-b|=3.5 (Active), |f|=1.5 (Inactive); reduction 2.
	// relu2: b=3, f=1   => |f-b|=2   (Active), |f|=1   (Inactive); reduction 1.
	// relu3: b=2, f=7   => |f-b|=5   (Active), |f|=7   (Inactive); reduction -2.
	// max:   v0=8.75, v1=8, f=10, currently pinned to input 1; reduction 1.5.
	assignment := []float64{5, 1.5, 3, 1, 2, 7, 8.75, 8, 10}
	m.InitializePhasePattern(assignment)
	m.current[0] = plconstraint.PhaseActive
	m.current[1] = plconstraint.PhaseActive
	m.current[2] = plconstraint.PhaseActive
	m.current[3] = plconstraint.PhaseMaxInputBase + 1

	reduction0, phase0 := m.getCostReduction(0, assignment)
	reduction1, phase1 := m.getCostReduction(1, assignment)
	reduction2, phase2 := m.getCostReduction(2, assignment)
	reduction3, phase3 := m.getCostReduction(3, assignment)
	assert.InDelta(t, 2, reduction0, 1e-9)
	assert.Equal(t, plconstraint.PhaseInactive, phase0)
	assert.InDelta(t, 1, reduction1, 1e-9)
	assert.Equal(t, plconstraint.PhaseInactive, phase1)
	assert.InDelta(t, -2, reduction2, 1e-9)
	assert.Equal(t, plconstraint.PhaseInactive, phase2)
	assert.InDelta(t, 1.5, reduction3, 1e-9)
	assert.Equal(t, plconstraint.PhaseMaxInputBase, phase3)

	idx, phase, ok := m.ProposePhasePatternUpdate(assignment)
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.Equal(t, plconstraint.PhaseInactive, phase)
}

// TestWalkSATFallsBackToMCMCWhenNoReductionHelps asserts WalkSAT defers to
// MCMC's uniform random proposal when every searchable constraint's best
// alternative phase costs at least as much as its current one (spec.md
// §4.G scenario S5's "otherwise fall back to MCMC").
func TestWalkSATFallsBackToMCMCWhenNoReductionHelps(t *testing.T) {
	cfg := newTestConfig()
	cfg.SoISearch = config.SoISearchWalkSAT
	store := boundstore.New(2, cfg.Epsilon)
	r := plconstraint.NewRelu(store, cfg.Epsilon, 0, 1)

	m := NewManager(cfg, []plconstraint.Constraint{r})
	// b=2, f=1: Active cost |f-b|=1, Inactive cost |f|=1; already optimal
	// either way, so flipping Active->Inactive never reduces cost.
	assignment := []float64{2, 1}
	m.current[0] = plconstraint.PhaseActive

	idx, phase, ok := m.ProposePhasePatternUpdate(assignment)
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.Contains(t, []plconstraint.Phase{plconstraint.PhaseActive, plconstraint.PhaseInactive}, phase)
}

func TestMetropolisAlwaysAcceptsImprovement(t *testing.T) {
	cfg := newTestConfig()
	store := boundstore.New(2, cfg.Epsilon)
	r := plconstraint.NewRelu(store, cfg.Epsilon, 0, 1)
	m := NewManager(cfg, []plconstraint.Constraint{r})

	assert.True(t, m.DecideToAcceptCurrentProposal(5, 2))
	assert.True(t, m.DecideToAcceptCurrentProposal(5, 5))
}

func TestRejectRollsBackToAccepted(t *testing.T) {
	cfg := newTestConfig()
	store := boundstore.New(2, cfg.Epsilon)
	r := plconstraint.NewRelu(store, cfg.Epsilon, 0, 1)
	m := NewManager(cfg, []plconstraint.Constraint{r})
	m.current[0] = plconstraint.PhaseActive
	m.accepted[0] = plconstraint.PhaseInactive

	m.RejectCurrentProposal()
	assert.Equal(t, plconstraint.PhaseInactive, m.current[0])
}
