// Package config holds the explicit configuration threaded through the
// engine, replacing the source project's process-wide Options singleton and
// rand() source (see spec.md §9 "Globals"). Every constructor in this module
// takes an *EngineConfig rather than reading package-level state.
package config

import (
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// SoIInitStrategy selects how the sum-of-infeasibilities manager seeds its
// phase pattern (spec.md §4.G).
type SoIInitStrategy int

const (
	// SoIInitInputAssignment forward-simulates the input-layer assignment
	// through the NLR and reads each PL constraint's phase off the result.
	SoIInitInputAssignment SoIInitStrategy = iota
	// SoIInitCurrentAssignment reads each PL constraint's phase directly
	// from the tableau's current variable assignment.
	SoIInitCurrentAssignment
)

// SoISearchStrategy selects how the SoI manager proposes phase-pattern
// updates (spec.md §4.G).
type SoISearchStrategy int

const (
	// SoISearchMCMC draws a uniformly random constraint and phase.
	SoISearchMCMC SoISearchStrategy = iota
	// SoISearchWalkSAT greedily flips the constraint with the largest
	// one-step cost reduction, falling back to MCMC on a plateau.
	SoISearchWalkSAT
)

// SymbolicBoundTighteningMode selects whether the engine runs forward
// symbolic bound propagation (spec.md §4.D symbolic_bound_propagation).
type SymbolicBoundTighteningMode int

const (
	// SBTNone disables forward symbolic bound tightening.
	SBTNone SymbolicBoundTighteningMode = iota
	// SBTEnabled runs one forward symbolic sweep per tightening round.
	SBTEnabled
)

// MILPTighteningType mirrors the original engine's
// MILPSolverBoundTighteningType: which LP/MILP-based bound tightening pass,
// if any, the engine invokes periodically (spec.md §4.F step 4, §4.I).
type MILPTighteningType int

const (
	// MILPTighteningNone performs no LP/MILP-based tightening.
	MILPTighteningNone MILPTighteningType = iota
	// MILPTighteningLP solves one min/max LP per neuron, once.
	MILPTighteningLP
	// MILPTighteningLPIncremental re-solves only neurons whose bounds
	// changed since the last round.
	MILPTighteningLPIncremental
	// MILPTighteningBackwardConverge iterates the LP pass to a fixed point
	// (spec.md §4.I).
	MILPTighteningBackwardConverge
)

// EngineConfig bundles every tunable of a solve: numerical tolerance, the
// PRNG seed, the SoI strategy selections, bound-tightening cadence, and a
// structured logger. It is constructed once (by the CLI or by a caller
// embedding this module) and passed by reference to every component that
// needs it; nothing here is read from a package-level global.
type EngineConfig struct {
	// Epsilon is the tolerance for the kernel's epsilon-aware float
	// comparisons (spec.md §9 "Numerical tolerance").
	Epsilon tolerance.Eps

	// Seed seeds the PRNG that NewRand gives each caller (the SoI manager).
	Seed uint64

	// SoIInit selects the SoI phase-pattern initialization strategy.
	SoIInit SoIInitStrategy

	// SoISearch selects the SoI proposal strategy.
	SoISearch SoISearchStrategy

	// SBT selects whether symbolic bound tightening runs.
	SBT SymbolicBoundTighteningMode

	// MILPTightening selects the LP/MILP bound-tightening pass.
	MILPTightening MILPTighteningType

	// TighteningPeriod is "every k decisions" from spec.md §4.F step 4.
	TighteningPeriod int

	// Beta is the Metropolis inverse-temperature parameter, spec.md §4.G's
	// PROBABILITY_DENSITY_PARAMETER.
	Beta float64

	// Timeout is the wall-clock budget for one Engine.Solve call. Zero
	// means unbounded.
	Timeout time.Duration

	// NumWorkers bounds the worker pool used by NLR.Simulate (spec.md §5).
	NumWorkers int

	// Logger is the structured logger threaded through the engine, the
	// CEGAR loop, and the CLI. Never nil after Default.
	Logger *zap.Logger
}

// Default returns an EngineConfig with the values the original engine ships
// with: epsilon 1e-6, WalkSAT search seeded from an input assignment, no
// MILP tightening, a tightening period of 10 decisions, and a Metropolis
// beta of 1.0.
func Default() *EngineConfig {
	return &EngineConfig{
		Epsilon:          tolerance.New(tolerance.Default),
		Seed:             1,
		SoIInit:          SoIInitInputAssignment,
		SoISearch:        SoISearchWalkSAT,
		SBT:              SBTEnabled,
		MILPTightening:   MILPTighteningNone,
		TighteningPeriod: 10,
		Beta:             1.0,
		NumWorkers:       1,
		Logger:           zap.NewNop(),
	}
}

// NewRand returns a new PRNG seeded from c.Seed. Callers (the SoI manager,
// branching heuristics) hold onto the returned *rand.Rand rather than
// sharing a package-level source, so two Engines built from configs with the
// same seed are independent and deterministic (spec.md §8 property 7).
func (c *EngineConfig) NewRand() *rand.Rand {
	return rand.New(rand.NewPCG(c.Seed, c.Seed^0x9e3779b97f4a7c15))
}
