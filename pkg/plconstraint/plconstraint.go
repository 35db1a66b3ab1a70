// Package plconstraint implements the piecewise-linear and nonlinear
// constraint library of spec.md §4.C: per-activation-kind state machines
// tracking phase status, watching variable bounds, emitting derived
// tightenings, producing case splits, and exposing cost components for the
// sum-of-infeasibilities search (pkg/soi).
//
// Following spec.md §9's design note ("Phase-status variants"), every
// activation kind is one variant of the Constraint interface, implemented
// as a distinct Go type; there is no dynamic_cast-style downcasting, only
// type switches where the caller genuinely needs kind-specific behavior
// (serialization, NLR recognition).
package plconstraint

import (
	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// Kind identifies a PL/NL constraint's activation kind, used for
// serialization (spec.md §6) and NLR layer recognition (spec.md §4.F).
type Kind int

const (
	KindRelu Kind = iota
	KindAbsoluteValue
	KindSign
	KindRound
	KindLeakyRelu
	KindMax
	KindDisjunction
	KindSigmoid
	KindTanh
	KindSoftmax
	KindBilinear
)

func (k Kind) String() string {
	switch k {
	case KindRelu:
		return "Relu"
	case KindAbsoluteValue:
		return "Abs"
	case KindSign:
		return "Sign"
	case KindRound:
		return "Round"
	case KindLeakyRelu:
		return "LeakyRelu"
	case KindMax:
		return "Max"
	case KindDisjunction:
		return "Disjunction"
	case KindSigmoid:
		return "Sigmoid"
	case KindTanh:
		return "Tanh"
	case KindSoftmax:
		return "Softmax"
	case KindBilinear:
		return "Bilinear"
	default:
		return "?"
	}
}

// Phase is an opaque fixed-phase tag. Each Kind defines its own small set of
// valid phases (spec.md §3): ReLU has Active/Inactive, Sign/AbsoluteValue
// have Positive/Negative, Max has one InputElimination(i) per input plus
// AllEliminated. PhaseNotFixed is shared by every kind.
type Phase int

const (
	// PhaseNotFixed means the constraint's phase has not been determined.
	PhaseNotFixed Phase = iota
	// PhaseActive is ReLU's "b >= 0, f = b" phase.
	PhaseActive
	// PhaseInactive is ReLU's "b <= 0, f = 0" phase, and LeakyReLU's
	// "f = alpha*b" phase.
	PhaseInactive
	// PhasePositive is Sign/AbsoluteValue's "b >= 0" phase.
	PhasePositive
	// PhaseNegative is Sign/AbsoluteValue's "b <= 0" phase.
	PhaseNegative
	// PhaseMaxInputBase is the first of a contiguous run of per-input
	// "input i wins" phases for Max; phase PhaseMaxInputBase+i means input
	// i is the maximum. Max.AllEliminatedPhase() returns the sentinel
	// phase past the last input.
	PhaseMaxInputBase
)

// CaseSplit is one branch of a piecewise-linear constraint: a set of bound
// tightenings plus optional defining equations (spec.md's glossary entry
// "Case split").
type CaseSplit struct {
	Phase       Phase
	Tightenings []boundstore.Tightening
	Equations   []affine.AffineForm
}

// CostTerm is one addend of a cost_component expression together with the
// phase it is computed for, returned by GetAllCases-style enumeration used
// by the SoI manager's WalkSAT search (spec.md §4.G).
type CostTerm struct {
	Phase Phase
	Cost  affine.AffineForm
}

// Constraint is the common interface every activation kind implements
// (spec.md §4.C). Implementations hold a non-owning *boundstore.Store
// reference for pushing derived tightenings (spec.md §5 "Shared resource
// policy"); they never own the store.
type Constraint interface {
	boundstore.Watcher

	// Kind returns the constraint's activation kind.
	Kind() Kind

	// ParticipatingVariables returns the ordered list of variables the
	// constraint reasons about.
	ParticipatingVariables() []int

	// Watch registers the constraint with s on every participating
	// variable.
	Watch(s *boundstore.Store)
	// Unwatch unregisters the constraint from s.
	Unwatch(s *boundstore.Store)

	// Satisfied reports whether the assignment (indexed by variable)
	// satisfies the constraint, within eps.
	Satisfied(assignment []float64, eps tolerance.Eps) bool

	// PossibleFixes returns (variable, value) repairs that would locally
	// satisfy the constraint given the current assignment.
	PossibleFixes(assignment []float64) []Fix

	// CaseSplits returns the constraint's disjoint case splits. Must not
	// be called once PhaseFixed() is true.
	CaseSplits() []CaseSplit

	// PhaseFixed reports whether the constraint's phase is no longer
	// PhaseNotFixed.
	PhaseFixed() bool

	// ValidCaseSplit returns the single case split consistent with the
	// fixed phase. Only valid when PhaseFixed() is true.
	ValidCaseSplit() CaseSplit

	// Eliminate folds variable v's fixed value into the constraint,
	// possibly making it inactive (all participating variables fixed).
	Eliminate(v int, value float64) error

	// UpdateIndex renames variable old to newVar (spec.md §4.F variable
	// elimination / merging reindex passes).
	UpdateIndex(old, newVar int)

	// EntailedTightenings returns the bounds implied by the constraint's
	// semantics given the bound store's current bounds, without mutating
	// anything (spec.md §4.E step 3 consumes this; §4.C also pushes the
	// same logic eagerly from NotifyLowerBound/NotifyUpperBound).
	EntailedTightenings() ([]boundstore.Tightening, error)

	// CostComponent returns a non-negative linear expression that is
	// exactly zero when the constraint is satisfied in the given phase
	// under the current assignment (spec.md §4.C, used by pkg/soi).
	CostComponent(phase Phase, assignment []float64) affine.AffineForm

	// AllCases returns every phase the constraint could be assigned, used
	// by the SoI manager's MCMC/WalkSAT proposal step.
	AllCases() []Phase

	// Active reports whether the constraint is still active (spec.md §3
	// "active flag"); inactive constraints are skipped by the engine and
	// the SoI manager.
	Active() bool
	// SetActive sets the active flag.
	SetActive(bool)

	// Serialize renders the constraint as one line of the query text
	// format (spec.md §6).
	Serialize() string

	// Clone returns a deep copy for save/restore on backtrack
	// (spec.md §3 "Lifecycle").
	Clone() Constraint

	// Restore overwrites the constraint's mutable state (phase, active
	// flag, cached bounds, and any kind-specific search state) with a
	// previously taken Clone() snapshot, undoing whatever a branch or SoI
	// proposal mutated before it was abandoned (spec.md §4.F "On backtrack
	// the constraint's state is restored from a previously stashed clone").
	Restore(snapshot Constraint)
}

// Fix is a (variable, value) repair suggested by PossibleFixes.
type Fix struct {
	Var   int
	Value float64
}

// base holds the fields shared by every concrete constraint: the owning
// store, cached last-seen bounds, phase, and active flag (spec.md §3
// "PL constraint" data model). Concrete types embed base and add their own
// participating variables.
type base struct {
	store    *boundstore.Store
	eps      tolerance.Eps
	phase    Phase
	active   bool
	cachedLB map[int]float64
	cachedUB map[int]float64
}

func newBase(eps tolerance.Eps) base {
	return base{
		eps:      eps,
		active:   true,
		cachedLB: make(map[int]float64),
		cachedUB: make(map[int]float64),
	}
}

func (b *base) Active() bool    { return b.active }
func (b *base) SetActive(v bool) { b.active = v }
func (b *base) PhaseFixed() bool { return b.phase != PhaseNotFixed }

// refineCachedLB updates the cached lower bound for v only if x is strictly
// tighter, matching spec.md §4.C's "refine the cached bound only when
// strictly tighter" idempotence requirement.
func (b *base) refineCachedLB(v int, x float64) bool {
	if cur, ok := b.cachedLB[v]; ok && !b.eps.GT(x, cur) {
		return false
	}
	b.cachedLB[v] = x
	return true
}

func (b *base) refineCachedUB(v int, x float64) bool {
	if cur, ok := b.cachedUB[v]; ok && !b.eps.LT(x, cur) {
		return false
	}
	b.cachedUB[v] = x
	return true
}

func (b *base) lb(v int) float64 {
	if x, ok := b.cachedLB[v]; ok {
		return x
	}
	return b.store.GetLB(v)
}

func (b *base) ub(v int) float64 {
	if x, ok := b.cachedUB[v]; ok {
		return x
	}
	return b.store.GetUB(v)
}

// restore copies snapshot's phase, active flag, and cached bounds back onto
// b, the part of Restore shared by every concrete constraint kind.
func (b *base) restore(snapshot base) {
	b.phase = snapshot.phase
	b.active = snapshot.active
	b.cachedLB = cloneMap(snapshot.cachedLB)
	b.cachedUB = cloneMap(snapshot.cachedUB)
}
