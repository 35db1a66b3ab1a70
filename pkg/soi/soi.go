// Package soi implements the sum-of-infeasibilities search manager
// (spec.md §4.G): maintaining a phase pattern over every active PL
// constraint, proposing updates via MCMC or WalkSAT, and accepting or
// rejecting proposals with a Metropolis rule.
package soi

import (
	"math"
	"math/rand/v2"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/config"
	"github.com/nnverify/marabou-go/pkg/plconstraint"
)

// Manager holds a (borrowed, not owned) list of PL constraints and the
// current/last-accepted phase pattern over them, following spec.md §5's
// "shared resource policy": the manager never mutates a constraint's
// stored phase directly, only the pattern it proposes for cost evaluation.
type Manager struct {
	cfg         *config.EngineConfig
	rng         *rand.Rand
	constraints []plconstraint.Constraint

	current  []plconstraint.Phase // current proposal, indexed parallel to constraints
	accepted []plconstraint.Phase // last accepted pattern
}

// NewManager creates a Manager over the given constraints (only Active
// ones participate; Phase-fixed constraints are skipped since their phase
// is no longer a search decision).
func NewManager(cfg *config.EngineConfig, constraints []plconstraint.Constraint) *Manager {
	return &Manager{
		cfg:         cfg,
		rng:         cfg.NewRand(),
		constraints: constraints,
		current:     make([]plconstraint.Phase, len(constraints)),
		accepted:    make([]plconstraint.Phase, len(constraints)),
	}
}

func (m *Manager) searchable(i int) bool {
	c := m.constraints[i]
	return c.Active() && !c.PhaseFixed() && len(c.AllCases()) > 0
}

// InitializePhasePattern seeds the current phase pattern either from the
// assignment the input layer produced (SoIInitInputAssignment) or from the
// assignment the previous search iteration's simplex step produced
// (SoIInitCurrentAssignment), per spec.md §4.G.
func (m *Manager) InitializePhasePattern(assignment []float64) {
	for i, c := range m.constraints {
		if !m.searchable(i) {
			continue
		}
		m.current[i] = bestPhaseFor(c, assignment)
	}
	copy(m.accepted, m.current)
}

// bestPhaseFor picks the phase whose cost component is lowest under the
// current assignment, used by both initialization strategies.
func bestPhaseFor(c plconstraint.Constraint, assignment []float64) plconstraint.Phase {
	cases := c.AllCases()
	best := cases[0]
	bestCost := math.Inf(1)
	for _, p := range cases {
		cost := c.CostComponent(p, assignment).Value(assignment)
		if cost < bestCost {
			bestCost = cost
			best = p
		}
	}
	return best
}

// addCostTerm folds term's addends and scalar into total, merging
// coefficients for variables both forms already mention (spec.md §4.G "sum
// of infeasibilities" combines every constraint's cost term into one linear
// objective the tableau can minimize).
func addCostTerm(total, term affine.AffineForm) affine.AffineForm {
	for _, ad := range term.Addends() {
		total = total.Plus(ad.Var, ad.Coeff)
	}
	if term.Scalar() != 0 {
		total = affine.NewEquation(total.Addends(), total.Scalar()+term.Scalar(), affine.EQ)
	}
	return total
}

// GetCurrentSoIPhasePattern sums every searchable constraint's cost
// component under its current proposed phase into one affine form (spec.md
// §4.G "sum of infeasibilities"). The result is a genuine linear expression
// over the store's variables (see pkg/plconstraint's per-kind
// CostComponent), so it can be handed directly to tableau.MinimizeExpr; its
// numeric value at a given assignment is AffineForm.Value, not Scalar.
func (m *Manager) GetCurrentSoIPhasePattern(assignment []float64) affine.AffineForm {
	total := affine.Zero()
	for i, c := range m.constraints {
		if !m.searchable(i) {
			continue
		}
		total = addCostTerm(total, c.CostComponent(m.current[i], assignment))
	}
	return total
}

// ProposePhasePatternUpdate mutates a copy of the current pattern via
// either MCMC (uniform random constraint, uniform random alternative
// phase) or WalkSAT (pick the constraint and phase whose flip gives the
// largest positive cost reduction, falling back to MCMC when no flip
// reduces the cost) and returns the index
// flipped and its proposed phase, without committing the change (spec.md
// §4.G, scenario S5).
func (m *Manager) ProposePhasePatternUpdate(assignment []float64) (idx int, phase plconstraint.Phase, ok bool) {
	switch m.cfg.SoISearch {
	case config.SoISearchWalkSAT:
		return m.proposeWalkSAT(assignment)
	default:
		return m.proposeMCMC()
	}
}

func (m *Manager) searchableIndices() []int {
	var idxs []int
	for i := range m.constraints {
		if m.searchable(i) {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

func (m *Manager) proposeMCMC() (int, plconstraint.Phase, bool) {
	idxs := m.searchableIndices()
	if len(idxs) == 0 {
		return 0, plconstraint.PhaseNotFixed, false
	}
	i := idxs[m.rng.IntN(len(idxs))]
	cases := m.constraints[i].AllCases()
	p := cases[m.rng.IntN(len(cases))]
	return i, p, true
}

// bestAlternativePhase picks the phase other than current with the lowest
// cost. Unlike bestPhaseFor, current is excluded from the comparison, since
// getCostReduction needs the best phase to flip TO, which must differ from
// where the constraint already is.
func bestAlternativePhase(c plconstraint.Constraint, current plconstraint.Phase, assignment []float64) plconstraint.Phase {
	cases := c.AllCases()
	var best plconstraint.Phase
	bestCost := math.Inf(1)
	for _, p := range cases {
		if p == current {
			continue
		}
		cost := c.CostComponent(p, assignment).Value(assignment)
		if cost < bestCost {
			bestCost = cost
			best = p
		}
	}
	return best
}

// getCostReduction computes how much flipping constraint i's current phase
// to its best alternative would reduce the total SoI cost: the current
// phase's cost minus the alternative's cost (spec.md §4.G scenario S5). The
// result can be negative when every alternative phase costs more than the
// current one; WalkSAT only acts on a positive reduction.
func (m *Manager) getCostReduction(i int, assignment []float64) (reduction float64, bestPhase plconstraint.Phase) {
	c := m.constraints[i]
	currentCost := c.CostComponent(m.current[i], assignment).Value(assignment)
	bestPhase = bestAlternativePhase(c, m.current[i], assignment)
	bestCost := c.CostComponent(bestPhase, assignment).Value(assignment)
	return currentCost - bestCost, bestPhase
}

// proposeWalkSAT picks the searchable constraint whose one-step flip would
// reduce the total SoI cost the most, proposing its locally best phase
// (spec.md §4.G scenario S5: "compute (reducedCost, bestPhase) ... if the
// best reducedCost is positive, flip that constraint"). The worst-current-
// violation heuristic is not the same thing: a constraint can carry a large
// current cost yet have no beneficial flip (its best alternative phase
// costs even more), and a constraint with a smaller current cost can still
// have the largest one-step improvement. When no flip has a positive
// reduction, WalkSAT falls back to MCMC's uniform random proposal.
func (m *Manager) proposeWalkSAT(assignment []float64) (int, plconstraint.Phase, bool) {
	idxs := m.searchableIndices()
	if len(idxs) == 0 {
		return 0, plconstraint.PhaseNotFixed, false
	}
	best := idxs[0]
	bestReduction := math.Inf(-1)
	var bestPhase plconstraint.Phase
	for _, i := range idxs {
		reduction, phase := m.getCostReduction(i, assignment)
		if reduction > bestReduction {
			bestReduction = reduction
			best = i
			bestPhase = phase
		}
	}
	if bestReduction <= 0 {
		return m.proposeMCMC()
	}
	return best, bestPhase, true
}

// DecideToAcceptCurrentProposal applies the Metropolis acceptance rule:
// always accept an improving (lower-cost) proposal, and accept a worsening
// proposal with probability exp(-beta*deltaCost) (spec.md §4.G).
func (m *Manager) DecideToAcceptCurrentProposal(oldCost, newCost float64) bool {
	if newCost <= oldCost {
		return true
	}
	p := math.Exp(-m.cfg.Beta * (newCost - oldCost))
	return m.rng.Float64() < p
}

// AcceptCurrentPhasePattern commits idx's proposed phase into both the
// current and last-accepted pattern.
func (m *Manager) AcceptCurrentPhasePattern(idx int, phase plconstraint.Phase) {
	m.current[idx] = phase
	m.accepted[idx] = phase
}

// RejectCurrentProposal rolls the current pattern back to the last
// accepted one.
func (m *Manager) RejectCurrentProposal() {
	copy(m.current, m.accepted)
}

// UpdateCurrentPhasePatternForSatisfiedPLConstraints re-derives the phase
// of every searchable constraint that the current assignment already
// satisfies, so the search only spends proposals on genuinely violated
// constraints (spec.md §4.G).
func (m *Manager) UpdateCurrentPhasePatternForSatisfiedPLConstraints(assignment []float64) {
	for i, c := range m.constraints {
		if !m.searchable(i) {
			continue
		}
		if !c.Satisfied(assignment, m.cfg.Epsilon) {
			continue
		}
		m.current[i] = bestPhaseFor(c, assignment)
		m.accepted[i] = m.current[i]
	}
}

// RemoveCostComponent marks constraint i as no longer contributing to the
// SoI sum, used once a constraint's phase is permanently fixed by the
// search (it becomes a hard constraint rather than a soft cost term).
func (m *Manager) RemoveCostComponent(idx int) {
	m.current[idx] = plconstraint.PhaseNotFixed
}
