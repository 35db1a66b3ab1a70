// Package engine implements the search driver of spec.md §4.F: the
// decision loop that alternates bound-consistency checks, simplex pivots,
// sum-of-infeasibilities descent, and branching, backed by a journaled
// bound store for backtracking.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/config"
	"github.com/nnverify/marabou-go/pkg/nlr"
	"github.com/nnverify/marabou-go/pkg/plconstraint"
	"github.com/nnverify/marabou-go/pkg/soi"
	"github.com/nnverify/marabou-go/pkg/tableau"
)

// State is one of the engine's lifecycle states (spec.md §4.F).
type State int

const (
	// EngineUp means the engine is ready to process its next decision.
	EngineUp State = iota
	// Optimization means the engine is inside a SoI descent.
	Optimization
	SAT
	UNSAT
	Timeout
	QuitRequested
	Unknown
	Error
)

func (s State) String() string {
	switch s {
	case EngineUp:
		return "ENGINE_UP"
	case Optimization:
		return "OPTIMIZATION"
	case SAT:
		return "SAT"
	case UNSAT:
		return "UNSAT"
	case Timeout:
		return "TIMEOUT"
	case QuitRequested:
		return "QUIT_REQUESTED"
	case Unknown:
		return "UNKNOWN"
	case Error:
		return "ERROR"
	default:
		return "?"
	}
}

// Stats records search telemetry exposed via Engine.Stats (spec.md's
// source suite reports an equivalent counter set under different names;
// adapted here to this domain's vocabulary).
type Stats struct {
	Decisions        int
	Conflicts        int // closed search nodes (backtracks)
	Pivots           int
	SoIProposals     int
	SoIAccepts       int
	TighteningRounds int
}

// decisionRecord is one entry of the backtracking trail: the bound-store
// journal mark to undo to, and the remaining untried case splits of the
// constraint branched on (spec.md §4.F "pops bound-tightening entries
// pushed since the decision, then applies the next untried alternative").
type decisionRecord struct {
	mark         int
	eqMark       int // len(e.equations) before this decision's equations were appended
	constraint   plconstraint.Constraint
	snapshot     plconstraint.Constraint // Clone() taken before the decision mutated constraint
	alternatives []plconstraint.CaseSplit
}

// Engine owns a bound store and a fixed set of PL/NL constraints, and
// drives the search loop of spec.md §4.F. It is constructed once per
// query; pkg/cegar builds a fresh Engine for every refinement round
// (spec.md §4.H "fresh-engine-per-round").
type Engine struct {
	cfg         *config.EngineConfig
	store       *boundstore.Store
	equations   []affine.AffineForm
	constraints []plconstraint.Constraint // case-splittable PL constraints only
	net         *nlr.NLR                  // optional, for periodic re-propagation

	soiMgr *soi.Manager
	trail  []decisionRecord
	stats  Stats

	quit          bool
	deadline      time.Time
	lastTightenAt int // decision count at which periodicTightening last ran
}

// New builds an Engine over store (already holding the query's box bounds),
// equations (already normalized to EQ by pkg/preprocess), and constraints
// (the surviving PL constraints after preprocessing; nonlinear constraints
// are not branched on here, see pkg/cegar). net is optional and enables
// periodic symbolic/interval re-propagation every cfg.TighteningPeriod
// decisions (spec.md §4.F step 4).
func New(cfg *config.EngineConfig, store *boundstore.Store, equations []affine.AffineForm, constraints []plconstraint.Constraint, net *nlr.NLR) *Engine {
	e := &Engine{
		cfg:         cfg,
		store:       store,
		equations:   equations,
		constraints: constraints,
		net:         net,
	}
	e.soiMgr = soi.NewManager(cfg, constraints)
	e.lastTightenAt = -1
	if cfg.Timeout > 0 {
		e.deadline = time.Now().Add(cfg.Timeout)
	}
	return e
}

// Quit requests the engine transition to QuitRequested at its next
// cooperative check point (spec.md §4.F "Suspension points").
func (e *Engine) Quit() { e.quit = true }

// Stats returns a copy of the engine's current search telemetry.
func (e *Engine) Stats() Stats { return e.stats }

// branchable reports whether c is a case-splittable PL constraint that is
// still active and not phase-fixed; nonlinear kinds (whose AllCases is
// always empty) are never branch candidates.
func branchable(c plconstraint.Constraint) bool {
	return c.Active() && !c.PhaseFixed() && len(c.AllCases()) > 0
}

func (e *Engine) checkTimeBudget() error {
	if e.quit {
		return ErrQuitRequested
	}
	if !e.deadline.IsZero() && time.Now().After(e.deadline) {
		return ErrTimeout
	}
	return nil
}

// Solve runs the search loop to completion: bound-consistency check,
// simplex pivot, SoI descent or branch, periodic re-propagation, repeated
// until SAT, UNSAT, or a suspension condition (spec.md §4.F).
func (e *Engine) Solve(ctx context.Context) (State, []float64, error) {
	for {
		select {
		case <-ctx.Done():
			return Unknown, nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		default:
		}
		if err := e.checkTimeBudget(); err != nil {
			if err == ErrQuitRequested {
				return QuitRequested, nil, err
			}
			return Timeout, nil, err
		}

		if !e.store.Feasible() {
			ok, err := e.backtrack()
			if err != nil {
				return Error, nil, err
			}
			if !ok {
				return UNSAT, nil, nil
			}
			continue
		}

		if e.stats.Decisions > 0 && e.cfg.TighteningPeriod > 0 &&
			e.stats.Decisions%e.cfg.TighteningPeriod == 0 && e.lastTightenAt != e.stats.Decisions {
			e.lastTightenAt = e.stats.Decisions
			if err := e.periodicTightening(); err != nil {
				return Error, nil, err
			}
			continue
		}

		assignment, pivotErr := e.pivot()
		if pivotErr != nil {
			ok, err := e.backtrack()
			if err != nil {
				return Error, nil, err
			}
			if !ok {
				return UNSAT, nil, nil
			}
			continue
		}

		if e.allSatisfied(assignment) {
			return SAT, assignment, nil
		}

		accepted, err := e.soiRound(assignment)
		if err != nil {
			return Error, nil, err
		}
		if accepted {
			continue
		}

		ok, err := e.branch(assignment)
		if err != nil {
			return Error, nil, err
		}
		if !ok {
			return Unknown, nil, nil
		}
	}
}

// pivot asks the external tableau for a simplex-feasible assignment over
// the engine's current equations and the store's current box bounds
// (spec.md §4.F step 2).
func (e *Engine) pivot() ([]float64, error) {
	e.stats.Pivots++
	tb, err := tableau.FromStore(e.store, e.equations)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalSolverError, err)
	}
	assignment, err := tb.FeasibleAssignment()
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

// allSatisfied reports whether every active case-splittable PL constraint
// is satisfied by assignment.
func (e *Engine) allSatisfied(assignment []float64) bool {
	for _, c := range e.constraints {
		if !c.Active() {
			continue
		}
		if !c.Satisfied(assignment, e.cfg.Epsilon) {
			return false
		}
	}
	return true
}

// soiRound runs one sum-of-infeasibilities proposal: if accepted, its
// phase's tightenings are committed to the store as a new decision on the
// trail and the caller should re-enter the main loop; otherwise it is
// rejected and the caller falls back to branching (spec.md §4.G).
func (e *Engine) soiRound(assignment []float64) (bool, error) {
	e.soiMgr.InitializePhasePattern(assignment)
	oldCost := e.soiMgr.GetCurrentSoIPhasePattern(assignment).Value(assignment)
	if e.cfg.Epsilon.IsZero(oldCost) {
		return false, nil
	}

	idx, phase, ok := e.soiMgr.ProposePhasePatternUpdate(assignment)
	if !ok {
		return false, nil
	}
	e.stats.SoIProposals++

	c := e.constraints[idx]
	var cs plconstraint.CaseSplit
	found := false
	for _, candidate := range c.CaseSplits() {
		if candidate.Phase == phase {
			cs = candidate
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}

	snapshot := c.Clone()
	mark := e.store.Mark()
	eqMark := len(e.equations)
	infeasible := false
	for _, t := range cs.Tightenings {
		if _, err := e.store.Apply(t); err != nil {
			infeasible = true
			break
		}
	}
	if !infeasible {
		e.equations = append(e.equations, cs.Equations...)
	}
	if infeasible {
		e.store.Undo(mark)
		c.Restore(snapshot)
		return false, nil
	}

	// Tentatively commit the flip so GetCurrentSoIPhasePattern reflects it
	// when building the descent objective below (spec.md §4.G).
	e.soiMgr.AcceptCurrentPhasePattern(idx, phase)

	tb, err := tableau.FromStore(e.store, e.equations)
	if err != nil {
		e.soiMgr.RejectCurrentProposal()
		e.store.Undo(mark)
		e.equations = e.equations[:eqMark]
		c.Restore(snapshot)
		return false, nil
	}
	cost := e.soiMgr.GetCurrentSoIPhasePattern(assignment)
	_, newAssignment, err := tb.MinimizeExpr(cost)
	if err != nil {
		e.soiMgr.RejectCurrentProposal()
		e.store.Undo(mark)
		e.equations = e.equations[:eqMark]
		c.Restore(snapshot)
		return false, nil
	}
	newCost := e.soiMgr.GetCurrentSoIPhasePattern(newAssignment).Value(newAssignment)

	if !e.soiMgr.DecideToAcceptCurrentProposal(oldCost, newCost) {
		e.soiMgr.RejectCurrentProposal()
		e.store.Undo(mark)
		e.equations = e.equations[:eqMark]
		c.Restore(snapshot)
		return false, nil
	}

	e.stats.SoIAccepts++
	e.stats.Decisions++
	e.trail = append(e.trail, decisionRecord{mark: mark, eqMark: eqMark, constraint: c, snapshot: snapshot})
	return true, nil
}

// branch picks the first unsatisfied branchable constraint, pushes its
// remaining case splits onto the trail, and applies the first one (spec.md
// §4.F step 3(b)).
func (e *Engine) branch(assignment []float64) (bool, error) {
	for _, c := range e.constraints {
		if !branchable(c) {
			continue
		}
		if c.Satisfied(assignment, e.cfg.Epsilon) {
			continue
		}
		cases := c.CaseSplits()
		if len(cases) == 0 {
			continue
		}
		snapshot := c.Clone()
		mark := e.store.Mark()
		eqMark := len(e.equations)
		e.trail = append(e.trail, decisionRecord{mark: mark, eqMark: eqMark, constraint: c, snapshot: snapshot, alternatives: cases[1:]})
		e.stats.Decisions++
		if err := e.applyCaseSplit(c, cases[0]); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// applyCaseSplit pushes cs's tightenings into the store and its defining
// equations into the engine's equation set, so the next pivot respects the
// phase's linear semantics (spec.md §4.F step 3(b) "push... onto the
// trail, apply the first").
func (e *Engine) applyCaseSplit(c plconstraint.Constraint, cs plconstraint.CaseSplit) error {
	e.equations = append(e.equations, cs.Equations...)
	for _, t := range cs.Tightenings {
		if _, err := e.store.Apply(t); err != nil {
			var infeasible *boundstore.ErrInfeasibleBounds
			if asInfeasible(err, &infeasible) {
				return nil // left to the next loop iteration's Feasible() check
			}
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
	}
	return nil
}

func asInfeasible(err error, target **boundstore.ErrInfeasibleBounds) bool {
	ib, ok := err.(*boundstore.ErrInfeasibleBounds)
	if ok {
		*target = ib
	}
	return ok
}

// backtrack pops the trail until it finds a decision with an untried
// alternative, undoes the store to that decision's mark, and applies the
// next alternative. Returns false if the trail is exhausted (UNSAT).
func (e *Engine) backtrack() (bool, error) {
	e.stats.Conflicts++
	for len(e.trail) > 0 {
		top := e.trail[len(e.trail)-1]
		e.store.Undo(top.mark)
		e.equations = e.equations[:top.eqMark]
		if top.snapshot != nil {
			top.constraint.Restore(top.snapshot)
		}
		if len(top.alternatives) == 0 {
			e.trail = e.trail[:len(e.trail)-1]
			continue
		}
		next := top.alternatives[0]
		top.alternatives = top.alternatives[1:]
		e.trail[len(e.trail)-1] = top
		if err := e.applyCaseSplit(top.constraint, next); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// periodicTightening re-runs interval and (if enabled) symbolic/LP bound
// propagation over the NLR network every cfg.TighteningPeriod decisions,
// pushing any resulting tightenings into the store (spec.md §4.F step 4).
// A no-op when the engine was built without a network.
func (e *Engine) periodicTightening() error {
	e.stats.TighteningRounds++
	if e.net == nil {
		return nil
	}
	if err := e.net.IntervalArithmeticPropagation(e.store); err != nil {
		var infeasible *boundstore.ErrInfeasibleBounds
		if asInfeasible(err, &infeasible) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if e.cfg.SBT == config.SBTEnabled {
		if _, err := e.net.DeepPolyPropagation(e.store); err != nil {
			var infeasible *boundstore.ErrInfeasibleBounds
			if asInfeasible(err, &infeasible) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
	}
	if e.cfg.MILPTightening == config.MILPTighteningBackwardConverge {
		if _, err := e.net.LPRelaxationPropagation(e.store, 5); err != nil {
			return fmt.Errorf("%w: %v", ErrExternalSolverError, err)
		}
	}
	return nil
}

// SolveFunc adapts Engine.Solve to pkg/cegar's SolveFunc signature: ignore
// the passed-in linear/constraint/equation set (this Engine was already
// built over a specific round's relaxation) and report sat=true whenever a
// witness is found, leaving nonlinear satisfaction checking to the caller.
func (e *Engine) SolveFunc(ctx context.Context, _ *boundstore.Store, _ []plconstraint.Constraint, _ []affine.AffineForm) (bool, bool, []float64, error) {
	state, assignment, err := e.Solve(ctx)
	switch state {
	case SAT:
		return true, false, assignment, nil
	case UNSAT:
		return false, true, nil, nil
	default:
		return false, false, nil, err
	}
}
