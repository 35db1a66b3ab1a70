package plconstraint

import (
	"fmt"
	"strings"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// disjunctionPhaseBase offsets Disjunction's per-disjunct phases into their
// own local numbering, following the same convention as roundPhaseBase.
const disjunctionPhaseBase Phase = 2 << 20

// Disjunction implements a generic disjunctive PL constraint: a set of
// disjuncts, each a bundle of tightenings and equations, of which at least
// one must hold (spec.md §4.C "Disjunction"). It is the constraint kind
// used both directly by queries and internally to express Max/Abs-style
// constraints when a uniform disjunctive encoding is convenient.
type Disjunction struct {
	base
	Disjuncts []CaseSplit
	vars      []int
}

// NewDisjunction creates a Disjunction over the given disjuncts. vars is
// the full set of variables participating across every disjunct.
func NewDisjunction(store *boundstore.Store, eps tolerance.Eps, disjuncts []CaseSplit, vars []int) *Disjunction {
	d := &Disjunction{base: newBase(eps)}
	d.store = store
	d.Disjuncts = make([]CaseSplit, len(disjuncts))
	for i, dj := range disjuncts {
		dj.Phase = disjunctionPhaseBase + Phase(i)
		d.Disjuncts[i] = dj
	}
	d.vars = append([]int(nil), vars...)
	return d
}

func (d *Disjunction) Kind() Kind                    { return KindDisjunction }
func (d *Disjunction) ParticipatingVariables() []int { return d.vars }

func (d *Disjunction) Watch(s *boundstore.Store) {
	for _, v := range d.vars {
		s.Watch(v, d)
	}
}

func (d *Disjunction) Unwatch(s *boundstore.Store) {
	for _, v := range d.vars {
		s.Unwatch(v, d)
	}
}

func (d *Disjunction) AllCases() []Phase {
	out := make([]Phase, len(d.Disjuncts))
	for i, dj := range d.Disjuncts {
		out[i] = dj.Phase
	}
	return out
}

func disjunctHolds(dj CaseSplit, assignment []float64, eps tolerance.Eps) bool {
	for _, eq := range dj.Equations {
		if !eq.Satisfied(assignment, eps) {
			return false
		}
	}
	for _, t := range dj.Tightenings {
		switch t.Kind {
		case boundstore.Lower:
			if !eps.GE(assignment[t.Var], t.Value) {
				return false
			}
		case boundstore.Upper:
			if !eps.LE(assignment[t.Var], t.Value) {
				return false
			}
		}
	}
	return true
}

func (d *Disjunction) Satisfied(assignment []float64, eps tolerance.Eps) bool {
	for _, dj := range d.Disjuncts {
		if disjunctHolds(dj, assignment, eps) {
			return true
		}
	}
	return false
}

func (d *Disjunction) PossibleFixes(assignment []float64) []Fix {
	if d.Satisfied(assignment, d.eps) {
		return nil
	}
	var fixes []Fix
	for _, t := range d.Disjuncts[0].Tightenings {
		fixes = append(fixes, Fix{t.Var, t.Value})
	}
	return fixes
}

func (d *Disjunction) CaseSplits() []CaseSplit {
	if d.PhaseFixed() {
		panic("plconstraint: CaseSplits called on a phase-fixed Disjunction")
	}
	return append([]CaseSplit(nil), d.Disjuncts...)
}

func (d *Disjunction) ValidCaseSplit() CaseSplit {
	for _, dj := range d.Disjuncts {
		if dj.Phase == d.phase {
			return dj
		}
	}
	panic("plconstraint: ValidCaseSplit called on a Disjunction with no fixed phase")
}

func (d *Disjunction) Eliminate(v int, value float64) error {
	for _, pv := range d.vars {
		if pv == v {
			d.active = false
			return nil
		}
	}
	return nil
}

func (d *Disjunction) UpdateIndex(old, newVar int) {
	for i, v := range d.vars {
		if v == old {
			d.vars[i] = newVar
		}
	}
	for i, dj := range d.Disjuncts {
		eqs := make([]affine.AffineForm, len(dj.Equations))
		for j, eq := range dj.Equations {
			eqs[j] = eq.UpdateIndex(old, newVar)
		}
		tts := make([]boundstore.Tightening, len(dj.Tightenings))
		for j, t := range dj.Tightenings {
			if t.Var == old {
				t.Var = newVar
			}
			tts[j] = t
		}
		d.Disjuncts[i].Equations = eqs
		d.Disjuncts[i].Tightenings = tts
	}
}

func (d *Disjunction) NotifyLowerBound(s *boundstore.Store, v int, x float64) error {
	return d.refresh()
}

func (d *Disjunction) NotifyUpperBound(s *boundstore.Store, v int, x float64) error {
	return d.refresh()
}

// refresh fixes the phase once only one disjunct remains feasible under the
// bound store's current bounds (spec.md §4.C's general elimination rule,
// applied uniformly across disjuncts).
func (d *Disjunction) refresh() error {
	if !d.active || d.PhaseFixed() {
		return nil
	}
	feasible := -1
	count := 0
	for _, dj := range d.Disjuncts {
		if d.disjunctFeasible(dj) {
			count++
			feasible = int(dj.Phase)
		}
	}
	if count == 1 {
		d.phase = Phase(feasible)
	}
	return nil
}

func (d *Disjunction) disjunctFeasible(dj CaseSplit) bool {
	for _, t := range dj.Tightenings {
		switch t.Kind {
		case boundstore.Lower:
			if d.eps.GT(t.Value, d.ub(t.Var)) {
				return false
			}
		case boundstore.Upper:
			if d.eps.LT(t.Value, d.lb(t.Var)) {
				return false
			}
		}
	}
	return true
}

func (d *Disjunction) EntailedTightenings() ([]boundstore.Tightening, error) {
	if !d.PhaseFixed() {
		return nil, nil
	}
	return d.ValidCaseSplit().Tightenings, nil
}

// CostComponent sums the chosen disjunct's equation/tightening violations.
// Unlike the single-equation PL kinds, a disjunct can bundle an arbitrary
// number of equations over different variables, so there is no single
// natural signed linear form to hand the tableau; the violation magnitude
// is folded into the scalar instead (its Value is still the correct
// violation under Evaluate+Scalar, it just isn't itself descended by
// MinimizeExpr).
func (d *Disjunction) CostComponent(phase Phase, assignment []float64) affine.AffineForm {
	for _, dj := range d.Disjuncts {
		if dj.Phase != phase {
			continue
		}
		cost := 0.0
		for _, eq := range dj.Equations {
			cost += absf(eq.Evaluate(assignment) - eq.Scalar())
		}
		for _, t := range dj.Tightenings {
			switch t.Kind {
			case boundstore.Lower:
				if v := t.Value - assignment[t.Var]; v > 0 {
					cost += v
				}
			case boundstore.Upper:
				if v := assignment[t.Var] - t.Value; v > 0 {
					cost += v
				}
			}
		}
		return constCost(cost)
	}
	return affine.Zero()
}

// constCost wraps a non-negative violation magnitude v as a zero-addend
// affine form whose Value() is exactly v, for cost terms with no single
// natural linear direction (see Disjunction.CostComponent).
func constCost(v float64) affine.AffineForm {
	return affine.NewEquation(nil, v, affine.EQ)
}

func (d *Disjunction) Serialize() string {
	parts := make([]string, len(d.Disjuncts))
	for i, dj := range d.Disjuncts {
		tparts := make([]string, len(dj.Tightenings))
		for j, t := range dj.Tightenings {
			tparts[j] = fmt.Sprintf("%s(%d)=%g", t.Kind, t.Var, t.Value)
		}
		parts[i] = strings.Join(tparts, "&")
	}
	return fmt.Sprintf("Disjunction,%s", strings.Join(parts, "|"))
}

func (d *Disjunction) Clone() Constraint {
	cp := *d
	cp.vars = append([]int(nil), d.vars...)
	cp.Disjuncts = append([]CaseSplit(nil), d.Disjuncts...)
	cp.cachedLB = cloneMap(d.cachedLB)
	cp.cachedUB = cloneMap(d.cachedUB)
	return &cp
}

func (d *Disjunction) Restore(snapshot Constraint) {
	s := snapshot.(*Disjunction)
	d.base.restore(s.base)
}
