package plconstraint

import (
	"fmt"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// AbsoluteValue implements f = |b| (spec.md §4.C "AbsoluteValue", scenarios
// S1/S2). b is the backward variable, f the forward variable.
type AbsoluteValue struct {
	base
	B, F int
}

// NewAbsoluteValue creates an AbsoluteValue constraint over b and f.
func NewAbsoluteValue(store *boundstore.Store, eps tolerance.Eps, b, f int) *AbsoluteValue {
	a := &AbsoluteValue{base: newBase(eps), B: b, F: f}
	a.store = store
	return a
}

func (a *AbsoluteValue) Kind() Kind                    { return KindAbsoluteValue }
func (a *AbsoluteValue) ParticipatingVariables() []int { return []int{a.B, a.F} }
func (a *AbsoluteValue) Watch(s *boundstore.Store)     { s.Watch(a.B, a); s.Watch(a.F, a) }
func (a *AbsoluteValue) Unwatch(s *boundstore.Store)   { s.Unwatch(a.B, a); s.Unwatch(a.F, a) }
func (a *AbsoluteValue) AllCases() []Phase             { return []Phase{PhasePositive, PhaseNegative} }

func (a *AbsoluteValue) Satisfied(assignment []float64, eps tolerance.Eps) bool {
	return eps.Equal(assignment[a.F], absf(assignment[a.B]))
}

func (a *AbsoluteValue) PossibleFixes(assignment []float64) []Fix {
	b, f := assignment[a.B], assignment[a.F]
	if a.Satisfied(assignment, a.eps) {
		return nil
	}
	return []Fix{{a.F, absf(b)}, {a.B, f}, {a.B, -f}}
}

func (a *AbsoluteValue) CaseSplits() []CaseSplit {
	if a.PhaseFixed() {
		panic("plconstraint: CaseSplits called on a phase-fixed AbsoluteValue")
	}
	return []CaseSplit{
		{
			Phase:       PhasePositive,
			Tightenings: []boundstore.Tightening{{Var: a.B, Value: 0, Kind: boundstore.Lower}},
			Equations:   []affine.AffineForm{affine.NewLinearExpression([]affine.Addend{{1, a.B}, {-1, a.F}})},
		},
		{
			Phase:       PhaseNegative,
			Tightenings: []boundstore.Tightening{{Var: a.B, Value: 0, Kind: boundstore.Upper}},
			Equations:   []affine.AffineForm{affine.NewLinearExpression([]affine.Addend{{1, a.B}, {1, a.F}})},
		},
	}
}

func (a *AbsoluteValue) ValidCaseSplit() CaseSplit {
	for _, cs := range a.CaseSplits() {
		if cs.Phase == a.phase {
			return cs
		}
	}
	panic("plconstraint: ValidCaseSplit called on an AbsoluteValue with no fixed phase")
}

func (a *AbsoluteValue) Eliminate(v int, value float64) error {
	if v == a.B || v == a.F {
		a.active = false
	}
	return nil
}

func (a *AbsoluteValue) UpdateIndex(old, newVar int) {
	if a.B == old {
		a.B = newVar
	}
	if a.F == old {
		a.F = newVar
	}
}

func (a *AbsoluteValue) setPhase(p Phase) {
	if a.phase != PhaseNotFixed && a.phase != p {
		panic(fmt.Sprintf("plconstraint: AbsoluteValue phase changed from %v to %v", a.phase, p))
	}
	a.phase = p
}

func (a *AbsoluteValue) NotifyLowerBound(s *boundstore.Store, v int, x float64) error {
	if !a.active {
		return nil
	}
	if v == a.B && !a.refineCachedLB(a.B, x) {
		return nil
	}
	if v == a.F && !a.refineCachedLB(a.F, x) {
		return nil
	}
	return a.tighten(s)
}

func (a *AbsoluteValue) NotifyUpperBound(s *boundstore.Store, v int, x float64) error {
	if !a.active {
		return nil
	}
	if v == a.B && !a.refineCachedUB(a.B, x) {
		return nil
	}
	if v == a.F && !a.refineCachedUB(a.F, x) {
		return nil
	}
	return a.tighten(s)
}

func (a *AbsoluteValue) tighten(s *boundstore.Store) error {
	lbB, ubB := a.lb(a.B), a.ub(a.B)

	if a.eps.GE(lbB, 0) {
		a.setPhase(PhasePositive)
	} else if a.eps.LE(ubB, 0) {
		a.setPhase(PhaseNegative)
	}

	apply := func(t boundstore.Tightening) error {
		_, err := s.Apply(t)
		return err
	}

	// ub(f) = max(|lb(b)|, |ub(b)|); lb(f) = 0 if 0 in [lb(b),ub(b)],
	// else min(|lb(b)|, |ub(b)|).
	ubF := tolerance.Max(absf(lbB), absf(ubB))
	var lbF float64
	if a.eps.LE(lbB, 0) && a.eps.GE(ubB, 0) {
		lbF = 0
	} else {
		lbF = tolerance.Min(absf(lbB), absf(ubB))
	}
	if err := apply(boundstore.Tightening{Var: a.F, Value: lbF, Kind: boundstore.Lower}); err != nil {
		return err
	}
	if err := apply(boundstore.Tightening{Var: a.F, Value: ubF, Kind: boundstore.Upper}); err != nil {
		return err
	}

	if a.phase == PhasePositive {
		lbF2, ubF2 := a.lb(a.F), a.ub(a.F)
		if err := apply(boundstore.Tightening{Var: a.B, Value: lbF2, Kind: boundstore.Lower}); err != nil {
			return err
		}
		if err := apply(boundstore.Tightening{Var: a.B, Value: ubF2, Kind: boundstore.Upper}); err != nil {
			return err
		}
	}
	if a.phase == PhaseNegative {
		lbF2, ubF2 := a.lb(a.F), a.ub(a.F)
		if err := apply(boundstore.Tightening{Var: a.B, Value: -ubF2, Kind: boundstore.Lower}); err != nil {
			return err
		}
		if err := apply(boundstore.Tightening{Var: a.B, Value: -lbF2, Kind: boundstore.Upper}); err != nil {
			return err
		}
	}
	return nil
}

func (a *AbsoluteValue) EntailedTightenings() ([]boundstore.Tightening, error) {
	lbB, ubB := a.lb(a.B), a.ub(a.B)
	ubF := tolerance.Max(absf(lbB), absf(ubB))
	var lbF float64
	if a.eps.LE(lbB, 0) && a.eps.GE(ubB, 0) {
		lbF = 0
	} else {
		lbF = tolerance.Min(absf(lbB), absf(ubB))
	}
	return []boundstore.Tightening{
		{Var: a.F, Value: lbF, Kind: boundstore.Lower},
		{Var: a.F, Value: ubF, Kind: boundstore.Upper},
	}, nil
}

// CostComponent returns a linear cost whose Value is |f-b| for Positive and
// |f+b| for Negative, sign-selected from the current assignment so the
// tableau can descend it (spec.md §4.G).
func (a *AbsoluteValue) CostComponent(phase Phase, assignment []float64) affine.AffineForm {
	b, f := assignment[a.B], assignment[a.F]
	switch phase {
	case PhasePositive:
		if f >= b {
			return affine.NewLinearExpression([]affine.Addend{{1, a.F}, {-1, a.B}})
		}
		return affine.NewLinearExpression([]affine.Addend{{1, a.B}, {-1, a.F}})
	case PhaseNegative:
		if f >= -b {
			return affine.NewLinearExpression([]affine.Addend{{1, a.F}, {1, a.B}})
		}
		return affine.NewLinearExpression([]affine.Addend{{-1, a.F}, {-1, a.B}})
	default:
		return affine.Zero()
	}
}

func (a *AbsoluteValue) Serialize() string {
	return fmt.Sprintf("Abs,%d,%d", a.F, a.B)
}

func (a *AbsoluteValue) Clone() Constraint {
	cp := *a
	cp.cachedLB = cloneMap(a.cachedLB)
	cp.cachedUB = cloneMap(a.cachedUB)
	return &cp
}

func (a *AbsoluteValue) Restore(snapshot Constraint) {
	s := snapshot.(*AbsoluteValue)
	a.base.restore(s.base)
}
