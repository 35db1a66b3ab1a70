package plconstraint

import (
	"fmt"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// LeakyRelu implements f = b if b >= 0, f = alpha*b otherwise, with a fixed
// slope alpha in (0, 1) (spec.md §4.C "LeakyReLU"). Phases mirror ReLU's:
// Active is the identity branch, Inactive is the alpha*b branch.
type LeakyRelu struct {
	base
	B, F  int
	Alpha float64
}

// NewLeakyRelu creates a LeakyReLU constraint with the given negative slope.
func NewLeakyRelu(store *boundstore.Store, eps tolerance.Eps, b, f int, alpha float64) *LeakyRelu {
	l := &LeakyRelu{base: newBase(eps), B: b, F: f, Alpha: alpha}
	l.store = store
	return l
}

func (l *LeakyRelu) Kind() Kind                    { return KindLeakyRelu }
func (l *LeakyRelu) ParticipatingVariables() []int { return []int{l.B, l.F} }
func (l *LeakyRelu) Watch(s *boundstore.Store)     { s.Watch(l.B, l); s.Watch(l.F, l) }
func (l *LeakyRelu) Unwatch(s *boundstore.Store)   { s.Unwatch(l.B, l); s.Unwatch(l.F, l) }
func (l *LeakyRelu) AllCases() []Phase             { return []Phase{PhaseActive, PhaseInactive} }

func (l *LeakyRelu) apply1(b float64) float64 {
	if b >= 0 {
		return b
	}
	return l.Alpha * b
}

func (l *LeakyRelu) Satisfied(assignment []float64, eps tolerance.Eps) bool {
	return eps.Equal(assignment[l.F], l.apply1(assignment[l.B]))
}

func (l *LeakyRelu) PossibleFixes(assignment []float64) []Fix {
	b := assignment[l.B]
	if l.Satisfied(assignment, l.eps) {
		return nil
	}
	fixes := []Fix{{l.F, l.apply1(b)}}
	if l.Alpha != 0 {
		fixes = append(fixes, Fix{l.B, assignment[l.F] / l.Alpha})
	}
	return fixes
}

func (l *LeakyRelu) CaseSplits() []CaseSplit {
	if l.PhaseFixed() {
		panic("plconstraint: CaseSplits called on a phase-fixed LeakyReLU")
	}
	return []CaseSplit{
		{
			Phase:       PhaseActive,
			Tightenings: []boundstore.Tightening{{Var: l.B, Value: 0, Kind: boundstore.Lower}},
			Equations:   []affine.AffineForm{affine.NewLinearExpression([]affine.Addend{{1, l.B}, {-1, l.F}})},
		},
		{
			Phase:       PhaseInactive,
			Tightenings: []boundstore.Tightening{{Var: l.B, Value: 0, Kind: boundstore.Upper}},
			Equations:   []affine.AffineForm{affine.NewLinearExpression([]affine.Addend{{l.Alpha, l.B}, {-1, l.F}})},
		},
	}
}

func (l *LeakyRelu) ValidCaseSplit() CaseSplit {
	for _, cs := range l.CaseSplits() {
		if cs.Phase == l.phase {
			return cs
		}
	}
	panic("plconstraint: ValidCaseSplit called on a LeakyReLU with no fixed phase")
}

func (l *LeakyRelu) Eliminate(v int, value float64) error {
	if v == l.B || v == l.F {
		l.active = false
	}
	return nil
}

func (l *LeakyRelu) UpdateIndex(old, newVar int) {
	if l.B == old {
		l.B = newVar
	}
	if l.F == old {
		l.F = newVar
	}
}

func (l *LeakyRelu) setPhase(p Phase) {
	if l.phase != PhaseNotFixed && l.phase != p {
		panic(fmt.Sprintf("plconstraint: LeakyReLU phase changed from %v to %v", l.phase, p))
	}
	l.phase = p
}

func (l *LeakyRelu) NotifyLowerBound(s *boundstore.Store, v int, x float64) error {
	if !l.active {
		return nil
	}
	if v == l.B && !l.refineCachedLB(l.B, x) {
		return nil
	}
	if v == l.F && !l.refineCachedLB(l.F, x) {
		return nil
	}
	return l.tighten(s)
}

func (l *LeakyRelu) NotifyUpperBound(s *boundstore.Store, v int, x float64) error {
	if !l.active {
		return nil
	}
	if v == l.B && !l.refineCachedUB(l.B, x) {
		return nil
	}
	if v == l.F && !l.refineCachedUB(l.F, x) {
		return nil
	}
	return l.tighten(s)
}

func (l *LeakyRelu) tighten(s *boundstore.Store) error {
	lbB, ubB := l.lb(l.B), l.ub(l.B)
	apply := func(t boundstore.Tightening) error {
		_, err := s.Apply(t)
		return err
	}
	if l.eps.GE(lbB, 0) {
		l.setPhase(PhaseActive)
		if err := apply(boundstore.Tightening{Var: l.F, Value: lbB, Kind: boundstore.Lower}); err != nil {
			return err
		}
		if err := apply(boundstore.Tightening{Var: l.F, Value: ubB, Kind: boundstore.Upper}); err != nil {
			return err
		}
	} else if l.eps.LE(ubB, 0) {
		l.setPhase(PhaseInactive)
		lo, hi := l.Alpha*lbB, l.Alpha*ubB
		if lo > hi {
			lo, hi = hi, lo
		}
		if err := apply(boundstore.Tightening{Var: l.F, Value: lo, Kind: boundstore.Lower}); err != nil {
			return err
		}
		if err := apply(boundstore.Tightening{Var: l.F, Value: hi, Kind: boundstore.Upper}); err != nil {
			return err
		}
	}
	return nil
}

func (l *LeakyRelu) EntailedTightenings() ([]boundstore.Tightening, error) {
	lbB, ubB := l.lb(l.B), l.ub(l.B)
	if l.eps.GE(lbB, 0) {
		return []boundstore.Tightening{
			{Var: l.F, Value: lbB, Kind: boundstore.Lower},
			{Var: l.F, Value: ubB, Kind: boundstore.Upper},
		}, nil
	}
	if l.eps.LE(ubB, 0) {
		lo, hi := l.Alpha*lbB, l.Alpha*ubB
		if lo > hi {
			lo, hi = hi, lo
		}
		return []boundstore.Tightening{
			{Var: l.F, Value: lo, Kind: boundstore.Lower},
			{Var: l.F, Value: hi, Kind: boundstore.Upper},
		}, nil
	}
	return nil, nil
}

// CostComponent returns a linear cost whose Value is |f-b| for Active and
// |f-alpha*b| for Inactive, sign-selected from the current assignment
// (spec.md §4.G).
func (l *LeakyRelu) CostComponent(phase Phase, assignment []float64) affine.AffineForm {
	b, f := assignment[l.B], assignment[l.F]
	switch phase {
	case PhaseActive:
		if f >= b {
			return affine.NewLinearExpression([]affine.Addend{{1, l.F}, {-1, l.B}})
		}
		return affine.NewLinearExpression([]affine.Addend{{1, l.B}, {-1, l.F}})
	case PhaseInactive:
		if f >= l.Alpha*b {
			return affine.NewLinearExpression([]affine.Addend{{1, l.F}, {-l.Alpha, l.B}})
		}
		return affine.NewLinearExpression([]affine.Addend{{l.Alpha, l.B}, {-1, l.F}})
	default:
		return affine.Zero()
	}
}

func (l *LeakyRelu) Serialize() string {
	return fmt.Sprintf("LeakyRelu,%d,%d,%g", l.F, l.B, l.Alpha)
}

func (l *LeakyRelu) Clone() Constraint {
	cp := *l
	cp.cachedLB = cloneMap(l.cachedLB)
	cp.cachedUB = cloneMap(l.cachedUB)
	return &cp
}

func (l *LeakyRelu) Restore(snapshot Constraint) {
	s := snapshot.(*LeakyRelu)
	l.base.restore(s.base)
}
