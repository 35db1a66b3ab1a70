package plconstraint

import (
	"fmt"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// Sign implements f = 1 if b >= 0, f = -1 otherwise (spec.md §4.C "Sign").
type Sign struct {
	base
	B, F int
}

// NewSign creates a Sign constraint over b and f.
func NewSign(store *boundstore.Store, eps tolerance.Eps, b, f int) *Sign {
	sg := &Sign{base: newBase(eps), B: b, F: f}
	sg.store = store
	return sg
}

func (sg *Sign) Kind() Kind                    { return KindSign }
func (sg *Sign) ParticipatingVariables() []int { return []int{sg.B, sg.F} }
func (sg *Sign) Watch(s *boundstore.Store)     { s.Watch(sg.B, sg); s.Watch(sg.F, sg) }
func (sg *Sign) Unwatch(s *boundstore.Store)   { s.Unwatch(sg.B, sg); s.Unwatch(sg.F, sg) }
func (sg *Sign) AllCases() []Phase             { return []Phase{PhasePositive, PhaseNegative} }

func signOf(b float64) float64 {
	if b >= 0 {
		return 1
	}
	return -1
}

func (sg *Sign) Satisfied(assignment []float64, eps tolerance.Eps) bool {
	return eps.Equal(assignment[sg.F], signOf(assignment[sg.B]))
}

func (sg *Sign) PossibleFixes(assignment []float64) []Fix {
	b := assignment[sg.B]
	if sg.Satisfied(assignment, sg.eps) {
		return nil
	}
	return []Fix{{sg.F, signOf(b)}}
}

func (sg *Sign) CaseSplits() []CaseSplit {
	if sg.PhaseFixed() {
		panic("plconstraint: CaseSplits called on a phase-fixed Sign")
	}
	return []CaseSplit{
		{
			Phase:       PhasePositive,
			Tightenings: []boundstore.Tightening{{Var: sg.B, Value: 0, Kind: boundstore.Lower}, {Var: sg.F, Value: 1, Kind: boundstore.Lower}, {Var: sg.F, Value: 1, Kind: boundstore.Upper}},
		},
		{
			Phase:       PhaseNegative,
			Tightenings: []boundstore.Tightening{{Var: sg.B, Value: 0, Kind: boundstore.Upper}, {Var: sg.F, Value: -1, Kind: boundstore.Lower}, {Var: sg.F, Value: -1, Kind: boundstore.Upper}},
		},
	}
}

func (sg *Sign) ValidCaseSplit() CaseSplit {
	for _, cs := range sg.CaseSplits() {
		if cs.Phase == sg.phase {
			return cs
		}
	}
	panic("plconstraint: ValidCaseSplit called on a Sign with no fixed phase")
}

func (sg *Sign) Eliminate(v int, value float64) error {
	if v == sg.B || v == sg.F {
		sg.active = false
	}
	return nil
}

func (sg *Sign) UpdateIndex(old, newVar int) {
	if sg.B == old {
		sg.B = newVar
	}
	if sg.F == old {
		sg.F = newVar
	}
}

func (sg *Sign) setPhase(p Phase) {
	if sg.phase != PhaseNotFixed && sg.phase != p {
		panic(fmt.Sprintf("plconstraint: Sign phase changed from %v to %v", sg.phase, p))
	}
	sg.phase = p
}

func (sg *Sign) NotifyLowerBound(s *boundstore.Store, v int, x float64) error {
	if !sg.active {
		return nil
	}
	if v == sg.B && !sg.refineCachedLB(sg.B, x) {
		return nil
	}
	return sg.tighten(s)
}

func (sg *Sign) NotifyUpperBound(s *boundstore.Store, v int, x float64) error {
	if !sg.active {
		return nil
	}
	if v == sg.B && !sg.refineCachedUB(sg.B, x) {
		return nil
	}
	return sg.tighten(s)
}

func (sg *Sign) tighten(s *boundstore.Store) error {
	lbB, ubB := sg.lb(sg.B), sg.ub(sg.B)
	apply := func(t boundstore.Tightening) error {
		_, err := s.Apply(t)
		return err
	}
	if sg.eps.GE(lbB, 0) {
		sg.setPhase(PhasePositive)
		if err := apply(boundstore.Tightening{Var: sg.F, Value: 1, Kind: boundstore.Lower}); err != nil {
			return err
		}
		return apply(boundstore.Tightening{Var: sg.F, Value: 1, Kind: boundstore.Upper})
	}
	if sg.eps.LT(ubB, 0) {
		sg.setPhase(PhaseNegative)
		if err := apply(boundstore.Tightening{Var: sg.F, Value: -1, Kind: boundstore.Lower}); err != nil {
			return err
		}
		return apply(boundstore.Tightening{Var: sg.F, Value: -1, Kind: boundstore.Upper})
	}
	return nil
}

func (sg *Sign) EntailedTightenings() ([]boundstore.Tightening, error) {
	lbB, ubB := sg.lb(sg.B), sg.ub(sg.B)
	if sg.eps.GE(lbB, 0) {
		return []boundstore.Tightening{{Var: sg.F, Value: 1, Kind: boundstore.Lower}, {Var: sg.F, Value: 1, Kind: boundstore.Upper}}, nil
	}
	if sg.eps.LT(ubB, 0) {
		return []boundstore.Tightening{{Var: sg.F, Value: -1, Kind: boundstore.Lower}, {Var: sg.F, Value: -1, Kind: boundstore.Upper}}, nil
	}
	return nil, nil
}

// CostComponent returns a linear cost whose Value is |f-1| for Positive and
// |f+1| for Negative, the constant folded into the scalar so it still
// participates correctly in Value/MinimizeExpr (spec.md §4.G).
func (sg *Sign) CostComponent(phase Phase, assignment []float64) affine.AffineForm {
	f := assignment[sg.F]
	switch phase {
	case PhasePositive:
		if f >= 1 {
			return affine.NewEquation([]affine.Addend{{1, sg.F}}, -1, affine.EQ)
		}
		return affine.NewEquation([]affine.Addend{{-1, sg.F}}, 1, affine.EQ)
	case PhaseNegative:
		if f >= -1 {
			return affine.NewEquation([]affine.Addend{{1, sg.F}}, 1, affine.EQ)
		}
		return affine.NewEquation([]affine.Addend{{-1, sg.F}}, -1, affine.EQ)
	default:
		return affine.Zero()
	}
}

func (sg *Sign) Serialize() string {
	return fmt.Sprintf("Sign,%d,%d", sg.F, sg.B)
}

func (sg *Sign) Clone() Constraint {
	cp := *sg
	cp.cachedLB = cloneMap(sg.cachedLB)
	cp.cachedUB = cloneMap(sg.cachedUB)
	return &cp
}

func (sg *Sign) Restore(snapshot Constraint) {
	s := snapshot.(*Sign)
	sg.base.restore(s.base)
}
