package plconstraint

import (
	"fmt"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// Relu implements f = max(b, 0) (spec.md §4.C "ReLU"). b is the backward
// (pre-activation) variable, f the forward (post-activation) output.
type Relu struct {
	base
	B, F int
}

// NewRelu creates a ReLU constraint over backward variable b and forward
// variable f.
func NewRelu(store *boundstore.Store, eps tolerance.Eps, b, f int) *Relu {
	r := &Relu{base: newBase(eps), B: b, F: f}
	r.store = store
	return r
}

func (r *Relu) Kind() Kind                      { return KindRelu }
func (r *Relu) ParticipatingVariables() []int   { return []int{r.B, r.F} }
func (r *Relu) Watch(s *boundstore.Store)       { s.Watch(r.B, r); s.Watch(r.F, r) }
func (r *Relu) Unwatch(s *boundstore.Store)     { s.Unwatch(r.B, r); s.Unwatch(r.F, r) }
func (r *Relu) AllCases() []Phase               { return []Phase{PhaseActive, PhaseInactive} }

func (r *Relu) Satisfied(a []float64, eps tolerance.Eps) bool {
	b, f := a[r.B], a[r.F]
	if b >= 0 {
		return eps.Equal(f, b)
	}
	return eps.Equal(f, 0)
}

func (r *Relu) PossibleFixes(a []float64) []Fix {
	b, f := a[r.B], a[r.F]
	if r.Satisfied(a, r.eps) {
		return nil
	}
	if b >= 0 {
		return []Fix{{r.F, b}, {r.B, f}}
	}
	return []Fix{{r.F, 0}, {r.B, 0}}
}

func (r *Relu) CaseSplits() []CaseSplit {
	if r.PhaseFixed() {
		panic("plconstraint: CaseSplits called on a phase-fixed ReLU")
	}
	return []CaseSplit{
		{
			Phase:       PhaseActive,
			Tightenings: []boundstore.Tightening{{Var: r.B, Value: 0, Kind: boundstore.Lower}},
			Equations:   []affine.AffineForm{affine.NewLinearExpression([]affine.Addend{{1, r.B}, {-1, r.F}})},
		},
		{
			Phase:       PhaseInactive,
			Tightenings: []boundstore.Tightening{{Var: r.B, Value: 0, Kind: boundstore.Upper}, {Var: r.F, Value: 0, Kind: boundstore.Upper}},
			Equations:   []affine.AffineForm{affine.NewLinearExpression([]affine.Addend{{1, r.F}})},
		},
	}
}

func (r *Relu) ValidCaseSplit() CaseSplit {
	for _, cs := range r.CaseSplitsIgnoringFixed() {
		if cs.Phase == r.phase {
			return cs
		}
	}
	panic("plconstraint: ValidCaseSplit called on a ReLU with no fixed phase")
}

// CaseSplitsIgnoringFixed is CaseSplits without the PhaseFixed panic, used
// internally by ValidCaseSplit.
func (r *Relu) CaseSplitsIgnoringFixed() []CaseSplit {
	return []CaseSplit{
		{Phase: PhaseActive, Tightenings: []boundstore.Tightening{{Var: r.B, Value: 0, Kind: boundstore.Lower}}},
		{Phase: PhaseInactive, Tightenings: []boundstore.Tightening{{Var: r.B, Value: 0, Kind: boundstore.Upper}}},
	}
}

func (r *Relu) Eliminate(v int, value float64) error {
	if v != r.B && v != r.F {
		return nil
	}
	r.active = false
	return nil
}

func (r *Relu) UpdateIndex(old, newVar int) {
	if r.B == old {
		r.B = newVar
	}
	if r.F == old {
		r.F = newVar
	}
}

// setPhase fixes the ReLU's phase, enforcing spec.md §8 property 4: once
// fixed, a different fixed phase is never reachable.
func (r *Relu) setPhase(p Phase) {
	if r.phase != PhaseNotFixed && r.phase != p {
		panic(fmt.Sprintf("plconstraint: ReLU phase changed from %v to %v", r.phase, p))
	}
	r.phase = p
}

func (r *Relu) NotifyLowerBound(s *boundstore.Store, v int, x float64) error {
	if !r.active {
		return nil
	}
	changed := false
	if v == r.B {
		changed = r.refineCachedLB(r.B, x)
	} else if v == r.F {
		changed = r.refineCachedLB(r.F, x)
	}
	if !changed {
		return nil
	}
	return r.tighten(s)
}

func (r *Relu) NotifyUpperBound(s *boundstore.Store, v int, x float64) error {
	if !r.active {
		return nil
	}
	changed := false
	if v == r.B {
		changed = r.refineCachedUB(r.B, x)
	} else if v == r.F {
		changed = r.refineCachedUB(r.F, x)
	}
	if !changed {
		return nil
	}
	return r.tighten(s)
}

// tighten applies spec.md §4.C's ReLU tightening rules and phase-fixing
// conditions to the current cached bounds, pushing derived tightenings into
// the store.
func (r *Relu) tighten(s *boundstore.Store) error {
	lbB, ubB := r.lb(r.B), r.ub(r.B)
	lbF, ubF := r.lb(r.F), r.ub(r.F)

	if r.eps.GE(lbB, 0) {
		r.setPhase(PhaseActive)
	} else if r.eps.LE(ubB, 0) || r.eps.IsZero(ubF) {
		r.setPhase(PhaseInactive)
	}

	apply := func(t boundstore.Tightening) error {
		_, err := s.Apply(t)
		return err
	}

	if r.eps.IsPositive(ubB) {
		if err := apply(boundstore.Tightening{Var: r.F, Value: tolerance.Max(lbF, tolerance.Max(lbB, 0)), Kind: boundstore.Lower}); err != nil {
			return err
		}
		if err := apply(boundstore.Tightening{Var: r.F, Value: tolerance.Min(ubF, ubB), Kind: boundstore.Upper}); err != nil {
			return err
		}
	}
	if r.phase == PhaseActive {
		if err := apply(boundstore.Tightening{Var: r.B, Value: lbF, Kind: boundstore.Lower}); err != nil {
			return err
		}
		if err := apply(boundstore.Tightening{Var: r.B, Value: ubF, Kind: boundstore.Upper}); err != nil {
			return err
		}
	}
	if r.phase == PhaseInactive {
		if err := apply(boundstore.Tightening{Var: r.F, Value: 0, Kind: boundstore.Upper}); err != nil {
			return err
		}
		if err := apply(boundstore.Tightening{Var: r.F, Value: 0, Kind: boundstore.Lower}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relu) EntailedTightenings() ([]boundstore.Tightening, error) {
	lbB, ubB := r.lb(r.B), r.ub(r.B)
	lbF, ubF := r.lb(r.F), r.ub(r.F)
	var out []boundstore.Tightening
	if r.eps.IsPositive(ubB) {
		out = append(out,
			boundstore.Tightening{Var: r.F, Value: tolerance.Max(lbF, tolerance.Max(lbB, 0)), Kind: boundstore.Lower},
			boundstore.Tightening{Var: r.F, Value: tolerance.Min(ubF, ubB), Kind: boundstore.Upper},
		)
	}
	if r.eps.GE(lbB, 0) {
		out = append(out, boundstore.Tightening{Var: r.B, Value: lbF, Kind: boundstore.Lower})
	}
	if r.eps.LE(ubB, 0) {
		out = append(out, boundstore.Tightening{Var: r.F, Value: 0, Kind: boundstore.Upper})
	}
	return out, nil
}

// CostComponent returns the classic ReLU SoI term: Active wants f=b (and
// b>=0), Inactive wants f=0 (and b<=0). The cost is a genuine linear
// expression whose Value at assignment is the absolute violation of the
// phase's defining equality, zero exactly when the phase holds, signed so
// that the tableau can descend it via MinimizeExpr (spec.md §4.F step 3a,
// §4.G get_current_soi_phase_pattern).
func (r *Relu) CostComponent(phase Phase, assignment []float64) affine.AffineForm {
	b, f := assignment[r.B], assignment[r.F]
	switch phase {
	case PhaseActive:
		if f >= b {
			return affine.NewLinearExpression([]affine.Addend{{1, r.F}, {-1, r.B}})
		}
		return affine.NewLinearExpression([]affine.Addend{{1, r.B}, {-1, r.F}})
	case PhaseInactive:
		if f >= 0 {
			return affine.NewLinearExpression([]affine.Addend{{1, r.F}})
		}
		return affine.NewLinearExpression([]affine.Addend{{-1, r.F}})
	default:
		return affine.Zero()
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (r *Relu) Serialize() string {
	return fmt.Sprintf("Relu,%d,%d", r.F, r.B)
}

func (r *Relu) Clone() Constraint {
	cp := *r
	cp.cachedLB = cloneMap(r.cachedLB)
	cp.cachedUB = cloneMap(r.cachedUB)
	return &cp
}

// Restore undoes whatever a branch or SoI proposal mutated on r since
// snapshot was taken, resetting phase to PhaseNotFixed if that branch never
// got to fix it permanently (spec.md §4.F "On backtrack the constraint's
// state is restored from a previously stashed clone").
func (r *Relu) Restore(snapshot Constraint) {
	s := snapshot.(*Relu)
	r.base.restore(s.base)
}

func cloneMap(m map[int]float64) map[int]float64 {
	cp := make(map[int]float64, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
