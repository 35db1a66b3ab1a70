package plconstraint

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// NonlinearConstraint is implemented by the four transcendental/bilinear
// kinds (Sigmoid, Tanh, Softmax, Bilinear). They are not case-split: the
// search engine never branches on their phase. Instead pkg/cegar drives
// them through Refine, which tightens a set of secant/tangent-line linear
// bounds around the current domain (spec.md §4.H "incremental
// linearization").
type NonlinearConstraint interface {
	Constraint

	// Refine returns the linear under/over-approximation equations valid
	// over the variables' current bounds in s. Calling Refine again after
	// the bounds have shrunk returns a tighter (or equal) set.
	Refine(s *boundstore.Store) []affine.AffineForm
}

// nlBase is embedded by every nonlinear kind. Unlike base's PL-constraint
// siblings, nonlinear kinds never fix a phase and never case-split; Refine
// is their only source of additional linear structure.
type nlBase struct {
	base
}

func newNLBase(eps tolerance.Eps) nlBase { return nlBase{base: newBase(eps)} }

func (n *nlBase) AllCases() []Phase { return nil }
func (n *nlBase) CaseSplits() []CaseSplit {
	panic("plconstraint: CaseSplits called on a nonlinear constraint; use Refine")
}
func (n *nlBase) ValidCaseSplit() CaseSplit {
	panic("plconstraint: ValidCaseSplit called on a nonlinear constraint; use Refine")
}
func (n *nlBase) EntailedTightenings() ([]boundstore.Tightening, error) { return nil, nil }
func (n *nlBase) CostComponent(Phase, []float64) affine.AffineForm      { return affine.Zero() }
func (n *nlBase) PossibleFixes([]float64) []Fix                        { return nil }

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
func dSigmoid(x float64) float64 {
	s := sigmoid(x)
	return s * (1 - s)
}

// Sigmoid implements f = 1/(1+e^-b) (spec.md §4.C nonlinear activations,
// §4.H CEGAR).
type Sigmoid struct {
	nlBase
	B, F int
}

func NewSigmoid(store *boundstore.Store, eps tolerance.Eps, b, f int) *Sigmoid {
	sg := &Sigmoid{nlBase: newNLBase(eps), B: b, F: f}
	sg.store = store
	return sg
}

func (sg *Sigmoid) Kind() Kind                    { return KindSigmoid }
func (sg *Sigmoid) ParticipatingVariables() []int { return []int{sg.B, sg.F} }
func (sg *Sigmoid) Watch(s *boundstore.Store)     { s.Watch(sg.B, sg); s.Watch(sg.F, sg) }
func (sg *Sigmoid) Unwatch(s *boundstore.Store)   { s.Unwatch(sg.B, sg); s.Unwatch(sg.F, sg) }

func (sg *Sigmoid) Satisfied(assignment []float64, eps tolerance.Eps) bool {
	return eps.Equal(assignment[sg.F], sigmoid(assignment[sg.B]))
}

func (sg *Sigmoid) Eliminate(v int, value float64) error {
	if v == sg.B || v == sg.F {
		sg.active = false
	}
	return nil
}

func (sg *Sigmoid) UpdateIndex(old, newVar int) {
	if sg.B == old {
		sg.B = newVar
	}
	if sg.F == old {
		sg.F = newVar
	}
}

func (sg *Sigmoid) NotifyLowerBound(*boundstore.Store, int, float64) error { return nil }
func (sg *Sigmoid) NotifyUpperBound(*boundstore.Store, int, float64) error { return nil }

// Refine builds the standard sigmoid secant/tangent linear envelope: the
// chord between (lb, sigmoid(lb)) and (ub, sigmoid(ub)) as one bound, and
// the tangent line at the midpoint as the other, which is valid because
// sigmoid is convex on (-inf,0] and concave on [0,inf).
func (sg *Sigmoid) Refine(s *boundstore.Store) []affine.AffineForm {
	lb, ub := s.GetLB(sg.B), s.GetUB(sg.B)
	if math.IsInf(lb, -1) || math.IsInf(ub, 1) {
		return nil
	}
	return sigmoidLikeRefine(sg.B, sg.F, lb, ub, sigmoid, dSigmoid)
}

func (sg *Sigmoid) Serialize() string { return fmt.Sprintf("Sigmoid,%d,%d", sg.F, sg.B) }

func (sg *Sigmoid) Clone() Constraint {
	cp := *sg
	cp.cachedLB = cloneMap(sg.cachedLB)
	cp.cachedUB = cloneMap(sg.cachedUB)
	return &cp
}

func (sg *Sigmoid) Restore(snapshot Constraint) {
	s := snapshot.(*Sigmoid)
	sg.base.restore(s.base)
}

func dTanh(x float64) float64 {
	t := math.Tanh(x)
	return 1 - t*t
}

// Tanh implements f = tanh(b).
type Tanh struct {
	nlBase
	B, F int
}

func NewTanh(store *boundstore.Store, eps tolerance.Eps, b, f int) *Tanh {
	th := &Tanh{nlBase: newNLBase(eps), B: b, F: f}
	th.store = store
	return th
}

func (th *Tanh) Kind() Kind                    { return KindTanh }
func (th *Tanh) ParticipatingVariables() []int { return []int{th.B, th.F} }
func (th *Tanh) Watch(s *boundstore.Store)     { s.Watch(th.B, th); s.Watch(th.F, th) }
func (th *Tanh) Unwatch(s *boundstore.Store)   { s.Unwatch(th.B, th); s.Unwatch(th.F, th) }

func (th *Tanh) Satisfied(assignment []float64, eps tolerance.Eps) bool {
	return eps.Equal(assignment[th.F], math.Tanh(assignment[th.B]))
}

func (th *Tanh) Eliminate(v int, value float64) error {
	if v == th.B || v == th.F {
		th.active = false
	}
	return nil
}

func (th *Tanh) UpdateIndex(old, newVar int) {
	if th.B == old {
		th.B = newVar
	}
	if th.F == old {
		th.F = newVar
	}
}

func (th *Tanh) NotifyLowerBound(*boundstore.Store, int, float64) error { return nil }
func (th *Tanh) NotifyUpperBound(*boundstore.Store, int, float64) error { return nil }

func (th *Tanh) Refine(s *boundstore.Store) []affine.AffineForm {
	lb, ub := s.GetLB(th.B), s.GetUB(th.B)
	if math.IsInf(lb, -1) || math.IsInf(ub, 1) {
		return nil
	}
	return sigmoidLikeRefine(th.B, th.F, lb, ub, math.Tanh, dTanh)
}

func (th *Tanh) Serialize() string { return fmt.Sprintf("Tanh,%d,%d", th.F, th.B) }

func (th *Tanh) Clone() Constraint {
	cp := *th
	cp.cachedLB = cloneMap(th.cachedLB)
	cp.cachedUB = cloneMap(th.cachedUB)
	return &cp
}

func (th *Tanh) Restore(snapshot Constraint) {
	s := snapshot.(*Tanh)
	th.base.restore(s.base)
}

// sigmoidLikeRefine is shared by Sigmoid and Tanh: both are S-shaped
// (convex then concave, inflecting at 0), so the same chord+tangent
// envelope construction applies to either with its own g/dg pair.
func sigmoidLikeRefine(b, f int, lb, ub float64, g, dg func(float64) float64) []affine.AffineForm {
	var out []affine.AffineForm
	// Chord: f <= g(lb) + (g(ub)-g(lb))/(ub-lb) * (b-lb), when g is convex
	// over [lb,ub] (ub<=0); the mirror GE form when concave (lb>=0); for
	// the mixed case we fall back to the weaker tangent-only bound.
	if ub > lb && (ub <= 0 || lb >= 0) {
		slope := (g(ub) - g(lb)) / (ub - lb)
		intercept := g(lb) - slope*lb
		rel := affine.LE
		if lb >= 0 {
			rel = affine.GE
		}
		out = append(out, affine.NewEquation([]affine.Addend{{1, f}, {-slope, b}}, intercept, rel))
	}
	// Tangent at the midpoint is always a valid one-sided bound in the
	// convex/concave sub-region containing it.
	mid := (lb + ub) / 2
	slope := dg(mid)
	intercept := g(mid) - slope*mid
	rel := affine.GE
	if mid >= 0 {
		rel = affine.LE
	}
	out = append(out, affine.NewEquation([]affine.Addend{{1, f}, {-slope, b}}, intercept, rel))
	return out
}

// Bilinear implements f = x*y, the product of two variables, used for
// attention-style networks (spec.md §4.C "Bilinear").
type Bilinear struct {
	nlBase
	X, Y, F int
}

func NewBilinear(store *boundstore.Store, eps tolerance.Eps, x, y, f int) *Bilinear {
	bl := &Bilinear{nlBase: newNLBase(eps), X: x, Y: y, F: f}
	bl.store = store
	return bl
}

func (bl *Bilinear) Kind() Kind                    { return KindBilinear }
func (bl *Bilinear) ParticipatingVariables() []int { return []int{bl.X, bl.Y, bl.F} }
func (bl *Bilinear) Watch(s *boundstore.Store)     { s.Watch(bl.X, bl); s.Watch(bl.Y, bl); s.Watch(bl.F, bl) }
func (bl *Bilinear) Unwatch(s *boundstore.Store)   { s.Unwatch(bl.X, bl); s.Unwatch(bl.Y, bl); s.Unwatch(bl.F, bl) }

func (bl *Bilinear) Satisfied(assignment []float64, eps tolerance.Eps) bool {
	return eps.Equal(assignment[bl.F], assignment[bl.X]*assignment[bl.Y])
}

func (bl *Bilinear) Eliminate(v int, value float64) error {
	if v == bl.X || v == bl.Y || v == bl.F {
		bl.active = false
	}
	return nil
}

func (bl *Bilinear) UpdateIndex(old, newVar int) {
	if bl.X == old {
		bl.X = newVar
	}
	if bl.Y == old {
		bl.Y = newVar
	}
	if bl.F == old {
		bl.F = newVar
	}
}

func (bl *Bilinear) NotifyLowerBound(*boundstore.Store, int, float64) error { return nil }
func (bl *Bilinear) NotifyUpperBound(*boundstore.Store, int, float64) error { return nil }

// Refine builds the McCormick envelope for f = x*y over box bounds
// (spec.md §4.H): the four corner-derived affine under/over-estimators.
func (bl *Bilinear) Refine(s *boundstore.Store) []affine.AffineForm {
	xl, xu := s.GetLB(bl.X), s.GetUB(bl.X)
	yl, yu := s.GetLB(bl.Y), s.GetUB(bl.Y)
	if math.IsInf(xl, -1) || math.IsInf(xu, 1) || math.IsInf(yl, -1) || math.IsInf(yu, 1) {
		return nil
	}
	return []affine.AffineForm{
		// f >= xl*y + yl*x - xl*yl
		affine.NewEquation([]affine.Addend{{1, bl.F}, {-yl, bl.X}, {-xl, bl.Y}}, -xl*yl, affine.GE),
		// f >= xu*y + yu*x - xu*yu
		affine.NewEquation([]affine.Addend{{1, bl.F}, {-yu, bl.X}, {-xu, bl.Y}}, -xu*yu, affine.GE),
		// f <= xu*y + yl*x - xu*yl
		affine.NewEquation([]affine.Addend{{1, bl.F}, {-yl, bl.X}, {-xu, bl.Y}}, -xu*yl, affine.LE),
		// f <= xl*y + yu*x - xl*yu
		affine.NewEquation([]affine.Addend{{1, bl.F}, {-yu, bl.X}, {-xl, bl.Y}}, -xl*yu, affine.LE),
	}
}

func (bl *Bilinear) Serialize() string { return fmt.Sprintf("Bilinear,%d,%d,%d", bl.F, bl.X, bl.Y) }

func (bl *Bilinear) Clone() Constraint {
	cp := *bl
	cp.cachedLB = cloneMap(bl.cachedLB)
	cp.cachedUB = cloneMap(bl.cachedUB)
	return &cp
}

func (bl *Bilinear) Restore(snapshot Constraint) {
	s := snapshot.(*Bilinear)
	bl.base.restore(s.base)
}

// Softmax implements f_i = e^b_i / sum_j e^b_j over a fixed input/output
// index set (spec.md §4.C "Softmax").
type Softmax struct {
	nlBase
	Inputs []int
	Outputs []int
}

func NewSoftmax(store *boundstore.Store, eps tolerance.Eps, inputs, outputs []int) *Softmax {
	sm := &Softmax{nlBase: newNLBase(eps)}
	sm.store = store
	sm.Inputs = append([]int(nil), inputs...)
	sm.Outputs = append([]int(nil), outputs...)
	return sm
}

func (sm *Softmax) Kind() Kind { return KindSoftmax }

func (sm *Softmax) ParticipatingVariables() []int {
	out := append([]int(nil), sm.Inputs...)
	return append(out, sm.Outputs...)
}

func (sm *Softmax) Watch(s *boundstore.Store) {
	for _, v := range sm.ParticipatingVariables() {
		s.Watch(v, sm)
	}
}

func (sm *Softmax) Unwatch(s *boundstore.Store) {
	for _, v := range sm.ParticipatingVariables() {
		s.Unwatch(v, sm)
	}
}

func (sm *Softmax) Satisfied(assignment []float64, eps tolerance.Eps) bool {
	sum := 0.0
	exps := make([]float64, len(sm.Inputs))
	for i, v := range sm.Inputs {
		exps[i] = math.Exp(assignment[v])
		sum += exps[i]
	}
	for i, v := range sm.Outputs {
		if !eps.Equal(assignment[v], exps[i]/sum) {
			return false
		}
	}
	return true
}

func (sm *Softmax) Eliminate(v int, value float64) error {
	for _, pv := range sm.ParticipatingVariables() {
		if pv == v {
			sm.active = false
			return nil
		}
	}
	return nil
}

func (sm *Softmax) UpdateIndex(old, newVar int) {
	for i, v := range sm.Inputs {
		if v == old {
			sm.Inputs[i] = newVar
		}
	}
	for i, v := range sm.Outputs {
		if v == old {
			sm.Outputs[i] = newVar
		}
	}
}

func (sm *Softmax) NotifyLowerBound(*boundstore.Store, int, float64) error { return nil }
func (sm *Softmax) NotifyUpperBound(*boundstore.Store, int, float64) error { return nil }

// Refine returns the single exact linear constraint every softmax output
// satisfies regardless of its nonlinear structure: the outputs sum to 1.
// No per-output bounds are produced, here or in pkg/cegar, which adds
// only the rows Refine returns.
func (sm *Softmax) Refine(s *boundstore.Store) []affine.AffineForm {
	addends := make([]affine.Addend, len(sm.Outputs))
	for i, v := range sm.Outputs {
		addends[i] = affine.Addend{Coeff: 1, Var: v}
	}
	return []affine.AffineForm{affine.NewEquation(addends, 1, affine.EQ)}
}

func (sm *Softmax) Serialize() string {
	ins := make([]string, len(sm.Inputs))
	for i, v := range sm.Inputs {
		ins[i] = strconv.Itoa(v)
	}
	outs := make([]string, len(sm.Outputs))
	for i, v := range sm.Outputs {
		outs[i] = strconv.Itoa(v)
	}
	return fmt.Sprintf("Softmax,%s,%s", strings.Join(ins, ","), strings.Join(outs, ","))
}

func (sm *Softmax) Clone() Constraint {
	cp := *sm
	cp.Inputs = append([]int(nil), sm.Inputs...)
	cp.Outputs = append([]int(nil), sm.Outputs...)
	cp.cachedLB = cloneMap(sm.cachedLB)
	cp.cachedUB = cloneMap(sm.cachedUB)
	return &cp
}

func (sm *Softmax) Restore(snapshot Constraint) {
	s := snapshot.(*Softmax)
	sm.base.restore(s.base)
}
