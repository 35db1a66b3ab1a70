package plconstraint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// Max implements f = max(inputs...) (spec.md §4.C "Max"). Phase
// PhaseMaxInputBase+i means "input i is the maximum"; an input is
// eliminated once its upper bound falls below another input's lower
// bound, since it can then never be the maximum.
type Max struct {
	base
	Inputs    []int
	F         int
	eliminated map[int]bool
}

// NewMax creates a Max constraint over the given input variables and
// forward variable f.
func NewMax(store *boundstore.Store, eps tolerance.Eps, inputs []int, f int) *Max {
	cp := make([]int, len(inputs))
	copy(cp, inputs)
	m := &Max{base: newBase(eps), Inputs: cp, F: f, eliminated: make(map[int]bool)}
	m.store = store
	return m
}

func (m *Max) Kind() Kind { return KindMax }

func (m *Max) ParticipatingVariables() []int {
	out := make([]int, 0, len(m.Inputs)+1)
	out = append(out, m.Inputs...)
	return append(out, m.F)
}

func (m *Max) Watch(s *boundstore.Store) {
	for _, v := range m.Inputs {
		s.Watch(v, m)
	}
	s.Watch(m.F, m)
}

func (m *Max) Unwatch(s *boundstore.Store) {
	for _, v := range m.Inputs {
		s.Unwatch(v, m)
	}
	s.Unwatch(m.F, m)
}

// AllEliminatedPhase returns the sentinel phase meaning every input but one
// has been ruled out, so the surviving input is forced without a search
// decision.
func (m *Max) AllEliminatedPhase() Phase { return PhaseMaxInputBase + Phase(len(m.Inputs)) }

func (m *Max) AllCases() []Phase {
	out := make([]Phase, 0, len(m.Inputs))
	for i := range m.Inputs {
		if !m.eliminated[i] {
			out = append(out, PhaseMaxInputBase+Phase(i))
		}
	}
	return out
}

func maxOf(vals []float64) float64 {
	best := vals[0]
	for _, v := range vals[1:] {
		if v > best {
			best = v
		}
	}
	return best
}

func (m *Max) Satisfied(assignment []float64, eps tolerance.Eps) bool {
	vals := make([]float64, len(m.Inputs))
	for i, v := range m.Inputs {
		vals[i] = assignment[v]
	}
	return eps.Equal(assignment[m.F], maxOf(vals))
}

func (m *Max) PossibleFixes(assignment []float64) []Fix {
	if m.Satisfied(assignment, m.eps) {
		return nil
	}
	vals := make([]float64, len(m.Inputs))
	for i, v := range m.Inputs {
		vals[i] = assignment[v]
	}
	return []Fix{{m.F, maxOf(vals)}}
}

func (m *Max) CaseSplits() []CaseSplit {
	if m.PhaseFixed() {
		panic("plconstraint: CaseSplits called on a phase-fixed Max")
	}
	var out []CaseSplit
	for i, vi := range m.Inputs {
		if m.eliminated[i] {
			continue
		}
		cs := CaseSplit{
			Phase:     PhaseMaxInputBase + Phase(i),
			Equations: []affine.AffineForm{affine.NewLinearExpression([]affine.Addend{{1, vi}, {-1, m.F}})},
		}
		for j, vj := range m.Inputs {
			if j == i || m.eliminated[j] {
				continue
			}
			cs.Equations = append(cs.Equations, affine.NewEquation([]affine.Addend{{1, vi}, {-1, vj}}, 0, affine.GE))
		}
		out = append(out, cs)
	}
	return out
}

func (m *Max) ValidCaseSplit() CaseSplit {
	for _, cs := range m.CaseSplits() {
		if cs.Phase == m.phase {
			return cs
		}
	}
	panic("plconstraint: ValidCaseSplit called on a Max with no fixed phase")
}

func (m *Max) Eliminate(v int, value float64) error {
	if v == m.F {
		m.active = false
		return nil
	}
	for _, in := range m.Inputs {
		if in == v {
			m.active = false
			return nil
		}
	}
	return nil
}

func (m *Max) UpdateIndex(old, newVar int) {
	for i, v := range m.Inputs {
		if v == old {
			m.Inputs[i] = newVar
		}
	}
	if m.F == old {
		m.F = newVar
	}
}

func (m *Max) NotifyLowerBound(s *boundstore.Store, v int, x float64) error {
	if !m.active {
		return nil
	}
	return m.refresh(s)
}

func (m *Max) NotifyUpperBound(s *boundstore.Store, v int, x float64) error {
	if !m.active {
		return nil
	}
	return m.refresh(s)
}

// refresh eliminates any input whose upper bound is dominated by another
// input's lower bound, fixes the phase if exactly one input survives, and
// pushes f's tightened bounds (spec.md §4.C "Max"'s elimination rule).
func (m *Max) refresh(s *boundstore.Store) error {
	n := len(m.Inputs)
	lbs := make([]float64, n)
	ubs := make([]float64, n)
	for i, v := range m.Inputs {
		lbs[i], ubs[i] = m.lb(v), m.ub(v)
	}
	maxLB := lbs[0]
	for _, l := range lbs[1:] {
		if l > maxLB {
			maxLB = l
		}
	}
	for i := range m.Inputs {
		if !m.eliminated[i] && m.eps.LT(ubs[i], maxLB) {
			m.eliminated[i] = true
		}
	}
	survivors := 0
	last := -1
	for i := range m.Inputs {
		if !m.eliminated[i] {
			survivors++
			last = i
		}
	}
	apply := func(t boundstore.Tightening) error {
		_, err := s.Apply(t)
		return err
	}
	maxUB := ubs[0]
	for _, u := range ubs[1:] {
		if u > maxUB {
			maxUB = u
		}
	}
	if err := apply(boundstore.Tightening{Var: m.F, Value: maxLB, Kind: boundstore.Lower}); err != nil {
		return err
	}
	if err := apply(boundstore.Tightening{Var: m.F, Value: maxUB, Kind: boundstore.Upper}); err != nil {
		return err
	}
	if survivors == 1 && m.phase == PhaseNotFixed {
		m.phase = PhaseMaxInputBase + Phase(last)
	}
	return nil
}

func (m *Max) EntailedTightenings() ([]boundstore.Tightening, error) {
	n := len(m.Inputs)
	maxLB, maxUB := m.lb(m.Inputs[0]), m.ub(m.Inputs[0])
	for i := 1; i < n; i++ {
		l, u := m.lb(m.Inputs[i]), m.ub(m.Inputs[i])
		if l > maxLB {
			maxLB = l
		}
		if u > maxUB {
			maxUB = u
		}
	}
	return []boundstore.Tightening{
		{Var: m.F, Value: maxLB, Kind: boundstore.Lower},
		{Var: m.F, Value: maxUB, Kind: boundstore.Upper},
	}, nil
}

// CostComponent returns a linear cost whose Value is |f - v_i| plus, for
// every other input j whose current value exceeds v_i, the hinge
// max(0, v_j - v_i): the amount input i would need to grow by (or f to
// shrink by) to actually be the maximum. Coefficients are merged by
// variable so the tableau sees one addend per variable (spec.md §4.G).
func (m *Max) CostComponent(phase Phase, assignment []float64) affine.AffineForm {
	i := int(phase - PhaseMaxInputBase)
	if i < 0 || i >= len(m.Inputs) {
		return affine.Zero()
	}
	f, vi := assignment[m.F], assignment[m.Inputs[i]]
	coeffs := make(map[int]float64)
	if f >= vi {
		coeffs[m.F] += 1
		coeffs[m.Inputs[i]] -= 1
	} else {
		coeffs[m.Inputs[i]] += 1
		coeffs[m.F] -= 1
	}
	for j, vj := range m.Inputs {
		if j == i {
			continue
		}
		if assignment[vj]-vi > 0 {
			coeffs[vj] += 1
			coeffs[m.Inputs[i]] -= 1
		}
	}
	addends := make([]affine.Addend, 0, len(coeffs))
	for v, c := range coeffs {
		addends = append(addends, affine.Addend{Coeff: c, Var: v})
	}
	return affine.NewLinearExpression(addends)
}

func (m *Max) Serialize() string {
	parts := make([]string, len(m.Inputs))
	for i, v := range m.Inputs {
		parts[i] = strconv.Itoa(v)
	}
	return fmt.Sprintf("Max,%d,%d,%s", m.F, len(m.Inputs), strings.Join(parts, ","))
}

func (m *Max) Clone() Constraint {
	cp := *m
	cp.Inputs = make([]int, len(m.Inputs))
	copy(cp.Inputs, m.Inputs)
	cp.eliminated = make(map[int]bool, len(m.eliminated))
	for k, v := range m.eliminated {
		cp.eliminated[k] = v
	}
	cp.cachedLB = cloneMap(m.cachedLB)
	cp.cachedUB = cloneMap(m.cachedUB)
	return &cp
}

// Restore undoes refresh's progressive elimination along with the shared
// phase/cached-bound state (spec.md §4.F "On backtrack the constraint's
// state is restored from a previously stashed clone").
func (m *Max) Restore(snapshot Constraint) {
	s := snapshot.(*Max)
	m.base.restore(s.base)
	m.eliminated = make(map[int]bool, len(s.eliminated))
	for k, v := range s.eliminated {
		m.eliminated[k] = v
	}
}
