package plconstraint

import (
	"fmt"
	"math"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// roundPhaseBase offsets Round's per-integer phases away from the small
// fixed enum shared by ReLU/AbsoluteValue/Sign, so a Round instance can
// encode "f is fixed to integer n" as roundPhaseBase+Phase(n) without
// colliding with any other kind's phase space. Round never compares its
// phase against another constraint's, so this purely-local encoding is
// safe.
const roundPhaseBase Phase = 1 << 20

// Round implements f = round(b), rounding to the nearest integer with
// ties away from zero (spec.md §4.C "Round"). Unlike ReLU/Abs/Sign, Round
// has unboundedly many phases (one per integer b could round to), so it
// fixes its phase only once b's bounds pin down a single candidate
// integer.
type Round struct {
	base
	B, F int
}

// NewRound creates a Round constraint over b and f.
func NewRound(store *boundstore.Store, eps tolerance.Eps, b, f int) *Round {
	r := &Round{base: newBase(eps), B: b, F: f}
	r.store = store
	return r
}

func roundToNearest(b float64) float64 {
	return math.Round(b)
}

func (r *Round) Kind() Kind                    { return KindRound }
func (r *Round) ParticipatingVariables() []int { return []int{r.B, r.F} }
func (r *Round) Watch(s *boundstore.Store)     { s.Watch(r.B, r); s.Watch(r.F, r) }
func (r *Round) Unwatch(s *boundstore.Store)   { s.Unwatch(r.B, r); s.Unwatch(r.F, r) }

// AllCases is unbounded in principle; callers that need the concrete
// candidate set should use CandidateIntegers against the current bounds.
func (r *Round) AllCases() []Phase { return nil }

// CandidateIntegers returns the integers b's current bounds could round to.
func (r *Round) CandidateIntegers() []int {
	lb, ub := r.lb(r.B), r.ub(r.B)
	lo := int(math.Ceil(lb - 0.5))
	hi := int(math.Floor(ub + 0.5))
	if hi < lo {
		return nil
	}
	out := make([]int, 0, hi-lo+1)
	for n := lo; n <= hi; n++ {
		out = append(out, n)
	}
	return out
}

func (r *Round) Satisfied(assignment []float64, eps tolerance.Eps) bool {
	return eps.Equal(assignment[r.F], roundToNearest(assignment[r.B]))
}

func (r *Round) PossibleFixes(assignment []float64) []Fix {
	b := assignment[r.B]
	if r.Satisfied(assignment, r.eps) {
		return nil
	}
	return []Fix{{r.F, roundToNearest(b)}}
}

func (r *Round) CaseSplits() []CaseSplit {
	if r.PhaseFixed() {
		panic("plconstraint: CaseSplits called on a phase-fixed Round")
	}
	cands := r.CandidateIntegers()
	out := make([]CaseSplit, 0, len(cands))
	for _, n := range cands {
		lo, hi := float64(n)-0.5, float64(n)+0.5
		out = append(out, CaseSplit{
			Phase: roundPhaseBase + Phase(n),
			Tightenings: []boundstore.Tightening{
				{Var: r.B, Value: lo, Kind: boundstore.Lower},
				{Var: r.B, Value: hi, Kind: boundstore.Upper},
				{Var: r.F, Value: float64(n), Kind: boundstore.Lower},
				{Var: r.F, Value: float64(n), Kind: boundstore.Upper},
			},
		})
	}
	return out
}

func (r *Round) ValidCaseSplit() CaseSplit {
	for _, cs := range r.CaseSplits() {
		if cs.Phase == r.phase {
			return cs
		}
	}
	panic("plconstraint: ValidCaseSplit called on a Round with no fixed phase")
}

func (r *Round) Eliminate(v int, value float64) error {
	if v == r.B || v == r.F {
		r.active = false
	}
	return nil
}

func (r *Round) UpdateIndex(old, newVar int) {
	if r.B == old {
		r.B = newVar
	}
	if r.F == old {
		r.F = newVar
	}
}

func (r *Round) NotifyLowerBound(s *boundstore.Store, v int, x float64) error {
	if !r.active {
		return nil
	}
	if v == r.B && !r.refineCachedLB(r.B, x) {
		return nil
	}
	return r.tighten(s)
}

func (r *Round) NotifyUpperBound(s *boundstore.Store, v int, x float64) error {
	if !r.active {
		return nil
	}
	if v == r.B && !r.refineCachedUB(r.B, x) {
		return nil
	}
	return r.tighten(s)
}

func (r *Round) tighten(s *boundstore.Store) error {
	cands := r.CandidateIntegers()
	if len(cands) == 1 {
		n := cands[0]
		if r.phase == PhaseNotFixed {
			r.phase = roundPhaseBase + Phase(n)
		}
		_, err := s.Apply(boundstore.Tightening{Var: r.F, Value: float64(n), Kind: boundstore.Lower})
		if err != nil {
			return err
		}
		_, err = s.Apply(boundstore.Tightening{Var: r.F, Value: float64(n), Kind: boundstore.Upper})
		return err
	}
	return nil
}

func (r *Round) EntailedTightenings() ([]boundstore.Tightening, error) {
	cands := r.CandidateIntegers()
	if len(cands) == 1 {
		n := float64(cands[0])
		return []boundstore.Tightening{
			{Var: r.F, Value: n, Kind: boundstore.Lower},
			{Var: r.F, Value: n, Kind: boundstore.Upper},
		}, nil
	}
	return nil, nil
}

// CostComponent returns a linear cost whose Value is |f - n|, sign-selected
// from the current assignment (spec.md §4.G).
func (r *Round) CostComponent(phase Phase, assignment []float64) affine.AffineForm {
	n := float64(int(phase - roundPhaseBase))
	f := assignment[r.F]
	if f >= n {
		return affine.NewEquation([]affine.Addend{{1, r.F}}, -n, affine.EQ)
	}
	return affine.NewEquation([]affine.Addend{{-1, r.F}}, n, affine.EQ)
}

func (r *Round) Serialize() string {
	return fmt.Sprintf("Round,%d,%d", r.F, r.B)
}

func (r *Round) Clone() Constraint {
	cp := *r
	cp.cachedLB = cloneMap(r.cachedLB)
	cp.cachedUB = cloneMap(r.cachedUB)
	return &cp
}

func (r *Round) Restore(snapshot Constraint) {
	s := snapshot.(*Round)
	r.base.restore(s.base)
}
