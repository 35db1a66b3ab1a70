// Package affine implements the affine expressions and relational equations
// of spec.md §4.B. Following spec.md §9's design note ("Equation and
// linear-expression aliasing"), the source project's two near-identical
// Equation/LinearExpression types are collapsed here into one immutable
// AffineForm plus a Relation enum.
package affine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// Relation is the relational operator of an AffineForm used as a
// constraint: spec.md's {EQ, LE, GE}.
type Relation int

const (
	// EQ is equality: the affine sum equals the scalar.
	EQ Relation = iota
	// LE is less-than-or-equal.
	LE
	// GE is greater-than-or-equal.
	GE
)

func (r Relation) String() string {
	switch r {
	case EQ:
		return "EQ"
	case LE:
		return "LE"
	case GE:
		return "GE"
	default:
		return "?"
	}
}

// Addend is one (coefficient, variable) term of an affine sum.
type Addend struct {
	Coeff float64
	Var   int
}

// AffineForm is an immutable affine expression: a multiset of addends plus a
// scalar and a relation. Used both as a bare linear expression (Relation
// EQ against an implicit 0, spec.md §4.B) and as an equation of the query.
// All mutating operations return a new AffineForm rather than modifying in
// place, matching the rest of this module's immutable-value convention
// (see boundstore.Tightening, plconstraint.CaseSplit).
type AffineForm struct {
	addends  []Addend
	scalar   float64
	relation Relation
}

// NewEquation builds an AffineForm with the given addends, scalar, and
// relation. The addends slice is copied so the caller's slice may be reused.
func NewEquation(addends []Addend, scalar float64, rel Relation) AffineForm {
	cp := make([]Addend, len(addends))
	copy(cp, addends)
	return AffineForm{addends: cp, scalar: scalar, relation: rel}
}

// NewLinearExpression builds a bare linear expression: an AffineForm that
// equates to 0 (spec.md §4.B "A linear expression equates to an equation
// with an implicit =0 RHS").
func NewLinearExpression(addends []Addend) AffineForm {
	return NewEquation(addends, 0, EQ)
}

// Zero returns the empty affine form 0 = 0, a convenient additive identity
// for cost-component accumulation (pkg/plconstraint, pkg/soi).
func Zero() AffineForm { return NewEquation(nil, 0, EQ) }

// Addends returns the affine form's addends in the order they were added.
// The returned slice must not be mutated by the caller.
func (a AffineForm) Addends() []Addend { return a.addends }

// Scalar returns the affine form's scalar (RHS).
func (a AffineForm) Scalar() float64 { return a.scalar }

// Relation returns the affine form's relational operator.
func (a AffineForm) Relation() Relation { return a.relation }

// WithRelation returns a copy of a with its relation replaced.
func (a AffineForm) WithRelation(rel Relation) AffineForm {
	return NewEquation(a.addends, a.scalar, rel)
}

// CoeffOf returns the coefficient of variable v in the affine form, 0 if v
// does not appear (spec.md §4.B "addend lookup").
func (a AffineForm) CoeffOf(v int) float64 {
	for _, ad := range a.addends {
		if ad.Var == v {
			return ad.Coeff
		}
	}
	return 0
}

// Vars returns the set of variables participating in the affine form, in
// ascending order.
func (a AffineForm) Vars() []int {
	seen := make(map[int]bool, len(a.addends))
	out := make([]int, 0, len(a.addends))
	for _, ad := range a.addends {
		if !seen[ad.Var] {
			seen[ad.Var] = true
			out = append(out, ad.Var)
		}
	}
	sort.Ints(out)
	return out
}

// Plus returns a new AffineForm with delta added to v's coefficient
// (spec.md §4.B "coefficient addition"). The relation and scalar are
// preserved.
func (a AffineForm) Plus(v int, delta float64) AffineForm {
	out := make([]Addend, 0, len(a.addends)+1)
	found := false
	for _, ad := range a.addends {
		if ad.Var == v {
			out = append(out, Addend{ad.Coeff + delta, v})
			found = true
		} else {
			out = append(out, ad)
		}
	}
	if !found {
		out = append(out, Addend{delta, v})
	}
	return NewEquation(out, a.scalar, a.relation)
}

// Scale returns a new AffineForm with every coefficient and the scalar
// multiplied by k. Scaling by a negative k flips LE and GE.
func (a AffineForm) Scale(k float64) AffineForm {
	out := make([]Addend, len(a.addends))
	for i, ad := range a.addends {
		out[i] = Addend{ad.Coeff * k, ad.Var}
	}
	rel := a.relation
	if k < 0 {
		switch rel {
		case LE:
			rel = GE
		case GE:
			rel = LE
		}
	}
	return NewEquation(out, a.scalar*k, rel)
}

// Substitute replaces every occurrence of variable old with newVar, scaling
// its coefficient by factor (used during identical-variable merging,
// spec.md §4.F step 5, where x_i - x_j = 0 survives as x_j with factor 1).
func (a AffineForm) Substitute(old, newVar int, factor float64) AffineForm {
	out := make([]Addend, 0, len(a.addends))
	pos := -1
	for _, ad := range a.addends {
		if ad.Var == old {
			ad = Addend{ad.Coeff * factor, newVar}
		}
		if ad.Var == newVar {
			if pos >= 0 {
				out[pos].Coeff += ad.Coeff
				continue
			}
			pos = len(out)
		}
		out = append(out, ad)
	}
	return NewEquation(out, a.scalar, a.relation)
}

// EliminateVariable removes variable v by substituting its fixed value,
// returning a new AffineForm with v's addend folded into the scalar
// (spec.md §4.F step 4, "Variable elimination"). If v does not appear, the
// result equals the receiver.
func (a AffineForm) EliminateVariable(v int, value float64) AffineForm {
	out := make([]Addend, 0, len(a.addends))
	scalar := a.scalar
	for _, ad := range a.addends {
		if ad.Var == v {
			scalar -= ad.Coeff * value
		} else {
			out = append(out, ad)
		}
	}
	return NewEquation(out, scalar, a.relation)
}

// UpdateIndex renames variable old to newVar in place of a re-indexing pass
// (spec.md §4.C update_index), without touching the coefficient.
func (a AffineForm) UpdateIndex(old, newVar int) AffineForm {
	return a.Substitute(old, newVar, 1)
}

// Evaluate computes the affine sum's value under the given assignment
// (indexed by variable), ignoring the relation.
func (a AffineForm) Evaluate(assignment []float64) float64 {
	sum := 0.0
	for _, ad := range a.addends {
		sum += ad.Coeff * assignment[ad.Var]
	}
	return sum
}

// Value evaluates the affine form as a cost expression: the linear part at
// assignment plus the scalar offset (spec.md §4.G's cost_component terms
// fold a phase's constant violation offset into the scalar so a WalkSAT/SoI
// caller gets the true violation magnitude back, not just the linear part).
// Distinct from Evaluate, which ignores the scalar because Evaluate/
// Satisfied treat the scalar as an equation's RHS rather than an additive
// term.
func (a AffineForm) Value(assignment []float64) float64 {
	return a.Evaluate(assignment) + a.scalar
}

// Satisfied reports whether the affine form's relation holds under the
// assignment, within eps.
func (a AffineForm) Satisfied(assignment []float64, eps tolerance.Eps) bool {
	lhs := a.Evaluate(assignment)
	switch a.relation {
	case EQ:
		return eps.Equal(lhs, a.scalar)
	case LE:
		return eps.LE(lhs, a.scalar)
	case GE:
		return eps.GE(lhs, a.scalar)
	default:
		return false
	}
}

// IsolateBound computes the tightest bound implied for variable v by this
// equation, given the current (lb, ub) of every other variable
// (spec.md §4.E step 2, "Tighten from equations": isolate each variable
// in turn). The affine form must be an EQ relation (LE/GE equations are
// normalized to EQ + slack before preprocessing runs, spec.md §4.B).
// Returns (lower, upper, ok); ok is false if v's coefficient is 0 or the
// relation is not EQ. An unbounded participating variable makes the
// corresponding side infinite rather than clearing ok.
func (a AffineForm) IsolateBound(v int, lb, ub []float64) (lower, upper float64, ok bool) {
	c := a.CoeffOf(v)
	if c == 0 || a.relation != EQ {
		return 0, 0, false
	}
	// sum_{i != v} a_i x_i + c*v = scalar  =>  v = (scalar - sum) / c
	// The range of "sum" is [sumMin, sumMax] via interval arithmetic on the
	// other addends; v's range is the scalar minus that range, divided by c
	// (flipping the direction if c < 0).
	sumMin, sumMax := 0.0, 0.0
	for _, ad := range a.addends {
		if ad.Var == v {
			continue
		}
		l, u := lb[ad.Var], ub[ad.Var]
		if ad.Coeff >= 0 {
			sumMin += ad.Coeff * l
			sumMax += ad.Coeff * u
		} else {
			sumMin += ad.Coeff * u
			sumMax += ad.Coeff * l
		}
	}
	vMin := (a.scalar - sumMax) / c
	vMax := (a.scalar - sumMin) / c
	if c < 0 {
		vMin, vMax = vMax, vMin
	}
	return vMin, vMax, true
}

// String renders the affine form as "c1*x_v1 + c2*x_v2 ... REL scalar",
// matching the query text format's equation grammar (spec.md §6).
func (a AffineForm) String() string {
	parts := make([]string, len(a.addends))
	for i, ad := range a.addends {
		parts[i] = fmt.Sprintf("%g*x%d", ad.Coeff, ad.Var)
	}
	return fmt.Sprintf("%s %s %g", strings.Join(parts, " + "), a.relation, a.scalar)
}

// EncodeToEquality normalizes an LE/GE AffineForm into an EQ equation plus a
// fresh slack variable (spec.md §4.B): for LE, slack is bounded
// [0, +Inf); for GE, slack is bounded (−Inf, 0]. slackVar is the caller-
// assigned new variable index. The returned AffineForm is EQ; the caller is
// responsible for bounding slackVar in the bound store per
// slackIsNonNegative.
func EncodeToEquality(a AffineForm, slackVar int) (eq AffineForm, slackIsNonNegative bool) {
	switch a.relation {
	case EQ:
		return a, true
	case LE:
		// sum <= scalar  <=>  sum + slack = scalar, slack >= 0
		return a.Plus(slackVar, 1).WithRelation(EQ), true
	case GE:
		// sum >= scalar  <=>  sum + slack = scalar, slack <= 0
		return a.Plus(slackVar, 1).WithRelation(EQ), false
	default:
		return a, true
	}
}
