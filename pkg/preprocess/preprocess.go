// Package preprocess implements the query preprocessing pipeline of
// spec.md §4.E/§4.F: normalizing inequalities to equalities, tightening
// bounds from equations and PL constraints to a fixed point, eliminating
// fixed variables, and merging variables proven identical.
package preprocess

import (
	"errors"
	"fmt"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/plconstraint"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// ErrInfeasibleQuery is returned when preprocessing proves the query has no
// satisfying assignment, independent of any later search.
var ErrInfeasibleQuery = errors.New("preprocess: query is infeasible")

// Query is the flat input to preprocessing: a variable count, box bounds,
// a set of equations (any relation; LE/GE are normalized in place), and a
// set of PL/NL constraints referencing variable indices 0..NumVars-1.
type Query struct {
	NumVars     int
	Equations   []affine.AffineForm
	Constraints []plconstraint.Constraint
}

// Result is the outcome of a successful preprocessing pass: the rewritten
// equation set, the surviving constraints, and the old-to-new variable
// index map (spec.md §4.F "Identical variable merging"). MergeIdentical
// fills Reindex; Run returns it empty.
type Result struct {
	Equations   []affine.AffineForm
	Constraints []plconstraint.Constraint
	Reindex     map[int]int
	NumVars     int
}

// Run executes the fixed-point preprocessing loop: normalize inequalities,
// then repeatedly tighten from equations and from PL constraints and
// eliminate newly-fixed variables, until no pass produces further change
// (spec.md §4.F "fixed-point outer loop"). Run does not merge identical
// variables; MergeIdentical is a separate pass.
func Run(store *boundstore.Store, q Query, eps tolerance.Eps) (*Result, error) {
	eqs := make([]affine.AffineForm, 0, len(q.Equations))
	nextSlack := q.NumVars
	for _, eq := range q.Equations {
		norm, nonNeg := affine.EncodeToEquality(eq, nextSlack)
		if eq.Relation() != affine.EQ {
			if nonNeg {
				if _, err := store.TightenLB(nextSlack, 0); err != nil {
					return nil, err
				}
			} else {
				if _, err := store.TightenUB(nextSlack, 0); err != nil {
					return nil, err
				}
			}
			nextSlack++
		}
		eqs = append(eqs, norm)
	}
	numVars := nextSlack

	eliminated := make(map[int]float64)
	reindex := make(map[int]int)
	constraints := q.Constraints

	for {
		changed := false

		for _, eq := range eqs {
			for _, v := range eq.Vars() {
				if _, done := eliminated[v]; done {
					continue
				}
				lb, ub := store.Snapshot()
				lo, hi, ok := eq.IsolateBound(v, lb, ub)
				if !ok {
					continue
				}
				if lo > hi+eps.Value {
					return nil, fmt.Errorf("%w: equation isolates empty range for var %d", ErrInfeasibleQuery, v)
				}
				c1, err := store.TightenLB(v, lo)
				if err != nil {
					return nil, wrapInfeasible(err)
				}
				c2, err := store.TightenUB(v, hi)
				if err != nil {
					return nil, wrapInfeasible(err)
				}
				changed = changed || c1 || c2
			}
		}

		for _, c := range constraints {
			if !c.Active() {
				continue
			}
			ts, err := c.EntailedTightenings()
			if err != nil {
				return nil, err
			}
			for _, t := range ts {
				var ok bool
				var err error
				switch t.Kind {
				case boundstore.Lower:
					ok, err = store.TightenLB(t.Var, t.Value)
				case boundstore.Upper:
					ok, err = store.TightenUB(t.Var, t.Value)
				}
				if err != nil {
					return nil, wrapInfeasible(err)
				}
				changed = changed || ok
			}
		}

		for v := 0; v < numVars; v++ {
			if _, done := eliminated[v]; done {
				continue
			}
			lb, ub := store.GetLB(v), store.GetUB(v)
			if eps.Equal(lb, ub) {
				eliminated[v] = lb
				for _, c := range constraints {
					if c.Active() {
						if err := c.Eliminate(v, lb); err != nil {
							return nil, err
						}
					}
				}
				newEqs := make([]affine.AffineForm, len(eqs))
				for i, eq := range eqs {
					newEqs[i] = eq.EliminateVariable(v, lb)
				}
				eqs = newEqs
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	survivors := make([]plconstraint.Constraint, 0, len(constraints))
	for _, c := range constraints {
		if c.Active() {
			survivors = append(survivors, c)
		}
	}

	return &Result{Equations: eqs, Constraints: survivors, Reindex: reindex, NumVars: numVars}, nil
}

// MergeIdentical merges variable `from` into `to` everywhere (spec.md §4.F
// "Identical variable merging"): equations are substituted, constraints
// reindexed, and the merge recorded in reindex so later callers (e.g.
// pkg/query) can translate original variable indices to the post-merge
// space. It must run after Eliminate-style fixed-point tightening has
// stabilized, since merging a variable the solver had already proven fixed
// would otherwise silently discard that fact (spec.md §9 Open Question on
// elimination/merge ordering, resolved here as "eliminate first").
func MergeIdentical(res *Result, from, to int) {
	newEqs := make([]affine.AffineForm, len(res.Equations))
	for i, eq := range res.Equations {
		newEqs[i] = eq.Substitute(from, to, 1)
	}
	res.Equations = newEqs
	for _, c := range res.Constraints {
		c.UpdateIndex(from, to)
	}
	res.Reindex[from] = to
}

func wrapInfeasible(err error) error {
	var infeasible *boundstore.ErrInfeasibleBounds
	if errors.As(err, &infeasible) {
		return fmt.Errorf("%w: %v", ErrInfeasibleQuery, infeasible)
	}
	return err
}
