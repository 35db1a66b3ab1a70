package query

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/plconstraint"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// ParserBackend is the narrow interface a property-file parser implements
// (spec.md §1 "File parsers ... treated as external collaborators through
// narrow interfaces"). A backend only ever augments an already-loaded
// Query's bounds, equations, and constraints; it never builds one from
// scratch, since the variable count and input/output index maps come from
// the network description the property file references.
type ParserBackend interface {
	// Parse reads a property file from r and folds its constraints into q,
	// using store to construct and watch any PL constraint it introduces.
	Parse(r io.Reader, q *Query, store *boundstore.Store, eps tolerance.Eps) error
}

// VNNLIB parses the VNN-LIB subset spec.md §6 names: declare-const,
// (assert (<= ...)), (assert (>= ...)), (assert (or ...)). It resolves
// X_i/Y_i names against an already-populated Query.InputIndex/OutputIndex,
// rather than reading a full SMT-LIB grammar (spec.md §1's non-goal).
type VNNLIB struct{}

var _ ParserBackend = VNNLIB{}

// Parse implements ParserBackend.
func (VNNLIB) Parse(r io.Reader, q *Query, store *boundstore.Store, eps tolerance.Eps) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("query: vnnlib: read: %w", err)
	}

	forms, err := parseSExprs(string(data))
	if err != nil {
		return err
	}

	names := make(map[string]int)
	for i, v := range q.InputIndex {
		names[fmt.Sprintf("X_%d", i)] = v
	}
	for i, v := range q.OutputIndex {
		names[fmt.Sprintf("Y_%d", i)] = v
	}

	for _, form := range forms {
		if err := applyForm(form, q, store, eps, names); err != nil {
			return err
		}
	}
	return nil
}

func applyForm(form sexpr, q *Query, store *boundstore.Store, eps tolerance.Eps, names map[string]int) error {
	if len(form.items) == 0 {
		return nil
	}
	head, ok := form.items[0].atom()
	if !ok {
		return fmt.Errorf("%w: vnnlib: malformed top-level form", ErrMalformedQuery)
	}

	switch head {
	case "declare-const":
		return applyDeclareConst(form, names)
	case "assert":
		if len(form.items) != 2 {
			return fmt.Errorf("%w: vnnlib: assert takes one expression", ErrMalformedQuery)
		}
		return applyAssert(form.items[1], q, store, eps, names)
	default:
		return fmt.Errorf("%w: vnnlib: unsupported top-level form %q", ErrUnsupportedConstraint, head)
	}
}

// applyDeclareConst accepts "(declare-const NAME Real)" purely as a
// sanity check: NAME must already resolve via the network's input/output
// index maps, since this backend never introduces new variables.
func applyDeclareConst(form sexpr, names map[string]int) error {
	if len(form.items) != 3 {
		return fmt.Errorf("%w: vnnlib: malformed declare-const", ErrMalformedQuery)
	}
	name, ok := form.items[1].atom()
	if !ok {
		return fmt.Errorf("%w: vnnlib: malformed declare-const name", ErrMalformedQuery)
	}
	if _, ok := names[name]; !ok {
		return fmt.Errorf("%w: vnnlib: declare-const %q has no matching network variable", ErrMalformedQuery, name)
	}
	return nil
}

// applyAssert handles (<= a b), (>= a b), and (or clause...) at the
// top level of an assert form.
func applyAssert(e sexpr, q *Query, store *boundstore.Store, eps tolerance.Eps, names map[string]int) error {
	head, ok := e.items[0].atom()
	if !ok {
		return fmt.Errorf("%w: vnnlib: malformed assert expression", ErrMalformedQuery)
	}

	switch head {
	case "<=", ">=":
		cs, err := parseComparison(e, names)
		if err != nil {
			return err
		}
		return applyCaseSplit(cs, q, store)
	case "or":
		return applyDisjunction(e, q, store, eps, names)
	default:
		return fmt.Errorf("%w: vnnlib: unsupported assert head %q", ErrUnsupportedConstraint, head)
	}
}

// parseComparison turns "(<= LHS RHS)" or "(>= LHS RHS)" into the single
// CaseSplit it entails: a bound tightening when one side is a bare
// variable and the other a literal, otherwise a linear equation
// lhs - rhs REL 0.
func parseComparison(e sexpr, names map[string]int) (plconstraint.CaseSplit, error) {
	if len(e.items) != 3 {
		return plconstraint.CaseSplit{}, fmt.Errorf("%w: vnnlib: comparison needs exactly two operands", ErrMalformedQuery)
	}
	head, _ := e.items[0].atom()
	lhsVar, lhsNum, lhsIsVar, err := resolveTerm(e.items[1], names)
	if err != nil {
		return plconstraint.CaseSplit{}, err
	}
	rhsVar, rhsNum, rhsIsVar, err := resolveTerm(e.items[2], names)
	if err != nil {
		return plconstraint.CaseSplit{}, err
	}

	// var <= const  or  var >= const: a direct bound.
	if lhsIsVar && !rhsIsVar {
		kind := boundstore.Upper
		if head == ">=" {
			kind = boundstore.Lower
		}
		return plconstraint.CaseSplit{Tightenings: []boundstore.Tightening{{Var: lhsVar, Value: rhsNum, Kind: kind}}}, nil
	}
	// const <= var  or  const >= var: flip into a bound on var.
	if !lhsIsVar && rhsIsVar {
		kind := boundstore.Lower
		if head == ">=" {
			kind = boundstore.Upper
		}
		return plconstraint.CaseSplit{Tightenings: []boundstore.Tightening{{Var: rhsVar, Value: lhsNum, Kind: kind}}}, nil
	}
	// var REL var: a linear inequality between two variables.
	if lhsIsVar && rhsIsVar {
		rel := affine.LE
		if head == ">=" {
			rel = affine.GE
		}
		eq := affine.NewEquation([]affine.Addend{{Coeff: 1, Var: lhsVar}, {Coeff: -1, Var: rhsVar}}, 0, rel)
		return plconstraint.CaseSplit{Equations: []affine.AffineForm{eq}}, nil
	}
	return plconstraint.CaseSplit{}, fmt.Errorf("%w: vnnlib: comparison between two literals", ErrMalformedQuery)
}

// resolveTerm resolves an atom to either a known variable index or a
// float literal.
func resolveTerm(e sexpr, names map[string]int) (v int, num float64, isVar bool, err error) {
	name, ok := e.atom()
	if !ok {
		return 0, 0, false, fmt.Errorf("%w: vnnlib: expected an atom, got a list", ErrMalformedQuery)
	}
	if idx, ok := names[name]; ok {
		return idx, 0, true, nil
	}
	x, err := strconv.ParseFloat(name, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("%w: vnnlib: unresolved term %q", ErrMalformedQuery, name)
	}
	return 0, x, false, nil
}

// applyCaseSplit applies a single-branch CaseSplit directly, since a
// top-level assert (not inside an "or") must hold unconditionally.
func applyCaseSplit(cs plconstraint.CaseSplit, q *Query, store *boundstore.Store) error {
	for _, t := range cs.Tightenings {
		if _, err := store.Apply(t); err != nil {
			return fmt.Errorf("query: vnnlib: %w", err)
		}
		if t.Kind == boundstore.Lower {
			q.LowerBounds[t.Var] = t.Value
		} else {
			q.UpperBounds[t.Var] = t.Value
		}
	}
	q.Equations = append(q.Equations, cs.Equations...)
	return nil
}

// applyDisjunction handles "(or (and clause...) (and clause...) ...)",
// building one Disjunction constraint whose disjuncts are the merged
// tightenings/equations of each "and" branch.
func applyDisjunction(e sexpr, q *Query, store *boundstore.Store, eps tolerance.Eps, names map[string]int) error {
	var disjuncts []plconstraint.CaseSplit
	seen := make(map[int]bool)
	var vars []int
	addVar := func(v int) {
		if !seen[v] {
			seen[v] = true
			vars = append(vars, v)
		}
	}

	for _, branch := range e.items[1:] {
		if len(branch.items) < 1 {
			return fmt.Errorf("%w: vnnlib: empty or-branch", ErrMalformedQuery)
		}
		branchHead, ok := branch.items[0].atom()
		if !ok || branchHead != "and" {
			return fmt.Errorf("%w: vnnlib: or-branch must be an and-clause", ErrUnsupportedConstraint)
		}
		var merged plconstraint.CaseSplit
		for _, clause := range branch.items[1:] {
			cs, err := parseComparison(clause, names)
			if err != nil {
				return err
			}
			merged.Tightenings = append(merged.Tightenings, cs.Tightenings...)
			merged.Equations = append(merged.Equations, cs.Equations...)
		}
		for _, t := range merged.Tightenings {
			addVar(t.Var)
		}
		for _, eq := range merged.Equations {
			for _, v := range eq.Vars() {
				addVar(v)
			}
		}
		disjuncts = append(disjuncts, merged)
	}

	d := plconstraint.NewDisjunction(store, eps, disjuncts, vars)
	d.Watch(store)
	q.Constraints = append(q.Constraints, d)
	return nil
}
