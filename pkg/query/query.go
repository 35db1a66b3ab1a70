// Package query implements the flat query data model and its line-oriented
// text serialization format (spec.md §6 "Query file format"): the
// num_variables/input_index/output_index/bound/equation/constraint lines a
// save_query/load_query round trip preserves exactly.
package query

import (
	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/nlr"
	"github.com/nnverify/marabou-go/pkg/plconstraint"
)

// Query is the in-memory form of a verification query: a variable count,
// per-variable box bounds, a set of linear equations, a set of PL/NL
// constraints, and the input/output variable index maps a parser populates
// from a network's declared interface.
type Query struct {
	NumVars int

	// LowerBounds/UpperBounds are indexed by variable; a missing entry
	// means -Inf/+Inf respectively (spec.md §6 "missing ⇒ −∞ / +∞").
	LowerBounds map[int]float64
	UpperBounds map[int]float64

	Equations   []affine.AffineForm
	Constraints []plconstraint.Constraint

	// InputIndex/OutputIndex map a network-facing rank (0, 1, 2, ...) to
	// the underlying variable index, matching the query file format's
	// "input_index k var_v" / "output_index k var_v" lines.
	InputIndex  map[int]int
	OutputIndex map[int]int

	// Net is optional: when the query was built from a layered network
	// description (rather than a flat VNN-LIB property file alone), Net
	// holds the NLR the equations/constraints above were generated from.
	Net *nlr.NLR
}

// New returns an empty Query over numVars variables with no bounds,
// equations, or constraints.
func New(numVars int) *Query {
	return &Query{
		NumVars:     numVars,
		LowerBounds: make(map[int]float64),
		UpperBounds: make(map[int]float64),
		InputIndex:  make(map[int]int),
		OutputIndex: make(map[int]int),
	}
}
