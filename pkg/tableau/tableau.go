// Package tableau is the narrow external LP solving surface the engine and
// pkg/nlr's backward-converge tightening pass consume (spec.md §4.I
// "External tableau"). It standardizes a set of affine equality rows plus
// per-variable box bounds into the equality/non-negative form
// gonum.org/v1/gonum/optimize/convex/lp.Simplex requires, following the
// box-to-standard-form conversion pattern used by the jjhbw-GoMILP
// reference's convertToEqualities.
package tableau

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
)

// ErrUnbounded is returned when a variable needed by the standard-form
// conversion has an infinite bound; gonum's Simplex requires a bounded
// non-negative orthant.
var ErrUnbounded = errors.New("tableau: variable has a non-finite bound")

// Tableau is a standard-form LP view over a set of equations and the
// current box bounds of a boundstore.Store: minimize/maximize a single
// variable subject to Rows and every variable's [lb, ub] box.
type Tableau struct {
	numVars int
	rows    []affine.AffineForm // all EQ
	lb, ub  []float64
}

// New builds a Tableau from numVars variables, a set of EQ rows (LE/GE rows
// must already be normalized via affine.EncodeToEquality by the caller —
// spec.md §4.B), and the given box bounds.
func New(numVars int, rows []affine.AffineForm, lb, ub []float64) (*Tableau, error) {
	for v := 0; v < numVars; v++ {
		if math.IsInf(lb[v], -1) || math.IsInf(ub[v], 1) {
			return nil, fmt.Errorf("%w: var %d has bounds [%g, %g]", ErrUnbounded, v, lb[v], ub[v])
		}
	}
	return &Tableau{numVars: numVars, rows: append([]affine.AffineForm(nil), rows...), lb: lb, ub: ub}, nil
}

// FromStore builds a Tableau from a boundstore.Store's current bounds.
func FromStore(store *boundstore.Store, rows []affine.AffineForm) (*Tableau, error) {
	lb, ub := store.Snapshot()
	return New(store.NumVars(), rows, lb, ub)
}

// standardForm shifts every variable by its lower bound (x = x' + lb, so
// x' >= 0) and appends one slack row per variable enforcing its shifted
// upper bound (x' + s = ub - lb, s >= 0), producing the A*x'=b, x'>=0 form
// lp.Simplex requires.
func (t *Tableau) standardForm() (A *mat.Dense, b []float64, totalCols int) {
	totalCols = t.numVars + t.numVars // original + one slack per variable
	A = mat.NewDense(len(t.rows)+t.numVars, totalCols, nil)
	b = make([]float64, len(t.rows)+t.numVars)

	for r, row := range t.rows {
		shiftedScalar := row.Scalar()
		for _, ad := range row.Addends() {
			A.Set(r, ad.Var, ad.Coeff)
			shiftedScalar -= ad.Coeff * t.lb[ad.Var]
		}
		b[r] = shiftedScalar
	}
	base := len(t.rows)
	for v := 0; v < t.numVars; v++ {
		A.Set(base+v, v, 1)
		A.Set(base+v, t.numVars+v, 1)
		b[base+v] = t.ub[v] - t.lb[v]
	}
	return A, b, totalCols
}

// Minimize solves for the minimum value of variable target subject to the
// tableau's rows and box bounds, returning the optimal value in the
// original (unshifted) coordinate system.
func (t *Tableau) Minimize(target int) (float64, error) {
	return t.optimize(target, 1)
}

// Maximize solves for the maximum value of variable target.
func (t *Tableau) Maximize(target int) (float64, error) {
	return t.optimize(target, -1)
}

func (t *Tableau) optimize(target int, sign float64) (float64, error) {
	A, b, cols := t.standardForm()
	c := make([]float64, cols)
	c[target] = sign
	z, _, err := lp.Simplex(nil, c, A, b, 0, nil)
	if err != nil {
		return 0, fmt.Errorf("tableau: simplex: %w", err)
	}
	return sign*z + t.lb[target], nil
}

// MinimizeExpr solves for the minimum value of a general linear expression
// cost subject to the tableau's rows and box bounds, returning both the
// optimal value and the full assignment (in the original, unshifted
// coordinate system) that attains it. This is the primitive the engine's
// simplex-pivot step and the SoI manager's cost-minimization step both need
// (spec.md §4.F step 2 "pivot toward a simplex-feasible assignment", §4.G
// "ask the tableau to minimise the new linear cost").
func (t *Tableau) MinimizeExpr(cost affine.AffineForm) (float64, []float64, error) {
	A, b, cols := t.standardForm()
	c := make([]float64, cols)
	shift := 0.0
	for _, ad := range cost.Addends() {
		c[ad.Var] = ad.Coeff
		shift += ad.Coeff * t.lb[ad.Var]
	}
	z, x, err := lp.Simplex(nil, c, A, b, 0, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("tableau: simplex: %w", err)
	}
	assignment := make([]float64, t.numVars)
	for v := 0; v < t.numVars; v++ {
		assignment[v] = x[v] + t.lb[v]
	}
	return z + shift + cost.Scalar(), assignment, nil
}

// FeasibleAssignment solves for any point satisfying the tableau's rows and
// box bounds, using a zero objective; a non-nil error means the relaxation
// itself is infeasible (spec.md §4.F step 2 "if it reports infeasible").
func (t *Tableau) FeasibleAssignment() ([]float64, error) {
	_, assignment, err := t.MinimizeExpr(affine.Zero())
	return assignment, err
}

// TightenAll solves Minimize/Maximize for every variable in vars and
// returns the resulting (possibly tighter) bounds as Tightenings, used by
// pkg/nlr's backward-converge LP relaxation pass (spec.md §4.I).
func (t *Tableau) TightenAll(vars []int) ([]boundstore.Tightening, error) {
	var out []boundstore.Tightening
	for _, v := range vars {
		lo, err := t.Minimize(v)
		if err != nil {
			return out, err
		}
		hi, err := t.Maximize(v)
		if err != nil {
			return out, err
		}
		out = append(out,
			boundstore.Tightening{Var: v, Value: lo, Kind: boundstore.Lower},
			boundstore.Tightening{Var: v, Value: hi, Kind: boundstore.Upper},
		)
	}
	return out, nil
}
