package query

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/plconstraint"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

func newTestEps() tolerance.Eps { return tolerance.New(tolerance.Default) }

// buildSample constructs a Query exercising every line kind the format
// supports: index maps, both bound kinds, an equation of each relation,
// and one constraint of several kinds (Relu, Max, Disjunction).
func buildSample(eps tolerance.Eps) *Query {
	q := New(4)
	q.InputIndex[0] = 0
	q.OutputIndex[0] = 3
	q.LowerBounds[0] = -5
	q.UpperBounds[0] = 5
	q.LowerBounds[1] = 0
	q.UpperBounds[2] = 10

	q.Equations = append(q.Equations,
		affine.NewEquation([]affine.Addend{{Coeff: 1, Var: 1}, {Coeff: -1, Var: 0}}, 0, affine.EQ),
		affine.NewEquation([]affine.Addend{{Coeff: 2, Var: 2}}, 3, affine.LE),
		affine.NewEquation([]affine.Addend{{Coeff: -1, Var: 3}}, -1, affine.GE),
	)

	q.Constraints = append(q.Constraints, plconstraint.NewRelu(nil, eps, 0, 1))
	q.Constraints = append(q.Constraints, plconstraint.NewMax(nil, eps, []int{0, 1, 2}, 3))

	disjuncts := []plconstraint.CaseSplit{
		{Tightenings: []boundstore.Tightening{{Var: 0, Value: 1, Kind: boundstore.Upper}}},
		{Tightenings: []boundstore.Tightening{{Var: 0, Value: -1, Kind: boundstore.Lower}}},
	}
	q.Constraints = append(q.Constraints, plconstraint.NewDisjunction(nil, eps, disjuncts, []int{0}))

	return q
}

func TestSaveLoadRoundTrip(t *testing.T) {
	eps := newTestEps()
	q := buildSample(eps)

	var buf bytes.Buffer
	require.NoError(t, Save(q, &buf))

	loaded, store, err := Load(&buf, eps)
	require.NoError(t, err)
	require.NotNil(t, store)

	assert.Equal(t, q.NumVars, loaded.NumVars)
	assert.Equal(t, q.InputIndex, loaded.InputIndex)
	assert.Equal(t, q.OutputIndex, loaded.OutputIndex)
	assert.Equal(t, q.LowerBounds, loaded.LowerBounds)
	assert.Equal(t, q.UpperBounds, loaded.UpperBounds)
	require.Len(t, loaded.Equations, len(q.Equations))
	for i, eq := range q.Equations {
		assert.Equal(t, eq.Relation(), loaded.Equations[i].Relation())
		assert.InDelta(t, eq.Scalar(), loaded.Equations[i].Scalar(), 1e-9)
		assert.Equal(t, eq.Addends(), loaded.Equations[i].Addends())
	}

	require.Len(t, loaded.Constraints, len(q.Constraints))
	for i, c := range q.Constraints {
		assert.Equal(t, c.Serialize(), loaded.Constraints[i].Serialize())
		assert.Equal(t, c.Kind(), loaded.Constraints[i].Kind())
	}

	for v := 0; v < loaded.NumVars; v++ {
		lb, hasLB := loaded.LowerBounds[v]
		if hasLB {
			assert.Equal(t, lb, store.GetLB(v))
		}
		ub, hasUB := loaded.UpperBounds[v]
		if hasUB {
			assert.Equal(t, ub, store.GetUB(v))
		}
	}
}

func TestLoadRejectsMissingHeader(t *testing.T) {
	_, _, err := Load(bytes.NewBufferString("lower_bound 0 1\n"), newTestEps())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedQuery)
}

func TestLoadRejectsUnknownConstraintKind(t *testing.T) {
	src := "num_variables 1\nFoo,0,1\n"
	_, _, err := Load(bytes.NewBufferString(src), newTestEps())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedConstraint)
}

func TestLoadAppliesBoundsToReturnedStore(t *testing.T) {
	src := "num_variables 2\nlower_bound 0 -3\nupper_bound 0 3\nupper_bound 1 7\n"
	q, store, err := Load(bytes.NewBufferString(src), newTestEps())
	require.NoError(t, err)
	assert.Equal(t, -3.0, store.GetLB(0))
	assert.Equal(t, 3.0, store.GetUB(0))
	assert.Equal(t, 7.0, store.GetUB(1))
	assert.Equal(t, -3.0, q.LowerBounds[0])
}
