package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnverify/marabou-go/pkg/boundstore"
)

func TestVNNLIBAppliesConstantBounds(t *testing.T) {
	eps := newTestEps()
	q := New(2)
	q.InputIndex[0] = 0
	q.OutputIndex[0] = 1
	store := boundstore.New(2, eps)

	src := `
(declare-const X_0 Real)
(declare-const Y_0 Real)
(assert (<= X_0 0.6))
(assert (>= X_0 -0.3))
`
	require.NoError(t, VNNLIB{}.Parse(strings.NewReader(src), q, store, eps))

	assert.Equal(t, 0.6, q.UpperBounds[0])
	assert.Equal(t, -0.3, q.LowerBounds[0])
	assert.Equal(t, 0.6, store.GetUB(0))
	assert.Equal(t, -0.3, store.GetLB(0))
}

func TestVNNLIBAppliesVariableComparisonAsEquation(t *testing.T) {
	eps := newTestEps()
	q := New(2)
	q.OutputIndex[0] = 0
	q.OutputIndex[1] = 1
	store := boundstore.New(2, eps)

	src := `(assert (>= Y_0 Y_1))`
	require.NoError(t, VNNLIB{}.Parse(strings.NewReader(src), q, store, eps))

	require.Len(t, q.Equations, 1)
	eq := q.Equations[0]
	assert.Equal(t, 0.0, eq.Scalar())
	assert.Equal(t, 1.0, eq.CoeffOf(0))
	assert.Equal(t, -1.0, eq.CoeffOf(1))
}

func TestVNNLIBBuildsDisjunctionFromOr(t *testing.T) {
	eps := newTestEps()
	q := New(2)
	q.OutputIndex[0] = 0
	q.OutputIndex[1] = 1
	store := boundstore.New(2, eps)

	src := `(assert (or (and (<= Y_0 0.0)) (and (>= Y_0 1.0) (<= Y_1 -1.0))))`
	require.NoError(t, VNNLIB{}.Parse(strings.NewReader(src), q, store, eps))

	require.Len(t, q.Constraints, 1)
	assert.Equal(t, "Disjunction,ub(0)=0|lb(0)=1&ub(1)=-1", q.Constraints[0].Serialize())
}

func TestVNNLIBRejectsUnknownVariable(t *testing.T) {
	eps := newTestEps()
	q := New(1)
	store := boundstore.New(1, eps)

	src := `(assert (<= Z_0 1.0))`
	err := VNNLIB{}.Parse(strings.NewReader(src), q, store, eps)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedQuery)
}
