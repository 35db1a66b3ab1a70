package plconstraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnverify/marabou-go/pkg/boundstore"
)

func sampleDisjuncts() []CaseSplit {
	return []CaseSplit{
		{Tightenings: []boundstore.Tightening{{Var: 0, Value: 0, Kind: boundstore.Upper}}},
		{Tightenings: []boundstore.Tightening{
			{Var: 0, Value: 1, Kind: boundstore.Lower},
			{Var: 1, Value: -1, Kind: boundstore.Upper},
		}},
	}
}

func TestDisjunctionSatisfiedWhenAnyDisjunctHolds(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(2, eps)
	d := NewDisjunction(s, eps, sampleDisjuncts(), []int{0, 1})

	assert.True(t, d.Satisfied([]float64{-1, 5}, eps))
	assert.True(t, d.Satisfied([]float64{2, -2}, eps))
	assert.False(t, d.Satisfied([]float64{0.5, 5}, eps))
}

func TestDisjunctionFixesPhaseWhenOneDisjunctSurvives(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(2, eps)
	d := NewDisjunction(s, eps, sampleDisjuncts(), []int{0, 1})
	s.Watch(0, d)
	s.Watch(1, d)

	_, err := s.TightenLB(0, 0.5)
	require.NoError(t, err)

	assert.True(t, d.PhaseFixed())
	assert.Equal(t, d.Disjuncts[1].Phase, d.phase)
}

func TestDisjunctionSerializeOmitsEquations(t *testing.T) {
	eps := newTestEps()
	d := NewDisjunction(nil, eps, sampleDisjuncts(), []int{0, 1})
	assert.Equal(t, "Disjunction,ub(0)=0|lb(0)=1&ub(1)=-1", d.Serialize())
}
