package plconstraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnverify/marabou-go/pkg/boundstore"
)

func TestMaxSatisfied(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(4, eps)
	m := NewMax(s, eps, []int{0, 1, 2}, 3)

	assert.True(t, m.Satisfied([]float64{1, 5, 2, 5}, eps))
	assert.False(t, m.Satisfied([]float64{1, 5, 2, 4}, eps))
}

func TestMaxEliminatesDominatedInputs(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(4, eps)
	m := NewMax(s, eps, []int{0, 1, 2}, 3)
	s.Watch(0, m)
	s.Watch(1, m)
	s.Watch(2, m)
	s.Watch(3, m)

	_, err := s.TightenLB(0, 10)
	require.NoError(t, err)
	_, err = s.TightenUB(1, 5)
	require.NoError(t, err)
	_, err = s.TightenUB(2, 3)
	require.NoError(t, err)

	assert.True(t, m.eliminated[1])
	assert.True(t, m.eliminated[2])
	assert.Equal(t, PhaseMaxInputBase, m.phase)
	assert.Equal(t, 10.0, s.GetLB(3))
}

func TestMaxCaseSplitsSkipEliminatedInputs(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(4, eps)
	m := NewMax(s, eps, []int{0, 1, 2}, 3)
	m.eliminated[1] = true

	cases := m.CaseSplits()
	require.Len(t, cases, 2)
	assert.Equal(t, PhaseMaxInputBase, cases[0].Phase)
	assert.Equal(t, PhaseMaxInputBase+2, cases[1].Phase)
}

func TestMaxSerializeRoundTripsCount(t *testing.T) {
	eps := newTestEps()
	m := NewMax(nil, eps, []int{2, 5, 7}, 1)
	assert.Equal(t, "Max,1,3,2,5,7", m.Serialize())
}
