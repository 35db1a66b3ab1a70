package plconstraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnverify/marabou-go/pkg/boundstore"
)

func TestAbsSatisfied(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(2, eps)
	a := NewAbsoluteValue(s, eps, 0, 1)

	assert.True(t, a.Satisfied([]float64{-3, 3}, eps))
	assert.True(t, a.Satisfied([]float64{3, 3}, eps))
	assert.False(t, a.Satisfied([]float64{-3, -3}, eps))
}

// TestAbsS1Feasible mirrors spec.md's S1 scenario: b in [-2, 3] forces
// f's bounds to [0, 3] without fixing a phase, since 0 is interior to b's
// range.
func TestAbsS1Feasible(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(2, eps)
	a := NewAbsoluteValue(s, eps, 0, 1)
	s.Watch(0, a)
	s.Watch(1, a)

	_, err := s.TightenLB(0, -2)
	require.NoError(t, err)
	_, err = s.TightenUB(0, 3)
	require.NoError(t, err)

	assert.Equal(t, PhaseNotFixed, a.phase)
	assert.Equal(t, 0.0, s.GetLB(1))
	assert.Equal(t, 3.0, s.GetUB(1))
}

// TestAbsS2PositivePhase mirrors spec.md's S2 scenario: once b's lower
// bound becomes non-negative, the phase fixes Positive and f pulls back to
// exactly b's range.
func TestAbsS2PositivePhase(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(2, eps)
	a := NewAbsoluteValue(s, eps, 0, 1)
	s.Watch(0, a)
	s.Watch(1, a)

	_, err := s.TightenLB(0, 2)
	require.NoError(t, err)
	_, err = s.TightenUB(0, 5)
	require.NoError(t, err)

	assert.Equal(t, PhasePositive, a.phase)
	assert.Equal(t, 2.0, s.GetLB(1))
	assert.Equal(t, 5.0, s.GetUB(1))
}

func TestAbsNegativePhasePullsBack(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(2, eps)
	a := NewAbsoluteValue(s, eps, 0, 1)
	s.Watch(0, a)
	s.Watch(1, a)

	_, err := s.TightenUB(0, -2)
	require.NoError(t, err)
	_, err = s.TightenLB(0, -5)
	require.NoError(t, err)

	assert.Equal(t, PhaseNegative, a.phase)
	assert.Equal(t, 2.0, s.GetLB(1))
	assert.Equal(t, 5.0, s.GetUB(1))
}
