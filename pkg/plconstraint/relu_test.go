package plconstraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

func newTestEps() tolerance.Eps { return tolerance.New(tolerance.Default) }

func TestReluSatisfied(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(2, eps)
	r := NewRelu(s, eps, 0, 1)

	assert.True(t, r.Satisfied([]float64{3, 3}, eps))
	assert.True(t, r.Satisfied([]float64{-2, 0}, eps))
	assert.False(t, r.Satisfied([]float64{3, 0}, eps))
	assert.False(t, r.Satisfied([]float64{-2, 1}, eps))
}

func TestReluBecomesActiveOnPositiveLB(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(2, eps)
	r := NewRelu(s, eps, 0, 1)
	s.Watch(0, r)
	s.Watch(1, r)

	_, err := s.TightenLB(0, 2)
	require.NoError(t, err)

	assert.Equal(t, PhaseActive, r.phase)
	assert.Equal(t, 2.0, s.GetLB(1))
}

func TestReluBecomesInactiveOnNonPositiveUB(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(2, eps)
	r := NewRelu(s, eps, 0, 1)
	s.Watch(0, r)
	s.Watch(1, r)

	_, err := s.TightenUB(0, -1)
	require.NoError(t, err)

	assert.Equal(t, PhaseInactive, r.phase)
	assert.Equal(t, 0.0, s.GetUB(1))
	assert.Equal(t, 0.0, s.GetLB(1))
}

func TestReluPhaseNeverFlips(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(2, eps)
	r := NewRelu(s, eps, 0, 1)
	s.Watch(0, r)
	s.Watch(1, r)

	_, err := s.TightenLB(0, 1)
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, r.phase)

	assert.Panics(t, func() {
		r.setPhase(PhaseInactive)
	})
}

func TestReluPossibleFixes(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(2, eps)
	r := NewRelu(s, eps, 0, 1)

	fixes := r.PossibleFixes([]float64{3, 0})
	require.Len(t, fixes, 2)
	assert.Equal(t, Fix{1, 3}, fixes[0])
	assert.Equal(t, Fix{0, 0}, fixes[1])
}

func TestReluCloneIsIndependent(t *testing.T) {
	eps := newTestEps()
	s := boundstore.New(2, eps)
	r := NewRelu(s, eps, 0, 1)
	r.refineCachedLB(0, 5)

	cp := r.Clone().(*Relu)
	cp.refineCachedLB(0, 9)

	assert.Equal(t, 5.0, r.cachedLB[0])
	assert.Equal(t, 9.0, cp.cachedLB[0])
}
