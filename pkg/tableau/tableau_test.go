package tableau

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnverify/marabou-go/pkg/affine"
)

func TestTightenFromEquation(t *testing.T) {
	// x0 + x1 = 10, x1 in [0,1] => x0 in [9,10].
	rows := []affine.AffineForm{affine.NewEquation([]affine.Addend{{1, 0}, {1, 1}}, 10, affine.EQ)}
	lb := []float64{math.Inf(-1), 0}
	ub := []float64{math.Inf(1), 1}
	// x0 is otherwise unbounded before solving; give it a slack-free large
	// box consistent with the equation so standardForm's shift is finite.
	lb[0], ub[0] = 0, 20

	tb, err := New(2, rows, lb, ub)
	require.NoError(t, err)

	lo, err := tb.Minimize(0)
	require.NoError(t, err)
	hi, err := tb.Maximize(0)
	require.NoError(t, err)

	assert.InDelta(t, 9, lo, 1e-6)
	assert.InDelta(t, 10, hi, 1e-6)
}

func TestUnboundedVariableRejected(t *testing.T) {
	rows := []affine.AffineForm{affine.NewEquation([]affine.Addend{{1, 0}}, 1, affine.EQ)}
	lb := []float64{math.Inf(-1)}
	ub := []float64{math.Inf(1)}
	_, err := New(1, rows, lb, ub)
	require.Error(t, err)
}
