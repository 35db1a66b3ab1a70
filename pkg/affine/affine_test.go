package affine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnverify/marabou-go/pkg/tolerance"
)

func TestIsolateBoundS3(t *testing.T) {
	// spec.md S3: x0 + x1 - x2 = 10, x1 in [0,1], x2 in [2,3].
	// After isolating x0: lb(x0) = 11, ub(x0) = 13.
	eq := NewEquation([]Addend{{1, 0}, {1, 1}, {-1, 2}}, 10, EQ)
	lb := []float64{math.Inf(-1), 0, 2}
	ub := []float64{math.Inf(1), 1, 3}

	lo, hi, ok := eq.IsolateBound(0, lb, ub)
	require.True(t, ok)
	assert.InDelta(t, 11, lo, 1e-9)
	assert.InDelta(t, 13, hi, 1e-9)
}

func TestEliminateVariable(t *testing.T) {
	eq := NewEquation([]Addend{{2, 0}, {-1, 1}}, 5, EQ)
	eliminated := eq.EliminateVariable(0, 3)
	assert.Equal(t, []int{1}, eliminated.Vars())
	assert.Equal(t, -1.0, eliminated.CoeffOf(1))
	// scalar becomes 5 - 2*3 = -1
	assert.Equal(t, -1.0, eliminated.Scalar())
}

func TestEncodeToEqualityLE(t *testing.T) {
	le := NewEquation([]Addend{{1, 0}}, 10, LE)
	eq, nonNeg := EncodeToEquality(le, 1)
	assert.Equal(t, EQ, eq.Relation())
	assert.True(t, nonNeg)
	assert.Equal(t, 1.0, eq.CoeffOf(1))
	// x0=4, slack=6 => 4 + 6 = 10
	assignment := []float64{4, 6}
	assert.True(t, eq.Satisfied(assignment, tolerance.New(tolerance.Default)))
}

func TestScaleFlipsRelationOnNegative(t *testing.T) {
	le := NewEquation([]Addend{{1, 0}}, 10, LE)
	scaled := le.Scale(-1)
	assert.Equal(t, GE, scaled.Relation())
	assert.Equal(t, -10.0, scaled.Scalar())
	assert.Equal(t, -1.0, scaled.CoeffOf(0))
}

func TestSubstituteForMerge(t *testing.T) {
	eq := NewEquation([]Addend{{1, 0}, {3, 1}}, 0, EQ)
	merged := eq.Substitute(0, 1, 1)
	assert.Equal(t, []int{1}, merged.Vars())
	assert.Equal(t, 4.0, merged.CoeffOf(1))
}
