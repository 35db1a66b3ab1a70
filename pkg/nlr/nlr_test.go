package nlr

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// buildTinyReLUNet constructs: input x0,x1 -> weighted sum (2 outputs,
// variables 2,3) -> ReLU (variables 4,5), matching spec.md's figure-2-style
// toy network used across the testable scenarios.
func buildTinyReLUNet(t *testing.T) (*NLR, *boundstore.Store) {
	t.Helper()
	eps := tolerance.New(tolerance.Default)
	store := boundstore.New(6, eps)

	b := NewBuilder(store, eps)
	in := b.AddInput([]int{0, 1})
	weights := mat.NewDense(2, 2, []float64{1, -1, -1, 1})
	b.AddWeightedSum(in, weights, []float64{0, 0}, []int{2, 3})
	wsIdx := 1
	b.AddReLU(wsIdx, []int{4, 5})

	net, err := b.Build()
	require.NoError(t, err)
	return net, store
}

func TestEvaluateRoundTrip(t *testing.T) {
	net, _ := buildTinyReLUNet(t)
	values := make([]float64, 6)
	values[0], values[1] = 3, 1
	require.NoError(t, net.Evaluate(values))

	assert.Equal(t, 2.0, values[2])  // 3-1
	assert.Equal(t, -2.0, values[3]) // -3+1
	assert.Equal(t, 2.0, values[4])  // relu(2)
	assert.Equal(t, 0.0, values[5])  // relu(-2)
}

func TestSimulateMatchesEvaluate(t *testing.T) {
	net, _ := buildTinyReLUNet(t)
	inputs := [][]float64{
		{3, 1, 0, 0, 0, 0},
		{-1, -1, 0, 0, 0, 0},
	}
	results, errs := net.Simulate(context.Background(), inputs, 2)
	for _, e := range errs {
		require.NoError(t, e)
	}
	assert.Equal(t, 2.0, results[0][4])
	assert.Equal(t, 0.0, results[0][5])
	assert.Equal(t, 0.0, results[1][4])
	assert.Equal(t, 0.0, results[1][5])
}

func TestIntervalArithmeticPropagationBounds(t *testing.T) {
	net, store := buildTinyReLUNet(t)
	_, err := store.TightenLB(0, 0)
	require.NoError(t, err)
	_, err = store.TightenUB(0, 4)
	require.NoError(t, err)
	_, err = store.TightenLB(1, 0)
	require.NoError(t, err)
	_, err = store.TightenUB(1, 2)
	require.NoError(t, err)

	require.NoError(t, net.IntervalArithmeticPropagation(store))

	assert.Equal(t, -2.0, store.GetLB(2))
	assert.Equal(t, 4.0, store.GetUB(2))
	assert.Equal(t, 0.0, store.GetLB(4))
	assert.Equal(t, 4.0, store.GetUB(4))
}

func TestDeepPolyPropagationIsSoundAndNoLooserThanInterval(t *testing.T) {
	net, store := buildTinyReLUNet(t)
	_, err := store.TightenLB(0, 0)
	require.NoError(t, err)
	_, err = store.TightenUB(0, 4)
	require.NoError(t, err)
	_, err = store.TightenLB(1, 0)
	require.NoError(t, err)
	_, err = store.TightenUB(1, 2)
	require.NoError(t, err)

	_, err = net.DeepPolyPropagation(store)
	require.NoError(t, err)

	assert.True(t, store.GetLB(2) <= -2+1e-9)
	assert.True(t, store.GetUB(2) >= 4-1e-9)
	assert.True(t, store.GetLB(2) >= -2-1e-9)
	assert.True(t, store.GetUB(2) <= 4+1e-9)
	assert.False(t, math.IsNaN(store.GetLB(4)))
}
