package nlr

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/nnverify/marabou-go/internal/parallel"
)

// Evaluate propagates a concrete input assignment through every layer in
// topological order, writing the value of each variable (indexed by
// variable index) that participates in the network into values (spec.md
// §4.D "evaluate"). values must already contain the input layer's values at
// their variable indices; every other participating index is overwritten.
func (n *NLR) Evaluate(values []float64) error {
	for _, idx := range n.order {
		l := n.Layers[idx]
		switch l.Kind {
		case LayerInput:
			// already populated by the caller
		case LayerWeightedSum:
			src := n.Layers[l.Sources[0]]
			in := mat.NewVecDense(len(src.Neurons), gather(values, src.Neurons))
			out := mat.NewVecDense(l.Size, nil)
			out.MulVec(l.Weights, in)
			for i, v := range l.Neurons {
				values[v] = out.AtVec(i) + l.Biases[i]
			}
		case LayerReLU:
			src := n.Layers[l.Sources[0]]
			for i, v := range l.Neurons {
				b := values[src.Neurons[i]]
				if b > 0 {
					values[v] = b
				} else {
					values[v] = 0
				}
			}
		case LayerAbsoluteValue:
			src := n.Layers[l.Sources[0]]
			for i, v := range l.Neurons {
				values[v] = absf(values[src.Neurons[i]])
			}
		case LayerSign:
			src := n.Layers[l.Sources[0]]
			for i, v := range l.Neurons {
				if values[src.Neurons[i]] >= 0 {
					values[v] = 1
				} else {
					values[v] = -1
				}
			}
		case LayerRound:
			src := n.Layers[l.Sources[0]]
			for i, v := range l.Neurons {
				values[v] = roundNearest(values[src.Neurons[i]])
			}
		case LayerLeakyReLU:
			src := n.Layers[l.Sources[0]]
			for i, v := range l.Neurons {
				b := values[src.Neurons[i]]
				if b >= 0 {
					values[v] = b
				} else {
					values[v] = l.Alpha * b
				}
			}
		case LayerSigmoid:
			src := n.Layers[l.Sources[0]]
			for i, v := range l.Neurons {
				values[v] = sigmoidValue(values[src.Neurons[i]])
			}
		case LayerTanh:
			src := n.Layers[l.Sources[0]]
			for i, v := range l.Neurons {
				values[v] = tanhValue(values[src.Neurons[i]])
			}
		case LayerMax:
			for i, v := range l.Neurons {
				best := values[l.MaxInputs[i][0]]
				for _, in := range l.MaxInputs[i][1:] {
					if values[in] > best {
						best = values[in]
					}
				}
				values[v] = best
			}
		case LayerSoftmax:
			src := n.Layers[l.Sources[0]]
			sum := 0.0
			exps := make([]float64, len(src.Neurons))
			for i, sv := range src.Neurons {
				exps[i] = expValue(values[sv])
				sum += exps[i]
			}
			for i, v := range l.Neurons {
				values[v] = exps[i] / sum
			}
		case LayerBilinear:
			la, lbr := n.Layers[l.Sources[0]], n.Layers[l.Sources[1]]
			for i, v := range l.Neurons {
				values[v] = values[la.Neurons[i]] * values[lbr.Neurons[i]]
			}
		default:
			return fmt.Errorf("nlr: Evaluate: unsupported layer kind %v", l.Kind)
		}
	}
	return nil
}

func gather(values []float64, idxs []int) []float64 {
	out := make([]float64, len(idxs))
	for i, v := range idxs {
		out[i] = values[v]
	}
	return out
}

// Simulate evaluates a batch of input assignments concurrently, adapting
// the teacher's internal/parallel.StaticWorkerPool (originally built for
// miniKanren goal evaluation) to fan out independent Evaluate calls across
// NumWorkers goroutines (spec.md §4.D "simulate").
func (n *NLR) Simulate(ctx context.Context, inputs [][]float64, numWorkers int) ([][]float64, []error) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	pool := parallel.NewStaticWorkerPool(numWorkers)
	defer pool.Shutdown()

	results := make([][]float64, len(inputs))
	errs := make([]error, len(inputs))
	done := make(chan struct{}, len(inputs))

	for i, in := range inputs {
		i, in := i, in
		task := func() {
			defer func() { done <- struct{}{} }()
			values := append([]float64(nil), in...)
			if err := n.Evaluate(values); err != nil {
				errs[i] = err
				return
			}
			results[i] = values
		}
		if err := pool.Submit(ctx, task); err != nil {
			errs[i] = err
			done <- struct{}{}
		}
	}
	for range inputs {
		<-done
	}
	return results, errs
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
