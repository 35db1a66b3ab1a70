package nlr

import (
	"fmt"
	"math"

	"github.com/nnverify/marabou-go/pkg/boundstore"
)

// IntervalArithmeticPropagation pushes interval bounds forward through
// every layer in topological order, tightening the bound store as it goes
// (spec.md §4.D "interval_arithmetic_propagation"). It is the cheapest and
// least precise of the three propagation passes; SymbolicBoundPropagation
// and DeepPolyPropagation refine further by tracking affine dependence on
// the network's inputs instead of bare intervals.
func (n *NLR) IntervalArithmeticPropagation(store *boundstore.Store) error {
	for _, idx := range n.order {
		l := n.Layers[idx]
		if l.Kind == LayerInput {
			continue
		}
		if err := n.propagateLayerInterval(store, l); err != nil {
			return fmt.Errorf("nlr: interval arithmetic propagation at layer %d: %w", l.Index, err)
		}
	}
	return nil
}

func (n *NLR) propagateLayerInterval(store *boundstore.Store, l *Layer) error {
	apply := func(v int, lo, hi float64) error {
		if _, err := store.Apply(boundstore.Tightening{Var: v, Value: lo, Kind: boundstore.Lower}); err != nil {
			return err
		}
		_, err := store.Apply(boundstore.Tightening{Var: v, Value: hi, Kind: boundstore.Upper})
		return err
	}

	switch l.Kind {
	case LayerWeightedSum:
		src := n.Layers[l.Sources[0]]
		rows, cols := l.Weights.Dims()
		_ = cols
		for i := 0; i < rows; i++ {
			lo, hi := l.Biases[i], l.Biases[i]
			for j, sv := range src.Neurons {
				w := l.Weights.At(i, j)
				slb, sub := store.GetLB(sv), store.GetUB(sv)
				if w >= 0 {
					lo += w * slb
					hi += w * sub
				} else {
					lo += w * sub
					hi += w * slb
				}
			}
			if err := apply(l.Neurons[i], lo, hi); err != nil {
				return err
			}
		}
	case LayerReLU:
		src := n.Layers[l.Sources[0]]
		for i, v := range l.Neurons {
			lb, ub := store.GetLB(src.Neurons[i]), store.GetUB(src.Neurons[i])
			lo, hi := math.Max(lb, 0), math.Max(ub, 0)
			if err := apply(v, lo, hi); err != nil {
				return err
			}
		}
	case LayerAbsoluteValue:
		src := n.Layers[l.Sources[0]]
		for i, v := range l.Neurons {
			lb, ub := store.GetLB(src.Neurons[i]), store.GetUB(src.Neurons[i])
			hi := math.Max(math.Abs(lb), math.Abs(ub))
			lo := 0.0
			if lb > 0 || ub < 0 {
				lo = math.Min(math.Abs(lb), math.Abs(ub))
			}
			if err := apply(v, lo, hi); err != nil {
				return err
			}
		}
	case LayerSign:
		src := n.Layers[l.Sources[0]]
		for i, v := range l.Neurons {
			lb, ub := store.GetLB(src.Neurons[i]), store.GetUB(src.Neurons[i])
			lo, hi := -1.0, 1.0
			if lb >= 0 {
				lo = 1
			}
			if ub < 0 {
				hi = -1
			}
			if err := apply(v, lo, hi); err != nil {
				return err
			}
		}
	case LayerRound:
		src := n.Layers[l.Sources[0]]
		for i, v := range l.Neurons {
			lb, ub := store.GetLB(src.Neurons[i]), store.GetUB(src.Neurons[i])
			if err := apply(v, math.Round(lb-0.5)+0, math.Round(ub+0.5)-0); err != nil {
				return err
			}
		}
	case LayerLeakyReLU:
		src := n.Layers[l.Sources[0]]
		for i, v := range l.Neurons {
			lb, ub := store.GetLB(src.Neurons[i]), store.GetUB(src.Neurons[i])
			candidates := []float64{lb, ub, l.Alpha * lb, l.Alpha * ub}
			if lb <= 0 && ub >= 0 {
				candidates = append(candidates, 0)
			}
			lo, hi := candidates[0], candidates[0]
			for _, c := range candidates[1:] {
				lo, hi = math.Min(lo, c), math.Max(hi, c)
			}
			if err := apply(v, lo, hi); err != nil {
				return err
			}
		}
	case LayerSigmoid:
		src := n.Layers[l.Sources[0]]
		for i, v := range l.Neurons {
			lb, ub := store.GetLB(src.Neurons[i]), store.GetUB(src.Neurons[i])
			if err := apply(v, sigmoidValue(lb), sigmoidValue(ub)); err != nil {
				return err
			}
		}
	case LayerTanh:
		src := n.Layers[l.Sources[0]]
		for i, v := range l.Neurons {
			lb, ub := store.GetLB(src.Neurons[i]), store.GetUB(src.Neurons[i])
			if err := apply(v, tanhValue(lb), tanhValue(ub)); err != nil {
				return err
			}
		}
	case LayerMax:
		for i, v := range l.Neurons {
			ins := l.MaxInputs[i]
			lo, hi := store.GetLB(ins[0]), store.GetUB(ins[0])
			for _, in := range ins[1:] {
				lo = math.Max(lo, store.GetLB(in))
				hi = math.Max(hi, store.GetUB(in))
			}
			if err := apply(v, lo, hi); err != nil {
				return err
			}
		}
	case LayerBilinear:
		la, lbr := n.Layers[l.Sources[0]], n.Layers[l.Sources[1]]
		for i, v := range l.Neurons {
			x0, x1 := store.GetLB(la.Neurons[i]), store.GetUB(la.Neurons[i])
			y0, y1 := store.GetLB(lbr.Neurons[i]), store.GetUB(lbr.Neurons[i])
			corners := []float64{x0 * y0, x0 * y1, x1 * y0, x1 * y1}
			lo, hi := corners[0], corners[0]
			for _, c := range corners[1:] {
				lo, hi = math.Min(lo, c), math.Max(hi, c)
			}
			if err := apply(v, lo, hi); err != nil {
				return err
			}
		}
	case LayerSoftmax:
		// Each softmax output lies in (0, 1); a sharper per-output bound
		// would need the joint extremes of the other outputs; no pass
		// computes one.
		for _, v := range l.Neurons {
			if err := apply(v, 0, 1); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported layer kind %v", l.Kind)
	}
	return nil
}
