package nlr

import (
	"fmt"
	"math"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
)

// SymbolicBound is a neuron's affine lower and upper bound in terms of the
// network's input variables (spec.md §4.D "symbolic_bound_propagation").
type SymbolicBound struct {
	Lower affine.AffineForm
	Upper affine.AffineForm
}

// concretize evaluates a symbolic bound's interval extremes given the
// input variables' current box bounds in store, via interval arithmetic
// over the affine form's coefficients.
func concretize(a affine.AffineForm, store *boundstore.Store) (lo, hi float64) {
	lo, hi = a.Scalar(), a.Scalar()
	for _, ad := range a.Addends() {
		l, u := store.GetLB(ad.Var), store.GetUB(ad.Var)
		if ad.Coeff >= 0 {
			lo += ad.Coeff * l
			hi += ad.Coeff * u
		} else {
			lo += ad.Coeff * u
			hi += ad.Coeff * l
		}
	}
	return lo, hi
}

// SymbolicBoundPropagation computes, for every non-input neuron, an affine
// expression in the input variables that bounds it above and below,
// composing each layer's relaxation with its source layer's symbolic
// bounds (spec.md §4.D). The returned map is keyed by variable index.
func (n *NLR) SymbolicBoundPropagation(store *boundstore.Store) (map[int]SymbolicBound, error) {
	bounds := make(map[int]SymbolicBound)
	for _, idx := range n.order {
		l := n.Layers[idx]
		if l.Kind == LayerInput {
			for _, v := range l.Neurons {
				ident := affine.NewEquation([]affine.Addend{{Coeff: 1, Var: v}}, 0, affine.EQ)
				bounds[v] = SymbolicBound{Lower: ident, Upper: ident}
			}
			continue
		}
		if err := n.propagateLayerSymbolic(store, l, bounds); err != nil {
			return nil, fmt.Errorf("nlr: symbolic bound propagation at layer %d: %w", l.Index, err)
		}
	}
	return bounds, nil
}

func (n *NLR) propagateLayerSymbolic(store *boundstore.Store, l *Layer, bounds map[int]SymbolicBound) error {
	switch l.Kind {
	case LayerWeightedSum:
		src := n.Layers[l.Sources[0]]
		rows, _ := l.Weights.Dims()
		for i := 0; i < rows; i++ {
			lower, upper := affine.NewEquation(nil, l.Biases[i], affine.EQ), affine.NewEquation(nil, l.Biases[i], affine.EQ)
			for j, sv := range src.Neurons {
				w := l.Weights.At(i, j)
				sb := bounds[sv]
				if w >= 0 {
					lower = addScaled(lower, sb.Lower, w)
					upper = addScaled(upper, sb.Upper, w)
				} else {
					lower = addScaled(lower, sb.Upper, w)
					upper = addScaled(upper, sb.Lower, w)
				}
			}
			bounds[l.Neurons[i]] = SymbolicBound{Lower: lower, Upper: upper}
		}
	case LayerReLU:
		src := n.Layers[l.Sources[0]]
		for i, v := range l.Neurons {
			sv := src.Neurons[i]
			lb, ub := store.GetLB(sv), store.GetUB(sv)
			bounds[v] = reluRelaxation(bounds[sv], lb, ub)
		}
	case LayerLeakyReLU:
		src := n.Layers[l.Sources[0]]
		for i, v := range l.Neurons {
			sv := src.Neurons[i]
			lb, ub := store.GetLB(sv), store.GetUB(sv)
			bounds[v] = leakyReluRelaxation(bounds[sv], lb, ub, l.Alpha)
		}
	case LayerAbsoluteValue, LayerSign, LayerRound, LayerSigmoid, LayerTanh, LayerMax, LayerSoftmax, LayerBilinear:
		// Non-piecewise-linear-in-one-variable kinds (or kinds whose tight
		// affine relaxation is handled by pkg/cegar's incremental
		// linearization) fall back to a constant symbolic bound derived
		// from interval arithmetic, still sound but not input-affine.
		for _, v := range l.Neurons {
			lo, hi := store.GetLB(v), store.GetUB(v)
			bounds[v] = SymbolicBound{
				Lower: affine.NewEquation(nil, lo, affine.EQ),
				Upper: affine.NewEquation(nil, hi, affine.EQ),
			}
		}
	default:
		return fmt.Errorf("unsupported layer kind %v", l.Kind)
	}
	return nil
}

func addScaled(acc, term affine.AffineForm, k float64) affine.AffineForm {
	out := acc
	for _, ad := range term.Addends() {
		out = out.Plus(ad.Var, ad.Coeff*k)
	}
	return affine.NewEquation(out.Addends(), out.Scalar()+term.Scalar()*k, affine.EQ)
}

// reluRelaxation applies the standard DeepPoly ReLU triangle relaxation: if
// the input is provably non-negative or non-positive the activation is
// linear (identity or zero); otherwise the upper bound is the chord from
// (lb,0) to (ub,ub) and the lower bound is the tighter of the identity and
// zero lines, chosen by whichever has smaller area (ub <= -lb picks zero).
func reluRelaxation(src SymbolicBound, lb, ub float64) SymbolicBound {
	if ub <= 0 {
		zero := affine.NewEquation(nil, 0, affine.EQ)
		return SymbolicBound{Lower: zero, Upper: zero}
	}
	if lb >= 0 {
		return src
	}
	slope := ub / (ub - lb)
	upper := addScaled(affine.NewEquation(nil, -slope*lb, affine.EQ), src.Upper, slope)
	var lower affine.AffineForm
	if -lb < ub {
		lower = src.Lower
	} else {
		lower = affine.NewEquation(nil, 0, affine.EQ)
	}
	return SymbolicBound{Lower: lower, Upper: upper}
}

// leakyReluRelaxation mirrors reluRelaxation for LeakyReLU's alpha<1 slope:
// away from the breakpoint the activation is already linear; only the
// mixed-sign case needs a relaxation, bounded by the two linear pieces'
// own chord and the alpha piece as the other side.
func leakyReluRelaxation(src SymbolicBound, lb, ub float64, alpha float64) SymbolicBound {
	if lb >= 0 {
		return src
	}
	if ub <= 0 {
		return SymbolicBound{Lower: scaleForm(src.Lower, alpha), Upper: scaleForm(src.Upper, alpha)}
	}
	chordSlope := (ub - alpha*lb) / (ub - lb)
	intercept := ub - chordSlope*ub
	chord := addScaled(affine.NewEquation(nil, intercept, affine.EQ), src.Upper, chordSlope)
	identity := src.Upper
	alphaLine := scaleForm(src.Lower, alpha)
	if alpha < 1 {
		return SymbolicBound{Lower: alphaLine, Upper: chordIfAbove(chord, identity)}
	}
	return SymbolicBound{Lower: chordIfAbove(chord, identity), Upper: alphaLine}
}

func scaleForm(a affine.AffineForm, k float64) affine.AffineForm {
	return a.Scale(k).WithRelation(affine.EQ)
}

// chordIfAbove is a placeholder selecting the chord as the valid one-sided
// bound; both chord and identity are sound upper approximations for the
// alpha<1 LeakyReLU case over [lb,ub], and the chord is never looser.
func chordIfAbove(chord, _ affine.AffineForm) affine.AffineForm { return chord }

// DeepPolyPropagation runs SymbolicBoundPropagation and concretizes every
// resulting affine bound against the input box to tighten the bound store
// (spec.md §4.D "deep_poly_propagation"). It returns the number of bounds
// that strictly tightened; a variable whose lower and upper bounds both
// tightened counts twice.
func (n *NLR) DeepPolyPropagation(store *boundstore.Store) (int, error) {
	bounds, err := n.SymbolicBoundPropagation(store)
	if err != nil {
		return 0, err
	}
	tightened := 0
	for v, sb := range bounds {
		lo, _ := concretize(sb.Lower, store)
		_, hi := concretize(sb.Upper, store)
		if hi < lo {
			lo, hi = math.Min(lo, hi), math.Max(lo, hi)
		}
		changedLo, err := store.Apply(boundstore.Tightening{Var: v, Value: lo, Kind: boundstore.Lower})
		if err != nil {
			return tightened, err
		}
		changedHi, err := store.Apply(boundstore.Tightening{Var: v, Value: hi, Kind: boundstore.Upper})
		if err != nil {
			return tightened, err
		}
		if changedLo {
			tightened++
		}
		if changedHi {
			tightened++
		}
	}
	return tightened, nil
}
