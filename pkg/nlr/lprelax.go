package nlr

import (
	"fmt"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/tableau"
)

// LPRelaxationPropagation runs the backward-converge LP tightening pass
// (spec.md §4.I, config.MILPTighteningBackwardConverge): it builds two
// linear-relaxation rows per neuron (lower and upper) from
// SymbolicBoundPropagation's affine
// envelopes, solves a tableau.Tableau for the min/max of every non-input
// variable, applies the resulting tightenings, and repeats until no
// variable tightens or maxRounds is reached (bounds only shrink, so this
// always converges, but pathological networks can take many rounds).
func (n *NLR) LPRelaxationPropagation(store *boundstore.Store, maxRounds int) (int, error) {
	total := 0
	for round := 0; round < maxRounds; round++ {
		bounds, err := n.SymbolicBoundPropagation(store)
		if err != nil {
			return total, fmt.Errorf("lp relaxation propagation: %w", err)
		}
		rows := make([]affine.AffineForm, 0, 2*len(bounds))
		vars := make([]int, 0, len(bounds))
		for v, sb := range bounds {
			if len(sb.Lower.Addends()) == 0 && len(sb.Upper.Addends()) == 0 && sb.Lower.Scalar() == sb.Upper.Scalar() {
				continue // input identity rows carry no new linear structure
			}
			rows = append(rows, sb.Lower.Plus(v, -1).WithRelation(affine.LE))
			rows = append(rows, sb.Upper.Plus(v, -1).WithRelation(affine.GE))
			vars = append(vars, v)
		}
		if len(rows) == 0 {
			return total, nil
		}
		tb, err := tableau.FromStore(store, rows)
		if err != nil {
			// A variable with a non-finite bound can't be standardized yet;
			// interval/symbolic propagation must narrow it first.
			return total, nil
		}
		tightenings, err := tb.TightenAll(vars)
		if err != nil {
			return total, fmt.Errorf("lp relaxation propagation: %w", err)
		}
		roundChanged := 0
		for _, t := range tightenings {
			changed, err := store.Apply(t)
			if err != nil {
				return total, err
			}
			if changed {
				roundChanged++
			}
		}
		total += roundChanged
		if roundChanged == 0 {
			return total, nil
		}
	}
	return total, nil
}
