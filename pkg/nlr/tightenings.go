package nlr

import (
	"fmt"

	"github.com/nnverify/marabou-go/pkg/boundstore"
)

// GetConstraintTightenings collects the entailed tightenings of every
// active PL/NL constraint the NLR owns (spec.md §4.E step 3), without
// applying them; the caller decides how to apply and journal them. No
// package in this module calls it: pkg/preprocess reads each constraint's
// EntailedTightenings directly.
func (n *NLR) GetConstraintTightenings() ([]boundstore.Tightening, error) {
	var out []boundstore.Tightening
	for _, c := range n.Constraints {
		if !c.Active() {
			continue
		}
		ts, err := c.EntailedTightenings()
		if err != nil {
			return nil, fmt.Errorf("nlr: constraint tightenings for %v: %w", c.Kind(), err)
		}
		out = append(out, ts...)
	}
	return out, nil
}

// ObtainCurrentBounds returns a defensive copy of every variable's current
// (lb, ub) pair, matching the source project's obtain_current_bounds used
// to snapshot state before an expensive propagation pass.
func ObtainCurrentBounds(store *boundstore.Store) (lb, ub []float64) {
	return store.Snapshot()
}
