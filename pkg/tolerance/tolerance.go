// Package tolerance centralizes the epsilon-aware floating point comparisons
// used throughout the reasoning kernel, so that the tolerance is a single
// configuration value rather than a constant scattered across packages.
// Not every float comparison in this module uses it: some sign and ordering
// tests (for example in pkg/plconstraint and pkg/soi) use plain operators.
package tolerance

// Default is the default epsilon used when a component is not given an
// explicit tolerance. Bound stores and PL constraints accept an override
// via config.EngineConfig so the value is never a hidden global in practice,
// but code that has no config in scope (e.g. package-level helpers used by
// tests) falls back to this.
const Default = 1e-6

// Eps bundles one epsilon value and the comparisons that use it. Components
// that need tolerance-aware arithmetic hold an Eps rather than a bare float64
// so the comparison functions always agree on which epsilon they used.
type Eps struct {
	Value float64
}

// New returns an Eps wrapping the given epsilon. A non-positive epsilon is
// replaced with Default: a zero tolerance would make every bound store
// oscillate on floating point noise.
func New(epsilon float64) Eps {
	if epsilon <= 0 {
		epsilon = Default
	}
	return Eps{Value: epsilon}
}

// LT reports whether a is strictly less than b, beyond epsilon.
func (e Eps) LT(a, b float64) bool { return a < b-e.Value }

// GT reports whether a is strictly greater than b, beyond epsilon.
func (e Eps) GT(a, b float64) bool { return a > b+e.Value }

// LE reports whether a is less than or equal to b, within epsilon.
func (e Eps) LE(a, b float64) bool { return a <= b+e.Value }

// GE reports whether a is greater than or equal to b, within epsilon.
func (e Eps) GE(a, b float64) bool { return a >= b-e.Value }

// Equal reports whether a and b are within epsilon of each other.
func (e Eps) Equal(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= e.Value
}

// IsZero reports whether v is within epsilon of zero.
func (e Eps) IsZero(v float64) bool { return e.Equal(v, 0) }

// IsPositive reports whether v is strictly positive beyond epsilon.
func (e Eps) IsPositive(v float64) bool { return e.GT(v, 0) }

// IsNegative reports whether v is strictly negative beyond epsilon.
func (e Eps) IsNegative(v float64) bool { return e.LT(v, 0) }

// Max returns the greater of a and b.
func Max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Min returns the lesser of a and b.
func Min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// PosPart returns max(v, 0), the positive part of v used throughout interval
// arithmetic weight splitting.
func PosPart(v float64) float64 { return Max(v, 0) }

// NegPart returns min(v, 0), the negative part of v used throughout interval
// arithmetic weight splitting.
func NegPart(v float64) float64 { return Min(v, 0) }
