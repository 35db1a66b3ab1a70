package query

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/nnverify/marabou-go/pkg/affine"
	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/plconstraint"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// Save writes q in the line-oriented text format of spec.md §6: a
// num_variables header, the input/output index maps, the lower/upper
// bounds present (a missing variable means -Inf/+Inf on Load), the
// equations, and finally one Serialize() line per PL/NL constraint. Line
// order is deterministic so two Saves of the same Query byte-compare equal.
func Save(q *Query, w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "num_variables %d\n", q.NumVars)

	for _, k := range sortedKeys(q.InputIndex) {
		fmt.Fprintf(bw, "input_index %d %d\n", k, q.InputIndex[k])
	}
	for _, k := range sortedKeys(q.OutputIndex) {
		fmt.Fprintf(bw, "output_index %d %d\n", k, q.OutputIndex[k])
	}
	for _, v := range sortedKeys(q.LowerBounds) {
		fmt.Fprintf(bw, "lower_bound %d %s\n", v, formatFloat(q.LowerBounds[v]))
	}
	for _, v := range sortedKeys(q.UpperBounds) {
		fmt.Fprintf(bw, "upper_bound %d %s\n", v, formatFloat(q.UpperBounds[v]))
	}
	for _, eq := range q.Equations {
		writeEquation(bw, eq)
	}
	for _, c := range q.Constraints {
		fmt.Fprintln(bw, c.Serialize())
	}

	return bw.Flush()
}

func writeEquation(w *bufio.Writer, eq affine.AffineForm) {
	fmt.Fprintf(w, "equation %s", eq.Relation())
	for _, ad := range eq.Addends() {
		fmt.Fprintf(w, " %s %d", formatFloat(ad.Coeff), ad.Var)
	}
	fmt.Fprintf(w, " %s\n", formatFloat(eq.Scalar()))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func sortedKeys[V any](m map[int]V) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Load reads the text format Save produces, building the bound store the
// query's PL/NL constraints watch as it goes (the "num_variables" line must
// come first, since every later line references a variable index against
// it). Constraints are registered with the returned store via Watch,
// matching the convention pkg/nlr's layer builder uses.
func Load(r io.Reader, eps tolerance.Eps) (*Query, *boundstore.Store, error) {
	scanner := bufio.NewScanner(r)

	var q *Query
	var store *boundstore.Store

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if q == nil {
			fields := strings.Fields(line)
			if len(fields) != 2 || fields[0] != "num_variables" {
				return nil, nil, fmt.Errorf("%w: expected num_variables header, got %q", ErrMalformedQuery, line)
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, nil, fmt.Errorf("%w: bad num_variables: %v", ErrMalformedQuery, err)
			}
			q = New(n)
			store = boundstore.New(n, eps)
			continue
		}

		if err := loadLine(q, store, eps, line); err != nil {
			return nil, nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("query: scan: %w", err)
	}
	if q == nil {
		return nil, nil, fmt.Errorf("%w: empty input, expected num_variables header", ErrMalformedQuery)
	}
	return q, store, nil
}

func loadLine(q *Query, store *boundstore.Store, eps tolerance.Eps, line string) error {
	fields := strings.Fields(line)
	keyword := fields[0]

	switch keyword {
	case "input_index":
		k, v, err := parseTwoInts(fields)
		if err != nil {
			return err
		}
		q.InputIndex[k] = v
	case "output_index":
		k, v, err := parseTwoInts(fields)
		if err != nil {
			return err
		}
		q.OutputIndex[k] = v
	case "lower_bound":
		v, x, err := parseIntFloat(fields)
		if err != nil {
			return err
		}
		q.LowerBounds[v] = x
		if _, err := store.TightenLB(v, x); err != nil {
			return fmt.Errorf("query: lower_bound: %w", err)
		}
	case "upper_bound":
		v, x, err := parseIntFloat(fields)
		if err != nil {
			return err
		}
		q.UpperBounds[v] = x
		if _, err := store.TightenUB(v, x); err != nil {
			return fmt.Errorf("query: upper_bound: %w", err)
		}
	case "equation":
		eq, err := parseEquation(fields)
		if err != nil {
			return err
		}
		q.Equations = append(q.Equations, eq)
	default:
		c, err := parseConstraint(store, eps, line)
		if err != nil {
			return err
		}
		c.Watch(store)
		q.Constraints = append(q.Constraints, c)
	}
	return nil
}

func parseTwoInts(fields []string) (int, int, error) {
	if len(fields) != 3 {
		return 0, 0, fmt.Errorf("%w: malformed %q", ErrMalformedQuery, strings.Join(fields, " "))
	}
	k, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("query: %w", err)
	}
	v, err := strconv.Atoi(fields[2])
	if err != nil {
		return 0, 0, fmt.Errorf("query: %w", err)
	}
	return k, v, nil
}

func parseIntFloat(fields []string) (int, float64, error) {
	if len(fields) != 3 {
		return 0, 0, fmt.Errorf("%w: malformed %q", ErrMalformedQuery, strings.Join(fields, " "))
	}
	v, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("query: %w", err)
	}
	x, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("query: %w", err)
	}
	return v, x, nil
}

// parseEquation parses "equation TYPE coeff1 var1 coeff2 var2 ... scalar".
func parseEquation(fields []string) (affine.AffineForm, error) {
	rest := fields[1:]
	if len(rest) < 2 || len(rest)%2 != 0 {
		return affine.AffineForm{}, fmt.Errorf("%w: malformed equation %q", ErrMalformedQuery, strings.Join(fields, " "))
	}
	rel, err := parseRelation(rest[0])
	if err != nil {
		return affine.AffineForm{}, err
	}
	body := rest[1:]
	scalarStr := body[len(body)-1]
	scalar, err := strconv.ParseFloat(scalarStr, 64)
	if err != nil {
		return affine.AffineForm{}, fmt.Errorf("query: equation scalar: %w", err)
	}
	pairs := body[:len(body)-1]
	addends := make([]affine.Addend, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		coeff, err := strconv.ParseFloat(pairs[i], 64)
		if err != nil {
			return affine.AffineForm{}, fmt.Errorf("query: equation coeff: %w", err)
		}
		v, err := strconv.Atoi(pairs[i+1])
		if err != nil {
			return affine.AffineForm{}, fmt.Errorf("query: equation var: %w", err)
		}
		addends = append(addends, affine.Addend{Coeff: coeff, Var: v})
	}
	return affine.NewEquation(addends, scalar, rel), nil
}

func parseRelation(s string) (affine.Relation, error) {
	switch s {
	case "EQ":
		return affine.EQ, nil
	case "LE":
		return affine.LE, nil
	case "GE":
		return affine.GE, nil
	default:
		return 0, fmt.Errorf("%w: unknown equation type %q", ErrMalformedQuery, s)
	}
}

// parseConstraint dispatches a serialized PL/NL constraint line to its
// kind's parser, mirroring the Serialize() format each type emits.
func parseConstraint(store *boundstore.Store, eps tolerance.Eps, line string) (plconstraint.Constraint, error) {
	comma := strings.IndexByte(line, ',')
	if comma < 0 {
		return nil, fmt.Errorf("%w: unrecognized line %q", ErrUnsupportedConstraint, line)
	}
	kind := line[:comma]
	args := strings.Split(line[comma+1:], ",")

	ints := func(n int) ([]int, error) {
		if len(args) != n {
			return nil, fmt.Errorf("query: %s: expected %d fields, got %d", kind, n, len(args))
		}
		out := make([]int, n)
		for i, a := range args {
			v, err := strconv.Atoi(a)
			if err != nil {
				return nil, fmt.Errorf("query: %s: %w", kind, err)
			}
			out[i] = v
		}
		return out, nil
	}

	switch kind {
	case "Relu":
		fb, err := ints(2)
		if err != nil {
			return nil, err
		}
		return plconstraint.NewRelu(store, eps, fb[1], fb[0]), nil
	case "Abs":
		fb, err := ints(2)
		if err != nil {
			return nil, err
		}
		return plconstraint.NewAbsoluteValue(store, eps, fb[1], fb[0]), nil
	case "Sign":
		fb, err := ints(2)
		if err != nil {
			return nil, err
		}
		return plconstraint.NewSign(store, eps, fb[1], fb[0]), nil
	case "Round":
		fb, err := ints(2)
		if err != nil {
			return nil, err
		}
		return plconstraint.NewRound(store, eps, fb[1], fb[0]), nil
	case "Sigmoid":
		fb, err := ints(2)
		if err != nil {
			return nil, err
		}
		return plconstraint.NewSigmoid(store, eps, fb[1], fb[0]), nil
	case "Tanh":
		fb, err := ints(2)
		if err != nil {
			return nil, err
		}
		return plconstraint.NewTanh(store, eps, fb[1], fb[0]), nil
	case "Bilinear":
		fxy, err := ints(3)
		if err != nil {
			return nil, err
		}
		return plconstraint.NewBilinear(store, eps, fxy[1], fxy[2], fxy[0]), nil
	case "LeakyRelu":
		if len(args) != 3 {
			return nil, fmt.Errorf("query: LeakyRelu: expected 3 fields, got %d", len(args))
		}
		f, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("query: LeakyRelu: %w", err)
		}
		b, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("query: LeakyRelu: %w", err)
		}
		alpha, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return nil, fmt.Errorf("query: LeakyRelu: %w", err)
		}
		return plconstraint.NewLeakyRelu(store, eps, b, f, alpha), nil
	case "Max":
		if len(args) < 2 {
			return nil, fmt.Errorf("query: Max: too few fields")
		}
		f, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("query: Max: %w", err)
		}
		count, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("query: Max: %w", err)
		}
		if len(args) != 2+count {
			return nil, fmt.Errorf("query: Max: count %d disagrees with %d fields", count, len(args)-2)
		}
		inputs := make([]int, count)
		for i := 0; i < count; i++ {
			v, err := strconv.Atoi(args[2+i])
			if err != nil {
				return nil, fmt.Errorf("query: Max: %w", err)
			}
			inputs[i] = v
		}
		return plconstraint.NewMax(store, eps, inputs, f), nil
	case "Softmax":
		if len(args) != 2 {
			return nil, fmt.Errorf("query: Softmax: expected 2 fields, got %d", len(args))
		}
		ins, err := parseIntList(args[0])
		if err != nil {
			return nil, fmt.Errorf("query: Softmax: %w", err)
		}
		outs, err := parseIntList(args[1])
		if err != nil {
			return nil, fmt.Errorf("query: Softmax: %w", err)
		}
		return plconstraint.NewSoftmax(store, eps, ins, outs), nil
	case "Disjunction":
		disjuncts, vars, err := parseDisjuncts(line[comma+1:])
		if err != nil {
			return nil, err
		}
		return plconstraint.NewDisjunction(store, eps, disjuncts, vars), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedConstraint, kind)
	}
}

func parseIntList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// parseDisjuncts parses Disjunction's body: disjuncts separated by "|", each
// a "&"-separated list of "kind(var)=value" tightenings, matching
// Disjunction.Serialize's format exactly. Disjunction's Serialize omits any
// defining equations a disjunct carries, so the round trip preserves
// tightenings only.
func parseDisjuncts(body string) ([]plconstraint.CaseSplit, []int, error) {
	seen := make(map[int]bool)
	var vars []int
	addVar := func(v int) {
		if !seen[v] {
			seen[v] = true
			vars = append(vars, v)
		}
	}

	djParts := strings.Split(body, "|")
	disjuncts := make([]plconstraint.CaseSplit, len(djParts))
	for i, dj := range djParts {
		var tightenings []boundstore.Tightening
		if dj != "" {
			for _, t := range strings.Split(dj, "&") {
				tightening, err := parseTightening(t)
				if err != nil {
					return nil, nil, err
				}
				tightenings = append(tightenings, tightening)
				addVar(tightening.Var)
			}
		}
		disjuncts[i] = plconstraint.CaseSplit{Tightenings: tightenings}
	}
	sort.Ints(vars)
	return disjuncts, vars, nil
}

// parseTightening parses one "kind(var)=value" token, e.g. "lb(3)=2.5".
func parseTightening(s string) (boundstore.Tightening, error) {
	open := strings.IndexByte(s, '(')
	closeParen := strings.IndexByte(s, ')')
	eq := strings.IndexByte(s, '=')
	if open < 0 || closeParen < open || eq < closeParen {
		return boundstore.Tightening{}, fmt.Errorf("query: malformed tightening %q", s)
	}
	var kind boundstore.BoundKind
	switch s[:open] {
	case "lb":
		kind = boundstore.Lower
	case "ub":
		kind = boundstore.Upper
	default:
		return boundstore.Tightening{}, fmt.Errorf("query: unknown bound kind %q", s[:open])
	}
	v, err := strconv.Atoi(s[open+1 : closeParen])
	if err != nil {
		return boundstore.Tightening{}, fmt.Errorf("query: %w", err)
	}
	x, err := strconv.ParseFloat(s[eq+1:], 64)
	if err != nil {
		return boundstore.Tightening{}, fmt.Errorf("query: %w", err)
	}
	return boundstore.Tightening{Var: v, Value: x, Kind: kind}, nil
}
