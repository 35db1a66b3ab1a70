package query

import "errors"

// Sentinel errors a query.ParserBackend (and Load itself) surfaces, the two
// kinds spec.md §7 assigns to the parsing boundary.
var (
	// ErrUnsupportedConstraint means the input named a PL/NL kind this
	// build does not implement.
	ErrUnsupportedConstraint = errors.New("query: unsupported constraint kind")

	// ErrMalformedQuery means the input is structurally invalid: a bad
	// header, or a malformed bound, index or equation line. Variable
	// indices are not range-checked, and a constraint line with the wrong
	// field count is reported by an error that does not wrap this one.
	ErrMalformedQuery = errors.New("query: malformed query")
)
