package queryir

import (
	"regexp"
	"strings"

	"github.com/roach88/btdebug/internal/apperr"
)

// PropertyPath is a validated path into an event's properties document,
// e.g. "$.price" or "$.fill.slippage".
type PropertyPath string

var propertyPathPattern = regexp.MustCompile(`^\$(\.[A-Za-z_][A-Za-z0-9_]*)+$`)

// maxPropertyPathLen caps the path before the regexp runs.
const maxPropertyPathLen = 256

// ParsePropertyPath validates s against the property path grammar:
//
//	path    = "$" 1*member
//	member  = "." ident
//	ident   = (ALPHA / "_") *(ALPHA / DIGIT / "_")
//
// Anything else (array indices, quoting, wildcards, whitespace) fails with
// InvalidArgument.
func ParsePropertyPath(s string) (PropertyPath, error) {
	if s == "" {
		return "", apperr.InvalidArgument("property_path is required")
	}
	if len(s) > maxPropertyPathLen {
		return "", apperr.InvalidArgument("property_path exceeds %d characters", maxPropertyPathLen)
	}
	if !propertyPathPattern.MatchString(s) {
		return "", apperr.InvalidArgument("invalid property_path %q: expected $.field or $.field.subfield", s)
	}
	return PropertyPath(s), nil
}

// Valid reports whether p satisfies the grammar.
func (p PropertyPath) Valid() bool {
	return len(p) <= maxPropertyPathLen && propertyPathPattern.MatchString(string(p))
}

// Segments returns the member names of p, e.g. ["fill", "slippage"].
func (p PropertyPath) Segments() []string {
	s := strings.TrimPrefix(string(p), "$.")
	if s == "" || s == string(p) {
		return nil
	}
	return strings.Split(s, ".")
}
