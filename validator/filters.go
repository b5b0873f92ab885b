package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// FilterCall is one applied filter in a pipe chain, with whether an
// explicit :argument was given.
type FilterCall struct {
	Name   string
	HasArg bool
}

var filterNameRe = regexp.MustCompile(`^\w+$`)

// ParseFilterChain splits a filter expression such as x|default:"a|b"
// into its applied filters. Pipes and colons inside quoted strings do
// not separate. A malformed chain reports ok=false and is skipped
// rather than guessed at.
func ParseFilterChain(expr string) ([]FilterCall, bool) {
	segments := splitOutsideQuotes(expr, '|')
	if len(segments) < 2 {
		return nil, true
	}
	var calls []FilterCall
	for _, seg := range segments[1:] {
		parts := splitOutsideQuotes(seg, ':')
		name := strings.TrimSpace(parts[0])
		if !filterNameRe.MatchString(name) {
			return nil, false
		}
		calls = append(calls, FilterCall{Name: name, HasArg: len(parts) > 1})
	}
	return calls, true
}

// splitOutsideQuotes splits on sep outside single- or double-quoted
// runs, honoring backslash escapes inside quotes.
func splitOutsideQuotes(s string, sep byte) []string {
	var out []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case sep:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

// ValidateFilterExpression checks each filter applied in expr against
// the known filter specs: the name must be registered and the provided
// argument count must meet the filter's requirement. The piped value
// counts as the first argument.
func ValidateFilterExpression(line int, raw, expr string, filters map[string]*tagspec.FilterSpec) []tagspec.Diagnostic {
	calls, ok := ParseFilterChain(expr)
	if !ok {
		return []tagspec.Diagnostic{{
			Line:    line,
			Raw:     raw,
			Message: fmt.Sprintf("Could not parse the remainder: '%s' from '%s'", expr, raw),
		}}
	}

	var diags []tagspec.Diagnostic
	for _, call := range calls {
		spec, known := filters[call.Name]
		if !known {
			diags = append(diags, tagspec.Diagnostic{
				Line:    line,
				Name:    call.Name,
				Raw:     raw,
				Message: fmt.Sprintf("Invalid filter: '%s'", call.Name),
			})
			continue
		}
		if spec.Unrestricted {
			continue
		}
		provided := 1
		if call.HasArg {
			provided = 2
		}
		required := spec.Args - spec.Defaults
		if provided < required {
			diags = append(diags, tagspec.Diagnostic{
				Line:    line,
				Name:    call.Name,
				Raw:     raw,
				Message: fmt.Sprintf("%s requires %d arguments, %d provided", call.Name, required, provided),
			})
		}
		if call.HasArg && spec.Args < 2 {
			diags = append(diags, tagspec.Diagnostic{
				Line:    line,
				Name:    call.Name,
				Raw:     raw,
				Message: fmt.Sprintf("%s takes no argument", call.Name),
			})
		}
	}
	return diags
}
