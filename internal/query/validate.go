package query

import (
	"fmt"
	"strings"

	"github.com/loomworld/canonry/internal/canon"
)

// Validate checks a query against the portable fragment rules before
// compilation.
//
// Portable fragment rules:
//  1. No empty match terms - scopes, kinds, tags, and relation types
//     must be explicit values
//  2. Scalar comparisons only - attribute filters compare strings,
//     integers, booleans, or Null (absence); arrays and objects have
//     no backend-independent equality
//  3. Conjunction only - filters are ANDed; disjunction is expressed
//     as separate queries
//
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	if q.Limit < 0 {
		return fmt.Errorf("negative limit %d", q.Limit)
	}
	for i, f := range q.Filters {
		if err := validateFilter(f); err != nil {
			return fmt.Errorf("filter %d: %w", i, err)
		}
	}
	return nil
}

func validateFilter(f Filter) error {
	switch f := f.(type) {
	case ScopeIs:
		if f.Scope == "" {
			return fmt.Errorf("empty scope")
		}
	case KindIs:
		if f.Kind == "" {
			return fmt.Errorf("empty kind")
		}
	case StatusIs:
		switch f.Status {
		case canon.StatusProposed, canon.StatusCanon, canon.StatusRetconned:
		default:
			return fmt.Errorf("unknown canon status %q", f.Status)
		}
	case HasTag:
		if f.Tag == "" {
			return fmt.Errorf("empty tag")
		}
	case AttrEquals:
		if err := validatePath(f.Path); err != nil {
			return err
		}
		switch f.Value.(type) {
		case canon.String, canon.Int, canon.Bool, canon.Null, nil:
		default:
			return fmt.Errorf("attribute comparison at %q: only scalar values are comparable", f.Path)
		}
	case RelatedTo:
		if f.Type == "" {
			return fmt.Errorf("empty relation type")
		}
	case nil:
		return fmt.Errorf("nil filter")
	default:
		return fmt.Errorf("unsupported filter type %T", f)
	}
	return nil
}

// validatePath rejects paths that would change the meaning of the
// json_extract path parameter. Segment names are restricted to keep the
// dotted form unambiguous.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty attribute path")
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return fmt.Errorf("attribute path %q has an empty segment", path)
		}
		for _, r := range seg {
			switch {
			case r >= 'a' && r <= 'z':
			case r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9':
			case r == '_' || r == '-':
			default:
				return fmt.Errorf("attribute path %q contains unsupported character %q", path, r)
			}
		}
	}
	return nil
}
