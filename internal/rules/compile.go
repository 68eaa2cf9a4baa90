package rules

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/loomworld/canonry/internal/canon"
)

//go:embed defaults.cue
var defaultsCUE []byte

// CompileError reports a rule compilation failure with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return firstErr
}

// LoadFile compiles a ruleset from a CUE file on disk.
func LoadFile(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return CompileBytes(data, path)
}

// CompileDefaults compiles the embedded default rules. Tests use it to keep
// defaults.cue and Default() in lockstep; production code calls Default().
func CompileDefaults() (*Ruleset, error) {
	return CompileBytes(defaultsCUE, "defaults.cue")
}

// CompileBytes compiles CUE source into a validated Ruleset.
// The source must define a top-level `ruleset` struct.
func CompileBytes(src []byte, filename string) (*Ruleset, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	return Compile(v.LookupPath(cue.ParsePath("ruleset")))
}

// Compile parses a CUE value into a Ruleset.
// The CUE value should be the ruleset struct itself.
func Compile(v cue.Value) (*Ruleset, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: "ruleset", Message: "ruleset struct is required"}
	}
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rs := &Ruleset{
		AuthorityWeights: make(map[canon.Authority]int64),
	}

	weights := v.LookupPath(cue.ParsePath("authority_weights"))
	if !weights.Exists() {
		return nil, &CompileError{Field: "authority_weights", Message: "authority_weights is required", Pos: v.Pos()}
	}
	iter, err := weights.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		w, err := iter.Value().Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		// The label may be quoted in CUE source, strip it
		name := strings.Trim(iter.Selector().String(), `"`)
		rs.AuthorityWeights[canon.Authority(name)] = w
	}

	minVal := v.LookupPath(cue.ParsePath("min_effective_weight"))
	if !minVal.Exists() {
		return nil, &CompileError{Field: "min_effective_weight", Message: "min_effective_weight is required", Pos: v.Pos()}
	}
	rs.MinEffectiveWeight, err = minVal.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}

	rs.StateExclusivity, err = parseStringSets(v, "state_exclusivity")
	if err != nil {
		return nil, err
	}
	rs.RelationExclusivity, err = parseStringSets(v, "relation_exclusivity")
	if err != nil {
		return nil, err
	}
	rs.DisjointPlaces, err = parseStringSets(v, "disjoint_places")
	if err != nil {
		return nil, err
	}

	locVal := v.LookupPath(cue.ParsePath("location_path"))
	if locVal.Exists() {
		rs.LocationPath, err = locVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
	} else {
		rs.LocationPath = "location"
	}

	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("compiled ruleset invalid: %w", err)
	}
	return rs, nil
}

// parseStringSets reads an optional list-of-string-lists field.
func parseStringSets(v cue.Value, field string) ([][]string, error) {
	val := v.LookupPath(cue.ParsePath(field))
	if !val.Exists() {
		return nil, nil
	}

	outer, err := val.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var sets [][]string
	for outer.Next() {
		inner, err := outer.Value().List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var set []string
		for inner.Next() {
			s, err := inner.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			set = append(set, s)
		}
		sets = append(sets, set)
	}
	return sets, nil
}
