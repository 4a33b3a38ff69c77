package compiler

import (
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/kinrule/internal/rules"
)

// ruleFields lists the keys a rule struct may carry.
var ruleFields = []string{
	"kind", "target", "apps",
	"sources",
	"table", "column", "keyword", "label", "retain_on_miss",
	"prefix", "padding",
}

// CompileRule parses a CUE value into a rules.Config.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the rule struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`rule: referrer: { kind: "priority_fallback", ... }`)
//	cfg, err := CompileRule(v.LookupPath(cue.ParsePath("rule.referrer")))
//
// CompileRule checks shapes and types only. Semantic checks (required
// fields per kind, duplicates) are done by ValidateRule so that every
// problem can be reported at once.
func CompileRule(v cue.Value) (*rules.Config, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	cfg := &rules.Config{}

	// Rule name from struct label (the path selector)
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		cfg.Name = unquoteLabel(labels[len(labels)-1])
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, &CompileError{Field: "rule", Message: "rule must be a struct", Pos: v.Pos()}
	}
	for iter.Next() {
		if !slices.Contains(ruleFields, iter.Label()) {
			return nil, &CompileError{
				Field:   iter.Label(),
				Message: fmt.Sprintf("unknown field %q (want one of %v)", iter.Label(), ruleFields),
				Pos:     iter.Value().Pos(),
			}
		}
	}

	kind, ok, err := optionalString(v, "kind")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &CompileError{Field: "kind", Message: "kind is required", Pos: v.Pos()}
	}
	cfg.Kind = rules.Kind(kind)

	if cfg.TargetField, _, err = optionalString(v, "target"); err != nil {
		return nil, err
	}
	if cfg.Apps, err = optionalStrings(v, "apps"); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case rules.KindIdentifier:
		err = compileIdentifier(v, cfg)
	case rules.KindKeywordTable:
		err = compileKeywordTable(v, cfg)
	case rules.KindPriorityFallback:
		cfg.SourceFields, err = optionalStrings(v, "sources")
	}
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func compileIdentifier(v cue.Value, cfg *rules.Config) error {
	prefix, ok, err := optionalString(v, "prefix")
	if err != nil {
		return err
	}
	if !ok {
		prefix = rules.DefaultIDPrefix
	}
	cfg.IDPrefix = prefix

	padVal := v.LookupPath(cue.ParsePath("padding"))
	if !padVal.Exists() {
		return nil
	}
	if k := padVal.IncompleteKind(); k != cue.IntKind {
		return &CompileError{
			Field:   "padding",
			Message: fmt.Sprintf("padding must be an int, got %v", k),
			Pos:     padVal.Pos(),
		}
	}
	width, err := padVal.Int64()
	if err != nil {
		return formatCUEError(err)
	}
	cfg.PaddingWidth = int(width)
	if width == 0 {
		// Explicit zero means "no padding", not "default".
		cfg.PaddingWidth = 1
	}
	return nil
}

func compileKeywordTable(v cue.Value, cfg *rules.Config) error {
	var err error
	if cfg.TableField, _, err = optionalString(v, "table"); err != nil {
		return err
	}
	if cfg.SubField, _, err = optionalString(v, "column"); err != nil {
		return err
	}
	if cfg.Keyword, _, err = optionalString(v, "keyword"); err != nil {
		return err
	}
	if cfg.Label, _, err = optionalString(v, "label"); err != nil {
		return err
	}

	retainVal := v.LookupPath(cue.ParsePath("retain_on_miss"))
	if retainVal.Exists() {
		retain, err := retainVal.Bool()
		if err != nil {
			return &CompileError{Field: "retain_on_miss", Message: "retain_on_miss must be a bool", Pos: retainVal.Pos()}
		}
		cfg.RetainOnMiss = retain
	}
	return nil
}

// optionalString reads a concrete string field. ok is false when the field
// does not exist.
func optionalString(v cue.Value, field string) (string, bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", false, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", true, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("%s must be a string", field),
			Pos:     fv.Pos(),
		}
	}
	return s, true, nil
}

// optionalStrings reads a list of strings, preserving order.
func optionalStrings(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("%s must be a list of strings", field),
			Pos:     fv.Pos(),
		}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   field,
				Message: fmt.Sprintf("%s must be a list of strings", field),
				Pos:     iter.Value().Pos(),
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// unquoteLabel returns a selector's label without CUE quoting, so field-like
// names such as "referrer-2" come out as written.
func unquoteLabel(sel cue.Selector) string {
	if sel.LabelType() == cue.StringLabel {
		return sel.Unquoted()
	}
	return sel.String()
}

// CompileError represents a compilation error with source position.
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

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
