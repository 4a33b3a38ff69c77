package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/kinrule/internal/rules"
)

// Validation error codes (E200-E299)
const (
	ErrMissingKind     = "E201" // kind is required
	ErrUnknownKind     = "E202" // kind is not one of rules.ValidKinds
	ErrMissingTarget   = "E203" // target field is required
	ErrInvalidSources  = "E204" // priority list empty, duplicated or contains the target
	ErrInvalidKeyword  = "E205" // table/column/keyword/label missing or inconsistent
	ErrInvalidPadding  = "E206" // padding must be positive
	ErrDuplicateTarget = "E207" // two rules write the same field
	ErrInvalidApps     = "E208" // app ids must be non-empty
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateRule validates one compiled rule.
// Returns all errors found (does not fail-fast).
func ValidateRule(cfg *rules.Config) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("rule.%s.%s", cfg.Name, field),
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	if strings.TrimSpace(cfg.TargetField) == "" {
		add("target", ErrMissingTarget, "target field is required")
	}
	for i, app := range cfg.Apps {
		if strings.TrimSpace(app) == "" {
			add(fmt.Sprintf("apps[%d]", i), ErrInvalidApps, "app id must be non-empty")
		}
	}

	switch cfg.Kind {
	case "":
		add("kind", ErrMissingKind, "kind is required")
	case rules.KindIdentifier:
		if cfg.PaddingWidth < 0 {
			add("padding", ErrInvalidPadding, "padding must not be negative, got %d", cfg.PaddingWidth)
		}
	case rules.KindKeywordTable:
		for _, f := range []struct{ name, value string }{
			{"table", cfg.TableField},
			{"column", cfg.SubField},
			{"keyword", cfg.Keyword},
			{"label", cfg.Label},
		} {
			if strings.TrimSpace(f.value) == "" {
				add(f.name, ErrInvalidKeyword, "%s is required for %s rules", f.name, cfg.Kind)
			}
		}
		if cfg.TableField != "" && cfg.TableField == cfg.TargetField {
			add("table", ErrInvalidKeyword, "table field %q must differ from the target", cfg.TableField)
		}
	case rules.KindPriorityFallback:
		if len(cfg.SourceFields) == 0 {
			add("sources", ErrInvalidSources, "at least one source field is required")
		}
		seen := make(map[string]bool, len(cfg.SourceFields))
		for i, src := range cfg.SourceFields {
			field := fmt.Sprintf("sources[%d]", i)
			switch {
			case strings.TrimSpace(src) == "":
				add(field, ErrInvalidSources, "source field code must be non-empty")
			case src == cfg.TargetField:
				add(field, ErrInvalidSources, "target %q must not be one of its own sources", src)
			case seen[src]:
				add(field, ErrInvalidSources, "duplicate source field %q", src)
			}
			seen[src] = true
		}
	default:
		add("kind", ErrUnknownKind, "unknown kind %q, must be one of %v", cfg.Kind, rules.ValidKinds)
	}

	return errs
}

// ValidateSet validates every rule and the constraints between rules:
// each target field is written by at most one rule per app.
func ValidateSet(cfgs []rules.Config) []ValidationError {
	var errs []ValidationError
	for i := range cfgs {
		errs = append(errs, ValidateRule(&cfgs[i])...)
	}

	for i := range cfgs {
		for j := 0; j < i; j++ {
			a, b := cfgs[j], cfgs[i]
			if a.TargetField == "" || a.TargetField != b.TargetField || !appsOverlap(a.Apps, b.Apps) {
				continue
			}
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("rule.%s.target", b.Name),
				Message: fmt.Sprintf("field %q is already written by rule %q", b.TargetField, a.Name),
				Code:    ErrDuplicateTarget,
			})
		}
	}
	return errs
}

// appsOverlap reports whether two app restrictions share an app. An empty
// list means every app.
func appsOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for _, app := range a {
		if slices.Contains(b, app) {
			return true
		}
	}
	return false
}
