package rules

import (
	"fmt"
	"slices"
)

// Kind selects which rule a Config builds.
type Kind string

const (
	// KindIdentifier builds an IdentifierAssigner.
	KindIdentifier Kind = "identifier"
	// KindKeywordTable builds a KeywordTableClassifier.
	KindKeywordTable Kind = "keyword_table"
	// KindPriorityFallback builds a PriorityFallbackFiller.
	KindPriorityFallback Kind = "priority_fallback"
)

// ValidKinds lists every rule kind in documentation order.
var ValidKinds = []Kind{KindIdentifier, KindKeywordTable, KindPriorityFallback}

// Defaults for identifier rules.
const (
	DefaultPaddingWidth = 7
	DefaultIDPrefix     = "C-"
)

// Config is the deploy-time configuration of one rule instance.
// Which fields are read depends on Kind.
type Config struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// Apps restricts the rule to these app ids. Empty means every app.
	Apps []string `json:"apps,omitempty"`

	// TargetField is the field the rule writes. Required for every kind.
	TargetField string `json:"target"`

	// SourceFields is the priority list (priority_fallback).
	SourceFields []string `json:"sources,omitempty"`

	// TableField, SubField, Keyword and Label configure keyword_table.
	TableField string `json:"table,omitempty"`
	SubField   string `json:"column,omitempty"`
	Keyword    string `json:"keyword,omitempty"`
	Label      string `json:"label,omitempty"`

	// RetainOnMiss leaves the target untouched instead of clearing it when
	// no row matches (keyword_table).
	RetainOnMiss bool `json:"retain_on_miss,omitempty"`

	// PaddingWidth and IDPrefix configure identifier. A zero width means
	// DefaultPaddingWidth.
	PaddingWidth int    `json:"padding,omitempty"`
	IDPrefix     string `json:"prefix,omitempty"`
}

// Validate checks the fields required by the config's kind.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if c.TargetField == "" {
		return fmt.Errorf("rule %q: target field is required", c.Name)
	}
	for _, app := range c.Apps {
		if app == "" {
			return fmt.Errorf("rule %q: app ids must not be empty", c.Name)
		}
	}

	switch c.Kind {
	case KindIdentifier:
		if c.PaddingWidth < 0 {
			return fmt.Errorf("rule %q: padding must not be negative, got %d", c.Name, c.PaddingWidth)
		}
	case KindKeywordTable:
		if c.TableField == "" {
			return fmt.Errorf("rule %q: table field is required", c.Name)
		}
		if c.SubField == "" {
			return fmt.Errorf("rule %q: column is required", c.Name)
		}
		if c.Keyword == "" {
			return fmt.Errorf("rule %q: keyword is required", c.Name)
		}
		if c.Label == "" {
			return fmt.Errorf("rule %q: label is required", c.Name)
		}
		if c.TableField == c.TargetField {
			return fmt.Errorf("rule %q: target must differ from the table field", c.Name)
		}
	case KindPriorityFallback:
		if len(c.SourceFields) == 0 {
			return fmt.Errorf("rule %q: at least one source field is required", c.Name)
		}
		seen := make(map[string]bool, len(c.SourceFields))
		for _, src := range c.SourceFields {
			if src == "" {
				return fmt.Errorf("rule %q: source field codes must not be empty", c.Name)
			}
			if src == c.TargetField {
				return fmt.Errorf("rule %q: target %q must not be one of its own sources", c.Name, src)
			}
			if seen[src] {
				return fmt.Errorf("rule %q: duplicate source field %q", c.Name, src)
			}
			seen[src] = true
		}
	case "":
		return fmt.Errorf("rule %q: kind is required", c.Name)
	default:
		return fmt.Errorf("rule %q: unknown kind %q (want one of %v)", c.Name, c.Kind, ValidKinds)
	}
	return nil
}

// withDefaults fills zero values that have a documented default.
func (c Config) withDefaults() Config {
	if c.Kind == KindIdentifier && c.PaddingWidth == 0 {
		c.PaddingWidth = DefaultPaddingWidth
	}
	c.Apps = slices.Clone(c.Apps)
	c.SourceFields = slices.Clone(c.SourceFields)
	return c
}
