package rules

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/kinrule/internal/ir"
)

// KeywordTableClassifier sets a fixed label when any row of a table field has
// a column containing a keyword, and clears the target otherwise.
type KeywordTableClassifier struct {
	base
	table        string
	column       string
	keyword      string // NFC normalized
	label        string
	retainOnMiss bool
}

// NewKeywordTableClassifier builds a KeywordTableClassifier. cfg.Kind must be
// KindKeywordTable.
func NewKeywordTableClassifier(cfg Config) (*KeywordTableClassifier, error) {
	cfg.Kind = KindKeywordTable
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &KeywordTableClassifier{
		base:         newBase(cfg),
		table:        cfg.TableField,
		column:       cfg.SubField,
		keyword:      norm.NFC.String(cfg.Keyword),
		label:        cfg.Label,
		retainOnMiss: cfg.RetainOnMiss,
	}, nil
}

// Kind implements Rule.
func (c *KeywordTableClassifier) Kind() Kind { return KindKeywordTable }

// Triggers implements Rule.
func (c *KeywordTableClassifier) Triggers() []ir.Event {
	return derivationTriggers(c.table)
}

// Classify returns the value for the target field and whether it applies.
// It does not apply when the target is absent (or, with RetainOnMiss, when
// no row matches).
func (c *KeywordTableClassifier) Classify(rec ir.Record) (ir.Scalar, bool) {
	v, skip := c.classify(rec)
	return v, skip == ""
}

func (c *KeywordTableClassifier) classify(rec ir.Record) (ir.Scalar, string) {
	if !rec.Has(c.target) {
		return "", SkipTargetAbsent
	}
	if c.found(rec) {
		return ir.Scalar(c.label), ""
	}
	if c.retainOnMiss {
		return "", SkipRetainedOnNoMatch
	}
	return "", ""
}

// found scans every row in order and stops at the first row whose column
// contains the keyword. Rows with a missing, empty or non-text column never
// match; a missing or non-table field counts as no rows.
func (c *KeywordTableClassifier) found(rec ir.Record) bool {
	v, _ := rec.Get(c.table)
	table, ok := v.(ir.Table)
	if !ok {
		return false
	}
	for _, row := range table {
		text, ok := row.Fields.Text(c.column)
		if !ok || text == "" {
			continue
		}
		if strings.Contains(norm.NFC.String(text), c.keyword) {
			return true
		}
	}
	return false
}

// Evaluate implements Rule.
func (c *KeywordTableClassifier) Evaluate(env ir.Envelope) Effect {
	v, skip := c.classify(env.Record)
	if skip != "" {
		return Effect{Skip: skip}
	}
	return Effect{Derived: true, Field: c.target, Value: v}
}
