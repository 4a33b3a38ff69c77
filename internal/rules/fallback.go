package rules

import (
	"slices"

	"github.com/roach88/kinrule/internal/ir"
)

// PriorityFallbackFiller copies the first non-empty field of a priority list
// into the target, or clears the target when every candidate is empty.
type PriorityFallbackFiller struct {
	base
	sources []string
}

// NewPriorityFallbackFiller builds a PriorityFallbackFiller. cfg.Kind must be
// KindPriorityFallback.
func NewPriorityFallbackFiller(cfg Config) (*PriorityFallbackFiller, error) {
	cfg.Kind = KindPriorityFallback
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &PriorityFallbackFiller{
		base:    newBase(cfg),
		sources: cfg.SourceFields,
	}, nil
}

// Kind implements Rule.
func (f *PriorityFallbackFiller) Kind() Kind { return KindPriorityFallback }

// Sources returns the priority list in order.
func (f *PriorityFallbackFiller) Sources() []string {
	return slices.Clone(f.sources)
}

// Triggers implements Rule.
func (f *PriorityFallbackFiller) Triggers() []ir.Event {
	return derivationTriggers(f.sources...)
}

// Fill returns the value for the target field and whether it applies.
func (f *PriorityFallbackFiller) Fill(rec ir.Record) (ir.Value, bool) {
	if !rec.Has(f.target) {
		return nil, false
	}
	for _, code := range f.sources {
		v, ok := rec.Get(code)
		if ok && v != nil && !v.IsEmpty() {
			return ir.CloneValue(v), true
		}
	}
	return ir.Scalar(""), true
}

// Evaluate implements Rule.
func (f *PriorityFallbackFiller) Evaluate(env ir.Envelope) Effect {
	v, ok := f.Fill(env.Record)
	if !ok {
		return Effect{Skip: SkipTargetAbsent}
	}
	return Effect{Derived: true, Field: f.target, Value: v}
}
