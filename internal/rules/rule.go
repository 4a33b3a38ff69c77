package rules

import (
	"fmt"
	"slices"

	"github.com/roach88/kinrule/internal/ir"
)

// Rule is a configured rule instance as seen by the engine.
type Rule interface {
	// Name is the unique rule name from configuration.
	Name() string
	// Kind reports which rule implementation this is.
	Kind() Kind
	// Target is the field the rule writes.
	Target() string
	// Triggers lists the lifecycle events the rule subscribes to.
	Triggers() []ir.Event
	// AppliesTo reports whether the rule runs for records of the app.
	AppliesTo(appID string) bool
	// Evaluate computes the rule's effect on one envelope. It never mutates
	// env.Record.
	Evaluate(env ir.Envelope) Effect
}

// Effect is what one rule evaluation wants done.
type Effect struct {
	// Derived is true when Value should be written to Field.
	Derived bool
	Field   string
	Value   ir.Value

	// Update is the remote write to perform, if any.
	Update *ir.RemoteUpdate

	// Skip explains why nothing is to be done. Empty when the rule acted.
	Skip string
}

// Skip reasons shared by all rules.
const (
	SkipTargetAbsent      = "target field absent"
	SkipIdentifierSet     = "identifier already present"
	SkipNoRecordNumber    = "record number missing"
	SkipNoRecordAddress   = "app id or record id missing"
	SkipRetainedOnNoMatch = "no matching row, value retained"
)

// None reports whether the effect asks for nothing.
func (e Effect) None() bool {
	return !e.Derived && e.Update == nil
}

// New builds a rule from its configuration.
func New(cfg Config) (Rule, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	var (
		r   Rule
		err error
	)
	switch cfg.Kind {
	case KindIdentifier:
		r, err = NewIdentifierAssigner(cfg)
	case KindKeywordTable:
		r, err = NewKeywordTableClassifier(cfg)
	case KindPriorityFallback:
		r, err = NewPriorityFallbackFiller(cfg)
	default:
		return nil, fmt.Errorf("rule %q: unknown kind %q", cfg.Name, cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// NewSet builds rules in declaration order. Rule names must be unique and
// no two rules may write the same target field in the same app.
func NewSet(cfgs []Config) ([]Rule, error) {
	set := make([]Rule, 0, len(cfgs))
	names := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		if names[cfg.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", cfg.Name)
		}
		names[cfg.Name] = true

		r, err := New(cfg)
		if err != nil {
			return nil, err
		}
		for _, other := range set {
			if other.Target() == r.Target() && appsOverlap(other, cfg.Apps) {
				return nil, fmt.Errorf("rules %q and %q both write field %q", other.Name(), r.Name(), r.Target())
			}
		}
		set = append(set, r)
	}
	return set, nil
}

func appsOverlap(r Rule, apps []string) bool {
	if len(apps) == 0 {
		return true
	}
	for _, app := range apps {
		if r.AppliesTo(app) {
			return true
		}
	}
	return false
}

// base carries the fields every rule kind shares.
type base struct {
	name   string
	target string
	apps   []string
}

func newBase(cfg Config) base {
	return base{name: cfg.Name, target: cfg.TargetField, apps: cfg.Apps}
}

func (b base) Name() string   { return b.name }
func (b base) Target() string { return b.target }

func (b base) AppliesTo(appID string) bool {
	return len(b.apps) == 0 || slices.Contains(b.apps, appID)
}

// derivationTriggers are the events on which a derived field must be
// recomputed: form display, changes to any source field, and right before
// save so the first save is already correct.
func derivationTriggers(sources ...string) []ir.Event {
	events := []ir.Event{ir.On(ir.CreateShow), ir.On(ir.EditShow)}
	for _, src := range sources {
		events = append(events, ir.OnChange(ir.CreateChange, src), ir.OnChange(ir.EditChange, src))
	}
	return append(events, ir.On(ir.CreateSubmit), ir.On(ir.EditSubmit))
}
