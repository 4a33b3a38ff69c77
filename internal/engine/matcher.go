package engine

import (
	"slices"

	"github.com/roach88/kinrule/internal/ir"
	"github.com/roach88/kinrule/internal/rules"
)

// matchRule checks if a rule should run for an envelope.
//
// The match is determined by:
//  1. App: the rule applies to the envelope's app
//  2. Event: the event (kind and, for change events, field) is one of the
//     rule's triggers
func matchRule(r rules.Rule, env *ir.Envelope) bool {
	if !r.AppliesTo(env.AppID) {
		return false
	}
	return slices.Contains(r.Triggers(), env.Event)
}

// matchingRules returns the rules subscribed to an envelope, in declaration
// order.
func matchingRules(set []rules.Rule, env *ir.Envelope) []rules.Rule {
	var out []rules.Rule
	for _, r := range set {
		if matchRule(r, env) {
			out = append(out, r)
		}
	}
	return out
}
