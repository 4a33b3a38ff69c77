package engine

import (
	"github.com/roach88/kinrule/internal/ir"
)

// Result is the outcome of dispatching one envelope.
type Result struct {
	DispatchID string
	Seq        int64
	Event      ir.Event
	AppID      string
	RecordID   string

	// Record is the output snapshot: the input with every derivation applied.
	Record ir.Record

	// Changes lists the derivations in rule order, changed or not.
	Changes []FieldChange

	// Skipped lists subscribed rules that did nothing, with the reason.
	Skipped []SkippedRule

	// Updates lists the remote writes in rule order.
	Updates []UpdateOutcome
}

// FieldChange is one derived field value.
type FieldChange struct {
	Rule   string
	Field  string
	Before ir.Value // nil if the field was absent (never for rules)
	After  ir.Value
}

// Changed reports whether the derived value differs from the input.
func (c FieldChange) Changed() bool {
	return !ir.Equal(c.Before, c.After)
}

// SkippedRule is a subscribed rule that produced no effect.
type SkippedRule struct {
	Rule   string
	Reason string
}

// UpdateOutcome pairs a remote update with its result.
type UpdateOutcome struct {
	Rule   string
	Key    string
	Update ir.RemoteUpdate
	Result ir.UpdateResult
}

// Changed returns only the fields whose derived value differs from the input,
// i.e. what the host has to apply to its form.
func (r *Result) Changed() ir.Record {
	out := make(ir.Record)
	for _, c := range r.Changes {
		if c.Changed() {
			out[c.Field] = ir.CloneValue(c.After)
		}
	}
	return out
}

// FailedUpdates returns the remote writes that did not succeed.
func (r *Result) FailedUpdates() []UpdateOutcome {
	var out []UpdateOutcome
	for _, u := range r.Updates {
		if !u.Result.OK() {
			out = append(out, u)
		}
	}
	return out
}

// auditRecord converts the result into its audit-log form.
func (r *Result) auditRecord(recordNumber int64) ir.DispatchRecord {
	rec := ir.DispatchRecord{
		ID:            r.DispatchID,
		Seq:           r.Seq,
		Event:         r.Event.String(),
		AppID:         r.AppID,
		RecordID:      r.RecordID,
		RecordNumber:  recordNumber,
		EngineVersion: ir.EngineVersion,
	}
	for _, c := range r.Changes {
		rec.Derivations = append(rec.Derivations, ir.DerivationRecord{
			Rule:    c.Rule,
			Field:   c.Field,
			Before:  canonicalText(c.Before),
			After:   canonicalText(c.After),
			Changed: c.Changed(),
		})
	}
	for _, s := range r.Skipped {
		rec.Derivations = append(rec.Derivations, ir.DerivationRecord{
			Rule: s.Rule,
			Skip: s.Reason,
		})
	}
	for _, u := range r.Updates {
		ur := ir.UpdateRecord{
			Key:      u.Key,
			Rule:     u.Rule,
			AppID:    u.Update.AppID,
			RecordID: u.Update.RecordID,
			Fields:   canonicalText(u.Update.Fields),
			Status:   u.Result.Status,
			Revision: u.Result.Revision,
		}
		if u.Result.Err != nil {
			ur.Error = u.Result.Err.Error()
		}
		rec.Updates = append(rec.Updates, ur)
	}
	return rec
}

// canonicalText renders a value as canonical JSON for the audit log.
// Values that cannot be rendered are logged as empty text.
func canonicalText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case ir.Record:
		if val == nil {
			return ""
		}
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return ""
	}
	return string(data)
}
