package harness

import (
	"github.com/roach88/kinrule/internal/engine"
	"github.com/roach88/kinrule/internal/ir"
)

// TraceEvent is one executed step.
type TraceEvent struct {
	Step       int
	Seq        int64
	DispatchID string
	Event      string
	AppID      string
	RecordID   string
	Changed    ir.Record
	Updates    []TraceUpdate
	Skipped    []engine.SkippedRule

	// Error is set when the engine rejected the envelope.
	Error string
}

// TraceUpdate is one remote write issued by a step.
type TraceUpdate struct {
	Rule     string
	AppID    string
	RecordID string
	Fields   ir.Record
	Status   int
	Revision string
	Error    string
}

// OK reports whether the write succeeded.
func (u TraceUpdate) OK() bool {
	return u.Error == ""
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion matched.
	Pass bool

	// Trace holds one event per step, in order.
	Trace []TraceEvent

	// Errors holds one message per mismatch. Empty if Pass is true.
	Errors []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Updates returns every remote write in trace order.
func (r *Result) Updates() []TraceUpdate {
	var out []TraceUpdate
	for _, ev := range r.Trace {
		out = append(out, ev.Updates...)
	}
	return out
}

func traceEvent(step int, res *engine.Result) TraceEvent {
	ev := TraceEvent{
		Step:       step,
		Seq:        res.Seq,
		DispatchID: res.DispatchID,
		Event:      res.Event.String(),
		AppID:      res.AppID,
		RecordID:   res.RecordID,
		Changed:    res.Changed(),
		Skipped:    res.Skipped,
	}
	for _, u := range res.Updates {
		tu := TraceUpdate{
			Rule:     u.Rule,
			AppID:    u.Update.AppID,
			RecordID: u.Update.RecordID,
			Fields:   u.Update.Fields,
			Status:   u.Result.Status,
			Revision: u.Result.Revision,
		}
		if u.Result.Err != nil {
			tu.Error = u.Result.Err.Error()
		}
		ev.Updates = append(ev.Updates, tu)
	}
	return ev
}
