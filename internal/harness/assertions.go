package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/kinrule/internal/ir"
	"github.com/roach88/kinrule/internal/store"
)

// Assertion validates the whole run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event is the host event name (trace_contains).
	Event string `yaml:"event,omitempty"`

	// Field must be among the changed fields (trace_contains, optional).
	Field string `yaml:"field,omitempty"`

	// Value is the expected value of Field (trace_contains, optional).
	Value any `yaml:"value,omitempty"`

	// Rule restricts update_count to one rule.
	Rule string `yaml:"rule,omitempty"`

	// Rules is the expected order of remote writes (update_order).
	Rules []string `yaml:"rules,omitempty"`

	// App and Record restrict audit_count.
	App    string `yaml:"app,omitempty"`
	Record string `yaml:"record,omitempty"`

	// Count is the expected number (update_count, failed_updates, audit_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertUpdateOrder   = "update_order"
	AssertUpdateCount   = "update_count"
	AssertFailedUpdates = "failed_updates"
	AssertAuditCount    = "audit_count"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		if ev.Error != "" {
			fmt.Fprintf(&buf, "  [%d] %s rejected: %s\n", ev.Step, ev.Event, ev.Error)
			continue
		}
		fmt.Fprintf(&buf, "  [%d] %s changed=%v updates=%d\n", ev.Step, ev.Event, ev.Changed.Codes(), len(ev.Updates))
	}

	return buf.String()
}

// AssertionContext carries what assertions may query besides the trace.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions runs every assertion and returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertUpdateOrder:
			err = assertUpdateOrder(result, a)
		case AssertUpdateCount:
			err = assertUpdateCount(result, a)
		case AssertFailedUpdates:
			err = assertFailedUpdates(actx, result.Trace, a)
		case AssertAuditCount:
			err = assertAuditCount(actx, result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertTraceContains checks that some dispatch of the event changed the
// field (to the value, if given).
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	var want ir.Value
	if a.Value != nil {
		rec, err := ir.FromPlain(map[string]any{a.Field: a.Value})
		if err != nil {
			return fmt.Errorf("trace_contains: %w", err)
		}
		want = rec[a.Field]
	}

	for _, ev := range trace {
		if ev.Event != a.Event || ev.Error != "" {
			continue
		}
		if a.Field == "" {
			return nil
		}
		got, ok := ev.Changed.Get(a.Field)
		if ok && (want == nil || ir.Equal(got, want)) {
			return nil
		}
	}

	expected := "event " + a.Event
	if a.Field != "" {
		expected += " changing " + a.Field
		if a.Value != nil {
			expected += fmt.Sprintf(" to %v", a.Value)
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertUpdateOrder checks that remote writes came from exactly these rules,
// in this order.
func assertUpdateOrder(result *Result, a Assertion) error {
	var got []string
	for _, u := range result.Updates() {
		got = append(got, u.Rule)
	}
	if slices.Equal(got, a.Rules) {
		return nil
	}
	return &AssertionError{
		Type:     AssertUpdateOrder,
		Expected: strings.Join(a.Rules, " -> "),
		Actual:   strings.Join(got, " -> "),
		Trace:    result.Trace,
	}
}

// assertUpdateCount checks the number of remote writes.
func assertUpdateCount(result *Result, a Assertion) error {
	count := 0
	for _, u := range result.Updates() {
		if a.Rule == "" || u.Rule == a.Rule {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	expected := fmt.Sprintf("%d update(s)", a.Count)
	if a.Rule != "" {
		expected += " from " + a.Rule
	}
	return &AssertionError{
		Type:     AssertUpdateCount,
		Expected: expected,
		Actual:   fmt.Sprintf("%d update(s)", count),
		Trace:    result.Trace,
	}
}

// assertFailedUpdates checks the failed writes recorded in the audit log.
func assertFailedUpdates(actx *AssertionContext, trace []TraceEvent, a Assertion) error {
	if actx == nil || actx.Store == nil {
		return fmt.Errorf("%s: no audit store available", AssertFailedUpdates)
	}
	failed, err := actx.Store.FailedUpdates(actx.Ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", AssertFailedUpdates, err)
	}
	if len(failed) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertFailedUpdates,
		Expected: fmt.Sprintf("%d failed update(s) in the audit log", a.Count),
		Actual:   fmt.Sprintf("%d", len(failed)),
		Trace:    trace,
	}
}

// assertAuditCount checks the dispatches recorded in the audit log.
func assertAuditCount(actx *AssertionContext, trace []TraceEvent, a Assertion) error {
	if actx == nil || actx.Store == nil {
		return fmt.Errorf("%s: no audit store available", AssertAuditCount)
	}
	recs, err := actx.Store.ReadDispatches(actx.Ctx, store.Filter{AppID: a.App, RecordID: a.Record})
	if err != nil {
		return fmt.Errorf("%s: %w", AssertAuditCount, err)
	}
	if len(recs) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertAuditCount,
		Expected: fmt.Sprintf("%d dispatch(es) for app=%q record=%q", a.Count, a.App, a.Record),
		Actual:   fmt.Sprintf("%d", len(recs)),
		Trace:    trace,
	}
}
