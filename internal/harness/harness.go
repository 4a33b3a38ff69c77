package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/kinrule/internal/compiler"
	"github.com/roach88/kinrule/internal/engine"
	"github.com/roach88/kinrule/internal/ir"
	"github.com/roach88/kinrule/internal/store"
	"github.com/roach88/kinrule/internal/testutil"
)

// Harness executes one scenario.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. Steps are
// dispatched synchronously through the engine, so the trace order is the
// step order.
//
// Returns an error only if the scenario cannot be executed at all (rules do
// not compile, store cannot open). Mismatches are reported on the Result.
func Run(scenario *Scenario) (*Result, error) {
	set, err := compiler.LoadRuleSet(scenario.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	updater := testutil.NewFakeUpdater()
	for _, fr := range scenario.FailRecords {
		updater.FailRecord(fr.App, fr.Record, fr.Status)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		store: st,
		engine: engine.New(set, updater,
			engine.WithRecorder(st),
			engine.WithLogger(logger),
			engine.WithIDGenerator(testutil.NewSequentialIDGenerator("dispatch")),
			engine.WithClock(engine.NewClock()),
		),
		logger: logger,
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// executeStep dispatches one step and checks its expect clause.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) {
	var (
		res *engine.Result
		err error
	)
	env, err := step.Envelope()
	if err == nil {
		res, err = h.engine.Dispatch(ctx, env)
	}

	if err != nil {
		result.Trace = append(result.Trace, TraceEvent{Step: i, Event: step.Event, AppID: step.App, RecordID: step.RecordID, Error: err.Error()})
		switch {
		case step.Expect == nil || step.Expect.Error == "":
			result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", i, step.Event, err))
		case !strings.Contains(err.Error(), step.Expect.Error):
			result.AddError(fmt.Sprintf("step %d (%s): error %q does not contain %q", i, step.Event, err, step.Expect.Error))
		}
		return
	}

	ev := traceEvent(i, res)
	result.Trace = append(result.Trace, ev)
	h.logger.Info("step dispatched", "step", i, "event", ev.Event, "dispatch_id", ev.DispatchID)

	if step.Expect == nil {
		return
	}
	for _, msg := range checkExpect(ev, step.Expect) {
		result.AddError(fmt.Sprintf("step %d (%s): %s", i, step.Event, msg))
	}
}

// checkExpect compares one trace event against its expect clause.
func checkExpect(ev TraceEvent, want *Expect) []string {
	var errs []string

	if want.Error != "" {
		errs = append(errs, fmt.Sprintf("expected error containing %q, dispatch succeeded", want.Error))
	}

	if want.Changed != nil {
		wantRec, err := ir.FromPlain(want.Changed)
		if err != nil {
			errs = append(errs, fmt.Sprintf("expect.changed: %v", err))
		} else if msg := diffRecords(wantRec, ev.Changed); msg != "" {
			errs = append(errs, "changed: "+msg)
		}
	}

	if want.Updates != nil {
		if len(want.Updates) != len(ev.Updates) {
			errs = append(errs, fmt.Sprintf("expected %d update(s), got %d", len(want.Updates), len(ev.Updates)))
		} else {
			for j, wu := range want.Updates {
				errs = append(errs, checkUpdate(j, wu, ev.Updates[j])...)
			}
		}
	}

	if want.Skipped != nil {
		got := make([]string, 0, len(ev.Skipped))
		for _, s := range ev.Skipped {
			got = append(got, s.Rule)
		}
		if strings.Join(got, ",") != strings.Join(want.Skipped, ",") {
			errs = append(errs, fmt.Sprintf("skipped: want %v, got %v", want.Skipped, got))
		}
	}

	return errs
}

func checkUpdate(j int, want ExpectedUpdate, got TraceUpdate) []string {
	var errs []string
	if want.Rule != got.Rule {
		errs = append(errs, fmt.Sprintf("update %d: rule: want %q, got %q", j, want.Rule, got.Rule))
	}
	if want.Failed == got.OK() {
		errs = append(errs, fmt.Sprintf("update %d: failed: want %v, got %v (%s)", j, want.Failed, !got.OK(), got.Error))
	}
	if want.Fields != nil {
		wantRec, err := ir.FromPlain(want.Fields)
		if err != nil {
			errs = append(errs, fmt.Sprintf("update %d: expect.fields: %v", j, err))
		} else if msg := diffRecords(wantRec, got.Fields); msg != "" {
			errs = append(errs, fmt.Sprintf("update %d: fields: %s", j, msg))
		}
	}
	return errs
}

// diffRecords describes the first differences between two records, or
// returns "" if they are equal.
func diffRecords(want, got ir.Record) string {
	var diffs []string
	for _, code := range want.Codes() {
		g, ok := got.Get(code)
		switch {
		case !ok:
			diffs = append(diffs, fmt.Sprintf("%s: missing", code))
		case !ir.Equal(want[code], g):
			diffs = append(diffs, fmt.Sprintf("%s: want %s, got %s", code, valueText(want[code]), valueText(g)))
		}
	}
	for _, code := range got.Codes() {
		if !want.Has(code) {
			diffs = append(diffs, fmt.Sprintf("%s: unexpected %s", code, valueText(got[code])))
		}
	}
	return strings.Join(diffs, "; ")
}

func valueText(v ir.Value) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
