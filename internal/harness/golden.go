package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/kinrule/internal/ir"
)

// Snapshot renders a result's trace as canonical JSON. This is the golden
// file format.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		trace[i] = eventMap(ev)
	}
	return ir.MarshalCanonical(map[string]any{
		"scenario_name": scenarioName,
		"trace":         trace,
	})
}

func eventMap(ev TraceEvent) map[string]any {
	m := map[string]any{
		"step":  ev.Step,
		"event": ev.Event,
		"app":   ev.AppID,
	}
	if ev.RecordID != "" {
		m["record_id"] = ev.RecordID
	}
	if ev.Error != "" {
		m["error"] = ev.Error
		return m
	}

	m["seq"] = ev.Seq
	m["dispatch_id"] = ev.DispatchID
	m["changed"] = ev.Changed

	if len(ev.Updates) > 0 {
		updates := make([]any, len(ev.Updates))
		for i, u := range ev.Updates {
			um := map[string]any{
				"rule":   u.Rule,
				"app":    u.AppID,
				"id":     u.RecordID,
				"fields": u.Fields,
				"status": u.Status,
			}
			if u.Revision != "" {
				um["revision"] = u.Revision
			}
			if u.Error != "" {
				um["error"] = u.Error
			}
			updates[i] = um
		}
		m["updates"] = updates
	}

	if len(ev.Skipped) > 0 {
		skipped := make([]any, len(ev.Skipped))
		for i, s := range ev.Skipped {
			skipped[i] = map[string]any{"rule": s.Rule, "reason": s.Reason}
		}
		m["skipped"] = skipped
	}
	return m
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
