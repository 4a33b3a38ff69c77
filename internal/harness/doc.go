// Package harness runs YAML scenarios through the real engine.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	rules: rules                # CUE rule directory, relative to the scenario file
//	fail_records:               # optional: remote writes to these records fail
//	  - { app: "12", record: "43", status: 500 }
//	steps:
//	  - event: app.record.create.submit.success
//	    app: "12"
//	    record_id: "42"
//	    record_number: 42
//	    record: { purchaser_id: "" }
//	    expect:
//	      changed: {}
//	      updates:
//	        - { rule: customer_id, fields: { purchaser_id: C-0000042 } }
//	assertions:
//	  - type: update_count
//	    count: 1
//
// Record values follow ir.FromPlain: scalars become text and a map with a
// single "table" key holding rows becomes a table field.
//
// # Assertion Types
//
//   - trace_contains: a dispatch of the event changed the field
//   - update_order: remote writes were issued by these rules, in order
//   - update_count: exactly N remote writes (optionally of one rule)
//   - failed_updates: the audit log holds exactly N failed writes
//   - audit_count: the audit log holds exactly N dispatches (optionally for one record)
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory audit store with sequential
// dispatch ids (testutil.SequentialIDGenerator), a fresh engine clock and a
// fake updater (testutil.FakeUpdater), so
// the trace is byte-identical across runs and can be compared against golden
// files.
package harness
