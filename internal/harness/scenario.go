package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/kinrule/internal/ir"
)

// Scenario is a sequence of lifecycle events run against one rule set.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rules is the CUE rule directory. LoadScenario resolves it relative to
	// the scenario file.
	Rules string `yaml:"rules"`

	// FailRecords makes remote writes to these records fail.
	FailRecords []FailRecord `yaml:"fail_records,omitempty"`

	// Steps are dispatched in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the whole run.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// FailRecord configures the fake updater.
type FailRecord struct {
	App    string `yaml:"app"`
	Record string `yaml:"record"`
	Status int    `yaml:"status"`
}

// Step is one lifecycle event.
type Step struct {
	// Event is the host event name, e.g. "app.record.edit.change.courses".
	Event        string `yaml:"event"`
	App          string `yaml:"app"`
	RecordID     string `yaml:"record_id,omitempty"`
	RecordNumber int64  `yaml:"record_number,omitempty"`

	// Record is the snapshot. Omitting it sends an envelope without one.
	Record map[string]any `yaml:"record"`

	// Expect is checked against the dispatch result. Nil skips the check.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the expected dispatch result.
type Expect struct {
	// Changed is the exact set of fields whose value changed. Nil skips the check.
	Changed map[string]any `yaml:"changed,omitempty"`

	// Updates are the expected remote writes, in order. Nil skips the check;
	// an empty list requires that nothing was sent.
	Updates []ExpectedUpdate `yaml:"updates,omitempty"`

	// Skipped lists the rules expected to do nothing, in order.
	Skipped []string `yaml:"skipped,omitempty"`

	// Error is a substring of the expected rejection. Empty means the
	// dispatch must succeed.
	Error string `yaml:"error,omitempty"`
}

// ExpectedUpdate is a remote write expected from a step.
type ExpectedUpdate struct {
	Rule   string         `yaml:"rule"`
	Fields map[string]any `yaml:"fields,omitempty"`
	Failed bool           `yaml:"failed,omitempty"`
}

// Envelope converts the step into an engine envelope.
func (s Step) Envelope() (ir.Envelope, error) {
	ev, err := ir.ParseEvent(s.Event)
	if err != nil {
		return ir.Envelope{}, err
	}
	env := ir.Envelope{
		Event:        ev,
		AppID:        s.App,
		RecordID:     s.RecordID,
		RecordNumber: s.RecordNumber,
	}
	env.DefaultRecordNumber()
	if s.Record != nil {
		rec, err := ir.FromPlain(s.Record)
		if err != nil {
			return ir.Envelope{}, fmt.Errorf("record: %w", err)
		}
		env.Record = rec
	}
	return env, nil
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict fields catch typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Rules != "" && !filepath.IsAbs(scenario.Rules) {
		scenario.Rules = filepath.Join(filepath.Dir(path), scenario.Rules)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Rules == "" {
		return fmt.Errorf("rules directory is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Event == "" {
			return fmt.Errorf("step %d: event is required", i)
		}
		if step.Expect != nil {
			for j, u := range step.Expect.Updates {
				if u.Rule == "" {
					return fmt.Errorf("step %d: update %d: rule is required", i, j)
				}
			}
		}
	}

	for i, fr := range s.FailRecords {
		if fr.App == "" || fr.Record == "" {
			return fmt.Errorf("fail_records[%d]: app and record are required", i)
		}
		if fr.Status < 400 || fr.Status > 599 {
			return fmt.Errorf("fail_records[%d]: status must be 4xx or 5xx, got %d", i, fr.Status)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}

	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("trace_contains requires event")
		}
	case AssertUpdateOrder:
		if len(a.Rules) == 0 {
			return fmt.Errorf("update_order requires rules")
		}
	case AssertUpdateCount, AssertFailedUpdates, AssertAuditCount:
		if a.Count < 0 {
			return fmt.Errorf("%s: count must not be negative", a.Type)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
