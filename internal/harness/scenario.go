package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted run of the demo game.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario shows.
	Description string `yaml:"description"`

	// Players are spawned at startup.
	Players []string `yaml:"players"`

	// Rerun lists systems re-run once after a patch switches them.
	Rerun []string `yaml:"rerun,omitempty"`

	// PID makes the notifier ignore patches addressed to other processes.
	PID int `yaml:"pid,omitempty"`

	// Strict makes unsafe patches panic. A panic fails the run.
	Strict bool `yaml:"strict,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked against the final trace and world.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one of: run ticks, deliver a patch, deliver a raw frame.
type Step struct {
	// Tick runs this many ticks.
	Tick int `yaml:"tick,omitempty"`

	// Patch delivers a hot_reload message carrying this jump table.
	Patch *PatchStep `yaml:"patch,omitempty"`

	// Frame delivers one raw devserver frame through the decoder.
	Frame string `yaml:"frame,omitempty"`
}

// PatchStep is a jump table plus optional addressing.
type PatchStep struct {
	Lib    string            `yaml:"lib"`
	Map    map[string]string `yaml:"map"`
	ForPID *int              `yaml:"for_pid,omitempty"`
}

// Assertion validates the trace or the final world.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event is the event kind (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Events is the expected kind order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Fields are matched as a subset of an event's fields.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Count is the expected number of matches (trace_count, record_count).
	Count int `yaml:"count,omitempty"`

	// Line is the expected journal line (journal_contains).
	Line string `yaml:"line,omitempty"`

	// Record is a component key (final_state, record_count).
	Record string `yaml:"record,omitempty"`

	// Where selects exactly one instance by field values (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds expected field values; the key "type" matches the Go
	// type of the instance (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains   = "trace_contains"
	AssertTraceOrder      = "trace_order"
	AssertTraceCount      = "trace_count"
	AssertJournalContains = "journal_contains"
	AssertRecordCount     = "record_count"
	AssertFinalState      = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		set := 0
		if step.Tick != 0 {
			set++
		}
		if step.Patch != nil {
			set++
		}
		if step.Frame != "" {
			set++
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of tick, patch, frame is required", i)
		}
		if step.Tick < 0 {
			return fmt.Errorf("steps[%d]: tick must be positive", i)
		}
		if step.Patch != nil && (step.Patch.Lib == "" || len(step.Patch.Map) == 0) {
			return fmt.Errorf("steps[%d].patch: lib and map are required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertJournalContains:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: line is required for journal_contains", index)
		}
	case AssertRecordCount:
		if a.Record == "" {
			return fmt.Errorf("assertions[%d]: record is required for record_count", index)
		}
	case AssertFinalState:
		if a.Record == "" {
			return fmt.Errorf("assertions[%d]: record is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
