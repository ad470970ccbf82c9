package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/hotpatch/internal/ecs"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent // included for trace assertions
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] tick %d %s %s\n", ev.Seq, ev.Tick, ev.Kind, formatFields(ev.Fields))
		}
	}
	return buf.String()
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Kind == a.Event && matchFields(ev.Fields, a.Fields) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s event with %s", a.Event, formatFields(a.Fields)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrence of each kind appears
// in the given order. Other events may sit in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if _, seen := positions[ev.Kind]; !seen {
			positions[ev.Kind] = i + 1
		}
	}

	for _, kind := range a.Events {
		if positions[kind] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", a.Events),
				Actual:   fmt.Sprintf("missing event: %s", kind),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Events); i++ {
		prev, curr := a.Events[i-1], a.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Kind == a.Event && matchFields(ev.Fields, a.Fields) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s events with %s", a.Count, a.Event, formatFields(a.Fields)),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertJournalContains(result *Result, a Assertion) error {
	journal := result.Journal()
	for _, line := range journal {
		if line == a.Line {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertJournalContains,
		Expected: fmt.Sprintf("journal line %q", a.Line),
		Actual:   fmt.Sprintf("not among %d lines:\n    %s", len(journal), strings.Join(journal, "\n    ")),
	}
}

func assertRecordCount(w *ecs.World, a Assertion) error {
	if n := w.Count(a.Record); n != a.Count {
		return &AssertionError{
			Type:     AssertRecordCount,
			Expected: fmt.Sprintf("%d %s instances", a.Count, a.Record),
			Actual:   fmt.Sprintf("%d instances", n),
		}
	}
	return nil
}

// assertFinalState selects exactly one instance of a.Record by a.Where and
// checks a.Expect against it. The key "type" compares the Go type name.
func assertFinalState(w *ecs.World, a Assertion) error {
	var matched []any
	for _, e := range w.Entities(a.Record) {
		v, _ := w.Get(e, a.Record)
		fields, ok := instanceFields(v)
		if !ok {
			continue
		}
		if matchFields(fields, a.Where) {
			matched = append(matched, v)
		}
	}

	switch len(matched) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s instance where %s", a.Record, formatFields(a.Where)),
			Actual:   "instance not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one %s instance where %s", a.Record, formatFields(a.Where)),
			Actual:   fmt.Sprintf("%d instances matched (assertion is ambiguous)", len(matched)),
		}
	}

	actual, _ := instanceFields(matched[0])
	for _, key := range sortedKeys(a.Expect) {
		want := a.Expect[key]
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("%s has fields %v", actual["type"], sortedKeys(actual)),
			}
		}
		if !valuesEqual(got, want) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v", key, want),
				Actual:   fmt.Sprintf("field %q = %v", key, got),
			}
		}
	}
	return nil
}

// instanceFields flattens the exported fields of a struct instance and adds
// its type name under "type".
func instanceFields(v any) (map[string]any, bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	out := map[string]any{"type": rv.Type().String()}
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Type().Field(i)
		if f.IsExported() {
			out[f.Name] = rv.Field(i).Interface()
		}
	}
	return out, true
}

// matchFields reports whether actual contains every expected key with an
// equal value. Extra keys in actual are ignored.
func matchFields(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares values by their printed form so YAML ints match
// int64 fields and YAML lists match string slices.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "(no fields)"
	}
	parts := make([]string, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvaluateAssertions checks every assertion against the result and the
// final world. Returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, w *ecs.World) []string {
	var errors []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertJournalContains:
			err = assertJournalContains(result, a)
		case AssertRecordCount:
			err = assertRecordCount(w, a)
		case AssertFinalState:
			err = assertFinalState(w, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
