package harness

import (
	"fmt"

	"github.com/roach88/hotpatch/internal/ir"
)

// Trace event kinds.
const (
	EventJournal = "journal"
	EventPatch   = "patch"
	EventMigrate = "migrate"
	EventPatched = "patched"
	EventIgnored = "ignored"
	EventDropped = "dropped"
)

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	Kind   string         `json:"kind"`
	Seq    int64          `json:"seq"`
	Tick   uint64         `json:"tick"`
	Fields map[string]any `json:"fields,omitempty"` // string, int64, bool or []string
}

// canonical renders the event as an ir.Object with Fields flattened in.
func (e TraceEvent) canonical() (ir.Object, error) {
	obj := ir.Object{
		"kind": ir.String(e.Kind),
		"seq":  ir.Int(e.Seq),
		"tick": ir.Int(int64(e.Tick)),
	}
	for k, v := range e.Fields {
		if _, ok := obj[k]; ok {
			return nil, fmt.Errorf("event field %q shadows a reserved key", k)
		}
		val, err := toValue(v)
		if err != nil {
			return nil, fmt.Errorf("event field %q: %w", k, err)
		}
		obj[k] = val
	}
	return obj, nil
}

func toValue(v any) (ir.Value, error) {
	switch val := v.(type) {
	case string:
		return ir.String(val), nil
	case int:
		return ir.Int(int64(val)), nil
	case int64:
		return ir.Int(val), nil
	case bool:
		return ir.Bool(val), nil
	case []string:
		arr := make(ir.Array, len(val))
		for i, s := range val {
			arr[i] = ir.String(s)
		}
		return arr, nil
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds every event in the order it happened.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`

	// Ticks is the number of ticks run.
	Ticks uint64 `json:"ticks"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed assertion.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Events returns the events of the given kind.
func (r *Result) Events(kind string) []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Journal returns the journal lines in order.
func (r *Result) Journal() []string {
	var out []string
	for _, e := range r.Events(EventJournal) {
		out = append(out, e.Fields["line"].(string))
	}
	return out
}
