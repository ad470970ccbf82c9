package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hotpatch/internal/demo"
	"github.com/roach88/hotpatch/internal/ecs"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Kind: EventJournal, Seq: 1, Tick: 1, Fields: map[string]any{"line": "tick 1: hello ada (score 1)"}},
		{Kind: EventPatch, Seq: 2, Tick: 1, Fields: map[string]any{"status": "applied", "switched": []string{"a", "b"}}},
		{Kind: EventMigrate, Seq: 3, Tick: 2, Fields: map[string]any{"record": "demo.player", "migrated": 2}},
		{Kind: EventPatched, Seq: 4, Tick: 2},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()
	assert.NoError(t, assertTraceContains(trace, Assertion{Event: EventPatch, Fields: map[string]any{"switched": []any{"a", "b"}}}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Event: EventMigrate, Fields: map[string]any{"migrated": 2}}))

	err := assertTraceContains(trace, Assertion{Event: EventPatch, Fields: map[string]any{"status": "rejected"}})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Error(), "Full trace:")
	assert.Contains(t, ae.Error(), "[2] tick 1 patch status=applied switched=[a b]")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()
	assert.NoError(t, assertTraceOrder(trace, Assertion{Events: []string{EventPatch, EventMigrate, EventPatched}}))
	assert.ErrorContains(t, assertTraceOrder(trace, Assertion{Events: []string{EventPatched, EventPatch}}), "should be before")
	assert.ErrorContains(t, assertTraceOrder(trace, Assertion{Events: []string{EventDropped}}), "missing event: dropped")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()
	assert.NoError(t, assertTraceCount(trace, Assertion{Event: EventPatched, Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Event: EventIgnored, Count: 0}))
	assert.ErrorContains(t, assertTraceCount(trace, Assertion{Event: EventPatch, Count: 2}), "1 events")
}

func TestAssertFinalState(t *testing.T) {
	w := ecs.NewWorld()
	w.Spawn(&demo.PlayerV2{Name: "ada", Score: 12, Level: 1, Title: "rookie"})
	w.Spawn(&demo.PlayerV2{Name: "linus", Score: 7, Level: 2})

	ok := Assertion{Record: demo.PlayerKey, Where: map[string]any{"Name": "ada"}, Expect: map[string]any{"type": "demo.PlayerV2", "Score": 12}}
	assert.NoError(t, assertFinalState(w, ok))

	ambiguous := Assertion{Record: demo.PlayerKey, Expect: map[string]any{"Score": 12}}
	assert.ErrorContains(t, assertFinalState(w, ambiguous), "ambiguous")

	missing := Assertion{Record: demo.PlayerKey, Where: map[string]any{"Name": "grace"}, Expect: map[string]any{"Score": 1}}
	assert.ErrorContains(t, assertFinalState(w, missing), "instance not found")

	wrong := Assertion{Record: demo.PlayerKey, Where: map[string]any{"Name": "linus"}, Expect: map[string]any{"Level": 3}}
	assert.ErrorContains(t, assertFinalState(w, wrong), `field "Level" = 2`)

	noField := Assertion{Record: demo.PlayerKey, Where: map[string]any{"Name": "linus"}, Expect: map[string]any{"Rank": 3}}
	assert.ErrorContains(t, assertFinalState(w, noField), `field "Rank" to exist`)
}

func TestAssertRecordCount(t *testing.T) {
	w := ecs.NewWorld()
	w.Spawn(&demo.Player{Name: "ada"})
	assert.NoError(t, assertRecordCount(w, Assertion{Record: demo.PlayerKey, Count: 1}))
	assert.Error(t, assertRecordCount(w, Assertion{Record: demo.PlayerKey, Count: 2}))
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: "vibes"}}, ecs.NewWorld())
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "vibes"`)
}

func TestMarshalTrace(t *testing.T) {
	data, err := MarshalTrace("sample", sampleTrace()[1:2])
	require.NoError(t, err)
	assert.Equal(t,
		`{"events":1,"scenario_name":"sample"}`+"\n"+
			`{"kind":"patch","seq":2,"status":"applied","switched":["a","b"],"tick":1}`+"\n",
		string(data))

	_, err = MarshalTrace("bad", []TraceEvent{{Kind: EventPatch, Fields: map[string]any{"seq": "x"}}})
	assert.ErrorContains(t, err, "reserved key")
}
