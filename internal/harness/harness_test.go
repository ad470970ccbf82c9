package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../../testdata/scenarios"

func loadScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join(scenarioDir, name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenarios_Golden(t *testing.T) {
	for _, name := range []string{"patch_to_v2", "rejected_patch", "unsafe_patch", "devserver_frames"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s := loadScenario(t, "patch_to_v2")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := MarshalTrace(s.Name, first.Trace)
	require.NoError(t, err)
	b, err := MarshalTrace(s.Name, second.Trace)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, uint64(4), first.Ticks)
}

func TestRun_FailedAssertionsAreReported(t *testing.T) {
	s := loadScenario(t, "patch_to_v2")
	s.Assertions = []Assertion{
		{Type: AssertTraceCount, Event: EventPatched, Count: 2},
		{Type: AssertJournalContains, Line: "tick 9: nothing"},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "Assertion failed: trace_count")
	assert.Contains(t, result.Errors[1], "journal_contains")
}

func TestRun_StrictUnsafePatchFailsRun(t *testing.T) {
	s := loadScenario(t, "unsafe_patch")
	s.Strict = true

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1: panic")
}

func TestRun_RerunWithoutSwitchLeavesStartupAlone(t *testing.T) {
	s := loadScenario(t, "patch_to_v2")
	s.Rerun = []string{"demo.Spawn"}
	s.Assertions = []Assertion{{Type: AssertRecordCount, Record: "demo.player", Count: 2}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestResult_Journal(t *testing.T) {
	result, err := Run(loadScenario(t, "rejected_patch"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"tick 1: spawned ada as 1",
		"tick 1: hello ada (score 1)",
		"tick 2: hello ada (score 2)",
	}, result.Journal())
	require.Len(t, result.Events(EventPatch), 1)
	assert.Equal(t, "rejected", result.Events(EventPatch)[0].Fields["status"])
}

func TestFindScenarios(t *testing.T) {
	paths, err := FindScenarios(scenarioDir)
	require.NoError(t, err)
	assert.Len(t, paths, 4)
	assert.Equal(t, "devserver_frames.yaml", filepath.Base(paths[0]))

	_, err = FindScenarios(filepath.Join(scenarioDir, "missing.yaml"))
	var nf *ScenarioNotFoundError
	assert.ErrorAs(t, err, &nf)
}
