package ecs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recorder(log *[]string, name string) System {
	return NewSystem(name, func(*World) error {
		*log = append(*log, name)
		return nil
	})
}

func names(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.System.Name()
	}
	return out
}

func TestSchedule_InsertionOrderWhenUnconstrained(t *testing.T) {
	var log []string
	s := NewSchedule(Update)
	s.Add(Sys(recorder(&log, "a")), Sys(recorder(&log, "b")), Sys(recorder(&log, "c")))

	require.NoError(t, s.Run(NewWorld()))
	assert.Equal(t, []string{"a", "b", "c"}, log)
}

func TestSchedule_AfterBefore(t *testing.T) {
	var log []string
	s := NewSchedule(Update)
	s.Add(
		Sys(recorder(&log, "a")).RunAfter("c"),
		Sys(recorder(&log, "b")),
		Sys(recorder(&log, "c")).RunAfter("b"),
		Sys(recorder(&log, "d")).RunBefore("b"),
	)
	require.NoError(t, s.Initialize(NewWorld()))

	nodes, err := s.Systems()
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "b", "c", "a"}, names(nodes))
}

func TestSchedule_SetChain(t *testing.T) {
	var log []string
	s := NewSchedule(PreUpdate)
	s.ConfigureSets("fnptrs", "migrations")
	s.Add(
		Sys(recorder(&log, "migrate")).InSet("migrations"),
		Sys(recorder(&log, "refresh")).InSet("fnptrs"),
		Sys(recorder(&log, "user")).RunAfter("migrations"),
	)

	require.NoError(t, s.Run(NewWorld()))
	assert.Equal(t, []string{"refresh", "migrate", "user"}, log)
}

func TestSchedule_EmptyConfiguredSetResolves(t *testing.T) {
	var log []string
	s := NewSchedule(Update)
	s.ConfigureSets("empty")
	s.Add(Sys(recorder(&log, "a")).RunAfter("empty"))
	assert.NoError(t, s.Initialize(NewWorld()))
}

func TestSchedule_UnresolvedDependency(t *testing.T) {
	var log []string
	s := NewSchedule(Update)
	s.Add(Sys(recorder(&log, "a")).RunAfter("ghost"))

	err := s.Initialize(NewWorld())
	require.ErrorIs(t, err, ErrUnresolvedDependency)

	var se *ScheduleError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, Update, se.Label)
	assert.Equal(t, "a", se.System)
}

func TestSchedule_Cycle(t *testing.T) {
	var log []string
	s := NewSchedule(Update)
	s.Add(Sys(recorder(&log, "a")).RunAfter("b"), Sys(recorder(&log, "b")).RunAfter("a"))
	assert.ErrorIs(t, s.Initialize(NewWorld()), ErrCycle)
}

func TestSchedule_SystemsRequiresInitialize(t *testing.T) {
	s := NewSchedule(Update)
	s.Add(Sys(NewSystem("a", func(*World) error { return nil })))
	_, err := s.Systems()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

type failingInit struct{ System }

func (failingInit) Initialize(*World) error { return errors.New("missing resource") }

func TestSchedule_InitializeFailure(t *testing.T) {
	s := NewSchedule(Startup)
	s.Add(Sys(failingInit{NewSystem("needs", func(*World) error { return nil })}))
	err := s.Initialize(NewWorld())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs")
}

func TestSchedule_FailingSystemDoesNotStopOthers(t *testing.T) {
	var log []string
	s := NewSchedule(Update)
	s.Add(
		Sys(NewSystem("boom", func(*World) error { return errors.New("boom") })),
		Sys(recorder(&log, "after")),
	)
	require.NoError(t, s.Run(NewWorld()))
	assert.Equal(t, []string{"after"}, log)
}

func TestSchedules_InsertKeepsOrder(t *testing.T) {
	ss := NewSchedules()
	ss.Entry(Update)
	ss.Entry(PreUpdate)
	ss.Insert(NewSchedule(Update))
	assert.Equal(t, []Label{Update, PreUpdate}, ss.Labels())
	assert.Equal(t, 2, ss.Len())
	assert.Nil(t, ss.Get(Last))
}

func TestFunc_NamesAfterSymbol(t *testing.T) {
	s := Func(func(*World) error { return nil })
	assert.Contains(t, s.Name(), "ecs.TestFunc_NamesAfterSymbol")
}
