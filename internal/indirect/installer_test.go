package indirect

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hotpatch/internal/ecs"
	"github.com/roach88/hotpatch/internal/hotfn"
)

type output struct{ Lines []string }

func say(line string) ecs.SystemFunc {
	return func(w *ecs.World) error {
		out := ecs.InitResource[output](w)
		out.Lines = append(out.Lines, line)
		return nil
	}
}

func lines(app *ecs.App) []string {
	out, _ := ecs.Resource[output](app.World())
	if out == nil {
		return nil
	}
	return out.Lines
}

func TestInstall_IdentityStability(t *testing.T) {
	app := ecs.NewApp()
	app.AddSystems(ecs.Update, ecs.Sys(ecs.NewSystem("greet", say("v1"))))

	table := hotfn.NewTable()
	in, err := Install(app, table, NewArena())
	require.NoError(t, err)
	assert.Equal(t, []hotfn.Identity{"Update/greet"}, in.Identities())

	require.NoError(t, app.Update())

	table.Update(map[hotfn.Identity]hotfn.Ptr{"Update/greet": {Symbol: "greet.v2", Fn: say("v2")}})
	require.NoError(t, app.Update())

	table.Update(map[hotfn.Identity]hotfn.Ptr{"Update/greet": {Symbol: "greet.v3", Fn: say("v3")}})
	require.NoError(t, app.Update())

	assert.Equal(t, []string{"v1", "v2", "v3"}, lines(app))
}

func TestInstall_InitialPointerNamesSystem(t *testing.T) {
	app := ecs.NewApp()
	app.AddSystems(ecs.Update, ecs.Sys(ecs.NewSystem("demo.Greet", say("v1"))))

	table := hotfn.NewTable()
	_, err := Install(app, table, NewArena())
	require.NoError(t, err)

	e, ok := table.Entry("Update/demo.Greet")
	require.True(t, ok)
	assert.Equal(t, hotfn.Symbol("demo.Greet"), e.Origin)
	assert.False(t, e.Patched())
	_, isFunc := e.Current.Fn.(ecs.SystemFunc)
	assert.True(t, isFunc)
}

func TestInstall_PreservesGraph(t *testing.T) {
	app := ecs.NewApp()
	app.ConfigureSets(ecs.PreUpdate, "fnptrs", "migrations")
	app.AddSystems(ecs.PreUpdate,
		ecs.Sys(ecs.NewSystem("migrate", say("migrate"))).InSet("migrations"),
		ecs.Sys(ecs.NewSystem("refresh", say("refresh"))).InSet("fnptrs"),
	)
	app.AddSystems(ecs.Update,
		ecs.Sys(ecs.NewSystem("b", say("b"))).RunAfter("a"),
		ecs.Sys(ecs.NewSystem("a", say("a"))),
	)

	before := map[ecs.Label][]ecs.Node{}
	for _, l := range app.Schedules().Labels() {
		s := app.Schedules().Get(l)
		require.NoError(t, s.Initialize(app.World()))
		before[l], _ = s.Systems()
	}

	in, err := Install(app, hotfn.NewTable(), NewArena())
	require.NoError(t, err)

	assert.Equal(t, []ecs.Label{ecs.PreUpdate, ecs.Update}, app.Schedules().Labels())
	for l, want := range before {
		s := app.Schedules().Get(l)
		require.NoError(t, s.Initialize(app.World()))
		got, err := s.Systems()
		require.NoError(t, err)
		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].System.Name(), got[i].System.Name())
			assert.Equal(t, want[i].Set, got[i].Set)
			assert.Equal(t, want[i].After, got[i].After)
			assert.Equal(t, want[i].Before, got[i].Before)
		}
	}
	assert.Equal(t, [][]ecs.SystemSet{{"fnptrs", "migrations"}}, app.Schedules().Get(ecs.PreUpdate).SetChains())

	view := in.View()
	require.NotNil(t, view)
	assert.Equal(t, 4, view.Len())
	slot, ok := view.Lookup("Update/b")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, slot.After)
	assert.Equal(t, [][]ecs.SystemSet{{"fnptrs", "migrations"}}, view.SetChains(ecs.PreUpdate))

	require.NoError(t, app.Update())
	assert.Equal(t, []string{"refresh", "migrate", "a", "b"}, lines(app))
}

func TestInstall_DuplicateNamesGetSuffix(t *testing.T) {
	app := ecs.NewApp()
	app.AddSystems(ecs.Update,
		ecs.Sys(ecs.NewSystem("tick", say("1"))),
		ecs.Sys(ecs.NewSystem("tick", say("2"))),
	)
	app.AddSystems(ecs.Last, ecs.Sys(ecs.NewSystem("tick", say("3"))))

	in, err := Install(app, hotfn.NewTable(), NewArena())
	require.NoError(t, err)
	assert.Equal(t, []hotfn.Identity{"Update/tick", "Update/tick#1", "Last/tick"}, in.Identities())
}

func TestInstall_UnresolvedDependencyIsFatal(t *testing.T) {
	app := ecs.NewApp()
	app.AddSystems(ecs.Update, ecs.Sys(ecs.NewSystem("a", say("a"))).RunAfter("ghost"))
	before := app.Schedules()

	arena := NewArena()
	_, err := Install(app, hotfn.NewTable(), arena)
	require.ErrorIs(t, err, ecs.ErrUnresolvedDependency)
	assert.Same(t, before, app.Schedules(), "schedules untouched")
	assert.Equal(t, 0, arena.Len(), "nothing adopted")
}

func TestInstall_Twice(t *testing.T) {
	app := ecs.NewApp()
	in := NewInstaller(hotfn.NewTable(), NewArena())
	require.NoError(t, in.Install(app))
	assert.ErrorIs(t, in.Install(app), ErrAlreadyInstalled)
}

func TestInstall_SameBodyTwiceRejected(t *testing.T) {
	app := ecs.NewApp()
	shared := ecs.NewSystem("shared", say("x"))
	app.AddSystems(ecs.Update, ecs.Sys(shared))
	app.AddSystems(ecs.Last, ecs.Sys(shared))

	table := hotfn.NewTable()
	arena := NewArena()
	_, err := Install(app, table, arena)
	assert.ErrorIs(t, err, ErrAlreadyOwned)
}

func TestInstall_FailedAdoptionLeavesNothingBehind(t *testing.T) {
	app := ecs.NewApp()
	first := &countingSystem{name: "first"}
	shared := &countingSystem{name: "shared"}
	app.AddSystems(ecs.Update, ecs.Sys(first), ecs.Sys(shared))
	app.AddSystems(ecs.Last, ecs.Sys(shared))

	table := hotfn.NewTable()
	arena := NewArena()
	_, err := Install(app, table, arena)
	require.ErrorIs(t, err, ErrAlreadyOwned)

	assert.Equal(t, 0, arena.Len())
	assert.Equal(t, 0, table.Len())
	assert.False(t, arena.Owns("Update/first"))

	// The original schedules are untouched and still run the bodies directly.
	require.NoError(t, app.Update())
	assert.Equal(t, 1, first.runs)

	require.NoError(t, arena.Close())
	assert.Equal(t, 0, first.releases)
}

func TestInstall_SingleOwnerReleasesOnce(t *testing.T) {
	app := ecs.NewApp()
	body := &countingSystem{name: "counted"}
	app.AddSystems(ecs.Update, ecs.Sys(body))

	table := hotfn.NewTable()
	arena := NewArena()
	in, err := Install(app, table, arena)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, app.Update())
	}
	assert.Equal(t, 3, body.runs)

	// The view records the graph by identity only.
	slot, ok := in.View().Lookup("Update/counted")
	require.True(t, ok)
	assert.Equal(t, "counted", slot.Name)

	// After a patch the original body is no longer invoked but still owned.
	table.Update(map[hotfn.Identity]hotfn.Ptr{"Update/counted": {Symbol: "counted.v2", Fn: say("v2")}})
	require.NoError(t, app.Update())
	assert.Equal(t, 3, body.runs)
	assert.True(t, arena.Owns("Update/counted"))

	require.NoError(t, arena.Close())
	require.NoError(t, arena.Close())
	assert.Equal(t, 1, body.releases)
}

func TestInstall_WrongBodyTypeIsReported(t *testing.T) {
	app := ecs.NewApp()
	app.AddSystems(ecs.Update, ecs.Sys(ecs.NewSystem("a", say("a"))))
	table := hotfn.NewTable()
	_, err := Install(app, table, NewArena())
	require.NoError(t, err)

	table.Update(map[hotfn.Identity]hotfn.Ptr{"Update/a": {Symbol: "bad", Fn: func() {}}})
	sched := app.Schedules().Get(ecs.Update)
	require.NoError(t, sched.Initialize(app.World()))
	nodes, err := sched.Systems()
	require.NoError(t, err)
	assert.ErrorIs(t, nodes[0].System.Run(app.World()), hotfn.ErrUnsafePatch)
}

func TestRefresh_ReportsSwitchesAndReruns(t *testing.T) {
	app := ecs.NewApp()
	app.AddSystems(ecs.Startup, ecs.Sys(ecs.NewSystem("setup", say("setup.v1"))))
	app.AddSystems(ecs.Update, ecs.Sys(ecs.NewSystem("greet", say("greet.v1"))))

	table := hotfn.NewTable()
	in, err := Install(app, table, NewArena(), WithRerun("setup"))
	require.NoError(t, err)
	require.NoError(t, app.Update())
	assert.Empty(t, in.Refresh(app.World()))

	table.Update(map[hotfn.Identity]hotfn.Ptr{
		"Startup/setup": {Symbol: "setup.v2", Fn: say("setup.v2")},
		"Update/greet":  {Symbol: "greet.v2", Fn: say("greet.v2")},
	})
	switched := in.Refresh(app.World())
	assert.Equal(t, []hotfn.Identity{"Startup/setup", "Update/greet"}, switched)
	assert.Empty(t, in.Refresh(app.World()), "a switch is reported once")

	assert.Equal(t, []string{"setup.v1", "greet.v1", "setup.v2"}, lines(app))
}

func TestRefreshSystem_RunsInSchedule(t *testing.T) {
	app := ecs.NewApp()
	table := hotfn.NewTable()
	in := NewInstaller(table, NewArena(), WithRerun("Startup/setup"))
	app.AddSystems(ecs.Startup, ecs.Sys(ecs.NewSystem("setup", say("setup"))))
	app.AddSystems(ecs.PreUpdate, ecs.Sys(in.RefreshSystem()))
	require.NoError(t, in.Install(app))

	require.NoError(t, app.Update())
	table.Update(map[hotfn.Identity]hotfn.Ptr{"Startup/setup": {Symbol: "setup.v2", Fn: say("setup.v2")}})
	require.NoError(t, app.Update())
	require.NoError(t, app.Update())

	assert.Equal(t, []string{"setup", "setup.v2"}, lines(app))
}

type failingInit struct{ *countingSystem }

func (failingInit) Initialize(*ecs.World) error { return errors.New("resource missing") }

func TestInstall_SystemInitFailureIsFatal(t *testing.T) {
	app := ecs.NewApp()
	app.AddSystems(ecs.Update, ecs.Sys(failingInit{&countingSystem{name: "needy"}}))
	_, err := Install(app, hotfn.NewTable(), NewArena())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needy")
}
