//go:build !nohotpatch

package hotpatch

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hotpatch/internal/demo"
	"github.com/roach88/hotpatch/internal/devserver"
	"github.com/roach88/hotpatch/internal/ecs"
	"github.com/roach88/hotpatch/internal/hotfn"
	"github.com/roach88/hotpatch/internal/migrate"
	"github.com/roach88/hotpatch/internal/patch"
)

type recorder struct {
	mu       sync.Mutex
	outcomes []patch.Outcome
	reports  []migrate.Report
}

func (r *recorder) PatchHandled(o patch.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recorder) RecordsMigrated(rep migrate.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func newDemo(t *testing.T, opts ...Option) (*ecs.App, *Plugin) {
	t.Helper()
	opts = append([]Option{
		WithLoader(demo.Loader()),
		WithIDGenerator(patch.NewFixedGenerator("patch")),
	}, opts...)
	hp := New(opts...)
	app := ecs.NewApp()
	app.AddPlugins(hp, demo.Plugin{Players: []string{"ada", "linus"}, Hot: hp})
	t.Cleanup(func() { app.Close() })
	return app, hp
}

func tick(t *testing.T, app *ecs.App, n int) {
	t.Helper()
	for range n {
		require.NoError(t, app.Update())
	}
}

func TestPlugin_PatchSwitchesSystemsAndMigratesRecords(t *testing.T) {
	rec := &recorder{}
	app, hp := newDemo(t, WithObserver(rec))
	tick(t, app, 2)

	out, ok := hp.Apply(demo.PatchV2())
	require.True(t, ok)
	require.Equal(t, patch.StatusApplied, out.Status)
	assert.Equal(t, "patch-1", out.ID)
	assert.Equal(t, []hotfn.Identity{"Update/demo.Greet", "Update/demo.Score", "shape/demo.player"}, out.Switched)

	tick(t, app, 1)

	lines := demo.Lines(app.World())
	assert.Equal(t, []string{
		"tick 1: spawned ada as 1",
		"tick 1: spawned linus as 2",
		"tick 1: hello ada (score 1)",
		"tick 1: hello linus (score 1)",
		"tick 2: hello ada (score 2)",
		"tick 2: hello linus (score 2)",
		"tick 3: welcome back ada the rookie, level 1 (score 12)",
		"tick 3: welcome back linus the rookie, level 1 (score 12)",
	}, lines)

	for _, e := range app.World().Entities(demo.PlayerKey) {
		p, ok := ecs.GetAs[demo.PlayerV2](app.World(), e)
		require.True(t, ok)
		assert.Equal(t, 1, p.Level)
	}

	require.Len(t, rec.reports, 1)
	assert.Equal(t, demo.PlayerKey, rec.reports[0].Key)
	assert.Equal(t, uint64(3), rec.reports[0].Tick)
	assert.Equal(t, 2, rec.reports[0].Migrated)
	assert.Zero(t, rec.reports[0].Defaulted)
	require.Len(t, rec.outcomes, 1)
}

func TestPlugin_PatchedEventOncePerSignal(t *testing.T) {
	app, hp := newDemo(t)
	tick(t, app, 1)

	_, ok := hp.Apply(demo.PatchV2())
	require.True(t, ok)
	assert.True(t, hp.Notifier().Pending())

	tick(t, app, 1)
	assert.False(t, hp.Notifier().Pending())
	assert.Len(t, ecs.ReadEvents[patch.Patched](app.World()), 1)

	tick(t, app, 2)
	assert.Empty(t, ecs.ReadEvents[patch.Patched](app.World()))
}

func TestPlugin_SetOrderInPreUpdate(t *testing.T) {
	app, hp := newDemo(t)
	tick(t, app, 1)

	nodes, err := app.Schedules().Get(ecs.PreUpdate).Systems()
	require.NoError(t, err)
	var names []string
	for _, n := range nodes {
		names = append(names, n.System.Name())
	}
	assert.Equal(t, []string{"indirect.RefreshFunctionPtrs", migrate.SystemName}, names)

	last, err := app.Schedules().Get(ecs.Last).Systems()
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, patch.DrainSystemName, last[0].System.Name())

	assert.True(t, hp.Installer().Installed())
	assert.Contains(t, hp.Installer().Identities(), hotfn.Identity("Update/demo.Greet"))
}

func TestPlugin_IgnoresMessagesThatAreNotPatches(t *testing.T) {
	app, hp := newDemo(t)
	tick(t, app, 1)

	_, ok := hp.HandleMessage(devserver.Message{Type: devserver.TypeHotPatchStart})
	assert.False(t, ok)
	assert.False(t, hp.Notifier().Pending())

	tick(t, app, 1)
	assert.Equal(t, "tick 2: hello linus (score 2)", demo.Lines(app.World())[5])
}

func TestPlugin_RejectedPatchLeavesBuildOne(t *testing.T) {
	app, hp := newDemo(t)
	tick(t, app, 1)

	jt := demo.PatchV2()
	jt.Map[demo.SymGreet] = "demo.Missing"
	out, ok := hp.Apply(jt)
	require.True(t, ok)
	assert.Equal(t, patch.StatusRejected, out.Status)
	assert.ErrorIs(t, out.Err, hotfn.ErrUnknownSymbol)

	tick(t, app, 1)
	lines := demo.Lines(app.World())
	assert.Equal(t, "tick 2: hello ada (score 2)", lines[4])
	d, ok := hp.Engine().Descriptor(demo.PlayerKey)
	require.True(t, ok)
	assert.Equal(t, "demo.Player", d.Layout.Type.String())
}

func TestPlugin_DuplicateRegistrationFailsFinish(t *testing.T) {
	hp := New(WithLoader(demo.Loader()))
	app := ecs.NewApp()
	app.AddPlugins(hp)
	require.NoError(t, hp.RegisterMigratable(demo.PlayerKey, demo.SymPlayerShape, demo.PlayerShape))

	err := hp.RegisterMigratable(demo.PlayerKey, demo.SymPlayerShape, demo.PlayerShape)
	require.ErrorIs(t, err, migrate.ErrDuplicateRecord)
	assert.ErrorIs(t, app.Finish(), migrate.ErrDuplicateRecord)
}

func TestPlugin_RerunStartupSystem(t *testing.T) {
	spawnV2 := ecs.SystemFunc(func(w *ecs.World) error {
		w.Spawn(&demo.Player{Name: "grace"})
		return nil
	})
	loader := demo.Loader()
	loader.Add("spawn/v2", hotfn.StaticLibrary{"demo.SpawnV2": spawnV2})

	app, hp := newDemo(t, WithLoader(loader), WithRerun(string(demo.SymSpawn)))
	tick(t, app, 1)
	require.Equal(t, 2, app.World().Count(demo.PlayerKey))

	out, ok := hp.Apply(hotfn.JumpTable{
		Lib: "spawn/v2",
		Map: map[hotfn.Symbol]hotfn.Symbol{demo.SymSpawn: "demo.SpawnV2"},
	})
	require.True(t, ok)
	require.NoError(t, out.Err)
	assert.Equal(t, []hotfn.Identity{"Startup/demo.Spawn"}, out.Switched)

	tick(t, app, 1)
	assert.Equal(t, 3, app.World().Count(demo.PlayerKey))
	assert.Contains(t, demo.Lines(app.World()), "tick 2: hello grace (score 1)")

	tick(t, app, 1)
	assert.Equal(t, 3, app.World().Count(demo.PlayerKey))
}

func TestPlugin_CloseJoinsCloserErrors(t *testing.T) {
	boom := errors.New("boom")
	hp := New(WithCloser(closerFunc(func() error { return boom })))
	assert.ErrorIs(t, hp.Close(), boom)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
