package patch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hotpatch/internal/devserver"
	"github.com/roach88/hotpatch/internal/ecs"
	"github.com/roach88/hotpatch/internal/hotfn"
)

type greetFunc func() string

func greetV1() string { return "v1" }

type fixture struct {
	table    *hotfn.Table
	notifier *Notifier
	outcomes []Outcome
	mu       sync.Mutex
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{table: hotfn.NewTable()}
	f.table.Register("Update/greet", hotfn.Ptr{Symbol: "greet.v1", Fn: greetFunc(greetV1)})

	loader := hotfn.NewStaticLoader()
	loader.Add("lib/v2", hotfn.StaticLibrary{
		"greet.v2": func() string { return "v2" },
		"greet.v3": func() string { return "v3" },
		"bad":      func(int) string { return "bad" },
	})

	opts = append([]Option{
		WithIDGenerator(NewFixedGenerator("patch")),
		WithObserver(ObserverFunc(func(o Outcome) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.outcomes = append(f.outcomes, o)
		})),
	}, opts...)
	f.notifier = New(hotfn.NewPatcher(f.table, loader), opts...)
	return f
}

func hotReload(to hotfn.Symbol) devserver.Message {
	return devserver.HotReload(hotfn.JumpTable{
		Lib: "lib/v2",
		Map: map[hotfn.Symbol]hotfn.Symbol{"greet.v1": to},
	})
}

func current(t *testing.T, tbl *hotfn.Table) string {
	t.Helper()
	fn, err := hotfn.Current[greetFunc](tbl, "Update/greet")
	require.NoError(t, err)
	return fn()
}

func newApp(n *Notifier) *ecs.App {
	app := ecs.NewApp()
	ecs.AddEvent[Patched](app)
	app.AddSystems(ecs.Last, ecs.Sys(n.DrainSystem()))
	return app
}

func TestDeliver_AppliesBeforeSignal(t *testing.T) {
	f := newFixture(t)

	out, handled := f.notifier.Deliver(hotReload("greet.v2"))
	require.True(t, handled)
	assert.Equal(t, StatusApplied, out.Status)
	assert.Equal(t, uint64(1), out.Seq)
	assert.Equal(t, "patch-1", out.ID)
	assert.Equal(t, []hotfn.Identity{"Update/greet"}, out.Switched)
	assert.NotEmpty(t, out.Fingerprint)

	assert.Equal(t, "v2", current(t, f.table), "table updated synchronously")
	assert.True(t, f.notifier.Pending())
	assert.Len(t, f.outcomes, 1)
}

func TestDrain_AtMostOnePatchedPerTick(t *testing.T) {
	f := newFixture(t)
	app := newApp(f.notifier)

	f.notifier.Handle(hotReload("greet.v2"))
	f.notifier.Handle(hotReload("greet.v3"))
	f.notifier.Handle(hotReload("greet.v2"))

	require.NoError(t, app.Update())
	events := ecs.ReadEvents[Patched](app.World())
	assert.Len(t, events, 1)
	assert.False(t, f.notifier.Pending())
	assert.Equal(t, "v2", current(t, f.table), "every patch still applied")

	require.NoError(t, app.Update())
	ev, _ := ecs.Resource[ecs.Events[Patched]](app.World())
	assert.Equal(t, 0, ev.Current(), "no new event without a new patch")
	assert.Equal(t, uint64(1), ev.Total())
}

func TestDeliver_IgnoredMessages(t *testing.T) {
	f := newFixture(t, WithPID(100))
	other := 7
	addressed := hotReload("greet.v2")
	addressed.ForPID = &other

	for _, msg := range []devserver.Message{
		{Type: devserver.TypeShutdown},
		{Type: devserver.TypeHotReload},
		devserver.HotReload(hotfn.JumpTable{Lib: "lib/v2"}),
		addressed,
	} {
		_, handled := f.notifier.Deliver(msg)
		assert.False(t, handled)
	}
	assert.False(t, f.notifier.Pending())
	assert.Empty(t, f.outcomes)
	assert.Equal(t, "v1", current(t, f.table))
}

func TestDeliver_ForOwnPID(t *testing.T) {
	f := newFixture(t, WithPID(100))
	own := 100
	msg := hotReload("greet.v2")
	msg.ForPID = &own

	_, handled := f.notifier.Deliver(msg)
	assert.True(t, handled)
	assert.Equal(t, "v2", current(t, f.table))
}

func TestDeliver_RejectedPatchNotSignalled(t *testing.T) {
	f := newFixture(t)

	out, handled := f.notifier.Deliver(hotReload("bad"))
	require.True(t, handled)
	assert.Equal(t, StatusRejected, out.Status)
	assert.ErrorIs(t, out.Err, hotfn.ErrUnsafePatch)
	assert.False(t, f.notifier.Pending())
	assert.Equal(t, "v1", current(t, f.table))

	out, _ = f.notifier.Deliver(hotReload("missing"))
	assert.ErrorIs(t, out.Err, hotfn.ErrUnknownSymbol)
	assert.Equal(t, uint64(2), out.Seq)
}

func TestDeliver_StrictPanicsOnUnsafe(t *testing.T) {
	f := newFixture(t, WithStrict(true))

	assert.Panics(t, func() { f.notifier.Deliver(hotReload("bad")) })
	require.Len(t, f.outcomes, 1, "observers told before the panic")
	assert.Equal(t, "v1", current(t, f.table))

	assert.NotPanics(t, func() { f.notifier.Deliver(hotReload("missing")) }, "only unsafe patches abort")
}

func TestDeliver_Concurrent(t *testing.T) {
	f := newFixture(t)
	app := newApp(f.notifier)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := hotfn.Symbol("greet.v2")
			if i%2 == 1 {
				to = "greet.v3"
			}
			f.notifier.Handle(hotReload(to))
		}(i)
	}
	wg.Wait()

	require.NoError(t, app.Update())
	assert.Len(t, ecs.ReadEvents[Patched](app.World()), 1)
	assert.Len(t, f.outcomes, 16)

	seen := map[uint64]bool{}
	for _, o := range f.outcomes {
		seen[o.Seq] = true
	}
	assert.Len(t, seen, 16, "sequence numbers are unique")
}

func TestDrain_HookAndUnregisteredEvent(t *testing.T) {
	var ticks []uint64
	f := newFixture(t, WithDrainHook(func(tick uint64) { ticks = append(ticks, tick) }))
	app := newApp(f.notifier)

	require.NoError(t, app.Update())
	f.notifier.Handle(hotReload("greet.v2"))
	require.NoError(t, app.Update())
	assert.Equal(t, []uint64{2}, ticks)

	bare := ecs.NewWorld()
	f.notifier.Handle(hotReload("greet.v3"))
	assert.False(t, f.notifier.Drain(bare))
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("p", "a")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "p-2", g.Generate())
}

func TestUUIDv7Generator(t *testing.T) {
	a := UUIDv7Generator{}.Generate()
	b := UUIDv7Generator{}.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
