// Package demo is a small game used by the CLI, the scenario harness and the
// tests: a player record with two builds, two systems with two builds each,
// and an in-process patch library carrying the second builds.
//
// Build 1 is compiled into the schedule. Build 2 is only reachable through
// the "demo/v2" library, so it goes live only when a jump table points at it.
package demo

import (
	"fmt"

	"github.com/roach88/hotpatch/internal/ecs"
	"github.com/roach88/hotpatch/internal/hotfn"
	"github.com/roach88/hotpatch/internal/migrate"
)

// PlayerKey is the column key shared by every build of the player record.
const PlayerKey = "demo.player"

// LibraryV2 names the in-process library holding build 2.
const LibraryV2 = "demo/v2"

// Symbols of the hot functions.
const (
	SymGreet         hotfn.Symbol = "demo.Greet"
	SymScore         hotfn.Symbol = "demo.Score"
	SymPlayerShape   hotfn.Symbol = "demo.PlayerShape"
	SymGreetV2       hotfn.Symbol = "demo.GreetV2"
	SymScoreV2       hotfn.Symbol = "demo.ScoreV2"
	SymPlayerShapeV2 hotfn.Symbol = "demo.PlayerShapeV2"
	SymSpawn         hotfn.Symbol = "demo.Spawn"
)

// Player is build 1 of the player record.
type Player struct {
	Name  string
	Score int
}

// ComponentKey implements ecs.Keyed.
func (*Player) ComponentKey() string { return PlayerKey }

// PlayerV2 is build 2: Score widens to int64, Level and Title are new.
type PlayerV2 struct {
	Name  string
	Score int64
	Level int    `default:"1"`
	Title string `default:"rookie"`
}

// ComponentKey implements ecs.Keyed.
func (*PlayerV2) ComponentKey() string { return PlayerKey }

// PlayerShape is build 1 of the player shape function.
func PlayerShape() migrate.Shape { return migrate.ShapeOf[Player]() }

// PlayerShapeV2 is build 2 of the player shape function.
func PlayerShapeV2() migrate.Shape { return migrate.ShapeOf[PlayerV2]() }

// Journal records what the systems did, one line per action.
type Journal struct {
	Lines []string
}

func (j *Journal) addf(w *ecs.World, format string, args ...any) {
	j.Lines = append(j.Lines, fmt.Sprintf("tick %d: ", w.Tick())+fmt.Sprintf(format, args...))
}

// Roster is the startup resource naming the players to spawn.
type Roster struct {
	Names []string
}

// Spawn creates one build-1 player per roster name.
func Spawn(w *ecs.World) error {
	r, ok := ecs.Resource[Roster](w)
	if !ok {
		return nil
	}
	j := ecs.InitResource[Journal](w)
	for _, name := range r.Names {
		e := w.Spawn(&Player{Name: name})
		j.addf(w, "spawned %s as %d", name, e)
	}
	return nil
}

// Greet says hello to every build-1 player.
func Greet(w *ecs.World) error {
	j := ecs.InitResource[Journal](w)
	for _, p := range ecs.Query[Player](w) {
		j.addf(w, "hello %s (score %d)", p.Name, p.Score)
	}
	return nil
}

// GreetV2 welcomes every build-2 player.
func GreetV2(w *ecs.World) error {
	j := ecs.InitResource[Journal](w)
	for _, p := range ecs.Query[PlayerV2](w) {
		j.addf(w, "welcome back %s the %s, level %d (score %d)", p.Name, p.Title, p.Level, p.Score)
	}
	return nil
}

// Score adds one point per tick.
func Score(w *ecs.World) error {
	for _, p := range ecs.Query[Player](w) {
		p.Score++
	}
	return nil
}

// ScoreV2 adds ten points per level per tick.
func ScoreV2(w *ecs.World) error {
	for _, p := range ecs.Query[PlayerV2](w) {
		p.Score += 10 * int64(p.Level)
	}
	return nil
}

// Library returns the build-2 library.
func Library() hotfn.StaticLibrary {
	return hotfn.StaticLibrary{
		SymGreetV2:       ecs.SystemFunc(GreetV2),
		SymScoreV2:       ecs.SystemFunc(ScoreV2),
		SymPlayerShapeV2: migrate.ShapeFunc(PlayerShapeV2),
	}
}

// Loader returns a static loader serving Library under LibraryV2.
func Loader() *hotfn.StaticLoader {
	l := hotfn.NewStaticLoader()
	l.Add(LibraryV2, Library())
	return l
}

// PatchV2 is the jump table switching every hot function to build 2.
func PatchV2() hotfn.JumpTable {
	return hotfn.JumpTable{
		Lib: LibraryV2,
		Map: map[hotfn.Symbol]hotfn.Symbol{
			SymGreet:       SymGreetV2,
			SymScore:       SymScoreV2,
			SymPlayerShape: SymPlayerShapeV2,
		},
	}
}

// Registrar opts a record into migration. Implemented by the hotpatch plugin.
type Registrar interface {
	RegisterMigratable(key string, symbol hotfn.Symbol, fn migrate.ShapeFunc) error
}

// Plugin adds the demo systems and, when Hot is set, registers the player
// record for migration.
type Plugin struct {
	Players []string
	Hot     Registrar
}

// Build implements ecs.Plugin.
func (p Plugin) Build(app *ecs.App) {
	w := app.World()
	ecs.InsertResource(w, &Roster{Names: p.Players})
	ecs.InitResource[Journal](w)

	app.AddSystems(ecs.Startup, ecs.Sys(ecs.NewSystem(string(SymSpawn), Spawn)))
	app.AddSystems(ecs.Update,
		ecs.Sys(ecs.NewSystem(string(SymScore), Score)),
		ecs.Sys(ecs.NewSystem(string(SymGreet), Greet)).RunAfter(string(SymScore)),
	)
	if p.Hot != nil {
		if err := p.Hot.RegisterMigratable(PlayerKey, SymPlayerShape, PlayerShape); err != nil {
			panic(fmt.Sprintf("demo: %v", err))
		}
	}
}

// Lines returns a copy of the journal.
func Lines(w *ecs.World) []string {
	j, ok := ecs.Resource[Journal](w)
	if !ok {
		return nil
	}
	return append([]string(nil), j.Lines...)
}
