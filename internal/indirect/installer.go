package indirect

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/hotpatch/internal/ecs"
	"github.com/roach88/hotpatch/internal/hotfn"
)

// RefreshSystemName is the name of the per-tick refresh step.
const RefreshSystemName = "indirect.RefreshFunctionPtrs"

// Option configures an Installer.
type Option func(*Installer)

// WithRerun re-runs the named systems (or identities) once, in the refresh
// step, on the tick after their body was switched by a patch. Intended for
// Startup systems whose effect should be rebuilt with the new code.
func WithRerun(names ...string) Option {
	return func(in *Installer) {
		for _, n := range names {
			in.rerun[n] = true
		}
	}
}

// Installer rewrites an App's schedules to run through a function table.
//
// Thread-safety model: none. Install and the refresh step run on the tick
// goroutine.
type Installer struct {
	table *hotfn.Table
	arena *Arena
	rerun map[string]bool

	installed bool
	view      *View
	wrapped   []*wrapped
	seen      map[hotfn.Identity]uint64
}

// NewInstaller creates an installer registering into table and moving
// bodies into arena.
func NewInstaller(table *hotfn.Table, arena *Arena, opts ...Option) *Installer {
	in := &Installer{
		table: table,
		arena: arena,
		rerun: make(map[string]bool),
		seen:  make(map[hotfn.Identity]uint64),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Install is shorthand for NewInstaller(table, arena, opts...).Install(app).
func Install(app *ecs.App, table *hotfn.Table, arena *Arena, opts ...Option) (*Installer, error) {
	in := NewInstaller(table, arena, opts...)
	if err := in.Install(app); err != nil {
		return nil, err
	}
	return in, nil
}

// Install replaces app's schedule collection with one where every system
// resolves its body through the table. Must run after all registration and
// before the first tick.
//
// Every schedule is initialized first and every body is adopted in one
// batch; any failure (unresolved dependency, cycle, system init error, body
// already owned) is returned before anything is adopted, registered or
// swapped and must be treated as fatal.
func (in *Installer) Install(app *ecs.App) error {
	if in.installed {
		return ErrAlreadyInstalled
	}

	w := app.World()
	prev := app.Schedules()
	for _, label := range prev.Labels() {
		if err := prev.Get(label).Initialize(w); err != nil {
			return fmt.Errorf("install indirection: %w", err)
		}
	}

	var batch []adoption
	for _, label := range prev.Labels() {
		dup := make(map[string]int)
		for _, node := range prev.Get(label).Nodes() {
			batch = append(batch, adoption{id: identityFor(label, node.System.Name(), dup), sys: node.System})
		}
	}
	if len(batch) > 0 {
		if err := in.arena.adoptAll(batch); err != nil {
			return fmt.Errorf("install indirection: %w", err)
		}
	}

	next := ecs.NewSchedules()
	view := newView()
	for _, label := range prev.Labels() {
		old := prev.Get(label)
		repl := ecs.NewSchedule(label)
		chains := old.SetChains()
		for _, chain := range chains {
			repl.ConfigureSets(chain...)
		}

		dup := make(map[string]int)
		var slots []Slot
		for _, node := range old.Nodes() {
			name := node.System.Name()
			id := identityFor(label, name, dup)
			in.table.Register(id, hotfn.Ptr{Symbol: hotfn.Symbol(name), Fn: in.arena.Body(id)})
			if e, ok := in.table.Entry(id); ok {
				in.seen[id] = e.Generation
			}

			ws := &wrapped{id: id, name: name, table: in.table, arena: in.arena}
			in.wrapped = append(in.wrapped, ws)

			node.System = ws
			repl.Add(node)
			slots = append(slots, Slot{
				Identity: id,
				Label:    label,
				Name:     name,
				Set:      node.Set,
				After:    slices.Clone(node.After),
				Before:   slices.Clone(node.Before),
			})
		}
		next.Insert(repl)
		view.add(label, chains, slots)
	}

	app.SetSchedules(next)
	in.view = view
	in.installed = true
	slog.Info("indirection installed", "schedules", next.Len(), "systems", len(in.wrapped))
	return nil
}

// identityFor derives "<label>/<name>", suffixing "#n" for the n-th
// duplicate name inside one schedule.
func identityFor(label ecs.Label, name string, dup map[string]int) hotfn.Identity {
	n := dup[name]
	dup[name] = n + 1
	if n == 0 {
		return hotfn.Identity(fmt.Sprintf("%s/%s", label, name))
	}
	return hotfn.Identity(fmt.Sprintf("%s/%s#%d", label, name, n))
}

// Installed reports whether Install has completed.
func (in *Installer) Installed() bool {
	return in.installed
}

// View returns the pre-install schedule graph, or nil before Install.
func (in *Installer) View() *View {
	return in.view
}

// Identities returns every wrapped identity in install order.
func (in *Installer) Identities() []hotfn.Identity {
	out := make([]hotfn.Identity, len(in.wrapped))
	for i, ws := range in.wrapped {
		out[i] = ws.id
	}
	return out
}

// Refresh observes identities whose body switched since the previous call,
// logs each switch and re-runs opted-in systems. Returns the switched
// identities in install order.
func (in *Installer) Refresh(w *ecs.World) []hotfn.Identity {
	var switched []hotfn.Identity
	for _, ws := range in.wrapped {
		e, ok := in.table.Entry(ws.id)
		if !ok || e.Generation == in.seen[ws.id] {
			continue
		}
		in.seen[ws.id] = e.Generation
		switched = append(switched, ws.id)
		slog.Info("system body switched",
			"identity", ws.id,
			"from", e.Last.Symbol,
			"to", e.Current.Symbol,
			"tick", w.Tick(),
		)

		if in.rerun[ws.name] || in.rerun[string(ws.id)] {
			if err := ws.Run(w); err != nil {
				slog.Error("rerun after patch failed", "identity", ws.id, "error", err)
			}
		}
	}
	return switched
}

// RefreshSystem returns the refresh step as a system.
func (in *Installer) RefreshSystem() ecs.System {
	return ecs.NewSystem(RefreshSystemName, func(w *ecs.World) error {
		in.Refresh(w)
		return nil
	})
}

// wrapped is the system installed in place of an adopted body: resolve the
// identity, invoke whatever body is current.
type wrapped struct {
	id    hotfn.Identity
	name  string
	table *hotfn.Table
	arena *Arena
}

func (s *wrapped) Name() string { return s.name }

func (s *wrapped) Initialize(w *ecs.World) error {
	return s.arena.Initialize(s.id, w)
}

func (s *wrapped) Run(w *ecs.World) error {
	ptr, ok := s.table.Resolve(s.id)
	if !ok {
		return fmt.Errorf("%w: %s", hotfn.ErrUnknownIdentity, s.id)
	}
	fn, ok := ptr.Fn.(ecs.SystemFunc)
	if !ok {
		return fmt.Errorf("%w: %s resolves to %T (symbol %s)", hotfn.ErrUnsafePatch, s.id, ptr.Fn, ptr.Symbol)
	}
	return fn(w)
}
