package hotpatch

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/roach88/hotpatch/internal/devserver"
	"github.com/roach88/hotpatch/internal/ecs"
	"github.com/roach88/hotpatch/internal/hotfn"
	"github.com/roach88/hotpatch/internal/indirect"
	"github.com/roach88/hotpatch/internal/migrate"
	"github.com/roach88/hotpatch/internal/patch"
)

// System sets configured in PreUpdate, chained in this order.
const (
	SetUpdateFunctionPtrs  ecs.SystemSet = "UpdateFunctionPtrs"
	SetComponentMigrations ecs.SystemSet = "ComponentMigrations"
)

// Observer receives both patch outcomes and migration reports.
type Observer interface {
	patch.Observer
	migrate.Observer
}

// Option configures a Plugin.
type Option func(*options)

type options struct {
	loader    hotfn.Loader
	notifier  []patch.Option
	installer []indirect.Option
	observers []Observer
	closers   []io.Closer
}

// WithLoader sets the patch library loader. Default: hotfn.PluginLoader.
func WithLoader(l hotfn.Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithStrict makes unsafe patches panic instead of being skipped.
func WithStrict(strict bool) Option {
	return func(o *options) { o.notifier = append(o.notifier, patch.WithStrict(strict)) }
}

// WithPID ignores patches addressed to other processes.
func WithPID(pid int) Option {
	return func(o *options) { o.notifier = append(o.notifier, patch.WithPID(pid)) }
}

// WithIDGenerator sets the patch id source.
func WithIDGenerator(g patch.IDGenerator) Option {
	return func(o *options) { o.notifier = append(o.notifier, patch.WithIDGenerator(g)) }
}

// WithDrainHook is called on the tick goroutine for every Patched event.
func WithDrainHook(fn func(tick uint64)) Option {
	return func(o *options) { o.notifier = append(o.notifier, patch.WithDrainHook(fn)) }
}

// WithRerun re-runs the named systems on the tick after a patch switches them.
func WithRerun(names ...string) Option {
	return func(o *options) { o.installer = append(o.installer, indirect.WithRerun(names...)) }
}

// WithObserver subscribes o to patch outcomes and migration reports.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithCloser closes c when the plugin closes, after the arena.
func WithCloser(c io.Closer) Option {
	return func(o *options) { o.closers = append(o.closers, c) }
}

// Plugin is the hot-patch plugin.
//
// Thread-safety model: HandleMessage and Listen are safe from any goroutine.
// Everything else runs on the tick goroutine.
type Plugin struct {
	table     *hotfn.Table
	arena     *indirect.Arena
	patcher   *hotfn.Patcher
	notifier  *patch.Notifier
	engine    *migrate.Engine
	installer *indirect.Installer
	closers   []io.Closer

	registerErr error
}

// New builds the plugin's table, arena, patcher, notifier and migration
// engine.
func New(opts ...Option) *Plugin {
	o := options{loader: hotfn.PluginLoader{}}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Plugin{
		table:   hotfn.NewTable(),
		arena:   indirect.NewArena(),
		closers: o.closers,
	}
	p.patcher = hotfn.NewPatcher(p.table, o.loader)
	p.notifier = patch.New(p.patcher, o.notifier...)
	p.engine = migrate.NewEngine(p.table)
	p.installer = indirect.NewInstaller(p.table, p.arena, o.installer...)
	for _, obs := range o.observers {
		p.notifier.AddObserver(obs)
		p.engine.AddObserver(obs)
	}
	return p
}

// Build implements ecs.Plugin.
func (p *Plugin) Build(app *ecs.App) {
	app.ConfigureSets(ecs.PreUpdate, SetUpdateFunctionPtrs, SetComponentMigrations)
	if !hotfn.PatchingEnabled {
		slog.Warn("hot patching disabled in this build")
		return
	}

	ecs.AddEvent[patch.Patched](app)
	app.AddSystems(ecs.PreUpdate,
		ecs.Sys(p.installer.RefreshSystem()).InSet(SetUpdateFunctionPtrs),
		ecs.Sys(p.engine.System()).InSet(SetComponentMigrations),
	)
	app.AddSystems(ecs.Last, ecs.Sys(p.notifier.DrainSystem()))
}

// Finish implements ecs.Finisher: it installs indirection over every
// schedule. A failed registration or installation is fatal.
func (p *Plugin) Finish(app *ecs.App) error {
	if p.registerErr != nil {
		return p.registerErr
	}
	if !hotfn.PatchingEnabled {
		return nil
	}
	return p.installer.Install(app)
}

// RegisterMigratable opts the record stored under key into migration. fn is
// the record's shape function, registered under symbol.
//
// A failure is also reported by Finish, so registration from a plugin's
// Build cannot be lost.
func (p *Plugin) RegisterMigratable(key string, symbol hotfn.Symbol, fn migrate.ShapeFunc) error {
	if _, err := p.engine.Register(key, symbol, fn); err != nil {
		p.registerErr = errors.Join(p.registerErr, err)
		return err
	}
	return nil
}

// RegisterHotIdentity registers an arbitrary hot function. Returns false
// when id is already registered.
func (p *Plugin) RegisterHotIdentity(id hotfn.Identity, ptr hotfn.Ptr) bool {
	return p.table.Register(id, ptr)
}

// HandleMessage delivers one devserver message.
func (p *Plugin) HandleMessage(msg devserver.Message) (patch.Outcome, bool) {
	return p.notifier.Deliver(msg)
}

// Apply delivers jt as a hot_reload message.
func (p *Plugin) Apply(jt hotfn.JumpTable) (patch.Outcome, bool) {
	return p.notifier.Deliver(devserver.HotReload(jt))
}

// Listen feeds every message read from r to the notifier until EOF or ctx
// is done.
func (p *Plugin) Listen(ctx context.Context, r io.Reader, opts ...devserver.ListenOption) error {
	return devserver.Listen(ctx, r, p.notifier.Handle, opts...)
}

// Table returns the function table.
func (p *Plugin) Table() *hotfn.Table { return p.table }

// Notifier returns the patch notifier.
func (p *Plugin) Notifier() *patch.Notifier { return p.notifier }

// Engine returns the migration engine.
func (p *Plugin) Engine() *migrate.Engine { return p.engine }

// Installer returns the indirection installer.
func (p *Plugin) Installer() *indirect.Installer { return p.installer }

// Close releases every adopted system body, then the extra closers in
// registration order.
func (p *Plugin) Close() error {
	errs := []error{p.arena.Close()}
	for _, c := range p.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
