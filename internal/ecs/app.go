package ecs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// Plugin bundles configuration applied to an App.
type Plugin interface {
	Build(app *App)
}

// Finisher is implemented by plugins that need to act after every plugin and
// system has been registered and before the first tick.
type Finisher interface {
	Finish(app *App) error
}

// TickInfo describes a completed tick.
type TickInfo struct {
	Tick     uint64
	Duration time.Duration
}

// App owns a world and its schedules and drives the tick loop.
//
// Thread-safety model: none. An App is driven from exactly one goroutine.
type App struct {
	world     *World
	schedules *Schedules
	plugins   []Plugin
	onTick    []func(TickInfo)

	finished  bool
	finishErr error
	started   bool
}

// NewApp creates an App with an empty world.
func NewApp() *App {
	return &App{
		world:     NewWorld(),
		schedules: NewSchedules(),
	}
}

// World returns the app's world.
func (a *App) World() *World {
	return a.world
}

// Schedules returns the schedule collection.
func (a *App) Schedules() *Schedules {
	return a.schedules
}

// SetSchedules replaces the whole schedule collection.
func (a *App) SetSchedules(ss *Schedules) {
	a.schedules = ss
}

// AddPlugins builds each plugin immediately, in order.
func (a *App) AddPlugins(plugins ...Plugin) *App {
	for _, p := range plugins {
		a.plugins = append(a.plugins, p)
		p.Build(a)
	}
	return a
}

// AddSystems adds nodes to the schedule for label.
func (a *App) AddSystems(label Label, nodes ...Node) *App {
	a.schedules.Entry(label).Add(nodes...)
	return a
}

// ConfigureSets chains sets inside the schedule for label.
func (a *App) ConfigureSets(label Label, sets ...SystemSet) *App {
	a.schedules.Entry(label).ConfigureSets(sets...)
	return a
}

// OnTick registers a callback invoked after every tick.
func (a *App) OnTick(fn func(TickInfo)) {
	a.onTick = append(a.onTick, fn)
}

// Finish runs every plugin's Finish hook once. Later calls return the first
// result. Update and Run call it implicitly.
func (a *App) Finish() error {
	if a.finished {
		return a.finishErr
	}
	a.finished = true
	for _, p := range a.plugins {
		f, ok := p.(Finisher)
		if !ok {
			continue
		}
		if err := f.Finish(a); err != nil {
			a.finishErr = err
			return err
		}
	}
	return nil
}

// Update runs one tick: the startup schedules first time round, then the
// main schedules in label order.
func (a *App) Update() error {
	if err := a.Finish(); err != nil {
		return err
	}

	start := time.Now()
	tick := a.world.advance()

	if !a.started {
		a.started = true
		if err := a.runLabels(StartupLabels); err != nil {
			return err
		}
	}
	if err := a.runLabels(MainLabels); err != nil {
		return err
	}

	info := TickInfo{Tick: tick, Duration: time.Since(start)}
	for _, fn := range a.onTick {
		fn(info)
	}
	return nil
}

func (a *App) runLabels(labels []Label) error {
	for _, label := range labels {
		s := a.schedules.Get(label)
		if s == nil {
			continue
		}
		if err := s.Run(a.world); err != nil {
			return err
		}
	}
	return nil
}

// Run ticks until ctx is cancelled or maxTicks ticks have run (0 = no
// limit), sleeping interval between ticks.
//
// Returns nil after maxTicks, ctx.Err() on cancellation, or the first fatal
// error from Finish or schedule initialization.
func (a *App) Run(ctx context.Context, interval time.Duration, maxTicks int) error {
	if err := a.Finish(); err != nil {
		return err
	}
	slog.Info("app starting", "interval", interval, "max_ticks", maxTicks)

	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	for n := 0; maxTicks == 0 || n < maxTicks; n++ {
		if err := ctx.Err(); err != nil {
			slog.Info("app stopping: context cancelled")
			return err
		}
		if err := a.Update(); err != nil {
			return err
		}
		if tick == nil {
			continue
		}
		select {
		case <-ctx.Done():
			slog.Info("app stopping: context cancelled")
			return ctx.Err()
		case <-tick:
		}
	}
	slog.Info("app stopping: tick limit reached", "ticks", maxTicks)
	return nil
}

// Close closes every plugin implementing io.Closer, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.plugins) - 1; i >= 0; i-- {
		if c, ok := a.plugins[i].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
