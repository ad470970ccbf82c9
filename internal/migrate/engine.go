package migrate

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/roach88/hotpatch/internal/ecs"
	"github.com/roach88/hotpatch/internal/hotfn"
)

// SystemName is the name of the per-tick migration step.
const SystemName = "migrate.DetectAndMigrate"

// State is the migration state of one record.
type State int

const (
	Unchanged State = iota
	ShapeChanged
	Migrating
)

func (s State) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case ShapeChanged:
		return "shape_changed"
	case Migrating:
		return "migrating"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Descriptor is the registration of one migratable record.
type Descriptor struct {
	Key       string
	Identity  hotfn.Identity
	Signature string
	Layout    *Layout
	State     State
}

// Report describes one migration pass over a record.
type Report struct {
	Key          string
	Tick         uint64
	OldSignature string
	NewSignature string
	OldType      string
	NewType      string
	Migrated     int      // instances converted field by field
	Defaulted    int      // instances replaced with the default
	Dropped      []string // distinct source fields dropped, first-seen order
	Err          error    // set when the pass could not run at all

	// Stale lists the instances left on the previous shape when Err is set.
	// The new signature is adopted regardless, so they are not revisited.
	Stale []ecs.Entity
}

// Observer receives every migration report on the tick goroutine.
type Observer interface {
	RecordsMigrated(Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Report)

// RecordsMigrated implements Observer.
func (f ObserverFunc) RecordsMigrated(r Report) { f(r) }

// IdentityFor returns the table identity of key's shape function.
func IdentityFor(key string) hotfn.Identity {
	return hotfn.Identity("shape/" + key)
}

// Engine tracks migratable records and migrates them when their shape
// function starts returning a different shape.
//
// Thread-safety model: none. Register and DetectAndMigrate run on the tick
// goroutine.
//
// INVARIANTS:
//   - records are checked in registration order
//   - after DetectAndMigrate every instance of a changed record is a
//     pointer to the new shape's type
type Engine struct {
	table     *hotfn.Table
	records   []*Descriptor
	byKey     map[string]*Descriptor
	types     map[string]reflect.Type
	observers []Observer
}

// NewEngine creates an engine resolving shape functions through table.
func NewEngine(table *hotfn.Table) *Engine {
	return &Engine{
		table: table,
		byKey: make(map[string]*Descriptor),
		types: make(map[string]reflect.Type),
	}
}

// AddObserver registers an observer.
func (e *Engine) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

// Register opts the record stored under component key into migration,
// capturing its current shape. fn is registered in the table under
// IdentityFor(key) with the given symbol, so a jump table mapping symbol
// redirects it.
func (e *Engine) Register(key string, symbol hotfn.Symbol, fn ShapeFunc) (Descriptor, error) {
	if _, ok := e.byKey[key]; ok {
		return Descriptor{}, fmt.Errorf("register %s: %w", key, ErrDuplicateRecord)
	}
	if fn == nil {
		return Descriptor{}, fmt.Errorf("register %s: nil shape function", key)
	}

	id := IdentityFor(key)
	e.table.Register(id, hotfn.Ptr{Symbol: symbol, Fn: fn})

	shape, err := e.current(id)
	if err != nil {
		return Descriptor{}, fmt.Errorf("register %s: %w", key, err)
	}
	layout, err := LayoutOf(shape.Type)
	if err != nil {
		return Descriptor{}, fmt.Errorf("register %s: %w", key, err)
	}

	d := &Descriptor{
		Key:       key,
		Identity:  id,
		Signature: layout.Signature(),
		Layout:    layout,
		State:     Unchanged,
	}
	e.records = append(e.records, d)
	e.byKey[key] = d
	e.types[key] = shape.Type
	slog.Debug("record registered for migration", "record", key, "type", shape.Type, "signature", d.Signature)
	return *d, nil
}

// Descriptor returns the registration of key.
func (e *Engine) Descriptor(key string) (Descriptor, bool) {
	d, ok := e.byKey[key]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Descriptors returns every registration in registration order.
func (e *Engine) Descriptors() []Descriptor {
	out := make([]Descriptor, len(e.records))
	for i, d := range e.records {
		out[i] = *d
	}
	return out
}

// CurrentShape resolves key's shape function.
func (e *Engine) CurrentShape(key string) (Shape, error) {
	if _, ok := e.byKey[key]; !ok {
		return Shape{}, fmt.Errorf("%w: %s", ErrUnknownRecord, key)
	}
	return e.current(IdentityFor(key))
}

func (e *Engine) current(id hotfn.Identity) (Shape, error) {
	fn, err := hotfn.Current[ShapeFunc](e.table, id)
	if err != nil {
		return Shape{}, err
	}
	shape := fn()
	if shape.Type == nil || shape.Type.Kind() != reflect.Struct {
		return Shape{}, fmt.Errorf("%w: shape of %s is %v", ErrNotStruct, id, shape.Type)
	}
	return shape, nil
}

// DetectAndMigrate checks every record's current shape against the
// registered one and migrates the records that changed. A record changes
// when its signature or its Go type differs. Returns one report per
// migrated record.
func (e *Engine) DetectAndMigrate(w *ecs.World) []Report {
	var reports []Report
	for _, d := range e.records {
		shape, err := e.current(d.Identity)
		if err != nil {
			slog.Error("resolve record shape", "record", d.Key, "error", err)
			continue
		}
		layout, err := LayoutOf(shape.Type)
		if err != nil {
			slog.Error("record layout", "record", d.Key, "error", err)
			continue
		}
		if layout.Signature() == d.Signature && shape.Type == e.types[d.Key] {
			continue
		}

		d.State = ShapeChanged
		slog.Info("record shape changed",
			"record", d.Key,
			"from", e.types[d.Key],
			"to", shape.Type,
			"tick", w.Tick(),
		)
		if diff := Diff(d.Layout, layout); diff != "" {
			slog.Info("record layout diff", "record", d.Key, "diff", "\n"+diff)
		}

		d.State = Migrating
		r := e.migrate(w, d, shape)
		r.OldType = e.types[d.Key].String()
		r.NewType = shape.Type.String()
		r.NewSignature = layout.Signature()

		d.Signature = layout.Signature()
		d.Layout = layout
		e.types[d.Key] = shape.Type
		d.State = Unchanged

		reports = append(reports, r)
		for _, o := range e.observers {
			o.RecordsMigrated(r)
		}
	}
	return reports
}

func (e *Engine) migrate(w *ecs.World, d *Descriptor, shape Shape) Report {
	r := Report{Key: d.Key, Tick: w.Tick(), OldSignature: d.Signature}

	def, err := shape.Default()
	if err != nil {
		r.Err = err
		r.Stale = staleEntities(w, d.Key)
		slog.Error("record default", "record", d.Key, "error", err, "stale_entities", r.Stale)
		return r
	}
	if got := ecs.KeyOf(def.Interface()); got != d.Key {
		r.Err = fmt.Errorf("%w: %s stores under %q, want %q", ErrColumnMismatch, shape.Type, got, d.Key)
		r.Stale = staleEntities(w, d.Key)
		slog.Error("record not migrated; instances keep the previous shape",
			"record", d.Key,
			"error", r.Err,
			"stale_entities", r.Stale,
		)
		return r
	}

	target := reflect.PointerTo(shape.Type)
	dropped := make(map[string]bool)
	for ent, v := range w.Each(d.Key) {
		if reflect.TypeOf(v) == target {
			continue
		}

		out, stats, err := convertInstance(d.Key, v, shape)
		if err != nil {
			r.Defaulted++
			slog.Warn("record replaced with default", "record", d.Key, "entity", ent, "error", err)
		} else {
			r.Migrated++
			for _, f := range stats.dropped {
				if !dropped[f] {
					dropped[f] = true
					r.Dropped = append(r.Dropped, f)
				}
			}
		}
		if err := w.Replace(ent, d.Key, out.Interface()); err != nil {
			slog.Error("replace record", "record", d.Key, "entity", ent, "error", err)
		}
	}

	slog.Info("records migrated",
		"record", d.Key,
		"migrated", r.Migrated,
		"defaulted", r.Defaulted,
		"dropped_fields", r.Dropped,
	)
	return r
}

func staleEntities(w *ecs.World, key string) []ecs.Entity {
	var out []ecs.Entity
	for ent := range w.Each(key) {
		out = append(out, ent)
	}
	return out
}

// System returns DetectAndMigrate as a system.
func (e *Engine) System() ecs.System {
	return ecs.NewSystem(SystemName, func(w *ecs.World) error {
		e.DetectAndMigrate(w)
		return nil
	})
}
