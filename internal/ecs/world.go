package ecs

import (
	"fmt"
	"iter"
	"reflect"
	"slices"
)

// Entity identifies one entity in a World. Ids are never reused.
type Entity uint64

// Keyed lets a component choose its column key explicitly. Records that are
// migrated across patches implement it so every build of the record, whatever
// its Go type, lands in the same column.
type Keyed interface {
	ComponentKey() string
}

// KeyOf returns the column key of a component value: ComponentKey() when
// implemented, otherwise the Go type name without pointer indirection.
func KeyOf(v any) string {
	if k, ok := v.(Keyed); ok {
		return k.ComponentKey()
	}
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.String()
}

// KeyFor returns the column key used for values of type *T.
func KeyFor[T any]() string {
	var zero T
	return KeyOf(&zero)
}

type column struct {
	values map[Entity]any
}

// World owns entities, their components and global resources.
type World struct {
	next      Entity
	alive     map[Entity]struct{}
	columns   map[string]*column
	resources map[reflect.Type]any
	clock     *Clock
}

// NewWorld creates an empty world.
func NewWorld() *World {
	return &World{
		alive:     make(map[Entity]struct{}),
		columns:   make(map[string]*column),
		resources: make(map[reflect.Type]any),
		clock:     NewClock(),
	}
}

// Tick returns the number of the tick currently running (0 before the first).
func (w *World) Tick() uint64 {
	return w.clock.Current()
}

func (w *World) advance() uint64 {
	return w.clock.Next()
}

// Spawn creates an entity carrying the given components.
func (w *World) Spawn(components ...any) Entity {
	w.next++
	e := w.next
	w.alive[e] = struct{}{}
	for _, c := range components {
		w.insert(e, c)
	}
	return e
}

// Despawn removes an entity and all of its components.
func (w *World) Despawn(e Entity) bool {
	if _, ok := w.alive[e]; !ok {
		return false
	}
	delete(w.alive, e)
	for _, col := range w.columns {
		delete(col.values, e)
	}
	return true
}

// Alive reports whether e exists.
func (w *World) Alive(e Entity) bool {
	_, ok := w.alive[e]
	return ok
}

// Insert adds or overwrites a component on e.
func (w *World) Insert(e Entity, c any) error {
	if !w.Alive(e) {
		return fmt.Errorf("insert %s: %w: %d", KeyOf(c), ErrNoEntity, e)
	}
	if c == nil {
		return fmt.Errorf("insert: nil component")
	}
	w.insert(e, c)
	return nil
}

func (w *World) insert(e Entity, c any) {
	key := KeyOf(c)
	col, ok := w.columns[key]
	if !ok {
		col = &column{values: make(map[Entity]any)}
		w.columns[key] = col
	}
	col.values[e] = c
}

// Get returns the component stored under key for e.
func (w *World) Get(e Entity, key string) (any, bool) {
	col, ok := w.columns[key]
	if !ok {
		return nil, false
	}
	v, ok := col.values[e]
	return v, ok
}

// Remove deletes the component stored under key for e.
func (w *World) Remove(e Entity, key string) bool {
	col, ok := w.columns[key]
	if !ok {
		return false
	}
	if _, ok := col.values[e]; !ok {
		return false
	}
	delete(col.values, e)
	return true
}

// Replace swaps the value stored under key for e in place. The entity keeps
// its id and every other component; v must belong to the same column.
func (w *World) Replace(e Entity, key string, v any) error {
	col, ok := w.columns[key]
	if !ok {
		return fmt.Errorf("replace %s: %w", key, ErrNoComponent)
	}
	if _, ok := col.values[e]; !ok {
		return fmt.Errorf("replace %s on %d: %w", key, e, ErrNoComponent)
	}
	if got := KeyOf(v); got != key {
		return fmt.Errorf("replace %s with %s: %w", key, got, ErrKeyMismatch)
	}
	col.values[e] = v
	return nil
}

// Entities returns every entity with a component under key, ascending.
func (w *World) Entities(key string) []Entity {
	col, ok := w.columns[key]
	if !ok {
		return nil
	}
	out := make([]Entity, 0, len(col.values))
	for e := range col.values {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}

// Each iterates the components stored under key in ascending entity order.
// The entity list is taken when iteration starts, so yield may Replace or
// Remove components of the same column.
func (w *World) Each(key string) iter.Seq2[Entity, any] {
	return func(yield func(Entity, any) bool) {
		for _, e := range w.Entities(key) {
			v, ok := w.Get(e, key)
			if !ok {
				continue
			}
			if !yield(e, v) {
				return
			}
		}
	}
}

// Count returns the number of components stored under key.
func (w *World) Count(key string) int {
	col, ok := w.columns[key]
	if !ok {
		return 0
	}
	return len(col.values)
}

// ComponentKeys returns every column key, sorted.
func (w *World) ComponentKeys() []string {
	keys := make([]string, 0, len(w.columns))
	for k := range w.columns {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Query iterates the entities whose component in T's column is a *T, in
// ascending entity order. Values of another Go type in the same column (a
// record not yet migrated, or already migrated past T) are skipped.
func Query[T any](w *World) iter.Seq2[Entity, *T] {
	return func(yield func(Entity, *T) bool) {
		for e, v := range w.Each(KeyFor[T]()) {
			t, ok := v.(*T)
			if !ok {
				continue
			}
			if !yield(e, t) {
				return
			}
		}
	}
}

// GetAs returns e's component in T's column when it is a *T.
func GetAs[T any](w *World, e Entity) (*T, bool) {
	v, ok := w.Get(e, KeyFor[T]())
	if !ok {
		return nil, false
	}
	t, ok := v.(*T)
	return t, ok
}

// InsertResource stores r as the world's resource of type T.
func InsertResource[T any](w *World, r *T) {
	w.resources[reflect.TypeFor[T]()] = r
}

// Resource returns the world's resource of type T.
func Resource[T any](w *World) (*T, bool) {
	r, ok := w.resources[reflect.TypeFor[T]()]
	if !ok {
		return nil, false
	}
	return r.(*T), true
}

// InitResource returns the resource of type T, inserting a zero value first
// when absent.
func InitResource[T any](w *World) *T {
	if r, ok := Resource[T](w); ok {
		return r
	}
	r := new(T)
	InsertResource(w, r)
	return r
}
