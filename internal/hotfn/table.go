package hotfn

import (
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
)

// Identity is the stable key of one hot-patchable unit across rebuilds.
type Identity string

// Symbol names a compiled function body (e.g. "demo.Greet").
type Symbol string

// Ptr is a type-erased handle to a compiled body.
type Ptr struct {
	Symbol Symbol
	Fn     any
}

// IsZero reports whether the pointer is unset.
func (p Ptr) IsZero() bool {
	return p.Symbol == "" && p.Fn == nil
}

// Entry is one row of the function-pointer table.
//
// INVARIANTS:
//   - Current changes only inside Table.Update
//   - Last holds the value Current had before the most recent update
//   - Generation counts applied updates (0 = never patched)
type Entry struct {
	Identity   Identity
	Origin     Symbol // symbol the entry was registered with
	Current    Ptr
	Last       Ptr
	Generation uint64
}

// Patched reports whether the entry has been switched at least once.
func (e Entry) Patched() bool {
	return e.Generation > 0
}

type snapshot map[Identity]Entry

// Table is the function-pointer registry.
//
// Thread-safety model:
//   - Resolve(), Entry(), Entries(): safe from any goroutine, lock-free
//   - Register(), Update(): serialised by an internal writer mutex
type Table struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewTable creates an empty table.
func NewTable() *Table {
	t := &Table{}
	empty := make(snapshot)
	t.snap.Store(&empty)
	return t
}

// Register inserts an entry for id if absent. Idempotent: returns false and
// leaves the existing entry untouched when id is already registered.
func (t *Table) Register(id Identity, initial Ptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := *t.snap.Load()
	if _, ok := cur[id]; ok {
		return false
	}

	next := make(snapshot, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[id] = Entry{Identity: id, Origin: initial.Symbol, Current: initial}
	t.snap.Store(&next)
	return true
}

// Update switches every identity in changes to its new pointer, moving the
// previous Current into Last, and publishes the result as one snapshot.
// Identities that are not registered are ignored. Returns the identities
// that were switched.
func (t *Table) Update(changes map[Identity]Ptr) []Identity {
	if len(changes) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := *t.snap.Load()
	next := make(snapshot, len(cur))
	for k, v := range cur {
		next[k] = v
	}

	var switched []Identity
	for id, ptr := range changes {
		e, ok := next[id]
		if !ok {
			continue
		}
		e.Last = e.Current
		e.Current = ptr
		e.Generation++
		next[id] = e
		switched = append(switched, id)
	}
	t.snap.Store(&next)
	return switched
}

// Resolve returns the current pointer for id.
// Called on every invocation of a wrapped system: no locks, no allocation.
func (t *Table) Resolve(id Identity) (Ptr, bool) {
	e, ok := (*t.snap.Load())[id]
	return e.Current, ok
}

// Entry returns the full entry for id.
func (t *Table) Entry(id Identity) (Entry, bool) {
	e, ok := (*t.snap.Load())[id]
	return e, ok
}

// Entries returns a copy of every entry. Order is unspecified.
func (t *Table) Entries() []Entry {
	cur := *t.snap.Load()
	out := make([]Entry, 0, len(cur))
	for _, e := range cur {
		out = append(out, e)
	}
	return out
}

// Len returns the number of registered identities.
func (t *Table) Len() int {
	return len(*t.snap.Load())
}

// Current resolves id and asserts the body to F.
func Current[F any](t *Table, id Identity) (F, error) {
	var zero F
	ptr, ok := t.Resolve(id)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrUnknownIdentity, id)
	}
	fn, ok := ptr.Fn.(F)
	if !ok {
		return zero, fmt.Errorf("%w: %s resolves to %T (symbol %s)", ErrUnsafePatch, id, ptr.Fn, ptr.Symbol)
	}
	return fn, nil
}

// SymbolOf derives a Symbol from a Go function value using the runtime's
// symbol table ("github.com/x/pkg.Func"). Closures get compiler-generated
// names ("pkg.Outer.func1") which are stable for a given build only.
func SymbolOf(fn any) Symbol {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return ""
	}
	return Symbol(f.Name())
}
