package hotfn

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Result describes an applied patch.
type Result struct {
	Lib         string
	Fingerprint string
	Switched    []Identity // sorted
}

// Patcher applies jump tables to a Table.
//
// Apply is serialised internally: two patches delivered concurrently are
// applied one after the other, each against the table the previous produced.
type Patcher struct {
	mu     sync.Mutex
	table  *Table
	loader Loader
}

// NewPatcher creates a patcher over table using loader to open libraries.
func NewPatcher(table *Table, loader Loader) *Patcher {
	return &Patcher{table: table, loader: loader}
}

// Table returns the table this patcher updates.
func (p *Patcher) Table() *Table {
	return p.table
}

// Apply resolves every table entry whose origin or current symbol appears in
// jt, then switches all of them in a single Table.Update.
//
// Nothing is published unless every replacement resolves and is
// call-compatible with the body it replaces: a missing symbol or library
// returns an error wrapping ErrUnknownSymbol/ErrUnknownLibrary, an
// incompatible body returns an error wrapping ErrUnsafePatch.
//
// Entries not mentioned by jt are left untouched.
func (p *Patcher) Apply(jt JumpTable) (Result, error) {
	if jt.Empty() {
		return Result{}, ErrEmptyJumpTable
	}

	fp, err := jt.Fingerprint()
	if err != nil {
		return Result{}, fmt.Errorf("apply patch: %w", err)
	}
	res := Result{Lib: jt.Lib, Fingerprint: fp}

	p.mu.Lock()
	defer p.mu.Unlock()

	lib, err := p.loader.Load(jt.Lib)
	if err != nil {
		return res, fmt.Errorf("apply patch: %w", err)
	}

	entries := p.table.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Identity < entries[j].Identity })

	changes := make(map[Identity]Ptr)
	for _, e := range entries {
		target, ok := jt.Map[e.Current.Symbol]
		if !ok {
			target, ok = jt.Map[e.Origin]
		}
		if !ok || target == e.Current.Symbol {
			continue
		}

		raw, err := lib.Lookup(target)
		if err != nil {
			return res, fmt.Errorf("apply patch to %s: %w", e.Identity, err)
		}
		fn, err := conform(raw, e.Current.Fn)
		if err != nil {
			return res, fmt.Errorf("apply patch to %s (%s -> %s): %w", e.Identity, e.Current.Symbol, target, err)
		}
		changes[e.Identity] = Ptr{Symbol: target, Fn: fn}
	}

	res.Switched = p.table.Update(changes)
	sort.Slice(res.Switched, func(i, j int) bool { return res.Switched[i] < res.Switched[j] })
	return res, nil
}

// conform converts a freshly loaded body to the Go type of the body it
// replaces. Bodies from a plugin carry unnamed func types, so identical
// signatures are converted; anything else is unsafe.
func conform(next, prev any) (any, error) {
	if prev == nil {
		return next, nil
	}
	want := reflect.TypeOf(prev)

	v := reflect.ValueOf(next)
	if !v.IsValid() {
		return nil, fmt.Errorf("%w: nil body", ErrUnsafePatch)
	}
	if v.Kind() == reflect.Pointer && v.Elem().Kind() == reflect.Func {
		v = v.Elem()
	}
	if v.Kind() == reflect.Func && v.IsNil() {
		return nil, fmt.Errorf("%w: nil body", ErrUnsafePatch)
	}
	if v.Type() == want {
		return v.Interface(), nil
	}
	if v.Kind() == reflect.Func && v.Type().ConvertibleTo(want) {
		return v.Convert(want).Interface(), nil
	}
	return nil, fmt.Errorf("%w: body has type %s, want %s", ErrUnsafePatch, v.Type(), want)
}
