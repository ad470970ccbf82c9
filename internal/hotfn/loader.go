package hotfn

import (
	"errors"
	"fmt"
	"sync"
)

// Library exposes the compiled bodies of one patch.
type Library interface {
	Lookup(sym Symbol) (any, error)
}

// Loader opens patch libraries by name.
type Loader interface {
	Load(lib string) (Library, error)
}

// StaticLibrary is an in-process library: bodies compiled into the current
// binary and exposed under symbol names. Used by the demo and tests, and by
// hosts that ship several body versions in one binary.
type StaticLibrary map[Symbol]any

// Lookup implements Library.
func (l StaticLibrary) Lookup(sym Symbol) (any, error) {
	fn, ok := l[sym]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, sym)
	}
	return fn, nil
}

// StaticLoader serves StaticLibrary values by name.
//
// Thread-safety: safe for concurrent use.
type StaticLoader struct {
	mu   sync.RWMutex
	libs map[string]StaticLibrary
}

// NewStaticLoader creates an empty loader.
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{libs: make(map[string]StaticLibrary)}
}

// Add registers (or replaces) a library.
func (l *StaticLoader) Add(name string, lib StaticLibrary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.libs[name] = lib
}

// Load implements Loader.
func (l *StaticLoader) Load(name string) (Library, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lib, ok := l.libs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLibrary, name)
	}
	return lib, nil
}

// Loaders tries each loader in order and returns the first library found.
type Loaders []Loader

// Load implements Loader.
func (ls Loaders) Load(name string) (Library, error) {
	var errs []error
	for _, l := range ls {
		lib, err := l.Load(name)
		if err == nil {
			return lib, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLibrary, name)
	}
	return nil, errors.Join(errs...)
}
