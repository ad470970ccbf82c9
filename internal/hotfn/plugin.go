//go:build !nohotpatch

package hotfn

import (
	"fmt"
	"plugin"
	"reflect"
)

// PatchingEnabled reports whether this build can load patch libraries.
const PatchingEnabled = true

// PluginLoader opens Go plugins (go build -buildmode=plugin) from disk.
// Only available where the standard library supports plugins
// (linux/darwin/freebsd with cgo); elsewhere Load returns the platform error.
type PluginLoader struct{}

// Load implements Loader.
func (PluginLoader) Load(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownLibrary, path, err)
	}
	return pluginLibrary{p: p}, nil
}

type pluginLibrary struct {
	p *plugin.Plugin
}

// Lookup resolves an exported function or a pointer to an exported func
// variable.
func (l pluginLibrary) Lookup(sym Symbol) (any, error) {
	s, err := l.p.Lookup(string(sym))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownSymbol, sym, err)
	}
	v := reflect.ValueOf(s)
	if v.Kind() == reflect.Pointer && v.Elem().Kind() == reflect.Func {
		return v.Elem().Interface(), nil
	}
	return s, nil
}
