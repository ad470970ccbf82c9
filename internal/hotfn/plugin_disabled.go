//go:build nohotpatch

package hotfn

import "fmt"

// PatchingEnabled reports whether this build can load patch libraries.
const PatchingEnabled = false

// PluginLoader refuses every library in builds tagged nohotpatch.
type PluginLoader struct{}

// Load implements Loader.
func (PluginLoader) Load(path string) (Library, error) {
	return nil, fmt.Errorf("%w: %s: patching disabled in this build", ErrUnknownLibrary, path)
}
