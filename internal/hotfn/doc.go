// Package hotfn implements the process-wide function-pointer table that
// hot-patched code is resolved through.
//
// ARCHITECTURE:
//
// Every hot-patchable unit of logic has a stable Identity that survives
// rebuilds, and a Symbol naming the compiled body currently serving it.
// The Table maps identities to {current, last} pointers. Callers never hold
// a body directly; they resolve the identity on every invocation.
//
// Single-Writer / Many-Reader:
//   - Resolve(): lock-free, one atomic load plus a map lookup, no allocation
//   - Register()/Update(): copy-on-write under a writer mutex
//
// A reader therefore always sees either the whole table before a patch or
// the whole table after it, never a torn mix.
//
// Patching:
// A JumpTable names a library and maps old symbols to new ones. The Patcher
// loads the library through a Loader, resolves every new symbol, checks that
// the new bodies are call-compatible with the registered ones and only then
// publishes the new table. A patch is either applied completely or rejected.
package hotfn
