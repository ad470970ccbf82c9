// Package indirect installs the hot-patch indirection layer.
//
// At startup, after every plugin and system has been registered, the
// installer rewrites each schedule so that every system runs through an
// identity lookup in a hotfn.Table instead of calling its body directly.
//
// OWNERSHIP:
//
// Original system bodies are moved into an Arena, which is their single
// owner. The wrapped systems installed in the scheduler and the View of
// the previous schedule graph both refer to bodies by identity only; neither
// holds the body itself. Releasing happens exactly once, in Arena.Close.
//
// ORDERING:
//
// The refresh step runs every tick in the UpdateFunctionPtrs set, before
// component migrations. It does not write the table (patches are applied
// synchronously by the notifier); it observes which identities switched
// since the previous tick, logs them, and re-runs systems opted in with
// WithRerun.
package indirect
