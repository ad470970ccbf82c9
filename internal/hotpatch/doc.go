// Package hotpatch wires the function table, the indirection installer, the
// patch notifier and the migration engine into one ecs.Plugin.
//
// Per tick, in PreUpdate:
//
//	UpdateFunctionPtrs -> ComponentMigrations -> (user PreUpdate systems)
//
// and in Last the notifier drains the patch signal into one Patched event.
// Indirection is installed in Finish, after every plugin has registered its
// systems and before the first tick.
package hotpatch
