// Package ecs is the host runtime the hot-patch core plugs into: a world of
// entities with type-erased component columns, resources, double-buffered
// events, labelled schedules of systems and an App that ticks them.
//
// ARCHITECTURE:
//
// Single-Threaded Tick Loop:
// App.Update runs one tick on the calling goroutine. Schedules run in a fixed
// label order (First, PreUpdate, Update, Last; Startup and PostStartup once
// before the first tick) and systems inside a schedule run in a
// deterministic topological order derived from set chains and After/Before
// constraints, ties broken by insertion order.
//
// Component columns are keyed by a stable component key rather than by Go
// type, so a record whose Go type changes across a patch keeps living in the
// same column and under the same entity.
//
// The World is not safe for concurrent use. Everything that touches it runs
// on the tick goroutine.
package ecs
