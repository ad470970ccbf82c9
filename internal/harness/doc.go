// Package harness runs hot-patch scenarios against the demo game and checks
// the resulting trace.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: patch_to_v2
//	description: "Build 2 goes live and players are migrated"
//	players: [ada, linus]
//	rerun: [demo.Spawn]          # optional
//	pid: 4242                    # optional, ignore patches for other pids
//	steps:
//	  - tick: 2
//	  - patch:
//	      lib: demo/v2
//	      map: { demo.Greet: demo.GreetV2 }
//	  - frame: '{"type":"hot_patch_start"}'
//	  - tick: 1
//	assertions:
//	  - type: trace_contains
//	    event: patch
//	    fields: { status: applied }
//	  - type: final_state
//	    record: demo.player
//	    where: { Name: ada }
//	    expect: { type: demo.PlayerV2, Level: 1 }
//
// # Trace
//
// Every run produces a trace of events, each with a harness sequence number
// and the world tick it happened on:
//
//   - journal: one line written by a demo system
//   - patch: a handled hot_reload message (applied or rejected)
//   - migrate: one migration pass over a record
//   - patched: the Patched event sent at the end of a tick
//   - ignored: a message the notifier did not act on
//   - dropped: a frame that failed to decode
//
// Patch ids come from a fixed generator so traces are stable across runs and
// can be compared against golden files.
package harness
