// Package devserver reads patch notifications from the delivery channel.
//
// Frames are JSON objects, one per line:
//
//	{"type":"hot_reload","jump_table":{"lib":"demo/v2","map":{"demo.Greet":"demo.GreetV2"}},"for_pid":4242,"ms_elapsed":12}
//	{"type":"shutdown"}
//
// Every frame is validated against an embedded CUE schema before it is
// decoded. Frames that fail validation are malformed: Listen logs and drops
// them and keeps reading.
package devserver
