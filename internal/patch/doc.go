// Package patch bridges the patch delivery channel into the tick loop.
//
// Notifier.Handle may be called from any goroutine (typically the devserver
// reader). It applies the jump table to the function table synchronously,
// then pushes into a capacity-1 channel; a push while a notification is
// already pending is dropped, since one signal per tick is enough.
//
// Notifier.Drain runs once per tick on the tick goroutine and emits exactly
// one Patched event when a notification was pending.
//
// Thread-safety model:
//   - Handle(), Deliver(), AddObserver(): safe from any goroutine
//   - Drain(): tick goroutine only
package patch
