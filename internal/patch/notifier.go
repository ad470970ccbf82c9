package patch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/hotpatch/internal/devserver"
	"github.com/roach88/hotpatch/internal/ecs"
	"github.com/roach88/hotpatch/internal/hotfn"
)

// Patched is the in-process event meaning at least one patch was applied
// since the previous tick. It carries no payload.
type Patched struct{}

// DrainSystemName is the name of the per-tick drain step.
const DrainSystemName = "patch.Drain"

// Status is the result of handling a hot_reload message.
type Status string

const (
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
)

// Outcome describes one handled patch.
type Outcome struct {
	Seq         uint64
	ID          string
	Lib         string
	Fingerprint string
	Status      Status
	Switched    []hotfn.Identity
	Err         error
}

// Observer receives every patch outcome, on the goroutine that delivered
// the message.
type Observer interface {
	PatchHandled(Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Outcome)

// PatchHandled implements Observer.
func (f ObserverFunc) PatchHandled(o Outcome) { f(o) }

// Option configures a Notifier.
type Option func(*Notifier)

// WithPID makes the notifier ignore messages addressed to other processes.
// Zero accepts every message.
func WithPID(pid int) Option {
	return func(n *Notifier) { n.pid = pid }
}

// WithStrict makes an unsafe patch panic on the delivering goroutine instead
// of being logged and skipped.
func WithStrict(strict bool) Option {
	return func(n *Notifier) { n.strict = strict }
}

// WithIDGenerator sets the patch id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(n *Notifier) { n.ids = g }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(n *Notifier) { n.observers = append(n.observers, o) }
}

// WithDrainHook calls fn on the tick goroutine every time a Patched event is
// emitted.
func WithDrainHook(fn func(tick uint64)) Option {
	return func(n *Notifier) { n.drainHooks = append(n.drainHooks, fn) }
}

// Notifier applies delivered jump tables and signals the tick loop.
//
// INVARIANTS:
//   - the table update for a patch completes before its signal is pushed
//   - at most one signal is pending at any time
type Notifier struct {
	patcher *hotfn.Patcher
	signal  chan struct{}
	clock   *ecs.Clock
	ids     IDGenerator
	pid     int
	strict  bool

	mu         sync.RWMutex
	observers  []Observer
	drainHooks []func(tick uint64)
}

// New creates a notifier applying patches through patcher.
func New(patcher *hotfn.Patcher, opts ...Option) *Notifier {
	n := &Notifier{
		patcher: patcher,
		signal:  make(chan struct{}, 1),
		clock:   ecs.NewClock(),
		ids:     UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// AddObserver registers an observer after construction.
func (n *Notifier) AddObserver(o Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, o)
}

// Handle is Deliver without results, shaped for devserver.Listen.
func (n *Notifier) Handle(msg devserver.Message) {
	n.Deliver(msg)
}

// Deliver handles one message. Messages that are not hot_reload, carry no
// (or an empty) jump table, or target another pid are ignored and return
// false. Otherwise the patch is applied and its outcome returned.
//
// A rejected patch is logged and leaves the table untouched; no signal is
// pushed. In strict mode an ErrUnsafePatch rejection panics after observers
// have been told.
func (n *Notifier) Deliver(msg devserver.Message) (Outcome, bool) {
	if !msg.IsHotReload() || !msg.HasJumpTable() || msg.JumpTable.Empty() {
		slog.Debug("ignoring devserver message", "type", msg.Type, "jump_table", msg.HasJumpTable())
		return Outcome{}, false
	}
	if n.pid != 0 && !msg.Targets(n.pid) {
		slog.Debug("ignoring patch for another process", "for_pid", *msg.ForPID, "pid", n.pid)
		return Outcome{}, false
	}

	res, err := n.patcher.Apply(*msg.JumpTable)
	out := Outcome{
		Seq:         n.clock.Next(),
		ID:          n.ids.Generate(),
		Lib:         msg.JumpTable.Lib,
		Fingerprint: res.Fingerprint,
		Switched:    res.Switched,
	}

	if err != nil {
		out.Status = StatusRejected
		out.Err = err
		slog.Error("patch rejected",
			"seq", out.Seq,
			"patch_id", out.ID,
			"lib", out.Lib,
			"error", err,
		)
		n.notify(out)
		if n.strict && errors.Is(err, hotfn.ErrUnsafePatch) {
			panic(fmt.Sprintf("hotpatch: %v", err))
		}
		return out, true
	}

	out.Status = StatusApplied
	slog.Info("patch applied",
		"seq", out.Seq,
		"patch_id", out.ID,
		"lib", out.Lib,
		"switched", len(out.Switched),
		"ms_elapsed", msg.MsElapsed,
	)
	n.notify(out)

	select {
	case n.signal <- struct{}{}:
	default:
	}
	return out, true
}

func (n *Notifier) notify(out Outcome) {
	n.mu.RLock()
	obs := n.observers
	n.mu.RUnlock()
	for _, o := range obs {
		o.PatchHandled(out)
	}
}

// Pending reports whether a signal is waiting to be drained.
func (n *Notifier) Pending() bool {
	return len(n.signal) > 0
}

// Drain takes the pending signal, if any, and sends one Patched event.
// Requires ecs.AddEvent[Patched] on the app. Returns whether an event was
// sent.
func (n *Notifier) Drain(w *ecs.World) bool {
	select {
	case <-n.signal:
	default:
		return false
	}
	if !ecs.SendEvent(w, Patched{}) {
		slog.Warn("Patched event not registered; signal dropped")
		return false
	}
	slog.Debug("patched event sent", "tick", w.Tick())

	n.mu.RLock()
	hooks := n.drainHooks
	n.mu.RUnlock()
	for _, fn := range hooks {
		fn(w.Tick())
	}
	return true
}

// DrainSystem returns Drain as a system.
func (n *Notifier) DrainSystem() ecs.System {
	return ecs.NewSystem(DrainSystemName, func(w *ecs.World) error {
		n.Drain(w)
		return nil
	})
}
