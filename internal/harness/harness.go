package harness

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/hotpatch/internal/demo"
	"github.com/roach88/hotpatch/internal/devserver"
	"github.com/roach88/hotpatch/internal/ecs"
	"github.com/roach88/hotpatch/internal/hotfn"
	"github.com/roach88/hotpatch/internal/hotpatch"
	"github.com/roach88/hotpatch/internal/migrate"
	"github.com/roach88/hotpatch/internal/patch"
)

// Harness drives one scenario: the demo app, the hot-patch plugin and the
// trace they produce.
type Harness struct {
	app     *ecs.App
	plugin  *hotpatch.Plugin
	clock   *ecs.Clock
	logger  *slog.Logger
	decoder *devserver.Decoder

	mu      sync.Mutex
	result  *Result
	journal int // journal lines already traced
}

// Option configures a run.
type Option func(*Harness)

// WithLogger sets the harness logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario against a fresh demo app and evaluates its
// assertions. An error means the scenario could not run at all; failed
// assertions are reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	dec, err := devserver.NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create frame decoder: %w", err)
	}

	h := &Harness{
		clock:   ecs.NewClock(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		decoder: dec,
		result:  NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.plugin = hotpatch.New(
		hotpatch.WithLoader(demo.Loader()),
		hotpatch.WithIDGenerator(patch.NewFixedGenerator("patch")),
		hotpatch.WithPID(scenario.PID),
		hotpatch.WithStrict(scenario.Strict),
		hotpatch.WithRerun(scenario.Rerun...),
		hotpatch.WithObserver(h),
		hotpatch.WithDrainHook(h.patched),
	)
	h.app = ecs.NewApp()
	h.app.AddPlugins(h.plugin, demo.Plugin{Players: scenario.Players, Hot: h.plugin})
	defer h.app.Close()

	if err := h.app.Finish(); err != nil {
		return nil, fmt.Errorf("failed to start app: %w", err)
	}

	for i, step := range scenario.Steps {
		if err := h.step(step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	h.result.Ticks = h.app.World().Tick()
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, h.app.World()) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) step(step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch {
	case step.Tick > 0:
		for range step.Tick {
			if err := h.app.Update(); err != nil {
				return err
			}
			h.traceJournal()
		}
	case step.Patch != nil:
		jt := hotfn.JumpTable{Lib: step.Patch.Lib, Map: make(map[hotfn.Symbol]hotfn.Symbol, len(step.Patch.Map))}
		for from, to := range step.Patch.Map {
			jt.Map[hotfn.Symbol(from)] = hotfn.Symbol(to)
		}
		msg := devserver.HotReload(jt)
		msg.ForPID = step.Patch.ForPID
		h.deliver(msg)
	case step.Frame != "":
		msg, err := h.decoder.Decode([]byte(step.Frame))
		if err != nil {
			h.logger.Info("frame dropped", "error", err)
			h.add(EventDropped, nil)
			return nil
		}
		h.deliver(msg)
	}
	return nil
}

func (h *Harness) deliver(msg devserver.Message) {
	if _, ok := h.plugin.HandleMessage(msg); !ok {
		h.add(EventIgnored, map[string]any{"type": string(msg.Type)})
	}
}

// traceJournal appends the journal lines written since the last call.
func (h *Harness) traceJournal() {
	lines := demo.Lines(h.app.World())
	for _, line := range lines[h.journal:] {
		h.add(EventJournal, map[string]any{"line": line})
	}
	h.journal = len(lines)
}

func (h *Harness) add(kind string, fields map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Kind:   kind,
		Seq:    int64(h.clock.Next()),
		Tick:   h.app.World().Tick(),
		Fields: fields,
	})
}

// PatchHandled implements patch.Observer.
func (h *Harness) PatchHandled(o patch.Outcome) {
	switched := make([]string, len(o.Switched))
	for i, id := range o.Switched {
		switched[i] = string(id)
	}
	fields := map[string]any{
		"id":       o.ID,
		"lib":      o.Lib,
		"status":   string(o.Status),
		"switched": switched,
	}
	if o.Err != nil {
		fields["error"] = o.Err.Error()
	}
	h.logger.Info("patch handled", "id", o.ID, "status", o.Status)
	h.add(EventPatch, fields)
}

// RecordsMigrated implements migrate.Observer.
func (h *Harness) RecordsMigrated(r migrate.Report) {
	dropped := r.Dropped
	if dropped == nil {
		dropped = []string{}
	}
	fields := map[string]any{
		"record":    r.Key,
		"from":      r.OldType,
		"to":        r.NewType,
		"migrated":  r.Migrated,
		"defaulted": r.Defaulted,
		"dropped":   dropped,
	}
	if r.Err != nil {
		fields["error"] = r.Err.Error()
	}
	h.logger.Info("records migrated", "record", r.Key, "migrated", r.Migrated)
	h.add(EventMigrate, fields)
}

func (h *Harness) patched(uint64) {
	h.add(EventPatched, nil)
}
