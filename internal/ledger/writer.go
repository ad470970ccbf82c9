package ledger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/hotpatch/internal/migrate"
	"github.com/roach88/hotpatch/internal/patch"
)

type entry struct {
	patch     *PatchRecord
	migration *MigrationRecord
}

// Writer is the ledger's single writer. Observers enqueue records from any
// goroutine without blocking; Run writes them to the store in FIFO order.
//
// Thread-safety model:
//   - PatchHandled(), RecordsMigrated(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Close(): safe from any goroutine, flushes what is pending
type Writer struct {
	store *Store

	mu      sync.Mutex
	pending []entry
	closed  bool
	running bool
	signal  chan struct{} // buffered, size 1
	done    chan struct{}

	flushMu sync.Mutex
}

// NewWriter creates a writer over store.
func NewWriter(store *Store) *Writer {
	return &Writer{
		store:   store,
		pending: make([]entry, 0, 16),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// PatchHandled implements patch.Observer.
func (w *Writer) PatchHandled(o patch.Outcome) {
	rec := PatchRecord{
		ID:          o.ID,
		Seq:         o.Seq,
		Lib:         o.Lib,
		Fingerprint: o.Fingerprint,
		Status:      string(o.Status),
		Updated:     len(o.Switched),
	}
	for _, id := range o.Switched {
		rec.Switched = append(rec.Switched, string(id))
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	w.enqueue(entry{patch: &rec})
}

// RecordsMigrated implements migrate.Observer.
func (w *Writer) RecordsMigrated(r migrate.Report) {
	rec := MigrationRecord{
		Tick:         r.Tick,
		RecordKey:    r.Key,
		OldSignature: r.OldSignature,
		NewSignature: r.NewSignature,
		OldType:      r.OldType,
		NewType:      r.NewType,
		Migrated:     r.Migrated,
		Defaulted:    r.Defaulted,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	w.enqueue(entry{migration: &rec})
}

// enqueue appends e. Returns false after Close.
func (w *Writer) enqueue(e entry) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		slog.Warn("ledger closed; record dropped")
		return false
	}
	w.pending = append(w.pending, e)

	// Non-blocking: a buffer of 1 coalesces signals.
	select {
	case w.signal <- struct{}{}:
	default:
	}
	return true
}

// Run writes enqueued records until ctx is cancelled or Close is called,
// flushing what is pending before it returns.
//
// Returns nil after Close and ctx.Err() on cancellation.
func (w *Writer) Run(ctx context.Context) error {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	defer close(w.done)

	flushCtx := context.WithoutCancel(ctx)
	for {
		w.Flush(flushCtx)

		w.mu.Lock()
		finished := w.closed && len(w.pending) == 0
		w.mu.Unlock()
		if finished {
			return nil
		}

		select {
		case <-ctx.Done():
			w.Flush(flushCtx)
			return ctx.Err()
		case <-w.signal:
		}
	}
}

// Flush writes every pending record now. Write errors are logged and the
// record is dropped. Returns the number of records written.
func (w *Writer) Flush(ctx context.Context) int {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	batch := w.pending
	w.pending = make([]entry, 0, 16)
	w.mu.Unlock()

	written := 0
	for _, e := range batch {
		var err error
		switch {
		case e.patch != nil:
			err = w.store.WritePatch(ctx, *e.patch)
		case e.migration != nil:
			err = w.store.WriteMigration(ctx, *e.migration)
		}
		if err != nil {
			slog.Error("ledger write failed", "error", err)
			continue
		}
		written++
	}
	return written
}

// Close stops accepting records, waits for a running Run loop to finish and
// flushes anything left. Idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	running := w.running
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
	if running {
		<-w.done
	}
	w.Flush(context.Background())
	return nil
}

var (
	_ patch.Observer   = (*Writer)(nil)
	_ migrate.Observer = (*Writer)(nil)
)
