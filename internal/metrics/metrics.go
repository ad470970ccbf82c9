// Package metrics exposes hot-patch activity as Prometheus metrics.
//
// Counters:
//   - hotpatch_patches_applied_total: jump tables applied to the table
//   - hotpatch_patches_rejected_total: jump tables rejected (nothing switched)
//   - hotpatch_messages_dropped_total: malformed devserver frames
//   - hotpatch_patched_events_total: Patched events emitted (at most one per tick)
//   - hotpatch_records_migrated_total{record}: instances converted by field
//   - hotpatch_records_defaulted_total{record}: instances replaced by the default
//
// Histogram:
//   - hotpatch_tick_seconds: wall time of one tick
//
// Gauge:
//   - hotpatch_switched_identities: identities currently running a patched body
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/hotpatch/internal/ecs"
	"github.com/roach88/hotpatch/internal/hotfn"
	"github.com/roach88/hotpatch/internal/migrate"
	"github.com/roach88/hotpatch/internal/patch"
)

// Collector records hot-patch metrics.
//
// Thread-safety: safe for concurrent use (Prometheus metrics are atomic).
type Collector struct {
	patchesApplied   prometheus.Counter
	patchesRejected  prometheus.Counter
	messagesDropped  prometheus.Counter
	patchedEvents    prometheus.Counter
	recordsMigrated  *prometheus.CounterVec
	recordsDefaulted *prometheus.CounterVec
	tickSeconds      prometheus.Histogram
	switched         prometheus.Gauge
}

// NewCollector creates a collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		patchesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotpatch_patches_applied_total",
			Help: "Total number of jump tables applied",
		}),
		patchesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotpatch_patches_rejected_total",
			Help: "Total number of jump tables rejected",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotpatch_messages_dropped_total",
			Help: "Total number of malformed devserver messages dropped",
		}),
		patchedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotpatch_patched_events_total",
			Help: "Total number of Patched events emitted",
		}),
		recordsMigrated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotpatch_records_migrated_total",
			Help: "Total number of record instances migrated field by field",
		}, []string{"record"}),
		recordsDefaulted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotpatch_records_defaulted_total",
			Help: "Total number of record instances replaced with the new default",
		}, []string{"record"}),
		tickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hotpatch_tick_seconds",
			Help:    "Wall time of one tick in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .016, .025, .05, .1, .25},
		}),
		switched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotpatch_switched_identities",
			Help: "Number of hot identities currently running a patched body",
		}),
	}

	reg.MustRegister(
		c.patchesApplied,
		c.patchesRejected,
		c.messagesDropped,
		c.patchedEvents,
		c.recordsMigrated,
		c.recordsDefaulted,
		c.tickSeconds,
		c.switched,
	)
	return c
}

// PatchHandled implements patch.Observer.
func (c *Collector) PatchHandled(o patch.Outcome) {
	switch o.Status {
	case patch.StatusApplied:
		c.patchesApplied.Inc()
	case patch.StatusRejected:
		c.patchesRejected.Inc()
	}
}

// RecordsMigrated implements migrate.Observer.
func (c *Collector) RecordsMigrated(r migrate.Report) {
	c.recordsMigrated.WithLabelValues(r.Key).Add(float64(r.Migrated))
	c.recordsDefaulted.WithLabelValues(r.Key).Add(float64(r.Defaulted))
}

// MessageDropped counts a malformed devserver frame.
func (c *Collector) MessageDropped(error) {
	c.messagesDropped.Inc()
}

// PatchedEvent counts an emitted Patched event.
func (c *Collector) PatchedEvent(uint64) {
	c.patchedEvents.Inc()
}

// TickDone observes one tick.
func (c *Collector) TickDone(info ecs.TickInfo) {
	c.tickSeconds.Observe(info.Duration.Seconds())
}

// ObserveTable sets the switched-identities gauge from table.
func (c *Collector) ObserveTable(table *hotfn.Table) {
	n := 0
	for _, e := range table.Entries() {
		if e.Patched() {
			n++
		}
	}
	c.switched.Set(float64(n))
}

// Serve exposes g on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	slog.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

var (
	_ patch.Observer   = (*Collector)(nil)
	_ migrate.Observer = (*Collector)(nil)
)
