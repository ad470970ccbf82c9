package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/hotpatch/internal/config"
	"github.com/roach88/hotpatch/internal/demo"
	"github.com/roach88/hotpatch/internal/devserver"
	"github.com/roach88/hotpatch/internal/ecs"
	"github.com/roach88/hotpatch/internal/hotfn"
	"github.com/roach88/hotpatch/internal/hotpatch"
	"github.com/roach88/hotpatch/internal/ledger"
	"github.com/roach88/hotpatch/internal/metrics"
	"github.com/roach88/hotpatch/internal/migrate"
	"github.com/roach88/hotpatch/internal/patch"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath  string
	Ticks       int
	Interval    time.Duration
	Source      string
	Ledger      string
	MetricsAddr string
	Strict      bool
	Players     []string
	PatchAt     uint64
}

// RunSummary is the result of a run.
type RunSummary struct {
	Ticks           uint64   `json:"ticks"`
	PatchesApplied  int      `json:"patches_applied"`
	PatchesRejected int      `json:"patches_rejected"`
	Migrations      int      `json:"migrations"`
	Journal         []string `json:"journal,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the demo game with hot patching enabled",
		Long: `Run the demo game's tick loop with indirection installed.

Patches are read from --source (stdin, file:<path>, unix:<path>,
tcp:<host:port>). Libraries named demo/v2 are served in-process; any other
library name is opened as a Go plugin.

Example:
  hotpatch run --ticks 300 --source unix:/tmp/devserver.sock
  hotpatch run --ticks 5 --interval 0 --patch-at 2 --format json
  hotpatch run --config hotpatch.yaml --ledger hotpatch.db --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.Flags().IntVar(&opts.Ticks, "ticks", 0, "stop after this many ticks (0 = until interrupted)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "pause between ticks")
	cmd.Flags().StringVar(&opts.Source, "source", "", "patch source (stdin|file:<path>|unix:<path>|tcp:<addr>|none)")
	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "SQLite ledger path")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "abort on patches that are not call-compatible")
	cmd.Flags().StringSliceVar(&opts.Players, "players", []string{"ada", "linus"}, "players to spawn")
	cmd.Flags().Uint64Var(&opts.PatchAt, "patch-at", 0, "apply the built-in demo/v2 patch after this tick")

	return cmd
}

// loadConfig reads the config file, if any, and applies the flags that were
// set explicitly.
func loadConfig(opts *RunOptions, cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return config.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("ticks") {
		cfg.MaxTicks = opts.Ticks
	}
	if flags.Changed("interval") {
		cfg.TickInterval = opts.Interval
	}
	if flags.Changed("source") {
		cfg.Source = opts.Source
	}
	if flags.Changed("ledger") {
		cfg.Ledger = opts.Ledger
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	if flags.Changed("strict") {
		cfg.Strict = opts.Strict
	}
	return cfg, cfg.Validate()
}

func runApp(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	setupLogging(cmd.ErrOrStderr(), level, opts.Verbose)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	summary := &summaryObserver{}
	hpOpts := []hotpatch.Option{
		hotpatch.WithLoader(hotfn.Loaders{demo.Loader(), hotfn.PluginLoader{}}),
		hotpatch.WithStrict(cfg.Strict),
		hotpatch.WithPID(os.Getpid()),
		hotpatch.WithObserver(summary),
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	if cfg.Ledger != "" {
		st, err := ledger.Open(cfg.Ledger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open ledger", err)
		}
		writer := ledger.NewWriter(st)
		wg.Add(1)
		go func() {
			defer wg.Done()
			writer.Run(ctx)
		}()
		hpOpts = append(hpOpts,
			hotpatch.WithObserver(writer),
			hotpatch.WithCloser(writer),
			hotpatch.WithCloser(st),
		)
		slog.Info("ledger ready", "path", cfg.Ledger)
	}

	var collector *metrics.Collector
	var reg *prometheus.Registry
	if cfg.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		collector = metrics.NewCollector(reg)
		hpOpts = append(hpOpts,
			hotpatch.WithObserver(collector),
			hotpatch.WithDrainHook(collector.PatchedEvent),
		)
	}

	hp := hotpatch.New(hpOpts...)
	app := ecs.NewApp()
	app.AddPlugins(hp, demo.Plugin{Players: opts.Players, Hot: hp})
	defer func() {
		if err := app.Close(); err != nil {
			slog.Error("error closing app", "error", err)
		}
	}()

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	printed := 0
	app.OnTick(func(info ecs.TickInfo) {
		if opts.PatchAt != 0 && info.Tick == opts.PatchAt {
			hp.Apply(demo.PatchV2())
		}
		if !f.JSON() {
			lines := demo.Lines(app.World())
			for _, line := range lines[printed:] {
				fmt.Fprintln(f.Writer, line)
			}
			printed = len(lines)
		}
	})

	if collector != nil {
		app.OnTick(collector.TickDone)
		app.OnTick(func(ecs.TickInfo) { collector.ObserveTable(hp.Table()) })
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	if cfg.HasSource() {
		var listenOpts []devserver.ListenOption
		if collector != nil {
			listenOpts = append(listenOpts, devserver.WithDropped(collector.MessageDropped))
		}
		// Opened here so the source is bound before the first tick.
		src, err := devserver.Open(ctx, cfg.Source)
		if err != nil {
			slog.Error("open patch source", "source", cfg.Source, "error", err)
		} else {
			slog.Info("listening for patches", "source", cfg.Source)
			listen := func() {
				defer src.Close()
				err := hp.Listen(ctx, src, listenOpts...)
				if err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("patch source closed", "source", cfg.Source, "error", err)
				}
			}
			if cfg.Source == "stdin" {
				// A pending read on standard input cannot be interrupted, so
				// the run does not wait for this listener. It drops whatever
				// it reads after cancellation.
				go listen()
			} else {
				wg.Add(1)
				go func() {
					defer wg.Done()
					listen()
				}()
			}
		}
	}

	runErr := app.Run(ctx, cfg.TickInterval, cfg.MaxTicks)
	cancel()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return WrapExitError(ExitCommandError, "app stopped", runErr)
	}

	out := summary.snapshot()
	out.Ticks = app.World().Tick()
	if f.JSON() {
		out.Journal = demo.Lines(app.World())
		return f.Success(out)
	}
	writeRunSummary(f.Writer, out)
	return nil
}

func writeRunSummary(w io.Writer, s RunSummary) {
	p := newPalette(w)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %d ticks, %s, %s, %d migrations\n",
		p.head("Ran"),
		s.Ticks,
		p.ok("%d patches applied", s.PatchesApplied),
		rejectedText(p, s.PatchesRejected),
		s.Migrations,
	)
}

func rejectedText(p palette, n int) string {
	if n == 0 {
		return p.dim("0 rejected")
	}
	return p.fail("%d rejected", n)
}

// summaryObserver counts outcomes for the run summary.
type summaryObserver struct {
	mu sync.Mutex
	s  RunSummary
}

func (o *summaryObserver) PatchHandled(out patch.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if out.Status == patch.StatusApplied {
		o.s.PatchesApplied++
	} else {
		o.s.PatchesRejected++
	}
}

func (o *summaryObserver) RecordsMigrated(migrate.Report) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.s.Migrations++
}

func (o *summaryObserver) snapshot() RunSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.s
}
