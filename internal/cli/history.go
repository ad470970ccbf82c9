package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hotpatch/internal/ledger"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Ledger string
	Limit  int
	Record string
}

// HistoryResult is the content of a ledger.
type HistoryResult struct {
	Patches    []ledger.PatchRecord     `json:"patches"`
	Migrations []ledger.MigrationRecord `json:"migrations"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show patches and migrations recorded in a ledger",
		Long: `Print the patches and record migrations a run wrote to its SQLite ledger.

Example:
  hotpatch history --ledger hotpatch.db
  hotpatch history --ledger hotpatch.db --record demo.player --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "SQLite ledger path (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show at most this many patches (0 = all)")
	cmd.Flags().StringVar(&opts.Record, "record", "", "only show migrations of this record key")
	cmd.MarkFlagRequired("ledger")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	st, err := ledger.Open(opts.Ledger)
	if err != nil {
		return reportFailure(f, "LEDGER_ERROR", "failed to open ledger", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	patches, err := st.ReadPatches(ctx, opts.Limit)
	if err != nil {
		return reportFailure(f, "LEDGER_ERROR", "failed to read patches", err)
	}
	migrations, err := st.ReadMigrations(ctx, opts.Record)
	if err != nil {
		return reportFailure(f, "LEDGER_ERROR", "failed to read migrations", err)
	}

	res := HistoryResult{Patches: patches, Migrations: migrations}
	if f.JSON() {
		return f.Success(res)
	}
	writeHistory(f.Writer, res)
	return nil
}

// reportFailure prints a JSON failure envelope when requested and returns
// the matching exit error.
func reportFailure(f *OutputFormatter, errCode, message string, err error) error {
	if f.JSON() {
		f.Failure(errCode, fmt.Sprintf("%s: %v", message, err), nil)
	}
	return WrapExitError(ExitCommandError, message, err)
}

func writeHistory(w io.Writer, res HistoryResult) {
	p := newPalette(w)

	fmt.Fprintf(w, "%s (%d)\n", p.head("Patches"), len(res.Patches))
	if len(res.Patches) == 0 {
		fmt.Fprintln(w, p.dim("  none"))
	}
	for _, r := range res.Patches {
		status := p.ok("%-8s", r.Status)
		if r.Status != "applied" {
			status = p.fail("%-8s", r.Status)
		}
		fmt.Fprintf(w, "  #%-3d %s %s %s\n", r.Seq, status, r.ID, p.dim("lib=%s", r.Lib))
		if len(r.Switched) > 0 {
			fmt.Fprintf(w, "       switched: %s\n", strings.Join(r.Switched, ", "))
		}
		if r.Error != "" {
			fmt.Fprintf(w, "       %s\n", p.warn("%s", r.Error))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s (%d)\n", p.head("Migrations"), len(res.Migrations))
	if len(res.Migrations) == 0 {
		fmt.Fprintln(w, p.dim("  none"))
	}
	for _, m := range res.Migrations {
		fmt.Fprintf(w, "  tick %-4d %s %s -> %s migrated=%d defaulted=%d\n",
			m.Tick, m.RecordKey, m.OldType, m.NewType, m.Migrated, m.Defaulted)
		if m.Error != "" {
			fmt.Fprintf(w, "            %s\n", p.warn("%s", m.Error))
		}
	}
}
