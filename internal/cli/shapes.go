package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hotpatch/internal/demo"
	"github.com/roach88/hotpatch/internal/hotfn"
	"github.com/roach88/hotpatch/internal/migrate"
)

// ShapesOptions holds flags for the shapes command.
type ShapesOptions struct {
	*RootOptions
	Lib    string
	Symbol string
}

// ShapeInfo describes one build of a record.
type ShapeInfo struct {
	Symbol    string `json:"symbol"`
	Type      string `json:"type"`
	Signature string `json:"signature"`
	Layout    string `json:"layout"`
}

// ShapesResult compares the running build of the player record with a
// patched one.
type ShapesResult struct {
	Record  string    `json:"record"`
	Current ShapeInfo `json:"current"`
	Patched ShapeInfo `json:"patched"`
	Changed bool      `json:"changed"`
	Diff    string    `json:"diff,omitempty"`
}

// NewShapesCommand creates the shapes command.
func NewShapesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShapesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "shapes",
		Short: "Preview the migration a patch would trigger",
		Long: `Compare the compiled player record with the shape a patch library exports.

The shape function is looked up in --lib under --symbol. Libraries named
demo/v2 are served in-process; any other name is opened as a Go plugin.

Example:
  hotpatch shapes
  hotpatch shapes --lib ./build/patch.so --symbol demo.PlayerShape_hot3`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShapes(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Lib, "lib", demo.LibraryV2, "patch library")
	cmd.Flags().StringVar(&opts.Symbol, "symbol", string(demo.SymPlayerShapeV2), "shape function symbol")

	return cmd
}

func runShapes(opts *ShapesOptions, cmd *cobra.Command) error {
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	res, err := compareShapes(hotfn.Loaders{demo.Loader(), hotfn.PluginLoader{}}, opts.Lib, hotfn.Symbol(opts.Symbol))
	if err != nil {
		return reportFailure(f, "SHAPE_ERROR", "failed to compare shapes", err)
	}
	if f.JSON() {
		return f.Success(res)
	}
	writeShapes(f.Writer, res)
	return nil
}

func compareShapes(loader hotfn.Loader, lib string, sym hotfn.Symbol) (ShapesResult, error) {
	current, curLayout, err := shapeInfo(demo.SymPlayerShape, demo.PlayerShape)
	if err != nil {
		return ShapesResult{}, err
	}

	l, err := loader.Load(lib)
	if err != nil {
		return ShapesResult{}, err
	}
	body, err := l.Lookup(sym)
	if err != nil {
		return ShapesResult{}, err
	}
	var fn migrate.ShapeFunc
	switch b := body.(type) {
	case migrate.ShapeFunc:
		fn = b
	case func() migrate.Shape:
		fn = b
	default:
		return ShapesResult{}, fmt.Errorf("%s is a %T, not a shape function", sym, body)
	}
	patched, patLayout, err := shapeInfo(sym, fn)
	if err != nil {
		return ShapesResult{}, err
	}

	return ShapesResult{
		Record:  demo.PlayerKey,
		Current: current,
		Patched: patched,
		Changed: current.Signature != patched.Signature || current.Type != patched.Type,
		Diff:    migrate.Diff(curLayout, patLayout),
	}, nil
}

func shapeInfo(sym hotfn.Symbol, fn migrate.ShapeFunc) (ShapeInfo, *migrate.Layout, error) {
	shape := fn()
	layout, err := migrate.LayoutOf(shape.Type)
	if err != nil {
		return ShapeInfo{}, nil, fmt.Errorf("%s: %w", sym, err)
	}
	return ShapeInfo{
		Symbol:    string(sym),
		Type:      shape.Type.String(),
		Signature: layout.Signature(),
		Layout:    layout.String(),
	}, layout, nil
}

func writeShapes(w io.Writer, res ShapesResult) {
	p := newPalette(w)
	for _, s := range []struct {
		label string
		info  ShapeInfo
	}{{"current", res.Current}, {"patched", res.Patched}} {
		fmt.Fprintf(w, "%s %s (%s)\n", p.head("%s", s.label), s.info.Type, s.info.Symbol)
		fmt.Fprintf(w, "  %s\n", p.dim("signature %s", s.info.Signature))
	}
	fmt.Fprintln(w)
	if !res.Changed {
		fmt.Fprintln(w, p.ok("%s: no migration needed", res.Record))
		return
	}
	fmt.Fprintln(w, p.warn("%s: records will be migrated", res.Record))
	for _, line := range strings.Split(strings.TrimRight(res.Diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "-"):
			fmt.Fprintln(w, p.fail("  %s", line))
		case strings.HasPrefix(line, "+"):
			fmt.Fprintln(w, p.ok("  %s", line))
		default:
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}
