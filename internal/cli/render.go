package cli

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/replyplace/internal/canvas"
	"github.com/roach88/replyplace/internal/config"
	"github.com/roach88/replyplace/internal/ir"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions
	Recent int // history entries shown in text output
	Top    int // contributors shown in text output
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <file|url>",
		Short: "Reduce a command log into the canvas view",
		Long: `Load a command log as served at /data and print the reduced canvas.

The source is a local file, "-" for stdin, or an http(s) URL. Text output
summarizes the canvas; JSON output is the full view including the grid.

Exit codes:
  0 - Rendered
  2 - Command error (unreadable source, invalid log)

Examples:
  replyplace render log.json
  replyplace render http://localhost:8787/data --format json
  curl -s http://localhost:8787/data | replyplace render -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Recent, "recent", 10, "number of recent placements to list")
	cmd.Flags().IntVar(&opts.Top, "top", 10, "number of contributors to list")
	cmd.Flags().String("background", canvas.DefaultBackground, "background colour (overrides canvas.background)")
	addGridFlags(cmd)

	return cmd
}

func runRender(ctx context.Context, opts *RenderOptions, source string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	cfg, err := opts.LoadConfig(cmd, append(gridFlags, flagBinding{config.KeyCanvasBackground, "background"})...)
	if err != nil {
		return f.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
	}

	cmds, err := loadLog(ctx, source, cmd.InOrStdin())
	if err != nil {
		return f.Fail(ExitCommandError, CodeInput, fmt.Sprintf("failed to load log from %s", source), err)
	}
	f.VerboseLog("loaded %d commands from %s", len(cmds), source)

	view := canvas.Reduce(cmds, cfg.CanvasOptions())
	return f.Success(view, func(w io.Writer) {
		writeViewText(w, view, cfg.Canvas.Background, len(cmds), opts.Recent, opts.Top)
	})
}

// loadLog reads a JSON command array from a file, stdin or URL.
func loadLog(ctx context.Context, source string, stdin io.Reader) ([]ir.Command, error) {
	var r io.Reader
	switch {
	case source == "-":
		r = stdin
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		r = resp.Body
	default:
		file, err := os.Open(source)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		r = file
	}

	var cmds []ir.Command
	if err := json.NewDecoder(r).Decode(&cmds); err != nil {
		return nil, fmt.Errorf("decode command log: %w", err)
	}
	return cmds, nil
}

// writeViewText prints a human-readable canvas summary.
func writeViewText(w io.Writer, v canvas.View, background string, total, recent, top int) {
	fmt.Fprintf(w, "Canvas %dx%d, %d commands", v.Width, v.Height, total)
	if v.LastUpdate != nil {
		fmt.Fprintf(w, ", last update %s", ir.FormatTime(*v.LastUpdate))
	}
	fmt.Fprintln(w)

	// Painted cells per colour, background excluded.
	colours := make(map[string]int)
	for _, row := range v.Grid {
		for _, c := range row {
			if c != background {
				colours[c]++
			}
		}
	}
	if len(colours) > 0 {
		fmt.Fprintln(w, "\nColours:")
		for _, e := range sortedCounts(colours) {
			fmt.Fprintf(w, "  %s  %d cells\n", e.key, e.count)
		}
	}

	if len(v.Stats) > 0 {
		fmt.Fprintln(w, "\nContributors:")
		counts := make(map[string]int, len(v.Stats))
		for actor, s := range v.Stats {
			counts[actor] = s.PixelsPlaced
		}
		entries := sortedCounts(counts)
		if top > 0 && len(entries) > top {
			entries = entries[:top]
		}
		for _, e := range entries {
			fmt.Fprintf(w, "  %s  %d pixels\n", e.key, e.count)
		}
	}

	if history := v.RecentFirst(recent); len(history) > 0 {
		fmt.Fprintln(w, "\nRecent:")
		for _, c := range history {
			fmt.Fprintf(w, "  %s  %s (%d,%d) %s\n", ir.FormatTime(c.Timestamp), c.Actor, c.X, c.Y, c.Colour)
		}
	}
}

type countEntry struct {
	key   string
	count int
}

// sortedCounts orders by count descending, then key ascending.
func sortedCounts(m map[string]int) []countEntry {
	entries := make([]countEntry, 0, len(m))
	for k, n := range m {
		entries = append(entries, countEntry{k, n})
	}
	slices.SortFunc(entries, func(a, b countEntry) int {
		return cmp.Or(cmp.Compare(b.count, a.count), strings.Compare(a.key, b.key))
	})
	return entries
}
