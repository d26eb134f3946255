// Package canvas replays a command log into the derived view: the grid,
// the recent history, and per-actor statistics.
//
// Reduce is a pure function. It is recomputed from the full log on every
// read; there is no incremental state to keep consistent.
package canvas

import (
	"slices"
	"time"

	"github.com/roach88/replyplace/internal/ir"
)

// Defaults used when Options fields are zero.
const (
	DefaultWidth        = 100
	DefaultHeight       = 100
	DefaultBackground   = "#FFFFFF"
	DefaultHistoryLimit = 100
)

// Options configures the reducer.
type Options struct {
	Width        int
	Height       int
	Background   string
	HistoryLimit int
}

// withDefaults fills zero fields.
func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Background == "" {
		o.Background = DefaultBackground
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	return o
}

// ActorStats summarizes one contributor.
type ActorStats struct {
	PixelsPlaced int
	LastPlaced   time.Time
	Colours      map[string]int
}

// View is the derived canvas state. It is never mutated after Reduce
// returns it.
type View struct {
	Width      int
	Height     int
	Grid       [][]string
	History    []ir.Command
	Stats      map[string]ActorStats
	LastUpdate *time.Time
}

// Reduce replays cmds into a View.
//
// Algorithm:
//  1. Stable sort by Timestamp; ties keep arrival order
//  2. Fill the grid with the background colour
//  3. Replay: each command overwrites its cell (last write wins)
//  4. Accumulate per-actor stats in the same pass
//  5. History is the last HistoryLimit commands, oldest first
//
// cmds is not modified. Commands outside the grid are counted in stats
// but cannot paint a cell.
func Reduce(cmds []ir.Command, opts Options) View {
	opts = opts.withDefaults()

	sorted := make([]ir.Command, len(cmds))
	copy(sorted, cmds)
	slices.SortStableFunc(sorted, func(a, b ir.Command) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	grid := make([][]string, opts.Height)
	for y := range grid {
		row := make([]string, opts.Width)
		for x := range row {
			row[x] = opts.Background
		}
		grid[y] = row
	}

	stats := make(map[string]ActorStats)
	for _, c := range sorted {
		if c.X >= 0 && c.X < opts.Width && c.Y >= 0 && c.Y < opts.Height {
			grid[c.Y][c.X] = c.Colour
		}

		s, ok := stats[c.Actor]
		if !ok {
			s = ActorStats{Colours: make(map[string]int)}
		}
		s.PixelsPlaced++
		s.LastPlaced = c.Timestamp
		s.Colours[c.Colour]++
		stats[c.Actor] = s
	}

	history := sorted
	if len(history) > opts.HistoryLimit {
		history = history[len(history)-opts.HistoryLimit:]
	}
	history = slices.Clip(history)

	view := View{
		Width:   opts.Width,
		Height:  opts.Height,
		Grid:    grid,
		History: history,
		Stats:   stats,
	}
	if len(sorted) > 0 {
		last := sorted[len(sorted)-1].Timestamp
		view.LastUpdate = &last
	}
	return view
}

// Cell returns the colour at (x, y) and whether the coordinate is on the grid.
func (v View) Cell(x, y int) (string, bool) {
	if x < 0 || x >= v.Width || y < 0 || y >= v.Height {
		return "", false
	}
	return v.Grid[y][x], true
}

// RecentFirst returns up to n history entries, most recent first.
// n <= 0 returns the whole history.
func (v View) RecentFirst(n int) []ir.Command {
	out := slices.Clone(v.History)
	slices.Reverse(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
