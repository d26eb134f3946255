package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/replyplace/internal/canvas"
	"github.com/roach88/replyplace/internal/config"
	"github.com/roach88/replyplace/internal/parser"
)

// ParseOptions holds flags for the parse command.
type ParseOptions struct {
	*RootOptions
	Actor string
}

// ParseResult is the JSON payload of a successful parse.
type ParseResult struct {
	Actor  string `json:"actor"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Colour string `json:"colour"`
}

// gridFlags binds --width and --height onto the canvas size.
var gridFlags = []flagBinding{
	{config.KeyCanvasWidth, "width"},
	{config.KeyCanvasHeight, "height"},
}

func addGridFlags(cmd *cobra.Command) {
	cmd.Flags().Int("width", canvas.DefaultWidth, "grid width (overrides canvas.width)")
	cmd.Flags().Int("height", canvas.DefaultHeight, "grid height (overrides canvas.height)")
}

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ParseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "parse <text>",
		Short: "Parse reply text into a pixel placement",
		Long: `Run the reply parser against a piece of text using the configured grid.

Exit codes:
  0 - The text contains a valid placement
  1 - No placement (malformed or out of bounds)
  2 - Command error

Examples:
  replyplace parse "pixel 10,20 #ff00aa"
  replyplace parse "nice canvas! pixel 3 , 4 #00FF00" --actor did:plc:alice --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "did:plc:example", "actor DID attributed to the placement")
	addGridFlags(cmd)

	return cmd
}

func runParse(opts *ParseOptions, text string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	cfg, err := opts.LoadConfig(cmd, gridFlags...)
	if err != nil {
		return f.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
	}

	p := parser.New(cfg.Canvas.Width, cfg.Canvas.Height)
	f.VerboseLog("parsing against a %dx%d grid", p.Width(), p.Height())

	placement, ok := p.Parse(opts.Actor, text)
	if !ok {
		return f.Fail(ExitFailure, CodeNoMatch,
			fmt.Sprintf("no valid pixel command for a %dx%d grid", p.Width(), p.Height()), nil)
	}

	result := ParseResult{
		Actor:  placement.Actor,
		X:      placement.X,
		Y:      placement.Y,
		Colour: placement.Colour,
	}
	return f.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s places %s at (%d,%d)\n", result.Actor, result.Colour, result.X, result.Y)
	})
}
