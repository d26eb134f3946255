// Package parser extracts pixel placement commands from free-text replies.
//
// The accepted form is "pixel <x>,<y> <#RRGGBB>" anywhere in the text, with
// optional whitespace around the numbers and the comma. Only the first
// occurrence is honored. Parsing never fails loudly: anything that does not
// produce a valid in-bounds placement is a no-match.
package parser

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/replyplace/internal/ir"
)

var commandPattern = regexp.MustCompile(`pixel\s*(\d+)\s*,\s*(\d+)\s*(#[0-9A-Fa-f]{6})`)

// Parser validates placements against a fixed grid size.
// A Parser is immutable and safe for concurrent use.
type Parser struct {
	width  int
	height int
}

// New creates a parser for a width x height grid.
func New(width, height int) *Parser {
	return &Parser{width: width, height: height}
}

// Width returns the grid width the parser validates against.
func (p *Parser) Width() int { return p.width }

// Height returns the grid height the parser validates against.
func (p *Parser) Height() int { return p.height }

// Parse returns the placement encoded in text, if any.
// The second return value is false for malformed text, unparseable numbers
// and out-of-range coordinates alike.
func (p *Parser) Parse(actor, text string) (ir.Placement, bool) {
	match := commandPattern.FindStringSubmatch(text)
	if match == nil {
		slog.Debug("no pixel command in reply", "actor", actor)
		return ir.Placement{}, false
	}

	x, err := strconv.Atoi(match[1])
	if err != nil {
		slog.Debug("rejected pixel command", "actor", actor, "reason", "bad x", "error", err)
		return ir.Placement{}, false
	}
	y, err := strconv.Atoi(match[2])
	if err != nil {
		slog.Debug("rejected pixel command", "actor", actor, "reason", "bad y", "error", err)
		return ir.Placement{}, false
	}

	if x < 0 || x >= p.width || y < 0 || y >= p.height {
		slog.Debug("rejected pixel command",
			"actor", actor,
			"reason", "out of bounds",
			"x", x,
			"y", y,
		)
		return ir.Placement{}, false
	}

	placement := ir.Placement{
		Actor:  actor,
		X:      x,
		Y:      y,
		Colour: strings.ToUpper(match[3]),
	}
	slog.Debug("parsed pixel command",
		"actor", actor,
		"x", placement.X,
		"y", placement.Y,
		"colour", placement.Colour,
	)
	return placement, true
}
