package ir

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// TimestampLayout is the wire form of Command.Timestamp.
// It matches ISO-8601 with millisecond precision in UTC, which sorts
// lexically in chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var colourPattern = regexp.MustCompile(`^#[0-9A-F]{6}$`)

// Source identifies which ingestion path produced a command.
type Source string

const (
	// SourceBackfill marks commands seeded from the one-time thread fetch.
	SourceBackfill Source = "backfill"
	// SourceLive marks commands received from the firehose subscription.
	SourceLive Source = "live"
)

// Placement is a parsed pixel command that has not yet been paired with
// the creation time of the reply it came from.
type Placement struct {
	Actor  string
	X      int
	Y      int
	Colour string
}

// At pairs the placement with the reply's declared creation time.
func (p Placement) At(t time.Time) Command {
	return Command{
		Actor:     p.Actor,
		X:         p.X,
		Y:         p.Y,
		Colour:    p.Colour,
		Timestamp: NormalizeTime(t),
	}
}

// Command is the atomic unit of canvas state change.
type Command struct {
	Actor     string
	X         int
	Y         int
	Colour    string
	Timestamp time.Time
}

// commandJSON is the stable wire shape of a Command.
type commandJSON struct {
	Actor     string `json:"actor"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Colour    string `json:"colour"`
	Timestamp string `json:"timestamp"`
}

// MarshalJSON encodes the command with a textual, sortable timestamp.
func (c Command) MarshalJSON() ([]byte, error) {
	return json.Marshal(commandJSON{
		Actor:     c.Actor,
		X:         c.X,
		Y:         c.Y,
		Colour:    c.Colour,
		Timestamp: FormatTime(c.Timestamp),
	})
}

// UnmarshalJSON decodes the wire shape produced by MarshalJSON.
// Any RFC 3339 timestamp is accepted and normalized.
func (c *Command) UnmarshalJSON(data []byte) error {
	var raw commandJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := ParseTime(raw.Timestamp)
	if err != nil {
		return fmt.Errorf("command timestamp: %w", err)
	}
	*c = Command{
		Actor:     raw.Actor,
		X:         raw.X,
		Y:         raw.Y,
		Colour:    raw.Colour,
		Timestamp: ts,
	}
	return nil
}

// Validate checks the command against a width x height grid.
func (c Command) Validate(width, height int) error {
	if c.Actor == "" {
		return fmt.Errorf("actor is required")
	}
	if c.X < 0 || c.X >= width || c.Y < 0 || c.Y >= height {
		return fmt.Errorf("coordinate (%d,%d) outside %dx%d grid", c.X, c.Y, width, height)
	}
	if !ValidColour(c.Colour) {
		return fmt.Errorf("invalid colour %q", c.Colour)
	}
	return nil
}

// ValidColour reports whether s is a normalized "#RRGGBB" colour.
func ValidColour(s string) bool {
	return colourPattern.MatchString(s)
}

// NormalizeTime converts t to UTC with millisecond precision.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// FormatTime renders t in TimestampLayout.
func FormatTime(t time.Time) string {
	return NormalizeTime(t).Format(TimestampLayout)
}

// ParseTime parses an author-declared createdAt value.
// Bluesky records carry RFC 3339 timestamps with optional fractional seconds.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return NormalizeTime(t), nil
}
