package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/replyplace/internal/bsky"
	"github.com/roach88/replyplace/internal/ir"
	"github.com/roach88/replyplace/internal/store"
)

// Scenario defines one end-to-end ingestion run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Canvas overrides the grid. Zero fields use the defaults.
	Canvas CanvasSpec `yaml:"canvas,omitempty"`

	// Store selects the log backend: "memory" (default) or "sqlite".
	Store string `yaml:"store,omitempty"`

	// Root is the tracked post. Empty uses config.DefaultRootURI.
	Root string `yaml:"root,omitempty"`

	// Backfill is the thread served to the backfiller. Nil skips backfill.
	Backfill *BackfillSpec `yaml:"backfill,omitempty"`

	// Live events are delivered in order after the backfill.
	Live []LiveEvent `yaml:"live,omitempty"`

	// Assertions validate the final log and view.
	Assertions []Assertion `yaml:"assertions"`
}

// CanvasSpec mirrors canvas.Options.
type CanvasSpec struct {
	Width      int    `yaml:"width,omitempty"`
	Height     int    `yaml:"height,omitempty"`
	Background string `yaml:"background,omitempty"`
	History    int    `yaml:"history,omitempty"`
}

// Backfill failure modes.
const (
	FailNotFound    = "not_found"
	FailBlocked     = "blocked"
	FailNoReplies   = "no_replies"
	FailUnavailable = "unavailable"
)

// BackfillSpec describes the thread under the root post.
type BackfillSpec struct {
	// Fail makes the AppView answer with a failure instead of the thread.
	Fail string `yaml:"fail,omitempty"`

	// Replies are the direct replies to the root, in thread order.
	Replies []Reply `yaml:"replies,omitempty"`
}

// Hidden reply kinds.
const (
	HiddenNotFound = "not_found"
	HiddenBlocked  = "blocked"
)

// Reply is one node of the backfilled thread.
type Reply struct {
	Actor     string `yaml:"actor"`
	Text      string `yaml:"text"`
	CreatedAt string `yaml:"created_at"`

	// Hidden replaces the post with a #notFoundPost or #blockedPost placeholder.
	Hidden string `yaml:"hidden,omitempty"`

	Replies []Reply `yaml:"replies,omitempty"`
}

// LiveEvent is one firehose message.
type LiveEvent struct {
	Actor     string `yaml:"actor,omitempty"`
	Text      string `yaml:"text,omitempty"`
	CreatedAt string `yaml:"created_at,omitempty"`

	// Root overrides the reply root; TopLevel sends a post with no reply ref.
	Root     string `yaml:"root,omitempty"`
	TopLevel bool   `yaml:"top_level,omitempty"`

	// Operation and Collection default to create and app.bsky.feed.post.
	Operation  string `yaml:"operation,omitempty"`
	Collection string `yaml:"collection,omitempty"`

	// TimeUS defaults to the event's 1-based position.
	TimeUS int64 `yaml:"time_us,omitempty"`

	// Raw is sent verbatim instead of a generated commit.
	Raw string `yaml:"raw,omitempty"`
}

// Assertion validates the outcome of a run.
type Assertion struct {
	Type string `yaml:"type"`

	// Count is used by log_size, history_len, actor_stats and duplicates.
	Count int `yaml:"count,omitempty"`

	// X, Y and Colour are used by cell.
	X      int    `yaml:"x,omitempty"`
	Y      int    `yaml:"y,omitempty"`
	Colour string `yaml:"colour,omitempty"`

	// Actor and Colours are used by actor_stats.
	Actor   string         `yaml:"actor,omitempty"`
	Colours map[string]int `yaml:"colours,omitempty"`

	// Source is used by duplicates.
	Source string `yaml:"source,omitempty"`

	// Error is used by backfill_error.
	Error string `yaml:"error,omitempty"`
}

// Assertion type constants.
const (
	AssertLogSize       = "log_size"
	AssertCell          = "cell"
	AssertHistoryLen    = "history_len"
	AssertActorStats    = "actor_stats"
	AssertDuplicates    = "duplicates"
	AssertBackfillError = "backfill_error"
)

// Backfill error classes for backfill_error.
const (
	ErrorNone        = "none"
	ErrorNotFound    = "not_found"
	ErrorBlocked     = "blocked"
	ErrorShape       = "shape"
	ErrorUnavailable = "unavailable"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Backfill == nil && len(s.Live) == 0 {
		return fmt.Errorf("backfill or live is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Canvas.Width < 0 || s.Canvas.Height < 0 || s.Canvas.History < 0 {
		return fmt.Errorf("canvas sizes must not be negative")
	}
	if s.Canvas.Background != "" && !ir.ValidColour(s.Canvas.Background) {
		return fmt.Errorf("canvas.background must be #RRGGBB, got %q", s.Canvas.Background)
	}
	switch s.Store {
	case "", store.DriverMemory, store.DriverSQLite:
	default:
		return fmt.Errorf("unknown store %q", s.Store)
	}
	if s.Root != "" && !bsky.IsPostURI(s.Root) {
		return fmt.Errorf("root must be an at:// post URI, got %q", s.Root)
	}

	if s.Backfill != nil {
		switch s.Backfill.Fail {
		case "", FailNotFound, FailBlocked, FailNoReplies, FailUnavailable:
		default:
			return fmt.Errorf("backfill.fail: unknown mode %q", s.Backfill.Fail)
		}
		if err := validateReplies("backfill.replies", s.Backfill.Replies); err != nil {
			return err
		}
	}

	for i, ev := range s.Live {
		if ev.Raw != "" {
			continue
		}
		if ev.Actor == "" {
			return fmt.Errorf("live[%d]: actor is required", i)
		}
		if ev.Root != "" && ev.TopLevel {
			return fmt.Errorf("live[%d]: root and top_level are exclusive", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateReplies(path string, replies []Reply) error {
	for i, r := range replies {
		at := fmt.Sprintf("%s[%d]", path, i)
		switch r.Hidden {
		case "":
			if r.Actor == "" {
				return fmt.Errorf("%s: actor is required", at)
			}
		case HiddenNotFound, HiddenBlocked:
		default:
			return fmt.Errorf("%s: unknown hidden kind %q", at, r.Hidden)
		}
		if err := validateReplies(at+".replies", r.Replies); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertLogSize, AssertHistoryLen:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must not be negative", index)
		}
	case AssertCell:
		if !ir.ValidColour(a.Colour) {
			return fmt.Errorf("assertions[%d]: cell requires colour #RRGGBB, got %q", index, a.Colour)
		}
	case AssertActorStats:
		if a.Actor == "" {
			return fmt.Errorf("assertions[%d]: actor_stats requires actor", index)
		}
	case AssertDuplicates:
		if a.Source != string(ir.SourceBackfill) && a.Source != string(ir.SourceLive) {
			return fmt.Errorf("assertions[%d]: duplicates requires source backfill or live, got %q", index, a.Source)
		}
	case AssertBackfillError:
		switch a.Error {
		case ErrorNone, ErrorNotFound, ErrorBlocked, ErrorShape, ErrorUnavailable:
		default:
			return fmt.Errorf("assertions[%d]: unknown backfill error %q", index, a.Error)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
