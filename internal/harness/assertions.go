package harness

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/roach88/replyplace/internal/bsky"
	"github.com/roach88/replyplace/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the log so a failure can be debugged from the message alone.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Log      []ir.Command // Final log for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nLog:\n")
	for i, c := range e.Log {
		fmt.Fprintf(&buf, "  [%d] %s (%d,%d) %s @ %s\n", i+1, c.Actor, c.X, c.Y, c.Colour, ir.FormatTime(c.Timestamp))
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(r *Result, a Assertion) error {
	switch a.Type {
	case AssertLogSize:
		return assertLogSize(r, a)
	case AssertCell:
		return assertCell(r, a)
	case AssertHistoryLen:
		return assertHistoryLen(r, a)
	case AssertActorStats:
		return assertActorStats(r, a)
	case AssertDuplicates:
		return assertDuplicates(r, a)
	case AssertBackfillError:
		return assertBackfillError(r, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func fail(r *Result, typ, expected, actual string) *AssertionError {
	return &AssertionError{Type: typ, Expected: expected, Actual: actual, Log: r.Log}
}

func assertLogSize(r *Result, a Assertion) error {
	if len(r.Log) != a.Count {
		return fail(r, a.Type, fmt.Sprintf("%d commands", a.Count), fmt.Sprintf("%d commands", len(r.Log)))
	}
	return nil
}

func assertCell(r *Result, a Assertion) error {
	got, ok := r.View.Cell(a.X, a.Y)
	if !ok {
		return fail(r, a.Type,
			fmt.Sprintf("cell (%d,%d) = %s", a.X, a.Y, a.Colour),
			fmt.Sprintf("(%d,%d) is outside the %dx%d grid", a.X, a.Y, r.View.Width, r.View.Height))
	}
	if got != a.Colour {
		return fail(r, a.Type, fmt.Sprintf("cell (%d,%d) = %s", a.X, a.Y, a.Colour), got)
	}
	return nil
}

func assertHistoryLen(r *Result, a Assertion) error {
	if len(r.View.History) != a.Count {
		return fail(r, a.Type, fmt.Sprintf("%d history entries", a.Count), fmt.Sprintf("%d history entries", len(r.View.History)))
	}
	return nil
}

func assertActorStats(r *Result, a Assertion) error {
	stats, ok := r.View.Stats[a.Actor]
	if !ok {
		if a.Count == 0 {
			return nil
		}
		return fail(r, a.Type, fmt.Sprintf("%s placed %d pixels", a.Actor, a.Count), "actor has no stats")
	}
	if stats.PixelsPlaced != a.Count {
		return fail(r, a.Type,
			fmt.Sprintf("%s placed %d pixels", a.Actor, a.Count),
			fmt.Sprintf("%d pixels", stats.PixelsPlaced))
	}
	if a.Colours != nil && !maps.Equal(stats.Colours, a.Colours) {
		return fail(r, a.Type,
			fmt.Sprintf("%s colours %v", a.Actor, a.Colours),
			fmt.Sprintf("%v", stats.Colours))
	}
	return nil
}

func assertDuplicates(r *Result, a Assertion) error {
	got := sourceStats(r, ir.Source(a.Source)).Duplicates
	if got != int64(a.Count) {
		return fail(r, a.Type,
			fmt.Sprintf("%d duplicates from %s", a.Count, a.Source),
			fmt.Sprintf("%d duplicates", got))
	}
	return nil
}

func assertBackfillError(r *Result, a Assertion) error {
	got := ClassifyBackfillError(r.BackfillErr)
	if got != a.Error {
		actual := got
		if r.BackfillErr != nil {
			actual = fmt.Sprintf("%s (%v)", got, r.BackfillErr)
		}
		return fail(r, a.Type, a.Error, actual)
	}
	return nil
}

// ClassifyBackfillError maps a backfill error onto a backfill_error class.
func ClassifyBackfillError(err error) string {
	var shape *bsky.ShapeError
	switch {
	case err == nil:
		return ErrorNone
	case errors.Is(err, bsky.ErrNotFound):
		return ErrorNotFound
	case errors.Is(err, bsky.ErrBlocked):
		return ErrorBlocked
	case errors.As(err, &shape):
		return ErrorShape
	default:
		return ErrorUnavailable
	}
}
